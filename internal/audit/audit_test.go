// Copyright 2025 The Obskit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()

	l, err := Open(filepath.Join(t.TempDir(), "audit.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	return l
}

func TestRecordAndRecent(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "run_nrql_query",
		map[string]any{"query": "SELECT count(*) FROM Transaction"},
		OutcomeSuccess, 120*time.Millisecond))
	require.NoError(t, l.Record(ctx, "search_entities",
		map[string]any{"name": "checkout"},
		OutcomeError, 40*time.Millisecond))

	entries, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	tools := []string{entries[0].Tool, entries[1].Tool}
	assert.ElementsMatch(t, []string{"run_nrql_query", "search_entities"}, tools)

	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.CreatedAt.IsZero())
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record(ctx, "query_logs", nil, OutcomeSuccess, time.Millisecond))
	}

	entries, err := l.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRecordRedactsSensitiveParams(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "run_nrql_query", map[string]any{
		"query":   "SELECT 1",
		"api_key": "NRAK-SUPERSECRET",
		"Token":   "also-secret",
	}, OutcomeSuccess, time.Millisecond))

	entries, err := l.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.NotContains(t, entries[0].Params, "NRAK-SUPERSECRET")
	assert.NotContains(t, entries[0].Params, "also-secret")
	assert.Contains(t, entries[0].Params, "[REDACTED]")
	assert.Contains(t, entries[0].Params, "SELECT 1")
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("", nil)
	assert.Error(t, err)
}
