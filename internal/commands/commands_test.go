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

package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	root := NewRootCommand(BuildInfo{Version: "1.2.3", Commit: "abc123", BuildDate: "2025-08-25"})

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "obskit version 1.2.3")
	assert.Contains(t, out.String(), "abc123")
}

func TestRootHasExpectedSubcommands(t *testing.T) {
	root := NewRootCommand(BuildInfo{Version: "dev"})

	names := make(map[string]bool)
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}

	assert.True(t, names["serve"])
	assert.True(t, names["plugins"])
	assert.True(t, names["version"])
}

func TestBuildRuntimeFailsWithoutAPIKey(t *testing.T) {
	os.Unsetenv("OBSKIT_API_KEY")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o600))

	_, err := buildRuntime(path, BuildInfo{Version: "dev"})
	assert.Error(t, err)
}

func TestBuildRuntimeWiresManager(t *testing.T) {
	t.Setenv("OBSKIT_API_KEY", "NRAK-TEST")
	t.Setenv("OBSKIT_ACCOUNT_ID", "1234567")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plugins:\n  logs:\n    enabled: false\n"), 0o600))

	r, err := buildRuntime(path, BuildInfo{Version: "dev"})
	require.NoError(t, err)
	defer r.Close()

	report, err := r.manager.LoadAll()
	require.NoError(t, err)

	assert.Equal(t, 4, report.Loaded, "all built-ins except the disabled one")
	assert.Equal(t, 1, report.Skipped)
	assert.Contains(t, r.host.ToolNames(), "run_nrql_query")
	assert.NotContains(t, r.host.ToolNames(), "query_logs")
}
