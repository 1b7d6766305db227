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

package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDependencyCycleError(t *testing.T) {
	err := &DependencyCycleError{Plugins: []string{"b", "a"}}
	// Participants are sorted so the message is stable regardless of detection order.
	assert.Equal(t, "dependency cycle among plugins: a, b", err.Error())
}

func TestMissingDependencyError(t *testing.T) {
	err := &MissingDependencyError{Plugin: "apm", Missing: []string{"entities", "nrql"}}
	assert.Contains(t, err.Error(), "apm")
	assert.Contains(t, err.Error(), "entities, nrql")
}

func TestPluginLoadErrorUnwrap(t *testing.T) {
	cause := New("boom")
	err := &PluginLoadError{Plugin: "logs", Reason: "registration failed", Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "plugin logs failed to load")
}

func TestTransientErrorMessage(t *testing.T) {
	withStatus := &TransientError{StatusCode: 503, Message: "service unavailable"}
	assert.Equal(t, "transient request failure [HTTP 503]: service unavailable", withStatus.Error())

	withoutStatus := &TransientError{Message: "connection reset"}
	assert.Equal(t, "transient request failure: connection reset", withoutStatus.Error())
}

func TestPermanentErrorMessage(t *testing.T) {
	err := &PermanentError{StatusCode: 400, Message: "bad request"}
	assert.Equal(t, "request failed [HTTP 400]: bad request", err.Error())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", &TransientError{Message: "timeout"}, true},
		{"wrapped transient", fmt.Errorf("query: %w", &TransientError{StatusCode: 500}), true},
		{"timeout", &TimeoutError{Operation: "request", Duration: time.Second}, true},
		{"permanent", &PermanentError{StatusCode: 400, Message: "bad"}, false},
		{"plain", New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestConfigErrorUnwrap(t *testing.T) {
	cause := New("read failed")
	err := &ConfigError{Key: "api_key", Reason: "unreadable", Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "config error at api_key: unreadable", err.Error())
}
