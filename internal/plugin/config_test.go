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

package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	obskiterrors "github.com/obskit/obskit/pkg/errors"
)

func TestMergedFileOnly(t *testing.T) {
	m := NewConfigManager(map[string]map[string]any{
		"nrql": {"account_id": "12345", "timeout": 30},
	})
	m.environ = func() []string { return nil }

	merged := m.Merged("nrql")
	assert.Equal(t, "12345", merged["account_id"])
	assert.Equal(t, 30, merged["timeout"])
}

func TestMergedEnvOverridesFile(t *testing.T) {
	m := NewConfigManager(map[string]map[string]any{
		"nrql": {"account_id": "12345"},
	})
	m.environ = func() []string {
		return []string{
			"OBSKIT_PLUGIN_NRQL_ACCOUNT_ID=99999",
			"OBSKIT_PLUGIN_NRQL_REGION=eu",
			"OBSKIT_PLUGIN_OTHER_ACCOUNT_ID=1",
			"PATH=/usr/bin",
		}
	}

	merged := m.Merged("nrql")
	assert.Equal(t, "99999", merged["account_id"])
	assert.Equal(t, "eu", merged["region"])
	assert.NotContains(t, merged, "path")
}

func TestMergedUnknownPluginIsEmpty(t *testing.T) {
	m := NewConfigManager(nil)
	m.environ = func() []string { return nil }

	assert.Empty(t, m.Merged("ghost"))
}

func TestValidatePassingRules(t *testing.T) {
	m := NewConfigManager(nil)

	meta := Metadata{
		Name: "nrql",
		ConfigSchema: []ConfigRule{
			{Key: "account_id", Rule: `account_id != nil && account_id != ""`, Message: "account_id is required"},
		},
	}

	err := m.Validate(meta, map[string]any{"account_id": "12345"})
	assert.NoError(t, err)
}

func TestValidateFailingRule(t *testing.T) {
	m := NewConfigManager(nil)

	meta := Metadata{
		Name: "nrql",
		ConfigSchema: []ConfigRule{
			{Key: "account_id", Rule: `account_id != nil && account_id != ""`, Message: "account_id is required"},
		},
	}

	err := m.Validate(meta, map[string]any{})

	var valErr *obskiterrors.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "plugins.nrql.account_id", valErr.Field)
	assert.Equal(t, "account_id is required", valErr.Message)
}

func TestValidateBadRuleExpression(t *testing.T) {
	m := NewConfigManager(nil)

	meta := Metadata{
		Name: "nrql",
		ConfigSchema: []ConfigRule{
			{Key: "x", Rule: `this is not an expression ((`, Message: "nope"},
		},
	}

	err := m.Validate(meta, map[string]any{})

	var cfgErr *obskiterrors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
