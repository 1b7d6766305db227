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
	"fmt"
	"os"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/obskit/obskit/pkg/errors"
)

// envPrefix is the prefix for per-plugin environment overrides.
// A variable OBSKIT_PLUGIN_<NAME>_<KEY> overrides config key <key> (lowercased)
// in plugin <name>'s section.
const envPrefix = "OBSKIT_PLUGIN_"

// ConfigManager merges per-plugin file-based configuration with environment
// variable overrides and validates the result against the plugin's declared
// schema rules.
type ConfigManager struct {
	// fileConfig holds the per-plugin sections from the config file,
	// keyed by plugin name.
	fileConfig map[string]map[string]any

	// environ returns the process environment as KEY=VALUE pairs.
	// Overridable for tests.
	environ func() []string
}

// NewConfigManager creates a config manager over the given file sections.
func NewConfigManager(fileConfig map[string]map[string]any) *ConfigManager {
	return &ConfigManager{
		fileConfig: fileConfig,
		environ:    os.Environ,
	}
}

// Merged returns the effective configuration for the named plugin: the file
// section overlaid with environment variables. Environment values win.
func (m *ConfigManager) Merged(pluginName string) map[string]any {
	merged := make(map[string]any)
	for k, v := range m.fileConfig[pluginName] {
		merged[k] = v
	}

	prefix := envPrefix + strings.ToUpper(strings.ReplaceAll(pluginName, "-", "_")) + "_"
	for _, kv := range m.environ() {
		eq := strings.Index(kv, "=")
		if eq < 0 || !strings.HasPrefix(kv, prefix) {
			continue
		}
		key := strings.ToLower(kv[len(prefix):eq])
		if key == "" {
			continue
		}
		merged[key] = kv[eq+1:]
	}

	return merged
}

// Validate evaluates the plugin's declared schema rules against the merged
// config. Each rule is an expr boolean expression over the config map; the
// first failing rule produces a ValidationError.
func (m *ConfigManager) Validate(meta Metadata, merged map[string]any) error {
	for _, rule := range meta.ConfigSchema {
		program, err := expr.Compile(rule.Rule, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return &errors.ConfigError{
				Key:    fmt.Sprintf("plugins.%s.%s", meta.Name, rule.Key),
				Reason: fmt.Sprintf("invalid schema rule %q", rule.Rule),
				Cause:  err,
			}
		}

		out, err := expr.Run(program, merged)
		if err != nil {
			return &errors.ConfigError{
				Key:    fmt.Sprintf("plugins.%s.%s", meta.Name, rule.Key),
				Reason: fmt.Sprintf("schema rule %q failed to evaluate", rule.Rule),
				Cause:  err,
			}
		}

		if ok, _ := out.(bool); !ok {
			return &errors.ValidationError{
				Field:      fmt.Sprintf("plugins.%s.%s", meta.Name, rule.Key),
				Message:    rule.Message,
				Suggestion: fmt.Sprintf("set %s%s_%s or plugins.%s.%s in the config file", envPrefix, strings.ToUpper(meta.Name), strings.ToUpper(rule.Key), meta.Name, rule.Key),
			}
		}
	}

	return nil
}
