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
	"sort"
	"strings"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid tool arguments, malformed config values, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "plugin", "tool", "service")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "api_key", "cache.addr")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "NerdGraph request")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// DependencyCycleError is returned by the plugin dependency resolver when no
// valid topological order exists. It carries the names of the plugins that
// participate in the cycle. No partial ordering is produced alongside it.
type DependencyCycleError struct {
	// Plugins is the set of plugin names among which the cycle exists
	Plugins []string
}

// Error implements the error interface.
func (e *DependencyCycleError) Error() string {
	names := make([]string, len(e.Plugins))
	copy(names, e.Plugins)
	sort.Strings(names)
	return fmt.Sprintf("dependency cycle among plugins: %s", strings.Join(names, ", "))
}

// MissingDependencyError records that a plugin declares dependencies that are
// not present among the discovered plugins. The plugin manager records this on
// the affected instance and skips it; it never aborts a load pass.
type MissingDependencyError struct {
	// Plugin is the name of the plugin with unmet dependencies
	Plugin string

	// Missing lists the dependency names absent from the discovered set
	Missing []string
}

// Error implements the error interface.
func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("plugin %s has missing dependencies: %s", e.Plugin, strings.Join(e.Missing, ", "))
}

// PluginLoadError records a failed load attempt for one plugin: either required
// services were unavailable or the plugin's registration function failed.
// Like MissingDependencyError it is recorded on the instance, not raised.
type PluginLoadError struct {
	// Plugin is the name of the plugin that failed to load
	Plugin string

	// Reason is a human-readable summary of the failure
	Reason string

	// Cause is the underlying error from the registration function (if any)
	Cause error
}

// Error implements the error interface.
func (e *PluginLoadError) Error() string {
	return fmt.Sprintf("plugin %s failed to load: %s", e.Plugin, e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PluginLoadError) Unwrap() error {
	return e.Cause
}

// TransientError represents a retryable request failure: a timeout, a
// connection failure, a 5xx response, or a 429 rate-limit response. Requests
// failing this way are retried with backoff; the error surfaces only once
// retries are exhausted.
type TransientError struct {
	// StatusCode is the HTTP status code, if the failure was a response (0 otherwise)
	StatusCode int

	// Message is a human-readable description of the failure
	Message string

	// RetryAfter is the server-requested wait before retrying, parsed from a
	// Retry-After header (0 when absent)
	RetryAfter time.Duration

	// Cause is the underlying network error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient request failure [HTTP %d]: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transient request failure: %s", e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TransientError) Unwrap() error {
	return e.Cause
}

// PermanentError represents a non-retryable request failure: a 4xx response
// other than 429, a malformed response body, or an error reported by the API
// itself. It propagates to the caller immediately without retries.
type PermanentError struct {
	// StatusCode is the HTTP status code, if the failure was a response (0 otherwise)
	StatusCode int

	// Message is a human-readable description of the failure
	Message string

	// Cause is the underlying error (e.g., a JSON decode error)
	Cause error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("request failed [HTTP %d]: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed: %s", e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PermanentError) Unwrap() error {
	return e.Cause
}
