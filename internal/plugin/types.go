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

// Package plugin implements the plugin lifecycle for obskit: discovery from an
// explicit registration table, dependency resolution, ordered load with
// per-plugin failure isolation, and precise unload/reload.
package plugin

import (
	"context"
)

// State represents the lifecycle state of a plugin instance.
type State string

const (
	// StateUnloaded indicates the plugin has been discovered but not loaded.
	StateUnloaded State = "unloaded"
	// StateLoading indicates a load attempt is in progress.
	StateLoading State = "loading"
	// StateLoaded indicates the plugin loaded successfully and its tools are live.
	StateLoaded State = "loaded"
	// StateFailed indicates the last load attempt failed. The state is terminal
	// until a reload re-discovers the plugin and retries.
	StateFailed State = "failed"
)

// ConfigRule is one declarative validation rule for a plugin's merged config.
// Rule is an expr-lang boolean expression evaluated against the config map.
type ConfigRule struct {
	// Key identifies the config key the rule concerns, used in error messages.
	Key string `yaml:"key"`

	// Rule is the boolean expression, e.g. `account_id != ""`.
	Rule string `yaml:"rule"`

	// Message is the human-readable explanation reported when the rule fails.
	Message string `yaml:"message"`
}

// Metadata describes the identity and contract of a plugin.
type Metadata struct {
	// Name is the unique key for this plugin across the discovered set.
	Name string

	// Version is the plugin version string.
	Version string

	// Description is a human-readable summary of what the plugin contributes.
	Description string

	// Priority orders mutually independent plugins: lower loads first.
	Priority int

	// Dependencies names plugins that must be loaded before this one.
	// Must not contain Name itself.
	Dependencies []string

	// RequiredServices names capabilities this plugin consumes. Load fails if
	// any are absent from the service registry and the shared services bag.
	RequiredServices []string

	// ProvidesServices names capabilities this plugin supplies on load.
	ProvidesServices []string

	// ConfigSchema holds declarative validation rules for the merged config.
	ConfigSchema []ConfigRule

	// Enabled gates whether the plugin participates in load passes.
	Enabled bool
}

// ToolHandler executes one MCP tool call with already-decoded arguments and
// returns the text content of the result.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

// ResourceHandler reads one MCP resource and returns its contents.
type ResourceHandler func(ctx context.Context) (string, error)

// ToolSpec describes an MCP tool a plugin contributes.
type ToolSpec struct {
	// Name is the tool's unique name in the host tool table.
	Name string

	// Description tells the assistant what the tool does.
	Description string

	// InputSchema is the JSON Schema properties map for the tool's arguments.
	InputSchema map[string]any

	// Required lists required argument names.
	Required []string

	// Handler executes the tool.
	Handler ToolHandler
}

// ResourceSpec describes a URI-addressed read-only resource a plugin contributes.
type ResourceSpec struct {
	// URI is the resource's unique address, e.g. "entity://{guid}".
	URI string

	// Name is a short human-readable name.
	Name string

	// Description tells the assistant what the resource contains.
	Description string

	// MIMEType is the content type of the resource body.
	MIMEType string

	// Handler reads the resource.
	Handler ResourceHandler
}

// HostRegistry is the contract the plugin manager needs from the host
// application's live tool and resource tables. The manager only relies on
// insertion, deletion, and before/after name-set visibility.
type HostRegistry interface {
	// AddTool inserts a tool under its name. Registering a duplicate name is an error.
	AddTool(spec ToolSpec) error

	// RemoveTool deletes a tool by name. Removing an absent name is an error.
	RemoveTool(name string) error

	// ToolNames returns the names currently in the tool table.
	ToolNames() []string

	// AddResource inserts a resource under its URI.
	AddResource(spec ResourceSpec) error

	// RemoveResource deletes a resource by URI.
	RemoveResource(uri string) error

	// ResourceNames returns the URIs currently in the resource table.
	ResourceNames() []string
}

// RegisterFunc is a plugin's registration function: invoked once per load
// attempt, it adds the plugin's tools and resources to the host and may
// provide services for dependent plugins via Services.Provide.
type RegisterFunc func(host HostRegistry, services *Services) error

// Registration pairs a plugin's metadata with its registration function.
// The explicit table of Registrations replaces runtime class discovery.
type Registration struct {
	// Meta is the plugin's declared metadata.
	Meta Metadata

	// Register is invoked during load.
	Register RegisterFunc
}

// DiscoverFunc produces the current set of plugin registrations.
// It is re-invoked on every load pass and on reload so config or code changes
// picked up by the table are honored.
type DiscoverFunc func() []Registration

// Instance is one discovered (and possibly loaded) plugin.
type Instance struct {
	// Meta is the plugin's metadata as of the last discovery.
	Meta Metadata

	// Register is the plugin's registration function.
	Register RegisterFunc

	// State is the current lifecycle state.
	State State

	// Config is the merged file + environment configuration for this plugin.
	Config map[string]any

	// ProvidedTools records the tool names this instance actually registered
	// during its last successful load, in registration order.
	ProvidedTools []string

	// ProvidedResources records the resource URIs registered during the last
	// successful load.
	ProvidedResources []string

	// Err is the last failure reason; set only when State is StateFailed.
	Err error
}

// Status is a point-in-time snapshot of one plugin for status listings.
type Status struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Description  string   `json:"description"`
	State        State    `json:"state"`
	Priority     int      `json:"priority"`
	Dependencies []string `json:"dependencies,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	Resources    []string `json:"resources,omitempty"`
	Error        string   `json:"error,omitempty"`
}
