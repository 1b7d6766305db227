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

// Package server implements the MCP host: the live tool and resource tables
// plugins register into, served to assistants over stdio.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/obskit/obskit/internal/audit"
	"github.com/obskit/obskit/internal/plugin"
	"github.com/obskit/obskit/pkg/errors"
)

// Host wraps the MCP server with name-set tracking, per-call rate limiting,
// and audit recording. It is the plugin manager's view of the running server.
//
// The underlying MCP server does not expose its registered names, so the host
// mirrors them; every mutation goes through the host, keeping the mirror
// authoritative.
type Host struct {
	// mcp is the underlying MCP protocol server.
	mcp *server.MCPServer

	// tools mirrors the registered tool names.
	tools map[string]bool

	// resources mirrors the registered resource URIs.
	resources map[string]bool

	// limiter rate-limits tool calls.
	limiter *RateLimiter

	// audit records tool invocations (optional).
	audit *audit.Log

	// logger is used for structured logging.
	logger *slog.Logger

	// mu guards tools and resources.
	mu sync.RWMutex
}

// HostConfig configures the MCP host.
type HostConfig struct {
	// Name is the MCP server name advertised to clients. Default: "obskit".
	Name string

	// Version is the server version string. Default: "dev".
	Version string

	// CallsPerMinute rate-limits tool calls. Default: 100.
	CallsPerMinute int

	// Audit records tool invocations (optional).
	Audit *audit.Log

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// NewHost creates the MCP host.
func NewHost(cfg HostConfig) *Host {
	if cfg.Name == "" {
		cfg.Name = "obskit"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.CallsPerMinute == 0 {
		cfg.CallsPerMinute = 100
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mcpServer := server.NewMCPServer(cfg.Name, cfg.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
	)

	return &Host{
		mcp:       mcpServer,
		tools:     make(map[string]bool),
		resources: make(map[string]bool),
		limiter:   NewRateLimiter(cfg.CallsPerMinute),
		audit:     cfg.Audit,
		logger:    logger.With("component", "host"),
	}
}

// AddTool registers a tool with the MCP server. Duplicate names are an error.
func (h *Host) AddTool(spec plugin.ToolSpec) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if spec.Name == "" {
		return &errors.ValidationError{Field: "name", Message: "tool name must not be empty"}
	}
	if h.tools[spec.Name] {
		return fmt.Errorf("tool already registered: %s", spec.Name)
	}

	properties := spec.InputSchema
	if properties == nil {
		properties = map[string]any{}
	}

	h.mcp.AddTool(mcp.Tool{
		Name:        spec.Name,
		Description: spec.Description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: properties,
			Required:   spec.Required,
		},
	}, h.wrapTool(spec))

	h.tools[spec.Name] = true
	return nil
}

// RemoveTool unregisters a tool. Removing an absent name is an error.
func (h *Host) RemoveTool(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.tools[name] {
		return &errors.NotFoundError{Resource: "tool", ID: name}
	}

	h.mcp.DeleteTools(name)
	delete(h.tools, name)
	return nil
}

// HasTool reports whether name is currently registered.
func (h *Host) HasTool(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tools[name]
}

// ToolNames returns the registered tool names, sorted.
func (h *Host) ToolNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.tools)
}

// AddResource registers a read-only resource with the MCP server.
func (h *Host) AddResource(spec plugin.ResourceSpec) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if spec.URI == "" {
		return &errors.ValidationError{Field: "uri", Message: "resource URI must not be empty"}
	}
	if h.resources[spec.URI] {
		return fmt.Errorf("resource already registered: %s", spec.URI)
	}

	h.mcp.AddResource(mcp.Resource{
		URI:         spec.URI,
		Name:        spec.Name,
		Description: spec.Description,
		MIMEType:    spec.MIMEType,
	}, h.wrapResource(spec))

	h.resources[spec.URI] = true
	return nil
}

// RemoveResource unregisters a resource by URI.
func (h *Host) RemoveResource(uri string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.resources[uri] {
		return &errors.NotFoundError{Resource: "resource", ID: uri}
	}

	h.mcp.RemoveResource(uri)
	delete(h.resources, uri)
	return nil
}

// ResourceNames returns the registered resource URIs, sorted.
func (h *Host) ResourceNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.resources)
}

// Run serves the MCP protocol over stdio until the client disconnects.
func (h *Host) Run(ctx context.Context) error {
	h.logger.Info("serving MCP over stdio", "tools", len(h.ToolNames()))
	if err := server.ServeStdio(h.mcp); err != nil {
		return errors.Wrap(err, "mcp server")
	}
	return nil
}

// wrapTool adapts a plugin tool handler to the MCP handler contract, adding
// rate limiting and audit recording. Handler errors become tool error results
// rather than protocol errors so the assistant sees them.
func (h *Host) wrapTool(spec plugin.ToolSpec) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !h.limiter.AllowCall() {
			h.logger.Warn("tool call rate limited", "tool", spec.Name)
			return mcp.NewToolResultError("rate limit exceeded, retry in a few seconds"), nil
		}

		args := req.GetArguments()
		start := time.Now()
		text, err := spec.Handler(ctx, args)
		duration := time.Since(start)

		h.recordInvocation(ctx, spec.Name, args, err, duration)

		if err != nil {
			h.logger.Warn("tool call failed",
				"tool", spec.Name,
				"duration", duration,
				"error", err,
			)
			return mcp.NewToolResultError(err.Error()), nil
		}

		h.logger.Debug("tool call completed", "tool", spec.Name, "duration", duration)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(text)},
		}, nil
	}
}

// wrapResource adapts a plugin resource handler to the MCP contract.
func (h *Host) wrapResource(spec plugin.ResourceSpec) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		text, err := spec.Handler(ctx)
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      spec.URI,
				MIMEType: spec.MIMEType,
				Text:     text,
			},
		}, nil
	}
}

// recordInvocation appends to the audit log, if one is attached.
func (h *Host) recordInvocation(ctx context.Context, tool string, args map[string]any, callErr error, duration time.Duration) {
	if h.audit == nil {
		return
	}

	outcome := audit.OutcomeSuccess
	if callErr != nil {
		outcome = audit.OutcomeError
	}
	if err := h.audit.Record(ctx, tool, args, outcome, duration); err != nil {
		h.logger.Warn("failed to record audit entry", "tool", tool, "error", err)
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
