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
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/obskit/obskit/internal/metrics"
	"github.com/obskit/obskit/pkg/errors"
)

// Manager orchestrates the plugin lifecycle: discovery, dependency resolution,
// ordered load, tool/resource bookkeeping, and unload/reload.
//
// A single mutex serializes LoadAll, Unload, and Reload against each other;
// the host tool/resource tables and the service registry are mutated only
// under that lock.
type Manager struct {
	// host is the live tool/resource registry of the MCP server.
	host HostRegistry

	// registry tracks services provided by loaded plugins.
	registry *ServiceRegistry

	// shared holds host-owned services (client config, cache, audit) injected
	// at construction and visible to every plugin.
	shared map[string]any

	// discover produces the current registration table.
	discover DiscoverFunc

	// configs merges and validates per-plugin configuration.
	configs *ConfigManager

	// resolver computes load order.
	resolver *DependencyResolver

	// instances holds every discovered plugin by name.
	instances map[string]*Instance

	// logger is used for structured logging.
	logger *slog.Logger

	// metrics records load outcomes (optional).
	metrics *metrics.Metrics

	// mu serializes load/unload/reload passes.
	mu sync.Mutex
}

// ManagerConfig configures the plugin manager.
type ManagerConfig struct {
	// Host is the live tool/resource registry (required).
	Host HostRegistry

	// Discover produces the plugin registration table (required).
	Discover DiscoverFunc

	// Configs merges per-plugin configuration (optional; defaults to empty).
	Configs *ConfigManager

	// SharedServices are host-owned capabilities visible to all plugins.
	SharedServices map[string]any

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// Metrics records plugin load outcomes (optional).
	Metrics *metrics.Metrics
}

// NewManager creates a plugin manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Host == nil {
		return nil, errors.New("host registry is required")
	}
	if cfg.Discover == nil {
		return nil, errors.New("discover function is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	configs := cfg.Configs
	if configs == nil {
		configs = NewConfigManager(nil)
	}

	shared := cfg.SharedServices
	if shared == nil {
		shared = make(map[string]any)
	}

	return &Manager{
		host:      cfg.Host,
		registry:  NewServiceRegistry(logger),
		shared:    shared,
		discover:  cfg.Discover,
		configs:   configs,
		resolver:  NewDependencyResolver(),
		instances: make(map[string]*Instance),
		logger:    logger,
		metrics:   cfg.Metrics,
	}, nil
}

// Registry returns the service registry. Exposed for status listings.
func (m *Manager) Registry() *ServiceRegistry {
	return m.registry
}

// LoadReport summarizes one load pass.
type LoadReport struct {
	// Loaded is the number of plugins that reached StateLoaded.
	Loaded int

	// Failed is the number of plugins marked StateFailed during the pass.
	Failed int

	// Skipped is the number of disabled plugins excluded from the pass.
	Skipped int
}

// LoadAll performs a full load pass: discovery, config merge and validation,
// missing-dependency pre-check, dependency resolution, and ordered load.
//
// Failures are isolated per plugin: a plugin that cannot load is marked
// StateFailed and the pass continues. Only a true dependency cycle aborts
// resolution, in which case no plugin from the cycle loads and the cycle
// error is returned. Plugins loaded before a later failure stay loaded;
// nothing is rolled back across the batch.
func (m *Manager) LoadAll() (LoadReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report LoadReport

	// Discovery: build fresh instances, preserving nothing from prior passes.
	if err := m.discoverLocked(); err != nil {
		return report, err
	}

	// Filter to enabled plugins; merge and validate their config.
	var candidates []*Instance
	for _, inst := range m.sortedInstances() {
		if !inst.Meta.Enabled {
			report.Skipped++
			continue
		}

		merged := m.configs.Merged(inst.Meta.Name)
		if err := m.configs.Validate(inst.Meta, merged); err != nil {
			m.failLocked(inst, &errors.PluginLoadError{
				Plugin: inst.Meta.Name,
				Reason: "invalid configuration",
				Cause:  err,
			})
			report.Failed++
			continue
		}
		inst.Config = merged
		candidates = append(candidates, inst)
	}

	// Missing-dependency pre-check, cascaded: a dependency on a plugin that is
	// absent, disabled, or already failed counts as missing, so the set handed
	// to the resolver is closed under dependencies and any resolution failure
	// is a true cycle.
	for {
		missing := CheckMissing(candidates)
		if len(missing) == 0 {
			break
		}
		var remaining []*Instance
		for _, inst := range candidates {
			if deps, ok := missing[inst.Meta.Name]; ok {
				m.failLocked(inst, &errors.MissingDependencyError{
					Plugin:  inst.Meta.Name,
					Missing: deps,
				})
				report.Failed++
				continue
			}
			remaining = append(remaining, inst)
		}
		candidates = remaining
	}

	order, err := m.resolver.Resolve(candidates)
	if err != nil {
		m.logger.Error("plugin dependency resolution failed", "error", err)
		return report, err
	}

	for _, name := range order {
		inst := m.instances[name]
		if inst.State == StateFailed {
			report.Failed++
			continue
		}
		if err := m.loadLocked(inst); err != nil {
			report.Failed++
			continue
		}
		report.Loaded++
	}

	m.logger.Info("plugin load pass complete",
		"loaded", report.Loaded,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)

	return report, nil
}

// Unload removes everything the named plugin contributed: its tools and
// resources leave the host tables, services it still owns leave the registry,
// and the instance returns to StateUnloaded. Unloading a plugin that is not
// loaded is a no-op, so repeated calls are safe.
func (m *Manager) Unload(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked(name)
}

// Reload unloads the named plugin, re-runs discovery to pick up code or
// config changes, and re-attempts load for that one plugin. Dependencies are
// checked against the currently discovered set.
func (m *Manager) Reload(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.unloadLocked(name); err != nil {
		return err
	}

	// Re-discover just this plugin's registration.
	var reg *Registration
	for _, r := range m.discover() {
		if r.Meta.Name == name {
			r := r
			reg = &r
			break
		}
	}
	if reg == nil {
		delete(m.instances, name)
		return &errors.NotFoundError{Resource: "plugin", ID: name}
	}

	inst := &Instance{Meta: reg.Meta, Register: reg.Register, State: StateUnloaded}
	m.instances[name] = inst

	if !inst.Meta.Enabled {
		return nil
	}

	merged := m.configs.Merged(name)
	if err := m.configs.Validate(inst.Meta, merged); err != nil {
		m.failLocked(inst, err)
		return err
	}
	inst.Config = merged

	all := m.sortedInstances()
	if missing := CheckMissing(all)[name]; len(missing) > 0 {
		err := &errors.MissingDependencyError{Plugin: name, Missing: missing}
		m.failLocked(inst, err)
		return err
	}

	return m.loadLocked(inst)
}

// Statuses returns a snapshot of every discovered plugin, sorted by name.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]Status, 0, len(m.instances))
	for _, inst := range m.sortedInstances() {
		s := Status{
			Name:         inst.Meta.Name,
			Version:      inst.Meta.Version,
			Description:  inst.Meta.Description,
			State:        inst.State,
			Priority:     inst.Meta.Priority,
			Dependencies: inst.Meta.Dependencies,
			Tools:        append([]string(nil), inst.ProvidedTools...),
			Resources:    append([]string(nil), inst.ProvidedResources...),
		}
		if inst.Err != nil {
			s.Error = inst.Err.Error()
		}
		statuses = append(statuses, s)
	}
	return statuses
}

// discoverLocked rebuilds the instance table from the registration table.
// Loaded plugins are unloaded first so a fresh pass starts from a clean host.
func (m *Manager) discoverLocked() error {
	for name := range m.instances {
		if err := m.unloadLocked(name); err != nil {
			return err
		}
	}

	regs := m.discover()
	instances := make(map[string]*Instance, len(regs))
	for _, reg := range regs {
		if reg.Meta.Name == "" {
			return &errors.ValidationError{Field: "name", Message: "plugin name must not be empty"}
		}
		if _, dup := instances[reg.Meta.Name]; dup {
			return &errors.ValidationError{
				Field:   "name",
				Message: fmt.Sprintf("duplicate plugin name %q in registration table", reg.Meta.Name),
			}
		}
		instances[reg.Meta.Name] = &Instance{
			Meta:     reg.Meta,
			Register: reg.Register,
			State:    StateUnloaded,
		}
	}

	m.instances = instances
	return nil
}

// loadLocked attempts to load one plugin. On failure the instance is marked
// StateFailed with the reason recorded, any partial registrations are rolled
// back, and the error is returned for counting; the caller continues the pass.
func (m *Manager) loadLocked(inst *Instance) error {
	name := inst.Meta.Name
	inst.State = StateLoading

	services := &Services{registry: m.registry, shared: m.shared}

	if missing := services.missingFrom(inst.Meta.RequiredServices); len(missing) > 0 {
		err := &errors.PluginLoadError{
			Plugin: name,
			Reason: fmt.Sprintf("required services unavailable: %s", strings.Join(missing, ", ")),
		}
		m.failLocked(inst, err)
		return err
	}

	// Snapshot the host tables so a registration function that adds entries
	// and then fails leaves no orphans behind.
	beforeTools := toSet(m.host.ToolNames())
	beforeResources := toSet(m.host.ResourceNames())

	if err := inst.Register(m.host, services); err != nil {
		m.rollbackLocked(beforeTools, beforeResources)
		loadErr := &errors.PluginLoadError{
			Plugin: name,
			Reason: "registration function failed",
			Cause:  err,
		}
		m.failLocked(inst, loadErr)
		return loadErr
	}

	inst.ProvidedTools = diffNames(beforeTools, m.host.ToolNames())
	inst.ProvidedResources = diffNames(beforeResources, m.host.ResourceNames())

	for svcName, svc := range services.staged {
		m.registry.Register(svcName, name, svc)
	}
	for _, declared := range inst.Meta.ProvidesServices {
		if _, staged := services.staged[declared]; !staged {
			m.logger.Warn("plugin declared a service it did not provide",
				"plugin", name,
				"service", declared,
			)
		}
	}

	inst.State = StateLoaded
	inst.Err = nil
	m.metrics.PluginLoad(name, metrics.OutcomeLoaded)
	m.logger.Info("plugin loaded",
		"plugin", name,
		"tools", len(inst.ProvidedTools),
		"resources", len(inst.ProvidedResources),
		"services", len(services.staged),
	)

	return nil
}

// unloadLocked reverses a successful load. Not-loaded instances are left as
// they are.
func (m *Manager) unloadLocked(name string) error {
	inst, ok := m.instances[name]
	if !ok {
		return &errors.NotFoundError{Resource: "plugin", ID: name}
	}
	if inst.State != StateLoaded {
		return nil
	}

	for _, tool := range inst.ProvidedTools {
		if err := m.host.RemoveTool(tool); err != nil {
			m.logger.Warn("failed to remove tool during unload",
				"plugin", name,
				"tool", tool,
				"error", err,
			)
		}
	}
	for _, uri := range inst.ProvidedResources {
		if err := m.host.RemoveResource(uri); err != nil {
			m.logger.Warn("failed to remove resource during unload",
				"plugin", name,
				"resource", uri,
				"error", err,
			)
		}
	}

	removed := m.registry.UnregisterOwned(name)

	inst.ProvidedTools = nil
	inst.ProvidedResources = nil
	inst.State = StateUnloaded
	inst.Err = nil

	m.logger.Info("plugin unloaded", "plugin", name, "services_removed", len(removed))
	return nil
}

// failLocked marks an instance failed and records the outcome.
func (m *Manager) failLocked(inst *Instance, err error) {
	inst.State = StateFailed
	inst.Err = err
	m.metrics.PluginLoad(inst.Meta.Name, metrics.OutcomeFailed)
	m.logger.Error("plugin failed",
		"plugin", inst.Meta.Name,
		"error", err,
	)
}

// rollbackLocked removes any host entries added since the given snapshots.
func (m *Manager) rollbackLocked(beforeTools, beforeResources map[string]bool) {
	for _, tool := range diffNames(beforeTools, m.host.ToolNames()) {
		_ = m.host.RemoveTool(tool)
	}
	for _, uri := range diffNames(beforeResources, m.host.ResourceNames()) {
		_ = m.host.RemoveResource(uri)
	}
}

// sortedInstances returns all instances ordered by name for deterministic
// iteration.
func (m *Manager) sortedInstances() []*Instance {
	instances := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Meta.Name < instances[j].Meta.Name
	})
	return instances
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// diffNames returns the names in after that are absent from before, sorted.
func diffNames(before map[string]bool, after []string) []string {
	var added []string
	for _, name := range after {
		if !before[name] {
			added = append(added, name)
		}
	}
	sort.Strings(added)
	return added
}
