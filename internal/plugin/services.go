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
	"log/slog"
	"sort"
	"sync"
)

// serviceEntry records a capability and the plugin that registered it.
type serviceEntry struct {
	value    any
	provider string
}

// ServiceRegistry maps service names to the objects providing them and the
// plugin names that registered them. At most one provider exists per service
// name at any time; registering a duplicate overwrites the previous provider.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]serviceEntry
	logger   *slog.Logger
}

// NewServiceRegistry creates an empty service registry.
func NewServiceRegistry(logger *slog.Logger) *ServiceRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServiceRegistry{
		services: make(map[string]serviceEntry),
		logger:   logger,
	}
}

// Register records svc under name on behalf of the given provider plugin.
// Registering over an existing name replaces the previous provider; the
// replacement is logged rather than treated as an error.
func (r *ServiceRegistry) Register(name, provider string, svc any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.services[name]; exists {
		r.logger.Warn("service provider replaced",
			"service", name,
			"previous_provider", prev.provider,
			"new_provider", provider,
		)
	}

	r.services[name] = serviceEntry{value: svc, provider: provider}
}

// Lookup returns the service registered under name, if any.
func (r *ServiceRegistry) Lookup(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.services[name]
	if !ok {
		return nil, false
	}
	return entry.value, true
}

// Provider returns the name of the plugin currently providing the service.
func (r *ServiceRegistry) Provider(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.services[name]
	if !ok {
		return "", false
	}
	return entry.provider, true
}

// UnregisterOwned removes every service whose current provider is the given
// plugin. Services that another plugin has since re-registered are left alone.
func (r *ServiceRegistry) UnregisterOwned(provider string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for name, entry := range r.services {
		if entry.provider == provider {
			delete(r.services, name)
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return removed
}

// Names returns all registered service names, sorted.
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Services is the capability view handed to a plugin's registration function.
// Lookups consult plugin-provided services first, then the shared bag of
// host-owned services (cache, audit, metrics) injected at manager construction.
// Provide stages a new service; the manager commits staged services to the
// registry only after the registration function succeeds.
type Services struct {
	registry *ServiceRegistry
	shared   map[string]any
	staged   map[string]any
}

// Lookup returns the service registered under name. Plugin-provided services
// shadow shared host services of the same name.
func (s *Services) Lookup(name string) (any, bool) {
	if svc, ok := s.registry.Lookup(name); ok {
		return svc, true
	}
	svc, ok := s.shared[name]
	return svc, ok
}

// Provide stages svc under name for registration on successful load.
// Later calls with the same name overwrite earlier ones within the same load.
func (s *Services) Provide(name string, svc any) {
	if s.staged == nil {
		s.staged = make(map[string]any)
	}
	s.staged[name] = svc
}

// missingFrom returns the subset of required service names available neither
// in the registry nor in the shared bag.
func (s *Services) missingFrom(required []string) []string {
	var missing []string
	for _, name := range required {
		if _, ok := s.Lookup(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
