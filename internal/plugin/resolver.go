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
	"sort"

	"github.com/obskit/obskit/pkg/errors"
)

// DependencyResolver computes a safe load order over a set of plugin instances.
type DependencyResolver struct{}

// NewDependencyResolver creates a resolver.
func NewDependencyResolver() *DependencyResolver {
	return &DependencyResolver{}
}

// CheckMissing computes, for every instance, the subset of its declared
// dependencies not present among the given instances. The result maps plugin
// name to its missing dependency names; plugins with no missing dependencies
// do not appear. The manager uses this to mark affected plugins failed before
// resolution runs, so an absent dependency degrades one plugin instead of
// aborting the whole pass.
func CheckMissing(instances []*Instance) map[string][]string {
	present := make(map[string]bool, len(instances))
	for _, inst := range instances {
		present[inst.Meta.Name] = true
	}

	missing := make(map[string][]string)
	for _, inst := range instances {
		for _, dep := range inst.Meta.Dependencies {
			if !present[dep] {
				missing[inst.Meta.Name] = append(missing[inst.Meta.Name], dep)
			}
		}
	}

	return missing
}

// Resolve produces an ordering of the given instances such that every plugin
// appears after all plugins it depends on. Mutually independent plugins are
// ordered by ascending priority, then by name for determinism.
//
// Dependencies on plugins outside the given set are ignored; callers are
// expected to have excluded such plugins via CheckMissing first. If a cycle
// exists, Resolve returns a DependencyCycleError naming the participants and
// no partial ordering.
func (r *DependencyResolver) Resolve(instances []*Instance) ([]string, error) {
	byName := make(map[string]*Instance, len(instances))
	for _, inst := range instances {
		byName[inst.Meta.Name] = inst
	}

	// unresolved maps each plugin to the set of its in-set dependencies that
	// have not yet been placed in the order.
	unresolved := make(map[string]map[string]bool, len(instances))
	for _, inst := range instances {
		deps := make(map[string]bool)
		for _, dep := range inst.Meta.Dependencies {
			if _, ok := byName[dep]; ok {
				deps[dep] = true
			}
		}
		unresolved[inst.Meta.Name] = deps
	}

	order := make([]string, 0, len(instances))
	for len(unresolved) > 0 {
		// Extract the ready set: plugins with no unresolved dependencies.
		var ready []string
		for name, deps := range unresolved {
			if len(deps) == 0 {
				ready = append(ready, name)
			}
		}

		if len(ready) == 0 {
			// Every remaining plugin waits on another remaining plugin.
			cycle := make([]string, 0, len(unresolved))
			for name := range unresolved {
				cycle = append(cycle, name)
			}
			sort.Strings(cycle)
			return nil, &errors.DependencyCycleError{Plugins: cycle}
		}

		sort.Slice(ready, func(i, j int) bool {
			pi, pj := byName[ready[i]].Meta.Priority, byName[ready[j]].Meta.Priority
			if pi != pj {
				return pi < pj
			}
			return ready[i] < ready[j]
		})

		for _, name := range ready {
			order = append(order, name)
			delete(unresolved, name)
		}
		for _, deps := range unresolved {
			for _, name := range ready {
				delete(deps, name)
			}
		}
	}

	return order, nil
}
