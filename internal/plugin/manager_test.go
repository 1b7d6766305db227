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
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	obskiterrors "github.com/obskit/obskit/pkg/errors"
)

// fakeHost is an in-memory HostRegistry for manager tests.
type fakeHost struct {
	mu        sync.Mutex
	tools     map[string]ToolSpec
	resources map[string]ResourceSpec
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		tools:     make(map[string]ToolSpec),
		resources: make(map[string]ResourceSpec),
	}
}

func (h *fakeHost) AddTool(spec ToolSpec) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.tools[spec.Name]; exists {
		return fmt.Errorf("tool already registered: %s", spec.Name)
	}
	h.tools[spec.Name] = spec
	return nil
}

func (h *fakeHost) RemoveTool(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.tools[name]; !exists {
		return fmt.Errorf("tool not registered: %s", name)
	}
	delete(h.tools, name)
	return nil
}

func (h *fakeHost) ToolNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.tools))
	for name := range h.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *fakeHost) AddResource(spec ResourceSpec) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.resources[spec.URI]; exists {
		return fmt.Errorf("resource already registered: %s", spec.URI)
	}
	h.resources[spec.URI] = spec
	return nil
}

func (h *fakeHost) RemoveResource(uri string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.resources[uri]; !exists {
		return fmt.Errorf("resource not registered: %s", uri)
	}
	delete(h.resources, uri)
	return nil
}

func (h *fakeHost) ResourceNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.resources))
	for uri := range h.resources {
		names = append(names, uri)
	}
	sort.Strings(names)
	return names
}

// noopHandler satisfies ToolSpec.Handler in tests.
func noopHandler(ctx context.Context, args map[string]any) (string, error) {
	return "", nil
}

// registerTools returns a RegisterFunc that adds the named tools.
func registerTools(names ...string) RegisterFunc {
	return func(host HostRegistry, services *Services) error {
		for _, name := range names {
			if err := host.AddTool(ToolSpec{Name: name, Handler: noopHandler}); err != nil {
				return err
			}
		}
		return nil
	}
}

func newTestManager(t *testing.T, host *fakeHost, regs []Registration, shared map[string]any) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		Host:           host,
		Discover:       func() []Registration { return regs },
		SharedServices: shared,
	})
	require.NoError(t, err)
	return m
}

func enabledMeta(name string, priority int, deps ...string) Metadata {
	return Metadata{Name: name, Version: "1.0.0", Priority: priority, Dependencies: deps, Enabled: true}
}

func TestLoadAllOrdering(t *testing.T) {
	host := newFakeHost()
	var loadOrder []string
	track := func(name string, toolNames ...string) RegisterFunc {
		add := registerTools(toolNames...)
		return func(h HostRegistry, s *Services) error {
			loadOrder = append(loadOrder, name)
			return add(h, s)
		}
	}

	regs := []Registration{
		{Meta: enabledMeta("c", 30, "b", "a"), Register: track("c", "c.query")},
		{Meta: enabledMeta("a", 10), Register: track("a", "a.query")},
		{Meta: enabledMeta("b", 20, "a"), Register: track("b", "b.query")},
	}

	m := newTestManager(t, host, regs, nil)
	report, err := m.LoadAll()
	require.NoError(t, err)

	assert.Equal(t, 3, report.Loaded)
	assert.Zero(t, report.Failed)
	assert.Equal(t, []string{"a", "b", "c"}, loadOrder)
	assert.Equal(t, []string{"a.query", "b.query", "c.query"}, host.ToolNames())
}

func TestLoadAllCycleAborts(t *testing.T) {
	host := newFakeHost()
	regs := []Registration{
		{Meta: enabledMeta("a", 10, "b"), Register: registerTools("a.t")},
		{Meta: enabledMeta("b", 10, "a"), Register: registerTools("b.t")},
	}

	m := newTestManager(t, host, regs, nil)
	_, err := m.LoadAll()

	var cycleErr *obskiterrors.DependencyCycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.ElementsMatch(t, []string{"a", "b"}, cycleErr.Plugins)
	assert.Empty(t, host.ToolNames(), "no plugin from the cycle loads")
}

func TestLoadAllMissingDependencyIsolated(t *testing.T) {
	host := newFakeHost()
	regs := []Registration{
		{Meta: enabledMeta("good", 10), Register: registerTools("good.t")},
		{Meta: enabledMeta("broken", 10, "ghost"), Register: registerTools("broken.t")},
	}

	m := newTestManager(t, host, regs, nil)
	report, err := m.LoadAll()
	require.NoError(t, err)

	assert.Equal(t, 1, report.Loaded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"good.t"}, host.ToolNames())

	statuses := m.Statuses()
	byName := make(map[string]Status)
	for _, s := range statuses {
		byName[s.Name] = s
	}
	assert.Equal(t, StateFailed, byName["broken"].State)
	assert.Contains(t, byName["broken"].Error, "ghost")
	assert.Equal(t, StateLoaded, byName["good"].State)
}

func TestLoadAllMissingDependencyCascades(t *testing.T) {
	host := newFakeHost()
	// "mid" depends on an absent plugin, "top" depends on "mid": both must be
	// excluded so the resolver never sees an unsatisfiable set.
	regs := []Registration{
		{Meta: enabledMeta("mid", 10, "ghost"), Register: registerTools("mid.t")},
		{Meta: enabledMeta("top", 10, "mid"), Register: registerTools("top.t")},
		{Meta: enabledMeta("solo", 10), Register: registerTools("solo.t")},
	}

	m := newTestManager(t, host, regs, nil)
	report, err := m.LoadAll()
	require.NoError(t, err)

	assert.Equal(t, 1, report.Loaded)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, []string{"solo.t"}, host.ToolNames())
}

func TestLoadAllRegistrationFailureRollsBack(t *testing.T) {
	host := newFakeHost()
	regs := []Registration{
		{Meta: enabledMeta("partial", 10), Register: func(h HostRegistry, s *Services) error {
			if err := h.AddTool(ToolSpec{Name: "partial.one", Handler: noopHandler}); err != nil {
				return err
			}
			return fmt.Errorf("exploded after partial registration")
		}},
		{Meta: enabledMeta("ok", 20), Register: registerTools("ok.t")},
	}

	m := newTestManager(t, host, regs, nil)
	report, err := m.LoadAll()
	require.NoError(t, err)

	assert.Equal(t, 1, report.Loaded)
	assert.Equal(t, 1, report.Failed)
	// The partial registration must not leave orphaned entries.
	assert.Equal(t, []string{"ok.t"}, host.ToolNames())
}

func TestLoadAllRequiredServiceMissing(t *testing.T) {
	host := newFakeHost()
	meta := enabledMeta("needy", 10)
	meta.RequiredServices = []string{"nerdgraph.client"}
	regs := []Registration{{Meta: meta, Register: registerTools("needy.t")}}

	m := newTestManager(t, host, regs, nil)
	report, err := m.LoadAll()
	require.NoError(t, err)

	assert.Zero(t, report.Loaded)
	assert.Equal(t, 1, report.Failed)

	statuses := m.Statuses()
	require.Len(t, statuses, 1)
	assert.Contains(t, statuses[0].Error, "nerdgraph.client")
}

func TestLoadAllSharedServiceSatisfiesRequirement(t *testing.T) {
	host := newFakeHost()
	meta := enabledMeta("needy", 10)
	meta.RequiredServices = []string{"cache"}
	regs := []Registration{{Meta: meta, Register: registerTools("needy.t")}}

	m := newTestManager(t, host, regs, map[string]any{"cache": struct{}{}})
	report, err := m.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Loaded)
}

func TestLoadAllProvidedServiceVisibleToDependents(t *testing.T) {
	host := newFakeHost()
	providerMeta := enabledMeta("provider", 10)
	providerMeta.ProvidesServices = []string{"shared.thing"}

	consumerMeta := enabledMeta("consumer", 20, "provider")
	consumerMeta.RequiredServices = []string{"shared.thing"}

	var got any
	regs := []Registration{
		{Meta: providerMeta, Register: func(h HostRegistry, s *Services) error {
			s.Provide("shared.thing", "the-goods")
			return nil
		}},
		{Meta: consumerMeta, Register: func(h HostRegistry, s *Services) error {
			got, _ = s.Lookup("shared.thing")
			return h.AddTool(ToolSpec{Name: "consumer.t", Handler: noopHandler})
		}},
	}

	m := newTestManager(t, host, regs, nil)
	report, err := m.LoadAll()
	require.NoError(t, err)

	assert.Equal(t, 2, report.Loaded)
	assert.Equal(t, "the-goods", got)

	provider, ok := m.Registry().Provider("shared.thing")
	require.True(t, ok)
	assert.Equal(t, "provider", provider)
}

func TestLoadAllSkipsDisabled(t *testing.T) {
	host := newFakeHost()
	disabled := enabledMeta("off", 10)
	disabled.Enabled = false
	regs := []Registration{
		{Meta: disabled, Register: registerTools("off.t")},
		{Meta: enabledMeta("on", 10), Register: registerTools("on.t")},
	}

	m := newTestManager(t, host, regs, nil)
	report, err := m.LoadAll()
	require.NoError(t, err)

	assert.Equal(t, 1, report.Loaded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, []string{"on.t"}, host.ToolNames())
}

func TestUnloadRestoresHostTables(t *testing.T) {
	host := newFakeHost()
	require.NoError(t, host.AddTool(ToolSpec{Name: "preexisting", Handler: noopHandler}))

	meta := enabledMeta("p", 10)
	meta.ProvidesServices = []string{"p.svc"}
	regs := []Registration{
		{Meta: meta, Register: func(h HostRegistry, s *Services) error {
			s.Provide("p.svc", 1)
			if err := h.AddTool(ToolSpec{Name: "p.tool", Handler: noopHandler}); err != nil {
				return err
			}
			return h.AddResource(ResourceSpec{URI: "entity://{guid}", Handler: func(ctx context.Context) (string, error) { return "", nil }})
		}},
	}

	before := []string{"preexisting"}

	m := newTestManager(t, host, regs, nil)
	_, err := m.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"p.tool", "preexisting"}, host.ToolNames())

	require.NoError(t, m.Unload("p"))
	assert.Equal(t, before, host.ToolNames())
	assert.Empty(t, host.ResourceNames())

	_, ok := m.Registry().Lookup("p.svc")
	assert.False(t, ok)

	statuses := m.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, StateUnloaded, statuses[0].State)
	assert.Empty(t, statuses[0].Tools)
}

func TestUnloadIsIdempotent(t *testing.T) {
	host := newFakeHost()
	regs := []Registration{{Meta: enabledMeta("p", 10), Register: registerTools("p.t")}}

	m := newTestManager(t, host, regs, nil)
	_, err := m.LoadAll()
	require.NoError(t, err)

	require.NoError(t, m.Unload("p"))
	require.NoError(t, m.Unload("p"))
}

func TestUnloadUnknownPlugin(t *testing.T) {
	host := newFakeHost()
	m := newTestManager(t, host, nil, nil)

	err := m.Unload("ghost")
	var notFound *obskiterrors.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestReloadPicksUpNewRegistration(t *testing.T) {
	host := newFakeHost()

	regs := []Registration{{Meta: enabledMeta("p", 10), Register: registerTools("p.old")}}
	var mu sync.Mutex
	discover := func() []Registration {
		mu.Lock()
		defer mu.Unlock()
		return regs
	}

	m, err := NewManager(ManagerConfig{Host: host, Discover: discover})
	require.NoError(t, err)

	_, err = m.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"p.old"}, host.ToolNames())

	// Swap the registration table, as a code/config change would.
	mu.Lock()
	regs = []Registration{{Meta: enabledMeta("p", 10), Register: registerTools("p.new")}}
	mu.Unlock()

	require.NoError(t, m.Reload("p"))
	assert.Equal(t, []string{"p.new"}, host.ToolNames())
}

func TestReloadRetriesFailedPlugin(t *testing.T) {
	host := newFakeHost()

	shouldFail := true
	regs := []Registration{{Meta: enabledMeta("flaky", 10), Register: func(h HostRegistry, s *Services) error {
		if shouldFail {
			return fmt.Errorf("transient breakage")
		}
		return h.AddTool(ToolSpec{Name: "flaky.t", Handler: noopHandler})
	}}}

	m := newTestManager(t, host, regs, nil)
	report, err := m.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	shouldFail = false
	require.NoError(t, m.Reload("flaky"))
	assert.Equal(t, []string{"flaky.t"}, host.ToolNames())

	statuses := m.Statuses()
	assert.Equal(t, StateLoaded, statuses[0].State)
	assert.Empty(t, statuses[0].Error)
}

func TestReloadUnknownPlugin(t *testing.T) {
	host := newFakeHost()
	regs := []Registration{{Meta: enabledMeta("p", 10), Register: registerTools("p.t")}}

	m := newTestManager(t, host, regs, nil)
	_, err := m.LoadAll()
	require.NoError(t, err)

	err = m.Reload("ghost")
	var notFound *obskiterrors.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestDuplicatePluginNamesRejected(t *testing.T) {
	host := newFakeHost()
	regs := []Registration{
		{Meta: enabledMeta("dup", 10), Register: registerTools("a")},
		{Meta: enabledMeta("dup", 20), Register: registerTools("b")},
	}

	m := newTestManager(t, host, regs, nil)
	_, err := m.LoadAll()
	assert.Error(t, err)
}

func TestLoadAllInvalidConfigFailsPlugin(t *testing.T) {
	host := newFakeHost()
	meta := enabledMeta("strict", 10)
	meta.ConfigSchema = []ConfigRule{
		{Key: "account_id", Rule: `account_id != nil`, Message: "account_id is required"},
	}
	regs := []Registration{{Meta: meta, Register: registerTools("strict.t")}}

	m, err := NewManager(ManagerConfig{
		Host:     host,
		Discover: func() []Registration { return regs },
		Configs:  NewConfigManager(nil),
	})
	require.NoError(t, err)

	report, err := m.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, host.ToolNames())
}
