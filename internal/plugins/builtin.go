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

// Package plugins holds the built-in plugin catalog: the explicit registration
// table the plugin manager discovers from, and the tool handlers each plugin
// contributes.
package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/obskit/obskit/internal/cache"
	"github.com/obskit/obskit/internal/plugin"
	"github.com/obskit/obskit/pkg/errors"
)

// ServiceNerdGraphClient is the service key under which the nrql plugin
// publishes the shared query client.
const ServiceNerdGraphClient = "nerdgraph.client"

// Querier is the query surface tools need from the NerdGraph client.
type Querier interface {
	Query(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error)
	AccountID() string
}

// Deps carries the host-owned services the built-in plugins close over.
type Deps struct {
	// Client is the shared NerdGraph client (required).
	Client Querier

	// Cache is the query result cache; a disabled cache is fine.
	Cache *cache.Cache

	// CacheTTL is how long query results stay cached. Default: 1m.
	CacheTTL time.Duration

	// Disabled names plugins excluded from load passes.
	Disabled map[string]bool

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

func (d *Deps) applyDefaults() {
	if d.CacheTTL == 0 {
		d.CacheTTL = time.Minute
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
}

// Builtin returns the discovery function for the built-in plugin table.
// Load order follows declared dependencies and priorities: nrql first (it
// provides the client service), then entities, then the leaf plugins.
func Builtin(deps Deps) plugin.DiscoverFunc {
	deps.applyDefaults()

	return func() []plugin.Registration {
		return []plugin.Registration{
			nrqlPlugin(deps),
			entitiesPlugin(deps),
			apmPlugin(deps),
			alertsPlugin(deps),
			logsPlugin(deps),
		}
	}
}

// enabled applies the Disabled set to a plugin name.
func (d Deps) enabled(name string) bool {
	return !d.Disabled[name]
}

// lookupQuerier fetches the shared client service a dependent plugin requires.
// The manager verifies presence before calling Register, so a wrong type here
// means a foreign plugin hijacked the key.
func lookupQuerier(services *plugin.Services) (Querier, error) {
	svc, ok := services.Lookup(ServiceNerdGraphClient)
	if !ok {
		return nil, &errors.NotFoundError{Resource: "service", ID: ServiceNerdGraphClient}
	}
	q, ok := svc.(Querier)
	if !ok {
		return nil, fmt.Errorf("service %s has unexpected type %T", ServiceNerdGraphClient, svc)
	}
	return q, nil
}

// requiredString extracts a required string argument.
func requiredString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", &errors.ValidationError{
			Field:      key,
			Message:    "required string argument is missing",
			Suggestion: fmt.Sprintf("pass a non-empty %q argument", key),
		}
	}
	return v, nil
}

// optionalString extracts an optional string argument; absent yields "".
func optionalString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// optionalInt extracts an optional integer argument, tolerating the float64
// and string forms JSON decoding produces.
func optionalInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// accountID resolves the account for a tool call: an explicit account_id
// argument wins over the client's configured default.
func accountID(args map[string]any, client Querier) (int, error) {
	raw := optionalString(args, "account_id")
	if raw == "" {
		raw = client.AccountID()
	}
	if raw == "" {
		return 0, &errors.ValidationError{
			Field:      "account_id",
			Message:    "no account id given and no default configured",
			Suggestion: "pass account_id or set newrelic.account_id in the config",
		}
	}

	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &errors.ValidationError{
			Field:   "account_id",
			Message: fmt.Sprintf("account id %q is not numeric", raw),
		}
	}
	return id, nil
}

// cachedQuery runs fetch through the read-through cache, then applies the
// optional gojq filter from args. The filter runs on the cached form so a hit
// and a miss produce identical output.
func cachedQuery(ctx context.Context, deps Deps, key string, args map[string]any, fetch func() ([]byte, error)) (string, error) {
	result, err := deps.Cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			deps.Logger.Warn("cache read failed, querying upstream", "error", err)
		}
		result, err = fetch()
		if err != nil {
			return "", err
		}
		if setErr := deps.Cache.Set(ctx, key, result, deps.CacheTTL); setErr != nil {
			deps.Logger.Warn("cache write failed", "error", setErr)
		}
	}

	if filter := optionalString(args, "filter"); filter != "" {
		result, err = applyFilter(filter, result)
		if err != nil {
			return "", err
		}
	}

	return string(result), nil
}

// filterProperty is the shared schema fragment for the filter argument.
func filterProperty() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Optional jq expression applied to the JSON result, e.g. '.[0].name'",
	}
}

// accountIDProperty is the shared schema fragment for the account_id argument.
func accountIDProperty() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "New Relic account id; defaults to the configured account",
	}
}
