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

package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/obskit/obskit/internal/cache"
	"github.com/obskit/obskit/internal/plugin"
	"github.com/obskit/obskit/pkg/errors"
)

const nrqlQueryGQL = `query($accountId: Int!, $nrql: Nrql!) {
  actor {
    account(id: $accountId) {
      nrql(query: $nrql) {
        results
      }
    }
  }
}`

// nrqlPlugin is the root of the built-in dependency graph: it publishes the
// shared NerdGraph client as a service and contributes the raw NRQL tool.
func nrqlPlugin(deps Deps) plugin.Registration {
	return plugin.Registration{
		Meta: plugin.Metadata{
			Name:             "nrql",
			Version:          "1.0.0",
			Description:      "Run NRQL queries against a New Relic account",
			Priority:         10,
			ProvidesServices: []string{ServiceNerdGraphClient},
			Enabled:          deps.enabled("nrql"),
		},
		Register: func(host plugin.HostRegistry, services *plugin.Services) error {
			services.Provide(ServiceNerdGraphClient, deps.Client)

			return host.AddTool(plugin.ToolSpec{
				Name:        "run_nrql_query",
				Description: "Execute a NRQL query and return the result rows as JSON.",
				InputSchema: map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The NRQL query, e.g. \"SELECT count(*) FROM Transaction SINCE 1 hour ago\"",
					},
					"account_id": accountIDProperty(),
					"filter":     filterProperty(),
				},
				Required: []string{"query"},
				Handler:  runNRQLHandler(deps, deps.Client),
			})
		},
	}
}

// runNRQL executes one NRQL query through the shared client and returns the
// result rows as JSON. Used by every built-in that speaks NRQL.
func runNRQL(ctx context.Context, client Querier, account int, nrql string) ([]byte, error) {
	data, err := client.Query(ctx, nrqlQueryGQL, map[string]any{
		"accountId": account,
		"nrql":      nrql,
	})
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Actor struct {
			Account struct {
				Nrql struct {
					Results []map[string]any `json:"results"`
				} `json:"nrql"`
			} `json:"account"`
		} `json:"actor"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errors.Wrap(err, "decoding nrql response")
	}

	results, err := json.Marshal(envelope.Actor.Account.Nrql.Results)
	if err != nil {
		return nil, errors.Wrap(err, "encoding nrql results")
	}
	return results, nil
}

// nrqlCached wraps runNRQL with the read-through cache and optional filter.
func nrqlCached(ctx context.Context, deps Deps, client Querier, account int, nrql string, args map[string]any) (string, error) {
	key := cache.Key(strconv.Itoa(account), nrql)
	return cachedQuery(ctx, deps, key, args, func() ([]byte, error) {
		return runNRQL(ctx, client, account, nrql)
	})
}

func runNRQLHandler(deps Deps, client Querier) plugin.ToolHandler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		nrql, err := requiredString(args, "query")
		if err != nil {
			return "", err
		}

		account, err := accountID(args, client)
		if err != nil {
			return "", err
		}

		deps.Logger.Debug("running nrql query", "account", account)
		result, err := nrqlCached(ctx, deps, client, account, nrql, args)
		if err != nil {
			return "", fmt.Errorf("nrql query: %w", err)
		}
		return result, nil
	}
}
