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
	"strconv"

	"github.com/obskit/obskit/internal/cache"
	"github.com/obskit/obskit/internal/plugin"
)

const alertPoliciesGQL = `query($accountId: Int!) {
  actor {
    account(id: $accountId) {
      alerts {
        policiesSearch {
          policies {
            id
            name
            incidentPreference
          }
        }
      }
    }
  }
}`

// alertsPlugin contributes alert policy and incident tools.
func alertsPlugin(deps Deps) plugin.Registration {
	return plugin.Registration{
		Meta: plugin.Metadata{
			Name:             "alerts",
			Version:          "1.0.0",
			Description:      "Inspect alert policies and open incidents",
			Priority:         30,
			Dependencies:     []string{"nrql"},
			RequiredServices: []string{ServiceNerdGraphClient},
			Enabled:          deps.enabled("alerts"),
		},
		Register: func(host plugin.HostRegistry, services *plugin.Services) error {
			client, err := lookupQuerier(services)
			if err != nil {
				return err
			}

			policiesHandler := func(ctx context.Context, args map[string]any) (string, error) {
				account, err := accountID(args, client)
				if err != nil {
					return "", err
				}

				key := cache.Key("alert-policies", strconv.Itoa(account))
				return cachedQuery(ctx, deps, key, args, func() ([]byte, error) {
					return client.Query(ctx, alertPoliciesGQL, map[string]any{"accountId": account})
				})
			}

			incidentsHandler := func(ctx context.Context, args map[string]any) (string, error) {
				account, err := accountID(args, client)
				if err != nil {
					return "", err
				}

				since := optionalInt(args, "since_hours", 24)
				nrql := "SELECT incidentId, title, priority, openTime FROM NrAiIncident " +
					"WHERE event = 'open' SINCE " + strconv.Itoa(since) + " hours ago LIMIT 100"

				return nrqlCached(ctx, deps, client, account, nrql, args)
			}

			if err := host.AddTool(plugin.ToolSpec{
				Name:        "list_alert_policies",
				Description: "List alert policies configured in the account.",
				InputSchema: map[string]any{
					"account_id": accountIDProperty(),
					"filter":     filterProperty(),
				},
				Handler: policiesHandler,
			}); err != nil {
				return err
			}

			return host.AddTool(plugin.ToolSpec{
				Name:        "list_open_incidents",
				Description: "List incidents opened within the lookback window.",
				InputSchema: map[string]any{
					"since_hours": map[string]any{
						"type":        "integer",
						"description": "Lookback window in hours (default 24)",
					},
					"account_id": accountIDProperty(),
					"filter":     filterProperty(),
				},
				Handler: incidentsHandler,
			})
		},
	}
}
