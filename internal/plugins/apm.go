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
	"fmt"

	"github.com/obskit/obskit/internal/cache"
	"github.com/obskit/obskit/internal/plugin"
)

// apmPlugin contributes APM application tools. It depends on entities because
// its application listing is an entity search underneath, and its handlers
// reuse the same client service.
func apmPlugin(deps Deps) plugin.Registration {
	return plugin.Registration{
		Meta: plugin.Metadata{
			Name:             "apm",
			Version:          "1.0.0",
			Description:      "List APM applications and summarize their throughput and latency",
			Priority:         30,
			Dependencies:     []string{"entities"},
			RequiredServices: []string{ServiceNerdGraphClient},
			Enabled:          deps.enabled("apm"),
		},
		Register: func(host plugin.HostRegistry, services *plugin.Services) error {
			client, err := lookupQuerier(services)
			if err != nil {
				return err
			}

			listHandler := func(ctx context.Context, args map[string]any) (string, error) {
				searchQuery := "domain = 'APM' AND type = 'APPLICATION'"
				key := cache.Key("apm-applications", searchQuery)
				return cachedQuery(ctx, deps, key, args, func() ([]byte, error) {
					return client.Query(ctx, entitySearchGQL, map[string]any{"query": searchQuery})
				})
			}

			metricsHandler := func(ctx context.Context, args map[string]any) (string, error) {
				guid, err := requiredString(args, "guid")
				if err != nil {
					return "", err
				}
				account, err := accountID(args, client)
				if err != nil {
					return "", err
				}

				since := optionalInt(args, "since_minutes", 30)
				nrql := fmt.Sprintf(
					"SELECT average(duration) AS avg_duration, percentile(duration, 95) AS p95_duration, "+
						"rate(count(*), 1 minute) AS throughput, percentage(count(*), WHERE error IS true) AS error_rate "+
						"FROM Transaction WHERE entityGuid = '%s' SINCE %d minutes ago",
					guid, since)

				return nrqlCached(ctx, deps, client, account, nrql, args)
			}

			if err := host.AddTool(plugin.ToolSpec{
				Name:        "list_apm_applications",
				Description: "List APM application entities in the account.",
				InputSchema: map[string]any{
					"filter": filterProperty(),
				},
				Handler: listHandler,
			}); err != nil {
				return err
			}

			return host.AddTool(plugin.ToolSpec{
				Name:        "get_apm_metrics",
				Description: "Summarize latency, throughput, and error rate for one APM application.",
				InputSchema: map[string]any{
					"guid": map[string]any{
						"type":        "string",
						"description": "The APM application entity GUID",
					},
					"since_minutes": map[string]any{
						"type":        "integer",
						"description": "Lookback window in minutes (default 30)",
					},
					"account_id": accountIDProperty(),
					"filter":     filterProperty(),
				},
				Required: []string{"guid"},
				Handler:  metricsHandler,
			})
		},
	}
}
