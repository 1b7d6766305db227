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

	"github.com/obskit/obskit/internal/plugin"
)

// logsPlugin contributes the log query tool: NRQL over the Log event type.
func logsPlugin(deps Deps) plugin.Registration {
	return plugin.Registration{
		Meta: plugin.Metadata{
			Name:             "logs",
			Version:          "1.0.0",
			Description:      "Query ingested logs",
			Priority:         30,
			Dependencies:     []string{"nrql"},
			RequiredServices: []string{ServiceNerdGraphClient},
			Enabled:          deps.enabled("logs"),
		},
		Register: func(host plugin.HostRegistry, services *plugin.Services) error {
			client, err := lookupQuerier(services)
			if err != nil {
				return err
			}

			handler := func(ctx context.Context, args map[string]any) (string, error) {
				account, err := accountID(args, client)
				if err != nil {
					return "", err
				}

				since := optionalInt(args, "since_minutes", 60)
				limit := optionalInt(args, "limit", 50)

				nrql := "SELECT timestamp, level, message FROM Log"
				if where := optionalString(args, "where"); where != "" {
					nrql += " WHERE " + where
				}
				nrql += fmt.Sprintf(" SINCE %d minutes ago LIMIT %d", since, limit)

				// Logs are not cached: the result set changes on every call.
				result, err := runNRQL(ctx, client, account, nrql)
				if err != nil {
					return "", err
				}

				if filter := optionalString(args, "filter"); filter != "" {
					result, err = applyFilter(filter, result)
					if err != nil {
						return "", err
					}
				}
				return string(result), nil
			}

			return host.AddTool(plugin.ToolSpec{
				Name:        "query_logs",
				Description: "Query ingested logs with an optional NRQL WHERE clause.",
				InputSchema: map[string]any{
					"where": map[string]any{
						"type":        "string",
						"description": "NRQL WHERE clause, e.g. \"level = 'error' AND service.name = 'checkout'\"",
					},
					"since_minutes": map[string]any{
						"type":        "integer",
						"description": "Lookback window in minutes (default 60)",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum rows to return (default 50)",
					},
					"account_id": accountIDProperty(),
					"filter":     filterProperty(),
				},
				Handler: handler,
			})
		},
	}
}
