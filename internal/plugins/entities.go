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
	"strings"
	"sync"

	"github.com/obskit/obskit/internal/cache"
	"github.com/obskit/obskit/internal/plugin"
)

const entitySearchGQL = `query($query: String!) {
  actor {
    entitySearch(query: $query) {
      results {
        entities {
          guid
          name
          domain
          entityType
          accountId
          reporting
        }
      }
    }
  }
}`

const entityDetailsGQL = `query($guid: EntityGuid!) {
  actor {
    entity(guid: $guid) {
      guid
      name
      domain
      entityType
      accountId
      reporting
      tags {
        key
        values
      }
    }
  }
}`

// lastSearchURI is the resource exposing the most recent search result, so
// assistants can re-read it without re-spending a tool call.
const lastSearchURI = "entity://last-search"

// entitiesPlugin contributes entity search and detail tools on top of the
// client service the nrql plugin provides.
func entitiesPlugin(deps Deps) plugin.Registration {
	// Guarded by its own mutex: tool calls run concurrently with resource reads.
	var mu sync.Mutex
	lastSearch := "[]"

	return plugin.Registration{
		Meta: plugin.Metadata{
			Name:             "entities",
			Version:          "1.0.0",
			Description:      "Search and inspect entities across the account",
			Priority:         20,
			Dependencies:     []string{"nrql"},
			RequiredServices: []string{ServiceNerdGraphClient},
			Enabled:          deps.enabled("entities"),
		},
		Register: func(host plugin.HostRegistry, services *plugin.Services) error {
			client, err := lookupQuerier(services)
			if err != nil {
				return err
			}

			searchHandler := func(ctx context.Context, args map[string]any) (string, error) {
				name, err := requiredString(args, "name")
				if err != nil {
					return "", err
				}

				searchQuery := buildEntityQuery(name, optionalString(args, "domain"))
				key := cache.Key("entity-search", searchQuery)
				result, err := cachedQuery(ctx, deps, key, args, func() ([]byte, error) {
					return client.Query(ctx, entitySearchGQL, map[string]any{"query": searchQuery})
				})
				if err != nil {
					return "", err
				}

				mu.Lock()
				lastSearch = result
				mu.Unlock()
				return result, nil
			}

			detailsHandler := func(ctx context.Context, args map[string]any) (string, error) {
				guid, err := requiredString(args, "guid")
				if err != nil {
					return "", err
				}

				key := cache.Key("entity-details", guid)
				return cachedQuery(ctx, deps, key, args, func() ([]byte, error) {
					return client.Query(ctx, entityDetailsGQL, map[string]any{"guid": guid})
				})
			}

			if err := host.AddTool(plugin.ToolSpec{
				Name:        "search_entities",
				Description: "Search entities by name, optionally scoped to a domain (APM, BROWSER, INFRA, MOBILE, SYNTH).",
				InputSchema: map[string]any{
					"name": map[string]any{
						"type":        "string",
						"description": "Entity name or name fragment to search for",
					},
					"domain": map[string]any{
						"type":        "string",
						"description": "Restrict results to one entity domain",
					},
					"filter": filterProperty(),
				},
				Required: []string{"name"},
				Handler:  searchHandler,
			}); err != nil {
				return err
			}

			if err := host.AddTool(plugin.ToolSpec{
				Name:        "get_entity_details",
				Description: "Fetch one entity by GUID, including its tags.",
				InputSchema: map[string]any{
					"guid": map[string]any{
						"type":        "string",
						"description": "The entity GUID from search_entities",
					},
					"filter": filterProperty(),
				},
				Required: []string{"guid"},
				Handler:  detailsHandler,
			}); err != nil {
				return err
			}

			return host.AddResource(plugin.ResourceSpec{
				URI:         lastSearchURI,
				Name:        "Last entity search",
				Description: "Result of the most recent search_entities call",
				MIMEType:    "application/json",
				Handler: func(ctx context.Context) (string, error) {
					mu.Lock()
					defer mu.Unlock()
					return lastSearch, nil
				},
			})
		},
	}
}

// buildEntityQuery assembles the entitySearch query string. Single quotes in
// the name are doubled to keep the term inert inside the quoted literal.
func buildEntityQuery(name, domain string) string {
	escaped := strings.ReplaceAll(name, "'", "''")
	query := "name LIKE '%" + escaped + "%'"
	if domain != "" {
		query += " AND domain = '" + strings.ToUpper(domain) + "'"
	}
	return query
}
