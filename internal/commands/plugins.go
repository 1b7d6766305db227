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

package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/obskit/obskit/pkg/errors"
)

func newPluginsCommand(configPath *string, info BuildInfo) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect the plugin catalog",
	}
	cmd.AddCommand(newPluginsListCommand(configPath, info))
	return cmd
}

func newPluginsListCommand(configPath *string, info BuildInfo) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Run a load pass and show the state of every plugin",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := buildRuntime(*configPath, info)
			if err != nil {
				return err
			}
			defer r.Close()

			if _, err := r.manager.LoadAll(); err != nil {
				return errors.Wrap(err, "loading plugins")
			}

			statuses := r.manager.Statuses()
			if asJSON {
				data, err := json.MarshalIndent(statuses, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(data))
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTATE\tPRIORITY\tTOOLS\tERROR")
			for _, s := range statuses {
				errMsg := s.Error
				if len(errMsg) > 60 {
					errMsg = errMsg[:57] + "..."
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					s.Name, s.State, s.Priority, strings.Join(s.Tools, ","), errMsg)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
