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

// Package commands implements the obskit CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/obskit/obskit/internal/config"
)

// BuildInfo carries version metadata injected at build time.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// NewRootCommand creates the obskit root command.
func NewRootCommand(info BuildInfo) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "obskit",
		Short:         "MCP server exposing New Relic query and entity APIs as AI tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       info.Version,
	}

	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(),
		"path to the obskit config file")

	root.AddCommand(
		newServeCommand(&configPath, info),
		newPluginsCommand(&configPath, info),
		newVersionCommand(info),
	)

	return root
}
