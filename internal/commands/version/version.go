// Copyright 2025 Tom Barlow
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

// Package version reports the build and the capabilities compiled into
// the courier binary.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/courier/internal/commands/shared"
	"github.com/tombee/courier/internal/config"
	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/transform"
)

// Info describes the running build.
type Info struct {
	Version    string   `json:"version"`
	Commit     string   `json:"commit"`
	BuildDate  string   `json:"build_date"`
	GoVersion  string   `json:"go_version"`
	Platform   string   `json:"platform"`
	Sources    []string `json:"sources"`
	Targets    []string `json:"targets"`
	Providers  []string `json:"email_providers"`
	Stores     []string `json:"stores"`
	Transforms []string `json:"transforms"`
}

// Current returns the build information for this binary.
func Current() Info {
	v, c, b := shared.GetVersion()
	return Info{
		Version:   v,
		Commit:    c,
		BuildDate: b,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Sources: []string{
			string(integration.SourceWebhook),
			string(integration.SourcePubSub) + ":" + string(integration.ModePush),
			string(integration.SourcePubSub) + ":" + string(integration.ModePull),
		},
		Targets:    []string{string(integration.TargetHTTP), string(integration.TargetEmail)},
		Providers:  []string{string(integration.ProviderSMTP), string(integration.ProviderSendGrid)},
		Stores:     []string{config.StoreMemory, config.StoreSQLite, config.StorePostgres},
		Transforms: transform.Names(),
	}
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the courier build along with the sources, targets, stores
and mapping transforms it supports.`,
		Args: cobra.NoArgs,
		RunE: runVersion,
	}
}

func runVersion(cmd *cobra.Command, _ []string) error {
	info := Current()

	if shared.GetJSON() {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal version info: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("courier %s (%s, built %s)\n", info.Version, info.Commit, info.BuildDate)
	cmd.Printf("  runtime:    %s %s\n", info.GoVersion, info.Platform)
	cmd.Printf("  sources:    %s\n", strings.Join(info.Sources, ", "))
	cmd.Printf("  targets:    %s\n", strings.Join(info.Targets, ", "))
	cmd.Printf("  email:      %s\n", strings.Join(info.Providers, ", "))
	cmd.Printf("  stores:     %s\n", strings.Join(info.Stores, ", "))
	cmd.Printf("  transforms: %s\n", strings.Join(info.Transforms, ", "))
	return nil
}
