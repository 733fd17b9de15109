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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/courier/internal/commands/listeners"
	"github.com/tombee/courier/internal/commands/process"
	"github.com/tombee/courier/internal/commands/serve"
	"github.com/tombee/courier/internal/commands/shared"
	"github.com/tombee/courier/internal/commands/validate"
	versioncmd "github.com/tombee/courier/internal/commands/version"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command with every subcommand
// registered.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "courier",
		Short: "Courier - event integration pipeline",
		Long: `Courier receives events from webhooks and Google Cloud Pub/Sub, maps
them into new payloads and delivers them to HTTP endpoints or email.

Run 'courier serve' to start the service.
Run 'courier process' to try an integration against a payload file.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	verbose, quiet, json, config := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Log at debug level")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Log warnings and errors only")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: built-in defaults and environment)")

	cmd.AddCommand(serve.NewCommand())
	cmd.AddCommand(process.NewCommand())
	cmd.AddCommand(validate.NewCommand())
	cmd.AddCommand(listeners.NewCommand())
	cmd.AddCommand(versioncmd.NewVersionCommand())

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
