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

// Package process implements the process command.
package process

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/courier/internal/app"
	"github.com/tombee/courier/internal/catalog"
	"github.com/tombee/courier/internal/commands/shared"
	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/internal/store/memory"
)

type options struct {
	integrations string
	payloadPath  string
	id           string
}

// NewCommand creates the process command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one payload through an integration",
		Long: `Process loads an integration from an integrations file, runs a single
payload through condition, mapping and dispatch, and prints the recorded
run. Runs are kept in memory and discarded on exit.

Use --payload - to read the payload from stdin.`,
		Example: `  courier process --integrations integrations.yaml --id orders --payload event.json
  echo '{"total": 12}' | courier process --integrations integrations.yaml --payload -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.integrations, "integrations", "f", "", "Integrations file (required)")
	cmd.Flags().StringVarP(&opts.payloadPath, "payload", "p", "", "JSON payload file, or - for stdin (required)")
	cmd.Flags().StringVar(&opts.id, "id", "", "Integration id (required when the file has more than one)")
	_ = cmd.MarkFlagRequired("integrations")
	_ = cmd.MarkFlagRequired("payload")

	return cmd
}

func run(cmd *cobra.Command, opts options) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}

	configs, err := catalog.LoadFile(opts.integrations)
	if err != nil {
		return shared.NewInvalidConfigError("failed to load integrations file", err)
	}
	target, err := selectIntegration(configs, opts.id)
	if err != nil {
		return shared.NewInvalidConfigError("no integration to process", err)
	}
	integration.AssignPaths(target)

	incoming, err := readPayload(cmd.InOrStdin(), opts.payloadPath)
	if err != nil {
		return shared.NewInvalidConfigError("failed to read payload", err)
	}

	runs := memory.New()
	logger := shared.NewLogger(cfg, cmd.ErrOrStderr())
	processor, err := app.NewProcessor(runs, cfg, logger, nil)
	if err != nil {
		return err
	}

	result, err := processor.Process(cmd.Context(), target, incoming)
	if err != nil && result == nil {
		return err
	}

	recorded, getErr := runs.GetRun(cmd.Context(), result.RunID)
	if getErr != nil {
		return fmt.Errorf("failed to read recorded run: %w", getErr)
	}
	if werr := printRun(cmd, recorded); werr != nil {
		return werr
	}

	if recorded.Status == integration.StatusError {
		reason := "unknown error"
		if recorded.ErrorMessage != nil {
			reason = *recorded.ErrorMessage
		}
		return shared.NewRunFailedError(fmt.Sprintf("run %s failed: %s", recorded.ID, reason))
	}
	return nil
}

func selectIntegration(configs []*integration.Configuration, id string) (*integration.Configuration, error) {
	if id == "" {
		if len(configs) != 1 {
			return nil, fmt.Errorf("file has %d integrations; choose one with --id", len(configs))
		}
		return configs[0], nil
	}
	for _, c := range configs {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("integration %q not found", id)
}

func readPayload(stdin io.Reader, path string) (payload.Value, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return payload.NewObject(), nil
	}
	return payload.Parse(data)
}

func printRun(cmd *cobra.Command, run *integration.Run) error {
	if shared.GetJSON() {
		data, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal run: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("Run %s: %s\n", run.ID, run.Status)
	if run.ErrorMessage != nil {
		cmd.Printf("  error:          %s\n", *run.ErrorMessage)
	}
	cmd.Printf("  transformation: %dms\n", run.TransformationTimeMs)
	cmd.Printf("  api call:       %dms\n", run.APICallTimeMs)
	for _, part := range []struct {
		label string
		value payload.Value
	}{
		{"transformed", run.TransformedPayload},
		{"request", run.OutgoingRequest},
		{"response", run.OutgoingResponse},
	} {
		if part.value == nil {
			continue
		}
		data, err := payload.MarshalIndent(part.value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", part.label, err)
		}
		cmd.Printf("\n%s:\n%s\n", part.label, data)
	}
	return nil
}
