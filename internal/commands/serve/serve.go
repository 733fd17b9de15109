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

// Package serve implements the serve command.
package serve

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tombee/courier/internal/app"
	"github.com/tombee/courier/internal/commands/shared"
)

type options struct {
	addr         string
	integrations string
	store        string
}

// NewCommand creates the serve command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service and Pub/Sub listeners",
		Long: `Serve starts the webhook, Pub/Sub push and admin HTTP endpoints, starts
a listener for every active Pub/Sub integration, and watches the
integrations file when one is configured.

SIGINT or SIGTERM drains in-flight requests and stops every listener.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := shared.SignalContext(cmd.Context(), cmd.ErrOrStderr())
			defer cancel()
			return run(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&opts.integrations, "integrations", "", "Integrations file to load and watch (overrides integrations_file)")
	cmd.Flags().StringVar(&opts.store, "store", "", "Store type: memory, sqlite or postgres (overrides store.type)")

	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, opts options) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if opts.integrations != "" {
		cfg.IntegrationsFile = opts.integrations
	}
	if opts.store != "" {
		cfg.Store.Type = opts.store
	}

	logger := shared.NewLogger(cfg, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	version, _, _ := shared.GetVersion()
	a, err := app.New(ctx, cfg, app.Options{Version: version, Logger: logger})
	if err != nil {
		return err
	}

	logger.Info("starting courier",
		slog.String("version", version),
		slog.String("addr", cfg.Server.Addr),
		slog.String("store", cfg.Store.Type))
	return a.ListenAndServe(ctx)
}
