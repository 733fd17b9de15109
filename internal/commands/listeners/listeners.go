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

// Package listeners implements the listeners command group.
package listeners

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tombee/courier/internal/app"
	"github.com/tombee/courier/internal/commands/shared"
)

// NewCommand creates the listeners command group
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listeners",
		Short: "Manage Pub/Sub listeners",
	}
	cmd.AddCommand(newStartCommand())
	return cmd
}

func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start every active Pub/Sub listener and block",
		Long: `Start activates a listener for every active Pub/Sub integration in the
store without serving HTTP. Push subscriptions are created or updated to
point at server.public_base_url; pull integrations are polled until
SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := shared.SignalContext(cmd.Context(), cmd.ErrOrStderr())
			defer cancel()
			return run(ctx, cmd, app.Options{})
		},
	}
}

func run(ctx context.Context, cmd *cobra.Command, opts app.Options) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(cfg, cmd.ErrOrStderr())
	}
	opts.Version, _, _ = shared.GetVersion()

	a, err := app.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			opts.Logger.Error("shutdown failed", slog.Any("error", err))
		}
	}()

	if err := a.LoadCatalog(ctx); err != nil {
		return shared.NewInvalidConfigError("failed to load integrations file", err)
	}
	n := a.ActivateListeners(ctx)
	if !shared.GetQuiet() {
		cmd.Printf("%d listener(s) running\n", len(a.Puller.Running()))
	}
	opts.Logger.Debug("activation complete", slog.Int("activated", n))

	<-ctx.Done()
	return nil
}
