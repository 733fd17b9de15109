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

// Package app assembles the courier service from its configuration.
package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tombee/courier/internal/catalog"
	"github.com/tombee/courier/internal/config"
	"github.com/tombee/courier/internal/dispatch"
	"github.com/tombee/courier/internal/log"
	"github.com/tombee/courier/internal/mapping"
	"github.com/tombee/courier/internal/pipeline"
	"github.com/tombee/courier/internal/pubsub"
	"github.com/tombee/courier/internal/puller"
	"github.com/tombee/courier/internal/recorder"
	"github.com/tombee/courier/internal/script"
	"github.com/tombee/courier/internal/server"
	"github.com/tombee/courier/internal/store"
	"github.com/tombee/courier/internal/store/memory"
	"github.com/tombee/courier/internal/store/postgres"
	"github.com/tombee/courier/internal/store/sqlite"
	"github.com/tombee/courier/internal/subscription"
	"github.com/tombee/courier/internal/tracing"
	"github.com/tombee/courier/pkg/errors"
	"github.com/tombee/courier/pkg/httpclient"
)

// Options carries build metadata and test overrides.
type Options struct {
	Version string

	// Store replaces the configured store.
	Store store.Store

	// Transport replaces the Google Pub/Sub transport.
	Transport pubsub.Transport

	Logger *slog.Logger
}

// App is a fully wired courier instance.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Store     store.Store
	Telemetry *tracing.Provider
	Transport pubsub.Transport
	Processor *pipeline.Processor
	Puller    *puller.Scheduler
	Listeners *subscription.Manager
	Server    *server.Server
	Catalog   *catalog.Watcher
}

// New builds every component. Nothing is started until Serve or
// ActivateListeners is called.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: log.WithComponent(logger, "app")}

	telemetry, err := tracing.New(ctx, tracing.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: opts.Version,
		SampleRate:     cfg.Observability.SampleRate,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.Telemetry = telemetry

	a.Store = opts.Store
	if a.Store == nil {
		if a.Store, err = OpenStore(cfg.Store); err != nil {
			telemetry.Shutdown(ctx)
			return nil, err
		}
	}

	a.Processor, err = NewProcessor(a.Store, cfg, logger, telemetry.Metrics())
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.Transport = opts.Transport
	if a.Transport == nil {
		a.Transport = pubsub.NewGoogleTransport(pubsub.GoogleConfig{
			PullTimeout:        cfg.PubSub.PullTimeout,
			AckDeadlineSeconds: int32(cfg.PubSub.AckDeadlineSeconds),
			Logger:             logger,
		})
	}

	a.Puller = puller.New(a.Transport, a.Processor, puller.Config{
		BatchSize:       cfg.PubSub.BatchSize,
		StopGracePeriod: cfg.PubSub.StopGracePeriod,
		Logger:          logger,
		Metrics:         telemetry.Metrics(),
	})
	a.Listeners = subscription.NewManager(a.Transport, a.Puller, a.Store, subscription.Config{
		PublicBaseURL: cfg.Server.PublicBaseURL,
		Logger:        logger,
	})

	var metricsHandler http.Handler
	if cfg.Observability.Metrics() {
		metricsHandler = telemetry.MetricsHandler()
	}
	a.Server = server.New(a.Store, a.Processor, a.Listeners, a.Transport, server.Config{
		PublicBaseURL:  cfg.Server.PublicBaseURL,
		MetricsHandler: metricsHandler,
		Version:        opts.Version,
		Logger:         logger,
	})

	if cfg.IntegrationsFile != "" {
		a.Catalog, err = catalog.NewWatcher(cfg.IntegrationsFile, catalog.NewSyncer(a.Store, a.Listeners, logger), logger)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	return a, nil
}

// OpenStore opens the configured store backend.
func OpenStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StorePostgres:
		st, err := postgres.New(postgres.Config{
			ConnectionString: cfg.ConnectionString,
			MaxOpenConns:     cfg.MaxOpenConns,
			MaxIdleConns:     cfg.MaxIdleConns,
			ConnMaxLifetime:  cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoreSQLite:
		st, err := sqlite.New(sqlite.Config{Path: cfg.Path, WAL: true})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, &errors.ConfigError{Key: "store.type", Reason: fmt.Sprintf("unknown store type %q", cfg.Type)}
	}
}

// NewProcessor builds the pipeline on runs with the configured sandbox,
// HTTP client and mailers.
func NewProcessor(runs store.RunStore, cfg *config.Config, logger *slog.Logger, metrics *tracing.Metrics) (*pipeline.Processor, error) {
	policy, err := script.ParseFailurePolicy(cfg.Script.FailurePolicy)
	if err != nil {
		return nil, err
	}
	sandbox := script.New(script.Config{Policy: policy, Timeout: cfg.Script.Timeout, Logger: logger})

	client, err := httpclient.New(httpclient.Config{
		Timeout:   cfg.Dispatch.Timeout,
		UserAgent: cfg.Dispatch.UserAgent,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	dispatcher := dispatch.New(
		dispatch.NewHTTPSender(client, logger),
		dispatch.NewEmailSender(&dispatch.SMTPMailer{Timeout: cfg.Dispatch.Timeout}, &dispatch.SendGridMailer{}, logger),
	)
	return pipeline.New(
		mapping.New(sandbox, logger),
		dispatcher,
		recorder.New(runs, logger),
		pipeline.WithConditions(sandbox),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
	), nil
}

// LoadCatalog applies the integrations file once, if one is configured.
func (a *App) LoadCatalog(ctx context.Context) error {
	if a.Catalog == nil {
		return nil
	}
	_, err := a.Catalog.Load(ctx)
	return err
}

// ActivateListeners starts every active Pub/Sub listener. Failures are
// logged per integration.
func (a *App) ActivateListeners(ctx context.Context) int {
	n, err := a.Listeners.ActivateAll(ctx)
	if err != nil {
		a.logger.Warn("some listeners failed to start", slog.Int("started", n), log.Error(err))
	} else {
		a.logger.Info("listeners started", slog.Int("started", n))
	}
	return n
}

// ListenAndServe listens on the configured address and calls Serve. The
// app is closed when it returns.
func (a *App) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		a.Close(ctx)
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve loads the integrations file, starts listeners and the file
// watcher, and serves HTTP on ln until ctx is done. It then drains the
// server and closes the app.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if err := a.LoadCatalog(ctx); err != nil {
		ln.Close()
		a.Close(ctx)
		return fmt.Errorf("failed to load integrations file: %w", err)
	}
	a.ActivateListeners(ctx)

	if a.Catalog != nil {
		go func() {
			if err := a.Catalog.Run(ctx); err != nil {
				a.logger.Error("integrations file watcher failed", log.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown failed", log.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		a.logger.Error("shutdown failed", log.Error(err))
	}

	if serveErr != nil && !stderrors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

// Close stops listeners and releases the store, transport and telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Puller != nil {
		errs = append(errs, a.Puller.Shutdown(ctx))
	}
	if closer, ok := a.Transport.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Telemetry != nil {
		errs = append(errs, a.Telemetry.Shutdown(ctx))
	}
	return stderrors.Join(errs...)
}
