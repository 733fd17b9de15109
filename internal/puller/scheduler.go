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

// Package puller runs one background pull listener per Pub/Sub
// integration configured in pull mode.
package puller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/log"
	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/internal/pipeline"
	"github.com/tombee/courier/internal/pubsub"
	"github.com/tombee/courier/internal/tracing"
)

// Defaults for Config.
const (
	DefaultBatchSize       = 10
	DefaultStopGracePeriod = 5 * time.Second
)

// Processor runs one payload through an integration.
type Processor interface {
	Process(ctx context.Context, cfg *integration.Configuration, incoming payload.Value) (*pipeline.Result, error)
}

// Config configures a Scheduler.
type Config struct {
	// BatchSize is the maximum messages per pull. Default: 10.
	BatchSize int

	// StopGracePeriod bounds how long Stop waits for a listener to exit.
	// Default: 5s.
	StopGracePeriod time.Duration

	Logger  *slog.Logger
	Metrics *tracing.Metrics
}

// listener tracks a single running pull loop.
type listener struct {
	cfg    *integration.Configuration
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns the registry of pull listeners. All registry mutation
// happens under mu, including the wait for a stopping listener, so
// concurrent Start and Stop calls for one id are serialized.
type Scheduler struct {
	transport pubsub.Transport
	processor Processor
	cfg       Config
	logger    *slog.Logger

	mu        sync.Mutex
	listeners map[string]*listener
	stopped   bool
}

// New creates a Scheduler.
func New(transport pubsub.Transport, processor Processor, cfg Config) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.StopGracePeriod <= 0 {
		cfg.StopGracePeriod = DefaultStopGracePeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Scheduler{
		transport: transport,
		processor: processor,
		cfg:       cfg,
		logger:    log.WithComponent(cfg.Logger, "puller"),
		listeners: make(map[string]*listener),
	}
	cfg.Metrics.SetListenerCounter(func() int { return len(s.Running()) })
	return s
}

// Start launches a pull listener for cfg, stopping any listener already
// registered for the same id.
func (s *Scheduler) Start(cfg *integration.Configuration) error {
	if cfg == nil || cfg.ID == "" {
		return fmt.Errorf("integration id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is shut down")
	}
	s.stopLocked(cfg.ID)

	ctx, cancel := context.WithCancel(context.Background())
	snapshot := *cfg
	l := &listener{
		cfg:    &snapshot,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.listeners[cfg.ID] = l
	go s.run(ctx, l)

	s.logger.Info("started pull listener",
		slog.String(log.IntegrationIDKey, cfg.ID),
		slog.String("subscription", cfg.Source.Subscription),
		slog.Duration("interval", cfg.Source.PullInterval()),
	)
	return nil
}

// Stop cancels the listener for id and waits up to the grace period for
// it to exit. The registration is removed either way. Unknown ids are
// ignored.
func (s *Scheduler) Stop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(id)
}

func (s *Scheduler) stopLocked(id string) {
	l, ok := s.listeners[id]
	if !ok {
		return
	}
	l.cancel()
	delete(s.listeners, id)

	select {
	case <-l.done:
		s.logger.Info("stopped pull listener", slog.String(log.IntegrationIDKey, id))
	case <-time.After(s.cfg.StopGracePeriod):
		s.logger.Warn("pull listener did not stop within grace period",
			slog.String(log.IntegrationIDKey, id),
			slog.Duration("grace_period", s.cfg.StopGracePeriod),
		)
	}
}

// Restart is Stop followed by Start.
func (s *Scheduler) Restart(cfg *integration.Configuration) error {
	if cfg != nil {
		s.Stop(cfg.ID)
	}
	return s.Start(cfg)
}

// IsRunning reports whether a listener is registered for id.
func (s *Scheduler) IsRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.listeners[id]
	return ok
}

// Running returns the registered integration ids, sorted.
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown stops every listener and rejects further Starts. Listeners are
// cancelled together, then awaited until ctx is done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	pending := make(map[string]*listener, len(s.listeners))
	for id, l := range s.listeners {
		l.cancel()
		pending[id] = l
	}
	s.listeners = make(map[string]*listener)
	s.mu.Unlock()

	for id, l := range pending {
		select {
		case <-l.done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for pull listener %s: %w", id, ctx.Err())
		}
	}
	return nil
}

// run is the pull loop for one listener.
func (s *Scheduler) run(ctx context.Context, l *listener) {
	defer close(l.done)

	logger := log.WithIntegration(s.logger, l.cfg.ID)
	interval := l.cfg.Source.PullInterval()

	for {
		if ctx.Err() != nil {
			return
		}
		s.pullOnce(ctx, l.cfg, logger)

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// pullOnce pulls a batch and processes each message. Errors are logged;
// the loop always continues.
func (s *Scheduler) pullOnce(ctx context.Context, cfg *integration.Configuration, logger *slog.Logger) {
	messages, err := s.transport.Pull(ctx, cfg.Source, s.cfg.BatchSize)
	s.cfg.Metrics.RecordPull(ctx, cfg.ID, len(messages), err)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("pull failed", log.Error(err))
		}
		return
	}
	if len(messages) > 0 {
		logger.Debug("pulled messages", slog.Int("count", len(messages)))
	}

	for _, msg := range messages {
		// Process runs with a detached context so an in-flight message
		// finishes after Stop.
		res, err := s.processor.Process(context.WithoutCancel(ctx), cfg, msg.Data)
		if err != nil {
			logger.Error("failed to process pulled message",
				slog.String(log.MessageIDKey, msg.ID),
				log.Error(err),
			)
			continue
		}
		logger.Debug("processed pulled message",
			slog.String(log.MessageIDKey, msg.ID),
			slog.String(log.RunIDKey, res.RunID),
			slog.String("status", string(res.Status)),
		)
	}
}
