package puller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/log"
	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/internal/pipeline"
	"github.com/tombee/courier/internal/pubsub/pubsubtest"
)

type fakeProcessor struct {
	mu       sync.Mutex
	payloads []payload.Value
	err      error
	block    chan struct{}
}

func (p *fakeProcessor) Process(ctx context.Context, cfg *integration.Configuration, incoming payload.Value) (*pipeline.Result, error) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, incoming)
	if p.err != nil {
		return nil, p.err
	}
	return &pipeline.Result{RunID: "run", Status: integration.StatusSuccess}, nil
}

func (p *fakeProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

func pullConfig(id string) *integration.Configuration {
	return &integration.Configuration{
		ID:         id,
		Name:       id,
		SourceType: integration.SourcePubSub,
		IsActive:   true,
		Source: integration.SourceConfig{
			ProjectID:           "acme",
			TopicID:             "orders",
			Subscription:        id + "-sub",
			SubscriptionMode:    integration.ModePull,
			PullIntervalSeconds: 1,
		},
	}
}

func newScheduler(t *testing.T, proc Processor, cfg Config) (*Scheduler, *pubsubtest.Fake) {
	t.Helper()
	fake := pubsubtest.New()
	cfg.Logger = log.Discard()
	s := New(fake, proc, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, fake
}

func TestScheduler_ProcessesPulledMessages(t *testing.T) {
	proc := &fakeProcessor{}
	s, fake := newScheduler(t, proc, Config{})
	cfg := pullConfig("int-1")

	fake.Enqueue(cfg.Source, payload.String("a"), payload.String("b"))
	require.NoError(t, s.Start(cfg))

	require.Eventually(t, func() bool { return proc.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []payload.Value{payload.String("a"), payload.String("b")}, proc.payloads)
}

func TestScheduler_BatchSize(t *testing.T) {
	proc := &fakeProcessor{}
	s, fake := newScheduler(t, proc, Config{BatchSize: 2})
	cfg := pullConfig("int-1")
	cfg.Source.PullIntervalSeconds = 3600

	fake.Enqueue(cfg.Source, payload.String("1"), payload.String("2"), payload.String("3"))
	require.NoError(t, s.Start(cfg))

	require.Eventually(t, func() bool { return proc.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	// The third message waits for the next interval.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, proc.count())
}

func TestScheduler_DoubleStartKeepsOneRegistration(t *testing.T) {
	s, _ := newScheduler(t, &fakeProcessor{}, Config{})
	cfg := pullConfig("int-1")

	require.NoError(t, s.Start(cfg))
	require.NoError(t, s.Start(cfg))

	assert.Equal(t, []string{"int-1"}, s.Running())
	assert.True(t, s.IsRunning("int-1"))
}

func TestScheduler_StopUnknownIsNoop(t *testing.T) {
	s, _ := newScheduler(t, &fakeProcessor{}, Config{})
	require.NoError(t, s.Start(pullConfig("int-1")))

	s.Stop("missing")

	assert.Equal(t, []string{"int-1"}, s.Running())
}

func TestScheduler_StopHaltsPulling(t *testing.T) {
	s, fake := newScheduler(t, &fakeProcessor{}, Config{})
	require.NoError(t, s.Start(pullConfig("int-1")))
	require.Eventually(t, func() bool { return fake.Pulls() >= 1 }, 2*time.Second, 10*time.Millisecond)

	s.Stop("int-1")
	assert.False(t, s.IsRunning("int-1"))

	pulls := fake.Pulls()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, pulls, fake.Pulls())
}

func TestScheduler_StopWaitsAtMostGracePeriod(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{})}
	defer close(proc.block)
	s, fake := newScheduler(t, proc, Config{StopGracePeriod: 50 * time.Millisecond})
	cfg := pullConfig("int-1")
	fake.Enqueue(cfg.Source, payload.String("stuck"))

	require.NoError(t, s.Start(cfg))
	require.Eventually(t, func() bool { return fake.Pulls() >= 1 }, 2*time.Second, 10*time.Millisecond)

	start := time.Now()
	s.Stop("int-1")
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, s.IsRunning("int-1"))
}

func TestScheduler_ErrorsDoNotStopTheLoop(t *testing.T) {
	t.Run("pull error", func(t *testing.T) {
		s, fake := newScheduler(t, &fakeProcessor{}, Config{})
		fake.PullErr = errors.New("unavailable")

		require.NoError(t, s.Start(pullConfig("int-1")))
		require.Eventually(t, func() bool { return fake.Pulls() >= 2 }, 3*time.Second, 10*time.Millisecond)
		assert.True(t, s.IsRunning("int-1"))
	})

	t.Run("process error", func(t *testing.T) {
		proc := &fakeProcessor{err: errors.New("boom")}
		s, fake := newScheduler(t, proc, Config{})
		cfg := pullConfig("int-1")
		fake.Enqueue(cfg.Source, payload.String("a"), payload.String("b"))

		require.NoError(t, s.Start(cfg))
		require.Eventually(t, func() bool { return proc.count() == 2 }, 2*time.Second, 10*time.Millisecond)
		assert.True(t, s.IsRunning("int-1"))
	})
}

func TestScheduler_Restart(t *testing.T) {
	s, _ := newScheduler(t, &fakeProcessor{}, Config{})
	cfg := pullConfig("int-1")
	require.NoError(t, s.Start(cfg))

	cfg.Source.PullIntervalSeconds = 30
	require.NoError(t, s.Restart(cfg))

	assert.Equal(t, []string{"int-1"}, s.Running())
}

func TestScheduler_Shutdown(t *testing.T) {
	s, _ := newScheduler(t, &fakeProcessor{}, Config{})
	require.NoError(t, s.Start(pullConfig("a")))
	require.NoError(t, s.Start(pullConfig("b")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.Empty(t, s.Running())
	assert.Error(t, s.Start(pullConfig("c")))
}

func TestScheduler_StartRequiresID(t *testing.T) {
	s, _ := newScheduler(t, &fakeProcessor{}, Config{})
	assert.Error(t, s.Start(&integration.Configuration{}))
	assert.Error(t, s.Start(nil))
}

func TestScheduler_ConcurrentStartStop(t *testing.T) {
	s, _ := newScheduler(t, &fakeProcessor{}, Config{})
	cfg := pullConfig("int-1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = s.Start(cfg)
			} else {
				s.Stop(cfg.ID)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, len(s.Running()), 1)
}
