package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/log"
	"github.com/tombee/courier/internal/pubsub/pubsubtest"
	"github.com/tombee/courier/internal/store/memory"
	courierrors "github.com/tombee/courier/pkg/errors"
)

type fakePuller struct {
	mu      sync.Mutex
	running map[string]bool
	err     error
}

func newFakePuller() *fakePuller { return &fakePuller{running: map[string]bool{}} }

func (p *fakePuller) Start(cfg *integration.Configuration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.running[cfg.ID] = true
	return nil
}

func (p *fakePuller) Stop(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, id)
}

func (p *fakePuller) isRunning(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[id]
}

type env struct {
	manager   *Manager
	transport *pubsubtest.Fake
	puller    *fakePuller
	store     *memory.Backend
}

func newEnv(t *testing.T, baseURL string) *env {
	t.Helper()
	e := &env{
		transport: pubsubtest.New(),
		puller:    newFakePuller(),
		store:     memory.New(),
	}
	e.manager = NewManager(e.transport, e.puller, e.store, Config{PublicBaseURL: baseURL, Logger: log.Discard()})
	return e
}

func (e *env) add(t *testing.T, cfg *integration.Configuration) *integration.Configuration {
	t.Helper()
	require.NoError(t, e.store.CreateConfiguration(context.Background(), cfg))
	return cfg
}

func pubsubConfig(id string, mode integration.SubscriptionMode) *integration.Configuration {
	return &integration.Configuration{
		ID:           id,
		Name:         id,
		SourceType:   integration.SourcePubSub,
		IsActive:     true,
		PushEndpoint: "/pubsub/" + id + "/",
		Source: integration.SourceConfig{
			ProjectID:        "acme",
			TopicID:          "orders",
			Subscription:     id + "-sub",
			SubscriptionMode: mode,
		},
	}
}

func listenerActive(t *testing.T, e *env, id string) bool {
	t.Helper()
	cfg, err := e.store.GetConfiguration(context.Background(), id)
	require.NoError(t, err)
	return cfg.ListenerActive
}

func TestActivate_Push(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "https://courier.example.com/")
	cfg := e.add(t, pubsubConfig("p1", integration.ModePush))

	require.NoError(t, e.manager.Activate(ctx, cfg))

	sub, ok := e.transport.Subscription(cfg.Source)
	require.True(t, ok)
	assert.Equal(t, "https://courier.example.com/pubsub/p1/", sub.PushEndpoint)
	assert.False(t, e.puller.isRunning("p1"))
	assert.True(t, listenerActive(t, e, "p1"))
}

func TestActivate_PushRequiresBaseURL(t *testing.T) {
	e := newEnv(t, "")
	cfg := e.add(t, pubsubConfig("p1", integration.ModePush))

	err := e.manager.Activate(context.Background(), cfg)
	var ce *courierrors.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "server.public_base_url", ce.Key)
	assert.False(t, listenerActive(t, e, "p1"))
}

func TestActivate_Pull(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "")
	cfg := e.add(t, pubsubConfig("p1", integration.ModePull))

	require.NoError(t, e.manager.Activate(ctx, cfg))

	sub, ok := e.transport.Subscription(cfg.Source)
	require.True(t, ok)
	assert.Empty(t, sub.PushEndpoint)
	assert.True(t, e.puller.isRunning("p1"))
	assert.True(t, listenerActive(t, e, "p1"))
}

func TestActivate_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("subscription", func(t *testing.T) {
		e := newEnv(t, "")
		e.transport.EnsureErr = errors.New("permission denied")
		cfg := e.add(t, pubsubConfig("p1", integration.ModePull))

		require.Error(t, e.manager.Activate(ctx, cfg))
		assert.False(t, e.puller.isRunning("p1"))
		assert.False(t, listenerActive(t, e, "p1"))
	})

	t.Run("puller", func(t *testing.T) {
		e := newEnv(t, "")
		e.puller.err = errors.New("shut down")
		cfg := e.add(t, pubsubConfig("p1", integration.ModePull))

		require.Error(t, e.manager.Activate(ctx, cfg))
		assert.False(t, listenerActive(t, e, "p1"))
	})
}

func TestActivate_IgnoresWebhooks(t *testing.T) {
	e := newEnv(t, "")
	cfg := e.add(t, &integration.Configuration{ID: "w1", Name: "w1", SourceType: integration.SourceWebhook, IsActive: true})

	require.NoError(t, e.manager.Activate(context.Background(), cfg))
	assert.False(t, listenerActive(t, e, "w1"))
}

func TestDeactivate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "")
	cfg := e.add(t, pubsubConfig("p1", integration.ModePull))
	require.NoError(t, e.manager.Activate(ctx, cfg))

	e.manager.Deactivate(ctx, cfg)

	_, ok := e.transport.Subscription(cfg.Source)
	assert.False(t, ok)
	assert.False(t, e.puller.isRunning("p1"))
	assert.False(t, listenerActive(t, e, "p1"))
	assert.False(t, cfg.ListenerActive)
}

func TestDeactivate_DeletedConfiguration(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "")
	cfg := e.add(t, pubsubConfig("p1", integration.ModePull))
	require.NoError(t, e.manager.Activate(ctx, cfg))
	require.NoError(t, e.store.DeleteConfiguration(ctx, "p1"))

	e.manager.Deactivate(ctx, cfg)

	assert.False(t, e.puller.isRunning("p1"))
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "https://courier.example.com")
	prev := e.add(t, pubsubConfig("p1", integration.ModePull))
	require.NoError(t, e.manager.Activate(ctx, prev))

	// Switch from pull to push.
	next := *prev
	next.Source.SubscriptionMode = integration.ModePush
	require.NoError(t, e.manager.Reconcile(ctx, prev, &next))

	assert.False(t, e.puller.isRunning("p1"))
	sub, ok := e.transport.Subscription(next.Source)
	require.True(t, ok)
	assert.Equal(t, "https://courier.example.com/pubsub/p1/", sub.PushEndpoint)

	// Deactivating through an update leaves nothing running.
	disabled := next
	disabled.IsActive = false
	require.NoError(t, e.manager.Reconcile(ctx, &next, &disabled))
	_, ok = e.transport.Subscription(next.Source)
	assert.False(t, ok)
	assert.False(t, listenerActive(t, e, "p1"))
}

func TestActivateAll(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "")
	e.add(t, pubsubConfig("pull-1", integration.ModePull))
	e.add(t, pubsubConfig("pull-2", integration.ModePull))
	inactive := pubsubConfig("pull-3", integration.ModePull)
	inactive.IsActive = false
	e.add(t, inactive)
	// Push without a base URL fails but does not stop the others.
	e.add(t, pubsubConfig("push-1", integration.ModePush))

	n, err := e.manager.ActivateAll(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, e.puller.isRunning("pull-1"))
	assert.True(t, e.puller.isRunning("pull-2"))
	assert.False(t, e.puller.isRunning("pull-3"))
}
