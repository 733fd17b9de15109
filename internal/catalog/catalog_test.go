package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/log"
	"github.com/tombee/courier/internal/store/memory"
	"github.com/tombee/courier/pkg/errors"
)

const sample = `
integrations:
  - id: orders
    name: Orders to CRM
    sourceType: webhook
    isActive: true
    mappings:
      - {source: customer.name, target: name, transform: uppercase}
      - {source: items, target: skus, transform: join, params: [","]}
    target: {url: "https://crm.example.com/api/contacts"}
  - id: feed
    name: Feed
    sourceType: pubsub
    isActive: true
    sourceConfig: {projectId: acme, topicId: feed, subscription: feed-sub, subscriptionMode: pull, pullIntervalSeconds: 30}
    target: {url: "https://crm.example.com/api/feed"}
`

type reconcileCall struct {
	previous, current *integration.Configuration
}

type fakeListeners struct {
	mu    sync.Mutex
	calls []reconcileCall
	err   error
}

func (f *fakeListeners) Reconcile(ctx context.Context, previous, current *integration.Configuration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reconcileCall{previous, current})
	return f.err
}

func (f *fakeListeners) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestParse(t *testing.T) {
	configs, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, configs, 2)

	orders := configs[0]
	assert.Equal(t, "orders", orders.ID)
	assert.Empty(t, orders.WebhookPath)
	require.Len(t, orders.Mappings, 2)
	assert.Equal(t, []any{","}, orders.Mappings[1].Params)

	feed := configs[1]
	assert.True(t, feed.IsPull())
	assert.Equal(t, 30*time.Second, feed.Source.PullInterval())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		key  string
	}{
		{"bad yaml", "integrations: [", "integrations_file"},
		{"unknown field", "integrations:\n  - {id: a, name: a, sourceType: webhook, colour: red}", "integrations_file"},
		{"missing id", "integrations:\n  - {name: a, sourceType: webhook, target: {url: http://x}}", "integrations[0].id"},
		{"duplicate id", "integrations:\n  - {id: a, name: a, sourceType: webhook, target: {url: http://x}}\n  - {id: a, name: b, sourceType: webhook, target: {url: http://x}}", "integrations[1].id"},
		{"invalid integration", "integrations:\n  - {id: a, name: a, sourceType: webhook, target: {}}", "target.url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			var ce *errors.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.key, ce.Key)
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	var ce *errors.ConfigError
	require.ErrorAs(t, err, &ce)
}

func TestSyncer_Apply(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	listeners := &fakeListeners{}
	syncer := NewSyncer(st, listeners, log.Discard())

	configs, err := Parse([]byte(sample))
	require.NoError(t, err)
	sum, err := syncer.Apply(ctx, configs)
	require.NoError(t, err)
	assert.Equal(t, Summary{Created: 2}, sum)
	assert.Equal(t, 1, listeners.count(), "only the pubsub entry is reconciled")

	stored, err := st.GetConfiguration(ctx, "orders")
	require.NoError(t, err)
	assert.Regexp(t, `^/webhook/[0-9a-f]{16}/$`, stored.WebhookPath)
	path := stored.WebhookPath

	// Reapplying the same document changes nothing and keeps the path.
	configs, err = Parse([]byte(sample))
	require.NoError(t, err)
	sum, err = syncer.Apply(ctx, configs)
	require.NoError(t, err)
	assert.Equal(t, Summary{Unchanged: 2}, sum)

	// An edit updates only the edited entry.
	configs, err = Parse([]byte(sample))
	require.NoError(t, err)
	configs[0].Name = "Orders v2"
	sum, err = syncer.Apply(ctx, configs)
	require.NoError(t, err)
	assert.Equal(t, Summary{Updated: 1, Unchanged: 1}, sum)

	stored, err = st.GetConfiguration(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "Orders v2", stored.Name)
	assert.Equal(t, path, stored.WebhookPath)
	assert.Equal(t, 1, listeners.count())
}

// slowListeners records the highest number of reconciles seen at once.
type slowListeners struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowListeners) Reconcile(ctx context.Context, previous, current *integration.Configuration) error {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return nil
}

func TestSyncer_ApplyIsSerialized(t *testing.T) {
	ctx := context.Background()
	listeners := &slowListeners{}
	syncer := NewSyncer(memory.New(), listeners, log.Discard())

	var wg sync.WaitGroup
	for i := range 4 {
		configs, err := Parse([]byte(sample))
		require.NoError(t, err)
		feed := configs[1]
		feed.ID = fmt.Sprintf("feed-%d", i)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := syncer.Apply(ctx, []*integration.Configuration{feed})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), listeners.peak.Load())
}

func TestSyncer_KeepsOtherConfigurations(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.CreateConfiguration(ctx, &integration.Configuration{ID: "api-made", Name: "x", SourceType: integration.SourceWebhook}))

	configs, err := Parse([]byte(sample))
	require.NoError(t, err)
	_, err = NewSyncer(st, nil, log.Discard()).Apply(ctx, configs)
	require.NoError(t, err)

	_, err = st.GetConfiguration(ctx, "api-made")
	assert.NoError(t, err)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "integrations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	st := memory.New()
	reloads := make(chan Summary, 4)
	w, err := NewWatcher(path, NewSyncer(st, nil, log.Discard()), log.Discard(),
		WithDebounce(20*time.Millisecond),
		WithReloadHook(func(s Summary, err error) {
			if err == nil && s.Created > 0 {
				reloads <- s
			}
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sum, err := w.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Created)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	updated := sample + `
  - id: extra
    name: Extra
    sourceType: webhook
    target: {url: "https://crm.example.com/api/extra"}
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case s := <-reloads:
		assert.Equal(t, 1, s.Created)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}

	_, err = st.GetConfiguration(context.Background(), "extra")
	assert.NoError(t, err)

	cancel()
	require.NoError(t, <-done)
}
