package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/log"
	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/internal/store/memory"
)

func TestRecord_Success(t *testing.T) {
	runs := memory.New()
	r := New(runs, log.Discard())

	incoming := payload.ObjectOf(map[string]any{"name": "john doe"})
	transformed := payload.ObjectOf(map[string]any{"full_name": "JOHN DOE"})

	run, err := r.Record(context.Background(), Entry{
		IntegrationID:      "cfg-1",
		Incoming:           incoming,
		Transformed:        transformed,
		Request:            payload.ObjectOf(map[string]any{"url": "https://example.com"}),
		Response:           payload.ObjectOf(map[string]any{"status_code": 200.0}),
		Status:             integration.StatusSuccess,
		TransformationTime: 1500 * time.Microsecond,
		APICallTime:        25 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Nil(t, run.ErrorMessage)
	assert.Equal(t, int64(1), run.TransformationTimeMs)
	assert.Equal(t, int64(25), run.APICallTimeMs)
	assert.False(t, run.CreatedAt.IsZero())

	stored, err := runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.True(t, payload.Equal(transformed, stored.TransformedPayload))
}

func TestRecord_SkippedInvariants(t *testing.T) {
	r := New(memory.New(), log.Discard())

	run, err := r.Record(context.Background(), Entry{
		IntegrationID: "cfg-1",
		Incoming:      payload.ObjectOf(map[string]any{"amount": 5.0}),
		Transformed:   payload.ObjectOf(map[string]any{"should": "be dropped"}),
		Request:       SkippedRequest("fields.amount > 100"),
		Response:      SkippedResponse(),
		Status:        integration.StatusSkipped,
	})
	require.NoError(t, err)

	obj, ok := run.TransformedPayload.(*payload.Object)
	require.True(t, ok)
	assert.Equal(t, 0, obj.Len())
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, SkippedMessage, *run.ErrorMessage)

	cond, _ := payload.Get(run.OutgoingRequest, "condition")
	assert.Equal(t, payload.String("fields.amount > 100"), cond)
	result, _ := payload.Get(run.OutgoingRequest, "condition_result")
	assert.Equal(t, payload.Bool(false), result)
}

func TestRecord_ErrorAlwaysHasMessage(t *testing.T) {
	r := New(memory.New(), log.Discard())

	run, err := r.Record(context.Background(), Entry{IntegrationID: "cfg", Status: integration.StatusError})
	require.NoError(t, err)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, UnknownError, *run.ErrorMessage)
	assert.True(t, payload.IsNull(run.IncomingPayload))
}

func TestRecord_RejectsUnknownStatus(t *testing.T) {
	r := New(memory.New(), log.Discard())

	_, err := r.Record(context.Background(), Entry{IntegrationID: "cfg", Status: "pending"})
	assert.Error(t, err)
}

type failingStore struct{ memory.Backend }

func (*failingStore) CreateRun(context.Context, *integration.Run) error {
	return errors.New("disk full")
}

func TestRecord_StoreFailure(t *testing.T) {
	r := New(&failingStore{}, log.Discard())

	_, err := r.Record(context.Background(), Entry{IntegrationID: "cfg", Status: integration.StatusSuccess})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRecord_UniqueIDs(t *testing.T) {
	r := New(memory.New(), log.Discard())
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		run, err := r.Record(context.Background(), Entry{IntegrationID: "cfg", Status: integration.StatusSuccess})
		require.NoError(t, err)
		assert.False(t, seen[run.ID])
		seen[run.ID] = true
	}
}
