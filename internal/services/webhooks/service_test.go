package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/models"
	storagebadger "github.com/ternarybob/showreel/internal/storage/badger"
)

type fixture struct {
	svc     *Service
	events  interfaces.WebhookStorage
	jobs    interfaces.JobStorage
	actions *int32
}

func newFixture(t *testing.T, opts Options, actionErr error) *fixture {
	t.Helper()

	tmpDir := t.TempDir()
	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil
	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	logger := arbor.NewLogger()
	db := storagebadger.NewBadgerDBFromStore(store)
	events := storagebadger.NewWebhookStorage(db, logger)
	jobs := storagebadger.NewJobStorage(db, logger)

	var actions int32
	action := func(ctx context.Context, job *models.JobState) error {
		atomic.AddInt32(&actions, 1)
		return actionErr
	}

	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.Retention == 0 {
		opts.Retention = time.Hour
	}

	svc := NewService(events, jobs, nil, action, opts, logger)
	return &fixture{svc: svc, events: events, jobs: jobs, actions: &actions}
}

// seedJob stores a processing job correlated to the external id.
func seedJob(t *testing.T, f *fixture, subject, externalID string) *models.JobState {
	t.Helper()
	job := models.NewJobState(subject, models.KindAvatarVideo)
	require.NoError(t, job.SetExternalID(externalID))
	job.MarkStarted()
	require.NoError(t, f.jobs.Save(context.Background(), job))
	return job
}

func payloadBody(t *testing.T, p models.WebhookPayload) []byte {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return body
}

func TestIngestValidPayloadIsStored(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()

	id, err := f.svc.Ingest(ctx, "avatar", payloadBody(t, models.WebhookPayload{
		ExternalJobID: "ext-1",
		EventType:     models.WebhookEventProcessing,
		Progress:      25,
	}))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	event, err := f.events.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "avatar", event.Provider)
	assert.Equal(t, "ext-1", event.ExternalJobID)
	assert.False(t, event.Processed)
}

func TestIngestRejectsMalformedPayloads(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		body []byte
	}{
		{"not json", []byte("{{nope")},
		{"missing job id", payloadBody(t, models.WebhookPayload{EventType: models.WebhookEventCompleted})},
		{"unknown event type", []byte(`{"job_id":"ext-1","event_type":"exploded"}`)},
		{"progress out of range", []byte(`{"job_id":"ext-1","event_type":"processing","progress":250}`)},
		{"bad result url", []byte(`{"job_id":"ext-1","event_type":"completed","result_url":"not a url"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Ingest(ctx, "avatar", tt.body)
			require.Error(t, err)
			assert.True(t, models.IsMalformed(err))
		})
	}

	// Nothing was stored for any rejected payload.
	count, err := f.events.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestProcessEventAdvancesJob(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()
	seedJob(t, f, "slide-1", "ext-1")

	id, err := f.svc.Ingest(ctx, "avatar", payloadBody(t, models.WebhookPayload{
		ExternalJobID: "ext-1",
		EventType:     models.WebhookEventCompleted,
		ResultURL:     "https://cdn.example.com/slide-1.mp4",
	}))
	require.NoError(t, err)

	f.svc.drainOnce(ctx)

	job, err := f.jobs.GetByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, "https://cdn.example.com/slide-1.mp4", job.Result.URL)
	assert.Equal(t, int32(1), atomic.LoadInt32(f.actions))

	event, err := f.events.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, event.Processed)
}

func TestDuplicateCompletedEventIsNoOp(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()
	seedJob(t, f, "slide-1", "ext-1")

	completed := payloadBody(t, models.WebhookPayload{
		ExternalJobID: "ext-1",
		EventType:     models.WebhookEventCompleted,
		ResultURL:     "https://cdn.example.com/slide-1.mp4",
	})
	_, err := f.svc.Ingest(ctx, "avatar", completed)
	require.NoError(t, err)
	_, err = f.svc.Ingest(ctx, "avatar", completed)
	require.NoError(t, err)

	f.svc.drainOnce(ctx)

	job, err := f.jobs.GetByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(f.actions), "side effect must run exactly once")

	// Both events are processed, the duplicate as a no-op.
	pending, err := f.events.ClaimUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutOfOrderProcessingAfterCompletedIsDiscarded(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()
	seedJob(t, f, "slide-1", "ext-1")

	_, err := f.svc.Ingest(ctx, "avatar", payloadBody(t, models.WebhookPayload{
		ExternalJobID: "ext-1",
		EventType:     models.WebhookEventCompleted,
		ResultURL:     "https://cdn.example.com/slide-1.mp4",
	}))
	require.NoError(t, err)
	f.svc.drainOnce(ctx)

	// A stale processing event arrives after completion.
	_, err = f.svc.Ingest(ctx, "avatar", payloadBody(t, models.WebhookPayload{
		ExternalJobID: "ext-1",
		EventType:     models.WebhookEventProcessing,
		Progress:      50,
	}))
	require.NoError(t, err)
	f.svc.drainOnce(ctx)

	job, err := f.jobs.GetByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress, "completed progress never regresses")

	pending, err := f.events.ClaimUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "stale event is processed as a no-op, not retried")
}

func TestUnmatchedEventRetriesThenSticks(t *testing.T) {
	f := newFixture(t, Options{MaxRetries: 2, RetryBackoff: time.Nanosecond}, nil)
	ctx := context.Background()

	// No job exists for this external id.
	id, err := f.svc.Ingest(ctx, "avatar", payloadBody(t, models.WebhookPayload{
		ExternalJobID: "ext-orphan",
		EventType:     models.WebhookEventCompleted,
	}))
	require.NoError(t, err)

	f.svc.drainOnce(ctx)
	event, err := f.events.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, event.RetryCount)
	assert.False(t, event.Stuck)

	f.svc.drainOnce(ctx)
	event, err = f.events.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, event.RetryCount)
	assert.True(t, event.Stuck)
	assert.Contains(t, event.LastError, "ext-orphan")

	// Stuck events are no longer claimed.
	pending, err := f.events.ClaimUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stuck, err := f.events.ListStuck(ctx)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, id, stuck[0].ID)
}

func TestFailedEventMarksJobFailed(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()
	seedJob(t, f, "slide-1", "ext-1")

	_, err := f.svc.Ingest(ctx, "avatar", payloadBody(t, models.WebhookPayload{
		ExternalJobID: "ext-1",
		EventType:     models.WebhookEventFailed,
		Error:         "render farm out of capacity",
		Retryable:     true,
	}))
	require.NoError(t, err)
	f.svc.drainOnce(ctx)

	job, err := f.jobs.GetByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "render farm out of capacity", job.Error)
	assert.True(t, job.Retryable)
	assert.Zero(t, atomic.LoadInt32(f.actions), "no side effect on failure")
}

func TestActionFailureDoesNotUncompleteJob(t *testing.T) {
	f := newFixture(t, Options{}, errors.New("downstream unavailable"))
	ctx := context.Background()
	seedJob(t, f, "slide-1", "ext-1")

	_, err := f.svc.Ingest(ctx, "avatar", payloadBody(t, models.WebhookPayload{
		ExternalJobID: "ext-1",
		EventType:     models.WebhookEventCompleted,
	}))
	require.NoError(t, err)
	f.svc.drainOnce(ctx)

	job, err := f.jobs.GetByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.True(t, job.SideEffectRun)
	assert.Equal(t, int32(1), atomic.LoadInt32(f.actions))
}

func TestStartStopProcessorLoop(t *testing.T) {
	f := newFixture(t, Options{PollInterval: 10 * time.Millisecond}, nil)
	ctx := context.Background()
	seedJob(t, f, "slide-1", "ext-1")

	require.NoError(t, f.svc.Start(ctx))
	t.Cleanup(f.svc.Stop)

	_, err := f.svc.Ingest(ctx, "avatar", payloadBody(t, models.WebhookPayload{
		ExternalJobID: "ext-1",
		EventType:     models.WebhookEventCompleted,
	}))
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := f.jobs.GetByExternalID(ctx, "ext-1")
		require.NoError(t, err)
		if job.Status == models.JobStatusCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("background processor never completed the job")
}

func TestSweepRemovesExpiredEvents(t *testing.T) {
	f := newFixture(t, Options{Retention: 50 * time.Millisecond}, nil)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, "avatar", payloadBody(t, models.WebhookPayload{
		ExternalJobID: "ext-old",
		EventType:     models.WebhookEventProcessing,
	}))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	f.svc.sweep(ctx)

	count, err := f.events.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
