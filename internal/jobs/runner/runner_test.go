package runner

import (
	"context"
	"errors"
	"sync"
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

// fakeProvider scripts poll responses for one external job.
type fakeProvider struct {
	mu          sync.Mutex
	kind        models.JobKind
	submitErr   error
	submitFails int
	polls       []pollResponse
	pollIdx     int
	result      *models.ResultRef
	submits     int
}

type pollResponse struct {
	snap models.StatusSnapshot
	err  error
}

func (f *fakeProvider) Submit(ctx context.Context, spec models.JobSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitFails > 0 {
		f.submitFails--
		return "", models.NewTransientError("fake", errors.New("connection reset"))
	}
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "ext-" + spec.SubjectID, nil
}

func (f *fakeProvider) PollStatus(ctx context.Context, externalJobID string) (models.StatusSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollIdx >= len(f.polls) {
		// Hold the last response once the script runs out.
		if len(f.polls) == 0 {
			return models.StatusSnapshot{Status: models.JobStatusProcessing}, nil
		}
		last := f.polls[len(f.polls)-1]
		return last.snap, last.err
	}
	resp := f.polls[f.pollIdx]
	f.pollIdx++
	return resp.snap, resp.err
}

func (f *fakeProvider) FetchResult(ctx context.Context, externalJobID string) (*models.ResultRef, error) {
	if f.result == nil {
		return nil, models.NewTerminalError("fake", errors.New("no result"))
	}
	return f.result, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Kind() models.JobKind {
	if f.kind == "" {
		return models.KindAvatarVideo
	}
	return f.kind
}

func newTestStorage(t *testing.T) interfaces.JobStorage {
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
	return storagebadger.NewJobStorage(storagebadger.NewBadgerDBFromStore(store), arbor.NewLogger())
}

func newTestRunner(t *testing.T, storage interfaces.JobStorage) *Runner {
	return New(storage, nil, arbor.NewLogger(), 10*time.Millisecond)
}

func TestRunToCompletionSuccess(t *testing.T) {
	storage := newTestStorage(t)
	r := newTestRunner(t, storage)

	provider := &fakeProvider{
		polls: []pollResponse{
			{snap: models.StatusSnapshot{Status: models.JobStatusProcessing, Progress: 50}},
			{snap: models.StatusSnapshot{
				Status: models.JobStatusCompleted,
				Result: &models.ResultRef{URL: "https://cdn.example.com/a.mp4"},
			}},
		},
	}

	job, err := r.RunToCompletion(context.Background(), provider, models.JobSpec{
		SubjectID: "slide-1",
		Kind:      models.KindAvatarVideo,
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "ext-slide-1", job.ExternalJobID)
	require.NotNil(t, job.Result)

	persisted, err := storage.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, persisted.Status)
}

func TestRunToCompletionRetriesTransientSubmit(t *testing.T) {
	storage := newTestStorage(t)
	r := newTestRunner(t, storage)

	provider := &fakeProvider{
		submitFails: 2,
		polls: []pollResponse{
			{snap: models.StatusSnapshot{Status: models.JobStatusCompleted, Result: &models.ResultRef{URL: "x"}}},
		},
	}

	job, err := r.RunToCompletion(context.Background(), provider, models.JobSpec{
		SubjectID: "slide-2",
		Kind:      models.KindAvatarVideo,
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, provider.submits)
}

func TestRunToCompletionTerminalSubmitError(t *testing.T) {
	storage := newTestStorage(t)
	r := newTestRunner(t, storage)

	provider := &fakeProvider{
		submitErr: models.NewTerminalError("fake", errors.New("unsupported input format")),
	}

	job, err := r.RunToCompletion(context.Background(), provider, models.JobSpec{
		SubjectID: "slide-3",
		Kind:      models.KindAvatarVideo,
	})
	require.Error(t, err)
	assert.True(t, models.IsTerminal(err))
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.False(t, job.Retryable)
}

func TestRunToCompletionTransientPollsAreRetried(t *testing.T) {
	storage := newTestStorage(t)
	r := newTestRunner(t, storage)

	provider := &fakeProvider{
		polls: []pollResponse{
			{err: models.NewTransientError("fake", errors.New("502 bad gateway"))},
			{err: models.NewTransientError("fake", errors.New("502 bad gateway"))},
			{snap: models.StatusSnapshot{Status: models.JobStatusCompleted, Result: &models.ResultRef{URL: "x"}}},
		},
	}

	job, err := r.RunToCompletion(context.Background(), provider, models.JobSpec{
		SubjectID: "slide-4",
		Kind:      models.KindAvatarVideo,
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestRunToCompletionProviderFailure(t *testing.T) {
	storage := newTestStorage(t)
	r := newTestRunner(t, storage)

	provider := &fakeProvider{
		polls: []pollResponse{
			{snap: models.StatusSnapshot{Status: models.JobStatusProcessing, Progress: 20}},
			{snap: models.StatusSnapshot{Status: models.JobStatusFailed, Error: "render node crashed", Retryable: true}},
		},
	}

	job, err := r.RunToCompletion(context.Background(), provider, models.JobSpec{
		SubjectID: "slide-5",
		Kind:      models.KindRenderJob,
	})
	require.Error(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "render node crashed", job.Error)
}

func TestRunToCompletionBudgetExpiry(t *testing.T) {
	storage := newTestStorage(t)
	r := newTestRunner(t, storage)

	// Provider never finishes.
	provider := &fakeProvider{
		polls: []pollResponse{
			{snap: models.StatusSnapshot{Status: models.JobStatusProcessing, Progress: 10}},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	job, err := r.RunToCompletion(ctx, provider, models.JobSpec{
		SubjectID: "slide-6",
		Kind:      models.KindRenderJob,
	})
	require.Error(t, err)
	assert.True(t, models.IsTimeout(err))
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.True(t, job.Retryable)
}

func TestRunToCompletionExternalCancel(t *testing.T) {
	storage := newTestStorage(t)
	r := newTestRunner(t, storage)

	provider := &fakeProvider{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	job, err := r.RunToCompletion(ctx, provider, models.JobSpec{
		SubjectID: "slide-7",
		Kind:      models.KindAvatarVideo,
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
}
