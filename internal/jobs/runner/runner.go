// -----------------------------------------------------------------------
// Job Runner - Drives one external job from submission to terminal state
// -----------------------------------------------------------------------

package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/models"
)

// Runner owns the submit-then-poll lifecycle of a single external job. The
// caller's context carries the item budget: the runner holds its caller's
// concurrency slot for the whole lifecycle, which is what keeps a batch's
// in-flight external jobs bounded.
type Runner struct {
	storage      interfaces.JobStorage
	events       interfaces.EventService
	logger       arbor.ILogger
	pollInterval time.Duration
}

// New creates a runner.
func New(storage interfaces.JobStorage, events interfaces.EventService, logger arbor.ILogger, pollInterval time.Duration) *Runner {
	return &Runner{
		storage:      storage,
		events:       events,
		logger:       logger,
		pollInterval: pollInterval,
	}
}

// RunToCompletion submits the spec and polls until the job reaches a
// terminal state or the context expires. The returned state always reflects
// what was persisted; err is non-nil when the job did not complete.
func (r *Runner) RunToCompletion(ctx context.Context, provider interfaces.ProviderClient, spec models.JobSpec) (*models.JobState, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	job := models.NewJobState(spec.SubjectID, spec.Kind)
	if err := r.storage.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	externalID, err := r.submit(ctx, provider, spec)
	if err != nil {
		return r.failJob(job, err)
	}
	if err := job.SetExternalID(externalID); err != nil {
		return r.failJob(job, err)
	}
	job.MarkStarted()
	if err := r.storage.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job start: %w", err)
	}

	r.logger.Debug().
		Str("subject_id", spec.SubjectID).
		Str("kind", string(spec.Kind)).
		Str("external_id", externalID).
		Msg("Job submitted, polling for completion")

	return r.pollUntilTerminal(ctx, provider, job)
}

// submit sends the work to the provider, retrying transient failures with
// backoff until the context budget runs out. Terminal provider errors fail
// immediately.
func (r *Runner) submit(ctx context.Context, provider interfaces.ProviderClient, spec models.JobSpec) (string, error) {
	backoff := r.pollInterval
	for {
		externalID, err := provider.Submit(ctx, spec)
		if err == nil {
			return externalID, nil
		}
		if !models.IsTransient(err) {
			return "", err
		}

		r.logger.Warn().
			Err(err).
			Str("subject_id", spec.SubjectID).
			Str("provider", provider.Name()).
			Msg("Transient submit failure, retrying")

		select {
		case <-ctx.Done():
			return "", r.contextError(ctx)
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (r *Runner) pollUntilTerminal(ctx context.Context, provider interfaces.ProviderClient, job *models.JobState) (*models.JobState, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.abandonJob(job, r.contextError(ctx))
		case <-ticker.C:
		}

		snap, err := provider.PollStatus(ctx, job.ExternalJobID)
		if err != nil {
			if models.IsTransient(err) {
				r.logger.Warn().
					Err(err).
					Str("external_id", job.ExternalJobID).
					Msg("Transient poll failure, will retry on next tick")
				continue
			}
			return r.failJob(job, err)
		}

		updated, changed, err := r.storage.ApplySnapshot(ctx, job.ID, snap)
		if err != nil {
			return r.failJob(job, err)
		}
		job = updated

		if changed {
			r.publishStatusChange(ctx, job)
		}

		if !job.Status.IsTerminal() {
			continue
		}

		if job.Status == models.JobStatusCompleted && job.Result == nil {
			if result, err := provider.FetchResult(ctx, job.ExternalJobID); err == nil && result != nil {
				job.Result = result
				if err := r.storage.Save(ctx, job); err != nil {
					r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist fetched result")
				}
			}
		}

		switch job.Status {
		case models.JobStatusCompleted:
			return job, nil
		case models.JobStatusCancelled:
			return job, context.Canceled
		default:
			return job, fmt.Errorf("job failed: %s", job.Error)
		}
	}
}

// failJob records a terminal failure and returns the original error.
func (r *Runner) failJob(job *models.JobState, cause error) (*models.JobState, error) {
	job.MarkFailed(cause.Error(), models.IsTransient(cause) || models.IsTimeout(cause))
	if err := r.storage.Save(context.Background(), job); err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist job failure")
	}
	r.publishStatusChange(context.Background(), job)
	return job, cause
}

// abandonJob handles context expiry: a deadline is a timeout failure, an
// external cancel marks the job cancelled.
func (r *Runner) abandonJob(job *models.JobState, cause error) (*models.JobState, error) {
	if errors.Is(cause, context.Canceled) {
		job.MarkCancelled()
	} else {
		job.MarkFailed(cause.Error(), true)
	}
	if err := r.storage.Save(context.Background(), job); err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist abandoned job")
	}
	r.publishStatusChange(context.Background(), job)
	return job, cause
}

func (r *Runner) contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: item budget exhausted", models.ErrTimeout)
	}
	return ctx.Err()
}

func (r *Runner) publishStatusChange(ctx context.Context, job *models.JobState) {
	if r.events == nil {
		return
	}
	_ = r.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventJobStatusChanged,
		Payload: job,
	})
}
