// -----------------------------------------------------------------------
// Batch Orchestrator - Drives a batch of external jobs to terminal state
// -----------------------------------------------------------------------

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/common"
	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/jobs/executor"
	"github.com/ternarybob/showreel/internal/jobs/runner"
	"github.com/ternarybob/showreel/internal/jobs/state"
	"github.com/ternarybob/showreel/internal/models"
)

type runKey struct {
	subjectID string
	kind      models.JobKind
}

// Options carry the orchestration tuning knobs from config.
type Options struct {
	MaxConcurrent   int
	PerItemTimeout  time.Duration
	PollInterval    time.Duration
	ParallelEnabled bool
}

// Orchestrator starts batches and drives every item to a terminal outcome.
// StartBatch returns as soon as the run is registered; the work happens in a
// panic-guarded background goroutine.
type Orchestrator struct {
	exec      *executor.Executor
	runner    *runner.Runner
	registry  interfaces.StatusRegistry
	storage   interfaces.JobStorage
	events    interfaces.EventService
	providers map[models.JobKind]interfaces.ProviderClient
	opts      Options
	logger    arbor.ILogger

	mu      sync.Mutex
	cancels map[runKey]context.CancelFunc
}

// New creates an orchestrator.
func New(
	registry interfaces.StatusRegistry,
	storage interfaces.JobStorage,
	events interfaces.EventService,
	providers map[models.JobKind]interfaces.ProviderClient,
	opts Options,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		exec:      executor.New(logger),
		runner:    runner.New(storage, events, logger, opts.PollInterval),
		registry:  registry,
		storage:   storage,
		events:    events,
		providers: providers,
		opts:      opts,
		logger:    logger,
		cancels:   make(map[runKey]context.CancelFunc),
	}
}

// StartBatch validates the request, registers the run and returns
// immediately. A zero-item batch completes without ever touching the
// executor.
func (o *Orchestrator) StartBatch(ctx context.Context, req models.BatchRequest) (string, error) {
	if req.SubjectID == "" {
		return "", fmt.Errorf("subject id is required")
	}
	if !models.ValidKind(req.Kind) {
		return "", fmt.Errorf("unknown job kind: %s", req.Kind)
	}
	provider, ok := o.providers[req.Kind]
	if !ok {
		return "", fmt.Errorf("no provider registered for kind %s", req.Kind)
	}

	runID := common.NewRunID()
	o.registry.Start(req.SubjectID, req.Kind, len(req.Items))

	if len(req.Items) == 0 {
		o.registry.Complete(req.SubjectID, req.Kind, models.RunStateCompleted, "no items to process")
		o.logger.Info().
			Str("run_id", runID).
			Str("subject_id", req.SubjectID).
			Str("kind", string(req.Kind)).
			Msg("Batch had no items, completed immediately")
		return runID, nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	key := runKey{req.SubjectID, req.Kind}
	o.mu.Lock()
	if prev, ok := o.cancels[key]; ok {
		// A superseding batch tears down the previous run for the same key.
		prev()
	}
	o.cancels[key] = cancel
	o.mu.Unlock()

	o.logger.Info().
		Str("run_id", runID).
		Str("subject_id", req.SubjectID).
		Str("kind", string(req.Kind)).
		Int("items", len(req.Items)).
		Bool("parallel", o.parallelFor(req)).
		Msg("Starting batch")

	common.SafeGo(o.logger, "batch-"+runID, func() {
		defer func() {
			cancel()
			o.mu.Lock()
			if o.cancels[key] != nil {
				delete(o.cancels, key)
			}
			o.mu.Unlock()
		}()
		o.runBatch(runCtx, provider, req)
	})

	return runID, nil
}

// CancelBatch requests cooperative cancellation of a running batch. Returns
// false if no batch is running for the key.
func (o *Orchestrator) CancelBatch(subjectID string, kind models.JobKind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.cancels[runKey{subjectID, kind}]
	if !ok {
		return false
	}
	cancel()
	return true
}

func (o *Orchestrator) parallelFor(req models.BatchRequest) bool {
	if req.Parallel != nil {
		return *req.Parallel
	}
	return o.opts.ParallelEnabled
}

// runBatch executes the batch body inside the background goroutine.
func (o *Orchestrator) runBatch(ctx context.Context, provider interfaces.ProviderClient, req models.BatchRequest) {
	tracker := state.NewTracker(len(req.Items))

	// Pre-scan: items whose work already completed are skipped and never
	// re-dispatched. Skipping is idempotent - a re-run of the same batch
	// skips them again.
	var toRun []models.BatchItem
	for _, item := range req.Items {
		if o.alreadyCompleted(ctx, item.SubjectID, req.Kind) {
			tracker.Skip()
			o.logger.Debug().
				Str("subject_id", item.SubjectID).
				Str("kind", string(req.Kind)).
				Msg("Item already completed, skipping")
			continue
		}
		toRun = append(toRun, item)
	}
	o.pushProgress(ctx, req, tracker)

	work := func(itemCtx context.Context, item models.BatchItem) error {
		tracker.Begin()
		_, err := o.runner.RunToCompletion(itemCtx, provider, models.JobSpec{
			SubjectID: item.SubjectID,
			Kind:      req.Kind,
			Input:     item.Input,
		})
		if err != nil {
			tracker.Fail()
			if !errors.Is(err, context.Canceled) {
				o.registry.AddError(req.SubjectID, req.Kind, fmt.Sprintf("%s: %v", item.SubjectID, err))
			}
		} else {
			tracker.Complete()
		}
		// Best-effort mid-run push; the final push below is mandatory.
		o.pushProgress(itemCtx, req, tracker)
		return err
	}

	summary := o.exec.Run(ctx, toRun, work, executor.Options{
		MaxConcurrent:  o.opts.MaxConcurrent,
		PerItemTimeout: o.opts.PerItemTimeout,
		Parallel:       o.parallelFor(req),
	})

	// Items the executor never dispatched (deadline or cancellation while
	// queued) are not yet in the tracker. Both count as failed, matching the
	// treatment of in-flight items torn down mid-run, so the terminal
	// snapshot accounts for every item.
	for _, r := range summary.Results {
		if r.Started {
			continue
		}
		tracker.FailWithoutStart()
		if r.Outcome == models.OutcomeFailed {
			o.registry.AddError(req.SubjectID, req.Kind, fmt.Sprintf("%s: %s", r.SubjectID, r.Error))
		}
	}

	o.finishBatch(req, tracker, summary, ctx.Err())
}

// alreadyCompleted reports whether the latest stored job for the subject and
// kind finished successfully.
func (o *Orchestrator) alreadyCompleted(ctx context.Context, subjectID string, kind models.JobKind) bool {
	job, err := o.storage.GetBySubject(ctx, subjectID, kind)
	if err != nil {
		return false
	}
	return job.Status == models.JobStatusCompleted
}

// finishBatch records the final aggregate state. A batch with any completed
// or skipped work reports completed even when some items failed; only a run
// with zero successes and at least one failure reports failed.
func (o *Orchestrator) finishBatch(req models.BatchRequest, tracker *state.Tracker, summary executor.Summary, ctxErr error) {
	snap := tracker.Snapshot()
	o.registry.UpdateProgress(req.SubjectID, req.Kind, snap)

	var runState models.RunStateValue
	var message string
	switch {
	case errors.Is(ctxErr, context.Canceled) && summary.Cancelled > 0:
		runState = models.RunStateCancelled
		message = fmt.Sprintf("cancelled after %d of %d items completed", snap.Completed+snap.Skipped, snap.Total)
	case snap.Completed == 0 && snap.Skipped == 0 && snap.Failed > 0:
		runState = models.RunStateFailed
		message = fmt.Sprintf("all %d items failed", snap.Failed)
	default:
		runState = models.RunStateCompleted
		if snap.Failed > 0 {
			message = fmt.Sprintf("%d completed, %d skipped, %d failed", snap.Completed, snap.Skipped, snap.Failed)
		} else {
			message = fmt.Sprintf("%d completed, %d skipped", snap.Completed, snap.Skipped)
		}
	}

	o.registry.Complete(req.SubjectID, req.Kind, runState, message)

	o.logger.Info().
		Str("subject_id", req.SubjectID).
		Str("kind", string(req.Kind)).
		Str("state", string(runState)).
		Int("completed", snap.Completed).
		Int("failed", snap.Failed).
		Int("skipped", snap.Skipped).
		Msg("Batch finished")

	if o.events != nil {
		_ = o.events.Publish(context.Background(), interfaces.Event{
			Type: interfaces.EventBatchCompleted,
			Payload: map[string]interface{}{
				"subject_id": req.SubjectID,
				"kind":       req.Kind,
				"state":      runState,
				"progress":   snap,
			},
		})
	}
}

func (o *Orchestrator) pushProgress(ctx context.Context, req models.BatchRequest, tracker *state.Tracker) {
	snap := tracker.Snapshot()
	o.registry.UpdateProgress(req.SubjectID, req.Kind, snap)
	if o.events != nil {
		_ = o.events.Publish(ctx, interfaces.Event{
			Type: interfaces.EventBatchProgress,
			Payload: map[string]interface{}{
				"subject_id": req.SubjectID,
				"kind":       req.Kind,
				"progress":   snap,
			},
		})
	}
}

var _ interfaces.BatchOrchestrator = (*Orchestrator)(nil)
