// -----------------------------------------------------------------------
// Bounded Executor - Runs batch items under a concurrency ceiling
// -----------------------------------------------------------------------

package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/semaphore"

	"github.com/ternarybob/showreel/internal/common"
	"github.com/ternarybob/showreel/internal/models"
)

// WorkFunc executes one batch item. The context carries the per-item
// timeout; implementations must return promptly once it is cancelled.
type WorkFunc func(ctx context.Context, item models.BatchItem) error

// Options configure a single executor run.
type Options struct {
	MaxConcurrent  int
	PerItemTimeout time.Duration
	Parallel       bool
}

// Summary is the aggregate outcome of one run. Item failures are reported
// here, never as an error from Run: a batch with failed items is still a
// finished batch.
type Summary struct {
	Results   []models.ItemResult
	Completed int
	Failed    int
	Cancelled int
}

// Executor runs batch items with bounded concurrency. A weighted semaphore
// caps in-flight items, and each slot is held for the item's entire unit of
// work including its polling lifecycle.
type Executor struct {
	logger arbor.ILogger
}

// New creates an executor.
func New(logger arbor.ILogger) *Executor {
	return &Executor{logger: logger}
}

// Deadline computes the overall run budget:
// max(itemCount x perItemTimeout / maxConcurrent, 2 x perItemTimeout).
// The floor keeps small batches from being starved when maxConcurrent is
// large relative to the item count.
func Deadline(itemCount int, perItemTimeout time.Duration, maxConcurrent int) time.Duration {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	budget := time.Duration(itemCount) * perItemTimeout / time.Duration(maxConcurrent)
	floor := 2 * perItemTimeout
	if budget < floor {
		return floor
	}
	return budget
}

// Run executes every item and returns a per-item outcome summary. Run never
// aborts because an item failed; the only early exit is the overall deadline
// or external cancellation, and even then every remaining item receives a
// terminal outcome.
func (e *Executor) Run(ctx context.Context, items []models.BatchItem, work WorkFunc, opts Options) Summary {
	if len(items) == 0 {
		return Summary{}
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}

	runCtx, cancel := context.WithTimeout(ctx, Deadline(len(items), opts.PerItemTimeout, opts.MaxConcurrent))
	defer cancel()

	if !opts.Parallel {
		return e.runSequential(runCtx, items, work, opts)
	}
	return e.runParallel(runCtx, items, work, opts)
}

func (e *Executor) runParallel(ctx context.Context, items []models.BatchItem, work WorkFunc, opts Options) Summary {
	sem := semaphore.NewWeighted(int64(opts.MaxConcurrent))
	results := make([]models.ItemResult, len(items))

	var wg sync.WaitGroup
	for i := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Deadline or cancellation hit while queued: the item never
			// started, mark it without dispatching.
			results[i] = e.undispatchedResult(items[i], ctx.Err())
			continue
		}

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer sem.Release(1)
			results[idx] = e.runItem(ctx, items[idx], work, opts.PerItemTimeout)
		}(i)
	}
	wg.Wait()

	return summarize(results)
}

func (e *Executor) runSequential(ctx context.Context, items []models.BatchItem, work WorkFunc, opts Options) Summary {
	results := make([]models.ItemResult, len(items))
	for i := range items {
		if ctx.Err() != nil {
			results[i] = e.undispatchedResult(items[i], ctx.Err())
			continue
		}
		results[i] = e.runItem(ctx, items[i], work, opts.PerItemTimeout)
	}
	return summarize(results)
}

// runItem executes one item with its own timeout and panic isolation.
func (e *Executor) runItem(ctx context.Context, item models.BatchItem, work WorkFunc, perItemTimeout time.Duration) models.ItemResult {
	itemCtx := ctx
	if perItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, perItemTimeout)
		defer cancel()
	}

	start := time.Now()
	err := e.safeWork(itemCtx, item, work)
	elapsed := time.Since(start)

	if err == nil {
		return models.ItemResult{SubjectID: item.SubjectID, Outcome: models.OutcomeCompleted, Started: true, Duration: elapsed}
	}

	// External cancellation of the whole batch is reported as cancelled,
	// not failed; a per-item deadline is an item failure.
	if errors.Is(ctx.Err(), context.Canceled) {
		return models.ItemResult{
			SubjectID: item.SubjectID,
			Outcome:   models.OutcomeCancelled,
			Started:   true,
			Error:     err.Error(),
			Duration:  elapsed,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}
	return models.ItemResult{
		SubjectID: item.SubjectID,
		Outcome:   models.OutcomeFailed,
		Started:   true,
		Error:     err.Error(),
		Duration:  elapsed,
	}
}

// safeWork invokes the work function with panic recovery so one bad item
// cannot take down the run.
func (e *Executor) safeWork(ctx context.Context, item models.BatchItem, work WorkFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := common.GetStackTrace()
			e.logger.Error().
				Str("subject_id", item.SubjectID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", stack).
				Msg("Recovered from panic in batch item")
			err = fmt.Errorf("item panicked: %v", r)
		}
	}()
	return work(ctx, item)
}

// undispatchedResult classifies an item that never started.
func (e *Executor) undispatchedResult(item models.BatchItem, cause error) models.ItemResult {
	if errors.Is(cause, context.Canceled) {
		return models.ItemResult{SubjectID: item.SubjectID, Outcome: models.OutcomeCancelled, Error: "batch cancelled before item started"}
	}
	return models.ItemResult{
		SubjectID: item.SubjectID,
		Outcome:   models.OutcomeFailed,
		Error:     fmt.Sprintf("%v: batch deadline reached before item started", models.ErrTimeout),
	}
}

func summarize(results []models.ItemResult) Summary {
	summary := Summary{Results: results}
	for _, r := range results {
		switch r.Outcome {
		case models.OutcomeCompleted:
			summary.Completed++
		case models.OutcomeCancelled:
			summary.Cancelled++
		default:
			summary.Failed++
		}
	}
	return summary
}
