// -----------------------------------------------------------------------
// Job Monitor - Follows one already-submitted external job to completion
// -----------------------------------------------------------------------

package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/common"
	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/models"
)

// ResultAction is the follow-up executed exactly once when a monitored job
// is first observed completed: registering the artifact, notifying a
// downstream stage. A failed action never un-completes the job.
type ResultAction func(ctx context.Context, job *models.JobState) error

// Options carry the monitor tuning knobs from config.
type Options struct {
	PollInterval    time.Duration
	MaxWaitDuration time.Duration
}

// Monitor polls provider status for individual external jobs in background
// goroutines.
type Monitor struct {
	storage   interfaces.JobStorage
	registry  interfaces.StatusRegistry
	events    interfaces.EventService
	providers map[models.JobKind]interfaces.ProviderClient
	action    ResultAction
	opts      Options
	logger    arbor.ILogger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates a monitor. action may be nil when no completion follow-up is
// configured.
func New(
	storage interfaces.JobStorage,
	registry interfaces.StatusRegistry,
	events interfaces.EventService,
	providers map[models.JobKind]interfaces.ProviderClient,
	action ResultAction,
	opts Options,
	logger arbor.ILogger,
) *Monitor {
	return &Monitor{
		storage:   storage,
		registry:  registry,
		events:    events,
		providers: providers,
		action:    action,
		opts:      opts,
		logger:    logger,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// StartMonitor begins following the job in the background and returns
// immediately. Re-entry for a job that is already terminal in storage runs
// no polls; for a completed job it still guarantees the one-shot follow-up
// has run.
func (m *Monitor) StartMonitor(ctx context.Context, req models.MonitorRequest) (string, error) {
	if req.SubjectID == "" || req.ExternalJobID == "" {
		return "", fmt.Errorf("subject id and external job id are required")
	}
	if !models.ValidKind(req.Kind) {
		return "", fmt.Errorf("unknown job kind: %s", req.Kind)
	}
	provider, ok := m.providers[req.Kind]
	if !ok {
		return "", fmt.Errorf("no provider registered for kind %s", req.Kind)
	}

	job, err := m.findOrCreateJob(ctx, req)
	if err != nil {
		return "", err
	}

	runID := common.NewRunID()
	m.registry.Start(req.SubjectID, req.Kind, 1)

	if job.Status.IsTerminal() {
		// Idempotent re-entry: no polling, but a completed job still gets
		// its follow-up if a crash interrupted the first attempt. The record
		// is already open, so a follow-up failure lands on it.
		if job.Status == models.JobStatusCompleted {
			m.ensureSideEffect(ctx, job)
		}
		m.recordTerminal(req, job)
		m.logger.Debug().
			Str("external_id", req.ExternalJobID).
			Str("status", string(job.Status)).
			Msg("Job already terminal, monitor not started")
		return runID, nil
	}

	monitorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Lock()
	if prev, ok := m.cancels[req.ExternalJobID]; ok {
		prev()
	}
	m.cancels[req.ExternalJobID] = cancel
	m.mu.Unlock()

	common.SafeGo(m.logger, "monitor-"+runID, func() {
		defer func() {
			cancel()
			m.mu.Lock()
			delete(m.cancels, req.ExternalJobID)
			m.mu.Unlock()
		}()
		m.watch(monitorCtx, provider, req, job.ID)
	})

	m.logger.Info().
		Str("run_id", runID).
		Str("subject_id", req.SubjectID).
		Str("external_id", req.ExternalJobID).
		Msg("Monitor started")

	return runID, nil
}

// CancelMonitor stops an active monitor for the external job id. The job's
// stored status is left untouched.
func (m *Monitor) CancelMonitor(externalJobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, ok := m.cancels[externalJobID]
	if !ok {
		return false
	}
	cancel()
	return true
}

func (m *Monitor) findOrCreateJob(ctx context.Context, req models.MonitorRequest) (*models.JobState, error) {
	job, err := m.storage.GetByExternalID(ctx, req.ExternalJobID)
	if err == nil {
		return job, nil
	}

	job = models.NewJobState(req.SubjectID, req.Kind)
	if err := job.SetExternalID(req.ExternalJobID); err != nil {
		return nil, err
	}
	if err := m.storage.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist monitored job: %w", err)
	}
	return job, nil
}

// watch is the polling loop. It runs until the job reaches a terminal
// state, the wait budget is exhausted, or the context is cancelled.
func (m *Monitor) watch(ctx context.Context, provider interfaces.ProviderClient, req models.MonitorRequest, jobID string) {
	interval := m.opts.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	maxPolls := int(m.opts.MaxWaitDuration / interval)
	if maxPolls < 1 {
		maxPolls = 1
	}

	polls := 0
	for {
		select {
		case <-ctx.Done():
			// External cancel stops polling without failing the job; the
			// stored status stays at whatever the last poll observed.
			m.registry.Complete(req.SubjectID, req.Kind, models.RunStateCancelled, "monitor cancelled")
			m.logger.Info().Str("external_id", req.ExternalJobID).Msg("Monitor cancelled")
			return
		case <-ticker.C:
		}

		polls++
		if polls > maxPolls {
			m.timeOutJob(ctx, req, jobID, polls-1)
			return
		}

		snap, err := provider.PollStatus(ctx, req.ExternalJobID)
		if err != nil {
			if models.IsTransient(err) {
				m.logger.Warn().
					Err(err).
					Str("external_id", req.ExternalJobID).
					Int("poll", polls).
					Msg("Transient poll failure, will retry on next tick")
				continue
			}
			m.failJob(ctx, req, jobID, err.Error())
			return
		}

		job, changed, err := m.storage.ApplySnapshot(ctx, jobID, snap)
		if err != nil {
			m.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to persist poll snapshot")
			continue
		}

		if changed {
			m.publishStatusChange(ctx, job)
			m.registry.UpdateProgress(req.SubjectID, req.Kind, m.progressFor(job))
		}

		if !job.Status.IsTerminal() {
			continue
		}

		if job.Status == models.JobStatusCompleted {
			if job.Result == nil {
				if result, err := provider.FetchResult(ctx, req.ExternalJobID); err == nil && result != nil {
					job.Result = result
					if err := m.storage.Save(ctx, job); err != nil {
						m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist fetched result")
					}
				}
			}
			m.ensureSideEffect(ctx, job)
		}

		m.recordTerminal(req, job)
		m.logger.Info().
			Str("external_id", req.ExternalJobID).
			Str("status", string(job.Status)).
			Int("polls", polls).
			Msg("Monitor finished")
		return
	}
}

// ensureSideEffect runs the completion follow-up at most once per job. The
// guard flag is persisted before the action runs, so a crash mid-action
// cannot cause a second execution.
func (m *Monitor) ensureSideEffect(ctx context.Context, job *models.JobState) {
	if m.action == nil {
		return
	}
	first, err := m.storage.MarkSideEffectRun(ctx, job.ID)
	if err != nil {
		m.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to claim side-effect guard")
		return
	}
	if !first {
		return
	}
	if err := m.action(ctx, job); err != nil {
		// The job stays completed; the failure is surfaced, not retried.
		m.logger.Error().Err(err).Str("job_id", job.ID).Msg("Completion follow-up failed")
		m.registry.AddError(job.SubjectID, job.Kind, fmt.Sprintf("completion follow-up failed: %v", err))
	}
}

func (m *Monitor) timeOutJob(ctx context.Context, req models.MonitorRequest, jobID string, polls int) {
	msg := fmt.Sprintf("%v: no terminal status after %d polls", models.ErrTimeout, polls)
	m.failJob(ctx, req, jobID, msg)
	m.logger.Warn().
		Str("external_id", req.ExternalJobID).
		Int("polls", polls).
		Msg("Monitor wait budget exhausted")
}

func (m *Monitor) failJob(ctx context.Context, req models.MonitorRequest, jobID string, errMsg string) {
	job, _, err := m.storage.ApplySnapshot(ctx, jobID, models.StatusSnapshot{
		Status:    models.JobStatusFailed,
		Error:     errMsg,
		Retryable: true,
	})
	if err != nil {
		m.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to persist job failure")
	} else {
		m.publishStatusChange(ctx, job)
	}
	m.registry.AddError(req.SubjectID, req.Kind, errMsg)
	m.registry.Complete(req.SubjectID, req.Kind, models.RunStateFailed, errMsg)
}

func (m *Monitor) recordTerminal(req models.MonitorRequest, job *models.JobState) {
	m.registry.UpdateProgress(req.SubjectID, req.Kind, m.progressFor(job))
	switch job.Status {
	case models.JobStatusCompleted:
		m.registry.Complete(req.SubjectID, req.Kind, models.RunStateCompleted, "job completed")
	case models.JobStatusCancelled:
		m.registry.Complete(req.SubjectID, req.Kind, models.RunStateCancelled, "job cancelled")
	default:
		m.registry.Complete(req.SubjectID, req.Kind, models.RunStateFailed, job.Error)
	}
}

func (m *Monitor) progressFor(job *models.JobState) models.ProgressSnapshot {
	snap := models.ProgressSnapshot{Total: 1}
	switch job.Status {
	case models.JobStatusCompleted:
		snap.Completed = 1
	case models.JobStatusFailed:
		snap.Failed = 1
	case models.JobStatusCancelled:
		// cancelled leaves all counters at zero
	default:
		snap.InProgress = 1
	}
	return snap
}

func (m *Monitor) publishStatusChange(ctx context.Context, job *models.JobState) {
	if m.events == nil {
		return
	}
	_ = m.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventJobStatusChanged,
		Payload: job,
	})
}

var _ interfaces.JobMonitor = (*Monitor)(nil)
