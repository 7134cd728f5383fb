package interfaces

import (
	"context"

	"github.com/ternarybob/showreel/internal/models"
)

// StatusRegistry is the queryable view of every run's latest state.
// Writes for a given (subject, kind) key come from the single goroutine that
// owns the run; reads may come from anywhere.
type StatusRegistry interface {
	Start(subjectID string, kind models.JobKind, total int)
	UpdateProgress(subjectID string, kind models.JobKind, snap models.ProgressSnapshot)
	AddError(subjectID string, kind models.JobKind, msg string)
	Complete(subjectID string, kind models.JobKind, state models.RunStateValue, message string)

	// Get never fails: an unknown key returns a zero-value record with
	// state "none".
	Get(subjectID string, kind models.JobKind) models.StatusRecord
	List() []models.StatusRecord
}

// BatchOrchestrator drives a batch of jobs to terminal state.
type BatchOrchestrator interface {
	// StartBatch validates, registers the run and returns immediately; the
	// batch executes in the background. The returned id identifies the run.
	StartBatch(ctx context.Context, req models.BatchRequest) (string, error)

	// CancelBatch requests cooperative cancellation of a running batch.
	CancelBatch(subjectID string, kind models.JobKind) bool
}

// JobMonitor follows a single already-submitted external job to completion.
type JobMonitor interface {
	// StartMonitor begins polling in the background and returns immediately.
	StartMonitor(ctx context.Context, req models.MonitorRequest) (string, error)

	// CancelMonitor stops an active monitor without failing the job.
	CancelMonitor(externalJobID string) bool
}

// WebhookService ingests and processes provider callbacks.
type WebhookService interface {
	// Ingest validates and durably stores one inbound event. A
	// models.MalformedEventError means the payload was rejected and nothing
	// was stored.
	Ingest(ctx context.Context, provider string, body []byte) (string, error)

	// Start launches the background processor loop.
	Start(ctx context.Context) error
	Stop()
}
