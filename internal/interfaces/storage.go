package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/showreel/internal/models"
)

// JobStorage - durable persistence for job state
type JobStorage interface {
	Save(ctx context.Context, job *models.JobState) error
	Get(ctx context.Context, id string) (*models.JobState, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.JobState, error)
	GetBySubject(ctx context.Context, subjectID string, kind models.JobKind) (*models.JobState, error)
	ListBySubject(ctx context.Context, subjectID string) ([]*models.JobState, error)

	// ApplySnapshot loads, folds and persists atomically under the storage
	// lock. Returns the updated state and whether anything changed.
	ApplySnapshot(ctx context.Context, id string, snap models.StatusSnapshot) (*models.JobState, bool, error)

	// MarkSideEffectRun flips the one-shot follow-up guard. Returns false if
	// the guard was already set, so callers run the side effect at most once.
	MarkSideEffectRun(ctx context.Context, id string) (bool, error)

	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// WebhookStorage - durable queue for inbound provider callbacks
type WebhookStorage interface {
	Insert(ctx context.Context, event *models.WebhookEvent) error
	Get(ctx context.Context, id string) (*models.WebhookEvent, error)

	// ClaimUnprocessed returns up to limit events that are neither processed
	// nor stuck, oldest first.
	ClaimUnprocessed(ctx context.Context, limit int) ([]*models.WebhookEvent, error)

	MarkProcessed(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string, errMsg string, stuck bool) error
	ListStuck(ctx context.Context) ([]*models.WebhookEvent, error)

	// DeleteOlderThan removes events received before the cutoff regardless of
	// processed state. Returns the number removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}

// StorageManager owns the badger connection and hands out typed stores.
type StorageManager interface {
	JobStorage() JobStorage
	WebhookStorage() WebhookStorage
	Close() error
}
