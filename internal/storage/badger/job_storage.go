package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/models"
)

// JobStorage implements the JobStorage interface for Badger.
// A single mutex serializes read-modify-write cycles so ApplySnapshot and
// MarkSideEffectRun behave atomically even when the webhook processor and a
// monitor race on the same job.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) Save(ctx context.Context, job *models.JobState) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) Get(ctx context.Context, id string) (*models.JobState, error) {
	var job models.JobState
	if err := s.db.Store().Get(id, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) GetByExternalID(ctx context.Context, externalID string) (*models.JobState, error) {
	var jobs []models.JobState
	if err := s.db.Store().Find(&jobs, badgerhold.Where("ExternalJobID").Eq(externalID)); err != nil {
		return nil, fmt.Errorf("failed to find job by external id: %w", err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: external id %s", models.ErrJobNotFound, externalID)
	}
	return &jobs[0], nil
}

func (s *JobStorage) GetBySubject(ctx context.Context, subjectID string, kind models.JobKind) (*models.JobState, error) {
	var jobs []models.JobState
	query := badgerhold.Where("SubjectID").Eq(subjectID).And("Kind").Eq(kind).SortBy("CreatedAt").Reverse()
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to find job by subject: %w", err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: subject %s kind %s", models.ErrJobNotFound, subjectID, kind)
	}
	// Latest record for the subject/kind pair
	return &jobs[0], nil
}

func (s *JobStorage) ListBySubject(ctx context.Context, subjectID string) ([]*models.JobState, error) {
	var jobs []models.JobState
	query := badgerhold.Where("SubjectID").Eq(subjectID).SortBy("CreatedAt").Reverse()
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	result := make([]*models.JobState, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// ApplySnapshot folds a status snapshot into the stored job under the storage
// lock. The transition guard inside JobState rejects non-monotonic updates,
// so a stale poll result or duplicate webhook can never regress a terminal
// status.
func (s *JobStorage) ApplySnapshot(ctx context.Context, id string, snap models.StatusSnapshot) (*models.JobState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	changed := job.ApplySnapshot(snap)
	if !changed {
		return job, false, nil
	}

	if err := s.Save(ctx, job); err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// MarkSideEffectRun flips the one-shot follow-up guard under the storage
// lock. Returns true only for the first caller.
func (s *JobStorage) MarkSideEffectRun(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if job.SideEffectRun {
		return false, nil
	}
	job.SideEffectRun = true
	if err := s.Save(ctx, job); err != nil {
		return false, err
	}
	return true, nil
}

func (s *JobStorage) Delete(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.JobState{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *JobStorage) Count(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.JobState{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}
