// -----------------------------------------------------------------------
// Status Registry - Latest run state per (subject, kind)
// -----------------------------------------------------------------------

package registry

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/interfaces"
	"github.com/ternarybob/showreel/internal/models"
)

type key struct {
	subjectID string
	kind      models.JobKind
}

// Service is the in-memory status registry. Each (subject, kind) key has a
// single writer - the orchestrator or monitor goroutine that owns the run -
// while reads come from HTTP handlers on any goroutine. A new Start for a
// key supersedes the previous record entirely.
type Service struct {
	mu        sync.RWMutex
	records   map[key]*models.StatusRecord
	retention time.Duration
	logger    arbor.ILogger
	cron      *cron.Cron
}

// NewService creates a registry. retention controls how long terminal
// records survive before the eviction sweep removes them.
func NewService(logger arbor.ILogger, retention time.Duration) *Service {
	return &Service{
		records:   make(map[key]*models.StatusRecord),
		retention: retention,
		logger:    logger,
	}
}

// StartSweeper schedules the periodic eviction of aged terminal records.
func (s *Service) StartSweeper(schedule string) error {
	if schedule == "" {
		return nil
	}
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(schedule, func() {
		evicted := s.EvictTerminal(time.Now().Add(-s.retention))
		if evicted > 0 {
			s.logger.Debug().Int("evicted", evicted).Msg("Evicted aged status records")
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	s.cron = c
	return nil
}

// StopSweeper halts the eviction schedule.
func (s *Service) StopSweeper() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Start opens a fresh record for a run, discarding any previous record for
// the same key.
func (s *Service) Start(subjectID string, kind models.JobKind, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key{subjectID, kind}] = models.NewStatusRecord(subjectID, kind, total)
}

// UpdateProgress replaces the run's progress snapshot.
func (s *Service) UpdateProgress(subjectID string, kind models.JobKind, snap models.ProgressSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key{subjectID, kind}]
	if !ok || rec.State.IsTerminal() {
		return
	}
	rec.Progress = snap
	rec.UpdatedAt = time.Now()
}

// AddError appends to the run's bounded error list.
func (s *Service) AddError(subjectID string, kind models.JobKind, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key{subjectID, kind}]
	if !ok {
		return
	}
	rec.AppendError(msg)
	rec.UpdatedAt = time.Now()
}

// Complete moves the run to a terminal state. Later Complete calls for the
// same record are ignored; a superseding Start opens a new record instead.
func (s *Service) Complete(subjectID string, kind models.JobKind, state models.RunStateValue, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key{subjectID, kind}]
	if !ok || rec.State.IsTerminal() {
		return
	}
	now := time.Now()
	rec.State = state
	rec.Message = message
	rec.UpdatedAt = now
	rec.EndedAt = &now
}

// Get returns the latest record for the key. Unknown keys return a
// zero-value record with state "none" - never an error, so "has this ever
// run" is always answerable.
func (s *Service) Get(subjectID string, kind models.JobKind) models.StatusRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key{subjectID, kind}]
	if !ok {
		return models.EmptyStatusRecord(subjectID, kind)
	}
	return rec.Clone()
}

// List returns a copy of every tracked record.
func (s *Service) List() []models.StatusRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.StatusRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out
}

// EvictTerminal removes terminal records whose run ended before the cutoff.
// Returns the number of records removed.
func (s *Service) EvictTerminal(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for k, rec := range s.records {
		if rec.State.IsTerminal() && rec.EndedAt != nil && rec.EndedAt.Before(cutoff) {
			delete(s.records, k)
			evicted++
		}
	}
	return evicted
}

var _ interfaces.StatusRegistry = (*Service)(nil)
