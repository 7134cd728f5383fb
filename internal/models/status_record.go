package models

import "time"

// RunStateValue is the aggregate lifecycle of one tracked run
// (a batch or a single monitored job) in the status registry.
type RunStateValue string

const (
	RunStatePending    RunStateValue = "pending"
	RunStateInProgress RunStateValue = "in_progress"
	RunStateCompleted  RunStateValue = "completed"
	RunStateFailed     RunStateValue = "failed"
	RunStateCancelled  RunStateValue = "cancelled"
	// RunStateNone is reported for subjects that have never had a run.
	RunStateNone RunStateValue = "none"
)

// IsTerminal returns true once the run can no longer change.
func (s RunStateValue) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateFailed || s == RunStateCancelled
}

// maxRecordedErrors bounds the per-run error list so a large failing batch
// cannot grow a record without limit.
const maxRecordedErrors = 50

// StatusRecord is the registry's view of one run, keyed by (subject, kind).
// Readers always receive a copy; the slice inside a returned record is never
// shared with the registry's own storage.
type StatusRecord struct {
	SubjectID string           `json:"subject_id"`
	Kind      JobKind          `json:"kind"`
	State     RunStateValue    `json:"state"`
	Progress  ProgressSnapshot `json:"progress"`
	Message   string           `json:"message,omitempty"`
	Errors    []string         `json:"errors,omitempty"`
	Truncated int              `json:"errors_truncated,omitempty"`
	StartedAt time.Time        `json:"started_at,omitzero"`
	UpdatedAt time.Time        `json:"updated_at,omitzero"`
	EndedAt   *time.Time       `json:"ended_at,omitempty"`
}

// NewStatusRecord opens a fresh record for a run that is about to start.
func NewStatusRecord(subjectID string, kind JobKind, total int) *StatusRecord {
	now := time.Now()
	return &StatusRecord{
		SubjectID: subjectID,
		Kind:      kind,
		State:     RunStateInProgress,
		Progress:  ProgressSnapshot{Total: total},
		StartedAt: now,
		UpdatedAt: now,
	}
}

// EmptyStatusRecord is what Get returns for a subject with no run history.
func EmptyStatusRecord(subjectID string, kind JobKind) StatusRecord {
	return StatusRecord{
		SubjectID: subjectID,
		Kind:      kind,
		State:     RunStateNone,
	}
}

// AppendError records an error message, dropping the message (and counting it)
// once the bounded list is full.
func (r *StatusRecord) AppendError(msg string) {
	if len(r.Errors) >= maxRecordedErrors {
		r.Truncated++
		return
	}
	r.Errors = append(r.Errors, msg)
}

// Clone returns a deep copy safe to hand to readers.
func (r *StatusRecord) Clone() StatusRecord {
	out := *r
	if r.Errors != nil {
		out.Errors = make([]string, len(r.Errors))
		copy(out.Errors, r.Errors)
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		out.EndedAt = &t
	}
	return out
}
