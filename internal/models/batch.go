package models

import "time"

// BatchItem is one unit of work inside a batch: the subject it operates on
// plus the provider input needed to submit it.
type BatchItem struct {
	SubjectID string            `json:"subject_id" validate:"required"`
	Input     map[string]string `json:"input,omitempty"`
}

// ItemOutcome is the terminal result of one batch item.
type ItemOutcome string

const (
	OutcomeCompleted ItemOutcome = "completed"
	OutcomeFailed    ItemOutcome = "failed"
	OutcomeSkipped   ItemOutcome = "skipped"
	OutcomeCancelled ItemOutcome = "cancelled"
)

// ItemResult pairs an item with its outcome after a batch run. Started is
// false for items abandoned in the queue at the batch deadline or on
// cancellation; they never dispatched any work.
type ItemResult struct {
	SubjectID string        `json:"subject_id"`
	Outcome   ItemOutcome   `json:"outcome"`
	Started   bool          `json:"started"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// BatchRequest is the inbound payload that starts a batch.
type BatchRequest struct {
	SubjectID string      `json:"subject_id" validate:"required"`
	Kind      JobKind     `json:"kind" validate:"required"`
	Items     []BatchItem `json:"items" validate:"dive"`
	DeckPath  string      `json:"deck_path,omitempty"`
	Parallel  *bool       `json:"parallel,omitempty"`
}

// MonitorRequest is the inbound payload that starts a single-job monitor.
type MonitorRequest struct {
	SubjectID     string  `json:"subject_id" validate:"required"`
	Kind          JobKind `json:"kind" validate:"required"`
	ExternalJobID string  `json:"external_job_id" validate:"required"`
}

// BatchPreset is a reusable batch definition loaded from a YAML file at
// startup.
type BatchPreset struct {
	Name      string      `yaml:"name" json:"name"`
	Kind      JobKind     `yaml:"kind" json:"kind"`
	SubjectID string      `yaml:"subject_id" json:"subject_id"`
	DeckPath  string      `yaml:"deck_path,omitempty" json:"deck_path,omitempty"`
	Items     []BatchItem `yaml:"items,omitempty" json:"items,omitempty"`
}
