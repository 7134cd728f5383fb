// -----------------------------------------------------------------------
// Job - unit of externally-executed work and its status lifecycle
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobKind classifies the external operation a job performs.
type JobKind string

const (
	KindSlideAnalysis JobKind = "slide_analysis"
	KindNarrative     JobKind = "narrative_generation"
	KindAvatarVideo   JobKind = "avatar_video"
	KindRenderJob     JobKind = "render_job"
	KindAssetIngest   JobKind = "asset_ingest"
)

// ValidKind reports whether k names a known job kind.
func ValidKind(k JobKind) bool {
	switch k {
	case KindSlideAnalysis, KindNarrative, KindAvatarVideo, KindRenderJob, KindAssetIngest:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a job.
// Transitions are monotonic: pending -> processing -> terminal,
// with pending allowed to jump straight to a terminal state.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal returns true for completed, failed and cancelled.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// rank orders statuses for monotonic transition checks.
func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return 2
	}
	return -1
}

// CanTransition reports whether moving from -> to is a legal status update.
// Terminal states accept no further transitions. Same-state updates are legal
// only for non-terminal states (repeated processing updates carry fresh
// progress); a duplicate terminal update is not a transition and must be
// treated as a no-op by callers.
func CanTransition(from, to JobStatus) bool {
	if from.rank() < 0 || to.rank() < 0 {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	if from == to {
		return true
	}
	return to.rank() > from.rank()
}

// JobHandle identifies one unit of externally-executed work.
// ExternalJobID is empty until the provider accepts the request and is set
// exactly once via SetExternalID.
type JobHandle struct {
	SubjectID     string  `json:"subject_id"`
	ExternalJobID string  `json:"external_job_id,omitempty"`
	Kind          JobKind `json:"kind"`
}

// NewJobHandle creates a handle for a subject/kind pair before provider submission.
func NewJobHandle(subjectID string, kind JobKind) JobHandle {
	return JobHandle{
		SubjectID: subjectID,
		Kind:      kind,
	}
}

// ResultRef points at the artifact a completed job produced. Text-producing
// jobs (analysis, narrative) carry their output inline; media jobs carry a URL.
type ResultRef struct {
	URL             string  `json:"url,omitempty"`
	Text            string  `json:"text,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
}

// JobState is the persisted record for one job: the immutable handle plus
// mutable runtime status. Status mutations go through the transition helpers;
// nothing outside the owning orchestrator or monitor should write to it.
type JobState struct {
	ID            string     `json:"id" badgerhold:"key"`
	SubjectID     string     `json:"subject_id"`
	ExternalJobID string     `json:"external_job_id,omitempty"`
	Kind          JobKind    `json:"kind"`
	Status        JobStatus  `json:"status"`
	Progress      int        `json:"progress"` // 0-100, provider-reported
	Stage         string     `json:"stage,omitempty"`
	Result        *ResultRef `json:"result,omitempty"`
	Error         string     `json:"error,omitempty"`
	Retryable     bool       `json:"retryable,omitempty"`
	SideEffectRun bool       `json:"side_effect_run"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// NewJobState creates a pending job record for a subject/kind pair.
func NewJobState(subjectID string, kind JobKind) *JobState {
	return &JobState{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		Kind:      kind,
		Status:    JobStatusPending,
		CreatedAt: time.Now(),
	}
}

// Handle extracts the job handle from the persisted state.
func (j *JobState) Handle() JobHandle {
	return JobHandle{
		SubjectID:     j.SubjectID,
		ExternalJobID: j.ExternalJobID,
		Kind:          j.Kind,
	}
}

// SetExternalID records the provider-assigned job id. It may be set exactly
// once; a second call with a different id is an error.
func (j *JobState) SetExternalID(externalID string) error {
	if externalID == "" {
		return fmt.Errorf("external job id cannot be empty")
	}
	if j.ExternalJobID != "" && j.ExternalJobID != externalID {
		return fmt.Errorf("external job id already set to %s", j.ExternalJobID)
	}
	j.ExternalJobID = externalID
	return nil
}

// ApplySnapshot folds a provider status snapshot into the job state.
// Non-monotonic updates (anything after a terminal state, processing after
// completed) are rejected with changed=false; duplicate terminal updates are
// reported as a no-op without error.
func (j *JobState) ApplySnapshot(snap StatusSnapshot) (changed bool) {
	if j.Status.IsTerminal() {
		return false
	}
	if !CanTransition(j.Status, snap.Status) {
		return false
	}
	switch snap.Status {
	case JobStatusProcessing:
		if j.StartedAt == nil {
			now := time.Now()
			j.StartedAt = &now
		}
		j.Status = JobStatusProcessing
		if snap.Progress > j.Progress {
			j.Progress = snap.Progress
		}
		if snap.Stage != "" {
			j.Stage = snap.Stage
		}
	case JobStatusCompleted:
		j.MarkCompleted(snap.Result)
	case JobStatusFailed:
		j.MarkFailed(snap.Error, snap.Retryable)
	case JobStatusCancelled:
		j.MarkCancelled()
	default:
		return false
	}
	return true
}

// MarkStarted moves a pending job into processing.
func (j *JobState) MarkStarted() {
	if !CanTransition(j.Status, JobStatusProcessing) {
		return
	}
	j.Status = JobStatusProcessing
	now := time.Now()
	j.StartedAt = &now
}

// MarkCompleted moves the job to completed with its result reference.
func (j *JobState) MarkCompleted(result *ResultRef) {
	if j.Status.IsTerminal() {
		return
	}
	j.Status = JobStatusCompleted
	j.Progress = 100
	if result != nil {
		j.Result = result
	}
	now := time.Now()
	j.CompletedAt = &now
}

// MarkFailed moves the job to failed with an error message.
func (j *JobState) MarkFailed(errorMsg string, retryable bool) {
	if j.Status.IsTerminal() {
		return
	}
	j.Status = JobStatusFailed
	j.Error = errorMsg
	j.Retryable = retryable
	now := time.Now()
	j.CompletedAt = &now
}

// MarkCancelled moves the job to cancelled.
func (j *JobState) MarkCancelled() {
	if j.Status.IsTerminal() {
		return
	}
	j.Status = JobStatusCancelled
	now := time.Now()
	j.CompletedAt = &now
}

// StatusSnapshot is a provider-reported view of one job at a point in time.
type StatusSnapshot struct {
	Status    JobStatus  `json:"status"`
	Progress  int        `json:"progress,omitempty"`
	Stage     string     `json:"stage,omitempty"`
	Result    *ResultRef `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	Retryable bool       `json:"retryable,omitempty"`
}

// JobSpec describes the work submitted to a provider.
type JobSpec struct {
	SubjectID string            `json:"subject_id"`
	Kind      JobKind           `json:"kind"`
	Input     map[string]string `json:"input,omitempty"`
}

// Validate checks the spec before provider submission.
func (s JobSpec) Validate() error {
	if s.SubjectID == "" {
		return fmt.Errorf("subject id is required")
	}
	if !ValidKind(s.Kind) {
		return fmt.Errorf("unknown job kind: %s", s.Kind)
	}
	return nil
}
