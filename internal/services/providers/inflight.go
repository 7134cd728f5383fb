package providers

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ternarybob/showreel/internal/models"
)

// inflightJobs tracks jobs a provider adapter executes in its own background
// goroutines. Adapters whose upstream has no job API of its own (the LLM
// providers) still honour the submit/poll contract by recording status here.
type inflightJobs struct {
	mu   sync.RWMutex
	jobs map[string]models.StatusSnapshot
}

func newInflightJobs() *inflightJobs {
	return &inflightJobs{jobs: make(map[string]models.StatusSnapshot)}
}

// begin registers a new job and returns its generated external id.
func (f *inflightJobs) begin(prefix string) string {
	id := prefix + "_" + uuid.New().String()
	f.mu.Lock()
	f.jobs[id] = models.StatusSnapshot{Status: models.JobStatusProcessing}
	f.mu.Unlock()
	return id
}

func (f *inflightJobs) setProgress(id string, progress int, stage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.jobs[id]
	if !ok || snap.Status.IsTerminal() {
		return
	}
	snap.Progress = progress
	snap.Stage = stage
	f.jobs[id] = snap
}

func (f *inflightJobs) complete(id string, result *models.ResultRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.jobs[id]
	if !ok || snap.Status.IsTerminal() {
		return
	}
	snap.Status = models.JobStatusCompleted
	snap.Progress = 100
	snap.Result = result
	f.jobs[id] = snap
}

func (f *inflightJobs) fail(id string, errMsg string, retryable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.jobs[id]
	if !ok || snap.Status.IsTerminal() {
		return
	}
	snap.Status = models.JobStatusFailed
	snap.Error = errMsg
	snap.Retryable = retryable
	f.jobs[id] = snap
}

// snapshot returns the current status for the job id.
func (f *inflightJobs) snapshot(id string) (models.StatusSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snap, ok := f.jobs[id]
	if !ok {
		return models.StatusSnapshot{}, models.NewTerminalError("inflight", fmt.Errorf("unknown job id: %s", id))
	}
	return snap, nil
}

// result returns the result of a completed job.
func (f *inflightJobs) result(id string) (*models.ResultRef, error) {
	snap, err := f.snapshot(id)
	if err != nil {
		return nil, err
	}
	if snap.Status != models.JobStatusCompleted {
		return nil, fmt.Errorf("job %s has no result (status %s)", id, snap.Status)
	}
	return snap.Result, nil
}
