// -----------------------------------------------------------------------
// Progress Tracker - Concurrent-safe batch counters
// -----------------------------------------------------------------------

package state

import (
	"sync"

	"github.com/ternarybob/showreel/internal/models"
)

// Tracker maintains live counters for one batch. All mutations go through
// its methods; Snapshot returns a value copy, so callers can never observe
// or mutate internal state directly.
type Tracker struct {
	mu         sync.Mutex
	total      int
	completed  int
	failed     int
	skipped    int
	inProgress int
}

// NewTracker creates a tracker for a batch of the given size.
func NewTracker(total int) *Tracker {
	return &Tracker{total: total}
}

// Begin records an item entering execution.
func (t *Tracker) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inProgress++
}

// Complete records a successful item. If the item was in progress its slot
// is released.
func (t *Tracker) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inProgress > 0 {
		t.inProgress--
	}
	t.completed++
}

// Fail records a failed item. If the item was in progress its slot is
// released.
func (t *Tracker) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inProgress > 0 {
		t.inProgress--
	}
	t.failed++
}

// Skip records an item that was never dispatched because its work already
// existed. Skipped items count toward completion percentage.
func (t *Tracker) Skip() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skipped++
}

// FailWithoutStart records an item that failed before it ever began
// executing, such as a queued item abandoned at the batch deadline.
func (t *Tracker) FailWithoutStart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
}

// Snapshot returns an immutable point-in-time view of the counters.
func (t *Tracker) Snapshot() models.ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return models.ProgressSnapshot{
		Total:      t.total,
		Completed:  t.completed,
		Failed:     t.failed,
		Skipped:    t.skipped,
		InProgress: t.inProgress,
	}
}
