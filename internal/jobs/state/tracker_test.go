package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerCounters(t *testing.T) {
	tracker := NewTracker(5)

	tracker.Begin()
	tracker.Begin()
	snap := tracker.Snapshot()
	assert.Equal(t, 2, snap.InProgress)
	assert.Equal(t, 0, snap.Finished())

	tracker.Complete()
	tracker.Fail()
	tracker.Skip()
	snap = tracker.Snapshot()
	assert.Equal(t, 1, snap.Completed)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 1, snap.Skipped)
	assert.Equal(t, 0, snap.InProgress)
	assert.Equal(t, 3, snap.Finished())
	assert.InDelta(t, 60.0, snap.Percent(), 0.001)
}

func TestTrackerSnapshotIsCopy(t *testing.T) {
	tracker := NewTracker(2)
	tracker.Begin()
	snap := tracker.Snapshot()

	// Mutating the snapshot must not affect the tracker.
	snap.Completed = 99
	snap.InProgress = 99

	fresh := tracker.Snapshot()
	assert.Equal(t, 0, fresh.Completed)
	assert.Equal(t, 1, fresh.InProgress)
}

func TestTrackerConcurrentUpdates(t *testing.T) {
	const workers = 50
	tracker := NewTracker(workers * 2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tracker.Begin()
			tracker.Complete()
			tracker.Begin()
			if n%2 == 0 {
				tracker.Fail()
			} else {
				tracker.Complete()
			}
		}(i)
	}
	wg.Wait()

	snap := tracker.Snapshot()
	assert.Equal(t, workers*2, snap.Finished())
	assert.Equal(t, 0, snap.InProgress)
	assert.Equal(t, workers+workers/2, snap.Completed)
	assert.Equal(t, workers/2, snap.Failed)
	assert.True(t, snap.Done())
}

func TestTrackerFailWithoutStart(t *testing.T) {
	tracker := NewTracker(3)
	tracker.Begin()
	tracker.FailWithoutStart()

	snap := tracker.Snapshot()
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 1, snap.InProgress)
}
