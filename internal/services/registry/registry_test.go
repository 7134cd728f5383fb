package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/models"
)

func newTestRegistry() *Service {
	return NewService(arbor.NewLogger(), time.Hour)
}

func TestGetMissingKeyReturnsZeroValue(t *testing.T) {
	reg := newTestRegistry()

	rec := reg.Get("never-ran", models.KindSlideAnalysis)
	assert.Equal(t, models.RunStateNone, rec.State)
	assert.Equal(t, "never-ran", rec.SubjectID)
	assert.Empty(t, rec.Errors)
	assert.True(t, rec.StartedAt.IsZero())
}

func TestRunLifecycle(t *testing.T) {
	reg := newTestRegistry()

	reg.Start("deck-1", models.KindSlideAnalysis, 10)
	rec := reg.Get("deck-1", models.KindSlideAnalysis)
	assert.Equal(t, models.RunStateInProgress, rec.State)
	assert.Equal(t, 10, rec.Progress.Total)

	reg.UpdateProgress("deck-1", models.KindSlideAnalysis, models.ProgressSnapshot{
		Total: 10, Completed: 4, Failed: 1, InProgress: 2,
	})
	reg.AddError("deck-1", models.KindSlideAnalysis, "slide-3: provider rejected")

	rec = reg.Get("deck-1", models.KindSlideAnalysis)
	assert.Equal(t, 4, rec.Progress.Completed)
	require.Len(t, rec.Errors, 1)

	reg.Complete("deck-1", models.KindSlideAnalysis, models.RunStateCompleted, "9 of 10 slides analyzed")
	rec = reg.Get("deck-1", models.KindSlideAnalysis)
	assert.Equal(t, models.RunStateCompleted, rec.State)
	require.NotNil(t, rec.EndedAt)

	// Updates after the run ended are ignored.
	reg.UpdateProgress("deck-1", models.KindSlideAnalysis, models.ProgressSnapshot{Total: 10})
	reg.Complete("deck-1", models.KindSlideAnalysis, models.RunStateFailed, "late")
	rec = reg.Get("deck-1", models.KindSlideAnalysis)
	assert.Equal(t, models.RunStateCompleted, rec.State)
	assert.Equal(t, 4, rec.Progress.Completed)
}

func TestStartSupersedesPreviousRun(t *testing.T) {
	reg := newTestRegistry()

	reg.Start("deck-1", models.KindRenderJob, 5)
	reg.AddError("deck-1", models.KindRenderJob, "old error")
	reg.Complete("deck-1", models.KindRenderJob, models.RunStateFailed, "all failed")

	reg.Start("deck-1", models.KindRenderJob, 8)
	rec := reg.Get("deck-1", models.KindRenderJob)
	assert.Equal(t, models.RunStateInProgress, rec.State)
	assert.Equal(t, 8, rec.Progress.Total)
	assert.Empty(t, rec.Errors)
	assert.Nil(t, rec.EndedAt)
}

func TestKeysAreIndependentPerKind(t *testing.T) {
	reg := newTestRegistry()

	reg.Start("deck-1", models.KindSlideAnalysis, 3)
	reg.Start("deck-1", models.KindNarrative, 1)
	reg.Complete("deck-1", models.KindNarrative, models.RunStateFailed, "no narrative")

	assert.Equal(t, models.RunStateInProgress, reg.Get("deck-1", models.KindSlideAnalysis).State)
	assert.Equal(t, models.RunStateFailed, reg.Get("deck-1", models.KindNarrative).State)
	assert.Len(t, reg.List(), 2)
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	reg := newTestRegistry()
	reg.Start("deck-1", models.KindAvatarVideo, 100)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			reg.UpdateProgress("deck-1", models.KindAvatarVideo, models.ProgressSnapshot{
				Total: 100, Completed: i,
			})
			reg.AddError("deck-1", models.KindAvatarVideo, fmt.Sprintf("err-%d", i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			rec := reg.Get("deck-1", models.KindAvatarVideo)
			assert.LessOrEqual(t, rec.Progress.Completed, 100)
		}
	}()
	wg.Wait()

	rec := reg.Get("deck-1", models.KindAvatarVideo)
	assert.Len(t, rec.Errors, 50)
	assert.Equal(t, 50, rec.Truncated)
}

func TestEvictTerminal(t *testing.T) {
	reg := newTestRegistry()

	reg.Start("old-deck", models.KindRenderJob, 1)
	reg.Complete("old-deck", models.KindRenderJob, models.RunStateCompleted, "done")

	reg.Start("live-deck", models.KindRenderJob, 1)

	// Everything that ended before "now + 1s" is older than the cutoff.
	evicted := reg.EvictTerminal(time.Now().Add(time.Second))
	assert.Equal(t, 1, evicted)

	assert.Equal(t, models.RunStateNone, reg.Get("old-deck", models.KindRenderJob).State)
	assert.Equal(t, models.RunStateInProgress, reg.Get("live-deck", models.KindRenderJob).State)
}
