package models

// ProgressSnapshot is a point-in-time view of a batch. It is a plain value:
// copying it is safe and mutating a copy never affects the tracker that
// produced it.
type ProgressSnapshot struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	InProgress int `json:"in_progress"`
}

// Finished returns the number of items that have reached a terminal outcome,
// counting skipped items as finished.
func (p ProgressSnapshot) Finished() int {
	return p.Completed + p.Failed + p.Skipped
}

// Percent reports completion as 0-100. Skipped items count as completed work.
// An empty batch is 100 percent complete.
func (p ProgressSnapshot) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Finished()) / float64(p.Total) * 100
}

// Done reports whether every item has a terminal outcome.
func (p ProgressSnapshot) Done() bool {
	return p.Finished() >= p.Total
}
