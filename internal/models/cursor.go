package models

import "time"

// CursorStatus is the lifecycle state of the in-flight item.
type CursorStatus string

const (
	CursorProcessing CursorStatus = "processing"
	CursorWaiting    CursorStatus = "waiting"
	CursorCompleted  CursorStatus = "completed"
	CursorFailed     CursorStatus = "failed"
)

// Resumable reports whether a cursor in this status should be picked up
// again after a restart.
func (s CursorStatus) Resumable() bool {
	return s == CursorProcessing || s == CursorWaiting
}

// Cursor records where the single in-flight item is in the pipeline.
type Cursor struct {
	Item           string       `json:"item"`
	Phase          Phase        `json:"phase"`
	JobID          string       `json:"jobId,omitempty"`
	PhaseStartedAt time.Time    `json:"phaseStartedAt"`
	Status         CursorStatus `json:"status"`
}
