// Package state persists the orchestrator's cross-restart record: the
// rolling submission window used for admission control and the cursor of
// the single in-flight work item.
package state

import (
	"time"

	"github.com/feichai0017/prp-orchestrator/internal/models"
)

// Record is the persisted state document. Nil pointers serialize as null.
type Record struct {
	LastBatchTime    *time.Time           `json:"last_batch_time"`
	SubmissionWindow []time.Time          `json:"submission_window"`
	CurrentItem      *string              `json:"current_item"`
	CurrentPhase     *models.Phase        `json:"current_phase"`
	CurrentJobID     *string              `json:"current_job_id"`
	PhaseStartedAt   *time.Time           `json:"phase_started_at"`
	Status           *models.CursorStatus `json:"status"`
}

// NewRecord returns the state of a process that has never submitted.
func NewRecord() *Record {
	return &Record{SubmissionWindow: []time.Time{}}
}

// Cursor returns the in-flight item's cursor, if one is recorded.
func (r *Record) Cursor() (models.Cursor, bool) {
	if r.CurrentItem == nil || r.CurrentPhase == nil {
		return models.Cursor{}, false
	}
	c := models.Cursor{
		Item:   *r.CurrentItem,
		Phase:  *r.CurrentPhase,
		Status: models.CursorProcessing,
	}
	if r.CurrentJobID != nil {
		c.JobID = *r.CurrentJobID
	}
	if r.PhaseStartedAt != nil {
		c.PhaseStartedAt = *r.PhaseStartedAt
	}
	if r.Status != nil {
		c.Status = *r.Status
	}
	return c, true
}

// SetCursor replaces the in-flight cursor.
func (r *Record) SetCursor(c models.Cursor) {
	item, phase, status, started := c.Item, c.Phase, c.Status, c.PhaseStartedAt
	r.CurrentItem = &item
	r.CurrentPhase = &phase
	r.Status = &status
	r.PhaseStartedAt = &started
	if c.JobID != "" {
		job := c.JobID
		r.CurrentJobID = &job
	} else {
		r.CurrentJobID = nil
	}
}

// ClearCursor drops the in-flight cursor, keeping the submission window.
func (r *Record) ClearCursor() {
	r.CurrentItem = nil
	r.CurrentPhase = nil
	r.CurrentJobID = nil
	r.PhaseStartedAt = nil
	r.Status = nil
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	return &Record{
		LastBatchTime:    clonePtr(r.LastBatchTime),
		SubmissionWindow: append([]time.Time{}, r.SubmissionWindow...),
		CurrentItem:      clonePtr(r.CurrentItem),
		CurrentPhase:     clonePtr(r.CurrentPhase),
		CurrentJobID:     clonePtr(r.CurrentJobID),
		PhaseStartedAt:   clonePtr(r.PhaseStartedAt),
		Status:           clonePtr(r.Status),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (r *Record) normalize() {
	if r.SubmissionWindow == nil {
		r.SubmissionWindow = []time.Time{}
	}
}
