package pipeline

import "github.com/feichai0017/prp-orchestrator/internal/models"

// Status is how a single Process call ended for an item.
type Status int

const (
	// StatusDone means the item reached Done in this call.
	StatusDone Status = iota
	// StatusSkipped means the item already had final artifacts and was
	// completed without any submission.
	StatusSkipped
	// StatusDeferred means the item stopped at a gate and keeps its cursor.
	StatusDeferred
	// StatusFailed means the item was quarantined and its cursor discarded.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusSkipped:
		return "skipped"
	case StatusDeferred:
		return "deferred"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome reports the result of processing one item.
type Outcome struct {
	Item   string
	Status Status
	Phase  models.Phase
	Reason string
	Kind   models.FailureKind
	JobID  string
	Err    error
	// EntryFailures counts entries quarantined individually on the way.
	EntryFailures int
}

// Completed reports whether the item ended in terminal/ with artifacts
// ready for hand-off.
func (o Outcome) Completed() bool {
	return o.Status == StatusDone || o.Status == StatusSkipped
}
