// Package status reports the orchestrator's externally visible state for
// the CLI and the HTTP API.
package status

import (
	"context"
	"time"

	"github.com/feichai0017/prp-orchestrator/internal/models"
)

type Reporter interface {
	Snapshot(ctx context.Context, now time.Time) (*Snapshot, error)
	Quarantine() ([]models.QuarantineRecord, error)
}

// Snapshot is a point-in-time view of the queue and the admission state.
type Snapshot struct {
	Environment    string           `json:"environment"`
	GeneratedAt    time.Time        `json:"generatedAt"`
	Counts         map[string]int   `json:"counts"`
	Pending        []string         `json:"pending"`
	Cursor         *models.Cursor   `json:"cursor"`
	LastSubmission *time.Time       `json:"lastSubmission"`
	WindowCount    int              `json:"windowCount"`
	Ceiling        int              `json:"ceiling"`
	MinInterval    string           `json:"minInterval"`
	CanSubmit      bool             `json:"canSubmit"`
	Reason         string           `json:"reason,omitempty"`
}
