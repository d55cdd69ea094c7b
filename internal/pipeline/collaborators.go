package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/feichai0017/prp-orchestrator/internal/models"
)

// CollectRequest asks a ContextCollector to gather context for one stage
// of an item and write it to OutputPath.
type CollectRequest struct {
	Item       models.WorkItem
	Stage      models.Stage
	Sources    []string
	OutputPath string
}

// ContextCollector gathers source snippets into a context file.
type ContextCollector interface {
	Collect(ctx context.Context, req CollectRequest) error
}

// BuildRequest asks a RequestBuilder for the entries of one batch.
type BuildRequest struct {
	Item        models.WorkItem
	Stage       models.Stage
	ContextPath string
}

// RequestBuilder turns a context file into batch request entries.
type RequestBuilder interface {
	Build(ctx context.Context, req BuildRequest) ([]models.RequestEntry, error)
}

// Executor runs the external execution tool on one ready artifact.
type Executor interface {
	Execute(ctx context.Context, artifactPath string) (models.ExecutionResult, error)
}

// BatchAPI is the remote side of a batch round.
type BatchAPI interface {
	Submit(ctx context.Context, stage models.Stage, entries []models.RequestEntry) (models.BatchJob, error)
	Poll(ctx context.Context, jobID string, interval, timeout time.Duration) (models.BatchJob, error)
	FetchResults(ctx context.Context, jobID string) ([]models.ResultEntry, error)
}

// Archive keeps a copy of artifacts that were executed successfully.
type Archive interface {
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
}
