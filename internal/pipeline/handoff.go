package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/feichai0017/prp-orchestrator/internal/models"
	"github.com/feichai0017/prp-orchestrator/pkg/clock"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

// HandoffResult counts what happened to the ready artifacts of one item.
type HandoffResult struct {
	Executed int
	Failed   int
	Archived int
}

// Handoff passes ready artifacts to the execution tool. Failures are local
// to the artifact: it is quarantined and the remaining artifacts still run.
type Handoff struct {
	layout   Layout
	executor Executor
	archive  Archive
	clock    clock.Clock
	logger   logger.Logger
}

// NewHandoff returns a Handoff. With a nil executor artifacts stay in
// ready/ for external pickup; a nil archive disables archiving.
func NewHandoff(layout Layout, executor Executor, archive Archive, clk clock.Clock, log logger.Logger) *Handoff {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Handoff{
		layout:   layout,
		executor: executor,
		archive:  archive,
		clock:    clk,
		logger:   log.Named("handoff"),
	}
}

// Enabled reports whether an executor is configured.
func (h *Handoff) Enabled() bool {
	return h.executor != nil
}

// Run executes every artifact in ready/<stem>/ once, in name order.
func (h *Handoff) Run(ctx context.Context, item models.WorkItem) (HandoffResult, error) {
	var res HandoffResult
	if h.executor == nil {
		return res, nil
	}

	stem := item.Stem()
	artifacts, err := Files(h.layout.ArtifactDir(stem, models.StageGenerate))
	if err != nil {
		return res, fmt.Errorf("failed to list ready artifacts: %w", err)
	}

	for _, artifact := range artifacts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		name := filepath.Base(artifact)
		log := h.logger.With(logger.Item(item.Name), logger.String("artifact", name))

		result, err := h.executor.Execute(ctx, artifact)
		if err != nil {
			result = models.ExecutionResult{Success: false, Diagnostics: err.Error()}
		}

		if !result.Success {
			res.Failed++
			log.Warn("Execution failed", logger.String("diagnostics", result.Diagnostics))
			if err := h.quarantineArtifact(item, artifact, result.Diagnostics); err != nil {
				return res, err
			}
			continue
		}

		res.Executed++
		if h.archive != nil {
			if err := h.archiveArtifact(ctx, stem, artifact); err != nil {
				log.Warn("Failed to archive artifact", logger.Error(err))
			} else {
				res.Archived++
			}
		}
		if _, err := moveFile(artifact, filepath.Join(h.layout.Dir(RoleTerminal), stem)); err != nil {
			return res, fmt.Errorf("failed to move %s to terminal: %w", name, err)
		}
		log.Info("Artifact executed")
	}
	return res, nil
}

func (h *Handoff) archiveArtifact(ctx context.Context, stem, artifact string) error {
	f, err := os.Open(artifact)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = h.archive.Store(ctx, f, path.Join(stem, filepath.Base(artifact)))
	return err
}

func (h *Handoff) quarantineArtifact(item models.WorkItem, artifact, diagnostics string) error {
	stem := item.Stem()
	name := filepath.Base(artifact)
	if _, err := moveFile(artifact, filepath.Join(h.layout.Dir(RoleQuarantined), stem)); err != nil {
		return fmt.Errorf("failed to quarantine %s: %w", name, err)
	}
	rec := newRecord(item.Name, models.FailureExecution, diagnostics)
	rec.Artifact = name
	rec.Timestamp = h.clock.Now()
	return writeRecord(h.layout.artifactRecordPath(stem, name), rec)
}
