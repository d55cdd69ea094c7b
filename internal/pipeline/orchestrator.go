// Package pipeline drives one work item through the draft and generate
// batch rounds. Every phase transition is persisted before the next phase
// starts, so a restart resumes at the last completed phase.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/feichai0017/prp-orchestrator/internal/batch"
	"github.com/feichai0017/prp-orchestrator/internal/models"
	"github.com/feichai0017/prp-orchestrator/internal/ratelimit"
	"github.com/feichai0017/prp-orchestrator/internal/state"
	"github.com/feichai0017/prp-orchestrator/pkg/clock"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

// Options are the timing parameters of the submit/poll phases.
type Options struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Layout    Layout
	Store     state.Store
	Limiter   *ratelimit.Limiter
	Batch     BatchAPI
	Collector ContextCollector
	Builder   RequestBuilder
	Clock     clock.Clock
	Logger    logger.Logger
}

// Orchestrator is the per-item state machine.
type Orchestrator struct {
	layout    Layout
	store     state.Store
	limiter   *ratelimit.Limiter
	batch     BatchAPI
	collector ContextCollector
	builder   RequestBuilder
	clock     clock.Clock
	logger    logger.Logger
	opts      Options
}

func New(deps Deps, opts Options) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	return &Orchestrator{
		layout:    deps.Layout,
		store:     deps.Store,
		limiter:   deps.Limiter,
		batch:     deps.Batch,
		collector: deps.Collector,
		builder:   deps.Builder,
		clock:     deps.Clock,
		logger:    deps.Logger.Named("orchestrator"),
		opts:      opts,
	}
}

// deferral stops an item at a gate without failing it.
type deferral struct {
	reason string
}

func (d *deferral) Error() string { return d.reason }

// run carries the per-call state of one item.
type run struct {
	item   models.WorkItem
	cursor models.Cursor
	log    logger.Logger
	// entryFailures counts entries quarantined in this call.
	entryFailures int
}

// Process advances item as far as it can go in this call.
func (o *Orchestrator) Process(ctx context.Context, item models.WorkItem) Outcome {
	log := o.logger.With(logger.Item(item.Name))

	rec, err := o.store.Load(ctx)
	if err != nil {
		return Outcome{Item: item.Name, Status: StatusDeferred, Reason: "state unavailable", Err: err}
	}

	cursor, hasCursor := rec.Cursor()
	if hasCursor && cursor.Item != item.Name && cursor.Status.Resumable() {
		released, err := ReleaseOrphanCursor(ctx, o.store, o.layout)
		if err != nil {
			return Outcome{Item: item.Name, Status: StatusDeferred, Reason: "state unavailable", Err: err}
		}
		if released != "" {
			log.Warn("Released cursor of an item no longer pending", logger.String("cursorItem", released))
			hasCursor = false
		}
	}
	if hasCursor && cursor.Item != item.Name && cursor.Status.Resumable() {
		return Outcome{
			Item:   item.Name,
			Status: StatusDeferred,
			Reason: "waiting on " + cursor.Item,
		}
	}
	resuming := hasCursor && cursor.Item == item.Name && cursor.Status.Resumable()

	if !resuming && o.hasFinalArtifacts(item) {
		log.Info("Final artifacts already exist, skipping")
		if err := o.complete(ctx, item); err != nil {
			return o.fail(ctx, &run{item: item, log: log}, models.PhaseCollectDraftContext, err)
		}
		return Outcome{Item: item.Name, Status: StatusSkipped, Phase: models.PhaseDone}
	}

	r := &run{item: item, log: log}
	if resuming {
		r.cursor = cursor
		log.Info("Resuming item", logger.Phase(cursor.Phase), logger.JobID(cursor.JobID))
	} else {
		r.cursor = models.Cursor{
			Item:           item.Name,
			Phase:          models.PhaseCollectDraftContext,
			PhaseStartedAt: o.clock.Now(),
			Status:         models.CursorProcessing,
		}
		if err := o.saveCursor(ctx, r.cursor); err != nil {
			return Outcome{Item: item.Name, Status: StatusDeferred, Reason: "state unavailable", Err: err}
		}
		log.Info("Starting item")
	}

	for r.cursor.Phase != models.PhaseDone {
		phase := r.cursor.Phase
		if err := o.step(ctx, r); err != nil {
			var d *deferral
			if errors.As(err, &d) {
				log.Info("Item deferred", logger.Phase(phase), logger.String("reason", d.reason))
				return Outcome{Item: item.Name, Status: StatusDeferred, Phase: phase, Reason: d.reason, JobID: r.cursor.JobID, EntryFailures: r.entryFailures}
			}
			if interrupted(ctx, err) {
				log.Warn("Item interrupted", logger.Phase(phase), logger.Error(err))
				return Outcome{Item: item.Name, Status: StatusDeferred, Phase: phase, Reason: "interrupted", JobID: r.cursor.JobID, Err: err, EntryFailures: r.entryFailures}
			}
			return o.fail(ctx, r, phase, err)
		}
	}

	if err := o.complete(ctx, item); err != nil {
		return o.fail(ctx, r, models.PhaseDone, err)
	}
	log.Info("Item done")
	return Outcome{Item: item.Name, Status: StatusDone, Phase: models.PhaseDone, EntryFailures: r.entryFailures}
}

func (o *Orchestrator) step(ctx context.Context, r *run) error {
	phase := r.cursor.Phase
	stage := phase.Stage()
	stem := r.item.Stem()

	switch {
	case phase == models.PhaseCollectDraftContext || phase == models.PhaseCollectGenerateContext:
		sources, err := o.sources(r.item, stage)
		if err != nil {
			return err
		}
		req := CollectRequest{
			Item:       r.item,
			Stage:      stage,
			Sources:    sources,
			OutputPath: o.layout.ContextPath(stem, stage),
		}
		if err := o.collector.Collect(ctx, req); err != nil {
			return fmt.Errorf("%w: collect %s context: %w", ErrCollaborator, stage, err)
		}
		return o.advance(ctx, r, "")

	case phase == models.PhaseBuildDraftRequest || phase == models.PhaseBuildGenerateRequest:
		entries, err := o.builder.Build(ctx, BuildRequest{
			Item:        r.item,
			Stage:       stage,
			ContextPath: o.layout.ContextPath(stem, stage),
		})
		if err != nil {
			return fmt.Errorf("%w: build %s request: %w", ErrCollaborator, stage, err)
		}
		if len(entries) == 0 {
			return fmt.Errorf("%w: %s request has no entries", ErrCollaborator, stage)
		}
		if err := writeJSON(o.layout.RequestPath(stem, stage), entries); err != nil {
			return err
		}
		return o.advance(ctx, r, "")

	case phase.IsRateGate():
		return o.gateAndSubmit(ctx, r)

	case phase.IsSubmitPoll():
		if r.cursor.JobID == "" {
			return fmt.Errorf("phase %s has no job id", phase)
		}
		if _, err := o.batch.Poll(ctx, r.cursor.JobID, o.opts.PollInterval, o.opts.PollTimeout); err != nil {
			return err
		}
		return o.advance(ctx, r, r.cursor.JobID)

	case phase.IsMaterialize():
		return o.materialize(ctx, r)
	}
	return fmt.Errorf("no handler for phase %s", phase)
}

// gateAndSubmit checks admission and, when approved, submits the prepared
// request. The job id and the submission timestamp are persisted together.
func (o *Orchestrator) gateAndSubmit(ctx context.Context, r *run) error {
	stage := r.cursor.Phase.Stage()
	now := o.clock.Now()

	ok, reason, err := o.limiter.CanSubmit(ctx, now)
	if err != nil {
		return err
	}
	if !ok {
		r.cursor.Status = models.CursorWaiting
		if err := o.saveCursor(ctx, r.cursor); err != nil {
			return err
		}
		return &deferral{reason: reason}
	}

	var entries []models.RequestEntry
	if err := readJSON(o.layout.RequestPath(r.item.Stem(), stage), &entries); err != nil {
		return fmt.Errorf("%w: load %s request: %w", ErrCollaborator, stage, err)
	}

	job, err := o.batch.Submit(ctx, stage, entries)
	if err != nil {
		return err
	}

	next, _ := r.cursor.Phase.Next()
	cursor := models.Cursor{
		Item:           r.item.Name,
		Phase:          next,
		JobID:          job.ID,
		PhaseStartedAt: o.clock.Now(),
		Status:         models.CursorWaiting,
	}
	err = o.store.Update(ctx, func(rec *state.Record) error {
		ratelimit.Apply(rec, now)
		rec.SetCursor(cursor)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record submission of %s: %w", job.ID, err)
	}
	r.cursor = cursor
	r.log.Info("Submitted batch", logger.JobID(job.ID), logger.String("stage", string(stage)), logger.Int("entries", len(entries)))
	return nil
}

// materialize turns the results of the current job into artifacts. Failed
// entries are quarantined one by one; the item fails only when nothing
// usable came back.
func (o *Orchestrator) materialize(ctx context.Context, r *run) error {
	stage := r.cursor.Phase.Stage()
	stem := r.item.Stem()
	jobID := r.cursor.JobID
	if jobID == "" {
		return fmt.Errorf("phase %s has no job id", r.cursor.Phase)
	}

	results, err := o.batch.FetchResults(ctx, jobID)
	if err != nil {
		return err
	}

	var docs []models.Document
	var failures []string
	for _, res := range results {
		if !res.Succeeded() {
			failures = append(failures, res.CorrelationID+": "+res.Error)
			rec := newRecord(r.item.Name, models.FailurePartialEntry, res.Error)
			rec.Phase = r.cursor.Phase.String()
			rec.JobID = jobID
			rec.CorrelationID = res.CorrelationID
			rec.Timestamp = o.clock.Now()
			if err := writeRecord(o.layout.entryRecordPath(stem, res.CorrelationID), rec); err != nil {
				return err
			}
			r.entryFailures++
			r.log.Warn("Result entry failed",
				logger.CorrelationID(res.CorrelationID),
				logger.String("type", string(res.Type)),
				logger.String("error", res.Error))
			continue
		}
		docs = append(docs, batch.SplitDocuments(res.CorrelationID, res.Payload)...)
	}

	if len(docs) == 0 {
		detail := fmt.Sprintf("job %s returned %d entries", jobID, len(results))
		if len(failures) > 0 {
			detail += ": " + strings.Join(failures, "; ")
		}
		return fmt.Errorf("%w: %s", ErrEmptyResult, detail)
	}

	paths, err := batch.WriteDocuments(o.layout.ArtifactDir(stem, stage), docs)
	if err != nil {
		return err
	}
	r.log.Info("Materialized artifacts",
		logger.String("stage", string(stage)),
		logger.Int("documents", len(paths)),
		logger.Int("failedEntries", len(failures)))

	// The job is consumed; the next phase starts without one.
	return o.advance(ctx, r, "")
}

// sources lists the inputs of a collect phase: the definition for the
// draft round, the draft artifacts for the generate round.
func (o *Orchestrator) sources(item models.WorkItem, stage models.Stage) ([]string, error) {
	if stage == models.StageDraft {
		return []string{item.Path}, nil
	}
	drafts, err := Files(o.layout.ArtifactDir(item.Stem(), models.StageDraft))
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("%w: no drafts found for %s", ErrCollaborator, item.Name)
	}
	return append([]string{item.Path}, drafts...), nil
}

// advance persists the move to the next phase.
func (o *Orchestrator) advance(ctx context.Context, r *run, jobID string) error {
	next, ok := r.cursor.Phase.Next()
	if !ok {
		return fmt.Errorf("phase %s has no successor", r.cursor.Phase)
	}
	cursor := models.Cursor{
		Item:           r.item.Name,
		Phase:          next,
		JobID:          jobID,
		PhaseStartedAt: o.clock.Now(),
		Status:         models.CursorProcessing,
	}
	if next.IsSubmitPoll() || next.IsMaterialize() {
		cursor.Status = models.CursorWaiting
	}
	if err := o.saveCursor(ctx, cursor); err != nil {
		return err
	}
	r.log.Debug("Phase completed", logger.Phase(r.cursor.Phase), logger.String("next", next.String()))
	r.cursor = cursor
	return nil
}

func (o *Orchestrator) saveCursor(ctx context.Context, c models.Cursor) error {
	return o.store.Update(ctx, func(rec *state.Record) error {
		rec.SetCursor(c)
		return nil
	})
}

// hasFinalArtifacts reports whether the generate round already produced
// output for item, either still in ready/ or already handed off.
func (o *Orchestrator) hasFinalArtifacts(item models.WorkItem) bool {
	stem := item.Stem()
	for _, dir := range []string{
		o.layout.ArtifactDir(stem, models.StageGenerate),
		filepath.Join(o.layout.Dir(RoleTerminal), stem),
	} {
		if files, err := Files(dir); err == nil && len(files) > 0 {
			return true
		}
	}
	return false
}

// complete clears the cursor and then moves the definition to terminal/.
// No cursor outlives its pending definition.
func (o *Orchestrator) complete(ctx context.Context, item models.WorkItem) error {
	if err := o.clearCursor(ctx, item.Name); err != nil {
		return err
	}
	if exists(item.Path) {
		if _, err := moveFile(item.Path, o.layout.Dir(RoleTerminal)); err != nil {
			return fmt.Errorf("failed to move definition to terminal: %w", err)
		}
	}
	return nil
}

// ReleaseOrphanCursor clears a resumable cursor whose definition is no
// longer in pending/, which happens when the process stopped between
// moving a definition and clearing its cursor. It returns the released
// item, or "" when the cursor was kept.
func ReleaseOrphanCursor(ctx context.Context, store state.Store, layout Layout) (string, error) {
	rec, err := store.Load(ctx)
	if err != nil {
		return "", err
	}
	if cur, ok := rec.Cursor(); !ok || !cur.Status.Resumable() || exists(layout.PendingPath(cur.Item)) {
		return "", nil
	}

	var released string
	err = store.Update(ctx, func(rec *state.Record) error {
		cur, ok := rec.Cursor()
		if !ok || !cur.Status.Resumable() || exists(layout.PendingPath(cur.Item)) {
			return nil
		}
		released = cur.Item
		rec.ClearCursor()
		return nil
	})
	if err != nil {
		return "", err
	}
	return released, nil
}

// clearCursor drops the cursor if it belongs to item.
func (o *Orchestrator) clearCursor(ctx context.Context, item string) error {
	return o.store.Update(ctx, func(rec *state.Record) error {
		if rec.CurrentItem != nil && *rec.CurrentItem == item {
			rec.ClearCursor()
		}
		return nil
	})
}

// fail quarantines the item with a record of err and discards its cursor.
func (o *Orchestrator) fail(ctx context.Context, r *run, phase models.Phase, err error) Outcome {
	kind := Classify(err)
	out := Outcome{
		Item:          r.item.Name,
		Status:        StatusFailed,
		Phase:         phase,
		Kind:          kind,
		JobID:         r.cursor.JobID,
		Reason:        err.Error(),
		Err:           err,
		EntryFailures: r.entryFailures,
	}
	r.log.Error("Item failed", logger.Phase(phase), logger.String("kind", string(kind)), logger.Error(err))

	if qerr := o.quarantine(ctx, r.item, kind, phase, r.cursor.JobID, err); qerr != nil {
		r.log.Error("Failed to quarantine item", logger.Error(qerr))
		out.Err = errors.Join(err, qerr)
	}
	return out
}

// Reject quarantines an item that never entered the pipeline, such as a
// definition that failed validation.
func (o *Orchestrator) Reject(ctx context.Context, item models.WorkItem, err error) Outcome {
	r := &run{item: item, log: o.logger.With(logger.Item(item.Name))}
	return o.fail(ctx, r, 0, err)
}

func (o *Orchestrator) quarantine(ctx context.Context, item models.WorkItem, kind models.FailureKind, phase models.Phase, jobID string, cause error) error {
	rec := newRecord(item.Name, kind, cause.Error())
	if phase.Valid() {
		rec.Phase = phase.String()
	}
	rec.JobID = jobID
	rec.Timestamp = o.clock.Now()

	// Cursor, record, then definition.
	var errs []error
	if err := o.clearCursor(ctx, item.Name); err != nil {
		errs = append(errs, err)
	}
	if err := writeRecord(o.layout.itemRecordPath(item.Stem()), rec); err != nil {
		errs = append(errs, err)
	}
	if exists(item.Path) {
		if _, err := moveFile(item.Path, o.layout.Dir(RoleQuarantined)); err != nil {
			errs = append(errs, fmt.Errorf("failed to move definition to quarantine: %w", err))
		}
	}
	return errors.Join(errs...)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
