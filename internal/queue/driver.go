// Package queue runs the orchestrator over the pending queue, one item at
// a time.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/prp-orchestrator/internal/models"
	"github.com/feichai0017/prp-orchestrator/internal/pipeline"
	"github.com/feichai0017/prp-orchestrator/internal/state"
	"github.com/feichai0017/prp-orchestrator/internal/utils/validator"
	"github.com/feichai0017/prp-orchestrator/pkg/clock"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

// Processor advances a single item.
type Processor interface {
	Process(ctx context.Context, item models.WorkItem) pipeline.Outcome
	Reject(ctx context.Context, item models.WorkItem, err error) pipeline.Outcome
}

// Handoff runs the execution tool over a completed item's artifacts.
type Handoff interface {
	Run(ctx context.Context, item models.WorkItem) (pipeline.HandoffResult, error)
}

// Summary counts the outcomes of one pass.
type Summary struct {
	PassID   string
	Started  time.Time
	Finished time.Time
	Done     int
	Skipped  int
	Deferred int
	Failed   int
	Outcomes []pipeline.Outcome
}

func (s *Summary) add(o pipeline.Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case pipeline.StatusDone:
		s.Done++
	case pipeline.StatusSkipped:
		s.Skipped++
	case pipeline.StatusDeferred:
		s.Deferred++
	case pipeline.StatusFailed:
		s.Failed++
	}
}

// Config holds the driver settings.
type Config struct {
	CheckInterval time.Duration
}

// Driver is the QueueDriver.
type Driver struct {
	scanner   *Scanner
	processor Processor
	handoff   Handoff
	validator *validator.DefinitionValidator
	store     state.Store
	clock     clock.Clock
	logger    logger.Logger
	cfg       Config
}

// NewDriver wires a driver. handoff and v may be nil.
func NewDriver(cfg Config, scanner *Scanner, processor Processor, handoff Handoff, v *validator.DefinitionValidator, store state.Store, clk clock.Clock, log logger.Logger) *Driver {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Driver{
		scanner:   scanner,
		processor: processor,
		handoff:   handoff,
		validator: v,
		store:     store,
		clock:     clk,
		logger:    log.Named("queue"),
		cfg:       cfg,
	}
}

// ListPending returns the pending items in processing order.
func (d *Driver) ListPending(ctx context.Context) ([]models.WorkItem, error) {
	return d.scanner.ListPending(ctx)
}

// RunOnce processes every pending item once. The item holding the cursor
// goes first. One item's failure or deferral never stops the pass.
func (d *Driver) RunOnce(ctx context.Context) (Summary, error) {
	sum := Summary{PassID: uuid.NewString(), Started: d.clock.Now()}
	log := d.logger.With(logger.String("pass", sum.PassID))

	if err := d.resumeHandoffs(ctx, log); err != nil {
		return sum, err
	}

	items, err := d.scanner.ListPending(ctx)
	if err != nil {
		return sum, err
	}
	items, err = d.cursorFirst(ctx, items)
	if err != nil {
		return sum, err
	}
	log.Info("Queue pass started", logger.Int("pending", len(items)))

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			sum.Finished = d.clock.Now()
			return sum, err
		}

		if reason, invalid, err := d.validate(item); err != nil {
			log.Warn("Skipping unreadable item", logger.Item(item.Name), logger.Error(err))
			continue
		} else if invalid {
			sum.add(d.processor.Reject(ctx, item, fmt.Errorf("%w: %s", pipeline.ErrInvalidDefinition, reason)))
			continue
		}

		out := d.processor.Process(ctx, item)
		sum.add(out)
		log.Info("Item processed",
			logger.Item(item.Name),
			logger.String("status", out.Status.String()),
			logger.String("reason", out.Reason))

		if out.Completed() {
			d.runHandoff(ctx, log, item)
		}
	}

	sum.Finished = d.clock.Now()
	log.Info("Queue pass finished",
		logger.Int("done", sum.Done),
		logger.Int("skipped", sum.Skipped),
		logger.Int("deferred", sum.Deferred),
		logger.Int("failed", sum.Failed))
	return sum, nil
}

// resumeHandoffs finishes hand-offs an earlier pass did not complete.
func (d *Driver) resumeHandoffs(ctx context.Context, log logger.Logger) error {
	if d.handoff == nil {
		return nil
	}
	stranded, err := d.scanner.ListStranded(ctx)
	if err != nil {
		return err
	}
	for _, item := range stranded {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Info("Resuming hand-off", logger.Item(item.Name))
		d.runHandoff(ctx, log, item)
	}
	return ctx.Err()
}

func (d *Driver) runHandoff(ctx context.Context, log logger.Logger, item models.WorkItem) {
	if d.handoff == nil {
		return
	}
	res, err := d.handoff.Run(ctx, item)
	if err != nil {
		log.Error("Hand-off failed", logger.Item(item.Name), logger.Error(err))
		return
	}
	log.Info("Hand-off finished",
		logger.Item(item.Name),
		logger.Int("executed", res.Executed),
		logger.Int("failed", res.Failed))
}

// RunLoop repeats RunOnce every check interval until ctx ends.
func (d *Driver) RunLoop(ctx context.Context) error {
	interval := d.cfg.CheckInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("Queue pass failed", logger.Error(err))
		}
		if err := d.clock.Sleep(ctx, interval); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				d.logger.Info("Queue loop stopped")
				return nil
			}
			return err
		}
	}
}

// cursorFirst moves the item that owns the persisted cursor to the front,
// so a resumed item finishes before others are started.
func (d *Driver) cursorFirst(ctx context.Context, items []models.WorkItem) ([]models.WorkItem, error) {
	if d.store == nil {
		return items, nil
	}
	released, err := pipeline.ReleaseOrphanCursor(ctx, d.store, d.scanner.layout)
	if err != nil {
		return nil, err
	}
	if released != "" {
		d.logger.Warn("Released cursor of an item no longer pending", logger.Item(released))
	}
	rec, err := d.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	cur, ok := rec.Cursor()
	if !ok || !cur.Status.Resumable() {
		return items, nil
	}
	for i, item := range items {
		if item.Name == cur.Item && i > 0 {
			out := make([]models.WorkItem, 0, len(items))
			out = append(out, item)
			out = append(out, items[:i]...)
			return append(out, items[i+1:]...), nil
		}
	}
	return items, nil
}

func (d *Driver) validate(item models.WorkItem) (string, bool, error) {
	if d.validator == nil {
		return "", false, nil
	}
	res, err := d.validator.ValidateFile(item.Path)
	if err != nil {
		return "", false, err
	}
	if !res.IsValid {
		return res.Summary(), true, nil
	}
	return "", false, nil
}
