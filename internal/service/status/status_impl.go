package status

import (
	"context"
	"fmt"
	"time"

	"github.com/feichai0017/prp-orchestrator/internal/models"
	"github.com/feichai0017/prp-orchestrator/internal/pipeline"
	"github.com/feichai0017/prp-orchestrator/internal/ratelimit"
	"github.com/feichai0017/prp-orchestrator/internal/state"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

// PendingLister is satisfied by queue.Scanner.
type PendingLister interface {
	ListPending(ctx context.Context) ([]models.WorkItem, error)
}

type Service struct {
	environment string
	layout      pipeline.Layout
	pending     PendingLister
	store       state.Store
	policy      ratelimit.Policy
	logger      logger.Logger
}

func NewService(environment string, layout pipeline.Layout, pending PendingLister, store state.Store, policy ratelimit.Policy, log logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		environment: environment,
		layout:      layout,
		pending:     pending,
		store:       store,
		policy:      policy,
		logger:      log.Named("status"),
	}
}

// Snapshot reads the state without modifying it; the window is evaluated
// at now but not pruned in storage.
func (s *Service) Snapshot(ctx context.Context, now time.Time) (*Snapshot, error) {
	snap := &Snapshot{
		Environment: s.environment,
		GeneratedAt: now,
		Counts:      make(map[string]int, len(pipeline.Roles)),
		Pending:     []string{},
		Ceiling:     s.policy.Ceiling,
		MinInterval: s.policy.MinInterval.String(),
	}

	for _, role := range pipeline.Roles {
		n, err := s.layout.Count(role)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", role, err)
		}
		snap.Counts[role] = n
	}

	items, err := s.pending.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}
	for _, it := range items {
		snap.Pending = append(snap.Pending, it.Name)
	}

	rec, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	if c, ok := rec.Cursor(); ok {
		snap.Cursor = &c
	}
	snap.LastSubmission = rec.LastBatchTime
	snap.WindowCount = len(ratelimit.Recent(rec, now))
	snap.CanSubmit, snap.Reason = ratelimit.Check(s.policy, rec, now)

	s.logger.Debug("Status snapshot",
		logger.Int("pending", len(snap.Pending)),
		logger.Int("windowCount", snap.WindowCount),
		logger.Bool("canSubmit", snap.CanSubmit),
	)
	return snap, nil
}

// Quarantine returns every error record under quarantined/.
func (s *Service) Quarantine() ([]models.QuarantineRecord, error) {
	return s.layout.ReadRecords()
}
