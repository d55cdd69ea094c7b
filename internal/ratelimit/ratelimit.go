// Package ratelimit implements admission control for batch submissions: a
// sliding one-hour window with a ceiling, plus a minimum interval between
// consecutive submissions.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/feichai0017/prp-orchestrator/internal/state"
)

// Window is the span over which the ceiling applies.
const Window = time.Hour

// Policy holds the two admission parameters. They are read once at startup.
type Policy struct {
	Ceiling     int
	MinInterval time.Duration
}

// Validate rejects policies that would never admit a submission.
func (p Policy) Validate() error {
	if p.Ceiling <= 0 {
		return fmt.Errorf("ceiling must be positive, got %d", p.Ceiling)
	}
	if p.MinInterval < 0 {
		return fmt.Errorf("minimum interval must not be negative, got %s", p.MinInterval)
	}
	return nil
}

// Recent returns the timestamps of rec's window that are still inside the
// trailing hour at now. An entry expires once now - ts >= 1h.
func Recent(rec *state.Record, now time.Time) []time.Time {
	out := make([]time.Time, 0, len(rec.SubmissionWindow))
	for _, ts := range rec.SubmissionWindow {
		if now.Sub(ts) < Window {
			out = append(out, ts)
		}
	}
	return out
}

// Check reports whether a submission at now is admissible. The window check
// runs first; when both fail the window reason is returned.
func Check(p Policy, rec *state.Record, now time.Time) (bool, string) {
	recent := Recent(rec, now)
	if len(recent) >= p.Ceiling {
		oldest := recent[0]
		for _, ts := range recent[1:] {
			if ts.Before(oldest) {
				oldest = ts
			}
		}
		wait := oldest.Add(Window).Sub(now)
		return false, fmt.Sprintf("rate limit: %d submissions in last hour, wait ~%d minutes",
			len(recent), ceilMinutes(wait))
	}

	if rec.LastBatchTime != nil {
		since := now.Sub(*rec.LastBatchTime)
		if since < p.MinInterval {
			return false, fmt.Sprintf("minimum interval: wait ~%d minutes since last submission",
				ceilMinutes(p.MinInterval-since))
		}
	}
	return true, ""
}

// Apply records a submission at now: the window is pruned, now is appended,
// and the last submission time is updated.
func Apply(rec *state.Record, now time.Time) {
	rec.SubmissionWindow = append(Recent(rec, now), now)
	last := now
	rec.LastBatchTime = &last
}

func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Minutes()))
}

// Limiter binds a Policy to the persisted record it reads and updates.
type Limiter struct {
	policy Policy
	store  state.Store
}

// New returns a Limiter for policy backed by store.
func New(policy Policy, store state.Store) *Limiter {
	return &Limiter{policy: policy, store: store}
}

// Policy returns the admission parameters in effect.
func (l *Limiter) Policy() Policy {
	return l.policy
}

// CanSubmit loads the persisted window and checks it. It never writes.
func (l *Limiter) CanSubmit(ctx context.Context, now time.Time) (bool, string, error) {
	rec, err := l.store.Load(ctx)
	if err != nil {
		return false, "", err
	}
	ok, reason := Check(l.policy, rec, now)
	return ok, reason, nil
}

// RecordSubmission persists a submission at now.
func (l *Limiter) RecordSubmission(ctx context.Context, now time.Time) error {
	return l.store.Update(ctx, func(rec *state.Record) error {
		Apply(rec, now)
		return nil
	})
}
