package ratelimit

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/prp-orchestrator/internal/state"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newLimiter(t *testing.T, p Policy) *Limiter {
	t.Helper()
	return New(p, state.NewFileStore(filepath.Join(t.TempDir(), "state.json")))
}

func TestHourlyCeilingWithMinInterval(t *testing.T) {
	ctx := context.Background()
	l := newLimiter(t, Policy{Ceiling: 1, MinInterval: 60 * time.Minute})

	ok, reason, err := l.CanSubmit(ctx, t0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)

	require.NoError(t, l.RecordSubmission(ctx, t0))

	ok, reason, err = l.CanSubmit(ctx, t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "wait ~55 minutes")
	assert.Contains(t, reason, "rate limit: 1 submissions in last hour")
}

func TestMinimumIntervalReason(t *testing.T) {
	rec := state.NewRecord()
	p := Policy{Ceiling: 10, MinInterval: 20 * time.Minute}
	Apply(rec, t0)

	ok, reason := Check(p, rec, t0.Add(90*time.Second))
	assert.False(t, ok)
	assert.Equal(t, "minimum interval: wait ~19 minutes since last submission", reason)

	ok, _ = Check(p, rec, t0.Add(20*time.Minute))
	assert.True(t, ok)
}

func TestEntryExpiresAtExactlyOneHour(t *testing.T) {
	rec := state.NewRecord()
	p := Policy{Ceiling: 1}
	Apply(rec, t0)

	ok, _ := Check(p, rec, t0.Add(time.Hour-time.Nanosecond))
	assert.False(t, ok)

	ok, reason := Check(p, rec, t0.Add(time.Hour))
	assert.True(t, ok, reason)
}

func TestApplyPrunesExpiredEntries(t *testing.T) {
	rec := state.NewRecord()
	Apply(rec, t0)
	Apply(rec, t0.Add(30*time.Minute))
	Apply(rec, t0.Add(61*time.Minute))

	require.Len(t, rec.SubmissionWindow, 2)
	assert.True(t, rec.SubmissionWindow[0].Equal(t0.Add(30*time.Minute)))
	assert.True(t, rec.LastBatchTime.Equal(t0.Add(61*time.Minute)))
}

func TestCheckDoesNotMutate(t *testing.T) {
	rec := state.NewRecord()
	Apply(rec, t0)
	Check(Policy{Ceiling: 5}, rec, t0.Add(3*time.Hour))
	assert.Len(t, rec.SubmissionWindow, 1)
}

// Drives random attempt times through the gate and verifies that admitted
// submissions never break either invariant.
func TestAdmittedSubmissionsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	policies := []Policy{
		{Ceiling: 1, MinInterval: 60 * time.Minute},
		{Ceiling: 3, MinInterval: 5 * time.Minute},
		{Ceiling: 6, MinInterval: 0},
	}

	for _, p := range policies {
		rec := state.NewRecord()
		now := t0
		var admitted []time.Time
		for i := 0; i < 500; i++ {
			now = now.Add(time.Duration(rng.Intn(15*60)) * time.Second)
			if ok, _ := Check(p, rec, now); ok {
				Apply(rec, now)
				admitted = append(admitted, now)
			}
		}
		require.NotEmpty(t, admitted)

		for i, ts := range admitted {
			if i > 0 {
				assert.GreaterOrEqual(t, ts.Sub(admitted[i-1]), p.MinInterval)
			}
			count := 0
			for _, other := range admitted[:i+1] {
				if ts.Sub(other) < Window {
					count++
				}
			}
			assert.LessOrEqual(t, count, p.Ceiling)
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, Policy{Ceiling: 1, MinInterval: time.Minute}.Validate())
	assert.Error(t, Policy{Ceiling: 0}.Validate())
	assert.Error(t, Policy{Ceiling: 1, MinInterval: -time.Second}.Validate())
}
