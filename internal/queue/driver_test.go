package queue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/prp-orchestrator/internal/models"
	"github.com/feichai0017/prp-orchestrator/internal/pipeline"
	"github.com/feichai0017/prp-orchestrator/internal/state"
	"github.com/feichai0017/prp-orchestrator/internal/utils/validator"
	"github.com/feichai0017/prp-orchestrator/pkg/clock"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeProcessor struct {
	statuses  map[string]pipeline.Status
	seen      []string
	rejected  []string
	onProcess func()
}

func (f *fakeProcessor) Process(ctx context.Context, item models.WorkItem) pipeline.Outcome {
	f.seen = append(f.seen, item.Name)
	if f.onProcess != nil {
		f.onProcess()
	}
	status, ok := f.statuses[item.Name]
	if !ok {
		status = pipeline.StatusDone
	}
	return pipeline.Outcome{Item: item.Name, Status: status}
}

func (f *fakeProcessor) Reject(ctx context.Context, item models.WorkItem, err error) pipeline.Outcome {
	f.rejected = append(f.rejected, item.Name)
	return pipeline.Outcome{Item: item.Name, Status: pipeline.StatusFailed, Kind: pipeline.Classify(err)}
}

type fakeHandoff struct {
	items []string
}

func (f *fakeHandoff) Run(ctx context.Context, item models.WorkItem) (pipeline.HandoffResult, error) {
	f.items = append(f.items, item.Name)
	return pipeline.HandoffResult{Executed: 1}, nil
}

func setup(t *testing.T) (pipeline.Layout, state.Store) {
	t.Helper()
	root := t.TempDir()
	layout := pipeline.NewLayout(root)
	require.NoError(t, layout.Ensure())
	return layout, state.NewFileStore(filepath.Join(root, "state.json"))
}

func put(t *testing.T, layout pipeline.Layout, role, name, content string, mtime time.Time) {
	t.Helper()
	p := filepath.Join(layout.Dir(role), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	require.NoError(t, os.Chtimes(p, mtime, mtime))
}

func itemNames(items []models.WorkItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

func TestListPendingOrdersByDiscoveryTime(t *testing.T) {
	layout, _ := setup(t)
	put(t, layout, pipeline.RolePending, "c.md", "c", t0)
	put(t, layout, pipeline.RolePending, "a.md", "a", t0.Add(2*time.Minute))
	put(t, layout, pipeline.RolePending, "b.md", "b", t0)
	put(t, layout, pipeline.RolePending, "notes.bin", "x", t0)
	put(t, layout, pipeline.RolePending, ".hidden.md", "x", t0)
	put(t, layout, pipeline.RolePending, "done.md", "d", t0)
	put(t, layout, pipeline.RoleTerminal, "done.md", "d", t0)

	items, err := NewScanner(layout, []string{".md"}).ListPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b.md", "c.md", "a.md"}, itemNames(items))
	assert.True(t, items[0].DiscoveredAt.Equal(t0))
}

func TestRunOnceContinuesPastFailuresAndDeferrals(t *testing.T) {
	layout, store := setup(t)
	put(t, layout, pipeline.RolePending, "one.md", "1", t0)
	put(t, layout, pipeline.RolePending, "two.md", "2", t0.Add(time.Minute))
	put(t, layout, pipeline.RolePending, "three.md", "3", t0.Add(2*time.Minute))
	put(t, layout, pipeline.RolePending, "four.md", "4", t0.Add(3*time.Minute))

	proc := &fakeProcessor{statuses: map[string]pipeline.Status{
		"one.md":  pipeline.StatusFailed,
		"two.md":  pipeline.StatusDeferred,
		"four.md": pipeline.StatusSkipped,
	}}
	hand := &fakeHandoff{}
	log := logger.NewTestLogger()
	d := NewDriver(Config{}, NewScanner(layout, []string{".md"}), proc, hand, nil, store, clock.NewFake(t0), log)

	sum, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"one.md", "two.md", "three.md", "four.md"}, proc.seen)
	assert.Equal(t, 1, sum.Done)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Deferred)
	assert.Equal(t, 1, sum.Failed)
	assert.NotEmpty(t, sum.PassID)
	assert.Equal(t, []string{"three.md", "four.md"}, hand.items)
	assert.True(t, log.Contains("INFO", "Queue pass finished"))
}

func TestRunOnceStartsWithCursorItem(t *testing.T) {
	layout, store := setup(t)
	put(t, layout, pipeline.RolePending, "old.md", "1", t0)
	put(t, layout, pipeline.RolePending, "inflight.md", "2", t0.Add(time.Hour))

	rec := state.NewRecord()
	rec.SetCursor(models.Cursor{Item: "inflight.md", Phase: models.PhaseSubmitPollDraft, JobID: "job-1", Status: models.CursorWaiting})
	require.NoError(t, store.Save(context.Background(), rec))

	proc := &fakeProcessor{}
	d := NewDriver(Config{}, NewScanner(layout, nil), proc, nil, nil, store, clock.NewFake(t0), nil)
	_, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"inflight.md", "old.md"}, proc.seen)
}

func TestRunOnceRejectsInvalidDefinitions(t *testing.T) {
	layout, store := setup(t)
	put(t, layout, pipeline.RolePending, "empty.md", "   \n", t0)
	put(t, layout, pipeline.RolePending, "good.md", "# Good\n", t0.Add(time.Minute))

	proc := &fakeProcessor{}
	v := validator.NewDefinitionValidator(nil, nil)
	d := NewDriver(Config{}, NewScanner(layout, []string{".md"}), proc, nil, v, store, clock.NewFake(t0), nil)

	sum, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"empty.md"}, proc.rejected)
	assert.Equal(t, []string{"good.md"}, proc.seen)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, models.FailureInvalidDefinition, sum.Outcomes[0].Kind)
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	layout, store := setup(t)
	put(t, layout, pipeline.RolePending, "a.md", "a", t0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	passes := 0
	proc := &fakeProcessor{
		statuses: map[string]pipeline.Status{"a.md": pipeline.StatusDeferred},
		onProcess: func() {
			passes++
			if passes == 3 {
				cancel()
			}
		},
	}
	clk := clock.NewFake(t0)
	d := NewDriver(Config{CheckInterval: 300 * time.Second}, NewScanner(layout, nil), proc, nil, nil, store, clk, nil)

	require.NoError(t, d.RunLoop(ctx))
	assert.Equal(t, 3, passes)
	assert.Equal(t, t0.Add(10*time.Minute), clk.Now())
}

// cancelingExecutor succeeds and ends the pass context on its first call.
type cancelingExecutor struct {
	cancel context.CancelFunc
	runs   map[string]int
}

func (e *cancelingExecutor) Execute(ctx context.Context, artifactPath string) (models.ExecutionResult, error) {
	e.runs[filepath.Base(artifactPath)]++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	return models.ExecutionResult{Success: true}, nil
}

func TestRunOnceResumesInterruptedHandoff(t *testing.T) {
	layout, store := setup(t)
	put(t, layout, pipeline.RoleTerminal, "feature.md", "# Feature", t0)
	ready := layout.ArtifactDir("feature", models.StageGenerate)
	require.NoError(t, os.MkdirAll(ready, 0755))
	put(t, layout, pipeline.RoleReady, filepath.Join("feature", "a.md"), "a", t0)
	put(t, layout, pipeline.RoleReady, filepath.Join("feature", "b.md"), "b", t0)

	ctx, cancel := context.WithCancel(context.Background())
	exec := &cancelingExecutor{cancel: cancel, runs: map[string]int{}}
	hand := pipeline.NewHandoff(layout, exec, nil, clock.NewFake(t0), nil)
	proc := &fakeProcessor{}
	d := NewDriver(Config{}, NewScanner(layout, []string{".md"}), proc, hand, nil, store, clock.NewFake(t0), nil)

	_, err := d.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, map[string]int{"a.md": 1}, exec.runs)

	_, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a.md": 1, "b.md": 1}, exec.runs)
	assert.Empty(t, proc.seen)

	left, err := pipeline.Files(ready)
	require.NoError(t, err)
	assert.Empty(t, left)
	done, err := pipeline.Files(filepath.Join(layout.Dir(pipeline.RoleTerminal), "feature"))
	require.NoError(t, err)
	assert.Len(t, done, 2)
}

func TestListStrandedIgnoresPendingAndUnknownStems(t *testing.T) {
	layout, _ := setup(t)
	for _, stem := range []string{"done", "again", "orphan"} {
		require.NoError(t, os.MkdirAll(layout.ArtifactDir(stem, models.StageGenerate), 0755))
		put(t, layout, pipeline.RoleReady, filepath.Join(stem, "tasks.md"), "x", t0)
	}
	put(t, layout, pipeline.RoleTerminal, "done.md", "d", t0)
	put(t, layout, pipeline.RoleTerminal, "again.md", "a", t0)
	put(t, layout, pipeline.RolePending, "again.md", "a", t0)

	items, err := NewScanner(layout, nil).ListStranded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"done.md"}, itemNames(items))
}

func TestRunOnceReleasesCursorOfMissingItem(t *testing.T) {
	layout, store := setup(t)
	put(t, layout, pipeline.RolePending, "a.md", "a", t0)
	put(t, layout, pipeline.RolePending, "b.md", "b", t0.Add(time.Minute))
	put(t, layout, pipeline.RoleTerminal, "gone.md", "g", t0)

	rec := state.NewRecord()
	rec.SetCursor(models.Cursor{Item: "gone.md", Phase: models.PhaseDone, Status: models.CursorProcessing})
	require.NoError(t, store.Save(context.Background(), rec))

	proc := &fakeProcessor{}
	log := logger.NewTestLogger()
	d := NewDriver(Config{}, NewScanner(layout, nil), proc, nil, nil, store, clock.NewFake(t0), log)

	sum, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.md"}, proc.seen)
	assert.Equal(t, 2, sum.Done)
	assert.True(t, log.Contains("WARN", "Released cursor"))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	_, ok := loaded.Cursor()
	assert.False(t, ok)
}
