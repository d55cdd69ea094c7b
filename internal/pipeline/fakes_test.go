package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/feichai0017/prp-orchestrator/internal/models"
	"github.com/feichai0017/prp-orchestrator/internal/ratelimit"
	"github.com/feichai0017/prp-orchestrator/internal/state"
	"github.com/feichai0017/prp-orchestrator/pkg/clock"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeCollector struct {
	requests []CollectRequest
	err      error
}

func (f *fakeCollector) Collect(ctx context.Context, req CollectRequest) error {
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return os.WriteFile(req.OutputPath, []byte(strings.Join(req.Sources, "\n")), 0644)
}

type fakeBuilder struct {
	ids map[models.Stage][]string
}

func (f *fakeBuilder) Build(ctx context.Context, req BuildRequest) ([]models.RequestEntry, error) {
	ids := f.ids[req.Stage]
	if ids == nil {
		ids = []string{string(req.Stage) + "-" + req.Item.Stem()}
	}
	entries := make([]models.RequestEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, models.RequestEntry{
			CorrelationID: id,
			Params:        models.MessageParams{Model: "claude-test", MaxTokens: 64},
		})
	}
	return entries, nil
}

type fakeBatch struct {
	mu        sync.Mutex
	submits   []models.Stage
	submitErr error
	polls     []string
	pollErr   error
	jobs      map[string]models.Stage
	results   map[models.Stage][]models.ResultEntry
}

func newFakeBatch() *fakeBatch {
	return &fakeBatch{
		jobs: map[string]models.Stage{},
		results: map[models.Stage][]models.ResultEntry{
			models.StageDraft: {
				{CorrelationID: "draft-architect", Type: models.ResultSucceeded, Payload: "architect draft"},
			},
			models.StageGenerate: {
				{CorrelationID: "generate-feature", Type: models.ResultSucceeded,
					Payload: "<<<DOCUMENT>>> plan.md\nthe plan\n<<<DOCUMENT>>> tasks.md\nthe tasks\n"},
			},
		},
	}
}

func (f *fakeBatch) Submit(ctx context.Context, stage models.Stage, entries []models.RequestEntry) (models.BatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return models.BatchJob{}, f.submitErr
	}
	f.submits = append(f.submits, stage)
	id := fmt.Sprintf("job-%d", len(f.submits))
	f.jobs[id] = stage
	return models.BatchJob{ID: id, Stage: stage, Status: models.JobInProgress}, nil
}

func (f *fakeBatch) Poll(ctx context.Context, jobID string, interval, timeout time.Duration) (models.BatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return models.BatchJob{}, err
	}
	f.polls = append(f.polls, jobID)
	if f.pollErr != nil {
		return models.BatchJob{}, f.pollErr
	}
	return models.BatchJob{ID: jobID, Status: models.JobEnded}, nil
}

func (f *fakeBatch) FetchResults(ctx context.Context, jobID string) ([]models.ResultEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stage, ok := f.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("unknown job %s", jobID)
	}
	return f.results[stage], nil
}

type harness struct {
	layout    Layout
	store     *state.FileStore
	clock     *clock.Fake
	batch     *fakeBatch
	collector *fakeCollector
	builder   *fakeBuilder
	log       *logger.TestLogger
	orch      *Orchestrator
}

func newHarness(t *testing.T, policy ratelimit.Policy, api BatchAPI, opts Options) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		layout:    NewLayout(root),
		store:     state.NewFileStore(filepath.Join(root, "state.json")),
		clock:     clock.NewFake(t0),
		batch:     newFakeBatch(),
		collector: &fakeCollector{},
		builder:   &fakeBuilder{ids: map[models.Stage][]string{}},
		log:       logger.NewTestLogger(),
	}
	require.NoError(t, h.layout.Ensure())
	if api == nil {
		api = h.batch
	}
	h.orch = New(Deps{
		Layout:    h.layout,
		Store:     h.store,
		Limiter:   ratelimit.New(policy, h.store),
		Batch:     api,
		Collector: h.collector,
		Builder:   h.builder,
		Clock:     h.clock,
		Logger:    h.log,
	}, opts)
	return h
}

func (h *harness) enqueue(t *testing.T, name string) models.WorkItem {
	t.Helper()
	p := filepath.Join(h.layout.Dir(RolePending), name)
	require.NoError(t, os.WriteFile(p, []byte("# "+name+"\n"), 0644))
	return models.NewWorkItem(p, h.clock.Now(), 10)
}

func (h *harness) record(t *testing.T) *state.Record {
	t.Helper()
	rec, err := h.store.Load(context.Background())
	require.NoError(t, err)
	return rec
}

func names(t *testing.T, dir string) []string {
	t.Helper()
	files, err := Files(dir)
	require.NoError(t, err)
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, filepath.Base(f))
	}
	return out
}

type fakeExecutor struct {
	fail map[string]bool
	runs []string
}

func (f *fakeExecutor) Execute(ctx context.Context, artifact string) (models.ExecutionResult, error) {
	name := filepath.Base(artifact)
	f.runs = append(f.runs, name)
	if f.fail[name] {
		return models.ExecutionResult{Success: false, Diagnostics: "exit status 1: " + name}, nil
	}
	return models.ExecutionResult{Success: true}, nil
}

type fakeArchive struct {
	keys []string
}

func (f *fakeArchive) Store(ctx context.Context, r io.Reader, key string) (string, error) {
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	f.keys = append(f.keys, key)
	return key, nil
}

var errStoreDown = errors.New("state store unavailable")

// flakyStore fails the next jobUpdateFailures updates that record a job id.
type flakyStore struct {
	*state.FileStore
	jobUpdateFailures int
}

func (s *flakyStore) Update(ctx context.Context, fn func(*state.Record) error) error {
	return s.FileStore.Update(ctx, func(rec *state.Record) error {
		if err := fn(rec); err != nil {
			return err
		}
		if rec.CurrentJobID != nil && s.jobUpdateFailures > 0 {
			s.jobUpdateFailures--
			return errStoreDown
		}
		return nil
	})
}
