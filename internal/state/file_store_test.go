package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/prp-orchestrator/internal/models"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestFileStoreMissingFileIsEmptyRecord(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "logs", "state.json"))

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec.LastBatchTime)
	assert.Empty(t, rec.SubmissionWindow)
	_, ok := rec.Cursor()
	assert.False(t, ok)
}

func TestFileStoreRoundTripLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "state.json"))
	ctx := context.Background()

	rec := NewRecord()
	rec.LastBatchTime = &t0
	rec.SubmissionWindow = []time.Time{t0}
	rec.SetCursor(models.Cursor{
		Item:           "feature.md",
		Phase:          models.PhaseSubmitPollDraft,
		JobID:          "msgbatch_01",
		PhaseStartedAt: t0,
		Status:         models.CursorWaiting,
	})
	require.NoError(t, store.Save(ctx, rec))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	cur, ok := loaded.Cursor()
	require.True(t, ok)
	assert.Equal(t, "feature.md", cur.Item)
	assert.Equal(t, models.PhaseSubmitPollDraft, cur.Phase)
	assert.Equal(t, "msgbatch_01", cur.JobID)
	assert.Equal(t, models.CursorWaiting, cur.Status)
	assert.True(t, t0.Equal(*loaded.LastBatchTime))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestFileStoreWritesNullsForEmptyCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, NewFileStore(path).Save(context.Background(), &Record{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"last_batch_time": null,
		"submission_window": [],
		"current_item": null,
		"current_phase": null,
		"current_job_id": null,
		"phase_started_at": null,
		"status": null
	}`, string(data))
}

func TestFileStoreRejectsUnknownPhase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"current_item":"a.md","current_phase":"phase_nine"}`), 0644))

	_, err := NewFileStore(path).Load(context.Background())
	assert.Error(t, err)
}

func TestFileStoreUpdateSkipsWriteOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, func(r *Record) error {
		r.LastBatchTime = &t0
		return nil
	}))

	boom := errors.New("boom")
	err := store.Update(ctx, func(r *Record) error {
		r.LastBatchTime = nil
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rec, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec.LastBatchTime)
}

func TestRecordClearCursorKeepsWindow(t *testing.T) {
	rec := NewRecord()
	rec.SubmissionWindow = []time.Time{t0}
	rec.SetCursor(models.Cursor{Item: "a.md", Phase: models.PhaseRateGateDraft, Status: models.CursorWaiting})

	clone := rec.Clone()
	rec.ClearCursor()

	_, ok := rec.Cursor()
	assert.False(t, ok)
	assert.Len(t, rec.SubmissionWindow, 1)

	cur, ok := clone.Cursor()
	require.True(t, ok)
	assert.Equal(t, "a.md", cur.Item)
}
