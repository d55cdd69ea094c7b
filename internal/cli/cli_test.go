package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/prp-orchestrator/config"
	"github.com/feichai0017/prp-orchestrator/internal/models"
	"github.com/feichai0017/prp-orchestrator/internal/pipeline"
	"github.com/feichai0017/prp-orchestrator/internal/queue"
	"github.com/feichai0017/prp-orchestrator/internal/service/status"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.QueueRoot = filepath.Join(dir, "prp")
	cfg.State.Path = filepath.Join(dir, "state.json")
	return cfg
}

func TestNewAppWithoutPipeline(t *testing.T) {
	cfg := testConfig(t)
	app, err := NewApp(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.Driver)
	assert.Nil(t, app.Archive)
	for _, role := range pipeline.Roles {
		assert.DirExists(t, app.Layout.Dir(role))
	}
	assert.Equal(t, 1, app.Policy.Ceiling)
	assert.Equal(t, time.Hour, app.Policy.MinInterval)
}

func TestNewAppPipelineNeedsAPIKey(t *testing.T) {
	cfg := testConfig(t)
	_, err := NewApp(context.Background(), cfg, logger.NewNop(), WithPipeline())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")

	cfg.API.APIKey = "sk-test"
	app, err := NewApp(context.Background(), cfg, logger.NewNop(), WithPipeline())
	require.NoError(t, err)
	defer app.Close()
	assert.NotNil(t, app.Driver)
}

func TestNewAppUnknownArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Type = "ftp"
	_, err := NewApp(context.Background(), cfg, logger.NewNop(), WithArchive())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage type")
}

func TestPrintStatus(t *testing.T) {
	last := time.Date(2025, 3, 1, 8, 5, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, &status.Snapshot{
		Environment: "dev",
		Counts:      map[string]int{pipeline.RolePending: 1},
		Pending:     []string{"a.md"},
		Cursor: &models.Cursor{
			Item:   "a.md",
			Phase:  models.PhaseSubmitPollDraft,
			JobID:  "msgbatch_1",
			Status: models.CursorWaiting,
		},
		LastSubmission: &last,
		WindowCount:    1,
		Ceiling:        1,
		MinInterval:    "1h0m0s",
		Reason:         "rate limit: 1 submissions in last hour, wait ~55 minutes",
	})

	out := buf.String()
	assert.Contains(t, out, "  - a.md\n")
	assert.Contains(t, out, "In flight: a.md at submit_poll_draft (waiting) job msgbatch_1")
	assert.Contains(t, out, "Last submission: 2025-03-01T08:05:00Z")
	assert.Contains(t, out, "Submissions in last hour: 1/1")
	assert.Contains(t, out, "Can submit: no, rate limit: 1 submissions in last hour, wait ~55 minutes")
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, queue.Summary{
		PassID:   "p1",
		Done:     1,
		Deferred: 1,
		Outcomes: []pipeline.Outcome{
			{Item: "a.md", Status: pipeline.StatusDone},
			{Item: "b.md", Status: pipeline.StatusDeferred, Reason: "waiting on a.md"},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "Pass p1: 1 done, 0 skipped, 1 deferred, 0 failed")
	assert.Contains(t, out, "(waiting on a.md)")
}

func TestStatusCommandJSON(t *testing.T) {
	for _, k := range []string{"ANTHROPIC_API_KEY", "ENVIRONMENT", "PRP_QUEUE_ROOT", "STATE_BACKEND", "STATE_FILE", "LOG_FILE", "MAX_BATCHES_PER_HOUR"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
queue_root: %s
state:
  path: %s
log:
  level: error
  encoding: json
  output_paths: [stderr]
`, filepath.Join(dir, "prp"), filepath.Join(dir, "state.json"))), 0644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"status", "--json", "--config", cfgPath, "--env-file", filepath.Join(dir, "none.env")})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		statusJSON = false
	})
	require.NoError(t, Execute())

	var snap status.Snapshot
	require.NoError(t, json.Unmarshal(out.Bytes(), &snap))
	assert.Equal(t, "dev", snap.Environment)
	assert.True(t, snap.CanSubmit)
	assert.Equal(t, 0, snap.WindowCount)
}
