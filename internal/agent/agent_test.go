package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/prp-orchestrator/internal/models"
	"github.com/feichai0017/prp-orchestrator/internal/pipeline"
	"github.com/feichai0017/prp-orchestrator/pkg/converters"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

func write(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func collectBundle(t *testing.T, cfg CollectorConfig, sources []string) *converters.ContextBundle {
	t.Helper()
	out := filepath.Join(t.TempDir(), "work", "feature-draft-context.json")
	item := models.NewWorkItem(sources[0], time.Now(), 1)

	c := NewCollector(cfg, nil, nil, logger.NewTestLogger())
	require.NoError(t, c.Collect(context.Background(), pipeline.CollectRequest{
		Item:       item,
		Stage:      models.StageDraft,
		Sources:    sources,
		OutputPath: out,
	}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var bundle converters.ContextBundle
	require.NoError(t, json.Unmarshal(data, &bundle))
	return &bundle
}

func TestCollectorGathersSourcesAndIncludes(t *testing.T) {
	root := t.TempDir()
	def := write(t, filepath.Join(root, "pending", "feature.md"), "# Feature\nDo it.\n")
	write(t, filepath.Join(root, "docs", "guide.md"), "guide text")
	write(t, filepath.Join(root, "docs", "logo.png"), "\x89PNG")

	bundle := collectBundle(t, CollectorConfig{Root: root, Includes: []string{"docs/*"}}, []string{def})

	assert.Equal(t, "feature.md", bundle.Item)
	require.Len(t, bundle.Content, 2)
	assert.Equal(t, "pending/feature.md", bundle.Content[0].Source)
	assert.Equal(t, "docs/guide.md", bundle.Content[1].Source)
	assert.Equal(t, "guide text", bundle.Content[1].Text)
}

func TestCollectorTruncatesSnippets(t *testing.T) {
	root := t.TempDir()
	def := write(t, filepath.Join(root, "feature.md"), strings.Repeat("é", 10))

	bundle := collectBundle(t, CollectorConfig{Root: root, MaxSnippetBytes: 5}, []string{def})
	require.Len(t, bundle.Content, 1)
	assert.Equal(t, "éé", bundle.Content[0].Text)
	assert.True(t, bundle.Content[0].Truncated)
}

func TestCollectorFailsOnUnreadableSource(t *testing.T) {
	root := t.TempDir()
	c := NewCollector(CollectorConfig{Root: root}, nil, nil, nil)
	err := c.Collect(context.Background(), pipeline.CollectRequest{
		Item:       models.NewWorkItem(filepath.Join(root, "missing.md"), time.Now(), 0),
		Stage:      models.StageDraft,
		Sources:    []string{filepath.Join(root, "missing.md")},
		OutputPath: filepath.Join(root, "out.json"),
	})
	assert.Error(t, err)
}

func TestExtractorFactory(t *testing.T) {
	f := NewExtractorFactory(nil)

	e, err := f.GetExtractor("guide.PDF")
	require.NoError(t, err)
	assert.True(t, e.CanExtract(".pdf"))

	_, err = e.Extract(context.Background(), "broken.pdf", strings.NewReader("not a pdf"))
	assert.Error(t, err)

	e, err = f.GetExtractor("notes.md")
	require.NoError(t, err)
	chunks, err := e.Extract(context.Background(), "notes.md", strings.NewReader("hello"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello", chunks[0].Content)

	_, err = f.GetExtractor("image.png")
	assert.Error(t, err)
}

func buildRequest(t *testing.T, b *RequestBuilder, stage models.Stage) []models.RequestEntry {
	t.Helper()
	root := t.TempDir()
	def := write(t, filepath.Join(root, "pending", "user profiles.md"), "# User profiles\n")
	ctxPath := filepath.Join(root, "work", "ctx.json")
	bundle := converters.ContextBundle{
		Item:  "user profiles.md",
		Stage: stage,
		Content: []converters.ChunkContent{
			{Source: "docs/design.pdf", Text: "page text", Type: "page", Metadata: map[string]interface{}{"page": 2}},
		},
	}
	data, err := json.Marshal(bundle)
	require.NoError(t, err)
	write(t, ctxPath, string(data))

	entries, err := b.Build(context.Background(), pipeline.BuildRequest{
		Item:        models.NewWorkItem(def, time.Now(), 1),
		Stage:       stage,
		ContextPath: ctxPath,
	})
	require.NoError(t, err)
	return entries
}

func TestBuilderDraftEntryPerAgent(t *testing.T) {
	agents := t.TempDir()
	write(t, filepath.Join(agents, "security.md"), "You review security.\n")
	write(t, filepath.Join(agents, "architect.md"), "You review architecture.\n")

	log := logger.NewTestLogger()
	b, err := NewRequestBuilder(BuilderConfig{
		AgentsDir:   agents,
		DraftAgents: []string{"security", "architect", "ghost"},
		Temperature: DefaultTemperature,
	}, log)
	require.NoError(t, err)

	entries := buildRequest(t, b, models.StageDraft)
	require.Len(t, entries, 2)
	assert.Equal(t, "draft-architect", entries[0].CorrelationID)
	assert.Equal(t, "draft-security", entries[1].CorrelationID)

	p := entries[0].Params
	assert.Equal(t, DefaultModel, p.Model)
	assert.Equal(t, DefaultMaxTokens, p.MaxTokens)
	assert.Equal(t, "You review architecture.", p.System[0].Text)
	assert.Equal(t, &models.CacheControl{Type: "ephemeral", TTL: "1h"}, p.System[0].CacheControl)
	user := p.Messages[0].Content[0].Text
	assert.Contains(t, user, "# User profiles")
	assert.Contains(t, user, "### docs/design.pdf (page 2)")
	assert.Contains(t, user, "(architect)")
	assert.True(t, log.Contains("WARN", "Skipping unknown agent"))
}

func TestBuilderGenerateSingleEntry(t *testing.T) {
	b, err := NewRequestBuilder(BuilderConfig{Model: "claude-test"}, nil)
	require.NoError(t, err)

	entries := buildRequest(t, b, models.StageGenerate)
	require.Len(t, entries, 1)
	assert.Equal(t, "generate-user_profiles", entries[0].CorrelationID)
	assert.Equal(t, "claude-test", entries[0].Params.Model)
	assert.Contains(t, entries[0].Params.Messages[0].Content[0].Text, "<<<DOCUMENT>>> <file-name>")
}

func TestBuilderRejectsBadTemplate(t *testing.T) {
	path := write(t, filepath.Join(t.TempDir(), "draft.tmpl"), "{{.Item")
	_, err := NewRequestBuilder(BuilderConfig{DraftTemplate: path}, nil)
	assert.Error(t, err)
}

func TestCustomID(t *testing.T) {
	assert.Equal(t, "draft-a_b_c", CustomID("draft-a.b c"))
	assert.Len(t, CustomID(strings.Repeat("x", 100)), 64)
}

func TestCommandExecutor(t *testing.T) {
	dir := t.TempDir()
	good := write(t, filepath.Join(dir, "good.md"), "ok\n")
	bad := write(t, filepath.Join(dir, "bad.md"), "nope\n")

	e, err := NewCommandExecutor([]string{"sh", "-c", `grep -q ok "$0" || { echo "missing ok in $0"; exit 3; }`}, time.Minute, nil)
	require.NoError(t, err)

	res, err := e.Execute(context.Background(), good)
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = e.Execute(context.Background(), bad)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Diagnostics, "missing ok in")
	assert.Contains(t, res.Diagnostics, "exit status 3")

	_, err = NewCommandExecutor(nil, 0, nil)
	assert.Error(t, err)

	missing, err := NewCommandExecutor([]string{filepath.Join(dir, "no-such-binary")}, 0, nil)
	require.NoError(t, err)
	_, err = missing.Execute(context.Background(), good)
	assert.Error(t, err)
}
