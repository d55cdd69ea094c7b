package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/feichai0017/prp-orchestrator/internal/batch"
	"github.com/feichai0017/prp-orchestrator/internal/models"
	"github.com/feichai0017/prp-orchestrator/internal/pipeline"
	"github.com/feichai0017/prp-orchestrator/pkg/converters"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

const (
	DefaultModel       = "claude-sonnet-4-5"
	DefaultMaxTokens   = 2048
	DefaultTemperature = 0.2
	cacheTTL           = "1h"
	maxCustomIDLen     = 64
)

const defaultDraftTemplate = `You are reviewing the product requirement prompt {{.Item}}.
Write your draft from your own perspective ({{.Agent}}).

## Definition

{{.Definition}}

## Context
{{range .Chunks}}
### {{.Source}}{{if .Page}} (page {{.Page}}){{end}}

{{.Text}}
{{end}}`

const defaultGenerateTemplate = `Consolidate the drafts below into the final documents for {{.Item}}.
Start every document with a line of the form:

{{.Separator}} <file-name>

## Definition

{{.Definition}}

## Drafts and context
{{range .Chunks}}
### {{.Source}}{{if .Page}} (page {{.Page}}){{end}}

{{.Text}}
{{end}}`

const defaultSystemPrompt = "You are a senior engineer producing implementation-ready planning documents."

// BuilderConfig controls the generated request entries.
type BuilderConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64
	// AgentsDir holds one <agent>.md system prompt per draft agent.
	AgentsDir   string
	DraftAgents []string
	// Optional template files replacing the built-in prompts.
	DraftTemplate    string
	GenerateTemplate string
}

// RequestBuilder renders phase templates into batch request entries.
type RequestBuilder struct {
	cfg       BuilderConfig
	templates map[models.Stage]*template.Template
	logger    logger.Logger
}

type templateChunk struct {
	Source string
	Page   int
	Text   string
}

type templateData struct {
	Item       string
	Stage      models.Stage
	Agent      string
	Definition string
	Chunks     []templateChunk
	Separator  string
}

func NewRequestBuilder(cfg BuilderConfig, log logger.Logger) (*RequestBuilder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if log == nil {
		log = logger.NewNop()
	}

	draft, err := loadTemplate("draft", cfg.DraftTemplate, defaultDraftTemplate)
	if err != nil {
		return nil, err
	}
	generate, err := loadTemplate("generate", cfg.GenerateTemplate, defaultGenerateTemplate)
	if err != nil {
		return nil, err
	}

	return &RequestBuilder{
		cfg: cfg,
		templates: map[models.Stage]*template.Template{
			models.StageDraft:    draft,
			models.StageGenerate: generate,
		},
		logger: log.Named("builder"),
	}, nil
}

func loadTemplate(name, path, fallback string) (*template.Template, error) {
	text := fallback
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s template: %w", name, err)
		}
		text = string(data)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	return tmpl, nil
}

func (b *RequestBuilder) Build(ctx context.Context, req pipeline.BuildRequest) ([]models.RequestEntry, error) {
	tmpl, ok := b.templates[req.Stage]
	if !ok {
		return nil, fmt.Errorf("no template for stage %q", req.Stage)
	}

	definition, err := os.ReadFile(req.Item.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	bundle, err := readBundle(req.ContextPath)
	if err != nil {
		return nil, err
	}

	data := templateData{
		Item:       req.Item.Name,
		Stage:      req.Stage,
		Definition: strings.TrimSpace(string(definition)),
		Chunks:     chunksOf(bundle),
		Separator:  batch.Separator,
	}

	if req.Stage == models.StageGenerate {
		user, err := render(tmpl, data)
		if err != nil {
			return nil, err
		}
		entry := b.entry("generate-"+req.Item.Stem(), defaultSystemPrompt, user)
		return []models.RequestEntry{entry}, nil
	}

	agents := append([]string(nil), b.cfg.DraftAgents...)
	if len(agents) == 0 {
		agents = []string{"architect"}
	}
	sort.Strings(agents)

	var entries []models.RequestEntry
	for _, agent := range agents {
		system, err := b.systemPrompt(agent)
		if errors.Is(err, fs.ErrNotExist) {
			b.logger.Warn("Skipping unknown agent", logger.String("agent", agent), logger.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		data.Agent = agent
		user, err := render(tmpl, data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, b.entry("draft-"+agent, system, user))
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("none of the draft agents %v has a system prompt", agents)
	}
	return entries, nil
}

func (b *RequestBuilder) systemPrompt(agent string) (string, error) {
	if b.cfg.AgentsDir == "" {
		return defaultSystemPrompt, nil
	}
	data, err := os.ReadFile(filepath.Join(b.cfg.AgentsDir, agent+".md"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (b *RequestBuilder) entry(id, system, user string) models.RequestEntry {
	return models.RequestEntry{
		CorrelationID: CustomID(id),
		Params: models.MessageParams{
			Model:       b.cfg.Model,
			MaxTokens:   b.cfg.MaxTokens,
			Temperature: b.cfg.Temperature,
			System: []models.ContentBlock{{
				Type:         "text",
				Text:         system,
				CacheControl: &models.CacheControl{Type: "ephemeral", TTL: cacheTTL},
			}},
			Messages: []models.Message{{
				Role:    "user",
				Content: []models.ContentBlock{{Type: "text", Text: user}},
			}},
		},
	}
}

// CustomID maps s to the characters the batch API accepts in a custom_id.
func CustomID(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	id := sb.String()
	if len(id) > maxCustomIDLen {
		id = id[:maxCustomIDLen]
	}
	return id
}

func readBundle(path string) (*converters.ContextBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read context bundle: %w", err)
	}
	var bundle converters.ContextBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode context bundle: %w", err)
	}
	return &bundle, nil
}

func chunksOf(bundle *converters.ContextBundle) []templateChunk {
	out := make([]templateChunk, 0, len(bundle.Content))
	for _, c := range bundle.Content {
		tc := templateChunk{Source: c.Source, Text: strings.TrimSpace(c.Text)}
		if page, ok := c.Metadata["page"].(float64); ok {
			tc.Page = int(page)
		}
		out = append(out, tc)
	}
	return out
}

func render(tmpl *template.Template, data templateData) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", tmpl.Name(), err)
	}
	return sb.String(), nil
}
