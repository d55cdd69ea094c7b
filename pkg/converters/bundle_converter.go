package converters

import (
	"fmt"
	"sort"
	"time"

	"github.com/feichai0017/prp-orchestrator/internal/models"
)

// BundleConverter turns gathered context chunks into the bundle handed to
// the request builder.
type BundleConverter interface {
	Convert(item string, stage models.Stage, chunks []models.ContextChunk) (*ContextBundle, error)
}

// ContextBundle is the persisted context of one item for one stage.
type ContextBundle struct {
	Item        string         `json:"item"`
	Stage       models.Stage   `json:"stage"`
	Content     []ChunkContent `json:"content"`
	Metadata    BundleMetadata `json:"metadata"`
	CollectedAt time.Time      `json:"collectedAt"`
}

type ChunkContent struct {
	Source    string                 `json:"source"`
	Text      string                 `json:"text"`
	Position  int                    `json:"position"`
	Type      string                 `json:"type"` // "file" or "page"
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type BundleMetadata struct {
	Sources    []string `json:"sources"`
	TotalBytes int      `json:"totalBytes"`
	PageCount  int      `json:"pageCount,omitempty"`
}

// JSONConverter builds bundles meant to be serialized as JSON.
type JSONConverter struct {
	now func() time.Time
}

// NewJSONConverter returns a converter stamping bundles with now. A nil
// now means time.Now.
func NewJSONConverter(now func() time.Time) *JSONConverter {
	if now == nil {
		now = time.Now
	}
	return &JSONConverter{now: now}
}

func (c *JSONConverter) Convert(item string, stage models.Stage, chunks []models.ContextChunk) (*ContextBundle, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks to convert")
	}

	bundle := &ContextBundle{
		Item:        item,
		Stage:       stage,
		Content:     make([]ChunkContent, 0, len(chunks)),
		CollectedAt: c.now(),
	}

	sources := make(map[string]bool)
	for i, chunk := range chunks {
		content := ChunkContent{
			Source:   chunk.Source,
			Text:     chunk.Content,
			Position: i + 1,
			Type:     "file",
			Metadata: chunk.Metadata,
		}
		if _, ok := chunk.Metadata["page"]; ok {
			content.Type = "page"
			bundle.Metadata.PageCount++
		}
		if truncated, ok := chunk.Metadata["truncated"].(bool); ok {
			content.Truncated = truncated
		}

		bundle.Content = append(bundle.Content, content)
		bundle.Metadata.TotalBytes += len(chunk.Content)
		sources[chunk.Source] = true
	}

	for source := range sources {
		bundle.Metadata.Sources = append(bundle.Metadata.Sources, source)
	}
	sort.Strings(bundle.Metadata.Sources)

	return bundle, nil
}
