package text

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/feichai0017/prp-orchestrator/internal/models"
)

var extensions = map[string]bool{
	".md": true, ".markdown": true, ".txt": true, ".rst": true,
	".yaml": true, ".yml": true, ".json": true, ".toml": true,
	".go": true, ".py": true, ".ts": true, ".js": true, ".sql": true,
}

// Extractor reads plain text sources as a single chunk.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) CanExtract(ext string) bool {
	return extensions[strings.ToLower(ext)]
}

func (e *Extractor) Extract(ctx context.Context, source string, reader io.Reader) ([]models.ContextChunk, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%s is not valid UTF-8", source)
	}
	return []models.ContextChunk{{
		Source:   source,
		Content:  string(content),
		Metadata: map[string]interface{}{"bytes": len(content)},
	}}, nil
}
