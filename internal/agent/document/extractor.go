package document

import (
	"context"
	"io"

	"github.com/feichai0017/prp-orchestrator/internal/models"
)

// Extractor turns one source file into context chunks.
type Extractor interface {
	// CanExtract reports whether the extractor handles files with ext.
	CanExtract(ext string) bool

	// Extract reads the file and returns its chunks. source is the name the
	// chunks are attributed to.
	Extract(ctx context.Context, source string, reader io.Reader) ([]models.ContextChunk, error)
}
