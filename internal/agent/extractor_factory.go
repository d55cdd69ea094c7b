package agent

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/feichai0017/prp-orchestrator/internal/agent/document"
	"github.com/feichai0017/prp-orchestrator/internal/agent/document/pdf"
	"github.com/feichai0017/prp-orchestrator/internal/agent/document/text"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

// ExtractorFactory picks an extractor by file extension.
type ExtractorFactory struct {
	extractors []document.Extractor
	logger     logger.Logger
}

// NewExtractorFactory registers the PDF and text extractors.
func NewExtractorFactory(log logger.Logger) *ExtractorFactory {
	if log == nil {
		log = logger.NewNop()
	}
	return &ExtractorFactory{
		extractors: []document.Extractor{
			pdf.NewExtractor(log),
			text.NewExtractor(),
		},
		logger: log,
	}
}

// GetExtractor returns the extractor for path.
func (f *ExtractorFactory) GetExtractor(path string) (document.Extractor, error) {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range f.extractors {
		if e.CanExtract(ext) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("unsupported file type: %q", ext)
}
