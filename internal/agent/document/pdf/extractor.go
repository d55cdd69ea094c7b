package pdf

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/prp-orchestrator/internal/models"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

const maxWorkers = 4

// Extractor pulls the plain text of every PDF page into its own chunk.
type Extractor struct {
	logger logger.Logger
}

func NewExtractor(log logger.Logger) *Extractor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Extractor{logger: log}
}

func (e *Extractor) CanExtract(ext string) bool {
	return strings.ToLower(ext) == ".pdf"
}

func (e *Extractor) Extract(ctx context.Context, source string, file io.Reader) ([]models.ContextChunk, error) {
	content, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf %s: %w", source, err)
	}

	numPages := pdfReader.NumPage()
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	chunks := make([]models.ContextChunk, numPages)
	present := make([]bool, numPages)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)
	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			page := pdfReader.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}
			text, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("failed to get text from page %d: %w", pageNum, err)
			}
			chunks[pageNum-1] = models.ContextChunk{
				Source:  source,
				Content: strings.TrimSpace(text),
				Metadata: map[string]interface{}{
					"page": pageNum,
					"hash": hash,
				},
			}
			present[pageNum-1] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.ContextChunk, 0, numPages)
	for i, ok := range present {
		if ok && chunks[i].Content != "" {
			out = append(out, chunks[i])
		}
	}
	e.logger.Debug("Extracted pdf",
		logger.String("source", source),
		logger.Int("pages", numPages),
		logger.Int("chunks", len(out)))
	return out, nil
}
