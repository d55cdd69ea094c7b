// Package agent provides the default collaborators of the pipeline: the
// context collector, the request builder and the command executor.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/feichai0017/prp-orchestrator/internal/models"
	"github.com/feichai0017/prp-orchestrator/internal/pipeline"
	"github.com/feichai0017/prp-orchestrator/pkg/converters"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

// CollectorConfig controls which files end up in a context bundle.
type CollectorConfig struct {
	// Root anchors the include globs and relative source names.
	Root            string
	Includes        []string
	MaxSnippetBytes int
	MaxTotalBytes   int
}

// Collector gathers the item's sources plus the configured include globs
// into a JSON context bundle.
type Collector struct {
	cfg       CollectorConfig
	factory   *ExtractorFactory
	converter converters.BundleConverter
	logger    logger.Logger
}

func NewCollector(cfg CollectorConfig, factory *ExtractorFactory, converter converters.BundleConverter, log logger.Logger) *Collector {
	if cfg.MaxSnippetBytes <= 0 {
		cfg.MaxSnippetBytes = 16 * 1024
	}
	if cfg.MaxTotalBytes <= 0 {
		cfg.MaxTotalBytes = 256 * 1024
	}
	if log == nil {
		log = logger.NewNop()
	}
	if factory == nil {
		factory = NewExtractorFactory(log)
	}
	if converter == nil {
		converter = converters.NewJSONConverter(nil)
	}
	return &Collector{cfg: cfg, factory: factory, converter: converter, logger: log.Named("collector")}
}

func (c *Collector) Collect(ctx context.Context, req pipeline.CollectRequest) error {
	log := c.logger.With(logger.Item(req.Item.Name), logger.String("stage", string(req.Stage)))

	var chunks []models.ContextChunk
	total := 0
	for _, path := range c.paths(req.Sources, log) {
		if err := ctx.Err(); err != nil {
			return err
		}
		required := contains(req.Sources, path)

		extracted, err := c.extract(ctx, path)
		if err != nil {
			if required {
				return err
			}
			log.Warn("Skipping include", logger.Path("path", path), logger.Error(err))
			continue
		}

		for _, chunk := range extracted {
			if total >= c.cfg.MaxTotalBytes {
				log.Warn("Context size cap reached", logger.Int("bytes", total))
				break
			}
			chunk = truncate(chunk, min(c.cfg.MaxSnippetBytes, c.cfg.MaxTotalBytes-total))
			total += len(chunk.Content)
			chunks = append(chunks, chunk)
		}
	}

	bundle, err := c.converter.Convert(req.Item.Name, req.Stage, chunks)
	if err != nil {
		return fmt.Errorf("failed to build context bundle: %w", err)
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(req.OutputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write context bundle: %w", err)
	}

	log.Info("Context collected",
		logger.Int("chunks", len(chunks)),
		logger.Int("bytes", total),
		logger.Path("output", req.OutputPath))
	return nil
}

// paths returns the sources followed by the include matches, without
// duplicates.
func (c *Collector) paths(sources []string, log logger.Logger) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, s := range sources {
		add(s)
	}
	for _, pattern := range c.cfg.Includes {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(c.cfg.Root, pattern)
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			log.Warn("Bad include pattern", logger.String("pattern", pattern), logger.Error(err))
			continue
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
				add(m)
			}
		}
	}
	return out
}

func (c *Collector) extract(ctx context.Context, path string) ([]models.ContextChunk, error) {
	extractor, err := c.factory.GetExtractor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return extractor.Extract(ctx, c.sourceName(path), f)
}

func (c *Collector) sourceName(path string) string {
	if c.cfg.Root == "" {
		return path
	}
	root, err := filepath.Abs(c.cfg.Root)
	if err != nil {
		return path
	}
	if rel, err := filepath.Rel(root, path); err == nil && !filepath.IsAbs(rel) && rel != ".." && !startsWithParent(rel) {
		return filepath.ToSlash(rel)
	}
	return path
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}

func contains(list []string, path string) bool {
	for _, s := range list {
		if abs, err := filepath.Abs(s); err == nil && abs == path {
			return true
		}
	}
	return false
}

// truncate cuts the chunk to at most limit bytes on a rune boundary.
func truncate(chunk models.ContextChunk, limit int) models.ContextChunk {
	if len(chunk.Content) <= limit {
		return chunk
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(chunk.Content[cut]) {
		cut--
	}
	chunk.Content = chunk.Content[:cut]
	meta := make(map[string]interface{}, len(chunk.Metadata)+1)
	for k, v := range chunk.Metadata {
		meta[k] = v
	}
	meta["truncated"] = true
	chunk.Metadata = meta
	return chunk
}
