package batch

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/feichai0017/prp-orchestrator/internal/models"
)

// Separator starts a new document inside a success payload. The rest of
// the line is the declared file name:
//
//	<<<DOCUMENT>>> api-guide.md
const Separator = "<<<DOCUMENT>>>"

// SplitDocuments breaks a success payload into documents. Text before the
// first separator is kept as a document named after the correlation id
// unless it is blank. Documents with blank content are dropped.
func SplitDocuments(correlationID, payload string) []models.Document {
	if !hasSeparator(payload) {
		content := normalizeContent(payload)
		if content == "" {
			return nil
		}
		return []models.Document{{Name: correlationID + ".md", CorrelationID: correlationID, Content: content}}
	}

	var (
		docs     []models.Document
		name     = correlationID + ".md"
		declared = false
		buf      []string
	)
	flush := func() {
		content := normalizeContent(strings.Join(buf, "\n"))
		buf = buf[:0]
		if content == "" {
			return
		}
		n := name
		if declared {
			n = sanitizeName(name, correlationID, len(docs)+1)
		}
		docs = append(docs, models.Document{Name: n, CorrelationID: correlationID, Content: content})
	}

	for _, line := range strings.Split(payload, "\n") {
		if strings.HasPrefix(line, Separator) {
			flush()
			name = strings.TrimSpace(strings.TrimPrefix(line, Separator))
			declared = true
			continue
		}
		buf = append(buf, line)
	}
	flush()
	return docs
}

func hasSeparator(payload string) bool {
	return strings.HasPrefix(payload, Separator) || strings.Contains(payload, "\n"+Separator)
}

func normalizeContent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.Trim(s, "\n")
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s + "\n"
}

// sanitizeName reduces a declared name to its base name. Names that cannot
// be used as a file name fall back to <correlation id>-<n>.md.
func sanitizeName(declared, correlationID string, n int) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(declared), "\\", "/"))
	switch base {
	case "", ".", "..", "/":
		return fmt.Sprintf("%s-%d.md", correlationID, n)
	}
	if strings.HasPrefix(base, ".") {
		return fmt.Sprintf("%s-%d.md", correlationID, n)
	}
	return base
}

// WriteDocuments writes docs into dir and returns the written paths in
// order. When two documents of one call share a name, the later one gets
// its correlation id appended to the stem. Files from an earlier attempt
// with the same name are overwritten.
func WriteDocuments(dir string, docs []models.Document) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	used := make(map[string]bool, len(docs))
	paths := make([]string, 0, len(docs))
	for _, doc := range docs {
		name := uniqueName(doc, used)
		used[name] = true

		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(doc.Content), 0644); err != nil {
			return paths, fmt.Errorf("failed to write artifact %s: %w", name, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func uniqueName(doc models.Document, used map[string]bool) string {
	if !used[doc.Name] {
		return doc.Name
	}
	ext := filepath.Ext(doc.Name)
	stem := strings.TrimSuffix(doc.Name, ext)
	candidate := fmt.Sprintf("%s-%s%s", stem, doc.CorrelationID, ext)
	for i := 2; used[candidate]; i++ {
		candidate = fmt.Sprintf("%s-%s-%d%s", stem, doc.CorrelationID, i, ext)
	}
	return candidate
}
