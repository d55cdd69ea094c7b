package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/feichai0017/prp-orchestrator/internal/models"
	"github.com/feichai0017/prp-orchestrator/internal/pipeline"
)

// Scanner lists the work items waiting in pending/.
type Scanner struct {
	layout     pipeline.Layout
	extensions map[string]bool
}

// NewScanner returns a scanner accepting the given extensions. An empty
// list accepts every regular file.
func NewScanner(layout pipeline.Layout, extensions []string) *Scanner {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}
	return &Scanner{layout: layout, extensions: exts}
}

// ListPending returns pending items oldest first, by modification time and
// then name. Hidden files, unknown extensions and items whose definition is
// already in terminal/ are left out.
func (s *Scanner) ListPending(ctx context.Context) ([]models.WorkItem, error) {
	dir := s.layout.Dir(pipeline.RolePending)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending directory: %w", err)
	}

	terminal := s.layout.Dir(pipeline.RoleTerminal)
	var items []models.WorkItem
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		if len(s.extensions) > 0 && !s.extensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		if _, err := os.Stat(filepath.Join(terminal, name)); err == nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Moved away between ReadDir and Info.
			continue
		}
		item := models.NewWorkItem(filepath.Join(dir, name), info.ModTime(), info.Size())
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].DiscoveredAt.Equal(items[j].DiscoveredAt) {
			return items[i].DiscoveredAt.Before(items[j].DiscoveredAt)
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

// ListStranded returns completed items that still have artifacts in
// ready/<stem>/: the definition is in terminal/ and no longer pending.
// They are left behind when a hand-off is interrupted.
func (s *Scanner) ListStranded(ctx context.Context) ([]models.WorkItem, error) {
	entries, err := os.ReadDir(s.layout.Dir(pipeline.RoleReady))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ready directory: %w", err)
	}

	var stems []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		files, err := pipeline.Files(filepath.Join(s.layout.Dir(pipeline.RoleReady), e.Name()))
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			stems = append(stems, e.Name())
		}
	}
	if len(stems) == 0 {
		return nil, nil
	}

	definitions, err := pipeline.Files(s.layout.Dir(pipeline.RoleTerminal))
	if err != nil {
		return nil, err
	}
	byStem := make(map[string]string, len(definitions))
	for _, p := range definitions {
		name := filepath.Base(p)
		byStem[strings.TrimSuffix(name, filepath.Ext(name))] = p
	}

	var items []models.WorkItem
	for _, stem := range stems {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		def, ok := byStem[stem]
		if !ok {
			continue
		}
		if _, err := os.Stat(s.layout.PendingPath(filepath.Base(def))); err == nil {
			continue
		}
		info, err := os.Stat(def)
		if err != nil {
			continue
		}
		items = append(items, models.NewWorkItem(def, info.ModTime(), info.Size()))
	}
	return items, nil
}
