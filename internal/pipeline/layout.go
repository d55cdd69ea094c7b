package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/feichai0017/prp-orchestrator/internal/models"
)

// Directory roles. The location of a file is its state.
const (
	RolePending     = "pending"
	RoleDrafted     = "drafted"
	RoleReady       = "ready"
	RoleTerminal    = "terminal"
	RoleQuarantined = "quarantined"
	RoleWork        = "work"
)

// Roles lists the externally visible directory roles in pipeline order.
var Roles = []string{RolePending, RoleDrafted, RoleReady, RoleTerminal, RoleQuarantined}

// Layout resolves the directories of a queue root.
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// Dir returns the directory of a role.
func (l Layout) Dir(role string) string {
	return filepath.Join(l.Root, role)
}

// Ensure creates every role directory.
func (l Layout) Ensure() error {
	for _, role := range append([]string{RoleWork}, Roles...) {
		if err := os.MkdirAll(l.Dir(role), 0755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", role, err)
		}
	}
	return nil
}

// ArtifactDir is where the artifacts of a stage land: drafts under
// drafted/<stem>, generated documents under ready/<stem>.
func (l Layout) ArtifactDir(stem string, stage models.Stage) string {
	if stage == models.StageDraft {
		return filepath.Join(l.Dir(RoleDrafted), stem)
	}
	return filepath.Join(l.Dir(RoleReady), stem)
}

// PendingPath is where a queued definition named name waits.
func (l Layout) PendingPath(name string) string {
	return filepath.Join(l.Dir(RolePending), name)
}

func (l Layout) ContextPath(stem string, stage models.Stage) string {
	return filepath.Join(l.Dir(RoleWork), fmt.Sprintf("%s-%s-context.json", stem, stage))
}

func (l Layout) RequestPath(stem string, stage models.Stage) string {
	return filepath.Join(l.Dir(RoleWork), fmt.Sprintf("%s-%s-requests.json", stem, stage))
}

// Files returns the regular files directly inside dir, sorted by name. A
// missing directory has no files.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Count returns the number of entries in a role directory.
func (l Layout) Count(role string) (int, error) {
	entries, err := os.ReadDir(l.Dir(role))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// moveFile renames src into dir, creating dir as needed.
func moveFile(src, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(src))
	if err := os.Rename(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
