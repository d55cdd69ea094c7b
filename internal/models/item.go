package models

import (
	"path/filepath"
	"strings"
	"time"
)

// WorkItem is one definition file waiting in the queue. Its identity is the
// path it was discovered at; the file itself is never edited, only moved
// between directory roles.
type WorkItem struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	DiscoveredAt time.Time `json:"discoveredAt"`
	Size         int64     `json:"size"`
	Hash         string    `json:"hash,omitempty"`
}

// NewWorkItem builds a WorkItem for the file at path.
func NewWorkItem(path string, discoveredAt time.Time, size int64) WorkItem {
	return WorkItem{
		Path:         path,
		Name:         filepath.Base(path),
		DiscoveredAt: discoveredAt,
		Size:         size,
	}
}

// Stem is the file name without its extension. Artifact directories and
// work files are keyed by it.
func (w WorkItem) Stem() string {
	return strings.TrimSuffix(w.Name, filepath.Ext(w.Name))
}
