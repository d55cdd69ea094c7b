package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/feichai0017/prp-orchestrator/internal/models"
)

// ErrorRecordSuffix ends the file name of every quarantine record.
const ErrorRecordSuffix = "-error.json"

func newRecord(item string, kind models.FailureKind, detail string) models.QuarantineRecord {
	return models.QuarantineRecord{
		ID:     uuid.NewString(),
		Item:   item,
		Kind:   kind,
		Detail: detail,
	}
}

func writeRecord(path string, rec models.QuarantineRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create quarantine directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode quarantine record: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write quarantine record: %w", err)
	}
	return nil
}

// itemRecordPath is quarantined/<stem>-error.json.
func (l Layout) itemRecordPath(stem string) string {
	return filepath.Join(l.Dir(RoleQuarantined), stem+ErrorRecordSuffix)
}

// entryRecordPath is quarantined/<stem>/<correlation_id>-error.json.
func (l Layout) entryRecordPath(stem, correlationID string) string {
	return filepath.Join(l.Dir(RoleQuarantined), stem, correlationID+ErrorRecordSuffix)
}

// artifactRecordPath is quarantined/<stem>/<artifact>.execution-error.json.
// The artifact keeps its extension and the dotted infix, which correlation
// ids cannot contain, keeps it apart from entry records.
func (l Layout) artifactRecordPath(stem, artifact string) string {
	return filepath.Join(l.Dir(RoleQuarantined), stem, artifact+".execution"+ErrorRecordSuffix)
}

// ReadRecords parses every quarantine record under the quarantined role,
// including per-entry records in item subdirectories.
func (l Layout) ReadRecords() ([]models.QuarantineRecord, error) {
	var records []models.QuarantineRecord
	root := l.Dir(RoleQuarantined)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ErrorRecordSuffix) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var rec models.QuarantineRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("malformed quarantine record %s: %w", path, err)
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
