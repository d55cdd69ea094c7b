package state

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store loads and saves the state Record. The orchestrator is the only
// writer; implementations only need to make each Save atomic.
type Store interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	// Update runs fn against the current record and persists the result
	// before returning. If fn returns an error nothing is written.
	Update(ctx context.Context, fn func(*Record) error) error
}

func decode(data []byte) (*Record, error) {
	rec := NewRecord()
	if len(data) == 0 {
		return rec, nil
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	rec.normalize()
	return rec, nil
}

func encode(rec *Record) ([]byte, error) {
	rec.normalize()
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return data, nil
}
