// Package storage persists adventure state. The file store is the
// default backend; a MySQL-backed store is available where a database
// is configured, and Redis provides optional hot-path counters.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"questweaver/server/internal/panels"
	"questweaver/server/internal/state"
)

// ErrNotFound indicates no record exists for the adventure id.
var ErrNotFound = errors.New("adventure not found")

// ErrCorrupted indicates a persisted record failed to deserialize. It
// is never auto-repaired; the caller surfaces it.
var ErrCorrupted = errors.New("adventure state corrupted")

// Store is the durable record contract: Load reconstructs the full
// AdventureState and Save is atomic, so a crash mid-write never leaves
// a partial record observable on the next load.
type Store interface {
	Load(ctx context.Context, adventureID string) (*state.AdventureState, error)
	Save(ctx context.Context, st *state.AdventureState) error
	Close() error
}

// Compactor bounds history growth at save time. When Summarize is nil
// compaction is disabled and saves persist history as-is.
type Compactor struct {
	Summarize  state.Summarize
	MaxEntries int
	KeepTail   int
}

// prepare runs the shared pre-serialize pipeline: history compaction
// when the entry count exceeds the threshold, then non-persistent panel
// filtering on a snapshot. The two steps are independent and
// order-insensitive parts of one atomic save. Compaction failure is
// logged and the state is persisted uncompacted rather than blocking
// the save.
func (c Compactor) prepare(ctx context.Context, st *state.AdventureState) ([]byte, error) {
	if c.Summarize != nil && c.MaxEntries > 0 && len(st.History.Entries) > c.MaxEntries {
		if err := st.Compact(ctx, c.Summarize, c.KeepTail); err != nil {
			log.Printf("[Storage] Compaction failed for adventure %s, saving uncompacted: %v", st.ID, err)
		}
	}

	snapshot := *st
	snapshot.Panels = persistentPanels(st.Panels)

	data, err := json.Marshal(&snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize adventure %s: %w", st.ID, err)
	}
	return data, nil
}

func persistentPanels(all []panels.Panel) []panels.Panel {
	kept := make([]panels.Panel, 0, len(all))
	for _, p := range all {
		if p.Persistent {
			kept = append(kept, p)
		}
	}
	return kept
}

func decodeState(data []byte, adventureID string) (*state.AdventureState, error) {
	var st state.AdventureState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: adventure %s: %v", ErrCorrupted, adventureID, err)
	}
	if st.ID == "" || st.Token == "" {
		return nil, fmt.Errorf("%w: adventure %s: missing id or token", ErrCorrupted, adventureID)
	}
	return &st, nil
}
