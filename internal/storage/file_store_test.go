package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questweaver/server/internal/panels"
	"questweaver/server/internal/state"
)

func newTestStore(t *testing.T, compactor Compactor) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), compactor)
	require.NoError(t, err)
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t, Compactor{})
	ctx := context.Background()

	st := state.New("token-abc")
	st.AppendEntry(state.EntryPlayerInput, "open the door")
	st.AppendEntry(state.EntryGMResponse, "it creaks open")
	st.AppendDiceRoll("1d20", []int{17}, 17, "strength check", true, state.DiceRequestedByGM)

	require.NoError(t, store.Save(ctx, st))

	loaded, err := store.Load(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.ID, loaded.ID)
	assert.Equal(t, "token-abc", loaded.Token)
	require.Len(t, loaded.History.Entries, 2)
	assert.Equal(t, "open the door", loaded.History.Entries[0].Text)
	require.Len(t, loaded.DiceLog, 1)
	assert.Equal(t, 17, loaded.DiceLog[0].Total)
}

func TestLoadUnknownAdventure(t *testing.T) {
	store := newTestStore(t, Compactor{})
	_, err := store.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadHonorsCancelledContext(t *testing.T) {
	store := newTestStore(t, Compactor{})

	st := state.New("token-abc")
	require.NoError(t, store.Save(context.Background(), st))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Load(ctx, st.ID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadRejectsPathTraversal(t *testing.T) {
	store := newTestStore(t, Compactor{})
	for _, id := range []string{"../etc/passwd", "a/b", `a\b`, "dotted.name", ""} {
		_, err := store.Load(context.Background(), id)
		assert.ErrorIs(t, err, ErrNotFound, "id %q", id)
	}
}

func TestLoadCorruptedRecord(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, Compactor{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644))
	_, err = store.Load(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrCorrupted)

	// Structurally valid JSON missing identity fields is corrupted too.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.json"), []byte(`{"history":{}}`), 0o644))
	_, err = store.Load(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, Compactor{})
	require.NoError(t, err)

	st := state.New("tok")
	require.NoError(t, store.Save(context.Background(), st))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, st.ID+".json", entries[0].Name())
}

func TestSaveFiltersNonPersistentPanels(t *testing.T) {
	store := newTestStore(t, Compactor{})
	ctx := context.Background()

	st := state.New("tok")
	st.Panels = []panels.Panel{
		{ID: "keep", Title: "Keep", Content: "x", Position: panels.PositionSidebar, Persistent: true, CreatedAt: time.Now().UTC()},
		{ID: "drop", Title: "Drop", Content: "x", Position: panels.PositionHeader, Persistent: false, CreatedAt: time.Now().UTC()},
	}

	require.NoError(t, store.Save(ctx, st))

	loaded, err := store.Load(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Panels, 1)
	assert.Equal(t, "keep", loaded.Panels[0].ID)

	// The in-memory state keeps its live panel set.
	assert.Len(t, st.Panels, 2)
}

func TestSaveCompactsOverThreshold(t *testing.T) {
	summarize := func(ctx context.Context, prior string, entries []state.NarrativeEntry) (string, error) {
		return "compacted summary", nil
	}
	store := newTestStore(t, Compactor{Summarize: summarize, MaxEntries: 4, KeepTail: 2})
	ctx := context.Background()

	st := state.New("tok")
	for i := 0; i < 6; i++ {
		st.AppendEntry(state.EntryPlayerInput, "turn")
	}

	require.NoError(t, store.Save(ctx, st))

	loaded, err := store.Load(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.History.Entries, 2)
	require.NotNil(t, loaded.History.Summary)
	assert.Equal(t, "compacted summary", loaded.History.Summary.Text)
	assert.Equal(t, 4, loaded.History.Summary.EntriesArchived)
}

func TestSaveSurvivesCompactionFailure(t *testing.T) {
	summarize := func(ctx context.Context, prior string, entries []state.NarrativeEntry) (string, error) {
		return "", errors.New("model down")
	}
	store := newTestStore(t, Compactor{Summarize: summarize, MaxEntries: 2, KeepTail: 1})
	ctx := context.Background()

	st := state.New("tok")
	for i := 0; i < 5; i++ {
		st.AppendEntry(state.EntryPlayerInput, "turn")
	}

	require.NoError(t, store.Save(ctx, st))

	loaded, err := store.Load(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.History.Entries, 5)
	assert.Nil(t, loaded.History.Summary)
}

func TestSaveBelowThresholdSkipsCompaction(t *testing.T) {
	called := false
	summarize := func(ctx context.Context, prior string, entries []state.NarrativeEntry) (string, error) {
		called = true
		return "", nil
	}
	store := newTestStore(t, Compactor{Summarize: summarize, MaxEntries: 10, KeepTail: 2})

	st := state.New("tok")
	st.AppendEntry(state.EntryPlayerInput, "turn")
	require.NoError(t, store.Save(context.Background(), st))
	assert.False(t, called)
}
