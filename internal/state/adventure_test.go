package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(entries int) *AdventureState {
	st := New("token-1")
	for i := 0; i < entries; i++ {
		kind := EntryPlayerInput
		if i%2 == 1 {
			kind = EntryGMResponse
		}
		st.AppendEntry(kind, "entry")
	}
	return st
}

func TestAppendEntryAssignsIDsAndOrder(t *testing.T) {
	st := seeded(3)
	require.Len(t, st.History.Entries, 3)

	seen := map[string]bool{}
	for i, e := range st.History.Entries {
		assert.NotEmpty(t, e.ID)
		assert.False(t, seen[e.ID])
		seen[e.ID] = true
		if i > 0 {
			assert.False(t, e.Timestamp.Before(st.History.Entries[i-1].Timestamp))
		}
	}
}

func TestAppendDiceRollKeepsHiddenRolls(t *testing.T) {
	st := New("token-1")
	st.AppendDiceRoll("2d6", []int{3, 4}, 7, "perception", true, DiceRequestedByGM)
	st.AppendDiceRoll("1d20", []int{13}, 13, "secret save", false, DiceRequestedByGM)

	require.Len(t, st.DiceLog, 2)
	assert.True(t, st.DiceLog[0].Visible)
	assert.False(t, st.DiceLog[1].Visible)
	assert.Equal(t, "secret save", st.DiceLog[1].Context)
}

func TestCompactArchivesAllButTail(t *testing.T) {
	st := seeded(10)
	summarize := func(ctx context.Context, prior string, entries []NarrativeEntry) (string, error) {
		assert.Empty(t, prior)
		assert.Len(t, entries, 7)
		return "the story so far", nil
	}

	require.NoError(t, st.Compact(context.Background(), summarize, 3))

	assert.Len(t, st.History.Entries, 3)
	require.NotNil(t, st.History.Summary)
	assert.Equal(t, "the story so far", st.History.Summary.Text)
	assert.Equal(t, 7, st.History.Summary.EntriesArchived)
}

func TestCompactMergesPriorSummary(t *testing.T) {
	st := seeded(6)
	firstFrom := st.History.Entries[0].Timestamp

	summarize := func(ctx context.Context, prior string, entries []NarrativeEntry) (string, error) {
		return "merged: " + prior, nil
	}

	require.NoError(t, st.Compact(context.Background(), summarize, 2))
	for i := 0; i < 4; i++ {
		st.AppendEntry(EntryPlayerInput, "more")
	}
	require.NoError(t, st.Compact(context.Background(), summarize, 2))

	require.NotNil(t, st.History.Summary)
	assert.Equal(t, 8, st.History.Summary.EntriesArchived)
	assert.Equal(t, firstFrom, st.History.Summary.From)
	assert.Len(t, st.History.Entries, 2)
}

func TestCompactIsAllOrNothing(t *testing.T) {
	st := seeded(8)
	boom := errors.New("model unavailable")
	summarize := func(ctx context.Context, prior string, entries []NarrativeEntry) (string, error) {
		return "", boom
	}

	err := st.Compact(context.Background(), summarize, 2)
	require.ErrorIs(t, err, boom)
	assert.Len(t, st.History.Entries, 8)
	assert.Nil(t, st.History.Summary)
}

func TestCompactNoOpBelowTail(t *testing.T) {
	st := seeded(3)
	called := false
	summarize := func(ctx context.Context, prior string, entries []NarrativeEntry) (string, error) {
		called = true
		return "", nil
	}

	require.NoError(t, st.Compact(context.Background(), summarize, 5))
	assert.False(t, called)
	assert.Len(t, st.History.Entries, 3)
}

func TestCompactToEmptyTail(t *testing.T) {
	st := seeded(4)
	summarize := func(ctx context.Context, prior string, entries []NarrativeEntry) (string, error) {
		return "everything", nil
	}

	require.NoError(t, st.Compact(context.Background(), summarize, 0))
	assert.Empty(t, st.History.Entries)
	require.NotNil(t, st.History.Summary)
	assert.Equal(t, 4, st.History.Summary.EntriesArchived)
}
