package panels

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func panel(id string, created time.Time) Panel {
	return Panel{
		ID:        id,
		Title:     "Panel " + id,
		Content:   "content",
		Position:  PositionSidebar,
		CreatedAt: created,
	}
}

func TestCreateEnforcesCapacity(t *testing.T) {
	r := NewRegistry()
	base := time.Now().UTC()

	for i := 0; i < MaxPanels; i++ {
		require.NoError(t, r.Create(panel(fmt.Sprintf("p%d", i), base.Add(time.Duration(i)*time.Second))))
	}

	err := r.Create(panel("overflow", base.Add(time.Hour)))
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, MaxPanels, r.Len())
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Create(panel("inventory", time.Now())))
	assert.ErrorIs(t, r.Create(panel("inventory", time.Now())), ErrAlreadyExists)
}

func TestDismissFreesACapacitySlot(t *testing.T) {
	r := NewRegistry()
	base := time.Now().UTC()
	for i := 0; i < MaxPanels; i++ {
		require.NoError(t, r.Create(panel(fmt.Sprintf("p%d", i), base)))
	}

	require.NoError(t, r.Dismiss("p0"))
	assert.NoError(t, r.Create(panel("fresh", base)))
}

func TestUpdateChangesContentOnly(t *testing.T) {
	r := NewRegistry()
	original := panel("quest-log", time.Now().UTC())
	require.NoError(t, r.Create(original))

	updated, err := r.Update("quest-log", "new content")
	require.NoError(t, err)
	assert.Equal(t, "new content", updated.Content)
	assert.Equal(t, original.Title, updated.Title)
	assert.Equal(t, original.Position, updated.Position)

	_, err = r.Update("missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDismissUnknownPanel(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Dismiss("ghost"), ErrNotFound)
}

func TestListOrdersByCreation(t *testing.T) {
	r := NewRegistry()
	base := time.Now().UTC()
	require.NoError(t, r.Create(panel("second", base.Add(time.Second))))
	require.NoError(t, r.Create(panel("first", base)))
	require.NoError(t, r.Create(panel("third", base.Add(2*time.Second))))

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "first", list[0].ID)
	assert.Equal(t, "second", list[1].ID)
	assert.Equal(t, "third", list[2].ID)
}

func TestRestoreKeepsOldestFiveAndDropsOverflow(t *testing.T) {
	base := time.Now().UTC()
	persisted := make([]Panel, 0, 7)
	for i := 6; i >= 0; i-- {
		persisted = append(persisted, panel(fmt.Sprintf("p%d", i), base.Add(time.Duration(i)*time.Minute)))
	}

	r := NewRegistry()
	r.Restore(persisted)

	assert.Equal(t, MaxPanels, r.Len())
	for i := 0; i < MaxPanels; i++ {
		_, ok := r.Get(fmt.Sprintf("p%d", i))
		assert.True(t, ok, "expected p%d to survive restore", i)
	}
	_, ok := r.Get("p5")
	assert.False(t, ok)
	_, ok = r.Get("p6")
	assert.False(t, ok)
}

func TestRestoreReplacesExistingSet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Create(panel("stale", time.Now().UTC())))

	r.Restore([]Panel{panel("fresh", time.Now().UTC())})
	_, ok := r.Get("stale")
	assert.False(t, ok)
	_, ok = r.Get("fresh")
	assert.True(t, ok)
}
