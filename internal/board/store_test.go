package board_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/board"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func textElement(text string) *board.Element {
	return &board.Element{
		Type:     board.ElementText,
		Geometry: board.Geometry{X: 10, Y: 20, Width: 100, Height: 30},
		Text:     text,
	}
}

func TestStore_CreateAssignsVersionAndPending(t *testing.T) {
	s := board.NewStore("wb-1")

	m, err := s.Apply(board.Intent{ElementID: "e1", Op: board.OpCreate, Element: textElement("hi")}, "alice", now)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), m.Seq)
	assert.Equal(t, uint64(1), m.Version)
	assert.Equal(t, board.StatusPending, m.State.ModerationStatus)
	assert.Equal(t, "alice", m.State.CreatedBy)
	assert.True(t, m.ContentChanged)
	assert.Equal(t, 1, s.Len())
}

func TestStore_CreateGeneratesID(t *testing.T) {
	s := board.NewStore("wb-1")

	m, err := s.Apply(board.Intent{Op: board.OpCreate, Element: &board.Element{Type: board.ElementRectangle}}, "alice", now)
	require.NoError(t, err)
	assert.NotEmpty(t, m.ElementID)
	assert.False(t, m.ContentChanged)
}

func TestStore_CreateExistingIDConflicts(t *testing.T) {
	s := board.NewStore("wb-1")
	_, err := s.Apply(board.Intent{ElementID: "e1", Op: board.OpCreate, Element: textElement("a")}, "alice", now)
	require.NoError(t, err)

	_, err = s.Apply(board.Intent{ElementID: "e1", Op: board.OpCreate, Element: textElement("b")}, "bob", now)
	require.ErrorIs(t, err, board.ErrConflict)

	var conflict *board.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "a", conflict.Current.Text)
}

func TestStore_ConcurrentEditsOneWins(t *testing.T) {
	s := board.NewStore("wb-1")
	_, err := s.Apply(board.Intent{ElementID: "e1", Op: board.OpCreate, Element: textElement("a")}, "alice", now)
	require.NoError(t, err)

	moveX := func(x float64) board.Intent {
		return board.Intent{ElementID: "e1", ExpectedVersion: 1, Op: board.OpUpdate, Fields: map[string]any{"x": x}}
	}

	first, err := s.Apply(moveX(50), "alice", now)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), first.Version)

	_, err = s.Apply(moveX(80), "bob", now)
	var conflict *board.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, uint64(2), conflict.CurrentVersion)
	assert.Equal(t, 50.0, conflict.Current.Geometry.X)

	cur, _ := s.Get("e1")
	assert.Equal(t, 50.0, cur.Geometry.X)
}

func TestStore_VersionsIncreaseMonotonically(t *testing.T) {
	s := board.NewStore("wb-1")
	_, err := s.Apply(board.Intent{ElementID: "e1", Op: board.OpCreate, Element: textElement("a")}, "alice", now)
	require.NoError(t, err)

	var last uint64 = 1
	for i := 0; i < 20; i++ {
		m, err := s.Apply(board.Intent{
			ElementID:       "e1",
			ExpectedVersion: last,
			Op:              board.OpUpdate,
			Fields:          map[string]any{"y": float64(i)},
		}, "alice", now)
		require.NoError(t, err)
		require.Greater(t, m.Version, last)
		last = m.Version
	}
	assert.Equal(t, uint64(21), s.Seq())
}

func TestStore_UpdateDetectsContentChange(t *testing.T) {
	s := board.NewStore("wb-1")
	_, err := s.Apply(board.Intent{ElementID: "e1", Op: board.OpCreate, Element: textElement("a")}, "alice", now)
	require.NoError(t, err)

	moved, err := s.Apply(board.Intent{ElementID: "e1", ExpectedVersion: 1, Op: board.OpUpdate,
		Fields: map[string]any{"x": 5.0, "strokeColor": "#000"}}, "alice", now)
	require.NoError(t, err)
	assert.False(t, moved.ContentChanged)

	edited, err := s.Apply(board.Intent{ElementID: "e1", ExpectedVersion: 2, Op: board.OpUpdate,
		Fields: map[string]any{"text": "changed"}}, "alice", now)
	require.NoError(t, err)
	assert.True(t, edited.ContentChanged)
	assert.Equal(t, "changed", edited.State.Text)
}

func TestStore_UpdateRejectsUnknownField(t *testing.T) {
	s := board.NewStore("wb-1")
	_, err := s.Apply(board.Intent{ElementID: "e1", Op: board.OpCreate, Element: textElement("a")}, "alice", now)
	require.NoError(t, err)

	_, err = s.Apply(board.Intent{ElementID: "e1", ExpectedVersion: 1, Op: board.OpUpdate,
		Fields: map[string]any{"colour": "red"}}, "alice", now)
	assert.ErrorIs(t, err, board.ErrInvalidElement)

	cur, _ := s.Get("e1")
	assert.Equal(t, uint64(1), cur.Version)
}

func TestStore_UpdatePoints(t *testing.T) {
	s := board.NewStore("wb-1")
	_, err := s.Apply(board.Intent{ElementID: "p1", Op: board.OpCreate, Element: &board.Element{Type: board.ElementPath}}, "alice", now)
	require.NoError(t, err)

	m, err := s.Apply(board.Intent{ElementID: "p1", ExpectedVersion: 1, Op: board.OpUpdate,
		Fields: map[string]any{"points": []any{
			map[string]any{"x": 1.0, "y": 2.0},
			map[string]any{"x": 3.0, "y": 4.0},
		}}}, "alice", now)
	require.NoError(t, err)
	assert.Equal(t, []board.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}, m.State.Geometry.Points)
}

func TestStore_DeleteAndRecreate(t *testing.T) {
	s := board.NewStore("wb-1")
	_, err := s.Apply(board.Intent{ElementID: "e1", Op: board.OpCreate, Element: textElement("a")}, "alice", now)
	require.NoError(t, err)

	del, err := s.Apply(board.Intent{ElementID: "e1", ExpectedVersion: 1, Op: board.OpDelete}, "alice", now)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), del.Version)
	assert.Nil(t, del.State)

	_, err = s.Apply(board.Intent{ElementID: "e1", ExpectedVersion: 2, Op: board.OpUpdate,
		Fields: map[string]any{"x": 1.0}}, "alice", now)
	assert.ErrorIs(t, err, board.ErrConflict)

	// re-creation still expects version 0, not the tombstone version
	_, err = s.Apply(board.Intent{ElementID: "e1", ExpectedVersion: 2, Op: board.OpCreate, Element: textElement("b")}, "alice", now)
	assert.ErrorIs(t, err, board.ErrInvalidIntent)

	again, err := s.Apply(board.Intent{ElementID: "e1", Op: board.OpCreate, Element: textElement("b")}, "alice", now)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), again.Version)
}

func TestStore_RejectedElementIsFrozen(t *testing.T) {
	s := board.NewStore("wb-1")
	_, err := s.Apply(board.Intent{ElementID: "e1", Op: board.OpCreate, Element: textElement("bad")}, "alice", now)
	require.NoError(t, err)

	_, err = s.SetStatus("e1", board.StatusRejected, now)
	require.NoError(t, err)

	_, err = s.Apply(board.Intent{ElementID: "e1", ExpectedVersion: 1, Op: board.OpUpdate,
		Fields: map[string]any{"text": "fine"}}, "alice", now)
	assert.ErrorIs(t, err, board.ErrElementRejected)

	_, err = s.Apply(board.Intent{ElementID: "e1", ExpectedVersion: 1, Op: board.OpDelete}, "alice", now)
	assert.NoError(t, err)
}

func TestStore_Validation(t *testing.T) {
	s := board.NewStore("wb-1")

	_, err := s.Apply(board.Intent{Op: board.OpCreate, Element: &board.Element{Type: "triangle"}}, "alice", now)
	assert.ErrorIs(t, err, board.ErrInvalidElement)

	_, err = s.Apply(board.Intent{Op: board.OpCreate, Element: &board.Element{Type: board.ElementImage}}, "alice", now)
	assert.ErrorIs(t, err, board.ErrInvalidElement)

	_, err = s.Apply(board.Intent{Op: board.OpCreate, ExpectedVersion: 3, Element: textElement("a")}, "alice", now)
	assert.ErrorIs(t, err, board.ErrInvalidIntent)

	_, err = s.Apply(board.Intent{Op: "move"}, "alice", now)
	assert.ErrorIs(t, err, board.ErrInvalidIntent)
}

func TestStore_SnapshotIsSortedCopy(t *testing.T) {
	s := board.NewStore("wb-1")
	for _, id := range []string{"c", "a", "b"} {
		_, err := s.Apply(board.Intent{ElementID: id, Op: board.OpCreate, Element: textElement(id)}, "alice", now)
		require.NoError(t, err)
	}

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a", snap[0].ID)
	assert.Equal(t, "c", snap[2].ID)

	snap[0].Text = "mutated"
	cur, _ := s.Get("a")
	assert.Equal(t, "a", cur.Text)
}

func TestStore_SetStatusKeepsVersion(t *testing.T) {
	s := board.NewStore("wb-1")
	_, err := s.Apply(board.Intent{ElementID: "e1", Op: board.OpCreate, Element: textElement("a")}, "alice", now)
	require.NoError(t, err)

	e, err := s.SetStatus("e1", board.StatusApproved, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Version)
	assert.Equal(t, board.StatusApproved, e.ModerationStatus)

	_, err = s.SetStatus("missing", board.StatusApproved, now)
	assert.ErrorIs(t, err, board.ErrElementNotFound)
}
