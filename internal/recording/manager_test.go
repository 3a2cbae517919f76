package recording_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/board"
	"whiteboard-backend/internal/recording"
)

func newManager(t *testing.T, cfg recording.Config) (*recording.Manager, *recording.MemoryStore, *clock.Mock) {
	t.Helper()
	store := recording.NewMemoryStore()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	m := recording.NewManager(cfg, recording.Stores{
		Frames:    store,
		Sessions:  store,
		Jobs:      store,
		Artifacts: store,
	}, clk, nil)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m, store, clk
}

func mutation(wb string, seq uint64, id string) board.AppliedMutation {
	return board.AppliedMutation{
		Seq:          seq,
		WhiteboardID: wb,
		ElementID:    id,
		Version:      1,
		Op:           board.OpCreate,
		State:        &board.Element{ID: id, Type: board.ElementRectangle, Version: 1},
		Actor:        "alice",
	}
}

func TestManager_OneActiveSessionPerWhiteboard(t *testing.T) {
	m, _, _ := newManager(t, recording.Config{})
	ctx := context.Background()

	first, err := m.Start(ctx, "wb", "host", "", nil)
	require.NoError(t, err)

	again, err := m.Start(ctx, "wb", "host", "", nil)
	assert.ErrorIs(t, err, recording.ErrAlreadyActive)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)

	_, err = m.Start(ctx, "other", "host", "", nil)
	assert.NoError(t, err)

	_, err = m.Stop(ctx, first.ID)
	require.NoError(t, err)

	_, err = m.Start(ctx, "wb", "host", "", nil)
	assert.NoError(t, err)
}

func TestManager_FramesAreGapless(t *testing.T) {
	m, store, _ := newManager(t, recording.Config{})
	ctx := context.Background()

	baseline := []board.Element{{ID: "a", Type: board.ElementText, Text: "hi"}}
	s, err := m.Start(ctx, "wb", "host", "standup", baseline)
	require.NoError(t, err)

	for i, id := range []string{"e1", "e2", "e3"} {
		m.Capture(mutation("wb", uint64(i+1), id))
	}
	m.Capture(mutation("unrelated", 1, "x"))

	stopped, err := m.Stop(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, recording.StatusStopped, stopped.Status)
	assert.Equal(t, uint64(3), stopped.LastSeq)
	assert.Equal(t, uint64(4), stopped.FlushedFrames)
	assert.Empty(t, stopped.MissingRanges)

	frames, err := store.Frames(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, frames, 4)
	assert.Equal(t, recording.FrameSnapshot, frames[0].Kind)
	assert.Len(t, frames[0].Elements, 1)
	for i, f := range frames {
		assert.Equal(t, uint64(i), f.Seq)
		assert.False(t, f.Loss)
	}
	assert.Equal(t, "e3", frames[3].Mutation.ElementID)

	m.Capture(mutation("wb", 4, "late"))
	frames, _ = store.Frames(ctx, s.ID)
	assert.Len(t, frames, 4, "no capture after stop")
}

func TestManager_PeriodicSnapshots(t *testing.T) {
	m, store, _ := newManager(t, recording.Config{SnapshotEvery: 2})
	ctx := context.Background()

	s, err := m.Start(ctx, "wb", "host", "", nil)
	require.NoError(t, err)
	for i := 1; i <= 4; i++ {
		m.Capture(mutation("wb", uint64(i), "e"+string(rune('0'+i))))
	}
	_, err = m.Stop(ctx, s.ID)
	require.NoError(t, err)

	frames, err := store.Frames(ctx, s.ID)
	require.NoError(t, err)

	kinds := make([]recording.FrameKind, len(frames))
	for i, f := range frames {
		kinds[i] = f.Kind
		assert.Equal(t, uint64(i), f.Seq)
	}
	assert.Equal(t, []recording.FrameKind{
		recording.FrameSnapshot,
		recording.FrameDelta, recording.FrameDelta, recording.FrameSnapshot,
		recording.FrameDelta, recording.FrameDelta, recording.FrameSnapshot,
	}, kinds)
	assert.Len(t, frames[6].Elements, 4)
}

func TestManager_DeleteRemovesFromReplica(t *testing.T) {
	m, store, _ := newManager(t, recording.Config{SnapshotEvery: 2})
	ctx := context.Background()

	s, err := m.Start(ctx, "wb", "host", "", nil)
	require.NoError(t, err)
	m.Capture(mutation("wb", 1, "e1"))
	m.Capture(board.AppliedMutation{Seq: 2, WhiteboardID: "wb", ElementID: "e1", Version: 2, Op: board.OpDelete})
	_, err = m.Stop(ctx, s.ID)
	require.NoError(t, err)

	frames, _ := store.Frames(ctx, s.ID)
	require.Len(t, frames, 4)
	assert.Equal(t, recording.FrameSnapshot, frames[3].Kind)
	assert.Empty(t, frames[3].Elements)
}

func TestManager_StorageFailureOnStop(t *testing.T) {
	m, store, _ := newManager(t, recording.Config{FlushBatch: 2, FlushAttempts: 2})
	ctx := context.Background()

	s, err := m.Start(ctx, "wb", "host", "", nil)
	require.NoError(t, err)

	m.Capture(mutation("wb", 1, "e1"))
	require.Eventually(t, func() bool {
		frames, _ := store.Frames(ctx, s.ID)
		return len(frames) == 2
	}, 2*time.Second, 5*time.Millisecond)

	store.SetFailAppend(errors.New("disk full"))
	m.Capture(mutation("wb", 2, "e2"))

	stopped, err := m.Stop(ctx, s.ID)
	require.ErrorIs(t, err, recording.ErrFlushFailed)
	assert.Equal(t, recording.StatusErrored, stopped.Status)
	assert.Equal(t, []recording.Range{{From: 2, To: 2}}, stopped.MissingRanges)

	store.SetFailAppend(nil)
	frames, _ := store.Frames(ctx, s.ID)
	assert.Len(t, frames, 2, "flushed frames are retained")

	persisted, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, recording.StatusErrored, persisted.Status)

	_, err = m.Start(ctx, "wb", "host", "", nil)
	assert.NoError(t, err, "errored session no longer blocks a new one")
}

func TestManager_BackgroundFlushFailureIsReported(t *testing.T) {
	m, store, _ := newManager(t, recording.Config{FlushBatch: 2, FlushAttempts: 1})
	ctx := context.Background()

	changes := make(chan recording.Session, 1)
	m.OnStatusChange(func(s recording.Session) { changes <- s })

	s, err := m.Start(ctx, "wb", "host", "", nil)
	require.NoError(t, err)

	store.SetFailAppend(errors.New("disk full"))
	m.Capture(mutation("wb", 1, "e1")) // seq 0 and 1 fill the batch

	var got recording.Session
	select {
	case got = <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("status change not reported")
	}
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, "wb", got.WhiteboardID)
	assert.Equal(t, recording.StatusErrored, got.Status)
	assert.Equal(t, []recording.Range{{From: 0, To: 1}}, got.MissingRanges)

	_, active := m.Active("wb")
	assert.False(t, active)

	stopped, err := m.Stop(ctx, s.ID)
	assert.ErrorIs(t, err, recording.ErrNotActive)
	require.NotNil(t, stopped)
	assert.Equal(t, recording.StatusErrored, stopped.Status)
	assert.Equal(t, []recording.Range{{From: 0, To: 1}}, stopped.MissingRanges)
}

func TestManager_BeginBuffersUntilCommit(t *testing.T) {
	m, store, _ := newManager(t, recording.Config{FlushBatch: 2})
	ctx := context.Background()

	s, err := m.Begin("wb", "host", "", nil)
	require.NoError(t, err)
	_, err = store.GetSession(ctx, s.ID)
	assert.ErrorIs(t, err, recording.ErrSessionNotFound)

	m.Capture(mutation("wb", 1, "e1"))
	assert.Never(t, func() bool {
		frames, _ := store.Frames(ctx, s.ID)
		return len(frames) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)

	committed, err := m.Commit(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, recording.StatusActive, committed.Status)

	require.Eventually(t, func() bool {
		frames, _ := store.Frames(ctx, s.ID)
		return len(frames) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManager_CommitFailureReleasesWhiteboard(t *testing.T) {
	m, store, _ := newManager(t, recording.Config{})
	ctx := context.Background()

	store.SetFailSave(errors.New("db down"))
	_, err := m.Start(ctx, "wb", "host", "", nil)
	require.Error(t, err)

	_, active := m.Active("wb")
	assert.False(t, active)

	store.SetFailSave(nil)
	_, err = m.Start(ctx, "wb", "host", "", nil)
	assert.NoError(t, err)
}

func TestManager_OverflowLeavesFlaggedGap(t *testing.T) {
	m, store, _ := newManager(t, recording.Config{MaxBuffered: 2})
	ctx := context.Background()

	s, err := m.Start(ctx, "wb", "host", "", nil)
	require.NoError(t, err)

	m.Capture(mutation("wb", 1, "e1")) // buffer full: seq 0, 1
	m.Capture(mutation("wb", 2, "e2")) // seq 2 dropped, flush kicked

	require.Eventually(t, func() bool {
		frames, _ := store.Frames(ctx, s.ID)
		return len(frames) == 2
	}, 2*time.Second, 5*time.Millisecond)

	m.Capture(mutation("wb", 3, "e3"))
	stopped, err := m.Stop(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []recording.Range{{From: 2, To: 2}}, stopped.MissingRanges)

	frames, _ := store.Frames(ctx, s.ID)
	require.Len(t, frames, 3)
	assert.Equal(t, uint64(3), frames[2].Seq)
	assert.True(t, frames[2].Loss)
	assert.Equal(t, &recording.Range{From: 2, To: 2}, frames[2].Lost)
	assert.Len(t, frames[2].Elements, 3, "loss frame resynchronizes the full element set")
}

func TestManager_AnnotationWindow(t *testing.T) {
	m, store, clk := newManager(t, recording.Config{AnnotationGrace: time.Minute})
	ctx := context.Background()

	s, err := m.Start(ctx, "wb", "host", "", nil)
	require.NoError(t, err)
	m.Capture(mutation("wb", 1, "e1"))

	a, err := m.AddAnnotation(ctx, s.ID, "host", "good point")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a.AtSeq)

	_, err = m.AddAnnotation(ctx, s.ID, "host", "   ")
	assert.ErrorIs(t, err, recording.ErrInvalidAnnotation)

	_, err = m.Stop(ctx, s.ID)
	require.NoError(t, err)

	_, err = m.AddAnnotation(ctx, s.ID, "reviewer", "after stop")
	require.NoError(t, err)

	clk.Add(2 * time.Minute)
	require.Eventually(t, func() bool {
		persisted, err := store.GetSession(ctx, s.ID)
		return err == nil && persisted.Finalized
	}, 2*time.Second, 5*time.Millisecond)

	_, err = m.AddAnnotation(ctx, s.ID, "reviewer", "too late")
	assert.ErrorIs(t, err, recording.ErrAnnotationsClosed)

	persisted, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, persisted.AnnotationCount)

	notes, err := m.Annotations(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, notes, 2)

	_, err = m.AddAnnotation(ctx, "missing", "x", "note")
	assert.ErrorIs(t, err, recording.ErrSessionNotFound)
}

func TestManager_StopTwice(t *testing.T) {
	m, _, _ := newManager(t, recording.Config{})
	ctx := context.Background()

	s, err := m.Start(ctx, "wb", "host", "", nil)
	require.NoError(t, err)
	_, err = m.Stop(ctx, s.ID)
	require.NoError(t, err)

	again, err := m.Stop(ctx, s.ID)
	assert.ErrorIs(t, err, recording.ErrNotActive)
	assert.Equal(t, recording.StatusStopped, again.Status)

	_, err = m.Stop(ctx, "nope")
	assert.ErrorIs(t, err, recording.ErrSessionNotFound)
}

func TestManager_Search(t *testing.T) {
	m, _, clk := newManager(t, recording.Config{})
	ctx := context.Background()

	s1, err := m.Start(ctx, "wb-1", "host", "Design review", nil)
	require.NoError(t, err)
	_, err = m.AddAnnotation(ctx, s1.ID, "host", "discuss the logo")
	require.NoError(t, err)
	_, err = m.Stop(ctx, s1.ID)
	require.NoError(t, err)

	clk.Add(time.Hour)
	_, err = m.Start(ctx, "wb-2", "host", "Retro", nil)
	require.NoError(t, err)

	all, total, err := m.Search(ctx, recording.Query{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, "Retro", all[0].Title, "newest first")

	byBoard, _, err := m.Search(ctx, recording.Query{WhiteboardID: "wb-1"})
	require.NoError(t, err)
	require.Len(t, byBoard, 1)

	byText, _, err := m.Search(ctx, recording.Query{Text: "LOGO"})
	require.NoError(t, err)
	require.Len(t, byText, 1)
	assert.Equal(t, s1.ID, byText[0].ID)

	active, _, err := m.Search(ctx, recording.Query{Status: recording.StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "wb-2", active[0].WhiteboardID)
}
