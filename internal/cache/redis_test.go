package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/board"
	"whiteboard-backend/internal/cache"
	"whiteboard-backend/internal/recording"
)

func newBuffer(t *testing.T) (*cache.FrameBuffer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.NewFrameBuffer(cache.Wrap(client), time.Hour), mr
}

func TestFrameBuffer_AppendAndRead(t *testing.T) {
	buf, _ := newBuffer(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first := []recording.Frame{
		{SessionID: "s1", Seq: 0, Kind: recording.FrameSnapshot, Timestamp: now,
			Elements: []board.Element{{ID: "a", Type: board.ElementText, Text: "hello"}}},
		{SessionID: "s1", Seq: 1, Kind: recording.FrameDelta, Timestamp: now,
			Mutation: &board.AppliedMutation{Seq: 1, ElementID: "a", Version: 2, Op: board.OpUpdate}},
	}
	require.NoError(t, buf.AppendFrames(ctx, "s1", first))
	require.NoError(t, buf.AppendFrames(ctx, "s1", []recording.Frame{
		{SessionID: "s1", Seq: 2, Kind: recording.FrameSnapshot, Timestamp: now, Loss: true,
			Lost: &recording.Range{From: 2, To: 2}},
	}))
	require.NoError(t, buf.AppendFrames(ctx, "s1", nil))

	frames, err := buf.Frames(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, "hello", frames[0].Elements[0].Text)
	assert.Equal(t, uint64(2), frames[1].Mutation.Version)
	assert.True(t, frames[2].Loss)
	assert.True(t, frames[0].Timestamp.Equal(now))

	n, err := buf.FrameCount(ctx, "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	empty, err := buf.Frames(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFrameBuffer_Expiry(t *testing.T) {
	buf, mr := newBuffer(t)
	ctx := context.Background()

	require.NoError(t, buf.AppendFrames(ctx, "s1", []recording.Frame{{SessionID: "s1", Kind: recording.FrameSnapshot}}))
	assert.Equal(t, time.Hour, mr.TTL("recording:s1:frames"))

	mr.FastForward(2 * time.Hour)
	frames, err := buf.Frames(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestFrameBuffer_StoreFailure(t *testing.T) {
	buf, mr := newBuffer(t)
	mr.Close()

	err := buf.AppendFrames(context.Background(), "s1", []recording.Frame{{SessionID: "s1"}})
	assert.Error(t, err)
}

func TestFrameBuffer_BacksRecordingManager(t *testing.T) {
	buf, _ := newBuffer(t)
	mem := recording.NewMemoryStore()
	m := recording.NewManager(recording.Config{}, recording.Stores{
		Frames: buf, Sessions: mem, Jobs: mem, Artifacts: mem,
	}, nil, nil)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	ctx := context.Background()

	s, err := m.Start(ctx, "wb", "host", "", nil)
	require.NoError(t, err)
	m.Capture(board.AppliedMutation{Seq: 1, WhiteboardID: "wb", ElementID: "e1", Version: 1, Op: board.OpCreate,
		State: &board.Element{ID: "e1", Type: board.ElementEllipse, Version: 1}})
	_, err = m.Stop(ctx, s.ID)
	require.NoError(t, err)

	frames, err := buf.Frames(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "e1", frames[1].Mutation.ElementID)
}
