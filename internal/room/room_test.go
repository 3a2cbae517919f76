package room_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/board"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/moderation"
	"whiteboard-backend/internal/recording"
	"whiteboard-backend/internal/room"
)

var (
	host   = room.Participant{ID: "host", Nickname: "Host", Role: auth.RoleHost}
	alice  = room.Participant{ID: "alice", Nickname: "Alice", Role: auth.RoleMember}
	bob    = room.Participant{ID: "bob", Nickname: "Bob", Role: auth.RoleMember}
	modria = room.Participant{ID: "mod", Nickname: "Mod", Role: auth.RoleModerator}
)

type fakeLoader struct {
	mu       sync.Mutex
	wb       *model.Whiteboard
	elements []board.Element
	loads    int
	saves    int
	saved    []board.Element
	savedSeq uint64
	failSave error
}

func (f *fakeLoader) LoadSnapshot(_ context.Context, id string) (*model.Whiteboard, []board.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.wb == nil || f.wb.ID != id {
		return nil, nil, errors.New("whiteboard not found")
	}
	wb := *f.wb
	return &wb, append([]board.Element(nil), f.elements...), nil
}

func (f *fakeLoader) SaveSnapshot(_ context.Context, _ string, elements []board.Element, seq uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave != nil {
		return f.failSave
	}
	f.saves++
	f.saved = elements
	f.savedSeq = seq
	return nil
}

func (f *fakeLoader) state() (int, []board.Element, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves, f.saved, f.savedSeq
}

type fakeDecisionLog struct {
	mu        sync.Mutex
	decisions []moderation.Decision
}

func (f *fakeDecisionLog) RecordDecisions(_ context.Context, ds []moderation.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, ds...)
	return nil
}

func (f *fakeDecisionLog) all() []moderation.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]moderation.Decision(nil), f.decisions...)
}

type fixture struct {
	room      *room.Room
	loader    *fakeLoader
	decisions *fakeDecisionLog
	clock     *clock.Mock
	recorder  *recording.Manager
	frames    *recording.MemoryStore
}

func newFixture(t *testing.T, cfg room.Config, elements ...board.Element) *fixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	store := recording.NewMemoryStore()
	rec := recording.NewManager(recording.Config{}, recording.Stores{
		Frames: store, Sessions: store, Jobs: store, Artifacts: store,
	}, clk, nil)
	t.Cleanup(func() { rec.Shutdown(context.Background()) })

	wb := &model.Whiteboard{ID: "wb-1", OwnerID: "host", Title: "Planning"}
	loader := &fakeLoader{wb: wb, elements: elements}
	decisions := &fakeDecisionLog{}

	r := room.New(wb, elements, cfg, room.Deps{
		Loader:    loader,
		Decisions: decisions,
		Recorder:  rec,
		Clock:     clk,
	}, room.DefaultChain())
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	return &fixture{room: r, loader: loader, decisions: decisions, clock: clk, recorder: rec, frames: store}
}

func next(t *testing.T, sub *room.Subscription) room.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscription closed: %v", sub.Err())
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return room.Event{}
	}
}

// quiet asserts that nothing is waiting on the subscription. The room must have
// processed everything before, which a synchronous call such as Snapshot guarantees.
func quiet(t *testing.T, r *room.Room, sub *room.Subscription) {
	t.Helper()
	_, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func subscribe(t *testing.T, r *room.Room, p room.Participant) *room.Subscription {
	t.Helper()
	sub, err := r.Subscribe(context.Background(), p)
	require.NoError(t, err)
	ev := next(t, sub)
	require.Equal(t, room.EventSnapshot, ev.Type)
	return sub
}

func createText(id, text string) board.Intent {
	return board.Intent{Op: board.OpCreate, Element: &board.Element{ID: id, Type: board.ElementText, Text: text}}
}

func TestRoom_FirstEventIsSnapshot(t *testing.T) {
	existing := board.Element{ID: "a", Type: board.ElementRectangle, Version: 3, ModerationStatus: board.StatusApproved}
	f := newFixture(t, room.Config{}, existing)

	sub, err := f.room.Subscribe(context.Background(), alice)
	require.NoError(t, err)

	ev := next(t, sub)
	require.Equal(t, room.EventSnapshot, ev.Type)
	snap := ev.Payload.(room.SnapshotPayload)
	assert.Equal(t, "wb-1", snap.WhiteboardID)
	require.Len(t, snap.Elements, 1)
	assert.Equal(t, uint64(3), snap.Elements[0].Version)
	assert.False(t, snap.Presentation.Enabled)
	assert.Nil(t, snap.Recording)
}

func TestRoom_ConcurrentEditsOneWins(t *testing.T) {
	f := newFixture(t, room.Config{})
	ctx := context.Background()

	_, err := f.room.Submit(ctx, alice, createText("e1", "draft"))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		applied   int
		conflicts []*board.ConflictError
	)
	for _, p := range []room.Participant{alice, bob} {
		wg.Add(1)
		go func(p room.Participant) {
			defer wg.Done()
			_, err := f.room.Submit(ctx, p, board.Intent{ElementID: "e1", ExpectedVersion: 1, Op: board.OpUpdate,
				Fields: map[string]any{"x": 10.0}})
			mu.Lock()
			defer mu.Unlock()
			var ce *board.ConflictError
			switch {
			case err == nil:
				applied++
			case errors.As(err, &ce):
				conflicts = append(conflicts, ce)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	require.Len(t, conflicts, 1)
	assert.Equal(t, uint64(2), conflicts[0].CurrentVersion)
	require.NotNil(t, conflicts[0].Current)
	assert.Equal(t, 10.0, conflicts[0].Current.Geometry.X)
}

func TestRoom_MutationsDeliveredInOrder(t *testing.T) {
	f := newFixture(t, room.Config{})
	sub := subscribe(t, f.room, bob)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.room.Submit(ctx, alice, createText(fmt.Sprintf("e%02d", i), "hi"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for want := uint64(1); want <= 20; want++ {
		ev := next(t, sub)
		require.Equal(t, room.EventMutationApplied, ev.Type)
		assert.Equal(t, want, ev.Payload.(room.MutationApplied).Seq)
	}
}

func TestRoom_LaggingSubscriberIsEvicted(t *testing.T) {
	f := newFixture(t, room.Config{SubscriberBuffer: 2})
	ctx := context.Background()

	slow, err := f.room.Subscribe(ctx, bob)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.room.Submit(ctx, alice, createText(fmt.Sprintf("e%d", i), "x"))
		require.NoError(t, err)
	}

	var got []room.EventType
	for ev := range slow.C {
		got = append(got, ev.Type)
	}
	assert.Equal(t, []room.EventType{room.EventSnapshot, room.EventMutationApplied}, got)
	assert.ErrorIs(t, slow.Err(), room.ErrLagged)

	again, err := f.room.Subscribe(ctx, bob)
	require.NoError(t, err)
	ev := next(t, again)
	require.Equal(t, room.EventSnapshot, ev.Type)
	assert.Len(t, ev.Payload.(room.SnapshotPayload).Elements, 3)
	assert.Equal(t, uint64(3), ev.Payload.(room.SnapshotPayload).Seq)
}

func TestRoom_PresenterCursorReachesOthersOnly(t *testing.T) {
	f := newFixture(t, room.Config{CursorInterval: 50 * time.Millisecond})
	ctx := context.Background()

	hostSub := subscribe(t, f.room, host)
	aliceSub := subscribe(t, f.room, alice)

	// presentation off: nothing is broadcast
	f.room.ReportCursor(host, 1, 1)
	quiet(t, f.room, aliceSub)

	_, err := f.room.SetPresentation(ctx, host, room.PresentationState{Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, room.EventPresentationChange, next(t, hostSub).Type)
	assert.Equal(t, room.EventPresentationChange, next(t, aliceSub).Type)

	f.room.ReportCursor(host, 10, 20)
	ev := next(t, aliceSub)
	require.Equal(t, room.EventCursorMove, ev.Type)
	assert.Equal(t, room.CursorPayload{ParticipantID: "host", X: 10, Y: 20}, ev.Payload)
	quiet(t, f.room, hostSub)

	// throttled inside the interval, admitted after it
	f.room.ReportCursor(host, 11, 21)
	quiet(t, f.room, aliceSub)
	f.clock.Add(60 * time.Millisecond)
	f.room.ReportCursor(host, 12, 22)
	assert.Equal(t, room.CursorPayload{ParticipantID: "host", X: 12, Y: 22}, next(t, aliceSub).Payload)

	// non-presenters are never broadcast
	f.clock.Add(time.Second)
	f.room.ReportCursor(alice, 5, 5)
	quiet(t, f.room, hostSub)

	f.room.ReportCursorExit(host)
	ev = next(t, aliceSub)
	assert.Equal(t, room.EventCursorHidden, ev.Type)
	quiet(t, f.room, hostSub)
}

func TestRoom_UnauthorizedPresentationToggle(t *testing.T) {
	f := newFixture(t, room.Config{})
	ctx := context.Background()
	sub := subscribe(t, f.room, alice)

	_, err := f.room.SetPresentation(ctx, alice, room.PresentationState{Enabled: true})
	assert.ErrorIs(t, err, room.ErrForbidden)
	_, err = f.room.SetPresentation(ctx, modria, room.PresentationState{Enabled: true, PresenterID: "alice"})
	assert.ErrorIs(t, err, room.ErrForbidden)

	st, err := f.room.Presentation(ctx)
	require.NoError(t, err)
	assert.Equal(t, room.PresentationState{}, st)
	quiet(t, f.room, sub)

	_, err = f.room.SetPresentation(ctx, host, room.PresentationState{Enabled: true, PresenterID: "bob"})
	assert.ErrorIs(t, err, room.ErrPresenterMissing)
}

func TestRoom_OwnerMayPresentWithoutHostRole(t *testing.T) {
	f := newFixture(t, room.Config{})
	owner := room.Participant{ID: "host", Role: auth.RoleMember}
	subscribe(t, f.room, owner)

	st, err := f.room.SetPresentation(context.Background(), owner, room.PresentationState{Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, "host", st.PresenterID)
}

func TestRoom_EditingLock(t *testing.T) {
	f := newFixture(t, room.Config{})
	ctx := context.Background()
	subscribe(t, f.room, host)
	subscribe(t, f.room, alice)

	_, err := f.room.SetPresentation(ctx, host, room.PresentationState{Enabled: true, PresenterID: "alice", LockEditing: true})
	require.NoError(t, err)

	_, err = f.room.Submit(ctx, bob, createText("b", "blocked"))
	assert.ErrorIs(t, err, room.ErrEditingLocked)
	_, err = f.room.Submit(ctx, alice, createText("a", "presenter"))
	assert.NoError(t, err)
	_, err = f.room.Submit(ctx, host, createText("h", "host"))
	assert.NoError(t, err)

	_, err = f.room.SetPresentation(ctx, host, room.PresentationState{Enabled: false})
	require.NoError(t, err)
	_, err = f.room.Submit(ctx, bob, createText("b", "free"))
	assert.NoError(t, err)
}

func TestRoom_PresenterDisconnectEndsPresentation(t *testing.T) {
	f := newFixture(t, room.Config{})
	ctx := context.Background()
	hostSub := subscribe(t, f.room, host)
	aliceSub := subscribe(t, f.room, alice)

	_, err := f.room.SetPresentation(ctx, host, room.PresentationState{Enabled: true})
	require.NoError(t, err)
	next(t, aliceSub)
	f.room.ReportCursor(host, 3, 4)
	require.Equal(t, room.EventCursorMove, next(t, aliceSub).Type)

	f.room.Unsubscribe(hostSub.ID)
	for range hostSub.C {
	}
	assert.NoError(t, hostSub.Err())

	assert.Equal(t, room.EventCursorHidden, next(t, aliceSub).Type)
	ev := next(t, aliceSub)
	require.Equal(t, room.EventPresentationChange, ev.Type)
	assert.False(t, ev.Payload.(room.PresentationState).Enabled)

	snap, err := f.room.Snapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.Cursor)
}

func TestRoom_LaggingPresenterKeepsPresentation(t *testing.T) {
	f := newFixture(t, room.Config{SubscriberBuffer: 3})
	ctx := context.Background()

	hostSub := subscribe(t, f.room, host)
	_, err := f.room.SetPresentation(ctx, host, room.PresentationState{Enabled: true})
	require.NoError(t, err)

	// the presenter stops reading: presentationModeChanged plus two mutations fill its buffer
	for i := 0; i < 3; i++ {
		_, err := f.room.Submit(ctx, alice, createText(fmt.Sprintf("e%d", i), "x"))
		require.NoError(t, err)
	}
	for range hostSub.C {
	}
	require.ErrorIs(t, hostSub.Err(), room.ErrLagged)

	st, err := f.room.Presentation(ctx)
	require.NoError(t, err)
	assert.Equal(t, room.PresentationState{Enabled: true, PresenterID: "host"}, st)

	// the connection resubscribes and then releases the evicted stream
	again := subscribe(t, f.room, host)
	f.room.Unsubscribe(hostSub.ID)
	st, err = f.room.Presentation(ctx)
	require.NoError(t, err)
	assert.True(t, st.Enabled)

	f.room.Unsubscribe(again.ID)
	st, err = f.room.Presentation(ctx)
	require.NoError(t, err)
	assert.False(t, st.Enabled)
}

func TestRoom_LaggingPresenterThatNeverReturnsEndsPresentation(t *testing.T) {
	f := newFixture(t, room.Config{SubscriberBuffer: 2})
	ctx := context.Background()

	hostSub := subscribe(t, f.room, host)
	_, err := f.room.SetPresentation(ctx, host, room.PresentationState{Enabled: true})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := f.room.Submit(ctx, alice, createText(fmt.Sprintf("e%d", i), "x"))
		require.NoError(t, err)
	}
	for range hostSub.C {
	}
	require.ErrorIs(t, hostSub.Err(), room.ErrLagged)

	f.room.Unsubscribe(hostSub.ID)
	st, err := f.room.Presentation(ctx)
	require.NoError(t, err)
	assert.False(t, st.Enabled)
}

func TestRoom_PresenterSnapshotOmitsOwnCursor(t *testing.T) {
	f := newFixture(t, room.Config{})
	ctx := context.Background()

	subscribe(t, f.room, host)
	aliceSub := subscribe(t, f.room, alice)
	_, err := f.room.SetPresentation(ctx, host, room.PresentationState{Enabled: true})
	require.NoError(t, err)
	require.Equal(t, room.EventPresentationChange, next(t, aliceSub).Type)

	f.room.ReportCursor(host, 10, 20)
	require.Equal(t, room.EventCursorMove, next(t, aliceSub).Type)

	// a second tab of the presenter
	second, err := f.room.Subscribe(ctx, host)
	require.NoError(t, err)
	ev := next(t, second)
	require.Equal(t, room.EventSnapshot, ev.Type)
	snap := ev.Payload.(room.SnapshotPayload)
	assert.True(t, snap.Presentation.Enabled)
	assert.Nil(t, snap.Cursor)

	bobSub, err := f.room.Subscribe(ctx, bob)
	require.NoError(t, err)
	snap = next(t, bobSub).Payload.(room.SnapshotPayload)
	require.NotNil(t, snap.Cursor)
	assert.Equal(t, "host", snap.Cursor.ParticipantID)
	assert.Equal(t, 10.0, snap.Cursor.X)
	assert.Equal(t, 20.0, snap.Cursor.Y)
}

func TestRoom_AutomaticDecisionApplied(t *testing.T) {
	f := newFixture(t, room.Config{})
	ctx := context.Background()
	sub := subscribe(t, f.room, bob)

	mut, err := f.room.Submit(ctx, alice, createText("e1", "hello"))
	require.NoError(t, err)
	assert.Equal(t, board.StatusPending, mut.State.ModerationStatus)
	next(t, sub)

	err = f.room.ApplyDecision(ctx, moderation.Decision{ElementID: "e1", Status: board.StatusFlagged, Score: 0.9,
		Source: moderation.SourceAuto, ContentVersion: 1, DecidedAt: f.clock.Now()})
	require.NoError(t, err)

	ev := next(t, sub)
	require.Equal(t, room.EventStatusChanged, ev.Type)
	sc := ev.Payload.(room.StatusChanged)
	assert.Equal(t, board.StatusFlagged, sc.Status)
	assert.Equal(t, board.StatusPending, sc.Previous)

	snap, err := f.room.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, board.StatusFlagged, snap.Elements[0].ModerationStatus)
	assert.Equal(t, uint64(1), snap.Elements[0].Version, "status changes do not bump the version")

	require.NoError(t, f.room.Flush(ctx))
	logged := f.decisions.all()
	require.Len(t, logged, 1)
	assert.Equal(t, "wb-1", logged[0].WhiteboardID)
}

func TestRoom_StaleDecisionDiscarded(t *testing.T) {
	f := newFixture(t, room.Config{})
	ctx := context.Background()

	_, err := f.room.Submit(ctx, alice, createText("e1", "first"))
	require.NoError(t, err)
	_, err = f.room.Submit(ctx, alice, board.Intent{ElementID: "e1", ExpectedVersion: 1, Op: board.OpUpdate,
		Fields: map[string]any{"text": "second"}})
	require.NoError(t, err)

	err = f.room.ApplyDecision(ctx, moderation.Decision{ElementID: "e1", Status: board.StatusApproved,
		Source: moderation.SourceAuto, ContentVersion: 1, DecidedAt: f.clock.Now()})
	assert.ErrorIs(t, err, moderation.ErrStaleDecision)

	err = f.room.ApplyDecision(ctx, moderation.Decision{ElementID: "missing", Status: board.StatusApproved,
		Source: moderation.SourceAuto, ContentVersion: 1, DecidedAt: f.clock.Now()})
	assert.ErrorIs(t, err, moderation.ErrUnknownElement)
}

func TestRoom_ManualOverrideTakesPrecedence(t *testing.T) {
	f := newFixture(t, room.Config{})
	ctx := context.Background()

	_, err := f.room.Submit(ctx, alice, createText("e1", "borderline"))
	require.NoError(t, err)

	_, err = f.room.Moderate(ctx, alice, "e1", moderation.ActionApprove, "")
	assert.ErrorIs(t, err, room.ErrForbidden)

	d, err := f.room.Moderate(ctx, modria, "e1", moderation.ActionApprove, "fine")
	require.NoError(t, err)
	assert.Equal(t, moderation.SourceManual, d.Source)
	assert.Equal(t, "mod", d.ModeratorID)

	f.clock.Add(time.Second)
	err = f.room.ApplyDecision(ctx, moderation.Decision{ElementID: "e1", Status: board.StatusFlagged, Score: 0.95,
		Source: moderation.SourceAuto, ContentVersion: 1, DecidedAt: f.clock.Now()})
	assert.ErrorIs(t, err, moderation.ErrStaleDecision)

	snap, err := f.room.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, board.StatusApproved, snap.Elements[0].ModerationStatus)

	_, err = f.room.Moderate(ctx, modria, "e1", moderation.ActionReject, "")
	assert.ErrorIs(t, err, moderation.ErrInvalidTransition)

	history, err := f.room.History(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestRoom_RejectedElementFrozenButDeletable(t *testing.T) {
	f := newFixture(t, room.Config{})
	ctx := context.Background()

	_, err := f.room.Submit(ctx, alice, createText("e1", "bad"))
	require.NoError(t, err)
	_, err = f.room.Moderate(ctx, modria, "e1", moderation.ActionFlag, "")
	require.NoError(t, err)
	_, err = f.room.Moderate(ctx, host, "e1", moderation.ActionReject, "abusive")
	require.NoError(t, err)

	_, err = f.room.Submit(ctx, alice, board.Intent{ElementID: "e1", ExpectedVersion: 1, Op: board.OpUpdate,
		Fields: map[string]any{"text": "still bad"}})
	assert.ErrorIs(t, err, board.ErrElementRejected)

	_, err = f.room.Submit(ctx, host, board.Intent{ElementID: "e1", ExpectedVersion: 1, Op: board.OpDelete})
	assert.NoError(t, err)
}

func TestRoom_ApprovedContentEditIsResubmitted(t *testing.T) {
	f := newFixture(t, room.Config{})
	ctx := context.Background()
	sub := subscribe(t, f.room, bob)

	_, err := f.room.Submit(ctx, alice, createText("e1", "ok"))
	require.NoError(t, err)
	require.NoError(t, f.room.ApplyDecision(ctx, moderation.Decision{ElementID: "e1", Status: board.StatusApproved,
		Source: moderation.SourceAuto, ContentVersion: 1, DecidedAt: f.clock.Now()}))
	next(t, sub)
	next(t, sub)

	mut, err := f.room.Submit(ctx, alice, board.Intent{ElementID: "e1", ExpectedVersion: 1, Op: board.OpUpdate,
		Fields: map[string]any{"text": "changed"}})
	require.NoError(t, err)
	assert.Equal(t, board.StatusPending, mut.State.ModerationStatus)

	ev := next(t, sub)
	require.Equal(t, room.EventMutationApplied, ev.Type)
	assert.Equal(t, board.StatusPending, ev.Payload.(room.MutationApplied).State.ModerationStatus)
	ev = next(t, sub)
	require.Equal(t, room.EventStatusChanged, ev.Type)
	assert.Equal(t, board.StatusApproved, ev.Payload.(room.StatusChanged).Previous)

	// a pure move keeps the verdict
	require.NoError(t, f.room.ApplyDecision(ctx, moderation.Decision{ElementID: "e1", Status: board.StatusApproved,
		Source: moderation.SourceAuto, ContentVersion: 2, DecidedAt: f.clock.Now()}))
	mut, err = f.room.Submit(ctx, alice, board.Intent{ElementID: "e1", ExpectedVersion: 2, Op: board.OpUpdate,
		Fields: map[string]any{"x": 5.0}})
	require.NoError(t, err)
	assert.Equal(t, board.StatusApproved, mut.State.ModerationStatus)
}

func TestRoom_RecordingIsGapless(t *testing.T) {
	f := newFixture(t, room.Config{})
	ctx := context.Background()

	_, err := f.room.Submit(ctx, alice, createText("before", "baseline"))
	require.NoError(t, err)

	_, err = f.room.StartRecording(ctx, alice, "")
	assert.ErrorIs(t, err, room.ErrForbidden)

	sess, err := f.room.StartRecording(ctx, host, "standup")
	require.NoError(t, err)
	_, err = f.room.StartRecording(ctx, host, "again")
	assert.ErrorIs(t, err, recording.ErrAlreadyActive)

	snap, err := f.room.Snapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Recording)
	assert.Equal(t, sess.ID, snap.Recording.ID)

	for i := 0; i < 3; i++ {
		_, err := f.room.Submit(ctx, alice, createText(fmt.Sprintf("e%d", i), "x"))
		require.NoError(t, err)
	}

	stopped, err := f.room.StopRecording(ctx, host, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, recording.StatusStopped, stopped.Status)

	frames, err := f.frames.Frames(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, frames, 4)
	assert.Equal(t, recording.FrameSnapshot, frames[0].Kind)
	require.Len(t, frames[0].Elements, 1)
	for i, fr := range frames[1:] {
		assert.Equal(t, recording.FrameDelta, fr.Kind)
		assert.Equal(t, uint64(i+2), fr.Mutation.Seq)
	}

	first, err := f.recorder.Export(ctx, sess.ID, recording.FormatJSON, recording.CompressionNone)
	require.NoError(t, err)
	second, err := f.recorder.Export(ctx, sess.ID, recording.FormatJSON, recording.CompressionNone)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRoom_WriteBehindSnapshot(t *testing.T) {
	f := newFixture(t, room.Config{})
	ctx := context.Background()

	_, err := f.room.Submit(ctx, alice, createText("e1", "persist me"))
	require.NoError(t, err)
	require.NoError(t, f.room.Flush(ctx))

	saves, saved, seq := f.loader.state()
	assert.Equal(t, 1, saves)
	require.Len(t, saved, 1)
	assert.Equal(t, uint64(1), seq)

	require.NoError(t, f.room.Flush(ctx))
	saves, _, _ = f.loader.state()
	assert.Equal(t, 1, saves, "nothing changed, nothing saved")
}

func TestRoom_FailedSaveIsRetried(t *testing.T) {
	f := newFixture(t, room.Config{})
	ctx := context.Background()

	_, err := f.room.Submit(ctx, alice, createText("e1", "x"))
	require.NoError(t, err)

	f.loader.mu.Lock()
	f.loader.failSave = errors.New("db down")
	f.loader.mu.Unlock()
	assert.Error(t, f.room.Flush(ctx))

	f.loader.mu.Lock()
	f.loader.failSave = nil
	f.loader.mu.Unlock()
	require.NoError(t, f.room.Flush(ctx))

	saves, saved, _ := f.loader.state()
	assert.Equal(t, 1, saves)
	assert.Len(t, saved, 1)
}

func TestRoom_CloseEndsSubscriptions(t *testing.T) {
	f := newFixture(t, room.Config{})
	sub := subscribe(t, f.room, alice)

	require.NoError(t, f.room.Close(context.Background()))
	_, open := <-sub.C
	assert.False(t, open)
	assert.ErrorIs(t, sub.Err(), room.ErrRoomClosed)

	_, err := f.room.Submit(context.Background(), alice, createText("late", "x"))
	assert.ErrorIs(t, err, room.ErrRoomClosed)
}

func TestChain_Order(t *testing.T) {
	assert.Equal(t, []string{"metrics", "persist", "record", "moderate"}, room.DefaultChain().Names())

	var calls []string
	mw := func(name string) room.Middleware {
		return room.Middleware{Name: name, Wrap: func(next room.Handler) room.Handler {
			return func(r *room.Room, mut *board.AppliedMutation) {
				calls = append(calls, name)
				next(r, mut)
			}
		}}
	}
	h := room.NewChain(mw("a"), mw("b")).Then(func(*room.Room, *board.AppliedMutation) {
		calls = append(calls, "terminal")
	})
	h(nil, &board.AppliedMutation{})
	assert.Equal(t, []string{"a", "b", "terminal"}, calls)
}
