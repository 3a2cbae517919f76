package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"whiteboard-backend/internal/board"
	"whiteboard-backend/internal/metrics"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/moderation"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/recording"
)

// Loader reads and writes the persisted element set of a whiteboard.
type Loader interface {
	LoadSnapshot(ctx context.Context, id string) (*model.Whiteboard, []board.Element, error)
	SaveSnapshot(ctx context.Context, id string, elements []board.Element, seq uint64) error
}

// DecisionLog persists moderation history.
type DecisionLog interface {
	RecordDecisions(ctx context.Context, decisions []moderation.Decision) error
}

// Config 룸 설정
type Config struct {
	SubscriberBuffer int
	InboxSize        int
	SnapshotInterval time.Duration
	CursorInterval   time.Duration
	IdleTimeout      time.Duration
	SaveTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 256
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 1024
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 10 * time.Second
	}
	return c
}

// Deps are the collaborators shared by every room of a hub. Any of them may be nil.
type Deps struct {
	Loader    Loader
	Decisions DecisionLog
	Pipeline  *moderation.Pipeline
	Recorder  *recording.Manager
	Metrics   *metrics.Metrics
	Clock     clock.Clock
}

// Room is the single writer of one whiteboard. Every field below the marker is owned by
// the actor goroutine and only touched from closures sent through the inbox.
type Room struct {
	id      string
	ownerID string
	cfg     Config
	deps    Deps
	handle  Handler
	clock   clock.Clock
	tracker *presence.Tracker

	inbox  chan func()
	quit   chan struct{}
	done   chan struct{}
	closed atomic.Bool
	saving atomic.Bool

	// actor state
	store            *board.Store
	ledger           *moderation.Ledger
	subs             map[string]*subscriber
	lagging          map[string]string // evicted subscription id -> participant id
	presentation     PresentationState
	dirty            bool
	pendingDecisions []moderation.Decision
	lastActive       time.Time
}

// New creates a room, hydrates it from a persisted snapshot and starts its actor.
func New(wb *model.Whiteboard, elements []board.Element, cfg Config, deps Deps, chain Chain) *Room {
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	r := &Room{
		id:      wb.ID,
		ownerID: wb.OwnerID,
		cfg:     cfg,
		deps:    deps,
		handle:  chain.Then(fanOut),
		clock:   deps.Clock,
		tracker: presence.NewTracker(cfg.CursorInterval, deps.Clock, deps.Metrics),
		inbox:   make(chan func(), cfg.InboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		store:   board.NewStore(wb.ID),
		ledger:  moderation.NewLedger(),
		subs:    make(map[string]*subscriber),
		lagging: make(map[string]string),
	}
	r.lastActive = r.clock.Now()
	r.hydrate(elements, uint64(wb.Seq))

	go r.run()
	deps.Metrics.RoomOpened()
	log.Printf("[Room %s] Opened with %d elements (seq=%d)", r.id, len(elements), wb.Seq)
	return r
}

// hydrate loads persisted elements and re-queues everything still awaiting a verdict.
func (r *Room) hydrate(elements []board.Element, seq uint64) {
	r.store.Load(elements, seq)
	for i := range elements {
		e := &elements[i]
		r.ledger.Track(e.ID, e.ModerationStatus, e.Version)
		if e.ModerationStatus == board.StatusPending {
			r.enqueue(e)
		}
	}
}

// ID returns the whiteboard id.
func (r *Room) ID() string { return r.id }

func (r *Room) run() {
	defer close(r.done)

	ticker := r.clock.Ticker(r.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-r.inbox:
			fn()
		case <-ticker.C:
			r.persistAsync()
		case <-r.quit:
			for id, s := range r.subs {
				s.close(ErrRoomClosed)
				delete(r.subs, id)
			}
			clear(r.lagging)
			return
		}
	}
}

// do runs fn on the actor goroutine and waits for it.
func (r *Room) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case r.inbox <- wrapped:
	case <-r.quit:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryDo queues fn without waiting. It reports false when the inbox is full.
func (r *Room) tryDo(fn func()) bool {
	if r.closed.Load() {
		return false
	}
	select {
	case r.inbox <- fn:
		return true
	default:
		return false
	}
}

func (r *Room) isHost(p Participant) bool {
	return p.Role.CanHost() || (r.ownerID != "" && p.ID == r.ownerID)
}

// =============================================================================
// Mutations
// =============================================================================

// Submit applies an intent. Accepted mutations run through the middleware chain before
// Submit returns, so the caller's own mutationApplied event is already queued.
func (r *Room) Submit(ctx context.Context, p Participant, in board.Intent) (board.AppliedMutation, error) {
	var (
		mut board.AppliedMutation
		err error
	)
	if e := r.do(ctx, func() { mut, err = r.submit(p, in) }); e != nil {
		return board.AppliedMutation{}, e
	}
	return mut, err
}

func (r *Room) submit(p Participant, in board.Intent) (board.AppliedMutation, error) {
	r.lastActive = r.clock.Now()

	if r.presentation.locks(p.ID) && !r.isHost(p) {
		return board.AppliedMutation{}, ErrEditingLocked
	}

	mut, err := r.store.Apply(in, p.ID, r.clock.Now())
	if err != nil {
		if errors.Is(err, board.ErrConflict) {
			r.deps.Metrics.MutationConflict()
		}
		return board.AppliedMutation{}, err
	}

	r.handle(r, &mut)
	return mut, nil
}

func (r *Room) enqueue(e *board.Element) {
	if r.deps.Pipeline == nil || e == nil {
		return
	}
	r.deps.Pipeline.Enqueue(contentOf(r.id, e))
}

// =============================================================================
// Subscriptions
// =============================================================================

// Subscribe registers a participant. The first event on the stream is a snapshot.
func (r *Room) Subscribe(ctx context.Context, p Participant) (*Subscription, error) {
	var sub *Subscription
	err := r.do(ctx, func() {
		ch := make(chan Event, r.cfg.SubscriberBuffer)
		sub = &Subscription{ID: uuid.New().String(), ParticipantID: p.ID, C: ch}
		ch <- Event{Type: EventSnapshot, Payload: r.snapshot(p.ID)}
		r.subs[sub.ID] = &subscriber{sub: sub, ch: ch, participant: p}
		r.lastActive = r.clock.Now()
		log.Printf("[Room %s] Participant joined: %s (%s), total: %d", r.id, p.ID, p.Role, len(r.subs))
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe ends a subscription. When the participant has no stream left and was
// presenting, the presentation ends. Subscriptions evicted for lagging are released here
// too, once the connection has resubscribed or given up.
func (r *Room) Unsubscribe(subscriptionID string) {
	_ = r.do(context.Background(), func() {
		if pid, ok := r.lagging[subscriptionID]; ok {
			delete(r.lagging, subscriptionID)
			r.participantGone(pid)
			return
		}
		s, ok := r.subs[subscriptionID]
		if !ok {
			return
		}
		delete(r.subs, subscriptionID)
		s.close(nil)
		r.lastActive = r.clock.Now()
		log.Printf("[Room %s] Participant left: %s, remaining: %d", r.id, s.participant.ID, len(r.subs))
		r.participantGone(s.participant.ID)
	})
}

func (r *Room) participantGone(participantID string) {
	if r.connected(participantID) {
		return
	}
	r.tracker.Forget(participantID)
	if r.presentation.Enabled && r.presentation.PresenterID == participantID {
		log.Printf("[Room %s] Presenter %s disconnected, ending presentation", r.id, participantID)
		r.endPresentation()
	}
}

// connected reports whether a participant still has a stream, counting streams evicted
// for lagging whose connection has not released them yet.
func (r *Room) connected(participantID string) bool {
	for _, s := range r.subs {
		if s.participant.ID == participantID {
			return true
		}
	}
	for _, pid := range r.lagging {
		if pid == participantID {
			return true
		}
	}
	return false
}

// broadcast delivers an ordered event. A subscriber whose buffer is full is evicted; its
// connection stays open and resubscribes, so the participant is not treated as gone.
func (r *Room) broadcast(ev Event) {
	for id, s := range r.subs {
		select {
		case s.ch <- ev:
		default:
			delete(r.subs, id)
			r.lagging[id] = s.participant.ID
			s.close(ErrLagged)
			r.deps.Metrics.SubscriberEvicted()
			log.Printf("[Room %s] ⚠️ Evicted lagging subscriber %s (%s)", r.id, id, s.participant.ID)
		}
	}
}

// broadcastCursor delivers a droppable event to everyone but its sender.
func (r *Room) broadcastCursor(ev Event) {
	for _, s := range r.subs {
		if s.participant.ID == ev.From {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			r.deps.Metrics.CursorDropped()
		}
	}
}

// Snapshot returns the current state of the room.
func (r *Room) Snapshot(ctx context.Context) (SnapshotPayload, error) {
	var snap SnapshotPayload
	if err := r.do(ctx, func() { snap = r.snapshot("") }); err != nil {
		return SnapshotPayload{}, err
	}
	return snap, nil
}

// snapshot builds the state sent to viewerID. The presenter never gets its own cursor back.
func (r *Room) snapshot(viewerID string) SnapshotPayload {
	snap := SnapshotPayload{
		WhiteboardID: r.id,
		Seq:          r.store.Seq(),
		Elements:     r.store.Snapshot(),
		Presentation: r.presentation,
	}
	if r.presentation.Enabled && viewerID != r.presentation.PresenterID {
		if pos, ok := r.tracker.Current(); ok {
			snap.Cursor = &pos
		}
	}
	if r.deps.Recorder != nil {
		if s, ok := r.deps.Recorder.Active(r.id); ok {
			snap.Recording = s
		}
	}
	return snap
}

// =============================================================================
// Moderation
// =============================================================================

// ApplyDecision validates a decision against the ledger, updates the element and
// broadcasts the new status.
func (r *Room) ApplyDecision(ctx context.Context, d moderation.Decision) error {
	var err error
	if e := r.do(ctx, func() { _, err = r.applyDecision(d) }); e != nil {
		return e
	}
	return err
}

func (r *Room) applyDecision(d moderation.Decision) (moderation.Decision, error) {
	if _, ok := r.store.Get(d.ElementID); !ok {
		return moderation.Decision{}, moderation.ErrUnknownElement
	}
	d.WhiteboardID = r.id

	resolved, err := r.ledger.Resolve(d)
	if err != nil {
		return moderation.Decision{}, err
	}
	if _, err := r.store.SetStatus(d.ElementID, resolved.Status, resolved.DecidedAt); err != nil {
		return moderation.Decision{}, err
	}

	r.pendingDecisions = append(r.pendingDecisions, resolved)
	r.dirty = true
	r.deps.Metrics.ModerationDecision(string(resolved.Status), string(resolved.Source))
	if resolved.Source == moderation.SourceManual && r.deps.Pipeline != nil {
		if r.deps.Pipeline.Backlog().Remove(r.id, d.ElementID) {
			r.deps.Metrics.SetBacklog(r.deps.Pipeline.Backlog().Len())
		}
	}

	r.broadcast(statusChanged(resolved))
	return resolved, nil
}

// Moderate applies a moderator's manual action. Manual decisions take precedence over
// classifier results that arrive later.
func (r *Room) Moderate(ctx context.Context, p Participant, elementID string, action moderation.Action, reason string) (moderation.Decision, error) {
	if !p.Role.CanModerate() {
		return moderation.Decision{}, ErrForbidden
	}
	target, err := action.Target()
	if err != nil {
		return moderation.Decision{}, err
	}

	var resolved moderation.Decision
	e := r.do(ctx, func() {
		resolved, err = r.applyDecision(moderation.Decision{
			ElementID:   elementID,
			Status:      target,
			Reason:      reason,
			Source:      moderation.SourceManual,
			ModeratorID: p.ID,
			DecidedAt:   r.clock.Now(),
		})
	})
	if e != nil {
		return moderation.Decision{}, e
	}
	return resolved, err
}

// History returns the in-memory decision history of an element since the room opened.
func (r *Room) History(ctx context.Context, elementID string) ([]moderation.Decision, error) {
	var out []moderation.Decision
	if err := r.do(ctx, func() { out = r.ledger.History(elementID) }); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// Cursor
// =============================================================================

// ReportCursor forwards a cursor position. Reports are dropped when throttled, when the
// sender is not presenting, or when the room is busy.
func (r *Room) ReportCursor(p Participant, x, y float64) {
	if !r.tryDo(func() {
		if !r.presentation.Enabled || p.ID != r.presentation.PresenterID {
			return
		}
		pos, ok := r.tracker.ReportPosition(p.ID, x, y)
		if !ok {
			return
		}
		r.broadcastCursor(Event{Type: EventCursorMove, From: p.ID,
			Payload: CursorPayload{ParticipantID: pos.ParticipantID, X: pos.X, Y: pos.Y}})
	}) {
		r.deps.Metrics.CursorDropped()
	}
}

// ReportCursorExit hides the presenter's cursor.
func (r *Room) ReportCursorExit(p Participant) {
	r.tryDo(func() {
		if !r.presentation.Enabled || p.ID != r.presentation.PresenterID {
			return
		}
		if r.tracker.ReportExit(p.ID) {
			r.broadcastCursor(Event{Type: EventCursorHidden, From: p.ID,
				Payload: CursorPayload{ParticipantID: p.ID}})
		}
	})
}

// =============================================================================
// Recording
// =============================================================================

// StartRecording starts a recording whose baseline is taken on the actor, so no
// mutation falls between the baseline and the first delta. The session row is written
// off the actor; mutations applied meanwhile are buffered by the recorder.
func (r *Room) StartRecording(ctx context.Context, p Participant, title string) (*recording.Session, error) {
	if r.deps.Recorder == nil {
		return nil, recording.ErrSessionNotFound
	}
	if !p.Role.CanModerate() && !r.isHost(p) {
		return nil, ErrForbidden
	}

	var (
		sess   *recording.Session
		err    error
		result chan error
	)
	e := r.do(ctx, func() {
		sess, err = r.deps.Recorder.Begin(r.id, p.ID, title, r.store.Snapshot())
		if err != nil {
			return
		}
		result = make(chan error, 1)
		go r.commitRecording(sess.ID, p.ID, result)
	})
	if e != nil {
		return nil, e
	}
	if err != nil {
		return sess, err
	}

	select {
	case err = <-result:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// commitRecording persists a started session and announces it to the room.
func (r *Room) commitRecording(sessionID, startedBy string, result chan<- error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SaveTimeout)
	defer cancel()

	s, err := r.deps.Recorder.Commit(ctx, sessionID)
	if err != nil {
		log.Printf("[Room %s] ⚠️ Recording %s could not start: %v", r.id, sessionID, err)
		result <- err
		return
	}
	_ = r.do(ctx, func() {
		r.broadcast(Event{Type: EventRecordingStatus, From: startedBy, Payload: s})
	})
	result <- nil
}

// RecordingChanged announces a recording status change that happened outside a request,
// such as a background flush failure.
func (r *Room) RecordingChanged(ctx context.Context, s recording.Session) error {
	return r.do(ctx, func() {
		r.broadcast(Event{Type: EventRecordingStatus, Payload: &s})
	})
}

// StopRecording stops a recording of this whiteboard and flushes its frames.
func (r *Room) StopRecording(ctx context.Context, p Participant, sessionID string) (*recording.Session, error) {
	if r.deps.Recorder == nil {
		return nil, recording.ErrSessionNotFound
	}
	if !p.Role.CanModerate() && !r.isHost(p) {
		return nil, ErrForbidden
	}

	sess, err := r.deps.Recorder.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.WhiteboardID != r.id {
		return nil, recording.ErrSessionNotFound
	}

	stopped, err := r.deps.Recorder.Stop(ctx, sessionID)
	if stopped != nil {
		r.tryDo(func() {
			r.broadcast(Event{Type: EventRecordingStatus, From: p.ID, Payload: stopped})
		})
	}
	return stopped, err
}

// =============================================================================
// Persistence & lifecycle
// =============================================================================

type saveBatch struct {
	elements  []board.Element
	seq       uint64
	decisions []moderation.Decision
	snapshot  bool
}

// takeBatch collects unsaved state. Actor only.
func (r *Room) takeBatch() (saveBatch, bool) {
	if !r.dirty && len(r.pendingDecisions) == 0 {
		return saveBatch{}, false
	}
	b := saveBatch{decisions: r.pendingDecisions, seq: r.store.Seq(), snapshot: r.dirty}
	if r.dirty {
		b.elements = r.store.Snapshot()
	}
	r.dirty = false
	r.pendingDecisions = nil
	return b, true
}

// requeue puts back a batch that failed to save. Actor only.
func (r *Room) requeue(b saveBatch) {
	if b.snapshot {
		r.dirty = true
	}
	r.pendingDecisions = append(b.decisions, r.pendingDecisions...)
}

// persistAsync saves in the background. At most one save runs at a time.
func (r *Room) persistAsync() {
	if !r.saving.CompareAndSwap(false, true) {
		return
	}
	b, ok := r.takeBatch()
	if !ok {
		r.saving.Store(false)
		return
	}

	go func() {
		defer r.saving.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SaveTimeout)
		defer cancel()

		if err := r.save(ctx, &b); err != nil {
			r.deps.Metrics.FlushError()
			log.Printf("[Room %s] ⚠️ Snapshot save failed, will retry: %v", r.id, err)
			_ = r.do(context.Background(), func() { r.requeue(b) })
		}
	}()
}

func (r *Room) save(ctx context.Context, b *saveBatch) error {
	if b.snapshot && r.deps.Loader != nil {
		if err := r.deps.Loader.SaveSnapshot(ctx, r.id, b.elements, b.seq); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	if len(b.decisions) > 0 && r.deps.Decisions != nil {
		if err := r.deps.Decisions.RecordDecisions(ctx, b.decisions); err != nil {
			// the snapshot is already stored
			b.snapshot = false
			return fmt.Errorf("record decisions: %w", err)
		}
	}
	return nil
}

// Flush saves unsaved state synchronously.
func (r *Room) Flush(ctx context.Context) error {
	var (
		b  saveBatch
		ok bool
	)
	if err := r.do(ctx, func() { b, ok = r.takeBatch() }); err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := r.save(ctx, &b); err != nil {
		r.deps.Metrics.FlushError()
		_ = r.do(context.Background(), func() { r.requeue(b) })
		return err
	}
	return nil
}

// idle reports whether the room has had no subscriber for longer than the idle timeout.
func (r *Room) idle(ctx context.Context) bool {
	var idle bool
	err := r.do(ctx, func() {
		idle = len(r.subs) == 0 && len(r.lagging) == 0 && r.clock.Since(r.lastActive) >= r.cfg.IdleTimeout
	})
	return err == nil && idle
}

// Close saves pending state and stops the actor. Open subscriptions end with ErrRoomClosed.
func (r *Room) Close(ctx context.Context) error {
	if r.closed.Load() {
		return nil
	}
	err := r.Flush(ctx)
	if r.closed.CompareAndSwap(false, true) {
		close(r.quit)
		<-r.done
		r.deps.Metrics.RoomClosed()
		log.Printf("[Room %s] Closed", r.id)
	}
	return err
}
