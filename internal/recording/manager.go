package recording

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"whiteboard-backend/internal/board"
	"whiteboard-backend/internal/metrics"
)

// MaxAnnotationLength caps annotation text, in runes.
const MaxAnnotationLength = 2000

// Config 녹화 설정
type Config struct {
	FlushInterval   time.Duration
	FlushBatch      int
	SnapshotEvery   int
	MaxBuffered     int
	AnnotationGrace time.Duration
	FlushAttempts   int
	RetryBackoff    time.Duration
	ExportWorkers   int
}

// Stores bundles the persistence backends of the manager.
type Stores struct {
	Frames    FrameStore
	Sessions  SessionStore
	Jobs      JobStore
	Artifacts ArtifactStore
}

// Manager owns recording sessions. It only ever sees accepted mutations handed to Capture;
// it never reads a room's element state.
type Manager struct {
	cfg     Config
	stores  Stores
	clock   clock.Clock
	metrics *metrics.Metrics

	mu       sync.Mutex
	active   map[string]*liveSession // whiteboard id -> ACTIVE session
	live     map[string]*liveSession // session id -> not yet finalized
	onStatus func(Session)

	exportSem chan struct{}
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

type liveSession struct {
	mu            sync.Mutex
	meta          Session
	replica       map[string]board.Element
	buffer        []Frame
	nextSeq       uint64
	sinceSnapshot int
	lost          *Range
	stopping      bool
	finalize      *clock.Timer

	flushMu   sync.Mutex
	started   chan struct{}
	startOnce sync.Once
	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
}

func (ls *liveSession) markStarted() {
	ls.startOnce.Do(func() { close(ls.started) })
}

// NewManager 녹화 매니저 생성
func NewManager(cfg Config, stores Stores, clk clock.Clock, m *metrics.Metrics) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.FlushBatch <= 0 {
		cfg.FlushBatch = 200
	}
	if cfg.FlushAttempts <= 0 {
		cfg.FlushAttempts = 3
	}
	if cfg.ExportWorkers <= 0 {
		cfg.ExportWorkers = 2
	}
	if clk == nil {
		clk = clock.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		stores:    stores,
		clock:     clk,
		metrics:   m,
		active:    make(map[string]*liveSession),
		live:      make(map[string]*liveSession),
		exportSem: make(chan struct{}, cfg.ExportWorkers),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// OnStatusChange registers fn to be told when a session changes status on its own, such
// as a background flush failure turning it ERRORED. Set it before sessions start.
func (m *Manager) OnStatusChange(fn func(Session)) {
	m.mu.Lock()
	m.onStatus = fn
	m.mu.Unlock()
}

func (m *Manager) notify(s Session) {
	m.mu.Lock()
	fn := m.onStatus
	m.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Start opens a recording for a whiteboard and persists it. The baseline becomes snapshot
// frame 0 and deltas start at seq 1. If a session is already active, it is returned with
// ErrAlreadyActive.
func (m *Manager) Start(ctx context.Context, whiteboardID, startedBy, title string, baseline []board.Element) (*Session, error) {
	s, err := m.Begin(whiteboardID, startedBy, title, baseline)
	if err != nil {
		return s, err
	}
	return m.Commit(ctx, s.ID)
}

// Begin registers a session in memory only, so Capture records from this point on. It does
// no I/O and is safe to call from a room's actor. The session must then be passed to Commit.
func (m *Manager) Begin(whiteboardID, startedBy, title string, baseline []board.Element) (*Session, error) {
	now := m.clock.Now()
	if title == "" {
		title = "Recording " + now.UTC().Format(time.RFC3339)
	}

	ls := &liveSession{
		meta: Session{
			ID:           uuid.New().String(),
			WhiteboardID: whiteboardID,
			Title:        title,
			StartedBy:    startedBy,
			Status:       StatusActive,
			StartedAt:    now,
		},
		replica: make(map[string]board.Element, len(baseline)),
		nextSeq: 1,
		started: make(chan struct{}),
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for i := range baseline {
		ls.replica[baseline[i].ID] = *baseline[i].Clone()
	}
	ls.buffer = append(ls.buffer, Frame{
		SessionID: ls.meta.ID,
		Seq:       0,
		Kind:      FrameSnapshot,
		Timestamp: now,
		Elements:  ls.replicaSnapshot(),
	})

	m.mu.Lock()
	if cur, ok := m.active[whiteboardID]; ok {
		m.mu.Unlock()
		s := cur.snapshot()
		return &s, ErrAlreadyActive
	}
	m.active[whiteboardID] = ls
	m.live[ls.meta.ID] = ls
	m.mu.Unlock()

	m.metrics.FrameCaptured(string(FrameSnapshot))
	m.wg.Add(1)
	go m.runFlusher(ls)

	s := ls.snapshot()
	return &s, nil
}

// Commit persists a session opened by Begin. Frames are only flushed after the session
// is stored. When the store fails, the session is dropped along with its buffered frames.
func (m *Manager) Commit(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	ls := m.live[sessionID]
	m.mu.Unlock()
	if ls == nil {
		return nil, ErrSessionNotFound
	}

	meta := ls.snapshot()
	if err := m.stores.Sessions.SaveSession(ctx, &meta); err != nil {
		ended := m.clock.Now()
		ls.mu.Lock()
		ls.meta.Status = StatusErrored
		ls.meta.Error = err.Error()
		ls.meta.EndedAt = &ended
		ls.buffer = nil
		ls.mu.Unlock()
		m.release(ls, true)
		ls.markStarted()
		return nil, fmt.Errorf("save recording session: %w", err)
	}
	ls.markStarted()

	log.Printf("[Recording %s] started for whiteboard %s by %s", meta.ID, meta.WhiteboardID, meta.StartedBy)
	return &meta, nil
}

// Stop flushes buffered frames and closes the session. On unrecoverable storage failure
// the session ends ERRORED and the returned session lists the missing frame ranges.
func (m *Manager) Stop(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	ls := m.live[sessionID]
	m.mu.Unlock()

	if ls == nil {
		s, err := m.stores.Sessions.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return s, ErrNotActive
	}

	select {
	case <-ls.started:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ls.mu.Lock()
	if ls.meta.Status != StatusActive || ls.stopping {
		s := ls.snapshotLocked()
		ls.mu.Unlock()
		return &s, ErrNotActive
	}
	ls.stopping = true
	ls.mu.Unlock()

	close(ls.stop)
	<-ls.done

	flushErr := m.flush(ctx, ls)

	ls.mu.Lock()
	if flushErr == nil {
		now := m.clock.Now()
		if ls.lost != nil {
			ls.meta.MissingRanges = append(ls.meta.MissingRanges, *ls.lost)
			ls.lost = nil
		}
		ls.meta.Status = StatusStopped
		ls.meta.EndedAt = &now
	}
	meta := ls.snapshotLocked()
	ls.mu.Unlock()

	if flushErr != nil {
		return &meta, flushErr
	}

	m.release(ls, false)
	if err := m.stores.Sessions.SaveSession(ctx, &meta); err != nil {
		return &meta, fmt.Errorf("save recording session: %w", err)
	}
	m.scheduleFinalize(ls)

	log.Printf("[Recording %s] stopped: %d frames, last seq %d", meta.ID, meta.FlushedFrames, meta.LastSeq)
	return &meta, nil
}

// Finalize closes the annotation window of a stopped session.
func (m *Manager) Finalize(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	ls := m.live[sessionID]
	if ls == nil {
		m.mu.Unlock()
		return nil
	}
	ls.mu.Lock()
	if ls.meta.Status == StatusActive {
		ls.mu.Unlock()
		m.mu.Unlock()
		return ErrSessionActive
	}
	delete(m.live, sessionID)
	ls.meta.Finalized = true
	if ls.finalize != nil {
		ls.finalize.Stop()
	}
	meta := ls.snapshotLocked()
	ls.mu.Unlock()
	m.mu.Unlock()

	if err := m.stores.Sessions.SaveSession(ctx, &meta); err != nil {
		return fmt.Errorf("save recording session: %w", err)
	}
	return nil
}

func (m *Manager) scheduleFinalize(ls *liveSession) {
	id := ls.meta.ID
	if m.cfg.AnnotationGrace <= 0 {
		if err := m.Finalize(m.ctx, id); err != nil {
			log.Printf("[Recording %s] finalize failed: %v", id, err)
		}
		return
	}

	t := m.clock.AfterFunc(m.cfg.AnnotationGrace, func() {
		if err := m.Finalize(m.ctx, id); err != nil {
			log.Printf("[Recording %s] finalize failed: %v", id, err)
		}
	})
	ls.mu.Lock()
	ls.finalize = t
	ls.mu.Unlock()
}

// release removes a session from the active index, and from the live index when the
// session will not be finalized normally.
func (m *Manager) release(ls *liveSession, dropLive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active[ls.meta.WhiteboardID] == ls {
		delete(m.active, ls.meta.WhiteboardID)
	}
	if dropLive {
		delete(m.live, ls.meta.ID)
	}
}

// Shutdown stops every active session and waits for background work.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for _, ls := range m.active {
		ids = append(ids, ls.meta.ID)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.Stop(ctx, id); err != nil {
			log.Printf("[Recording %s] stop on shutdown: %v", id, err)
		}
	}

	m.cancel()
	m.wg.Wait()
}

// =============================================================================
// Capture
// =============================================================================

// Capture appends an accepted mutation to the whiteboard's active recording, if any.
// It only touches memory; persistence happens on the flusher goroutine.
func (m *Manager) Capture(mut board.AppliedMutation) {
	m.mu.Lock()
	ls := m.active[mut.WhiteboardID]
	m.mu.Unlock()
	if ls == nil {
		return
	}

	kinds, full := ls.capture(mut, m.clock.Now(), m.cfg)
	for _, k := range kinds {
		m.metrics.FrameCaptured(string(k))
	}
	if full {
		select {
		case ls.kick <- struct{}{}:
		default:
		}
	}
}

func (ls *liveSession) capture(mut board.AppliedMutation, now time.Time, cfg Config) (captured []FrameKind, full bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.meta.Status != StatusActive || ls.stopping {
		return nil, false
	}

	if mut.Op == board.OpDelete {
		delete(ls.replica, mut.ElementID)
	} else if mut.State != nil {
		ls.replica[mut.ElementID] = *mut.State.Clone()
	}

	seq := ls.next()
	if !ls.hasRoom(cfg) {
		if ls.lost == nil {
			ls.lost = &Range{From: seq, To: seq}
		} else {
			ls.lost.To = seq
		}
		return nil, true
	}

	if ls.lost != nil {
		// resynchronize after a gap with a full snapshot that names the lost range
		lost := *ls.lost
		ls.lost = nil
		ls.meta.MissingRanges = append(ls.meta.MissingRanges, lost)
		ls.buffer = append(ls.buffer, Frame{
			SessionID: ls.meta.ID,
			Seq:       seq,
			Kind:      FrameSnapshot,
			Timestamp: now,
			Elements:  ls.replicaSnapshot(),
			Loss:      true,
			Lost:      &lost,
		})
		ls.sinceSnapshot = 0
		return []FrameKind{FrameSnapshot}, len(ls.buffer) >= cfg.FlushBatch
	}

	cp := mut
	cp.State = mut.State.Clone()
	ls.buffer = append(ls.buffer, Frame{
		SessionID: ls.meta.ID,
		Seq:       seq,
		Kind:      FrameDelta,
		Timestamp: now,
		Mutation:  &cp,
	})
	captured = append(captured, FrameDelta)
	ls.sinceSnapshot++

	if cfg.SnapshotEvery > 0 && ls.sinceSnapshot >= cfg.SnapshotEvery && ls.hasRoom(cfg) {
		ls.buffer = append(ls.buffer, Frame{
			SessionID: ls.meta.ID,
			Seq:       ls.next(),
			Kind:      FrameSnapshot,
			Timestamp: now,
			Elements:  ls.replicaSnapshot(),
		})
		ls.sinceSnapshot = 0
		captured = append(captured, FrameSnapshot)
	}
	return captured, len(ls.buffer) >= cfg.FlushBatch
}

func (ls *liveSession) next() uint64 {
	seq := ls.nextSeq
	ls.nextSeq++
	ls.meta.LastSeq = seq
	return seq
}

func (ls *liveSession) hasRoom(cfg Config) bool {
	return cfg.MaxBuffered <= 0 || len(ls.buffer) < cfg.MaxBuffered
}

func (ls *liveSession) replicaSnapshot() []board.Element {
	out := make([]board.Element, 0, len(ls.replica))
	for _, e := range ls.replica {
		out = append(out, *e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (ls *liveSession) snapshot() Session {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.snapshotLocked()
}

func (ls *liveSession) snapshotLocked() Session {
	s := ls.meta
	s.MissingRanges = append([]Range(nil), ls.meta.MissingRanges...)
	return s
}

// =============================================================================
// Flush
// =============================================================================

func (m *Manager) runFlusher(ls *liveSession) {
	defer m.wg.Done()
	defer close(ls.done)

	select {
	case <-ls.started:
	case <-ls.stop:
		return
	case <-m.ctx.Done():
		return
	}
	if ls.snapshot().Status != StatusActive {
		return
	}

	ticker := m.clock.Ticker(m.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ls.stop:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		case <-ls.kick:
		}
		if err := m.flush(m.ctx, ls); err != nil {
			s := ls.snapshot()
			log.Printf("[Recording %s] ❌ %v", s.ID, err)
			if s.Status == StatusErrored {
				m.notify(s)
			}
			return
		}
	}
}

// flush persists the buffered frames. After FlushAttempts failures the session becomes
// ERRORED; frames already stored are kept and everything else is reported missing.
func (m *Manager) flush(ctx context.Context, ls *liveSession) error {
	ls.flushMu.Lock()
	defer ls.flushMu.Unlock()

	ls.mu.Lock()
	if ls.meta.Status == StatusErrored {
		ls.mu.Unlock()
		return ErrFlushFailed
	}
	batch := ls.buffer
	ls.buffer = nil
	id := ls.meta.ID
	ls.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var err error
	for attempt := 1; attempt <= m.cfg.FlushAttempts; attempt++ {
		if err = m.stores.Frames.AppendFrames(ctx, id, batch); err == nil {
			break
		}
		m.metrics.FlushError()
		log.Printf("[Recording %s] flush attempt %d/%d failed: %v", id, attempt, m.cfg.FlushAttempts, err)
		if attempt == m.cfg.FlushAttempts || m.cfg.RetryBackoff <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			attempt = m.cfg.FlushAttempts
		case <-m.clock.After(m.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}

	ls.mu.Lock()
	if err == nil {
		ls.meta.FlushedFrames += uint64(len(batch))
		ls.mu.Unlock()
		return nil
	}

	missing := Range{From: batch[0].Seq, To: batch[len(batch)-1].Seq}
	if n := len(ls.buffer); n > 0 {
		missing.To = ls.buffer[n-1].Seq
		ls.buffer = nil
	}
	if ls.lost != nil {
		if ls.lost.To > missing.To {
			missing.To = ls.lost.To
		}
		ls.lost = nil
	}
	ended := m.clock.Now()
	ls.meta.MissingRanges = append(ls.meta.MissingRanges, missing)
	ls.meta.Status = StatusErrored
	ls.meta.Error = err.Error()
	ls.meta.EndedAt = &ended
	meta := ls.snapshotLocked()
	ls.mu.Unlock()

	m.release(ls, true)
	if serr := m.stores.Sessions.SaveSession(context.WithoutCancel(ctx), &meta); serr != nil {
		log.Printf("[Recording %s] save errored session: %v", id, serr)
	}
	return fmt.Errorf("%w: frames %d-%d not stored: %v", ErrFlushFailed, missing.From, missing.To, err)
}

// =============================================================================
// Annotations & queries
// =============================================================================

// AddAnnotation attaches a note at the current end of the timeline. Notes are accepted
// while the session is ACTIVE or STOPPED and not yet finalized.
func (m *Manager) AddAnnotation(ctx context.Context, sessionID, authorID, text string) (*Annotation, error) {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > MaxAnnotationLength {
		return nil, ErrInvalidAnnotation
	}

	m.mu.Lock()
	ls := m.live[sessionID]
	m.mu.Unlock()

	if ls == nil {
		if _, err := m.stores.Sessions.GetSession(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrAnnotationsClosed
	}

	ls.mu.Lock()
	if ls.meta.Finalized || ls.meta.Status == StatusErrored {
		ls.mu.Unlock()
		return nil, ErrAnnotationsClosed
	}
	a := Annotation{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		AuthorID:  authorID,
		Text:      text,
		AtSeq:     ls.meta.LastSeq,
		CreatedAt: m.clock.Now(),
	}
	ls.meta.AnnotationCount++
	ls.mu.Unlock()

	if err := m.stores.Sessions.AddAnnotation(ctx, a); err != nil {
		ls.mu.Lock()
		ls.meta.AnnotationCount--
		ls.mu.Unlock()
		return nil, fmt.Errorf("save annotation: %w", err)
	}
	return &a, nil
}

// Get returns a session, preferring the live in-memory view.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	ls := m.live[sessionID]
	m.mu.Unlock()

	if ls != nil {
		s := ls.snapshot()
		return &s, nil
	}
	return m.stores.Sessions.GetSession(ctx, sessionID)
}

// Active returns the active session of a whiteboard.
func (m *Manager) Active(whiteboardID string) (*Session, bool) {
	m.mu.Lock()
	ls := m.active[whiteboardID]
	m.mu.Unlock()

	if ls == nil {
		return nil, false
	}
	s := ls.snapshot()
	return &s, true
}

// Search lists recordings.
func (m *Manager) Search(ctx context.Context, q Query) ([]Session, int64, error) {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	return m.stores.Sessions.SearchSessions(ctx, q)
}

// Annotations returns the notes of a session.
func (m *Manager) Annotations(ctx context.Context, sessionID string) ([]Annotation, error) {
	return m.stores.Sessions.Annotations(ctx, sessionID)
}

// Export serializes a stopped (or errored) session. Repeated calls over the same stored
// state return identical bytes.
func (m *Manager) Export(ctx context.Context, sessionID string, f Format, c Compression) ([]byte, error) {
	s, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status == StatusActive {
		return nil, ErrSessionActive
	}

	frames, err := m.stores.Frames.Frames(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load frames: %w", err)
	}
	annotations, err := m.stores.Sessions.Annotations(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load annotations: %w", err)
	}
	return Encode(NewDocument(s, frames, annotations), f, c)
}
