package presence

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"whiteboard-backend/internal/metrics"
)

// Position is the presenter's cursor as broadcast to the room.
type Position struct {
	ParticipantID string    `json:"participantId"`
	X             float64   `json:"x"`
	Y             float64   `json:"y"`
	At            time.Time `json:"at"`
}

// Tracker throttles cursor reports at the source and only admits the presenter's cursor
// while presentation mode is on. Reports arriving inside the interval are dropped, never
// queued, so the newest admitted position always wins.
type Tracker struct {
	mu        sync.Mutex
	interval  time.Duration
	clock     clock.Clock
	metrics   *metrics.Metrics
	limiters  map[string]*rate.Limiter
	presenter string
	last      *Position
}

// NewTracker creates a tracker admitting at most one position per interval per participant.
func NewTracker(interval time.Duration, clk clock.Clock, m *metrics.Metrics) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{
		interval: interval,
		clock:    clk,
		metrics:  m,
		limiters: make(map[string]*rate.Limiter),
	}
}

// SetPresenter turns broadcasting on for one participant.
func (t *Tracker) SetPresenter(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.presenter != participantID {
		t.last = nil
	}
	t.presenter = participantID
}

// Clear turns broadcasting off. It reports whether a cursor was visible.
func (t *Tracker) Clear() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	visible := t.last != nil
	t.presenter = ""
	t.last = nil
	return visible
}

// Presenter returns the participant whose cursor is broadcast, if any.
func (t *Tracker) Presenter() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.presenter
}

// ReportPosition admits or drops a cursor report.
func (t *Tracker) ReportPosition(participantID string, x, y float64) (Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.presenter == "" || participantID != t.presenter {
		return Position{}, false
	}

	now := t.clock.Now()
	lim, ok := t.limiters[participantID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.interval), 1)
		t.limiters[participantID] = lim
	}
	if t.interval > 0 && !lim.AllowN(now, 1) {
		t.metrics.CursorDropped()
		return Position{}, false
	}

	p := Position{ParticipantID: participantID, X: x, Y: y, At: now}
	t.last = &p
	return p, true
}

// ReportExit hides the presenter's cursor when it leaves the canvas.
// It reports whether a hide event should be broadcast.
func (t *Tracker) ReportExit(participantID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if participantID != t.presenter || t.last == nil {
		return false
	}
	t.last = nil
	return true
}

// Current returns the last admitted position, for late joiners.
func (t *Tracker) Current() (Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.last == nil {
		return Position{}, false
	}
	return *t.last, true
}

// Forget releases the throttle state of a departed participant.
func (t *Tracker) Forget(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.limiters, participantID)
}
