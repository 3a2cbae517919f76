package room

import (
	"errors"
	"sync"
	"time"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/board"
	"whiteboard-backend/internal/moderation"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/recording"
)

var (
	ErrEditingLocked    = errors.New("editing is locked while the presentation is running")
	ErrForbidden        = errors.New("participant is not allowed to perform this action")
	ErrRoomClosed       = errors.New("room is closed")
	ErrLagged           = errors.New("subscriber fell behind and was evicted")
	ErrPresenterMissing = errors.New("presenter is not connected to this whiteboard")
)

// EventType 브로드캐스트 이벤트 종류
type EventType string

const (
	EventSnapshot           EventType = "snapshot"
	EventMutationApplied    EventType = "mutationApplied"
	EventStatusChanged      EventType = "moderationStatusChanged"
	EventCursorMove         EventType = "cursorMove"
	EventCursorHidden       EventType = "cursorHidden"
	EventPresentationChange EventType = "presentationModeChanged"
	EventRecordingStatus    EventType = "recordingStatus"
	EventLagged             EventType = "lagged"
)

// Event is one message fanned out to the subscribers of a room.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
	// From is the participant that caused the event; cursor events skip it.
	From string `json:"-"`
}

// droppable reports whether the event may be lost without breaking replica convergence.
func (e Event) droppable() bool {
	return e.Type == EventCursorMove || e.Type == EventCursorHidden
}

// MutationApplied 요소 변경 이벤트
type MutationApplied struct {
	Seq       uint64          `json:"seq"`
	ElementID string          `json:"elementId"`
	Version   uint64          `json:"version"`
	Operation board.Operation `json:"operation"`
	State     *board.Element  `json:"state,omitempty"`
	Actor     string          `json:"actor"`
}

// StatusChanged 검수 상태 변경 이벤트
type StatusChanged struct {
	ElementID string                 `json:"elementId"`
	Status    board.ModerationStatus `json:"status"`
	Previous  board.ModerationStatus `json:"previous"`
	Reason    string                 `json:"reason,omitempty"`
	Source    moderation.Source      `json:"source"`
	DecidedAt time.Time              `json:"decidedAt"`
}

func statusChanged(d moderation.Decision) Event {
	return Event{Type: EventStatusChanged, Payload: StatusChanged{
		ElementID: d.ElementID,
		Status:    d.Status,
		Previous:  d.Previous,
		Reason:    d.Reason,
		Source:    d.Source,
		DecidedAt: d.DecidedAt,
	}}
}

// CursorPayload 발표자 커서 이벤트
type CursorPayload struct {
	ParticipantID string  `json:"participantId"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
}

// SnapshotPayload is the full state a subscriber starts from.
type SnapshotPayload struct {
	WhiteboardID string             `json:"whiteboardId"`
	Seq          uint64             `json:"seq"`
	Elements     []board.Element    `json:"elements"`
	Presentation PresentationState  `json:"presentation"`
	Cursor       *presence.Position `json:"cursor,omitempty"`
	Recording    *recording.Session `json:"recording,omitempty"`
}

// Participant is a connected user as the room sees it.
type Participant struct {
	ID       string    `json:"id"`
	Nickname string    `json:"nickname"`
	Role     auth.Role `json:"role"`
}

// Subscription is a participant's event stream. C is closed when the subscription ends;
// Err then tells why.
type Subscription struct {
	ID            string
	ParticipantID string
	C             <-chan Event

	mu  sync.Mutex
	err error
}

// Err returns ErrLagged after an eviction, ErrRoomClosed after the room shut down, or nil.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

type subscriber struct {
	sub         *Subscription
	ch          chan Event
	participant Participant
}

func (s *subscriber) close(err error) {
	s.sub.mu.Lock()
	s.sub.err = err
	s.sub.mu.Unlock()
	close(s.ch)
}
