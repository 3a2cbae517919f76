package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"whiteboard-backend/internal/room"
)

// State WebSocket 연결 상태
type State int

const (
	StateJoining   State = iota // 스냅샷 수신 대기
	StateLive                   // 실시간 이벤트 수신 중
	StateResyncing              // 지연으로 퇴출 후 재구독 중
	StateClosed                 // 연결 종료
)

// String 상태를 문자열로 반환
func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateLive:
		return "live"
	case StateResyncing:
		return "resyncing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Message is the envelope of every WebSocket frame in both directions.
type Message struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Encode builds an outbound frame.
func Encode(msgType, requestID string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(Message{Type: msgType, RequestID: requestID, Payload: raw})
}

// Session 클라이언트 세션 (Thread-Safe)
type Session struct {
	ID           string
	WhiteboardID string
	Participant  room.Participant
	ConnectedAt  time.Time

	mu          sync.RWMutex
	state       State
	received    uint64
	sent        uint64
	dropped     uint64
	subscriptID string

	ctx    context.Context
	cancel context.CancelFunc

	// 클라이언트로 보낼 인코딩된 프레임
	Outbound chan []byte
}

// New 새 세션 생성
func New(whiteboardID string, p room.Participant, bufferSize int) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		ID:           uuid.New().String(),
		WhiteboardID: whiteboardID,
		Participant:  p,
		ConnectedAt:  time.Now(),
		state:        StateJoining,
		ctx:          ctx,
		cancel:       cancel,
		Outbound:     make(chan []byte, bufferSize),
	}
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// SetState 상태 전환 (종료 후에는 무시)
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateClosed {
		s.state = state
	}
}

// GetState 현재 상태 조회
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// SetSubscription records the room subscription currently feeding this session.
func (s *Session) SetSubscription(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptID = id
}

// Subscription returns the current room subscription id.
func (s *Session) Subscription() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.subscriptID
}

// Send queues a frame without blocking. It reports false when the session is closed or
// the client is not reading fast enough.
func (s *Session) Send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return false
	}
	select {
	case s.Outbound <- frame:
		s.sent++
		return true
	default:
		s.dropped++
		return false
	}
}

// Received counts an inbound frame.
func (s *Session) Received() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.received++
	return s.received
}

// GetStats 통계 조회
func (s *Session) GetStats() (received, sent, dropped uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.received, s.sent, s.dropped
}

// Duration 연결 유지 시간
func (s *Session) Duration() time.Duration {
	return time.Since(s.ConnectedAt)
}

// Close 세션 정리. 여러 번 호출해도 안전
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}

	s.state = StateClosed
	s.cancel()
	close(s.Outbound)
}

// IsClosed 세션 종료 여부 확인
func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state == StateClosed
}
