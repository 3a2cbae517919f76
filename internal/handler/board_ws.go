package handler

import (
	"context"
	"encoding/json"
	"log"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/session"
)

// maxMessageSize 클라이언트 메시지 최대 크기
const maxMessageSize = 1 << 20

// BoardWSConfig WebSocket 연결 설정
type BoardWSConfig struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	Heartbeat    time.Duration
	SendBuffer   int
	ServerID     string
}

// BoardWSHandler serves the real-time channel of one whiteboard.
type BoardWSHandler struct {
	hub        *room.Hub
	dispatcher *Dispatcher
	presence   *presence.Manager
	cfg        BoardWSConfig
}

// NewBoardWSHandler BoardWSHandler 생성. presence는 nil 허용
func NewBoardWSHandler(hub *room.Hub, dispatcher *Dispatcher, pm *presence.Manager, cfg BoardWSConfig) *BoardWSHandler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 20 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &BoardWSHandler{hub: hub, dispatcher: dispatcher, presence: pm, cfg: cfg}
}

// Upgrade WebSocket 업그레이드 전 검증 (auth.AuthMiddleware 뒤에 위치)
func (h *BoardWSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if _, err := auth.GetClaimsFromContext(c); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	c.Locals("whiteboardId", c.Params("id"))
	return c.Next()
}

// roomLink points at the room currently serving a connection; it changes when a
// lagging connection resubscribes after its room was replaced.
type roomLink struct {
	atomic.Pointer[room.Room]
}

// HandleWebSocket WebSocket 연결 처리
func (h *BoardWSHandler) HandleWebSocket(c *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[BoardWS] 🚨 panic: %v\n%s", r, debug.Stack())
		}
	}()

	claims, ok := c.Locals("claims").(*auth.Claims)
	whiteboardID, ok2 := c.Locals("whiteboardId").(string)
	if !ok || !ok2 || whiteboardID == "" {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"code":"unauthorized","message":"invalid session"}}`))
		c.Close()
		return
	}

	p := participantFromClaims(claims)

	ctx := context.Background()
	rm, sub, err := h.hub.Join(ctx, whiteboardID, p)
	if err != nil {
		_, code := errorStatus(err)
		frame, _ := session.Encode(ReplyError, "", ErrorPayload{Code: code, Message: err.Error()})
		c.WriteMessage(websocket.TextMessage, frame)
		c.Close()
		return
	}

	sess := session.New(whiteboardID, p, h.cfg.SendBuffer)
	sess.SetSubscription(sub.ID)
	link := &roomLink{}
	link.Store(rm)

	h.join(sess)
	log.Printf("[BoardWS] Connected: whiteboard=%s participant=%s session=%s", whiteboardID, p.ID, sess.ID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(c, sess)
	}()
	go h.eventPump(sess, link, sub)

	defer func() {
		sess.Close()
		link.Load().Unsubscribe(sess.Subscription())
		<-writerDone
		h.leave(sess)
		received, sent, dropped := sess.GetStats()
		log.Printf("[BoardWS] Disconnected: whiteboard=%s participant=%s in=%d out=%d dropped=%d after %s",
			whiteboardID, p.ID, received, sent, dropped, sess.Duration().Round(time.Second))
	}()

	c.SetReadLimit(maxMessageSize)
	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.TextMessage {
			continue
		}
		sess.Received()

		var msg session.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			frame, _ := session.Encode(ReplyError, "", ErrorPayload{Code: "invalid_request", Message: "malformed message"})
			sess.Send(frame)
			continue
		}

		replyType, payload := h.dispatcher.Handle(sess.Context(), link.Load(), p, msg)
		if replyType == "" {
			continue
		}
		frame, err := session.Encode(replyType, msg.RequestID, payload)
		if err != nil {
			log.Printf("[BoardWS] encode %s reply failed: %v", replyType, err)
			continue
		}
		if !sess.Send(frame) && !sess.IsClosed() {
			log.Printf("[BoardWS] ⚠️ %s is not reading, closing", p.ID)
			break
		}
	}
}

// eventPump forwards room events to the client. A subscription evicted for lagging is
// replaced by a fresh one, which starts with a new snapshot.
func (h *BoardWSHandler) eventPump(sess *session.Session, link *roomLink, sub *room.Subscription) {
	for {
		for ev := range sub.C {
			frame, err := session.Encode(string(ev.Type), "", ev.Payload)
			if err != nil {
				log.Printf("[BoardWS] encode %s failed: %v", ev.Type, err)
				continue
			}
			if ev.Type == room.EventSnapshot {
				sess.SetState(session.StateLive)
			}
			if sess.Send(frame) {
				continue
			}
			if sess.IsClosed() {
				return
			}
			if ev.Type == room.EventCursorMove || ev.Type == room.EventCursorHidden {
				continue
			}
			// the socket cannot keep up with ordered events
			log.Printf("[BoardWS] ⚠️ Outbound buffer full for %s, closing", sess.Participant.ID)
			sess.Close()
			return
		}

		reason := sub.Err()
		if reason == nil || sess.IsClosed() {
			return
		}

		sess.SetState(session.StateResyncing)
		if frame, err := session.Encode(string(room.EventLagged), "", ErrorPayload{Code: "lagged", Message: reason.Error()}); err == nil {
			sess.Send(frame)
		}

		prev, prevID := link.Load(), sess.Subscription()
		rm, next, err := h.hub.Join(sess.Context(), sess.WhiteboardID, sess.Participant)
		if err != nil {
			// the evicted stream is released on disconnect, which ends a presentation
			log.Printf("[BoardWS] Resubscribe failed for %s: %v", sess.Participant.ID, err)
			sess.Close()
			return
		}
		link.Store(rm)
		sess.SetSubscription(next.ID)
		prev.Unsubscribe(prevID)
		if sess.IsClosed() {
			rm.Unsubscribe(next.ID)
			return
		}
		sub = next
	}
}

// writePump owns every write to the socket.
func (h *BoardWSHandler) writePump(c *websocket.Conn, sess *session.Session) {
	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()
	heartbeat := time.NewTicker(h.cfg.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case frame, ok := <-sess.Outbound:
			if !ok {
				c.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
				c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			c.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
				sess.Close()
				c.Close()
				h.drain(sess)
				return
			}
		case <-ping.C:
			c.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.Close()
				c.Close()
				h.drain(sess)
				return
			}
		case <-heartbeat.C:
			if h.presence != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				if err := h.presence.Heartbeat(ctx, sess.WhiteboardID, sess.Participant.ID); err != nil {
					log.Printf("[BoardWS] presence heartbeat failed: %v", err)
				}
				cancel()
			}
		}
	}
}

func (h *BoardWSHandler) drain(sess *session.Session) {
	for range sess.Outbound {
	}
}

func (h *BoardWSHandler) join(sess *session.Session) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := h.presence.Join(ctx, presence.Data{
		WhiteboardID:  sess.WhiteboardID,
		ParticipantID: sess.Participant.ID,
		Nickname:      sess.Participant.Nickname,
		Role:          string(sess.Participant.Role),
		Status:        presence.StatusOnline,
		ServerID:      h.cfg.ServerID,
	})
	if err != nil {
		log.Printf("[BoardWS] presence join failed: %v", err)
	}
}

func (h *BoardWSHandler) leave(sess *session.Session) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.presence.Leave(ctx, sess.WhiteboardID, sess.Participant.ID); err != nil {
		log.Printf("[BoardWS] presence leave failed: %v", err)
	}
}
