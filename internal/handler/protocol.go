package handler

import (
	"context"
	"encoding/json"
	"errors"

	"whiteboard-backend/internal/board"
	"whiteboard-backend/internal/moderation"
	"whiteboard-backend/internal/recording"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/session"
)

// 클라이언트 → 서버 메시지 타입
const (
	MsgSubmitMutation   = "submitMutation"
	MsgCursorMove       = "cursorMove"
	MsgCursorExit       = "cursorExit"
	MsgTogglePresenting = "togglePresentationMode"
	MsgStartRecording   = "startRecording"
	MsgStopRecording    = "stopRecording"
	MsgAddAnnotation    = "addAnnotation"
	MsgRequestExport    = "requestExport"
	MsgModerate         = "moderate"
	MsgPing             = "ping"
)

// 서버 → 클라이언트 응답 타입
const (
	ReplyMutationResult   = "mutationResult"
	ReplyRecordingStatus  = "recordingStatus"
	ReplyAnnotationAdded  = "annotationAdded"
	ReplyExportStatus     = "exportStatus"
	ReplyModerationResult = "moderationResult"
	ReplyAck              = "ack"
	ReplyPong             = "pong"
	ReplyError            = "error"
)

// ErrorPayload WebSocket 에러 응답
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MutationResult is the reply to submitMutation. On conflict Version and State carry the
// server's current element so the client can rebase.
type MutationResult struct {
	Status  string         `json:"status"` // applied, conflict, error
	Seq     uint64         `json:"seq,omitempty"`
	Version uint64         `json:"version"`
	State   *board.Element `json:"state,omitempty"`
	Error   *ErrorPayload  `json:"error,omitempty"`
}

// ExportStatus is the reply to requestExport.
type ExportStatus struct {
	JobID  string              `json:"jobId"`
	Status recording.JobStatus `json:"status"`
}

type cursorRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type recordingRequest struct {
	WhiteboardID string `json:"whiteboardId"`
	SessionID    string `json:"sessionId"`
	Title        string `json:"title"`
}

type annotationRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type exportRequest struct {
	SessionID   string `json:"sessionId"`
	Format      string `json:"format"`
	Compression string `json:"compression"`
}

type moderateRequest struct {
	ElementID string            `json:"elementId"`
	Action    moderation.Action `json:"action"`
	Reason    string            `json:"reason"`
}

var errBadPayload = errors.New("malformed payload")

// Dispatcher turns client messages into room operations. It knows nothing about the
// transport, so it is shared by the WebSocket handler and tests.
type Dispatcher struct {
	recorder *recording.Manager
}

// NewDispatcher Dispatcher 생성
func NewDispatcher(recorder *recording.Manager) *Dispatcher {
	return &Dispatcher{recorder: recorder}
}

// Handle executes one message. It returns the reply type and payload, or an empty type
// when the message needs no reply.
func (d *Dispatcher) Handle(ctx context.Context, r *room.Room, p room.Participant, msg session.Message) (string, any) {
	switch msg.Type {
	case MsgPing:
		return ReplyPong, nil

	case MsgSubmitMutation:
		var in board.Intent
		if err := decode(msg.Payload, &in); err != nil {
			return errorReply(err)
		}
		return ReplyMutationResult, d.submit(ctx, r, p, in)

	case MsgCursorMove:
		var req cursorRequest
		if err := decode(msg.Payload, &req); err != nil {
			return errorReply(err)
		}
		r.ReportCursor(p, req.X, req.Y)
		return "", nil

	case MsgCursorExit:
		r.ReportCursorExit(p)
		return "", nil

	case MsgTogglePresenting:
		var req room.PresentationState
		if err := decode(msg.Payload, &req); err != nil {
			return errorReply(err)
		}
		st, err := r.SetPresentation(ctx, p, req)
		if err != nil {
			return errorReply(err)
		}
		return ReplyAck, st

	case MsgStartRecording:
		var req recordingRequest
		if err := decode(msg.Payload, &req); err != nil {
			return errorReply(err)
		}
		if req.WhiteboardID != "" && req.WhiteboardID != r.ID() {
			return errorReply(errBadPayload)
		}
		s, err := r.StartRecording(ctx, p, req.Title)
		if err != nil {
			return errorReply(err)
		}
		return ReplyRecordingStatus, s

	case MsgStopRecording:
		var req recordingRequest
		if err := decode(msg.Payload, &req); err != nil || req.SessionID == "" {
			return errorReply(errBadPayload)
		}
		s, err := r.StopRecording(ctx, p, req.SessionID)
		if s != nil && s.Status == recording.StatusErrored {
			// the session lists the frame ranges that were not stored
			return ReplyRecordingStatus, s
		}
		if err != nil {
			return errorReply(err)
		}
		return ReplyRecordingStatus, s

	case MsgAddAnnotation:
		var req annotationRequest
		if err := decode(msg.Payload, &req); err != nil {
			return errorReply(err)
		}
		if err := d.ownSession(ctx, r, req.SessionID); err != nil {
			return errorReply(err)
		}
		a, err := d.recorder.AddAnnotation(ctx, req.SessionID, p.ID, req.Text)
		if err != nil {
			return errorReply(err)
		}
		return ReplyAnnotationAdded, a

	case MsgRequestExport:
		var req exportRequest
		if err := decode(msg.Payload, &req); err != nil {
			return errorReply(err)
		}
		format, err := recording.ParseFormat(req.Format)
		if err != nil {
			return errorReply(err)
		}
		compression, err := recording.ParseCompression(req.Compression)
		if err != nil {
			return errorReply(err)
		}
		if err := d.ownSession(ctx, r, req.SessionID); err != nil {
			return errorReply(err)
		}
		job, err := d.recorder.RequestExport(ctx, req.SessionID, format, compression)
		if err != nil {
			return errorReply(err)
		}
		return ReplyExportStatus, ExportStatus{JobID: job.ID, Status: job.Status}

	case MsgModerate:
		var req moderateRequest
		if err := decode(msg.Payload, &req); err != nil {
			return errorReply(err)
		}
		decision, err := r.Moderate(ctx, p, req.ElementID, req.Action, req.Reason)
		if err != nil {
			return errorReply(err)
		}
		return ReplyModerationResult, decision
	}

	return ReplyError, ErrorPayload{Code: "unknown_type", Message: "unknown message type: " + msg.Type}
}

func (d *Dispatcher) submit(ctx context.Context, r *room.Room, p room.Participant, in board.Intent) MutationResult {
	mut, err := r.Submit(ctx, p, in)
	if err == nil {
		return MutationResult{Status: "applied", Seq: mut.Seq, Version: mut.Version, State: mut.State}
	}

	_, code := errorStatus(err)
	var conflict *board.ConflictError
	if errors.As(err, &conflict) {
		return MutationResult{
			Status:  "conflict",
			Version: conflict.CurrentVersion,
			State:   conflict.Current,
			Error:   &ErrorPayload{Code: code, Message: err.Error()},
		}
	}
	return MutationResult{Status: "error", Error: &ErrorPayload{Code: code, Message: err.Error()}}
}

// ownSession checks that a recording belongs to the room's whiteboard.
func (d *Dispatcher) ownSession(ctx context.Context, r *room.Room, sessionID string) error {
	if d.recorder == nil || sessionID == "" {
		return recording.ErrSessionNotFound
	}
	s, err := d.recorder.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.WhiteboardID != r.ID() {
		return recording.ErrSessionNotFound
	}
	return nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errBadPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errBadPayload
	}
	return nil
}

func errorReply(err error) (string, any) {
	_, code := errorStatus(err)
	if errors.Is(err, errBadPayload) {
		code = "invalid_request"
	}
	msg := err.Error()
	if code == "internal" {
		msg = "internal server error"
	}
	return ReplyError, ErrorPayload{Code: code, Message: msg}
}
