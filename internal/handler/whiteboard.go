package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/board"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/room"
)

// WhiteboardStore is the persistence the whiteboard endpoints need.
type WhiteboardStore interface {
	Create(ctx context.Context, title, roomID, ownerID string) (*model.Whiteboard, error)
	Get(ctx context.Context, id string) (*model.Whiteboard, error)
	UpdateTitle(ctx context.Context, id, title string) (*model.Whiteboard, error)
	LoadSnapshot(ctx context.Context, id string) (*model.Whiteboard, []board.Element, error)
}

// WhiteboardHandler 화이트보드 REST 핸들러
type WhiteboardHandler struct {
	store WhiteboardStore
	hub   *room.Hub
}

// NewWhiteboardHandler WhiteboardHandler 생성
func NewWhiteboardHandler(store WhiteboardStore, hub *room.Hub) *WhiteboardHandler {
	return &WhiteboardHandler{store: store, hub: hub}
}

// CreateWhiteboardRequest 화이트보드 생성 요청
type CreateWhiteboardRequest struct {
	Title  string `json:"title"`
	RoomID string `json:"roomId"`
}

// UpdateWhiteboardRequest 화이트보드 수정 요청
type UpdateWhiteboardRequest struct {
	Title string `json:"title"`
}

// WhiteboardResponse 화이트보드 + 현재 요소
type WhiteboardResponse struct {
	Whiteboard   *model.Whiteboard       `json:"whiteboard"`
	Seq          uint64                  `json:"seq"`
	Elements     []board.Element         `json:"elements"`
	Presentation *room.PresentationState `json:"presentation,omitempty"`
	Live         bool                    `json:"live"`
}

// CreateWhiteboard 화이트보드 생성
func (h *WhiteboardHandler) CreateWhiteboard(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req CreateWhiteboardRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	wb, err := h.store.Create(c.UserContext(), req.Title, req.RoomID, claims.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(wb)
}

// GetWhiteboard 화이트보드 조회. 룸이 열려 있으면 실시간 상태를 반환
func (h *WhiteboardHandler) GetWhiteboard(c *fiber.Ctx) error {
	id := c.Params("id")
	ctx := c.UserContext()

	if h.hub != nil {
		if r, ok := h.hub.Lookup(id); ok {
			wb, err := h.store.Get(ctx, id)
			if err != nil {
				return respondError(c, err)
			}
			snap, err := r.Snapshot(ctx)
			if err != nil {
				return respondError(c, err)
			}
			return c.JSON(WhiteboardResponse{
				Whiteboard:   wb,
				Seq:          snap.Seq,
				Elements:     snap.Elements,
				Presentation: &snap.Presentation,
				Live:         true,
			})
		}
	}

	wb, elements, err := h.store.LoadSnapshot(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	if elements == nil {
		elements = []board.Element{}
	}
	return c.JSON(WhiteboardResponse{Whiteboard: wb, Seq: uint64(wb.Seq), Elements: elements})
}

// UpdateWhiteboard 화이트보드 제목 변경 (소유자 또는 호스트)
func (h *WhiteboardHandler) UpdateWhiteboard(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req UpdateWhiteboardRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	id := c.Params("id")
	wb, err := h.store.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	if wb.OwnerID != claims.UserID && !claims.Role.CanHost() {
		return respondError(c, room.ErrForbidden)
	}

	updated, err := h.store.UpdateTitle(c.UserContext(), id, req.Title)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(updated)
}
