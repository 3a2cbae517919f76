package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/moderation"
	"whiteboard-backend/internal/room"
)

// DecisionHistory reads persisted moderation decisions.
type DecisionHistory interface {
	History(ctx context.Context, whiteboardID, elementID string) ([]moderation.Decision, error)
}

// ModerationHandler 콘텐츠 검수 핸들러
type ModerationHandler struct {
	hub      *room.Hub
	pipeline *moderation.Pipeline
	history  DecisionHistory
}

// NewModerationHandler ModerationHandler 생성
func NewModerationHandler(hub *room.Hub, pipeline *moderation.Pipeline, history DecisionHistory) *ModerationHandler {
	return &ModerationHandler{hub: hub, pipeline: pipeline, history: history}
}

// ModerateRequest 수동 검수 요청
type ModerateRequest struct {
	Action moderation.Action `json:"action"`
	Reason string            `json:"reason"`
}

// participantFromClaims 토큰 클레임 → 룸 참여자
func participantFromClaims(claims *auth.Claims) room.Participant {
	p := room.Participant{ID: claims.UserID, Nickname: claims.Nickname, Role: claims.Role}
	if !p.Role.Valid() {
		p.Role = auth.RoleMember
	}
	return p
}

// GetBacklog 수동 검수 대기 목록 (?whiteboardId= 로 필터)
func (h *ModerationHandler) GetBacklog(c *fiber.Ctx) error {
	items := h.pipeline.Backlog().List(c.Query("whiteboardId"))
	if items == nil {
		items = []moderation.ReviewItem{}
	}
	return c.JSON(fiber.Map{"items": items, "total": len(items)})
}

// ModerateElement 요소 승인/플래그/거절
func (h *ModerationHandler) ModerateElement(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req ModerateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	ctx := c.UserContext()
	r, err := h.hub.Room(ctx, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	decision, err := r.Moderate(ctx, participantFromClaims(claims), c.Params("elementId"), req.Action, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(decision)
}

// GetHistory 요소의 검수 이력. 열린 룸은 먼저 flush 해서 최신 결정까지 포함
func (h *ModerationHandler) GetHistory(c *fiber.Ctx) error {
	ctx := c.UserContext()
	whiteboardID := c.Params("id")
	elementID := c.Params("elementId")

	if r, ok := h.hub.Lookup(whiteboardID); ok {
		if h.history == nil {
			decisions, err := r.History(ctx, elementID)
			if err != nil {
				return respondError(c, err)
			}
			return c.JSON(fiber.Map{"decisions": orEmpty(decisions)})
		}
		if err := r.Flush(ctx); err != nil {
			return respondError(c, err)
		}
	}
	if h.history == nil {
		return c.JSON(fiber.Map{"decisions": []moderation.Decision{}})
	}

	decisions, err := h.history.History(ctx, whiteboardID, elementID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"decisions": orEmpty(decisions)})
}

func orEmpty(d []moderation.Decision) []moderation.Decision {
	if d == nil {
		return []moderation.Decision{}
	}
	return d
}
