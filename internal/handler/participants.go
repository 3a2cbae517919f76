package handler

import (
	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/presence"
)

// ParticipantHandler 참여자 목록 핸들러
type ParticipantHandler struct {
	presence *presence.Manager
}

// NewParticipantHandler ParticipantHandler 생성
func NewParticipantHandler(pm *presence.Manager) *ParticipantHandler {
	return &ParticipantHandler{presence: pm}
}

// ListParticipants 화이트보드 접속자 목록
func (h *ParticipantHandler) ListParticipants(c *fiber.Ctx) error {
	if h.presence == nil {
		return c.JSON(fiber.Map{"participants": []presence.Data{}})
	}

	list, err := h.presence.List(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	if list == nil {
		list = []presence.Data{}
	}
	return c.JSON(fiber.Map{"participants": list})
}
