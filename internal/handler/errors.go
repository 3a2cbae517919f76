package handler

import (
	"context"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/board"
	"whiteboard-backend/internal/moderation"
	"whiteboard-backend/internal/recording"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/service"
	"whiteboard-backend/internal/storage"
)

// errorStatus maps a domain error to an HTTP status and a stable code shared with the
// WebSocket error payload.
func errorStatus(err error) (int, string) {
	var conflict *board.ConflictError
	switch {
	case errors.As(err, &conflict):
		return fiber.StatusConflict, "conflict"
	case errors.Is(err, room.ErrForbidden):
		return fiber.StatusForbidden, "forbidden"
	case errors.Is(err, room.ErrEditingLocked):
		return fiber.StatusLocked, "editing_locked"
	case errors.Is(err, board.ErrElementRejected):
		return fiber.StatusConflict, "element_rejected"
	case errors.Is(err, board.ErrInvalidElement),
		errors.Is(err, board.ErrInvalidIntent),
		errors.Is(err, moderation.ErrInvalidAction),
		errors.Is(err, recording.ErrInvalidAnnotation),
		errors.Is(err, recording.ErrUnsupportedFormat),
		errors.Is(err, service.ErrInvalidTitle),
		errors.Is(err, room.ErrPresenterMissing):
		return fiber.StatusBadRequest, "invalid_request"
	case errors.Is(err, storage.ErrUnsupportedType), errors.Is(err, storage.ErrEmptyAsset):
		return fiber.StatusUnsupportedMediaType, "unsupported_asset"
	case errors.Is(err, storage.ErrAssetTooLarge):
		return fiber.StatusRequestEntityTooLarge, "asset_too_large"
	case errors.Is(err, moderation.ErrInvalidTransition):
		return fiber.StatusConflict, "invalid_transition"
	case errors.Is(err, moderation.ErrStaleDecision):
		return fiber.StatusConflict, "stale_decision"
	case errors.Is(err, recording.ErrFlushFailed):
		return fiber.StatusServiceUnavailable, "recording_errored"
	case errors.Is(err, recording.ErrAlreadyActive):
		return fiber.StatusConflict, "recording_active"
	case errors.Is(err, recording.ErrSessionActive),
		errors.Is(err, recording.ErrNotActive),
		errors.Is(err, recording.ErrAnnotationsClosed),
		errors.Is(err, recording.ErrJobNotRetryable),
		errors.Is(err, recording.ErrJobNotReady):
		return fiber.StatusConflict, "invalid_state"
	case errors.Is(err, service.ErrWhiteboardNotFound),
		errors.Is(err, service.ErrAssetNotFound),
		errors.Is(err, moderation.ErrUnknownElement),
		errors.Is(err, board.ErrElementNotFound),
		errors.Is(err, recording.ErrSessionNotFound),
		errors.Is(err, recording.ErrJobNotFound),
		errors.Is(err, recording.ErrArtifactNotFound),
		errors.Is(err, storage.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, room.ErrRoomClosed), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable, "unavailable"
	}
	return fiber.StatusInternalServerError, "internal"
}

// respondError writes the JSON error body used by every REST handler.
func respondError(c *fiber.Ctx, err error) error {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		log.Printf("[HTTP] %s %s failed: %v", c.Method(), c.Path(), err)
		msg = "internal server error"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"code":  code,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"code":  "invalid_request",
	})
}
