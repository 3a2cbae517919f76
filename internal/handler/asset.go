package handler

import (
	"context"
	"io"

	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/storage"
)

// AssetIndex records uploaded assets.
type AssetIndex interface {
	Save(ctx context.Context, a *storage.Asset) error
}

// AssetHandler 이미지 업로드 핸들러
type AssetHandler struct {
	assets *storage.Assets
	index  AssetIndex
	boards WhiteboardStore
}

// NewAssetHandler AssetHandler 생성
func NewAssetHandler(assets *storage.Assets, index AssetIndex, boards WhiteboardStore) *AssetHandler {
	return &AssetHandler{assets: assets, index: index, boards: boards}
}

// UploadAsset multipart 이미지 업로드 → 콘텐츠 주소(blake3:<hex>) 반환
func (h *AssetHandler) UploadAsset(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	if h.assets == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "asset storage is not configured",
		})
	}

	whiteboardID := c.Params("id")
	ctx := c.UserContext()
	if _, err := h.boards.Get(ctx, whiteboardID); err != nil {
		return respondError(c, err)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required")
	}
	if fh.Size > storage.MaxAssetSize {
		return respondError(c, storage.ErrAssetTooLarge)
	}

	f, err := fh.Open()
	if err != nil {
		return badRequest(c, "cannot read upload")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, storage.MaxAssetSize+1))
	if err != nil {
		return badRequest(c, "cannot read upload")
	}

	asset, err := h.assets.Upload(ctx, whiteboardID, claims.UserID, fh.Header.Get("Content-Type"), data)
	if err != nil {
		return respondError(c, err)
	}
	if h.index != nil {
		if err := h.index.Save(ctx, asset); err != nil {
			return respondError(c, err)
		}
	}
	return c.Status(fiber.StatusCreated).JSON(asset)
}
