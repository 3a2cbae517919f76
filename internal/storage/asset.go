package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// MaxAssetSize 이미지 에셋 최대 크기 (10MB)
const MaxAssetSize = 10 << 20

var (
	ErrUnsupportedType = errors.New("unsupported asset type")
	ErrAssetTooLarge   = errors.New("asset too large")
	ErrEmptyAsset      = errors.New("empty asset")
)

var imageExtensions = map[string]string{
	"image/png":     "png",
	"image/jpeg":    "jpg",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/svg+xml": "svg",
}

// Asset is an uploaded image, addressed by the hash of its bytes.
type Asset struct {
	Ref          string `json:"ref"`
	WhiteboardID string `json:"whiteboardId"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
	Key          string `json:"key"`
	URL          string `json:"url"`
	UploadedBy   string `json:"uploadedBy"`
}

// ContentRef returns the content address of data, "blake3:<hex>".
func ContentRef(data []byte) string {
	sum := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(sum[:])
}

// AssetKey returns the object key of an asset. Identical bytes map to the same key.
func AssetKey(whiteboardID, ref, contentType string) string {
	return fmt.Sprintf("assets/%s/%s.%s", whiteboardID, strings.TrimPrefix(ref, "blake3:"), imageExtensions[contentType])
}

// Assets uploads whiteboard images into an object store.
type Assets struct {
	store ObjectStore
}

// NewAssets 에셋 업로더 생성
func NewAssets(store ObjectStore) *Assets {
	return &Assets{store: store}
}

// Upload validates and stores an image. Uploading the same bytes twice yields the same ref.
func (a *Assets) Upload(ctx context.Context, whiteboardID, uploadedBy, contentType string, data []byte) (*Asset, error) {
	contentType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if _, ok := imageExtensions[contentType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	if len(data) == 0 {
		return nil, ErrEmptyAsset
	}
	if len(data) > MaxAssetSize {
		return nil, ErrAssetTooLarge
	}

	ref := ContentRef(data)
	key := AssetKey(whiteboardID, ref, contentType)
	if err := a.store.PutObject(ctx, key, contentType, data); err != nil {
		return nil, err
	}

	return &Asset{
		Ref:          ref,
		WhiteboardID: whiteboardID,
		ContentType:  contentType,
		Size:         int64(len(data)),
		Key:          key,
		URL:          a.store.URL(key),
		UploadedBy:   uploadedBy,
	}, nil
}
