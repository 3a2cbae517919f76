package service

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/storage"
)

// ErrAssetNotFound 에셋 없음
var ErrAssetNotFound = errors.New("asset not found")

// AssetService 업로드된 이미지 메타데이터 저장
type AssetService struct {
	db *gorm.DB
}

// NewAssetService AssetService 생성
func NewAssetService(db *gorm.DB) *AssetService {
	return &AssetService{db: db}
}

// Save 에셋 메타데이터 저장 (같은 내용 재업로드는 무시)
func (s *AssetService) Save(ctx context.Context, a *storage.Asset) error {
	row := model.Asset{
		Ref:          a.Ref,
		WhiteboardID: a.WhiteboardID,
		ContentType:  a.ContentType,
		Size:         a.Size,
		Key:          a.Key,
		URL:          a.URL,
		UploadedBy:   a.UploadedBy,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// Get 에셋 조회
func (s *AssetService) Get(ctx context.Context, whiteboardID, ref string) (*storage.Asset, error) {
	var row model.Asset
	err := s.db.WithContext(ctx).Where("whiteboard_id = ? AND ref = ?", whiteboardID, ref).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &storage.Asset{
		Ref:          row.Ref,
		WhiteboardID: row.WhiteboardID,
		ContentType:  row.ContentType,
		Size:         row.Size,
		Key:          row.Key,
		URL:          row.URL,
		UploadedBy:   row.UploadedBy,
	}, nil
}
