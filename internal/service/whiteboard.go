package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"whiteboard-backend/internal/board"
	"whiteboard-backend/internal/model"
)

var (
	ErrWhiteboardNotFound = errors.New("whiteboard not found")
	ErrInvalidTitle       = errors.New("title is required")
)

// WhiteboardService 화이트보드 메타데이터와 요소 스냅샷 저장
type WhiteboardService struct {
	db *gorm.DB
}

// NewWhiteboardService WhiteboardService 생성
func NewWhiteboardService(db *gorm.DB) *WhiteboardService {
	return &WhiteboardService{db: db}
}

// Create 화이트보드 생성
func (s *WhiteboardService) Create(ctx context.Context, title, roomID, ownerID string) (*model.Whiteboard, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrInvalidTitle
	}

	empty := "[]"
	wb := &model.Whiteboard{
		ID:      uuid.New().String(),
		RoomID:  roomID,
		Title:   title,
		OwnerID: ownerID,
		Data:    &empty,
	}
	if err := s.db.WithContext(ctx).Create(wb).Error; err != nil {
		return nil, fmt.Errorf("create whiteboard: %w", err)
	}
	return wb, nil
}

// Get 화이트보드 조회
func (s *WhiteboardService) Get(ctx context.Context, id string) (*model.Whiteboard, error) {
	var wb model.Whiteboard
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&wb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWhiteboardNotFound
	}
	if err != nil {
		return nil, err
	}
	return &wb, nil
}

// UpdateTitle 화이트보드 제목 변경
func (s *WhiteboardService) UpdateTitle(ctx context.Context, id, title string) (*model.Whiteboard, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrInvalidTitle
	}

	res := s.db.WithContext(ctx).Model(&model.Whiteboard{}).Where("id = ?", id).Update("title", title)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrWhiteboardNotFound
	}
	return s.Get(ctx, id)
}

// SaveSnapshot 요소 스냅샷 저장 (룸의 write-behind에서 호출)
// 더 오래된 seq로 덮어쓰지 않는다
func (s *WhiteboardService) SaveSnapshot(ctx context.Context, id string, elements []board.Element, seq uint64) error {
	data, err := encodeElements(elements)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(&model.Whiteboard{}).
		Where("id = ? AND seq <= ?", id, int64(seq)).
		Updates(map[string]any{"data": data, "seq": int64(seq)})
	if res.Error != nil {
		return fmt.Errorf("save snapshot of %s: %w", id, res.Error)
	}
	return nil
}

// LoadSnapshot 화이트보드와 저장된 요소 스냅샷 조회
func (s *WhiteboardService) LoadSnapshot(ctx context.Context, id string) (*model.Whiteboard, []board.Element, error) {
	wb, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	elements, err := decodeElements(wb.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("decode snapshot of %s: %w", id, err)
	}
	return wb, elements, nil
}

func encodeElements(elements []board.Element) (string, error) {
	if elements == nil {
		elements = []board.Element{}
	}
	data, err := json.Marshal(elements)
	if err != nil {
		return "", fmt.Errorf("encode elements: %w", err)
	}
	return string(data), nil
}

func decodeElements(data *string) ([]board.Element, error) {
	if data == nil || *data == "" {
		return nil, nil
	}
	var elements []board.Element
	if err := json.Unmarshal([]byte(*data), &elements); err != nil {
		return nil, err
	}
	return elements, nil
}
