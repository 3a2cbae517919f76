package service

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"whiteboard-backend/internal/board"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/moderation"
)

// ModerationService 검수 결정 이력 저장
type ModerationService struct {
	db *gorm.DB
}

// NewModerationService ModerationService 생성
func NewModerationService(db *gorm.DB) *ModerationService {
	return &ModerationService{db: db}
}

// RecordDecisions 결정 이력 추가 (append-only)
func (s *ModerationService) RecordDecisions(ctx context.Context, decisions []moderation.Decision) error {
	if len(decisions) == 0 {
		return nil
	}
	rows := make([]model.ModerationDecision, len(decisions))
	for i, d := range decisions {
		rows[i] = toDecisionModel(d)
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("record decisions: %w", err)
	}
	return nil
}

// History 요소의 결정 이력 조회 (오래된 순)
func (s *ModerationService) History(ctx context.Context, whiteboardID, elementID string) ([]moderation.Decision, error) {
	var rows []model.ModerationDecision
	err := s.db.WithContext(ctx).
		Where("whiteboard_id = ? AND element_id = ?", whiteboardID, elementID).
		Order("decided_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]moderation.Decision, len(rows))
	for i := range rows {
		out[i] = fromDecisionModel(rows[i])
	}
	return out, nil
}

func toDecisionModel(d moderation.Decision) model.ModerationDecision {
	row := model.ModerationDecision{
		WhiteboardID:   d.WhiteboardID,
		ElementID:      d.ElementID,
		Status:         string(d.Status),
		Previous:       string(d.Previous),
		Score:          d.Score,
		Reason:         d.Reason,
		Source:         string(d.Source),
		ContentVersion: int64(d.ContentVersion),
		DecidedAt:      d.DecidedAt,
	}
	if d.ModeratorID != "" {
		id := d.ModeratorID
		row.ModeratorID = &id
	}
	return row
}

func fromDecisionModel(row model.ModerationDecision) moderation.Decision {
	d := moderation.Decision{
		WhiteboardID:   row.WhiteboardID,
		ElementID:      row.ElementID,
		Status:         board.ModerationStatus(row.Status),
		Previous:       board.ModerationStatus(row.Previous),
		Score:          row.Score,
		Reason:         row.Reason,
		Source:         moderation.Source(row.Source),
		ContentVersion: uint64(row.ContentVersion),
		DecidedAt:      row.DecidedAt,
	}
	if row.ModeratorID != nil {
		d.ModeratorID = *row.ModeratorID
	}
	return d
}
