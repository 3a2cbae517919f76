package model

import (
	"time"
)

// Whiteboard 화이트보드 (요소 스냅샷은 JSONB로 저장)
type Whiteboard struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	RoomID    string    `gorm:"type:varchar(100);index" json:"room_id"`
	Title     string    `gorm:"type:varchar(200);not null" json:"title"`
	OwnerID   string    `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	Data      *string   `gorm:"type:jsonb" json:"-"` // []board.Element
	Seq       int64     `gorm:"not null;default:0" json:"seq"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Whiteboard) TableName() string {
	return "whiteboards"
}

// ModerationDecision 검수 결정 이력 (append-only)
type ModerationDecision struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	WhiteboardID   string    `gorm:"type:varchar(36);not null;index:idx_decision_element" json:"whiteboard_id"`
	ElementID      string    `gorm:"type:varchar(64);not null;index:idx_decision_element" json:"element_id"`
	Status         string    `gorm:"type:varchar(20);not null" json:"status"`
	Previous       string    `gorm:"type:varchar(20)" json:"previous"`
	Score          float64   `json:"score"`
	Reason         string    `gorm:"type:text" json:"reason"`
	Source         string    `gorm:"type:varchar(10);not null" json:"source"` // auto, manual
	ModeratorID    *string   `gorm:"type:varchar(64)" json:"moderator_id,omitempty"`
	ContentVersion int64     `json:"content_version"`
	DecidedAt      time.Time `gorm:"not null;index:idx_decision_element" json:"decided_at"`
}

func (ModerationDecision) TableName() string {
	return "moderation_decisions"
}

// Asset 업로드된 이미지 (콘텐츠 해시로 식별)
type Asset struct {
	Ref          string    `gorm:"type:varchar(80);primaryKey" json:"ref"`
	WhiteboardID string    `gorm:"type:varchar(36);primaryKey" json:"whiteboard_id"`
	ContentType  string    `gorm:"type:varchar(50);not null" json:"content_type"`
	Size         int64     `gorm:"not null" json:"size"`
	Key          string    `gorm:"type:text;not null" json:"key"`
	URL          string    `gorm:"type:text" json:"url"`
	UploadedBy   string    `gorm:"type:varchar(64)" json:"uploaded_by"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Asset) TableName() string {
	return "whiteboard_assets"
}
