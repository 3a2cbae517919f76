package model

import (
	"time"
)

// RecordingSession 녹화 세션
type RecordingSession struct {
	ID              string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	WhiteboardID    string     `gorm:"type:varchar(36);not null;index" json:"whiteboard_id"`
	Title           string     `gorm:"type:varchar(200)" json:"title"`
	StartedBy       string     `gorm:"type:varchar(64)" json:"started_by"`
	Status          string     `gorm:"type:varchar(20);not null;index" json:"status"` // ACTIVE, STOPPED, ERRORED
	StartedAt       time.Time  `gorm:"not null;index" json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Finalized       bool       `gorm:"default:false" json:"finalized"`
	LastSeq         int64      `json:"last_seq"`
	FlushedFrames   int64      `json:"flushed_frames"`
	MissingRanges   *string    `gorm:"type:jsonb" json:"missing_ranges,omitempty"`
	Error           string     `gorm:"type:text" json:"error,omitempty"`
	AnnotationCount int        `gorm:"default:0" json:"annotation_count"`
}

func (RecordingSession) TableName() string {
	return "recording_sessions"
}

// RecordingFrame 녹화 프레임 (스냅샷 또는 델타)
type RecordingFrame struct {
	SessionID string    `gorm:"type:varchar(36);primaryKey" json:"session_id"`
	Seq       int64     `gorm:"primaryKey;autoIncrement:false" json:"seq"`
	Kind      string    `gorm:"type:varchar(10);not null" json:"kind"` // snapshot, delta
	Timestamp time.Time `gorm:"not null" json:"timestamp"`
	Loss      bool      `gorm:"default:false" json:"loss"`
	LostFrom  *int64    `json:"lost_from,omitempty"`
	LostTo    *int64    `json:"lost_to,omitempty"`
	Payload   string    `gorm:"type:jsonb;not null" json:"payload"`
}

func (RecordingFrame) TableName() string {
	return "recording_frames"
}

// RecordingAnnotation 녹화 주석
type RecordingAnnotation struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID string    `gorm:"type:varchar(36);not null;index" json:"session_id"`
	AuthorID  string    `gorm:"type:varchar(64)" json:"author_id"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	AtSeq     int64     `json:"at_seq"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (RecordingAnnotation) TableName() string {
	return "recording_annotations"
}

// ExportJob 녹화 내보내기 작업
type ExportJob struct {
	ID          string    `gorm:"type:varchar(32);primaryKey" json:"id"`
	SessionID   string    `gorm:"type:varchar(36);not null;index" json:"session_id"`
	Format      string    `gorm:"type:varchar(10);not null" json:"format"`
	Compression string    `gorm:"type:varchar(10);not null" json:"compression"`
	Status      string    `gorm:"type:varchar(20);not null" json:"status"` // accepted, in_progress, ready, failed
	Error       string    `gorm:"type:text" json:"error,omitempty"`
	ArtifactKey string    `gorm:"type:text" json:"artifact_key,omitempty"`
	Size        int64     `json:"size"`
	Checksum    string    `gorm:"type:varchar(64)" json:"checksum,omitempty"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (ExportJob) TableName() string {
	return "export_jobs"
}
