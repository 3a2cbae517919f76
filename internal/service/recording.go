package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"whiteboard-backend/internal/board"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/recording"
)

// RecordingService 녹화 세션/프레임/주석/내보내기 작업의 PostgreSQL 저장소
type RecordingService struct {
	db *gorm.DB
}

// NewRecordingService RecordingService 생성
func NewRecordingService(db *gorm.DB) *RecordingService {
	return &RecordingService{db: db}
}

// =============================================================================
// Frames
// =============================================================================

// AppendFrames 프레임 배치 저장 (트랜잭션 단위)
func (s *RecordingService) AppendFrames(ctx context.Context, sessionID string, frames []recording.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	rows := make([]model.RecordingFrame, len(frames))
	for i := range frames {
		row, err := toFrameModel(sessionID, &frames[i])
		if err != nil {
			return err
		}
		rows[i] = row
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&rows, 200).Error
	})
}

// Frames 세션의 모든 프레임 조회 (seq 순)
func (s *RecordingService) Frames(ctx context.Context, sessionID string) ([]recording.Frame, error) {
	var rows []model.RecordingFrame
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	frames := make([]recording.Frame, len(rows))
	for i := range rows {
		f, err := fromFrameModel(&rows[i])
		if err != nil {
			return nil, err
		}
		frames[i] = f
	}
	return frames, nil
}

func toFrameModel(sessionID string, f *recording.Frame) (model.RecordingFrame, error) {
	var (
		payload []byte
		err     error
	)
	if f.Kind == recording.FrameSnapshot {
		elements := f.Elements
		if elements == nil {
			elements = []board.Element{}
		}
		payload, err = json.Marshal(elements)
	} else {
		payload, err = json.Marshal(f.Mutation)
	}
	if err != nil {
		return model.RecordingFrame{}, fmt.Errorf("encode frame %d: %w", f.Seq, err)
	}

	row := model.RecordingFrame{
		SessionID: sessionID,
		Seq:       int64(f.Seq),
		Kind:      string(f.Kind),
		Timestamp: f.Timestamp,
		Loss:      f.Loss,
		Payload:   string(payload),
	}
	if f.Lost != nil {
		from, to := int64(f.Lost.From), int64(f.Lost.To)
		row.LostFrom, row.LostTo = &from, &to
	}
	return row, nil
}

func fromFrameModel(row *model.RecordingFrame) (recording.Frame, error) {
	f := recording.Frame{
		SessionID: row.SessionID,
		Seq:       uint64(row.Seq),
		Kind:      recording.FrameKind(row.Kind),
		Timestamp: row.Timestamp,
		Loss:      row.Loss,
	}
	if row.LostFrom != nil && row.LostTo != nil {
		f.Lost = &recording.Range{From: uint64(*row.LostFrom), To: uint64(*row.LostTo)}
	}

	var err error
	if f.Kind == recording.FrameSnapshot {
		err = json.Unmarshal([]byte(row.Payload), &f.Elements)
	} else {
		f.Mutation = &board.AppliedMutation{}
		err = json.Unmarshal([]byte(row.Payload), f.Mutation)
	}
	if err != nil {
		return recording.Frame{}, fmt.Errorf("decode frame %d of %s: %w", row.Seq, row.SessionID, err)
	}
	return f, nil
}

// =============================================================================
// Sessions & annotations
// =============================================================================

// SaveSession 세션 메타데이터 저장 (upsert)
func (s *RecordingService) SaveSession(ctx context.Context, sess *recording.Session) error {
	row, err := toSessionModel(sess)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// GetSession 세션 조회
func (s *RecordingService) GetSession(ctx context.Context, id string) (*recording.Session, error) {
	var row model.RecordingSession
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, recording.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromSessionModel(&row)
}

// SearchSessions 세션 검색 (화이트보드, 상태, 제목/주석 텍스트)
func (s *RecordingService) SearchSessions(ctx context.Context, q recording.Query) ([]recording.Session, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.RecordingSession{})
	if q.WhiteboardID != "" {
		query = query.Where("whiteboard_id = ?", q.WhiteboardID)
	}
	if q.Status != "" {
		query = query.Where("status = ?", string(q.Status))
	}
	if text := strings.TrimSpace(q.Text); text != "" {
		pattern := "%" + escapeLike(text) + "%"
		query = query.Where(
			"title ILIKE ? OR EXISTS (SELECT 1 FROM recording_annotations a WHERE a.session_id = recording_sessions.id AND a.text ILIKE ?)",
			pattern, pattern,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []model.RecordingSession
	err := query.Order("started_at DESC, id ASC").Limit(q.Limit).Offset(q.Offset).Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	out := make([]recording.Session, 0, len(rows))
	for i := range rows {
		sess, err := fromSessionModel(&rows[i])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *sess)
	}
	return out, total, nil
}

// AddAnnotation 주석 추가 및 세션 카운트 증가
func (s *RecordingService) AddAnnotation(ctx context.Context, a recording.Annotation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := model.RecordingAnnotation{
			ID:        a.ID,
			SessionID: a.SessionID,
			AuthorID:  a.AuthorID,
			Text:      a.Text,
			AtSeq:     int64(a.AtSeq),
			CreatedAt: a.CreatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&model.RecordingSession{}).Where("id = ?", a.SessionID).
			UpdateColumn("annotation_count", gorm.Expr("annotation_count + 1")).Error
	})
}

// Annotations 세션의 주석 조회
func (s *RecordingService) Annotations(ctx context.Context, sessionID string) ([]recording.Annotation, error) {
	var rows []model.RecordingAnnotation
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at ASC, id ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]recording.Annotation, len(rows))
	for i, r := range rows {
		out[i] = recording.Annotation{
			ID:        r.ID,
			SessionID: r.SessionID,
			AuthorID:  r.AuthorID,
			Text:      r.Text,
			AtSeq:     uint64(r.AtSeq),
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

func toSessionModel(s *recording.Session) (model.RecordingSession, error) {
	row := model.RecordingSession{
		ID:              s.ID,
		WhiteboardID:    s.WhiteboardID,
		Title:           s.Title,
		StartedBy:       s.StartedBy,
		Status:          string(s.Status),
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		Finalized:       s.Finalized,
		LastSeq:         int64(s.LastSeq),
		FlushedFrames:   int64(s.FlushedFrames),
		Error:           s.Error,
		AnnotationCount: s.AnnotationCount,
	}
	if len(s.MissingRanges) > 0 {
		data, err := json.Marshal(s.MissingRanges)
		if err != nil {
			return row, err
		}
		ranges := string(data)
		row.MissingRanges = &ranges
	}
	return row, nil
}

func fromSessionModel(row *model.RecordingSession) (*recording.Session, error) {
	s := &recording.Session{
		ID:              row.ID,
		WhiteboardID:    row.WhiteboardID,
		Title:           row.Title,
		StartedBy:       row.StartedBy,
		Status:          recording.Status(row.Status),
		StartedAt:       row.StartedAt,
		EndedAt:         row.EndedAt,
		Finalized:       row.Finalized,
		LastSeq:         uint64(row.LastSeq),
		FlushedFrames:   uint64(row.FlushedFrames),
		Error:           row.Error,
		AnnotationCount: row.AnnotationCount,
	}
	if row.MissingRanges != nil && *row.MissingRanges != "" {
		if err := json.Unmarshal([]byte(*row.MissingRanges), &s.MissingRanges); err != nil {
			return nil, fmt.Errorf("decode missing ranges of %s: %w", row.ID, err)
		}
	}
	return s, nil
}

// =============================================================================
// Export jobs
// =============================================================================

// SaveJob 내보내기 작업 저장 (upsert)
func (s *RecordingService) SaveJob(ctx context.Context, j *recording.ExportJob) error {
	row := model.ExportJob{
		ID:          j.ID,
		SessionID:   j.SessionID,
		Format:      string(j.Format),
		Compression: string(j.Compression),
		Status:      string(j.Status),
		Error:       j.Error,
		ArtifactKey: j.ArtifactKey,
		Size:        j.Size,
		Checksum:    j.Checksum,
		Attempts:    j.Attempts,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// GetJob 내보내기 작업 조회
func (s *RecordingService) GetJob(ctx context.Context, id string) (*recording.ExportJob, error) {
	var row model.ExportJob
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, recording.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &recording.ExportJob{
		ID:          row.ID,
		SessionID:   row.SessionID,
		Format:      recording.Format(row.Format),
		Compression: recording.Compression(row.Compression),
		Status:      recording.JobStatus(row.Status),
		Error:       row.Error,
		ArtifactKey: row.ArtifactKey,
		Size:        row.Size,
		Checksum:    row.Checksum,
		Attempts:    row.Attempts,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
