package handler

import (
	"context"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/recording"
	"whiteboard-backend/internal/storage"
)

// RecordingHandler 녹화 조회/주석/내보내기 핸들러
type RecordingHandler struct {
	recorder  *recording.Manager
	presigner ArtifactPresigner
}

// ArtifactPresigner issues time-limited download links for stored artifacts.
type ArtifactPresigner interface {
	GenerateDownloadURL(ctx context.Context, key string) (*storage.PresignedURL, error)
}

// NewRecordingHandler RecordingHandler 생성
func NewRecordingHandler(recorder *recording.Manager) *RecordingHandler {
	return &RecordingHandler{recorder: recorder}
}

// WithPresigner 준비된 내보내기 결과에 서명 URL 포함
func (h *RecordingHandler) WithPresigner(p ArtifactPresigner) *RecordingHandler {
	h.presigner = p
	return h
}

// ExportJobResponse 내보내기 작업 상태
type ExportJobResponse struct {
	*recording.ExportJob
	Download *storage.PresignedURL `json:"download,omitempty"`
}

// ExportRequest 내보내기 요청
type ExportRequest struct {
	Format      string `json:"format"`
	Compression string `json:"compression"`
}

// AnnotationRequest 주석 추가 요청
type AnnotationRequest struct {
	Text string `json:"text"`
}

// RecordingDetail 녹화 + 주석
type RecordingDetail struct {
	*recording.Session
	Annotations []recording.Annotation `json:"annotations"`
}

// SearchRecordings 녹화 목록/검색
// GET /api/recordings?whiteboardId=&status=&q=&limit=&offset=
func (h *RecordingHandler) SearchRecordings(c *fiber.Ctx) error {
	q := recording.Query{
		WhiteboardID: c.Query("whiteboardId"),
		Status:       recording.Status(c.Query("status")),
		Text:         c.Query("q"),
		Limit:        c.QueryInt("limit", 20),
		Offset:       c.QueryInt("offset", 0),
	}
	if q.Offset < 0 {
		return badRequest(c, "offset must not be negative")
	}

	sessions, total, err := h.recorder.Search(c.UserContext(), q)
	if err != nil {
		return respondError(c, err)
	}
	if sessions == nil {
		sessions = []recording.Session{}
	}
	return c.JSON(fiber.Map{"items": sessions, "total": total})
}

// GetRecording 녹화 상세 조회
func (h *RecordingHandler) GetRecording(c *fiber.Ctx) error {
	ctx := c.UserContext()
	s, err := h.recorder.Get(ctx, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	annotations, err := h.recorder.Annotations(ctx, s.ID)
	if err != nil {
		return respondError(c, err)
	}
	if annotations == nil {
		annotations = []recording.Annotation{}
	}
	return c.JSON(RecordingDetail{Session: s, Annotations: annotations})
}

// AddAnnotation 녹화에 주석 추가
func (h *RecordingHandler) AddAnnotation(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req AnnotationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	a, err := h.recorder.AddAnnotation(c.UserContext(), c.Params("id"), claims.UserID, req.Text)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(a)
}

// RequestExport 비동기 내보내기 작업 생성
func (h *RecordingHandler) RequestExport(c *fiber.Ctx) error {
	var req ExportRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	format, err := recording.ParseFormat(req.Format)
	if err != nil {
		return respondError(c, err)
	}
	compression, err := recording.ParseCompression(req.Compression)
	if err != nil {
		return respondError(c, err)
	}

	job, err := h.recorder.RequestExport(c.UserContext(), c.Params("id"), format, compression)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(job)
}

// GetExportJob 내보내기 작업 상태
func (h *RecordingHandler) GetExportJob(c *fiber.Ctx) error {
	job, err := h.recorder.Job(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return respondError(c, err)
	}

	resp := ExportJobResponse{ExportJob: job}
	if h.presigner != nil && job.Status == recording.JobReady && job.ArtifactKey != "" {
		link, err := h.presigner.GenerateDownloadURL(c.UserContext(), job.ArtifactKey)
		if err != nil {
			log.Printf("[Recording] presign %s failed: %v", job.ArtifactKey, err)
		} else {
			resp.Download = link
		}
	}
	return c.JSON(resp)
}

// DownloadArtifact 완료된 내보내기 결과 다운로드
func (h *RecordingHandler) DownloadArtifact(c *fiber.Ctx) error {
	data, job, err := h.recorder.Artifact(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return respondError(c, err)
	}

	filename := fmt.Sprintf("recording-%s%s", job.SessionID, recording.Extension(job.Format, job.Compression))
	c.Set(fiber.HeaderContentType, recording.ContentType(job.Format, job.Compression))
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	if job.Checksum != "" {
		c.Set(fiber.HeaderETag, `"`+job.Checksum+`"`)
	}
	return c.Send(data)
}

// RetryExport 실패한 내보내기 재시도
func (h *RecordingHandler) RetryExport(c *fiber.Ctx) error {
	job, err := h.recorder.RetryExport(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(job)
}
