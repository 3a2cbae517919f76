package recording

import (
	"context"
	"errors"
	"time"

	"whiteboard-backend/internal/board"
)

var (
	ErrAlreadyActive     = errors.New("a recording is already active for this whiteboard")
	ErrSessionNotFound   = errors.New("recording session not found")
	ErrNotActive         = errors.New("recording session is not active")
	ErrSessionActive     = errors.New("recording session is still active")
	ErrAnnotationsClosed = errors.New("recording session no longer accepts annotations")
	ErrInvalidAnnotation = errors.New("invalid annotation")
	ErrFlushFailed       = errors.New("recording flush failed")
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrJobNotFound       = errors.New("export job not found")
	ErrJobNotRetryable   = errors.New("export job is not in a retryable state")
	ErrJobNotReady       = errors.New("export artifact is not ready")
	ErrArtifactNotFound  = errors.New("export artifact not found")
)

// Status 녹화 세션 상태
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusStopped Status = "STOPPED"
	StatusErrored Status = "ERRORED"
)

// FrameKind 프레임 종류
type FrameKind string

const (
	FrameSnapshot FrameKind = "snapshot"
	FrameDelta    FrameKind = "delta"
)

// Range is an inclusive span of frame sequence numbers.
type Range struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Frame is one entry of a recording timeline. Snapshot frames carry the full element
// set; delta frames carry one accepted mutation. A frame with Loss set follows a gap and
// names the sequence numbers that were not captured.
type Frame struct {
	SessionID string                 `json:"sessionId"`
	Seq       uint64                 `json:"seq"`
	Kind      FrameKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	Mutation  *board.AppliedMutation `json:"mutation,omitempty"`
	Elements  []board.Element        `json:"elements,omitempty"`
	Loss      bool                   `json:"loss,omitempty"`
	Lost      *Range                 `json:"lost,omitempty"`
}

// Session is the metadata of one recording.
type Session struct {
	ID              string     `json:"id"`
	WhiteboardID    string     `json:"whiteboardId"`
	Title           string     `json:"title"`
	StartedBy       string     `json:"startedBy"`
	Status          Status     `json:"status"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	Finalized       bool       `json:"finalized"`
	LastSeq         uint64     `json:"lastSeq"`
	FlushedFrames   uint64     `json:"flushedFrames"`
	MissingRanges   []Range    `json:"missingRanges,omitempty"`
	Error           string     `json:"error,omitempty"`
	AnnotationCount int        `json:"annotationCount"`
}

// Annotation is a reviewer note attached to a point of the timeline.
type Annotation struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	AtSeq     uint64    `json:"atSeq"`
	CreatedAt time.Time `json:"createdAt"`
}

// Query filters recordings for listing and search.
type Query struct {
	WhiteboardID string
	Status       Status
	Text         string
	Limit        int
	Offset       int
}

// JobStatus 내보내기 작업 상태
type JobStatus string

const (
	JobAccepted   JobStatus = "accepted"
	JobInProgress JobStatus = "in_progress"
	JobReady      JobStatus = "ready"
	JobFailed     JobStatus = "failed"
)

// ExportJob tracks the asynchronous production of an export artifact.
type ExportJob struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"sessionId"`
	Format      Format      `json:"format"`
	Compression Compression `json:"compression"`
	Status      JobStatus   `json:"status"`
	Error       string      `json:"error,omitempty"`
	ArtifactKey string      `json:"artifactKey,omitempty"`
	Size        int64       `json:"size,omitempty"`
	Checksum    string      `json:"checksum,omitempty"`
	Attempts    int         `json:"attempts"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// FrameStore persists timeline frames. AppendFrames must be all-or-nothing.
type FrameStore interface {
	AppendFrames(ctx context.Context, sessionID string, frames []Frame) error
	Frames(ctx context.Context, sessionID string) ([]Frame, error)
}

// SessionStore persists recording metadata and annotations.
type SessionStore interface {
	SaveSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	SearchSessions(ctx context.Context, q Query) ([]Session, int64, error)
	AddAnnotation(ctx context.Context, a Annotation) error
	Annotations(ctx context.Context, sessionID string) ([]Annotation, error)
}

// JobStore persists export jobs.
type JobStore interface {
	SaveJob(ctx context.Context, j *ExportJob) error
	GetJob(ctx context.Context, id string) (*ExportJob, error)
}

// ArtifactStore holds finished export artifacts.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, key, contentType string, data []byte) error
	GetArtifact(ctx context.Context, key string) ([]byte, error)
}
