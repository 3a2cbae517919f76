package model

// StorageBackend 에셋/내보내기 파일 저장소
type StorageBackend string

const (
	StorageS3    StorageBackend = "s3"
	StorageLocal StorageBackend = "local"
)

func (s StorageBackend) String() string {
	return string(s)
}

// FrameStoreKind 녹화 프레임 저장소
type FrameStoreKind string

const (
	FrameStorePostgres FrameStoreKind = "postgres"
	FrameStoreRedis    FrameStoreKind = "redis"
)

func (f FrameStoreKind) String() string {
	return string(f)
}

// All 마이그레이션 대상 모델 목록
func All() []any {
	return []any{
		&Whiteboard{},
		&ModerationDecision{},
		&Asset{},
		&RecordingSession{},
		&RecordingFrame{},
		&RecordingAnnotation{},
		&ExportJob{},
	}
}
