package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 애플리케이션 전체 설정
type Config struct {
	Server     ServerConfig
	WebSocket  WebSocketConfig
	CORS       CORSConfig
	Auth       AuthConfig
	S3         S3Config
	Redis      RedisConfig
	Room       RoomConfig
	Moderation ModerationConfig
	Presence   PresenceConfig
	Recording  RecordingConfig
	Storage    StorageConfig
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	BodyLimit       int
	RateLimit       int
	ShutdownTimeout time.Duration
}

// WebSocketConfig WebSocket 관련 설정
type WebSocketConfig struct {
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	Compression      bool
}

// CORSConfig CORS 설정
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// AuthConfig 인증 설정
type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
}

// S3Config AWS S3 설정
type S3Config struct {
	Region          string
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	PresignExpiry   time.Duration
}

// RedisConfig Redis 설정
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RoomConfig 화이트보드 룸 설정
type RoomConfig struct {
	SubscriberBuffer int
	InboxSize        int
	SnapshotInterval time.Duration
	IdleTimeout      time.Duration
}

// ModerationConfig 콘텐츠 검수 설정
type ModerationConfig struct {
	Threshold     float64
	Workers       int
	QueueSize     int
	Timeout       time.Duration
	PolicyFile    string
	ClassifierURL string
}

// PresenceConfig 커서/참여자 상태 설정
type PresenceConfig struct {
	CursorInterval time.Duration
	TTL            time.Duration
	Heartbeat      time.Duration
}

// RecordingConfig 녹화 설정
type RecordingConfig struct {
	FlushInterval   time.Duration
	FlushBatch      int
	SnapshotEvery   int
	MaxBuffered     int
	AnnotationGrace time.Duration
	FlushAttempts   int
	RetryBackoff    time.Duration
	ExportWorkers   int
	FrameTTL        time.Duration
}

// StorageConfig 저장소 백엔드 선택
type StorageConfig struct {
	Backend    string // s3 | local
	LocalRoot  string
	PublicURL  string
	FrameStore string // postgres | redis
}

// Load 환경 변수에서 설정 로드
func Load() *Config {
	// .env 파일 로드 (없어도 에러 무시)
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using environment variables")
	}

	// 필수 환경 변수 검증
	jwtSecret := getRequiredEnv("JWT_SECRET")
	if jwtSecret == "change-this-secret-in-production" {
		log.Fatal("🚨 CRITICAL: JWT_SECRET must be changed from default value in production!")
	}

	return build(jwtSecret)
}

func build(jwtSecret string) *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", ":8080"),
			ReadTimeout:     getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getDuration("IDLE_TIMEOUT", 120*time.Second),
			BodyLimit:       getInt("BODY_LIMIT", 12*1024*1024),
			RateLimit:       getInt("RATE_LIMIT_PER_MINUTE", 300),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:   getInt("WS_READ_BUFFER_SIZE", 16*1024),
			WriteBufferSize:  getInt("WS_WRITE_BUFFER_SIZE", 16*1024),
			HandshakeTimeout: getDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
			WriteTimeout:     getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
			PingInterval:     getDuration("WS_PING_INTERVAL", 30*time.Second),
			Compression:      getBool("WS_COMPRESSION", false),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept, Authorization"),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getDuration("ACCESS_TOKEN_EXPIRY", 1*time.Hour),
		},
		S3: S3Config{
			Region:          getEnv("AWS_REGION", "ap-northeast-2"),
			BucketName:      getEnv("AWS_S3_BUCKET", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:        getEnv("AWS_S3_ENDPOINT", ""),
			PresignExpiry:   getDuration("S3_PRESIGN_EXPIRY", 15*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		Room: RoomConfig{
			SubscriberBuffer: getInt("ROOM_SUBSCRIBER_BUFFER", 256),
			InboxSize:        getInt("ROOM_INBOX_SIZE", 1024),
			SnapshotInterval: getDuration("ROOM_SNAPSHOT_INTERVAL", 10*time.Second),
			IdleTimeout:      getDuration("ROOM_IDLE_TIMEOUT", 5*time.Minute),
		},
		Moderation: ModerationConfig{
			Threshold:     getFloat("MODERATION_THRESHOLD", 0.7),
			Workers:       getInt("MODERATION_WORKERS", 4),
			QueueSize:     getInt("MODERATION_QUEUE_SIZE", 256),
			Timeout:       getDuration("MODERATION_TIMEOUT", 3*time.Second),
			PolicyFile:    getEnv("MODERATION_POLICY_FILE", ""),
			ClassifierURL: getEnv("MODERATION_CLASSIFIER_URL", ""),
		},
		Presence: PresenceConfig{
			CursorInterval: getDuration("CURSOR_INTERVAL", 50*time.Millisecond),
			TTL:            getDuration("PRESENCE_TTL", 60*time.Second),
			Heartbeat:      getDuration("PRESENCE_HEARTBEAT", 20*time.Second),
		},
		Recording: RecordingConfig{
			FlushInterval:   getDuration("RECORDING_FLUSH_INTERVAL", 2*time.Second),
			FlushBatch:      getInt("RECORDING_FLUSH_BATCH", 200),
			SnapshotEvery:   getInt("RECORDING_SNAPSHOT_EVERY", 500),
			MaxBuffered:     getInt("RECORDING_MAX_BUFFERED", 10000),
			AnnotationGrace: getDuration("RECORDING_ANNOTATION_GRACE", 10*time.Minute),
			FlushAttempts:   getInt("RECORDING_FLUSH_ATTEMPTS", 3),
			RetryBackoff:    getDuration("RECORDING_RETRY_BACKOFF", 500*time.Millisecond),
			ExportWorkers:   getInt("RECORDING_EXPORT_WORKERS", 2),
			FrameTTL:        getDuration("RECORDING_FRAME_TTL", 7*24*time.Hour),
		},
		Storage: StorageConfig{
			Backend:    getEnv("STORAGE_BACKEND", "local"),
			LocalRoot:  getEnv("STORAGE_LOCAL_ROOT", "./uploads"),
			PublicURL:  getEnv("STORAGE_PUBLIC_URL", "http://localhost:8080/files"),
			FrameStore: getEnv("RECORDING_FRAME_STORE", "postgres"),
		},
	}
}

// getRequiredEnv 필수 환경 변수 조회 (없으면 Fatal)
func getRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("🚨 CRITICAL: Required environment variable %s is not set!", key)
	}
	return value
}

// getEnv 환경 변수 조회 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt 정수형 환경 변수 조회
func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getFloat 실수형 환경 변수 조회
func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getBool 불리언 환경 변수 조회
func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getDuration 시간 환경 변수 조회
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		// 숫자만 있으면 초로 간주
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
