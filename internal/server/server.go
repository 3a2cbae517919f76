package server

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/cache"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/handler"
	"whiteboard-backend/internal/metrics"
	"whiteboard-backend/internal/middleware"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/moderation"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/recording"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/service"
	"whiteboard-backend/internal/storage"
)

// Server Fiber 서버 래퍼
type Server struct {
	app        *fiber.App
	cfg        *config.Config
	db         *gorm.DB
	redis      *cache.RedisClient
	registry   *prometheus.Registry
	jwtManager *auth.JWTManager

	hub      *room.Hub
	pipeline *moderation.Pipeline
	recorder *recording.Manager
	cancel   context.CancelFunc
	done     chan struct{}

	healthHandler      *handler.HealthHandler
	whiteboardHandler  *handler.WhiteboardHandler
	assetHandler       *handler.AssetHandler
	participantHandler *handler.ParticipantHandler
	moderationHandler  *handler.ModerationHandler
	recordingHandler   *handler.RecordingHandler
	boardWSHandler     *handler.BoardWSHandler
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, db *gorm.DB) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Collaborative Whiteboard",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		BodyLimit:             cfg.Server.BodyLimit,
		DisableStartupMessage: false,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	clk := clock.New()

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	// Redis 초기화 (선택적 - presence 와 프레임 버퍼)
	var redisClient *cache.RedisClient
	rc, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("⚠️ Redis unavailable: %v (presence list disabled)", err)
	} else {
		redisClient = rc
	}

	// 오브젝트 저장소 (S3 또는 로컬 디스크)
	objects := newObjectStore(cfg)

	whiteboards := service.NewWhiteboardService(db)
	decisions := service.NewModerationService(db)
	recordings := service.NewRecordingService(db)

	var frames recording.FrameStore = recordings
	if model.FrameStoreKind(cfg.Storage.FrameStore) == model.FrameStoreRedis && redisClient != nil {
		frames = cache.NewFrameBuffer(redisClient, cfg.Recording.FrameTTL)
		log.Println("✅ Recording frames buffered in Redis")
	}

	var artifacts recording.ArtifactStore
	if objects != nil {
		artifacts = storage.Artifacts{Store: objects}
	} else {
		artifacts = recording.NewMemoryStore()
		log.Println("⚠️ No object storage, export artifacts are kept in memory")
	}

	recorder := recording.NewManager(recording.Config{
		FlushInterval:   cfg.Recording.FlushInterval,
		FlushBatch:      cfg.Recording.FlushBatch,
		SnapshotEvery:   cfg.Recording.SnapshotEvery,
		MaxBuffered:     cfg.Recording.MaxBuffered,
		AnnotationGrace: cfg.Recording.AnnotationGrace,
		FlushAttempts:   cfg.Recording.FlushAttempts,
		RetryBackoff:    cfg.Recording.RetryBackoff,
		ExportWorkers:   cfg.Recording.ExportWorkers,
	}, recording.Stores{
		Frames:    frames,
		Sessions:  recordings,
		Jobs:      recordings,
		Artifacts: artifacts,
	}, clk, m)

	pipeline := moderation.NewPipeline(moderation.Config{
		Workers:   cfg.Moderation.Workers,
		QueueSize: cfg.Moderation.QueueSize,
		Timeout:   cfg.Moderation.Timeout,
		Threshold: cfg.Moderation.Threshold,
	}, newClassifier(cfg), moderation.NewBacklog(), clk, m)

	hub := room.NewHub(room.Config{
		SubscriberBuffer: cfg.Room.SubscriberBuffer,
		InboxSize:        cfg.Room.InboxSize,
		SnapshotInterval: cfg.Room.SnapshotInterval,
		CursorInterval:   cfg.Presence.CursorInterval,
		IdleTimeout:      cfg.Room.IdleTimeout,
	}, room.Deps{
		Loader:    whiteboards,
		Decisions: decisions,
		Pipeline:  pipeline,
		Recorder:  recorder,
		Metrics:   m,
		Clock:     clk,
	}, room.DefaultChain())
	log.Printf("✅ Room middleware chain: %v", hub.Chain().Names())
	recorder.OnStatusChange(hub.RecordingStatusChanged)

	var presenceManager *presence.Manager
	if redisClient != nil {
		presenceManager = presence.NewManager(redisClient.Client(), cfg.Presence.TTL)
	}

	var assets *storage.Assets
	if objects != nil {
		assets = storage.NewAssets(objects)
	}

	hostname, _ := os.Hostname()

	// S3에 저장된 결과는 서명 URL로 직접 다운로드 가능
	recordingHandler := handler.NewRecordingHandler(recorder)
	if s3Service, ok := objects.(*storage.S3Service); ok {
		recordingHandler.WithPresigner(s3Service)
	}

	return &Server{
		app:        app,
		cfg:        cfg,
		db:         db,
		redis:      redisClient,
		registry:   registry,
		jwtManager: jwtManager,
		hub:        hub,
		pipeline:   pipeline,
		recorder:   recorder,
		done:       make(chan struct{}),

		healthHandler:      handler.NewHealthHandler(db, redisClient),
		whiteboardHandler:  handler.NewWhiteboardHandler(whiteboards, hub),
		assetHandler:       handler.NewAssetHandler(assets, service.NewAssetService(db), whiteboards),
		participantHandler: handler.NewParticipantHandler(presenceManager),
		moderationHandler:  handler.NewModerationHandler(hub, pipeline, decisions),
		recordingHandler:   recordingHandler,
		boardWSHandler: handler.NewBoardWSHandler(hub, handler.NewDispatcher(recorder), presenceManager, handler.BoardWSConfig{
			WriteTimeout: cfg.WebSocket.WriteTimeout,
			PingInterval: cfg.WebSocket.PingInterval,
			Heartbeat:    cfg.Presence.Heartbeat,
			SendBuffer:   cfg.Room.SubscriberBuffer,
			ServerID:     hostname,
		}),
	}
}

// newObjectStore S3 설정이 있으면 S3, 아니면 로컬 디스크
func newObjectStore(cfg *config.Config) storage.ObjectStore {
	if model.StorageBackend(cfg.Storage.Backend) == model.StorageS3 {
		if cfg.S3.BucketName == "" {
			log.Println("⚠️ STORAGE_BACKEND=s3 but AWS_S3_BUCKET is empty, falling back to local storage")
		} else {
			s3Service, err := storage.NewS3Service(&cfg.S3)
			if err != nil {
				log.Printf("⚠️ S3 service initialization failed: %v (falling back to local storage)", err)
			} else {
				log.Printf("✅ S3 service initialized (bucket: %s)", cfg.S3.BucketName)
				return s3Service
			}
		}
	}

	local, err := storage.NewLocalStore(cfg.Storage.LocalRoot, cfg.Storage.PublicURL)
	if err != nil {
		log.Printf("⚠️ Local storage unavailable: %v (asset upload disabled)", err)
		return nil
	}
	log.Printf("✅ Local storage at %s", cfg.Storage.LocalRoot)
	return local
}

// newClassifier 외부 검수 서버가 설정되어 있으면 HTTP, 아니면 키워드 정책
func newClassifier(cfg *config.Config) moderation.Classifier {
	if cfg.Moderation.ClassifierURL != "" {
		log.Printf("✅ Moderation classifier: %s", cfg.Moderation.ClassifierURL)
		return moderation.NewHTTPClassifier(cfg.Moderation.ClassifierURL, cfg.Moderation.Timeout)
	}

	policy := moderation.DefaultPolicy()
	if cfg.Moderation.PolicyFile != "" {
		p, err := moderation.LoadPolicy(cfg.Moderation.PolicyFile)
		if err != nil {
			log.Printf("⚠️ Moderation policy %s not loaded: %v (using default policy)", cfg.Moderation.PolicyFile, err)
		} else {
			policy = p
		}
	}
	return moderation.NewKeywordClassifier(policy)
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Asia/Seoul",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: s.cfg.CORS.AllowOrigins != "*",
	}))

	// 로컬 저장소 파일 제공
	if model.StorageBackend(s.cfg.Storage.Backend) != model.StorageS3 {
		s.app.Static("/files", s.cfg.Storage.LocalRoot)
	}
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 / 메트릭
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)
	s.app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(s.registry)))

	// Rate Limiter (REST API 전체 - IP 기준)
	apiLimiter := limiter.New(limiter.Config{
		Max:        s.cfg.Server.RateLimit,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	api := s.app.Group("/api", apiLimiter, auth.AuthMiddleware(s.jwtManager))

	// Whiteboard 라우트
	api.Post("/whiteboards", s.whiteboardHandler.CreateWhiteboard)
	api.Get("/whiteboards/:id", s.whiteboardHandler.GetWhiteboard)
	api.Put("/whiteboards/:id", s.whiteboardHandler.UpdateWhiteboard)
	api.Post("/whiteboards/:id/assets", s.assetHandler.UploadAsset)
	api.Get("/whiteboards/:id/participants", s.participantHandler.ListParticipants)

	// Moderation 라우트 (모더레이터/호스트)
	moderators := middleware.RequireRole(auth.RoleHost, auth.RoleModerator)
	api.Get("/moderation/backlog", moderators, s.moderationHandler.GetBacklog)
	api.Post("/whiteboards/:id/elements/:elementId/moderation", moderators, s.moderationHandler.ModerateElement)
	api.Get("/whiteboards/:id/elements/:elementId/moderation", moderators, s.moderationHandler.GetHistory)

	// Recording 라우트
	api.Get("/recordings", s.recordingHandler.SearchRecordings)
	api.Get("/recordings/:id", s.recordingHandler.GetRecording)
	api.Post("/recordings/:id/annotations", s.recordingHandler.AddAnnotation)
	api.Post("/recordings/:id/exports", s.recordingHandler.RequestExport)
	api.Get("/exports/:jobId", s.recordingHandler.GetExportJob)
	api.Get("/exports/:jobId/artifact", s.recordingHandler.DownloadArtifact)
	api.Post("/exports/:jobId/retry", s.recordingHandler.RetryExport)

	// WebSocket 화이트보드 룸 엔드포인트
	s.app.Get("/ws/whiteboards/:id",
		auth.AuthMiddleware(s.jwtManager),
		s.boardWSHandler.Upgrade,
		websocket.New(s.boardWSHandler.HandleWebSocket, websocket.Config{
			HandshakeTimeout:  s.cfg.WebSocket.HandshakeTimeout,
			ReadBufferSize:    s.cfg.WebSocket.ReadBufferSize,
			WriteBufferSize:   s.cfg.WebSocket.WriteBufferSize,
			EnableCompression: s.cfg.WebSocket.Compression,
		}),
	)
}

// runBackground 검수 워커와 룸 정리 루프 시작
func (s *Server) runBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		defer close(s.done)
		if err := s.pipeline.Run(ctx, s.hub); err != nil && ctx.Err() == nil {
			log.Printf("[Moderation] Pipeline stopped: %v", err)
		}
	}()
	go s.hub.Run(ctx)
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	s.runBackground()

	// Graceful Shutdown 설정
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		if err := s.Shutdown(); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Collaborative Whiteboard starting on %s", s.cfg.Server.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws/whiteboards/:id", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료. 연결을 먼저 끊고 룸 상태와 녹화 버퍼를 저장
func (s *Server) Shutdown() error {
	timeout := s.cfg.Server.ShutdownTimeout
	err := s.app.ShutdownWithTimeout(timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.cancel != nil {
		s.cancel()
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	}
	s.hub.Shutdown(ctx)
	s.recorder.Shutdown(ctx)

	if s.redis != nil {
		if cerr := s.redis.Close(); cerr != nil {
			log.Printf("⚠️ Redis close: %v", cerr)
		}
	}
	log.Println("✅ Server stopped")
	return err
}
