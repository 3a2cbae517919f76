package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"whiteboard-backend/internal/cache"
)

// HealthHandler 헬스체크 핸들러
type HealthHandler struct {
	db    *gorm.DB
	redis *cache.RedisClient
}

// NewHealthHandler HealthHandler 생성 (redis 는 nil 가능)
func NewHealthHandler(db *gorm.DB, redis *cache.RedisClient) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

// ComponentCheck 컴포넌트 상태
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse 헬스체크 응답
type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp string                    `json:"timestamp"`
	Checks    map[string]ComponentCheck `json:"checks"`
}

// Check 전체 상태 확인 (DB + Redis)
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    make(map[string]ComponentCheck),
	}

	// 1. Database 체크 (필수)
	dbCheck := h.checkDB(c.UserContext())
	response.Checks["database"] = dbCheck
	if dbCheck.Status != "healthy" {
		response.Status = "unhealthy"
	}

	// 2. Redis 체크 (presence 전용이라 실패해도 degraded)
	if h.redis != nil {
		start := time.Now()
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		err := h.redis.Health(ctx)
		cancel()
		if err != nil {
			response.Checks["redis"] = ComponentCheck{Status: "degraded", Error: "redis ping failed"}
			if response.Status == "healthy" {
				response.Status = "degraded"
			}
		} else {
			response.Checks["redis"] = ComponentCheck{Status: "healthy", Latency: time.Since(start).String()}
		}
	} else {
		response.Checks["redis"] = ComponentCheck{Status: "not_configured"}
	}

	statusCode := fiber.StatusOK
	if response.Status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}
	return c.Status(statusCode).JSON(response)
}

func (h *HealthHandler) checkDB(ctx context.Context) ComponentCheck {
	if h.db == nil {
		return ComponentCheck{Status: "unhealthy", Error: "database not configured"}
	}
	start := time.Now()
	sqlDB, err := h.db.DB()
	if err != nil {
		return ComponentCheck{Status: "unhealthy", Error: "failed to get database connection"}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return ComponentCheck{Status: "unhealthy", Error: "database ping failed"}
	}
	return ComponentCheck{Status: "healthy", Latency: time.Since(start).String()}
}

// Liveness K8s liveness probe용 (단순 체크)
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// Readiness K8s readiness probe용 (DB 연결 체크)
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	if h.checkDB(c.UserContext()).Status != "healthy" {
		return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
	}
	return c.SendString("READY")
}
