package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Pinger is a dependency that can report its health.
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthHandler 헬스체크 핸들러
type HealthHandler struct {
	db    *gorm.DB
	redis Pinger
	rooms func() int
}

// NewHealthHandler HealthHandler 생성. Redis를 쓰지 않으면 redis는 nil
func NewHealthHandler(db *gorm.DB, redis Pinger, rooms func() int) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, rooms: rooms}
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
	Rooms     int                       `json:"rooms"`
	Checks    map[string]ComponentCheck `json:"checks"`
}

func (h *HealthHandler) checkDatabase() ComponentCheck {
	start := time.Now()
	sqlDB, err := h.db.DB()
	if err != nil {
		return ComponentCheck{Status: "unhealthy", Error: "failed to get database connection"}
	}
	if err := sqlDB.Ping(); err != nil {
		return ComponentCheck{Status: "unhealthy", Error: "database ping failed"}
	}
	return ComponentCheck{Status: "healthy", Latency: time.Since(start).String()}
}

func (h *HealthHandler) checkRedis(ctx context.Context) ComponentCheck {
	if h.redis == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	start := time.Now()
	if err := h.redis.Health(ctx); err != nil {
		return ComponentCheck{Status: "unhealthy", Error: "redis ping failed"}
	}
	return ComponentCheck{Status: "healthy", Latency: time.Since(start).String()}
}

// Check 전체 상태 확인 (DB + Redis)
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Checks: map[string]ComponentCheck{
			"database": h.checkDatabase(),
			"redis":    h.checkRedis(ctx),
		},
	}
	if h.rooms != nil {
		response.Rooms = h.rooms()
	}

	for _, check := range response.Checks {
		if check.Status == "unhealthy" {
			response.Status = "unhealthy"
		}
	}

	statusCode := fiber.StatusOK
	if response.Status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(response)
}

// Liveness K8s liveness 체크용 (프로세스 응답만 확인)
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// Readiness K8s readiness 체크용 (DB + Redis 연결 확인)
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if h.checkDatabase().Status != "healthy" {
		return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
	}
	if check := h.checkRedis(ctx); check.Status == "unhealthy" {
		return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
	}
	return c.SendString("READY")
}
