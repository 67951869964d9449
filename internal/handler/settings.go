package handler

import (
	"github.com/gofiber/fiber/v2"

	"realtime-board/internal/config"
)

// ClientSettings are the board settings clients need to behave like the
// server expects: card geometry and heartbeat pacing.
type ClientSettings struct {
	CardWidth           float64 `json:"card_width"`
	CardHeight          float64 `json:"card_height"`
	MinCardSize         float64 `json:"min_card_size"`
	HeartbeatIntervalMS int64   `json:"heartbeat_interval_ms"`
	PresenceTimeoutMS   int64   `json:"presence_timeout_ms"`
	NameDebounceMS      int64   `json:"name_debounce_ms"`
}

// NewClientSettings derives the client settings from the board config.
func NewClientSettings(cfg config.BoardConfig) ClientSettings {
	return ClientSettings{
		CardWidth:           cfg.CardWidth,
		CardHeight:          cfg.CardHeight,
		MinCardSize:         cfg.MinCardSize,
		HeartbeatIntervalMS: cfg.HeartbeatInterval.Milliseconds(),
		PresenceTimeoutMS:   cfg.PresenceTimeout.Milliseconds(),
		NameDebounceMS:      cfg.NameDebounce.Milliseconds(),
	}
}

// GetClientSettings 클라이언트 설정 조회
func GetClientSettings(settings ClientSettings) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(settings)
	}
}
