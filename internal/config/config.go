package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config 애플리케이션 전체 설정
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Board     BoardConfig
	LogLevel  string
}

// RedisConfig Redis 설정
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// AuthConfig 인증 설정
type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	SecureCookie      bool
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	InstanceID   string
}

// WebSocketConfig WebSocket 관련 설정
type WebSocketConfig struct {
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// CORSConfig CORS 설정
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// BoardConfig covers the shared board: card geometry, write debounces and
// presence liveness.
type BoardConfig struct {
	DefaultName          string
	CardWidth            float64
	CardHeight           float64
	MinCardSize          float64
	NameDebounce         time.Duration
	DocumentSaveDebounce time.Duration
	PresenceTimeout      time.Duration
	PresenceTTL          time.Duration
	HeartbeatInterval    time.Duration
	SweepInterval        time.Duration
	RoomLeaseTTL         time.Duration
}

// Load 환경 변수에서 설정 로드
func Load() *Config {
	// .env 파일 로드 (없어도 에러 무시)
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using environment variables")
	}

	// 필수 환경 변수 검증
	jwtSecret := getRequiredEnv("JWT_SECRET")
	if jwtSecret == "change-this-secret-in-production" {
		log.Fatal("CRITICAL: JWT_SECRET must be changed from default value in production!")
	}

	hostname, _ := os.Hostname()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
			InstanceID:   getEnv("INSTANCE_ID", hostname),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:   getInt("WS_READ_BUFFER_SIZE", 16*1024),
			WriteBufferSize:  getInt("WS_WRITE_BUFFER_SIZE", 16*1024),
			HandshakeTimeout: getDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
			WriteTimeout:     getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept, Authorization"),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getDuration("ACCESS_TOKEN_EXPIRY", 24*time.Hour),
			SecureCookie:      getBool("SECURE_COOKIE", false),
		},
		Redis: LoadRedis(),
		Board: BoardConfig{
			DefaultName:          getEnv("BOARD_DEFAULT_NAME", "Untitled board"),
			CardWidth:            getFloat("BOARD_CARD_WIDTH", 200),
			CardHeight:           getFloat("BOARD_CARD_HEIGHT", 200),
			MinCardSize:          getFloat("BOARD_MIN_CARD_SIZE", 100),
			NameDebounce:         getDuration("BOARD_NAME_DEBOUNCE", 500*time.Millisecond),
			DocumentSaveDebounce: getDuration("BOARD_SAVE_DEBOUNCE", 2*time.Second),
			PresenceTimeout:      getDuration("PRESENCE_TIMEOUT", 30*time.Second),
			PresenceTTL:          getDuration("PRESENCE_TTL", 60*time.Second),
			HeartbeatInterval:    getDuration("HEARTBEAT_INTERVAL", 10*time.Second),
			SweepInterval:        getDuration("PRESENCE_SWEEP_INTERVAL", 5*time.Second),
			RoomLeaseTTL:         getDuration("ROOM_LEASE_TTL", 30*time.Second),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// LoadRedis reads only the Redis settings, for tools that need nothing else.
func LoadRedis() RedisConfig {
	return RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getInt("REDIS_DB", 0),
		Enabled:  getBool("REDIS_ENABLED", true),
	}
}

// SetupLogging applies the configured log level.
func (c *Config) SetupLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.Warnf("Unknown LOG_LEVEL %q, using info", c.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

// getRequiredEnv 필수 환경 변수 조회 (없으면 Fatal)
func getRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("CRITICAL: Required environment variable %s is not set!", key)
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
