package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"realtime-board/internal/auth"
	"realtime-board/internal/cache"
	"realtime-board/internal/config"
	"realtime-board/internal/handler"
	"realtime-board/internal/middleware"
	"realtime-board/internal/presence"
	"realtime-board/internal/room"
	"realtime-board/internal/service"
)

// Server Fiber 서버 래퍼
type Server struct {
	app             *fiber.App
	cfg             *config.Config
	hub             *room.Hub
	authHandler     *handler.AuthHandler
	userHandler     *handler.UserHandler
	boardHandler    *handler.BoardHandler
	boardWSHandler  *handler.BoardWSHandler
	healthHandler   *handler.HealthHandler
	boardMiddleware *middleware.BoardMiddleware
	jwtManager      *auth.JWTManager
}

// New 새 서버 인스턴스 생성. redisClient가 nil이면 Room은 이 인스턴스에만
// 존재하고 문서는 DB에만 저장된다.
func New(cfg *config.Config, db *gorm.DB, redisClient *cache.RedisClient) *Server {
	app := fiber.New(fiber.Config{
		AppName:         "Realtime Board",
		ServerHeader:    "Fiber",
		StrictRouting:   true,
		CaseSensitive:   true,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		Prefork:         false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
		BodyLimit:       4 * 1024 * 1024,
	})

	// 서비스 초기화
	userService := service.NewUserService(db)
	boardService := service.NewBoardService(db)
	memberService := service.NewMemberService(db)

	// Redis가 없으면 인스턴스 로컬 모드 (interface에 typed nil이 들어가지 않도록 분기)
	var presenceManager *presence.Manager
	var participants handler.ParticipantLister
	var redisHealth handler.Pinger
	if redisClient != nil {
		presenceManager = presence.NewManager(redisClient.Client(), cfg.Server.InstanceID, cfg.Board.PresenceTTL)
		participants = presenceManager
		redisHealth = redisClient
	}

	// Room Hub 초기화
	hub := newHub(cfg, boardService, redisClient, presenceManager)

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	return &Server{
		app:             app,
		cfg:             cfg,
		hub:             hub,
		authHandler:     handler.NewAuthHandler(userService, jwtManager, cfg.Auth.SecureCookie),
		userHandler:     handler.NewUserHandler(userService),
		boardHandler:    handler.NewBoardHandler(boardService, hub, participants),
		boardWSHandler:  handler.NewBoardWSHandler(hub, userService, cfg.WebSocket.WriteTimeout),
		healthHandler:   handler.NewHealthHandler(db, redisHealth, hub.RoomCount),
		boardMiddleware: middleware.NewBoardMiddleware(memberService),
		jwtManager:      jwtManager,
	}
}

func newHub(cfg *config.Config, boards *service.BoardService, redisClient *cache.RedisClient, mirror *presence.Manager) *room.Hub {
	hubCfg := room.Config{
		DefaultName:     cfg.Board.DefaultName,
		NameDebounce:    cfg.Board.NameDebounce,
		SaveDebounce:    cfg.Board.DocumentSaveDebounce,
		PresenceTimeout: cfg.Board.PresenceTimeout,
		SweepInterval:   cfg.Board.SweepInterval,
		MinCardSize:     cfg.Board.MinCardSize,
		LeaseTTL:        cfg.Board.RoomLeaseTTL,
	}

	opts := []room.Option{room.WithNameStore(boards)}
	if redisClient != nil {
		opts = append(opts,
			room.WithStore(room.Tiered(redisClient, boards)),
			room.WithEventBus(redisClient, cfg.Server.InstanceID),
			room.WithLease(redisClient, cfg.Server.InstanceID),
			room.WithPresenceMirror(mirror),
		)
	} else {
		opts = append(opts, room.WithStore(boards))
	}
	return room.NewHub(hubCfg, opts...)
}

// App returns the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the room hub.
func (s *Server) Hub() *room.Hub {
	return s.hub
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
		Output:     log.StandardLogger().Writer(),
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	// Rate Limiter 설정 (인증 엔드포인트용 - Brute Force 방지)
	authLimiter := limiter.New(limiter.Config{
		Max:        10,              // 최대 10회
		Expiration: 1 * time.Minute, // 1분당
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() // IP 기반 제한
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	requireAuth := auth.AuthMiddleware(s.jwtManager)

	// Auth 라우트 그룹
	authGroup := s.app.Group("/auth")
	authGroup.Post("/register", authLimiter, s.authHandler.Register)
	authGroup.Post("/login", authLimiter, s.authHandler.Login)
	authGroup.Post("/logout", requireAuth, s.authHandler.Logout)
	authGroup.Get("/me", requireAuth, s.authHandler.GetMe)

	// 클라이언트 설정 (카드 크기, 하트비트 주기)
	s.app.Get("/api/settings", handler.GetClientSettings(handler.NewClientSettings(s.cfg.Board)))

	// User 라우트 (인증 필요)
	s.app.Get("/api/users/search", requireAuth, s.userHandler.SearchUsers)

	// Board 라우트 그룹 (인증 필요)
	boardGroup := s.app.Group("/api/boards", requireAuth)
	boardGroup.Get("/", s.boardHandler.ListBoards)
	boardGroup.Post("/", s.boardHandler.CreateBoard)
	boardGroup.Post("/:id/join", s.boardHandler.JoinBoard)

	member := s.boardMiddleware.RequireMember()
	boardGroup.Get("/:id", member, s.boardHandler.GetBoard)
	boardGroup.Put("/:id/name", member, s.boardHandler.RenameBoard)
	boardGroup.Get("/:id/members", member, s.boardHandler.GetMembers)
	boardGroup.Post("/:id/members", member, s.boardHandler.AddMember)
	boardGroup.Get("/:id/share", member, s.boardHandler.GetShareLink)
	boardGroup.Get("/:id/participants", member, s.boardHandler.GetParticipants)
	boardGroup.Delete("/:id", s.boardMiddleware.RequireOwner(), s.boardHandler.DeleteBoard)

	// WebSocket 보드 엔드포인트 (쿠키 또는 Bearer 토큰 + 멤버 확인)
	s.app.Get("/ws/boards/:id",
		requireAuth,
		member,
		s.boardWSHandler.Upgrade,
		websocket.New(s.boardWSHandler.HandleWebSocket, websocket.Config{
			HandshakeTimeout: s.cfg.WebSocket.HandshakeTimeout,
			ReadBufferSize:   s.cfg.WebSocket.ReadBufferSize,
			WriteBufferSize:  s.cfg.WebSocket.WriteBufferSize,
		}),
	)
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	// Graceful Shutdown 설정
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Shutting down server...")
		if err := s.Shutdown(); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Infof("Realtime Board starting on %s", s.cfg.Server.Port)
	log.Infof("WebSocket endpoint: ws://localhost%s/ws/boards/:id", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료. 리스너를 멈춘 뒤 열린 Room을 저장한다.
func (s *Server) Shutdown() error {
	err := s.app.ShutdownWithTimeout(30 * time.Second)
	s.hub.Shutdown()
	return err
}
