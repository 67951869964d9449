package main

import (
	log "github.com/sirupsen/logrus"

	"realtime-board/internal/cache"
	"realtime-board/internal/config"
	"realtime-board/internal/database"
	"realtime-board/internal/server"
)

func main() {
	// 설정 로드
	cfg := config.Load()
	cfg.SetupLogging()

	// 데이터베이스 연결
	db, err := database.ConnectDB()
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer database.Close()

	// Ping 테스트
	if err := database.Ping(db); err != nil {
		log.Fatalf("Database ping failed: %v", err)
	}
	log.Info("Database connected successfully")

	// Redis 연결 (실패하면 단일 인스턴스 모드)
	var redisClient *cache.RedisClient
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warnf("Redis unavailable, running single-instance: %v", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
			log.Infof("Redis connected at %s", cfg.Redis.Addr)
		}
	}

	// 서버 생성 및 설정
	srv := server.New(cfg, db, redisClient)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	// 서버 시작
	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
