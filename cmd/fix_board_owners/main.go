package main

import (
	"context"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"realtime-board/internal/database"
	"realtime-board/internal/service"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(".env"); err != nil {
		log.Info("No .env file found, using environment variables")
	}

	// Connect to database
	db, err := database.ConnectDB()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	log.Info("Database connected. Looking for boards without an owner...")

	repaired, err := service.NewBoardService(db).RepairOwners(context.Background())
	if err != nil {
		log.Fatalf("Failed to repair board owners: %v", err)
	}

	log.Infof("Board owners repaired: %d", repaired)
}
