package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"realtime-board/internal/cache"
	"realtime-board/internal/config"
	"realtime-board/internal/database"
	"realtime-board/internal/service"
)

var skipRedis bool

var rootCmd = &cobra.Command{
	Use:   "reset_documents",
	Short: "Drop every saved board document",
	Long: `reset_documents drops every saved board document, in the database and in
the Redis cache. Boards, members and names are kept.

Run it with no server up, or open rooms will write their documents back.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return resetDocuments(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().BoolVar(&skipRedis, "skip-redis", false, "Leave the Redis document cache alone")
}

func resetDocuments(ctx context.Context) error {
	if err := godotenv.Load(".env"); err != nil {
		log.Info("No .env file found, using environment variables")
	}

	db, err := database.ConnectDB()
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	cleared, err := service.NewBoardService(db).ClearDocuments(ctx)
	if err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}
	log.Infof("Cleared %d document snapshots", cleared)

	if skipRedis {
		return nil
	}

	redisCfg := config.LoadRedis()
	client, err := cache.NewRedisClient(redisCfg.Addr, redisCfg.Password, redisCfg.DB)
	if err != nil {
		return fmt.Errorf("connect to Redis: %w", err)
	}
	defer client.Close()

	removed, err := client.ClearDocuments(ctx)
	if err != nil {
		return fmt.Errorf("clear cached documents: %w", err)
	}
	log.Infof("Removed %d cached documents", removed)
	return nil
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
