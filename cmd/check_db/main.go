package main

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"realtime-board/internal/database"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	db, err := database.ConnectDB()
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer database.Close()

	fmt.Println("✅ Connected to database")
	fmt.Println()

	// Table counts
	type TableStats struct {
		Users     int64
		Boards    int64
		Roles     int64
		Documents int64
	}
	var stats TableStats
	query := `
		SELECT
			(SELECT COUNT(*) FROM users) AS users,
			(SELECT COUNT(*) FROM boards) AS boards,
			(SELECT COUNT(*) FROM board_roles) AS roles,
			(SELECT COUNT(*) FROM boards WHERE document IS NOT NULL) AS documents
	`
	if err := db.Raw(query).Scan(&stats).Error; err != nil {
		log.Fatal("Failed to get statistics:", err)
	}

	fmt.Println("📈 Table Statistics:")
	fmt.Printf("  - Users: %d\n", stats.Users)
	fmt.Printf("  - Boards: %d (%d with a saved document)\n", stats.Boards, stats.Documents)
	fmt.Printf("  - Board roles: %d\n", stats.Roles)
	fmt.Println()

	// Boards without an owner
	var orphans []string
	query = `
		SELECT b.id FROM boards b
		WHERE NOT EXISTS (
			SELECT 1 FROM board_roles r
			WHERE r.board_id = b.id AND r.role = 'Owner'
		)
	`
	if err := db.Raw(query).Scan(&orphans).Error; err != nil {
		log.Fatal("Failed to check board owners:", err)
	}
	if len(orphans) > 0 {
		fmt.Printf("❌ %d board(s) without an owner:\n", len(orphans))
		for _, id := range orphans {
			fmt.Printf("  - %s\n", id)
		}
		fmt.Println("⚠️  Run fix_board_owners to repair them")
		fmt.Println()
	}

	// Recently opened boards
	type BoardInfo struct {
		ID           string
		Name         string
		Members      int64
		DocumentSize *int64
		LastOpenedAt *string
	}
	var boards []BoardInfo
	query = `
		SELECT b.id, b.name, b.last_opened_at,
			LENGTH(b.document) AS document_size,
			(SELECT COUNT(*) FROM board_roles r WHERE r.board_id = b.id) AS members
		FROM boards b
		ORDER BY b.last_opened_at DESC NULLS LAST
		LIMIT 10
	`
	if err := db.Raw(query).Scan(&boards).Error; err != nil {
		log.Fatal("Failed to get recent boards:", err)
	}

	fmt.Println("📋 Recent Boards (last 10):")
	for _, b := range boards {
		opened := "never"
		if b.LastOpenedAt != nil {
			opened = *b.LastOpenedAt
		}
		size := int64(0)
		if b.DocumentSize != nil {
			size = *b.DocumentSize
		}
		fmt.Printf("  - %s %q, members: %d, document: %d bytes, opened: %s\n",
			b.ID, b.Name, b.Members, size, opened)
	}
}
