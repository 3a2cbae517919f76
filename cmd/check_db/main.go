package main

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"whiteboard-backend/internal/database"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using environment variables")
	}

	db, err := database.ConnectDB(database.LoadConfig())
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer database.Close(db)

	fmt.Println("✅ Connected to database")
	fmt.Println()

	tables := []string{
		"whiteboards",
		"moderation_decisions",
		"whiteboard_assets",
		"recording_sessions",
		"recording_frames",
		"recording_annotations",
		"export_jobs",
	}

	fmt.Println("📋 Tables:")
	missing := 0
	for _, table := range tables {
		var exists bool
		query := `
			SELECT EXISTS (
				SELECT 1
				FROM information_schema.tables
				WHERE table_name = ?
			)
		`
		if err := db.Raw(query, table).Scan(&exists).Error; err != nil {
			log.Fatalf("Failed to check table %s: %v", table, err)
		}
		if !exists {
			missing++
			fmt.Printf("  - %-24s ❌ missing\n", table)
			continue
		}

		var count int64
		if err := db.Table(table).Count(&count).Error; err != nil {
			log.Fatalf("Failed to count %s: %v", table, err)
		}
		fmt.Printf("  - %-24s %d rows\n", table, count)
	}
	fmt.Println()

	if missing > 0 {
		fmt.Printf("⚠️  %d table(s) missing, run `wbctl migrate`\n", missing)
		return
	}

	// Recording status statistics
	type StatusStats struct {
		Status string
		Count  int64
	}
	var stats []StatusStats
	query := `
		SELECT status, COUNT(*) as count
		FROM recording_sessions
		GROUP BY status
		ORDER BY status
	`
	if err := db.Raw(query).Scan(&stats).Error; err != nil {
		log.Fatal("Failed to get recording statistics:", err)
	}

	fmt.Println("📈 Recording Status Statistics:")
	if len(stats) == 0 {
		fmt.Println("  - no recordings")
	}
	for _, s := range stats {
		fmt.Printf("  - %s: %d\n", s.Status, s.Count)
	}
	fmt.Println()

	// Pending moderation decisions
	var pending int64
	query = `
		SELECT COUNT(*)
		FROM (
			SELECT DISTINCT ON (whiteboard_id, element_id) status
			FROM moderation_decisions
			ORDER BY whiteboard_id, element_id, decided_at DESC
		) latest
		WHERE status IN ('PENDING', 'FLAGGED')
	`
	if err := db.Raw(query).Scan(&pending).Error; err != nil {
		log.Fatal("Failed to count pending decisions:", err)
	}
	fmt.Printf("🛡️  Elements awaiting review: %d\n", pending)
}
