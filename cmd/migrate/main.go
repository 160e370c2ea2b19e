package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/onlyif/messaging/config"
	"github.com/onlyif/messaging/internal/database"
	"github.com/onlyif/messaging/internal/logger"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/migrate/main.go [up|down|status]")
		os.Exit(1)
	}

	command := os.Args[1]

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Server.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to database
	db, err := database.NewPostgresDB(cfg.GetDSN())
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	switch command {
	case "up":
		log.Info("running migrations")
		if err := database.RunMigrations(db.DB, log); err != nil {
			log.Fatal("migration failed", zap.Error(err))
		}
		log.Info("migrations completed")

	case "down":
		version, err := database.RollbackLast(db.DB, log)
		if err != nil {
			log.Fatal("rollback failed", zap.Error(err))
		}
		if version == 0 {
			log.Info("nothing to roll back")
			return
		}
		log.Info("rolled back", zap.Int("version", version))

	case "status":
		showMigrationStatus(db.DB, log)

	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println("Available commands: up, down, status")
		os.Exit(1)
	}
}

func showMigrationStatus(db *sql.DB, log *zap.Logger) {
	applied, err := database.AppliedMigrations(db)
	if err != nil {
		log.Warn("no migrations found or table doesn't exist", zap.Error(err))
		return
	}

	seen := map[int]bool{}
	fmt.Println("\nApplied Migrations:")
	fmt.Println("-------------------")
	for _, m := range applied {
		seen[m.Version] = true
		fmt.Printf("Version %d - Applied at: %s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
	}

	for _, m := range database.Migrations {
		if !seen[m.Version] {
			fmt.Printf("Version %d - pending\n", m.Version)
		}
	}
}
