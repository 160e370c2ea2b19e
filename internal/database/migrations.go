package database

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Up      string
	Down    string
}

// Migrations contains all database migrations
var Migrations = []Migration{
	{
		Version: 1,
		Up: `
			CREATE TABLE IF NOT EXISTS participants (
				user_id TEXT PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				role VARCHAR(16) NOT NULL CHECK (role IN ('buyer', 'seller', 'agent')),
				email VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
		Down: `
			DROP TABLE IF EXISTS participants;
		`,
	},
	{
		Version: 2,
		Up: `
			CREATE TABLE IF NOT EXISTS conversations (
				id TEXT PRIMARY KEY,
				type VARCHAR(32) NOT NULL CHECK (type IN ('buyer_agent', 'agent_seller', 'agent_agent')),
				property_id TEXT,
				property_title TEXT NOT NULL DEFAULT '',
				property_key TEXT NOT NULL DEFAULT '',
				user_low TEXT NOT NULL,
				user_high TEXT NOT NULL,
				last_message_id TEXT,
				last_message_sender_id TEXT,
				last_message_text TEXT,
				last_message_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CHECK (user_low < user_high),
				UNIQUE (user_low, user_high, property_key)
			);

			CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC);
		`,
		Down: `
			DROP TABLE IF EXISTS conversations;
		`,
	},
	{
		Version: 3,
		Up: `
			CREATE TABLE IF NOT EXISTS conversation_participants (
				conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				user_id TEXT NOT NULL,
				position SMALLINT NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				role VARCHAR(16) NOT NULL,
				email VARCHAR(255) NOT NULL DEFAULT '',
				PRIMARY KEY (conversation_id, user_id),
				UNIQUE (conversation_id, position)
			);

			CREATE INDEX IF NOT EXISTS idx_conversation_participants_user ON conversation_participants(user_id);
		`,
		Down: `
			DROP TABLE IF EXISTS conversation_participants;
		`,
	},
	{
		Version: 4,
		Up: `
			CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				seq BIGSERIAL NOT NULL,
				conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				sender_id TEXT NOT NULL,
				message_text TEXT NOT NULL CHECK (length(btrim(message_text)) > 0),
				read BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, seq);
			CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, sender_id) WHERE read = false;
		`,
		Down: `
			DROP TABLE IF EXISTS messages;
		`,
	},
}

// AppliedMigration is a row of schema_migrations
type AppliedMigration struct {
	Version   int
	AppliedAt time.Time
}

// RunMigrations runs all pending migrations
func RunMigrations(db *sql.DB, log *zap.Logger) error {
	// Ensure migrations table exists
	if err := ensureMigrationsTable(db); err != nil {
		return err
	}

	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return err
	}

	sorted := make([]Migration, len(Migrations))
	copy(sorted, Migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for _, migration := range sorted {
		if migration.Version <= currentVersion {
			continue
		}

		log.Info("running migration", zap.Int("version", migration.Version))

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if _, err := tx.Exec(migration.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", migration.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// RollbackLast reverts the most recently applied migration. It returns the
// reverted version, or 0 when nothing is applied.
func RollbackLast(db *sql.DB, log *zap.Logger) (int, error) {
	if err := ensureMigrationsTable(db); err != nil {
		return 0, err
	}

	currentVersion, err := getCurrentVersion(db)
	if err != nil || currentVersion == 0 {
		return 0, err
	}

	var target *Migration
	for i := range Migrations {
		if Migrations[i].Version == currentVersion {
			target = &Migrations[i]
		}
	}
	if target == nil {
		return 0, fmt.Errorf("migration %d is applied but unknown to this binary", currentVersion)
	}

	log.Info("reverting migration", zap.Int("version", target.Version))

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.Exec(target.Down); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to revert migration %d: %w", target.Version, err)
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = $1", target.Version); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to unrecord migration %d: %w", target.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rollback of %d: %w", target.Version, err)
	}

	return target.Version, nil
}

// AppliedMigrations lists applied versions in ascending order
func AppliedMigrations(db *sql.DB) ([]AppliedMigration, error) {
	rows, err := db.Query("SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer rows.Close()

	applied := []AppliedMigration{}
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.Version, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		applied = append(applied, m)
	}

	return applied, rows.Err()
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func getCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}
