package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a
// fatal error.
const ExpectedSchemaVersion = 2

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Primary record, job and profile collections",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS records (
					owner_id TEXT NOT NULL,
					id TEXT NOT NULL,
					account_id TEXT NOT NULL,
					doc TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (owner_id, id)
				)`,
				`CREATE INDEX idx_records_account ON records(owner_id, account_id)`,

				`CREATE TABLE IF NOT EXISTS jobs (
					id TEXT PRIMARY KEY,
					doc TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS profiles (
					owner_id TEXT PRIMARY KEY,
					doc TEXT NOT NULL
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Drifted physical layouts read by the fallback lookup chain",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				// Earlier iterations keyed records by user_id instead of
				// owner_id. Still readable, never written by new code.
				`CREATE TABLE IF NOT EXISTS legacy_records (
					user_id TEXT NOT NULL,
					record_id TEXT NOT NULL,
					doc TEXT NOT NULL,
					PRIMARY KEY (user_id, record_id)
				)`,

				// Cross-collection index mapping an owner's records to the
				// per-owner sub-collections that hold the documents.
				`CREATE TABLE IF NOT EXISTS record_index (
					owner_id TEXT NOT NULL,
					record_id TEXT NOT NULL,
					collection TEXT NOT NULL,
					PRIMARY KEY (owner_id, record_id, collection)
				)`,

				`CREATE TABLE IF NOT EXISTS collection_docs (
					collection TEXT NOT NULL,
					record_id TEXT NOT NULL,
					doc TEXT NOT NULL,
					PRIMARY KEY (collection, record_id)
				)`,

				`CREATE TABLE IF NOT EXISTS owner_collections (
					owner_id TEXT NOT NULL,
					collection TEXT NOT NULL,
					PRIMARY KEY (owner_id, collection)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate applies any pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
