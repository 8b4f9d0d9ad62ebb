package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// ApplyMigrations runs every *.up.sql file in migrationsDir that has not been
// recorded in schema_migrations, in lexical order, each in its own
// transaction. It returns the number of migrations applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string, logger zerolog.Logger) (int, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return 0, err
	}

	files, err := migrationFiles(migrationsDir, ".up.sql")
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, file := range files {
		version := filepath.Base(file)
		if migrated, err := isMigrated(ctx, db, version); err != nil {
			return applied, err
		} else if migrated {
			continue
		}

		if err := runMigration(ctx, db, file, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, version)
			return err
		}); err != nil {
			return applied, err
		}
		logger.Info().Str("version", version).Msg("migration applied")
		applied++
	}

	return applied, nil
}

// RollbackMigrations runs the *.down.sql counterpart of every applied
// migration, newest first.
func RollbackMigrations(ctx context.Context, db *sql.DB, migrationsDir string, logger zerolog.Logger) (int, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return 0, err
	}

	files, err := migrationFiles(migrationsDir, ".down.sql")
	if err != nil {
		return 0, err
	}

	rolledBack := 0
	for i := len(files) - 1; i >= 0; i-- {
		file := files[i]
		version := strings.TrimSuffix(filepath.Base(file), ".down.sql") + ".up.sql"
		if migrated, err := isMigrated(ctx, db, version); err != nil {
			return rolledBack, err
		} else if !migrated {
			continue
		}

		if err := runMigration(ctx, db, file, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, version)
			return err
		}); err != nil {
			return rolledBack, err
		}
		logger.Info().Str("version", version).Msg("migration rolled back")
		rolledBack++
	}

	return rolledBack, nil
}

func migrationFiles(migrationsDir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name := entry.Name(); strings.HasSuffix(name, suffix) {
			files = append(files, filepath.Join(migrationsDir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

func runMigration(ctx context.Context, db *sql.DB, file string, record func(tx *sql.Tx) error) error {
	name := filepath.Base(file)
	contents, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute migration %s: %w", name, err)
	}

	if err := record(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
