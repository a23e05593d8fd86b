package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jinzoro/syseng-scripts/internal/constants"
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

type DB struct {
	*sql.DB
}

// New opens (creating if needed) the history database at dbFile and applies the schema.
func New(ctx context.Context, dbFile string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbFile), constants.ModeDirDefault); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	database, err := sql.Open(driverName, dbFile)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := database.ExecContext(ctx, pragma); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	db := &DB{database}
	if err := db.Migrate(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Migrate(ctx context.Context) error {
	if err := createAttemptsTable(ctx, db); err != nil {
		return err
	}
	return nil
}
