package persistence

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/till-ledger/internal/config"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteDB is the on-device store holding cached snapshots, the pending
// operation queue and the identifier remap table.
type SQLiteDB struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteDB opens or creates the local store and applies its schema.
// synchronous=FULL makes every committed write durable before the call returns.
func NewSQLiteDB(logger *slog.Logger, cfg *config.LocalStoreConfig) (*SQLiteDB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("local store path cannot be empty")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create local store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to local store: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply local store schema: %w", err)
	}

	logger.Info("Opened local store", "path", cfg.Path)

	return &SQLiteDB{db: db, logger: logger}, nil
}

func (s *SQLiteDB) DB() *sql.DB {
	return s.db
}

func (s *SQLiteDB) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close local store: %w", err)
	}
	s.logger.Info("Closed local store")
	return nil
}
