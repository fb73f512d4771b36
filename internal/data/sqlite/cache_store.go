package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/till-ledger/internal/domain/record"
	"github.com/till-ledger/internal/platform/persistence"
)

// CacheStore implements record.Cache on the local SQLite store
type CacheStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCacheStore creates a snapshot store backed by the local database
func NewCacheStore(logger *slog.Logger, db *persistence.SQLiteDB) *CacheStore {
	return &CacheStore{db: db.DB(), logger: logger}
}

// Put replaces the snapshot of a collection
func (s *CacheStore) Put(ctx context.Context, collection string, records []json.RawMessage) error {
	if records == nil {
		records = []json.RawMessage{}
	}
	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode %s snapshot: %w", collection, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (collection, body, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(collection) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, collection, string(body), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		s.logger.Error("Failed to write snapshot", "collection", collection, "error", err)
		return fmt.Errorf("failed to write %s snapshot: %w", collection, err)
	}
	return nil
}

// Get returns the last snapshot, or an empty result if none was written
func (s *CacheStore) Get(ctx context.Context, collection string) ([]json.RawMessage, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM snapshots WHERE collection = ?`, collection).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		s.logger.Error("Failed to read snapshot", "collection", collection, "error", err)
		return nil, fmt.Errorf("failed to read %s snapshot: %w", collection, err)
	}

	var records []json.RawMessage
	if err := json.Unmarshal([]byte(body), &records); err != nil {
		return nil, fmt.Errorf("failed to decode %s snapshot: %w", collection, err)
	}
	return records, nil
}

var _ record.Cache = (*CacheStore)(nil)
