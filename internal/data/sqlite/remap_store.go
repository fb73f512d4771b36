package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/till-ledger/internal/domain/pending"
	"github.com/till-ledger/internal/platform/persistence"
)

// RemapStore implements pending.Remaps on the local SQLite store
type RemapStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRemapStore creates the durable temporary-to-server identifier table
func NewRemapStore(logger *slog.Logger, db *persistence.SQLiteDB) *RemapStore {
	return &RemapStore{db: db.DB(), logger: logger}
}

// Save records a confirmed identifier. Saving the same mapping twice is a no-op.
func (r *RemapStore) Save(ctx context.Context, collection string, tempID, realID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO id_remaps (collection, temp_id, real_id, confirmed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, temp_id) DO NOTHING
	`, collection, tempID, realID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		r.logger.Error("Failed to save identifier remap",
			"collection", collection, "temp_id", tempID, "real_id", realID, "error", err,
		)
		return fmt.Errorf("failed to save identifier remap: %w", err)
	}
	return nil
}

// Resolve looks up the server identifier for a temporary one
func (r *RemapStore) Resolve(ctx context.Context, collection string, tempID int64) (int64, bool, error) {
	var realID int64
	err := r.db.QueryRowContext(ctx, `
		SELECT real_id FROM id_remaps WHERE collection = ? AND temp_id = ?
	`, collection, tempID).Scan(&realID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to resolve identifier remap: %w", err)
	}
	return realID, true, nil
}

var _ pending.Remaps = (*RemapStore)(nil)
