package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/till-ledger/internal/domain/pending"
	"github.com/till-ledger/internal/platform/persistence"
)

// QueueStore implements pending.Queue on the local SQLite store.
// The autoincrement sequence is the replay order.
type QueueStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewQueueStore creates a durable pending operation queue
func NewQueueStore(logger *slog.Logger, db *persistence.SQLiteDB) *QueueStore {
	return &QueueStore{db: db.DB(), logger: logger}
}

// Enqueue appends op and assigns its sequence number
func (q *QueueStore) Enqueue(ctx context.Context, op *pending.Operation) error {
	var refs []byte
	if len(op.Refs) > 0 {
		b, err := json.Marshal(op.Refs)
		if err != nil {
			return fmt.Errorf("failed to encode operation refs: %w", err)
		}
		refs = b
	}

	result, err := q.db.ExecContext(ctx, `
		INSERT INTO pending_operations (op_key, kind, collection, record_id, payload, refs, attempts, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		op.Key.String(),
		string(op.Kind),
		op.Collection,
		op.RecordID,
		nullableText(op.Payload),
		nullableText(refs),
		op.Attempts,
		op.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		q.logger.Error("Failed to enqueue operation",
			"op_key", op.Key.String(), "kind", op.Kind, "collection", op.Collection, "error", err,
		)
		return fmt.Errorf("failed to enqueue operation: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read operation sequence: %w", err)
	}
	op.Seq = seq
	return nil
}

// Pending returns up to limit operations in replay order. A non-positive limit returns all.
func (q *QueueStore) Pending(ctx context.Context, limit int) ([]*pending.Operation, error) {
	query := `
		SELECT seq, op_key, kind, collection, record_id, payload, refs, attempts, last_error, enqueued_at, last_attempt_at
		FROM pending_operations
		ORDER BY seq ASC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		q.logger.Error("Failed to read pending operations", "error", err)
		return nil, fmt.Errorf("failed to read pending operations: %w", err)
	}
	defer rows.Close()

	var ops []*pending.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over pending operations: %w", err)
	}
	return ops, nil
}

// Remove deletes a confirmed operation
func (q *QueueStore) Remove(ctx context.Context, seq int64) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE seq = ?`, seq)
	if err != nil {
		q.logger.Error("Failed to remove pending operation", "seq", seq, "error", err)
		return fmt.Errorf("failed to remove pending operation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return pending.ErrOperationNotFound{Seq: seq}
	}
	return nil
}

// RecordFailure increments the attempt counter and keeps the failure reason
func (q *QueueStore) RecordFailure(ctx context.Context, seq int64, reason string) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE pending_operations
		SET attempts = attempts + 1, last_error = ?, last_attempt_at = ?
		WHERE seq = ?
	`, reason, time.Now().UTC().Format(time.RFC3339Nano), seq)
	if err != nil {
		q.logger.Error("Failed to record operation failure", "seq", seq, "error", err)
		return fmt.Errorf("failed to record operation failure: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return pending.ErrOperationNotFound{Seq: seq}
	}
	return nil
}

// Count returns the queue depth
func (q *QueueStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return n, nil
}

func scanOperation(rows *sql.Rows) (*pending.Operation, error) {
	var (
		op            pending.Operation
		key, kind     string
		payload, refs sql.NullString
		lastError     sql.NullString
		enqueuedAt    string
		lastAttemptAt sql.NullString
	)
	err := rows.Scan(&op.Seq, &key, &kind, &op.Collection, &op.RecordID, &payload, &refs,
		&op.Attempts, &lastError, &enqueuedAt, &lastAttemptAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending operation: %w", err)
	}

	if op.Key, err = uuid.Parse(key); err != nil {
		return nil, fmt.Errorf("operation %d has invalid key: %w", op.Seq, err)
	}
	op.Kind = pending.Kind(kind)
	if payload.Valid {
		op.Payload = json.RawMessage(payload.String)
	}
	if refs.Valid {
		if err := json.Unmarshal([]byte(refs.String), &op.Refs); err != nil {
			return nil, fmt.Errorf("operation %d has invalid refs: %w", op.Seq, err)
		}
	}
	op.LastError = lastError.String
	if op.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueuedAt); err != nil {
		return nil, fmt.Errorf("operation %d has invalid enqueue time: %w", op.Seq, err)
	}
	if lastAttemptAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastAttemptAt.String)
		if err != nil {
			return nil, fmt.Errorf("operation %d has invalid attempt time: %w", op.Seq, err)
		}
		op.LastAttemptAt = &t
	}
	return &op, nil
}

func nullableText(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

var _ pending.Queue = (*QueueStore)(nil)
