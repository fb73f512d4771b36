package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/till-ledger/internal/domain/record"
	"github.com/till-ledger/internal/platform/persistence"
)

const uniqueViolation = "23505"

// RemoteStore implements record.Remote as a jsonb document table
type RemoteStore struct {
	querier persistence.Querier
	pinger  func(ctx context.Context) error
	logger  *slog.Logger
}

// NewRemoteStore creates a PostgreSQL-backed remote store
func NewRemoteStore(logger *slog.Logger, db *persistence.PostgresDB) *RemoteStore {
	return &RemoteStore{
		querier: db.Pool(),
		pinger:  db.Ping,
		logger:  logger,
	}
}

// Insert stores doc under a new id. Replaying the same key returns the original id.
func (r *RemoteStore) Insert(ctx context.Context, collection, key string, doc json.RawMessage) (int64, error) {
	query := `
		INSERT INTO documents (collection, op_key, body)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (op_key) DO NOTHING
		RETURNING id
	`

	var id int64
	err := r.querier.QueryRow(ctx, query, collection, key, string(doc)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, r.mapError("insert", collection, err)
	}

	// The key was already applied by an earlier replay
	err = r.querier.QueryRow(ctx, `SELECT id FROM documents WHERE op_key = $1`, key).Scan(&id)
	if err != nil {
		return 0, r.mapError("insert", collection, err)
	}
	r.logger.Info("Insert already applied for operation key", "collection", collection, "op_key", key, "id", id)
	return id, nil
}

// Update merges patch into the stored document
func (r *RemoteStore) Update(ctx context.Context, collection string, id int64, patch json.RawMessage) error {
	query := `
		UPDATE documents
		SET body = body || $3::jsonb, updated_at = NOW()
		WHERE collection = $1 AND id = $2
	`

	result, err := r.querier.Exec(ctx, query, collection, id, string(patch))
	if err != nil {
		return r.mapError("update", collection, err)
	}
	if result.RowsAffected() == 0 {
		return record.ErrDocumentNotFound{Collection: collection, ID: id}
	}
	return nil
}

// Delete removes a document
func (r *RemoteStore) Delete(ctx context.Context, collection string, id int64) error {
	result, err := r.querier.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return r.mapError("delete", collection, err)
	}
	if result.RowsAffected() == 0 {
		return record.ErrDocumentNotFound{Collection: collection, ID: id}
	}
	return nil
}

// Find returns the documents of a collection matching q, each with its id field set
func (r *RemoteStore) Find(ctx context.Context, collection string, q record.Query) ([]json.RawMessage, error) {
	query, args, err := buildFindQuery(collection, q)
	if err != nil {
		return nil, err
	}

	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapError("find", collection, err)
	}
	defer rows.Close()

	docs := []json.RawMessage{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan %s document: %w", collection, err)
		}
		docs = append(docs, json.RawMessage(body))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over %s documents: %w", collection, err)
	}
	return docs, nil
}

// Ping checks the connection. The first success also migrates the schema.
func (r *RemoteStore) Ping(ctx context.Context) error {
	if r.pinger == nil {
		return nil
	}
	return r.pinger(ctx)
}

var sqlOperators = map[record.Operator]string{
	record.OpEq:  "=",
	record.OpGt:  ">",
	record.OpGte: ">=",
	record.OpLt:  "<",
	record.OpLte: "<=",
}

// buildFindQuery renders q as SQL. Field names are validated by the query, so
// they can be inlined as jsonb keys.
func buildFindQuery(collection string, q record.Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT (body || jsonb_build_object('id', id))::text FROM documents WHERE collection = $1`)
	args := []any{collection}

	for _, f := range q.Filters {
		args = append(args, nil)
		placeholder := "$" + strconv.Itoa(len(args))
		if f.Field == "id" {
			switch id := f.Value.(type) {
			case int64:
				args[len(args)-1] = id
			case int:
				args[len(args)-1] = int64(id)
			default:
				return "", nil, fmt.Errorf("id filter requires an integer value, got %T", f.Value)
			}
			fmt.Fprintf(&sb, " AND id %s %s", sqlOperators[f.Op], placeholder)
			continue
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode filter value for %s: %w", f.Field, err)
		}
		args[len(args)-1] = string(v)
		fmt.Fprintf(&sb, " AND body -> '%s' %s %s::jsonb", f.Field, sqlOperators[f.Op], placeholder)
	}

	direction := "ASC"
	if q.Desc {
		direction = "DESC"
	}
	switch q.OrderBy {
	case "", "id":
		fmt.Fprintf(&sb, " ORDER BY id %s", direction)
	default:
		fmt.Fprintf(&sb, " ORDER BY body -> '%s' %s, id ASC", q.OrderBy, direction)
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		sb.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}
	return sb.String(), args, nil
}

func (r *RemoteStore) mapError(op, collection string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		r.logger.Warn("Remote write violates a unique constraint",
			"op", op, "collection", collection, "constraint", pgErr.ConstraintName,
		)
		return record.ErrConstraint{Collection: collection, Constraint: pgErr.ConstraintName}
	}
	r.logger.Error("Remote store call failed", "op", op, "collection", collection, "error", err)
	return fmt.Errorf("failed to %s %s document: %w", op, collection, err)
}

var _ record.Remote = (*RemoteStore)(nil)
