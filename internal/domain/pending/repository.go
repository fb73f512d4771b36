package pending

import (
	"context"
	"strconv"
)

// Queue is the durable, ordered log of operations awaiting remote confirmation.
// Every write is durable before the call returns.
type Queue interface {
	Enqueue(ctx context.Context, op *Operation) error
	// Pending returns up to limit operations in replay order without removing them
	Pending(ctx context.Context, limit int) ([]*Operation, error)
	Remove(ctx context.Context, seq int64) error
	RecordFailure(ctx context.Context, seq int64, reason string) error
	Count(ctx context.Context) (int, error)
}

// Remaps is the durable temporary-to-server identifier table.
type Remaps interface {
	Save(ctx context.Context, collection string, tempID, realID int64) error
	// Resolve returns the server identifier for a temporary one, if confirmed
	Resolve(ctx context.Context, collection string, tempID int64) (int64, bool, error)
}

// ErrOperationNotFound indicates a missing queued operation
type ErrOperationNotFound struct {
	Seq int64
}

func (e ErrOperationNotFound) Error() string {
	return "pending operation not found: " + strconv.FormatInt(e.Seq, 10)
}

// ErrUnresolvedReference is returned when an operation references a temporary
// identifier whose insert has not been confirmed yet.
type ErrUnresolvedReference struct {
	Collection string
	Field      string
	TempID     int64
}

func (e ErrUnresolvedReference) Error() string {
	return "unresolved temporary identifier " + strconv.FormatInt(e.TempID, 10) +
		" in field " + e.Field + " referencing " + e.Collection
}
