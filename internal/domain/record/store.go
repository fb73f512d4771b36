package record

import (
	"context"
	"encoding/json"
	"strconv"
)

// IsTemporary reports whether id was assigned locally and is awaiting a server id.
// Server identifiers are always non-negative.
func IsTemporary(id int64) bool {
	return id < 0
}

// Cache is the durable per-collection snapshot store. Reading a collection that
// was never written returns an empty result, not an error.
type Cache interface {
	Put(ctx context.Context, collection string, records []json.RawMessage) error
	Get(ctx context.Context, collection string) ([]json.RawMessage, error)
}

// Remote is the authoritative backing store. It is assumed eventually consistent
// and not transactional across collections.
type Remote interface {
	// Insert is idempotent per key: repeating a key returns the id assigned the first time
	Insert(ctx context.Context, collection, key string, doc json.RawMessage) (int64, error)
	// Update merges patch into the stored document
	Update(ctx context.Context, collection string, id int64, patch json.RawMessage) error
	Delete(ctx context.Context, collection string, id int64) error
	Find(ctx context.Context, collection string, q Query) ([]json.RawMessage, error)
	Ping(ctx context.Context) error
}

// ErrDocumentNotFound is returned by a Remote when the addressed document does not exist
type ErrDocumentNotFound struct {
	Collection string
	ID         int64
}

func (e ErrDocumentNotFound) Error() string {
	return "document " + strconv.FormatInt(e.ID, 10) + " not found in " + e.Collection
}

// ErrConstraint is returned by a Remote when a write violates a uniqueness rule
type ErrConstraint struct {
	Collection string
	Constraint string
}

func (e ErrConstraint) Error() string {
	return "write to " + e.Collection + " violates " + e.Constraint
}
