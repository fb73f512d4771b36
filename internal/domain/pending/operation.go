package pending

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the mutation a pending operation replays against the remote store
type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
)

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	return k == KindInsert || k == KindUpdate || k == KindDelete
}

// Operation is a mutation that has not yet been confirmed by the remote store.
// Operations are replayed in Seq order and are never reordered or coalesced.
type Operation struct {
	Seq        int64           `json:"seq"`
	Key        uuid.UUID       `json:"key"` // Idempotency key presented to the remote store
	Kind       Kind            `json:"kind"`
	Collection string          `json:"collection"`
	RecordID   int64           `json:"record_id"` // May still be a temporary identifier
	Payload    json.RawMessage `json:"payload,omitempty"`
	// Refs maps payload fields to the collection whose identifier they hold,
	// so the replayer can resolve temporary identifiers before sending.
	Refs          map[string]string `json:"refs,omitempty"`
	Attempts      int               `json:"attempts"`
	LastError     string            `json:"last_error,omitempty"`
	EnqueuedAt    time.Time         `json:"enqueued_at"`
	LastAttemptAt *time.Time        `json:"last_attempt_at,omitempty"`
}

// NewOperation builds an operation ready to be enqueued
func NewOperation(kind Kind, collection string, recordID int64, payload any, refs map[string]string) (*Operation, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown operation kind %q", kind)
	}
	if collection == "" {
		return nil, fmt.Errorf("operation collection cannot be empty")
	}

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload for %s: %w", kind, collection, err)
		}
		raw = b
	}

	return &Operation{
		Key:        uuid.New(),
		Kind:       kind,
		Collection: collection,
		RecordID:   recordID,
		Payload:    raw,
		Refs:       refs,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// IncrementAttempts records a failed replay
func (o *Operation) IncrementAttempts(reason string) {
	o.Attempts++
	o.LastError = reason
	now := time.Now().UTC()
	o.LastAttemptAt = &now
}

// Fields decodes the payload into a field map
func (o *Operation) Fields() (map[string]any, error) {
	fields := map[string]any{}
	if len(o.Payload) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(o.Payload, &fields); err != nil {
		return nil, fmt.Errorf("decode payload of operation %d: %w", o.Seq, err)
	}
	return fields, nil
}
