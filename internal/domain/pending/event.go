package pending

import "time"

// EventType distinguishes sync events on the event stream
type EventType string

const (
	EventReplayed EventType = "replayed"
	EventRemapped EventType = "remapped"
)

// SyncEvent announces a confirmed operation to other terminals so they can
// refresh their cached snapshot of the collection
type SyncEvent struct {
	Type       EventType `json:"type"`
	TerminalID string    `json:"terminal_id"`
	OpKey      string    `json:"op_key"`
	Kind       Kind      `json:"kind"`
	Collection string    `json:"collection"`
	RecordID   int64     `json:"record_id"`
	TempID     int64     `json:"temp_id,omitempty"`
	At         time.Time `json:"at"`
}

// StallAlert reports an operation that keeps failing at the head of the queue
type StallAlert struct {
	TerminalID string    `json:"terminal_id"`
	Seq        int64     `json:"seq"`
	OpKey      string    `json:"op_key"`
	Kind       Kind      `json:"kind"`
	Collection string    `json:"collection"`
	RecordID   int64     `json:"record_id"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error"`
	At         time.Time `json:"at"`
}

// NewStallAlert describes op as stalled
func NewStallAlert(terminalID string, op *Operation) StallAlert {
	return StallAlert{
		TerminalID: terminalID,
		Seq:        op.Seq,
		OpKey:      op.Key.String(),
		Kind:       op.Kind,
		Collection: op.Collection,
		RecordID:   op.RecordID,
		Attempts:   op.Attempts,
		LastError:  op.LastError,
		At:         time.Now().UTC(),
	}
}
