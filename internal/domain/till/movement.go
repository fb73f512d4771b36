package till

import (
	"fmt"
	"time"

	"github.com/till-ledger/internal/domain/shared"
)

// Direction of a cash movement relative to the drawer
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// MovementKind says which operation produced a movement
type MovementKind string

const (
	MovementSale          MovementKind = "sale"
	MovementTabSettlement MovementKind = "tab_settlement"
	MovementOutflow       MovementKind = "outflow"
	MovementAdjustment    MovementKind = "adjustment"
)

// Movement is an append-only audit line owned by a session. It is never
// updated or deleted.
type Movement struct {
	ID        int64        `json:"id"`
	SessionID int64        `json:"session_id" validate:"required"`
	Kind      MovementKind `json:"kind" validate:"required,oneof=sale tab_settlement outflow adjustment"`
	Direction Direction    `json:"direction" validate:"required,oneof=in out"`
	Channel   Channel      `json:"channel,omitempty"`
	Amount    int64        `json:"amount" validate:"gt=0"`
	Reason    string       `json:"reason,omitempty"`
	SaleID    string       `json:"sale_id,omitempty"`
	Operator  string       `json:"operator,omitempty"`
	Reverses  int64        `json:"reverses,omitempty"` // movement this one cancels
	At        time.Time    `json:"at"`
}

// NewMovement builds a movement for a session
func NewMovement(sessionID int64, kind MovementKind, dir Direction, amount int64, at time.Time) (Movement, error) {
	if err := shared.RequirePositive(amount); err != nil {
		return Movement{}, err
	}
	if dir != DirectionIn && dir != DirectionOut {
		return Movement{}, fmt.Errorf("%w: unknown direction %q", shared.ErrInvalidInput, dir)
	}
	return Movement{
		SessionID: sessionID,
		Kind:      kind,
		Direction: dir,
		Amount:    amount,
		At:        at.UTC(),
	}, nil
}

func (m Movement) RecordID() int64 { return m.ID }

func (m Movement) WithID(id int64) Movement {
	m.ID = id
	return m
}

// Reversal builds the adjustment that cancels m on the drawer
func (m Movement) Reversal(at time.Time) (Movement, error) {
	dir := DirectionOut
	if m.Direction == DirectionOut {
		dir = DirectionIn
	}
	rev, err := NewMovement(m.SessionID, MovementAdjustment, dir, m.Amount, at)
	if err != nil {
		return Movement{}, err
	}
	rev.Channel = m.Channel
	rev.Reverses = m.ID
	rev.Reason = fmt.Sprintf("reversal of %s movement %d", m.Kind, m.ID)
	return rev, nil
}

// Signed returns the amount as seen by the drawer
func (m Movement) Signed() int64 {
	if m.Direction == DirectionOut {
		return -m.Amount
	}
	return m.Amount
}
