package credit

import (
	"fmt"
	"sort"
	"time"
)

// MovementKind is the direction of a ledger line
type MovementKind string

const (
	MovementPurchase MovementKind = "purchase"
	MovementPayment  MovementKind = "payment"
)

// Movement is an immutable ledger line. Corrections are new movements.
type Movement struct {
	ID            int64        `json:"id"`
	AccountID     int64        `json:"account_id" validate:"required"`
	Kind          MovementKind `json:"kind" validate:"required,oneof=purchase payment"`
	Amount        int64        `json:"amount" validate:"gt=0"`
	BalanceBefore int64        `json:"balance_before"`
	BalanceAfter  int64        `json:"balance_after"`
	SaleID        string       `json:"sale_id,omitempty"`
	Memo          string       `json:"memo,omitempty"`
	Override      bool         `json:"override,omitempty"`
	Reverses      int64        `json:"reverses,omitempty"` // movement this one cancels
	At            time.Time    `json:"at"`
}

func (m Movement) RecordID() int64 { return m.ID }

func (m Movement) WithID(id int64) Movement {
	m.ID = id
	return m
}

// Reversal builds the correcting movement that cancels m. It bypasses the
// limit checks, so it is marked as an override.
func (m Movement) Reversal(at time.Time) Movement {
	kind := MovementPayment
	if m.Kind == MovementPayment {
		kind = MovementPurchase
	}
	return Movement{
		AccountID:     m.AccountID,
		Kind:          kind,
		Amount:        m.Amount,
		BalanceBefore: m.BalanceAfter,
		BalanceAfter:  m.BalanceBefore,
		Memo:          fmt.Sprintf("reversal of %s movement %d", m.Kind, m.ID),
		Override:      true,
		Reverses:      m.ID,
		At:            at,
	}
}

// Signed returns the effect of the movement on the balance
func (m Movement) Signed() int64 {
	if m.Kind == MovementPayment {
		return -m.Amount
	}
	return m.Amount
}

// Consistent checks balance_after = balance_before ± amount
func (m Movement) Consistent() bool {
	return m.BalanceAfter == m.BalanceBefore+m.Signed()
}

// Derive recomputes a balance from history alone
func Derive(movements []Movement) int64 {
	var balance int64
	for _, m := range movements {
		balance += m.Signed()
	}
	return balance
}

// SortByTime orders movements oldest first, ties broken by id
func SortByTime(movements []Movement) {
	sort.SliceStable(movements, func(i, j int) bool {
		if movements[i].At.Equal(movements[j].At) {
			return movements[i].ID < movements[j].ID
		}
		return movements[i].At.Before(movements[j].At)
	})
}
