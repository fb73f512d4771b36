package credit

import (
	"fmt"
	"time"

	"github.com/till-ledger/internal/domain/shared"
)

// HolderKind distinguishes customer tabs from staff tabs
type HolderKind string

const (
	HolderCustomer HolderKind = "customer"
	HolderStaff    HolderKind = "staff"
)

// Account is a running credit balance. Balance is a cache of the signed sum of
// the account's movements and is only changed through Apply.
type Account struct {
	ID          int64      `json:"id"`
	Holder      string     `json:"holder" validate:"required"`
	Kind        HolderKind `json:"kind" validate:"required,oneof=customer staff"`
	CreditLimit int64      `json:"credit_limit" validate:"gte=0"`
	Balance     int64      `json:"balance"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewAccount registers a holder with a zero balance
func NewAccount(holder string, kind HolderKind, creditLimit int64) (Account, error) {
	if holder == "" {
		return Account{}, fmt.Errorf("%w: holder name cannot be empty", shared.ErrInvalidInput)
	}
	if kind != HolderCustomer && kind != HolderStaff {
		return Account{}, fmt.Errorf("%w: unknown holder kind %q", shared.ErrInvalidInput, kind)
	}
	if creditLimit < 0 {
		return Account{}, fmt.Errorf("%w: credit limit cannot be negative", shared.ErrInvalidAmount)
	}
	now := time.Now().UTC()
	return Account{
		Holder:      holder,
		Kind:        kind,
		CreditLimit: creditLimit,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (a Account) RecordID() int64 { return a.ID }

func (a Account) WithID(id int64) Account {
	a.ID = id
	return a
}

// Available returns the credit still usable for purchases
func (a Account) Available() int64 {
	return a.CreditLimit - a.Balance
}

// ApplyOptions relaxes the default limits of Apply
type ApplyOptions struct {
	// OverrideLimit allows a purchase past the credit limit. Administrative corrections only.
	OverrideLimit bool
	// AllowCreditBalance allows a payment that leaves the holder in credit
	AllowCreditBalance bool
}

// Apply computes the balance after a movement without mutating a
func (a Account) Apply(kind MovementKind, amount int64, opts ApplyOptions) (before, after int64, err error) {
	if !a.Active {
		return 0, 0, ErrAccountInactive{ID: a.ID}
	}
	if err := shared.RequirePositive(amount); err != nil {
		return 0, 0, err
	}

	before = a.Balance
	switch kind {
	case MovementPurchase:
		after = before + amount
		if after > a.CreditLimit && !opts.OverrideLimit {
			return 0, 0, ErrLimitExceeded{AccountID: a.ID, BalanceAfter: after, Limit: a.CreditLimit}
		}
	case MovementPayment:
		after = before - amount
		if after < 0 && !opts.AllowCreditBalance {
			return 0, 0, ErrOverpayment{AccountID: a.ID, Balance: before, Amount: amount}
		}
	default:
		return 0, 0, fmt.Errorf("%w: unknown movement kind %q", shared.ErrInvalidInput, kind)
	}
	return before, after, nil
}

// CanDeactivate refuses while anything is owed either way
func (a Account) CanDeactivate() error {
	if a.Balance != 0 {
		return fmt.Errorf("%w: account %d still has balance %s", shared.ErrInvalidState, a.ID, shared.FormatAmount(a.Balance))
	}
	return nil
}
