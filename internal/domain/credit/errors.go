package credit

import (
	"strconv"

	"github.com/till-ledger/internal/domain/shared"
)

// ErrAccountNotFound indicates a missing credit account
type ErrAccountNotFound struct {
	ID int64
}

func (e ErrAccountNotFound) Error() string {
	return "credit account not found: " + strconv.FormatInt(e.ID, 10)
}

func (e ErrAccountNotFound) Is(target error) bool {
	return target == shared.ErrNotFound
}

// ErrAccountInactive is returned for movements against a deactivated account
type ErrAccountInactive struct {
	ID int64
}

func (e ErrAccountInactive) Error() string {
	return "credit account " + strconv.FormatInt(e.ID, 10) + " is inactive"
}

func (e ErrAccountInactive) Is(target error) bool {
	return target == shared.ErrInvalidState
}

// ErrLimitExceeded rejects a purchase that would push the balance past the limit
type ErrLimitExceeded struct {
	AccountID    int64
	BalanceAfter int64
	Limit        int64
}

func (e ErrLimitExceeded) Error() string {
	return "purchase would bring account " + strconv.FormatInt(e.AccountID, 10) + " to " +
		shared.FormatAmount(e.BalanceAfter) + ", over its limit of " + shared.FormatAmount(e.Limit)
}

func (e ErrLimitExceeded) Is(target error) bool {
	return target == shared.ErrLimitExceeded
}

// ErrOverpayment rejects a payment larger than the outstanding balance
type ErrOverpayment struct {
	AccountID int64
	Balance   int64
	Amount    int64
}

func (e ErrOverpayment) Error() string {
	return "payment of " + shared.FormatAmount(e.Amount) + " exceeds balance " +
		shared.FormatAmount(e.Balance) + " of account " + strconv.FormatInt(e.AccountID, 10)
}

func (e ErrOverpayment) Is(target error) bool {
	return target == shared.ErrInvalidAmount
}
