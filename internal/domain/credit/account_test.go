package credit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/till-ledger/internal/domain/shared"
)

func TestNewAccount(t *testing.T) {
	t.Run("SuccessfulCreation", func(t *testing.T) {
		acc, err := NewAccount("Dona Maria", HolderCustomer, 5000)
		require.NoError(t, err)
		assert.True(t, acc.Active)
		assert.Zero(t, acc.Balance)
		assert.Equal(t, int64(5000), acc.Available())
		assert.WithinDuration(t, acc.CreatedAt, acc.UpdatedAt, time.Millisecond)
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := NewAccount("", HolderStaff, 0)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
		_, err = NewAccount("Zé", HolderKind("vendor"), 0)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
		_, err = NewAccount("Zé", HolderStaff, -1)
		assert.ErrorIs(t, err, shared.ErrInvalidAmount)
	})
}

func TestAccount_Apply(t *testing.T) {
	acc := Account{ID: 3, CreditLimit: 5000, Balance: 0, Active: true}

	tests := []struct {
		name      string
		balance   int64
		kind      MovementKind
		amount    int64
		opts      ApplyOptions
		wantAfter int64
		wantErrIs error
		wantTyped any
	}{
		{name: "purchase up to limit", kind: MovementPurchase, amount: 5000, wantAfter: 5000},
		{name: "purchase one cent over", balance: 5000, kind: MovementPurchase, amount: 1, wantErrIs: shared.ErrLimitExceeded, wantTyped: &ErrLimitExceeded{}},
		{name: "override past limit", balance: 5000, kind: MovementPurchase, amount: 1, opts: ApplyOptions{OverrideLimit: true}, wantAfter: 5001},
		{name: "payment", balance: 5000, kind: MovementPayment, amount: 2000, wantAfter: 3000},
		{name: "overpayment refused", balance: 100, kind: MovementPayment, amount: 101, wantErrIs: shared.ErrInvalidAmount, wantTyped: &ErrOverpayment{}},
		{name: "overpayment allowed", balance: 100, kind: MovementPayment, amount: 101, opts: ApplyOptions{AllowCreditBalance: true}, wantAfter: -1},
		{name: "zero amount", kind: MovementPurchase, amount: 0, wantErrIs: shared.ErrInvalidAmount},
		{name: "unknown kind", kind: MovementKind("refund"), amount: 1, wantErrIs: shared.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := acc
			a.Balance = tt.balance

			before, after, err := a.Apply(tt.kind, tt.amount, tt.opts)
			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
				switch target := tt.wantTyped.(type) {
				case *ErrLimitExceeded:
					assert.True(t, errors.As(err, target))
				case *ErrOverpayment:
					assert.True(t, errors.As(err, target))
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.balance, before)
			assert.Equal(t, tt.wantAfter, after)
			assert.Equal(t, tt.balance, a.Balance, "Apply must not mutate the account")
		})
	}

	t.Run("inactive", func(t *testing.T) {
		a := acc
		a.Active = false
		_, _, err := a.Apply(MovementPayment, 1, ApplyOptions{})
		assert.ErrorIs(t, err, shared.ErrInvalidState)
	})
}

func TestAccount_CanDeactivate(t *testing.T) {
	assert.NoError(t, Account{Balance: 0}.CanDeactivate())
	assert.ErrorIs(t, Account{Balance: 1}.CanDeactivate(), shared.ErrInvalidState)
	assert.ErrorIs(t, Account{Balance: -1}.CanDeactivate(), shared.ErrInvalidState)
}

func TestDerive(t *testing.T) {
	now := time.Now()
	history := []Movement{
		{ID: 2, Kind: MovementPayment, Amount: 2000, BalanceBefore: 5000, BalanceAfter: 3000, At: now.Add(time.Minute)},
		{ID: 1, Kind: MovementPurchase, Amount: 5000, BalanceBefore: 0, BalanceAfter: 5000, At: now},
	}

	assert.Equal(t, int64(3000), Derive(history))
	for _, m := range history {
		assert.True(t, m.Consistent())
	}

	SortByTime(history)
	assert.Equal(t, int64(1), history[0].ID)

	broken := Movement{Kind: MovementPurchase, Amount: 10, BalanceBefore: 0, BalanceAfter: 11}
	assert.False(t, broken.Consistent())
}
