package credit_ledger

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/till-ledger/internal/domain/credit"
	"github.com/till-ledger/internal/domain/shared"
	"github.com/till-ledger/internal/entity"
	"github.com/till-ledger/internal/entity/entitytest"
)

func newLedger(t *testing.T) (*Ledger, *entitytest.Harness) {
	t.Helper()
	h := entitytest.New(t)
	accounts := entity.NewRepository[credit.Account](AccountSchema, h.Deps)
	movements := entity.NewRepository[credit.Movement](MovementSchema, h.Deps)
	ledger := NewLedger(accounts, movements, h.Logger)

	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	ledger.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return ledger, h
}

func purchase(id, amount int64) MovementRequest {
	return MovementRequest{AccountID: id, Kind: credit.MovementPurchase, Amount: amount}
}

func payment(id, amount int64) MovementRequest {
	return MovementRequest{AccountID: id, Kind: credit.MovementPayment, Amount: amount}
}

func TestLedger_LimitScenario(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t)

	acct, err := ledger.RegisterAccount(ctx, "Dona Maria", credit.HolderCustomer, 5000)
	require.NoError(t, err)

	res, err := ledger.ApplyMovement(ctx, purchase(acct.ID, 5000))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.BalanceBefore)
	assert.Equal(t, int64(5000), res.BalanceAfter)

	_, err = ledger.ApplyMovement(ctx, purchase(acct.ID, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrLimitExceeded)

	got, err := ledger.Account(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.Balance)
	assert.Equal(t, int64(0), got.Available())

	res, err = ledger.ApplyMovement(ctx, payment(acct.ID, 2000))
	require.NoError(t, err)
	assert.Equal(t, int64(3000), res.BalanceAfter)

	history, err := ledger.History(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, credit.MovementPurchase, history[0].Kind)
	assert.Equal(t, int64(5000), history[0].BalanceAfter)
	assert.Equal(t, int64(5000), history[1].BalanceBefore)
	assert.Equal(t, int64(3000), history[1].BalanceAfter)
}

func TestLedger_Options(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t)
	acct, err := ledger.RegisterAccount(ctx, "Joao", credit.HolderStaff, 1000)
	require.NoError(t, err)

	t.Run("OverpaymentRejected", func(t *testing.T) {
		_, err := ledger.ApplyMovement(ctx, payment(acct.ID, 1))
		assert.ErrorIs(t, err, shared.ErrInvalidAmount)
	})

	t.Run("CreditBalanceAllowed", func(t *testing.T) {
		req := payment(acct.ID, 500)
		req.Options.AllowCreditBalance = true
		res, err := ledger.ApplyMovement(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, int64(-500), res.BalanceAfter)
	})

	t.Run("OverrideLimit", func(t *testing.T) {
		req := purchase(acct.ID, 2000)
		req.Options.OverrideLimit = true
		req.Memo = "balance correction"
		res, err := ledger.ApplyMovement(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, int64(1500), res.BalanceAfter)
		assert.True(t, res.Movement.Override)
	})

	t.Run("NonPositiveAmount", func(t *testing.T) {
		_, err := ledger.ApplyMovement(ctx, purchase(acct.ID, 0))
		assert.ErrorIs(t, err, shared.ErrInvalidAmount)
	})

	t.Run("UnknownAccount", func(t *testing.T) {
		_, err := ledger.ApplyMovement(ctx, purchase(424242, 10))
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestLedger_DuplicateSaleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t)
	acct, err := ledger.RegisterAccount(ctx, "Ana", credit.HolderCustomer, 10000)
	require.NoError(t, err)

	req := purchase(acct.ID, 1250)
	req.SaleID = "sale-0001"

	first, err := ledger.ApplyMovement(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := ledger.ApplyMovement(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Movement.ID, second.Movement.ID)

	history, err := ledger.History(ctx, acct.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	got, err := ledger.Account(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1250), got.Balance)
}

func TestLedger_Conservation(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t)
	acct, err := ledger.RegisterAccount(ctx, "Carlos", credit.HolderCustomer, 20000)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	var purchases, payments int64
	for i := 0; i < 60; i++ {
		amount := int64(rng.Intn(3000) + 1)
		if rng.Intn(2) == 0 {
			if _, err := ledger.ApplyMovement(ctx, purchase(acct.ID, amount)); err == nil {
				purchases += amount
			} else {
				require.ErrorIs(t, err, shared.ErrLimitExceeded)
			}
			continue
		}
		if _, err := ledger.ApplyMovement(ctx, payment(acct.ID, amount)); err == nil {
			payments += amount
		} else {
			require.ErrorIs(t, err, shared.ErrInvalidAmount)
		}
	}

	got, err := ledger.Account(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, purchases-payments, got.Balance)

	report, err := ledger.Audit(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, report.Balanced())
	assert.Equal(t, got.Balance, report.Derived)
}

func TestLedger_SerializesPerAccount(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t)
	acct, err := ledger.RegisterAccount(ctx, "Bar do Ze", credit.HolderCustomer, 1000)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.ApplyMovement(ctx, purchase(acct.ID, 100)); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)
	got, err := ledger.Account(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Balance)

	report, err := ledger.Audit(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, report.Balanced())
}

func TestLedger_BalanceFailureAppendsReversal(t *testing.T) {
	ctx := context.Background()
	ledger, h := newLedger(t)
	h.Monitor.Set(true)
	h.Remote.WithUnique(MovementsCollection, "sale_id")
	acct, err := ledger.RegisterAccount(ctx, "Rita", credit.HolderCustomer, 1000)
	require.NoError(t, err)

	req := purchase(acct.ID, 300)
	req.SaleID = "S-3"
	h.Remote.FailNext("update", AccountsCollection, errors.New("i/o timeout"))
	_, err = ledger.ApplyMovement(ctx, req)
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrPartialFailure)

	history, err := ledger.History(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, credit.MovementPurchase, history[0].Kind)
	reversal := history[1]
	assert.Equal(t, credit.MovementPayment, reversal.Kind)
	assert.Equal(t, history[0].ID, reversal.Reverses)
	assert.True(t, reversal.Override)
	assert.Empty(t, reversal.SaleID)
	assert.Equal(t, int64(300), reversal.BalanceBefore)
	assert.Equal(t, int64(0), reversal.BalanceAfter)
	assert.Equal(t, 0, h.Remote.Calls("delete"))

	report, err := ledger.Audit(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, report.Balanced())
	assert.Equal(t, int64(0), report.Derived)

	t.Run("RetryRebooks", func(t *testing.T) {
		res, err := ledger.ApplyMovement(ctx, req)
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
		assert.Equal(t, reversal.ID, res.Movement.Reverses)
		assert.Equal(t, int64(300), res.BalanceAfter)

		again, err := ledger.ApplyMovement(ctx, req)
		require.NoError(t, err)
		assert.True(t, again.Duplicate)

		report, err := ledger.Audit(ctx, acct.ID)
		require.NoError(t, err)
		assert.True(t, report.Balanced())
		assert.Equal(t, int64(300), report.Cached)
	})

	t.Run("CompensationFailureIsPartial", func(t *testing.T) {
		h.Remote.FailNext("update", AccountsCollection, errors.New("i/o timeout"))
		h.Remote.FailNth("insert", MovementsCollection, 2, errors.New("i/o timeout"))
		_, err := ledger.ApplyMovement(ctx, purchase(acct.ID, 200))
		assert.ErrorIs(t, err, shared.ErrPartialFailure)

		report, err := ledger.Audit(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(-200), report.Drift)
	})
}

func TestLedger_SaleIDKindCollision(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t)
	acct, err := ledger.RegisterAccount(ctx, "Tomas", credit.HolderCustomer, 1000)
	require.NoError(t, err)

	buy := purchase(acct.ID, 500)
	buy.SaleID = "S-9"
	_, err = ledger.ApplyMovement(ctx, buy)
	require.NoError(t, err)

	pay := payment(acct.ID, 500)
	pay.SaleID = "S-9"
	res, err := ledger.ApplyMovement(ctx, pay)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.False(t, res.Duplicate)

	got, err := ledger.Account(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Balance)
}

func TestLedger_Deactivate(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t)
	acct, err := ledger.RegisterAccount(ctx, "Pedro", credit.HolderStaff, 1000)
	require.NoError(t, err)
	_, err = ledger.ApplyMovement(ctx, purchase(acct.ID, 400))
	require.NoError(t, err)

	assert.ErrorIs(t, ledger.Deactivate(ctx, acct.ID), shared.ErrInvalidState)

	_, err = ledger.ApplyMovement(ctx, payment(acct.ID, 400))
	require.NoError(t, err)
	require.NoError(t, ledger.Deactivate(ctx, acct.ID))

	_, err = ledger.ApplyMovement(ctx, purchase(acct.ID, 1))
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestLedger_UpdateLimit(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t)
	acct, err := ledger.RegisterAccount(ctx, "Lia", credit.HolderCustomer, 1000)
	require.NoError(t, err)

	_, err = ledger.UpdateLimit(ctx, acct.ID, -1)
	assert.ErrorIs(t, err, shared.ErrInvalidAmount)

	updated, err := ledger.UpdateLimit(ctx, acct.ID, 3000)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), updated.CreditLimit)

	_, err = ledger.ApplyMovement(ctx, purchase(acct.ID, 2500))
	assert.NoError(t, err)
}

func TestLedger_OfflineAccountQueuesEverything(t *testing.T) {
	ctx := context.Background()
	ledger, h := newLedger(t)

	acct, err := ledger.RegisterAccount(ctx, "Offline", credit.HolderCustomer, 1000)
	require.NoError(t, err)
	_, err = ledger.ApplyMovement(ctx, purchase(acct.ID, 100))
	require.NoError(t, err)

	ops := h.Pending(t)
	require.Len(t, ops, 3)
	assert.Equal(t, AccountsCollection, ops[0].Collection)
	assert.Equal(t, MovementsCollection, ops[1].Collection)
	assert.Equal(t, map[string]string{"account_id": AccountsCollection, "reverses": MovementsCollection}, ops[1].Refs)
	assert.Equal(t, AccountsCollection, ops[2].Collection)
}
