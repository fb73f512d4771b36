package credit_ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/till-ledger/internal/domain/credit"
	"github.com/till-ledger/internal/domain/record"
	"github.com/till-ledger/internal/domain/shared"
	"github.com/till-ledger/internal/entity"
	"github.com/till-ledger/internal/platform/keylock"
	"github.com/till-ledger/internal/platform/metrics"
)

const (
	AccountsCollection  = "credit_accounts"
	MovementsCollection = "credit_movements"
)

var (
	AccountSchema  = entity.Schema{Collection: AccountsCollection}
	MovementSchema = entity.Schema{
		Collection: MovementsCollection,
		Refs: map[string]string{
			"account_id": AccountsCollection,
			"reverses":   MovementsCollection,
		},
	}
)

// MovementRequest asks for one purchase or payment
type MovementRequest struct {
	AccountID int64
	Kind      credit.MovementKind
	Amount    int64
	Memo      string
	// SaleID links the movement to a sale; a second request with the same
	// SaleID and kind on the account returns the first movement
	SaleID  string
	Options credit.ApplyOptions
}

// Result is the balance transition of an applied movement
type Result struct {
	Movement      credit.Movement `json:"movement"`
	BalanceBefore int64           `json:"balance_before"`
	BalanceAfter  int64           `json:"balance_after"`
	Duplicate     bool            `json:"duplicate"`
}

// AuditReport compares the cached balance with the history
type AuditReport struct {
	AccountID    int64   `json:"account_id"`
	Cached       int64   `json:"cached_balance"`
	Derived      int64   `json:"derived_balance"`
	Drift        int64   `json:"drift"`
	Inconsistent []int64 `json:"inconsistent_movements,omitempty"`
	Movements    int     `json:"movements"`
}

// Balanced reports whether history and cache agree
func (r AuditReport) Balanced() bool {
	return r.Drift == 0 && len(r.Inconsistent) == 0
}

// Ledger applies credit movements. Every read-compute-write of a balance runs
// under the account's lock; different accounts proceed in parallel.
type Ledger struct {
	accounts  entity.Store[credit.Account]
	movements entity.Store[credit.Movement]
	locks     *keylock.Locker
	logger    *slog.Logger
	now       func() time.Time
}

func NewLedger(accounts entity.Store[credit.Account], movements entity.Store[credit.Movement], logger *slog.Logger) *Ledger {
	return &Ledger{
		accounts:  accounts,
		movements: movements,
		locks:     keylock.New(),
		logger:    logger.With("component", "credit_ledger"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RegisterAccount opens a tab with a zero balance
func (l *Ledger) RegisterAccount(ctx context.Context, holder string, kind credit.HolderKind, limit int64) (credit.Account, error) {
	acct, err := credit.NewAccount(holder, kind, limit)
	if err != nil {
		return credit.Account{}, err
	}
	acct.CreatedAt, acct.UpdatedAt = l.now(), l.now()
	created, err := l.accounts.Create(ctx, acct)
	if err != nil {
		l.logger.Error("Failed to register credit account", "holder", holder, "error", err)
		return credit.Account{}, fmt.Errorf("failed to register credit account: %w", err)
	}
	l.logger.Info("Credit account registered", "account_id", created.ID, "kind", kind, "limit", limit)
	return created, nil
}

// Account returns the account with its cached balance
func (l *Ledger) Account(ctx context.Context, id int64) (credit.Account, error) {
	acct, err := l.accounts.Get(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return credit.Account{}, credit.ErrAccountNotFound{ID: id}
	}
	return acct, err
}

// Accounts lists every account
func (l *Ledger) Accounts(ctx context.Context) ([]credit.Account, error) {
	return l.accounts.List(ctx)
}

// ApplyMovement validates the movement against the balance, appends it and
// updates the cached balance. Movements are never removed: a failed balance
// write is undone by appending a reversal.
func (l *Ledger) ApplyMovement(ctx context.Context, req MovementRequest) (Result, error) {
	accountID, unlock, err := l.lockAccount(ctx, req.AccountID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	logger := l.logger.With("account_id", accountID, "kind", req.Kind, "sale_id", req.SaleID)

	acct, err := l.Account(ctx, accountID)
	if err != nil {
		return Result{}, err
	}

	prior, err := l.bySale(ctx, acct.ID, req.SaleID, req.Kind)
	if err != nil {
		return Result{}, err
	}
	if prior.InEffect() {
		logger.Info("Movement for sale already applied")
		first := prior.First
		return Result{Movement: first, BalanceBefore: first.BalanceBefore, BalanceAfter: first.BalanceAfter, Duplicate: true}, nil
	}

	before, after, err := acct.Apply(req.Kind, req.Amount, req.Options)
	if err != nil {
		metrics.LedgerRejections.WithLabelValues(rejectionReason(err)).Inc()
		logger.Warn("Credit movement rejected", "amount", req.Amount, "error", err)
		return Result{}, err
	}

	at := l.now()
	mv := credit.Movement{
		AccountID:     acct.ID,
		Kind:          req.Kind,
		Amount:        req.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		SaleID:        req.SaleID,
		Memo:          req.Memo,
		Override:      req.Kind == credit.MovementPurchase && after > acct.CreditLimit,
		At:            at,
	}
	if prior.First.ID != 0 {
		// the sale id stays on the first movement of the chain
		mv.SaleID, mv.Reverses = "", prior.Last.ID
	}
	created, err := l.movements.Create(ctx, mv)
	if err != nil {
		logger.Error("Failed to append credit movement", "error", err)
		return Result{}, fmt.Errorf("failed to append credit movement: %w", err)
	}

	if err := l.accounts.Update(ctx, acct.ID, map[string]any{"balance": after, "updated_at": at}); err != nil {
		logger.Error("Failed to update balance, reversing movement", "movement_id", created.ID, "error", err)
		if _, cerr := l.movements.Create(ctx, created.Reversal(l.now())); cerr != nil {
			logger.Error("Failed to reverse movement after balance failure", "movement_id", created.ID, "error", cerr)
			return Result{}, fmt.Errorf("%w: movement %d kept without balance update: %w", shared.ErrPartialFailure, created.ID, errors.Join(err, cerr))
		}
		return Result{}, fmt.Errorf("failed to update balance of account %d: %w", acct.ID, err)
	}

	logger.Info("Credit movement applied", "amount", req.Amount, "balance_before", before, "balance_after", after)
	return Result{Movement: created, BalanceBefore: before, BalanceAfter: after}, nil
}

// UpdateLimit changes the credit limit. An existing balance over the new limit
// is kept; only later purchases are refused.
func (l *Ledger) UpdateLimit(ctx context.Context, id, limit int64) (credit.Account, error) {
	if limit < 0 {
		return credit.Account{}, fmt.Errorf("%w: credit limit cannot be negative", shared.ErrInvalidAmount)
	}
	id, unlock, err := l.lockAccount(ctx, id)
	if err != nil {
		return credit.Account{}, err
	}
	defer unlock()

	acct, err := l.Account(ctx, id)
	if err != nil {
		return credit.Account{}, err
	}
	if err := l.accounts.Update(ctx, id, map[string]any{"credit_limit": limit, "updated_at": l.now()}); err != nil {
		return credit.Account{}, fmt.Errorf("failed to update credit limit: %w", err)
	}
	acct.CreditLimit = limit
	return acct, nil
}

// Deactivate closes an account with a zero balance
func (l *Ledger) Deactivate(ctx context.Context, id int64) error {
	id, unlock, err := l.lockAccount(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	acct, err := l.Account(ctx, id)
	if err != nil {
		return err
	}
	if !acct.Active {
		return nil
	}
	if err := acct.CanDeactivate(); err != nil {
		return err
	}
	if err := l.accounts.Update(ctx, id, map[string]any{"active": false, "updated_at": l.now()}); err != nil {
		return fmt.Errorf("failed to deactivate account %d: %w", id, err)
	}
	l.logger.Info("Credit account deactivated", "account_id", id)
	return nil
}

// History returns the account's movements oldest first, each with its balance snapshot
func (l *Ledger) History(ctx context.Context, id int64) ([]credit.Movement, error) {
	acct, err := l.Account(ctx, id)
	if err != nil {
		return nil, err
	}
	movements, err := l.movements.Find(ctx, record.Query{}.Where("account_id", acct.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to load credit history: %w", err)
	}
	credit.SortByTime(movements)
	return movements, nil
}

// Audit re-derives the balance from history and reports any drift
func (l *Ledger) Audit(ctx context.Context, id int64) (AuditReport, error) {
	id, unlock, err := l.lockAccount(ctx, id)
	if err != nil {
		return AuditReport{}, err
	}
	defer unlock()

	acct, err := l.Account(ctx, id)
	if err != nil {
		return AuditReport{}, err
	}
	movements, err := l.movements.Find(ctx, record.Query{}.Where("account_id", id))
	if err != nil {
		return AuditReport{}, fmt.Errorf("failed to load credit history: %w", err)
	}
	credit.SortByTime(movements)

	report := AuditReport{
		AccountID: id,
		Cached:    acct.Balance,
		Derived:   credit.Derive(movements),
		Movements: len(movements),
	}
	report.Drift = report.Cached - report.Derived
	for _, m := range movements {
		if !m.Consistent() {
			report.Inconsistent = append(report.Inconsistent, m.ID)
		}
	}
	if !report.Balanced() {
		l.logger.Warn("Credit account out of balance", "account_id", id, "drift", report.Drift, "inconsistent", len(report.Inconsistent))
	}
	return report, nil
}

// Booking is what earlier requests with one sale id left on an account: the
// first movement and the last link of the reversals appended after it
type Booking struct {
	First     credit.Movement
	Last      credit.Movement
	Reversals int
}

// InEffect reports whether an earlier request was applied and not reversed
func (b Booking) InEffect() bool {
	return b.First.ID != 0 && b.Reversals%2 == 0
}

// bySale finds the booking of saleID on an account. A sale id already used by
// the other kind of movement is rejected.
func (l *Ledger) bySale(ctx context.Context, accountID int64, saleID string, kind credit.MovementKind) (Booking, error) {
	if saleID == "" {
		return Booking{}, nil
	}
	found, err := l.movements.Find(ctx, record.Query{Limit: 1}.Where("account_id", accountID).Where("sale_id", saleID))
	if err != nil {
		return Booking{}, fmt.Errorf("failed to look up sale %s: %w", saleID, err)
	}
	if len(found) == 0 {
		return Booking{}, nil
	}
	if found[0].Kind != kind {
		return Booking{}, fmt.Errorf("%w: sale id %s already identifies a %s on account %d", shared.ErrInvalidInput, saleID, found[0].Kind, accountID)
	}

	b := Booking{First: found[0], Last: found[0]}
	for {
		next, err := l.movements.Find(ctx, record.Query{Limit: 1}.Where("reverses", b.Last.ID))
		if err != nil {
			return Booking{}, fmt.Errorf("failed to look up reversals of movement %d: %w", b.Last.ID, err)
		}
		if len(next) == 0 {
			return b, nil
		}
		b.Last = next[0]
		b.Reversals++
	}
}

// lockAccount takes the lock of an account under its current identifier, so a
// temporary identifier and the server one it was confirmed as share one lock
func (l *Ledger) lockAccount(ctx context.Context, id int64) (int64, func(), error) {
	for {
		resolved, err := l.accounts.Resolve(ctx, id)
		if err != nil {
			return 0, nil, err
		}
		unlock := l.locks.Lock(lockKey(resolved))
		if !record.IsTemporary(resolved) {
			return resolved, unlock, nil
		}
		again, err := l.accounts.Resolve(ctx, id)
		if err != nil {
			unlock()
			return 0, nil, err
		}
		if again == resolved {
			return resolved, unlock, nil
		}
		unlock()
	}
}

func lockKey(id int64) string {
	return "account:" + strconv.FormatInt(id, 10)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, shared.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.As(err, &credit.ErrOverpayment{}):
		return "overpayment"
	case errors.Is(err, shared.ErrInvalidState):
		return "inactive"
	case errors.Is(err, shared.ErrInvalidAmount):
		return "invalid_amount"
	}
	return "invalid_input"
}
