package service

import (
	"context"

	"github.com/till-ledger/internal/cash_session"
	"github.com/till-ledger/internal/credit_ledger"
	"github.com/till-ledger/internal/domain/credit"
	"github.com/till-ledger/internal/domain/pending"
	"github.com/till-ledger/internal/domain/till"
	"github.com/till-ledger/internal/sync_engine"
)

// SessionService defines the till session operations exposed over HTTP
type SessionService interface {
	// Open starts today's session
	// Returns ErrSessionAlreadyOpen when one is already open for the date
	Open(ctx context.Context, operator string, openingFloat int64) (till.Session, error)
	Current(ctx context.Context, date string) (till.Session, error)
	Session(ctx context.Context, id int64) (till.Session, error)
	Sessions(ctx context.Context, date string) ([]till.Session, error)
	Repair(ctx context.Context, date string) (cash_session.RepairReport, error)

	// RecordSale books a sale; a partially applied booking returns both the
	// outcome and an error matching shared.ErrPartialFailure
	RecordSale(ctx context.Context, sessionID int64, sale cash_session.Sale) (cash_session.Outcome, error)
	RecordTabSettlement(ctx context.Context, sessionID int64, st cash_session.TabSettlement) (cash_session.Outcome, error)
	RecordOutflow(ctx context.Context, sessionID int64, o cash_session.Outflow) (cash_session.Outcome, error)
	RecordAdjustment(ctx context.Context, sessionID int64, a cash_session.Adjustment) (till.Movement, error)
	Close(ctx context.Context, id int64, declared till.Declaration, operator string) (till.Session, error)
	Report(ctx context.Context, sessionID int64) (cash_session.SessionReport, error)
}

// CreditService defines the credit account operations exposed over HTTP
type CreditService interface {
	RegisterAccount(ctx context.Context, holder string, kind credit.HolderKind, limit int64) (credit.Account, error)
	Account(ctx context.Context, id int64) (credit.Account, error)
	Accounts(ctx context.Context) ([]credit.Account, error)

	// ApplyMovement returns ErrLimitExceeded for a purchase over the limit
	// unless the request overrides it
	ApplyMovement(ctx context.Context, req credit_ledger.MovementRequest) (credit_ledger.Result, error)
	UpdateLimit(ctx context.Context, id, limit int64) (credit.Account, error)
	Deactivate(ctx context.Context, id int64) error
	History(ctx context.Context, id int64) ([]credit.Movement, error)
	Audit(ctx context.Context, id int64) (credit_ledger.AuditReport, error)
}

// SyncService drives queue replay
type SyncService interface {
	Drain(ctx context.Context) (sync_engine.Report, error)
}

// QueueReader inspects the pending-operation queue
type QueueReader interface {
	Pending(ctx context.Context, limit int) ([]*pending.Operation, error)
	Count(ctx context.Context) (int, error)
}

// ConnectivityService reports and overrides the connectivity signal
type ConnectivityService interface {
	IsOnline() bool
	Set(online bool)
}
