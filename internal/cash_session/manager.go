package cash_session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/till-ledger/internal/credit_ledger"
	"github.com/till-ledger/internal/domain/record"
	"github.com/till-ledger/internal/domain/shared"
	"github.com/till-ledger/internal/domain/till"
	"github.com/till-ledger/internal/entity"
	"github.com/till-ledger/internal/platform/keylock"
)

const (
	SessionsCollection  = "cash_sessions"
	MovementsCollection = "cash_movements"
)

var (
	SessionSchema  = entity.Schema{Collection: SessionsCollection}
	MovementSchema = entity.Schema{
		Collection: MovementsCollection,
		Refs: map[string]string{
			"session_id": SessionsCollection,
			"reverses":   MovementsCollection,
		},
	}
)

// Tabs books sales on credit accounts
type Tabs interface {
	ApplyMovement(ctx context.Context, req credit_ledger.MovementRequest) (credit_ledger.Result, error)
}

// RepairReport lists what an anomaly repair did for a date
type RepairReport struct {
	Date        string  `json:"date"`
	Kept        int64   `json:"kept"`
	ForceClosed []int64 `json:"force_closed"`
}

// Manager runs the till session lifecycle. Totals of one session are only
// changed under that session's lock; sessions never block each other.
type Manager struct {
	sessions  entity.Store[till.Session]
	movements entity.Store[till.Movement]
	tabs      Tabs
	locks     *keylock.Locker
	logger    *slog.Logger
	now       func() time.Time
}

func NewManager(
	sessions entity.Store[till.Session],
	movements entity.Store[till.Movement],
	tabs Tabs,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		sessions:  sessions,
		movements: movements,
		tabs:      tabs,
		locks:     keylock.New(),
		logger:    logger.With("component", "cash_session"),
		now:       time.Now,
	}
}

// Open starts a session for today's date. The date stays fixed for the whole shift.
func (m *Manager) Open(ctx context.Context, operator string, openingFloat int64) (till.Session, error) {
	at := m.now()
	session, err := till.NewSession(operator, openingFloat, at)
	if err != nil {
		return till.Session{}, err
	}

	unlock := m.locks.Lock(dateKey(session.Date))
	defer unlock()

	current, err := m.currentLocked(ctx, session.Date)
	switch {
	case err == nil:
		return till.Session{}, till.ErrSessionAlreadyOpen{Date: session.Date, ID: current.ID}
	case !errors.Is(err, shared.ErrNotFound):
		return till.Session{}, err
	}

	created, err := m.sessions.Create(ctx, session)
	if err != nil {
		m.logger.Error("Failed to open session", "date", session.Date, "operator", operator, "error", err)
		return till.Session{}, fmt.Errorf("failed to open session: %w", err)
	}
	m.logger.Info("Session opened", "session_id", created.ID, "date", created.Date, "operator", operator, "float", openingFloat)
	return created, nil
}

// Current returns the open session for date, repairing duplicates first
func (m *Manager) Current(ctx context.Context, date string) (till.Session, error) {
	unlock := m.locks.Lock(dateKey(date))
	defer unlock()
	return m.currentLocked(ctx, date)
}

// Session returns a session by id
func (m *Manager) Session(ctx context.Context, id int64) (till.Session, error) {
	s, err := m.sessions.Get(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return till.Session{}, till.ErrSessionNotFound{ID: id}
	}
	return s, err
}

// Sessions returns every session of a date, open or closed
func (m *Manager) Sessions(ctx context.Context, date string) ([]till.Session, error) {
	return m.sessions.Find(ctx, record.Query{OrderBy: "opened_at"}.Where("date", date))
}

// Repair keeps the most recently opened session of date and force-closes the rest
func (m *Manager) Repair(ctx context.Context, date string) (RepairReport, error) {
	unlock := m.locks.Lock(dateKey(date))
	defer unlock()

	open, err := m.openSessions(ctx, date)
	if err != nil {
		return RepairReport{}, err
	}
	if len(open) == 0 {
		return RepairReport{Date: date}, nil
	}
	return m.repairLocked(ctx, date, open)
}

// Close reconciles the declared counts and freezes the session
func (m *Manager) Close(ctx context.Context, id int64, declared till.Declaration, operator string) (till.Session, error) {
	id, unlock, err := m.lockSession(ctx, id)
	if err != nil {
		return till.Session{}, err
	}
	defer unlock()

	session, err := m.Session(ctx, id)
	if err != nil {
		return till.Session{}, err
	}
	closed := session.Clone()
	if err := closed.Close(declared, operator, m.now()); err != nil {
		return till.Session{}, err
	}

	patch := map[string]any{
		"status":             closed.Status,
		"declared":           closed.Declared,
		"variance":           closed.Variance,
		"uncounted":          closed.Uncounted,
		"aggregate_variance": closed.AggregateVariance,
		"cash_on_hand":       closed.CashOnHand,
		"closed_by":          closed.ClosedBy,
		"closed_at":          closed.ClosedAt,
	}
	if err := m.sessions.Update(ctx, id, patch); err != nil {
		m.logger.Error("Failed to close session", "session_id", id, "error", err)
		return till.Session{}, fmt.Errorf("failed to close session %d: %w", id, err)
	}
	m.logger.Info("Session closed",
		"session_id", id,
		"aggregate_variance", closed.AggregateVariance,
		"cash_on_hand", closed.CashOnHand,
		"uncounted", len(closed.Uncounted),
	)
	return closed, nil
}

func (m *Manager) currentLocked(ctx context.Context, date string) (till.Session, error) {
	open, err := m.openSessions(ctx, date)
	if err != nil {
		return till.Session{}, err
	}
	switch len(open) {
	case 0:
		return till.Session{}, till.ErrNoOpenSession{Date: date}
	case 1:
		return open[0], nil
	}

	report, err := m.repairLocked(ctx, date, open)
	if err != nil {
		return till.Session{}, err
	}
	for _, s := range open {
		if s.ID == report.Kept {
			return s, nil
		}
	}
	return till.Session{}, till.ErrNoOpenSession{Date: date}
}

func (m *Manager) openSessions(ctx context.Context, date string) ([]till.Session, error) {
	open, err := m.sessions.Find(ctx, record.Query{}.Where("date", date).Where("status", string(till.StatusOpen)))
	if err != nil {
		return nil, fmt.Errorf("failed to load open sessions for %s: %w", date, err)
	}
	return open, nil
}

func (m *Manager) repairLocked(ctx context.Context, date string, open []till.Session) (RepairReport, error) {
	sort.SliceStable(open, func(i, j int) bool { return newer(open[i], open[j]) })
	kept := open[0]
	report := RepairReport{Date: date, Kept: kept.ID}
	if len(open) == 1 {
		return report, nil
	}

	m.logger.Warn("Several open sessions found for one date, repairing", "date", date, "count", len(open), "kept", kept.ID)
	var errs []error
	for _, s := range open[1:] {
		closed, err := m.forceClose(ctx, s, kept.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if closed {
			report.ForceClosed = append(report.ForceClosed, s.ID)
		}
	}
	return report, errors.Join(errs...)
}

// forceClose closes s unless an operator closed it after the open list was read
func (m *Manager) forceClose(ctx context.Context, stale till.Session, keptID int64) (bool, error) {
	id, unlock, err := m.lockSession(ctx, stale.ID)
	if err != nil {
		return false, err
	}
	defer unlock()

	s, err := m.Session(ctx, id)
	if err != nil {
		return false, err
	}
	if !s.IsOpen() {
		m.logger.Info("Duplicate session already closed, leaving it", "session_id", id, "closed_by", s.ClosedBy)
		return false, nil
	}

	note := "closed automatically: session " + strconv.FormatInt(keptID, 10) + " remains open for " + s.Date
	s.ForceClose(note, m.now())
	patch := map[string]any{
		"status":       s.Status,
		"closed_by":    s.ClosedBy,
		"closed_at":    s.ClosedAt,
		"closing_note": s.ClosingNote,
		"uncounted":    s.Uncounted,
	}
	if err := m.sessions.Update(ctx, s.ID, patch); err != nil {
		m.logger.Error("Failed to force-close duplicate session", "session_id", s.ID, "error", err)
		return false, fmt.Errorf("failed to force-close session %d: %w", s.ID, err)
	}
	m.logger.Warn("Duplicate session force-closed", "session_id", s.ID, "kept", keptID)
	return true, nil
}

// lockSession takes the lock of a session under its current identifier. A
// temporary identifier confirmed by a drain resolves to the server one, so both
// names of a session share one lock.
func (m *Manager) lockSession(ctx context.Context, id int64) (int64, func(), error) {
	for {
		resolved, err := m.sessions.Resolve(ctx, id)
		if err != nil {
			return 0, nil, err
		}
		unlock := m.locks.Lock(sessionKey(resolved))
		if !record.IsTemporary(resolved) {
			return resolved, unlock, nil
		}
		// the drain may have confirmed it while we waited
		again, err := m.sessions.Resolve(ctx, id)
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

// openSession loads a session that must still accept bookings
func (m *Manager) openSession(ctx context.Context, id int64) (till.Session, error) {
	s, err := m.Session(ctx, id)
	if err != nil {
		return till.Session{}, err
	}
	if !s.IsOpen() {
		return till.Session{}, till.ErrSessionClosed{ID: id}
	}
	return s, nil
}

// newer orders sessions most recently opened first. Identifiers break ties:
// a temporary one was created after any confirmed one.
func newer(a, b till.Session) bool {
	if !a.OpenedAt.Equal(b.OpenedAt) {
		return a.OpenedAt.After(b.OpenedAt)
	}
	ta, tb := record.IsTemporary(a.ID), record.IsTemporary(b.ID)
	if ta != tb {
		return ta
	}
	if ta {
		return a.ID < b.ID
	}
	return a.ID > b.ID
}

func dateKey(date string) string {
	return "date:" + date
}

func sessionKey(id int64) string {
	return "session:" + strconv.FormatInt(id, 10)
}
