package cash_session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/till-ledger/internal/credit_ledger"
	"github.com/till-ledger/internal/domain/credit"
	"github.com/till-ledger/internal/domain/record"
	"github.com/till-ledger/internal/domain/shared"
	"github.com/till-ledger/internal/domain/till"
)

// Sale is one payment taken at the till
type Sale struct {
	SaleID  string
	Channel till.Channel
	Amount  int64
	// AccountID is the credit account charged by a credit_tab sale
	AccountID int64
	Operator  string
}

// TabSettlement is a payment received against a credit account
type TabSettlement struct {
	AccountID int64
	Amount    int64
	// Channel is how the holder paid; credit_tab cannot settle a tab
	Channel            till.Channel
	Reference          string
	AllowCreditBalance bool
	Operator           string
}

// Outflow is cash leaving the drawer
type Outflow struct {
	Amount   int64
	Reason   string
	Operator string
}

// Adjustment corrects a session's audit trail, also after close
type Adjustment struct {
	Direction till.Direction
	Channel   till.Channel
	Amount    int64
	Reason    string
	Operator  string
}

// RecordSale books a sale on the session. A credit_tab sale also charges the
// credit account, and a sale id that was already booked returns the earlier movement.
func (m *Manager) RecordSale(ctx context.Context, sessionID int64, sale Sale) (Outcome, error) {
	if _, err := till.ParseChannel(string(sale.Channel)); err != nil {
		return Outcome{}, err
	}
	if err := shared.RequirePositive(sale.Amount); err != nil {
		return Outcome{}, err
	}
	if sale.Channel == till.ChannelCreditTab && sale.AccountID == 0 {
		return Outcome{}, fmt.Errorf("%w: credit_tab sale needs an account", shared.ErrInvalidInput)
	}

	sessionID, unlock, err := m.lockSession(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	session, err := m.openSession(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}
	prior, err := m.bySale(ctx, sessionID, sale.SaleID, till.MovementSale)
	if err != nil {
		return Outcome{}, err
	}
	if prior.InEffect() {
		m.logger.Info("Sale already booked", "session_id", sessionID, "sale_id", sale.SaleID, "movement_id", prior.First.ID)
		return Outcome{State: SagaCompleted, Duplicate: true, Session: session, Movement: prior.First}, nil
	}

	next := session.Clone()
	if err := next.AddSale(sale.Channel, sale.Amount); err != nil {
		return Outcome{}, err
	}
	mv, err := till.NewMovement(sessionID, till.MovementSale, till.DirectionIn, sale.Amount, m.now())
	if err != nil {
		return Outcome{}, err
	}
	mv.Channel, mv.SaleID, mv.Operator = sale.Channel, sale.SaleID, sale.Operator
	prior.rebook(&mv)

	var created till.Movement
	var steps []sagaStep
	if sale.Channel == till.ChannelCreditTab {
		// a retry with the same sale id finds the charge already applied
		steps = append(steps, sagaStep{
			name: "credit_charge",
			run: func(ctx context.Context) error {
				_, err := m.tabs.ApplyMovement(ctx, credit_ledger.MovementRequest{
					AccountID: sale.AccountID,
					Kind:      credit.MovementPurchase,
					Amount:    sale.Amount,
					SaleID:    sale.SaleID,
					Memo:      "sale in session " + strconv.FormatInt(sessionID, 10),
				})
				return err
			},
		})
	}
	steps = append(steps,
		m.movementStep(mv, &created),
		m.totalsStep(sessionID, map[string]any{"totals": next.Totals}),
	)

	out, err := runSaga(ctx, m.logger, "record_sale", steps)
	if err != nil {
		return out, err
	}
	out.Session, out.Movement = next, created
	m.logger.Info("Sale booked", "session_id", sessionID, "channel", sale.Channel, "amount", sale.Amount, "sale_id", sale.SaleID)
	return out, nil
}

// RecordTabSettlement books a payment against a credit account and counts it
// on the channel the holder paid with
func (m *Manager) RecordTabSettlement(ctx context.Context, sessionID int64, st TabSettlement) (Outcome, error) {
	if _, err := till.ParseChannel(string(st.Channel)); err != nil {
		return Outcome{}, err
	}
	if st.Channel == till.ChannelCreditTab {
		return Outcome{}, fmt.Errorf("%w: a tab cannot be settled with credit_tab", shared.ErrInvalidInput)
	}
	if err := shared.RequirePositive(st.Amount); err != nil {
		return Outcome{}, err
	}

	sessionID, unlock, err := m.lockSession(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	session, err := m.openSession(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}
	prior, err := m.bySale(ctx, sessionID, st.Reference, till.MovementTabSettlement)
	if err != nil {
		return Outcome{}, err
	}
	if prior.InEffect() {
		return Outcome{State: SagaCompleted, Duplicate: true, Session: session, Movement: prior.First}, nil
	}

	next := session.Clone()
	if err := next.AddSale(st.Channel, st.Amount); err != nil {
		return Outcome{}, err
	}
	mv, err := till.NewMovement(sessionID, till.MovementTabSettlement, till.DirectionIn, st.Amount, m.now())
	if err != nil {
		return Outcome{}, err
	}
	mv.Channel, mv.SaleID, mv.Operator = st.Channel, st.Reference, st.Operator
	mv.Reason = "settlement of account " + strconv.FormatInt(st.AccountID, 10)
	prior.rebook(&mv)

	var created till.Movement
	steps := []sagaStep{
		{
			name: "credit_payment",
			run: func(ctx context.Context) error {
				_, err := m.tabs.ApplyMovement(ctx, credit_ledger.MovementRequest{
					AccountID: st.AccountID,
					Kind:      credit.MovementPayment,
					Amount:    st.Amount,
					SaleID:    st.Reference,
					Memo:      "paid by " + string(st.Channel),
					Options:   credit.ApplyOptions{AllowCreditBalance: st.AllowCreditBalance},
				})
				return err
			},
		},
		m.movementStep(mv, &created),
		m.totalsStep(sessionID, map[string]any{"totals": next.Totals}),
	}

	out, err := runSaga(ctx, m.logger, "record_tab_settlement", steps)
	if err != nil {
		return out, err
	}
	out.Session, out.Movement = next, created
	m.logger.Info("Tab settlement booked", "session_id", sessionID, "account_id", st.AccountID, "channel", st.Channel, "amount", st.Amount)
	return out, nil
}

// RecordOutflow takes cash out of the drawer. The amount may not exceed the
// cash available in the session.
func (m *Manager) RecordOutflow(ctx context.Context, sessionID int64, o Outflow) (Outcome, error) {
	if o.Reason == "" {
		return Outcome{}, fmt.Errorf("%w: an outflow needs a reason", shared.ErrInvalidInput)
	}

	sessionID, unlock, err := m.lockSession(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	session, err := m.openSession(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}
	next := session.Clone()
	if err := next.AddOutflow(o.Amount); err != nil {
		m.logger.Warn("Outflow rejected", "session_id", sessionID, "amount", o.Amount, "error", err)
		return Outcome{}, err
	}
	mv, err := till.NewMovement(sessionID, till.MovementOutflow, till.DirectionOut, o.Amount, m.now())
	if err != nil {
		return Outcome{}, err
	}
	mv.Channel, mv.Reason, mv.Operator = till.ChannelCash, o.Reason, o.Operator

	var created till.Movement
	out, err := runSaga(ctx, m.logger, "record_outflow", []sagaStep{
		m.movementStep(mv, &created),
		m.totalsStep(sessionID, map[string]any{"outflows": next.Outflows}),
	})
	if err != nil {
		return out, err
	}
	out.Session, out.Movement = next, created
	m.logger.Info("Outflow booked", "session_id", sessionID, "amount", o.Amount, "available", next.Available())
	return out, nil
}

// RecordAdjustment appends a correcting movement. Totals are not changed, so
// closed sessions accept adjustments too.
func (m *Manager) RecordAdjustment(ctx context.Context, sessionID int64, a Adjustment) (till.Movement, error) {
	if a.Reason == "" {
		return till.Movement{}, fmt.Errorf("%w: an adjustment needs a reason", shared.ErrInvalidInput)
	}
	if a.Channel != "" {
		if _, err := till.ParseChannel(string(a.Channel)); err != nil {
			return till.Movement{}, err
		}
	}

	sessionID, unlock, err := m.lockSession(ctx, sessionID)
	if err != nil {
		return till.Movement{}, err
	}
	defer unlock()

	if _, err := m.Session(ctx, sessionID); err != nil {
		return till.Movement{}, err
	}
	mv, err := till.NewMovement(sessionID, till.MovementAdjustment, a.Direction, a.Amount, m.now())
	if err != nil {
		return till.Movement{}, err
	}
	mv.Channel, mv.Reason, mv.Operator = a.Channel, a.Reason, a.Operator

	created, err := m.movements.Create(ctx, mv)
	if err != nil {
		return till.Movement{}, fmt.Errorf("failed to record adjustment: %w", err)
	}
	m.logger.Info("Adjustment recorded", "session_id", sessionID, "direction", a.Direction, "amount", a.Amount)
	return created, nil
}

// Movements returns a session's audit trail oldest first
func (m *Manager) Movements(ctx context.Context, sessionID int64) ([]till.Movement, error) {
	sessionID, err := m.sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	movements, err := m.movements.Find(ctx, record.Query{}.Where("session_id", sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to load movements of session %d: %w", sessionID, err)
	}
	sortMovements(movements)
	return movements, nil
}

// movementStep appends mv. Movements are never deleted, so a later failure is
// undone by appending a reversal in the opposite direction.
func (m *Manager) movementStep(mv till.Movement, created *till.Movement) sagaStep {
	return sagaStep{
		name: "movement",
		run: func(ctx context.Context) error {
			c, err := m.movements.Create(ctx, mv)
			if err != nil {
				return err
			}
			*created = c
			return nil
		},
		compensate: func(ctx context.Context) error {
			rev, err := created.Reversal(m.now())
			if err != nil {
				return err
			}
			rev.Operator = created.Operator
			if _, err := m.movements.Create(ctx, rev); err != nil {
				return err
			}
			m.logger.Warn("Movement reversed", "session_id", created.SessionID, "movement_id", created.ID, "amount", created.Amount)
			return nil
		},
	}
}

func (m *Manager) totalsStep(sessionID int64, patch map[string]any) sagaStep {
	return sagaStep{
		name: "totals",
		run: func(ctx context.Context) error {
			return m.sessions.Update(ctx, sessionID, patch)
		},
	}
}

// Booking is what earlier requests with one sale id left in a session: the
// first movement and the last link of the reversals appended after it
type Booking struct {
	First till.Movement
	Last  till.Movement
	// Reversals counts the links after First
	Reversals int
}

// InEffect reports whether an earlier request was booked and not reversed
func (b Booking) InEffect() bool {
	return b.First.ID != 0 && b.Reversals%2 == 0
}

// rebook points mv at the reversal it cancels. The sale id stays on the first
// movement only, since sale ids are unique per movement ledger.
func (b Booking) rebook(mv *till.Movement) {
	if b.First.ID == 0 {
		return
	}
	mv.SaleID = ""
	mv.Reverses = b.Last.ID
	if mv.Reason == "" {
		mv.Reason = "rebooking of " + b.First.SaleID
	}
}

// bySale finds the booking of saleID. A sale id already used by another kind
// of movement is rejected.
func (m *Manager) bySale(ctx context.Context, sessionID int64, saleID string, kind till.MovementKind) (Booking, error) {
	if saleID == "" {
		return Booking{}, nil
	}
	found, err := m.movements.Find(ctx, record.Query{Limit: 1}.Where("session_id", sessionID).Where("sale_id", saleID))
	if err != nil {
		return Booking{}, fmt.Errorf("failed to look up sale %s: %w", saleID, err)
	}
	if len(found) == 0 {
		return Booking{}, nil
	}
	if found[0].Kind != kind {
		return Booking{}, fmt.Errorf("%w: sale id %s already identifies a %s movement", shared.ErrInvalidInput, saleID, found[0].Kind)
	}

	b := Booking{First: found[0], Last: found[0]}
	for {
		next, err := m.movements.Find(ctx, record.Query{Limit: 1}.Where("reverses", b.Last.ID))
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
