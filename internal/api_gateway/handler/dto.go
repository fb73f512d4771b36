package handler

import (
	"time"

	"github.com/till-ledger/internal/cash_session"
	"github.com/till-ledger/internal/credit_ledger"
	"github.com/till-ledger/internal/domain/credit"
	"github.com/till-ledger/internal/domain/record"
	"github.com/till-ledger/internal/domain/shared"
	"github.com/till-ledger/internal/domain/till"
)

// Amounts travel as decimal strings ("25.50") and are converted to minor units
// at this boundary.

// OpenSessionRequest represents a request to open today's session
type OpenSessionRequest struct {
	Operator     string `json:"operator" binding:"required"`
	OpeningFloat string `json:"opening_float" binding:"required"`
}

// SaleRequest represents a sale taken at the till
type SaleRequest struct {
	SaleID    string `json:"sale_id"`
	Channel   string `json:"channel" binding:"required,oneof=cash debit credit transfer credit_tab"`
	Amount    string `json:"amount" binding:"required"`
	AccountID int64  `json:"account_id" binding:"required_if=Channel credit_tab"`
	Operator  string `json:"operator"`
}

// TabSettlementRequest represents a payment against a credit account
type TabSettlementRequest struct {
	AccountID          int64  `json:"account_id" binding:"required"`
	Amount             string `json:"amount" binding:"required"`
	Channel            string `json:"channel" binding:"required,oneof=cash debit credit transfer"`
	Reference          string `json:"reference"`
	AllowCreditBalance bool   `json:"allow_credit_balance"`
	Operator           string `json:"operator"`
}

// OutflowRequest represents cash taken out of the drawer
type OutflowRequest struct {
	Amount   string `json:"amount" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
	Operator string `json:"operator"`
}

// AdjustmentRequest represents a correcting movement
type AdjustmentRequest struct {
	Direction string `json:"direction" binding:"required,oneof=in out"`
	Channel   string `json:"channel" binding:"omitempty,oneof=cash debit credit transfer credit_tab"`
	Amount    string `json:"amount" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
	Operator  string `json:"operator"`
}

// CloseSessionRequest carries the operator's count per channel. Channels left
// out were not counted.
type CloseSessionRequest struct {
	Operator string            `json:"operator" binding:"required"`
	Declared map[string]string `json:"declared" binding:"required,min=1"`
}

// RegisterAccountRequest represents a request to open a credit account
type RegisterAccountRequest struct {
	Holder      string `json:"holder" binding:"required"`
	Kind        string `json:"kind" binding:"required,oneof=customer staff"`
	CreditLimit string `json:"credit_limit" binding:"required"`
}

// CreditMovementRequest represents a purchase or payment on an account
type CreditMovementRequest struct {
	Kind               string `json:"kind" binding:"required,oneof=purchase payment"`
	Amount             string `json:"amount" binding:"required"`
	Memo               string `json:"memo"`
	SaleID             string `json:"sale_id"`
	OverrideLimit      bool   `json:"override_limit"`
	AllowCreditBalance bool   `json:"allow_credit_balance"`
}

// UpdateLimitRequest represents a new credit limit
type UpdateLimitRequest struct {
	CreditLimit string `json:"credit_limit" binding:"required"`
}

// ConnectivityRequest overrides the connectivity signal
type ConnectivityRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// SessionResponse represents a session in API responses
type SessionResponse struct {
	ID                int64             `json:"id"`
	Date              string            `json:"date"`
	Status            string            `json:"status"`
	OpeningFloat      string            `json:"opening_float"`
	OpenedBy          string            `json:"opened_by"`
	OpenedAt          string            `json:"opened_at"`
	Totals            map[string]string `json:"totals"`
	Outflows          string            `json:"outflows"`
	Available         string            `json:"available"`
	Declared          map[string]string `json:"declared,omitempty"`
	Variance          map[string]string `json:"variance,omitempty"`
	Uncounted         []string          `json:"uncounted,omitempty"`
	AggregateVariance string            `json:"aggregate_variance,omitempty"`
	CashOnHand        string            `json:"cash_on_hand,omitempty"`
	ClosedBy          string            `json:"closed_by,omitempty"`
	ClosedAt          string            `json:"closed_at,omitempty"`
	ClosingNote       string            `json:"closing_note,omitempty"`
	Pending           bool              `json:"pending"`
}

// MovementResponse represents a till movement in API responses
type MovementResponse struct {
	ID        int64  `json:"id"`
	SessionID int64  `json:"session_id"`
	Kind      string `json:"kind"`
	Direction string `json:"direction"`
	Channel   string `json:"channel,omitempty"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason,omitempty"`
	SaleID    string `json:"sale_id,omitempty"`
	Operator  string `json:"operator,omitempty"`
	Reverses  int64  `json:"reverses,omitempty"`
	At        string `json:"at"`
}

// OutcomeResponse represents the result of a multi-step booking
type OutcomeResponse struct {
	State     string              `json:"state"`
	Steps     []cash_session.Step `json:"steps"`
	Duplicate bool                `json:"duplicate"`
	Session   *SessionResponse    `json:"session,omitempty"`
	Movement  *MovementResponse   `json:"movement,omitempty"`
}

// AccountResponse represents a credit account in API responses
type AccountResponse struct {
	ID          int64  `json:"id"`
	Holder      string `json:"holder"`
	Kind        string `json:"kind"`
	CreditLimit string `json:"credit_limit"`
	Balance     string `json:"balance"`
	Available   string `json:"available"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	Pending     bool   `json:"pending"`
}

// CreditMovementResponse represents a credit movement in API responses
type CreditMovementResponse struct {
	ID            int64  `json:"id"`
	AccountID     int64  `json:"account_id"`
	Kind          string `json:"kind"`
	Amount        string `json:"amount"`
	BalanceBefore string `json:"balance_before"`
	BalanceAfter  string `json:"balance_after"`
	SaleID        string `json:"sale_id,omitempty"`
	Memo          string `json:"memo,omitempty"`
	Override      bool   `json:"override,omitempty"`
	Reverses      int64  `json:"reverses,omitempty"`
	At            string `json:"at"`
}

// CreditResultResponse represents an applied credit movement
type CreditResultResponse struct {
	Movement  CreditMovementResponse `json:"movement"`
	Duplicate bool                   `json:"duplicate"`
}

func mapSession(s till.Session) SessionResponse {
	resp := SessionResponse{
		ID:           s.ID,
		Date:         s.Date,
		Status:       string(s.Status),
		OpeningFloat: shared.FormatAmount(s.OpeningFloat),
		OpenedBy:     s.OpenedBy,
		OpenedAt:     s.OpenedAt.Format(time.RFC3339),
		Totals:       make(map[string]string, len(till.Channels)),
		Outflows:     shared.FormatAmount(s.Outflows),
		Available:    shared.FormatAmount(s.Available()),
		ClosedBy:     s.ClosedBy,
		ClosingNote:  s.ClosingNote,
		Pending:      record.IsTemporary(s.ID),
	}
	for _, ch := range till.Channels {
		resp.Totals[string(ch)] = shared.FormatAmount(s.Totals[ch])
	}
	if s.IsOpen() {
		return resp
	}
	resp.Declared = formatChannels(s.Declared)
	resp.Variance = formatChannels(s.Variance)
	for _, ch := range s.Uncounted {
		resp.Uncounted = append(resp.Uncounted, string(ch))
	}
	resp.AggregateVariance = shared.FormatAmount(s.AggregateVariance)
	resp.CashOnHand = shared.FormatAmount(s.CashOnHand)
	if s.ClosedAt != nil {
		resp.ClosedAt = s.ClosedAt.Format(time.RFC3339)
	}
	return resp
}

func mapMovement(m till.Movement) MovementResponse {
	return MovementResponse{
		ID:        m.ID,
		SessionID: m.SessionID,
		Kind:      string(m.Kind),
		Direction: string(m.Direction),
		Channel:   string(m.Channel),
		Amount:    shared.FormatAmount(m.Amount),
		Reason:    m.Reason,
		SaleID:    m.SaleID,
		Operator:  m.Operator,
		Reverses:  m.Reverses,
		At:        m.At.Format(time.RFC3339),
	}
}

func mapOutcome(o cash_session.Outcome) OutcomeResponse {
	resp := OutcomeResponse{State: string(o.State), Steps: o.Steps, Duplicate: o.Duplicate}
	if o.Session.ID != 0 {
		s := mapSession(o.Session)
		resp.Session = &s
	}
	if o.Movement.ID != 0 {
		m := mapMovement(o.Movement)
		resp.Movement = &m
	}
	return resp
}

func mapAccount(a credit.Account) AccountResponse {
	return AccountResponse{
		ID:          a.ID,
		Holder:      a.Holder,
		Kind:        string(a.Kind),
		CreditLimit: shared.FormatAmount(a.CreditLimit),
		Balance:     shared.FormatAmount(a.Balance),
		Available:   shared.FormatAmount(a.Available()),
		Active:      a.Active,
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   a.UpdatedAt.Format(time.RFC3339),
		Pending:     record.IsTemporary(a.ID),
	}
}

func mapCreditMovement(m credit.Movement) CreditMovementResponse {
	return CreditMovementResponse{
		ID:            m.ID,
		AccountID:     m.AccountID,
		Kind:          string(m.Kind),
		Amount:        shared.FormatAmount(m.Amount),
		BalanceBefore: shared.FormatAmount(m.BalanceBefore),
		BalanceAfter:  shared.FormatAmount(m.BalanceAfter),
		SaleID:        m.SaleID,
		Memo:          m.Memo,
		Override:      m.Override,
		Reverses:      m.Reverses,
		At:            m.At.Format(time.RFC3339),
	}
}

func mapCreditResult(r credit_ledger.Result) CreditResultResponse {
	return CreditResultResponse{Movement: mapCreditMovement(r.Movement), Duplicate: r.Duplicate}
}

func formatChannels(m map[till.Channel]int64) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for ch, v := range m {
		out[string(ch)] = shared.FormatAmount(v)
	}
	return out
}
