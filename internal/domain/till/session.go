package till

import (
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/till-ledger/internal/domain/shared"
)

// Channel is a payment method tracked as an independent running total
type Channel string

const (
	ChannelCash      Channel = "cash"
	ChannelDebit     Channel = "debit"
	ChannelCredit    Channel = "credit"
	ChannelTransfer  Channel = "transfer"
	ChannelCreditTab Channel = "credit_tab"
)

// Channels lists every channel in reporting order
var Channels = []Channel{ChannelCash, ChannelDebit, ChannelCredit, ChannelTransfer, ChannelCreditTab}

// ParseChannel validates a channel name
func ParseChannel(s string) (Channel, error) {
	for _, c := range Channels {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown payment channel %q", shared.ErrInvalidInput, s)
}

// Status of a till session
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// DateLayout is the calendar date format sessions are scoped to
const DateLayout = "2006-01-02"

// Session is one operator shift. Totals hold the sales per channel and never
// include the opening float. Once closed every field is frozen.
type Session struct {
	ID           int64             `json:"id"`
	Date         string            `json:"date" validate:"required,datetime=2006-01-02"`
	Status       Status            `json:"status" validate:"required,oneof=open closed"`
	OpeningFloat int64             `json:"opening_float" validate:"gte=0"`
	OpenedBy     string            `json:"opened_by" validate:"required"`
	OpenedAt     time.Time         `json:"opened_at"`
	Totals       map[Channel]int64 `json:"totals"`
	Outflows     int64             `json:"outflows" validate:"gte=0"`

	Declared          map[Channel]int64 `json:"declared,omitempty"`
	Variance          map[Channel]int64 `json:"variance,omitempty"`
	Uncounted         []Channel         `json:"uncounted,omitempty"`
	AggregateVariance int64             `json:"aggregate_variance"`
	CashOnHand        int64             `json:"cash_on_hand"`
	ClosedBy          string            `json:"closed_by,omitempty"`
	ClosedAt          *time.Time        `json:"closed_at,omitempty"`
	ClosingNote       string            `json:"closing_note,omitempty"`
}

// NewSession opens a session fixed to the calendar date of at
func NewSession(operator string, openingFloat int64, at time.Time) (Session, error) {
	if operator == "" {
		return Session{}, fmt.Errorf("%w: operator is required to open a session", shared.ErrInvalidInput)
	}
	if openingFloat < 0 {
		return Session{}, fmt.Errorf("%w: opening float cannot be negative", shared.ErrInvalidAmount)
	}
	return Session{
		Date:         at.Format(DateLayout),
		Status:       StatusOpen,
		OpeningFloat: openingFloat,
		OpenedBy:     operator,
		OpenedAt:     at.UTC(),
		Totals:       map[Channel]int64{},
	}, nil
}

func (s Session) RecordID() int64 { return s.ID }

func (s Session) WithID(id int64) Session {
	s.ID = id
	return s
}

// Clone returns a copy that shares no maps with s
func (s Session) Clone() Session {
	s.Totals = maps.Clone(s.Totals)
	if s.Totals == nil {
		s.Totals = map[Channel]int64{}
	}
	s.Declared = maps.Clone(s.Declared)
	s.Variance = maps.Clone(s.Variance)
	s.Uncounted = append([]Channel(nil), s.Uncounted...)
	return s
}

func (s Session) IsOpen() bool { return s.Status == StatusOpen }

// Available is the cash that may leave the drawer: float plus cash sales minus outflows
func (s Session) Available() int64 {
	return s.OpeningFloat + s.Totals[ChannelCash] - s.Outflows
}

// ExpectedCash is what the drawer should hold before counting
func (s Session) ExpectedCash() int64 {
	return s.Available()
}

func (s Session) ensureOpen() error {
	if !s.IsOpen() {
		return ErrSessionClosed{ID: s.ID}
	}
	return nil
}

// AddSale increments exactly one channel total
func (s *Session) AddSale(ch Channel, amount int64) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if _, err := ParseChannel(string(ch)); err != nil {
		return err
	}
	if err := shared.RequirePositive(amount); err != nil {
		return err
	}
	if s.Totals == nil {
		s.Totals = map[Channel]int64{}
	}
	s.Totals[ch] += amount
	return nil
}

// AddOutflow records cash leaving the drawer; the cash total itself is untouched
func (s *Session) AddOutflow(amount int64) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := shared.RequirePositive(amount); err != nil {
		return err
	}
	if amount > s.Available() {
		return ErrOutflowExceedsAvailable{SessionID: s.ID, Requested: amount, Available: s.Available()}
	}
	s.Outflows += amount
	return nil
}

// Declaration is the operator's count per channel. A channel absent from the
// map has not been counted.
type Declaration map[Channel]int64

// Close reconciles the declaration against the system totals and freezes the session
func (s *Session) Close(declared Declaration, operator string, at time.Time) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if operator == "" {
		return fmt.Errorf("%w: closing operator is required", shared.ErrInvalidInput)
	}
	if len(declared) == 0 {
		return fmt.Errorf("%w: no channel has been counted", shared.ErrInvalidState)
	}
	for ch, amount := range declared {
		if _, err := ParseChannel(string(ch)); err != nil {
			return err
		}
		if amount < 0 {
			return fmt.Errorf("%w: declared %s cannot be negative", shared.ErrInvalidAmount, ch)
		}
	}

	variance := make(map[Channel]int64, len(Channels))
	var uncounted []Channel
	var aggregate int64
	for _, ch := range Channels {
		d, counted := declared[ch]
		if !counted {
			uncounted = append(uncounted, ch)
		}
		v := d - s.Totals[ch]
		variance[ch] = v
		aggregate += v
	}
	sort.Slice(uncounted, func(i, j int) bool { return channelIndex(uncounted[i]) < channelIndex(uncounted[j]) })

	closedAt := at.UTC()
	s.Declared = maps.Clone(map[Channel]int64(declared))
	s.Variance = variance
	s.Uncounted = uncounted
	s.AggregateVariance = aggregate
	s.CashOnHand = declared[ChannelCash] - s.Outflows
	s.ClosedBy = operator
	s.ClosedAt = &closedAt
	s.Status = StatusClosed
	return nil
}

// ForceClose closes a session without a count, used only by anomaly repair
func (s *Session) ForceClose(note string, at time.Time) {
	closedAt := at.UTC()
	s.Status = StatusClosed
	s.ClosedBy = "system"
	s.ClosedAt = &closedAt
	s.ClosingNote = note
	s.Uncounted = append([]Channel(nil), Channels...)
}

func channelIndex(c Channel) int {
	for i, ch := range Channels {
		if ch == c {
			return i
		}
	}
	return len(Channels)
}
