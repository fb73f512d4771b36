package cash_session

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/till-ledger/internal/domain/shared"
	"github.com/till-ledger/internal/domain/till"
)

// SessionReport is the end-of-shift summary of a session
type SessionReport struct {
	Session   till.Session    `json:"session"`
	Movements []till.Movement `json:"movements"`
}

// Report loads a session with its audit trail
func (m *Manager) Report(ctx context.Context, sessionID int64) (SessionReport, error) {
	session, err := m.Session(ctx, sessionID)
	if err != nil {
		return SessionReport{}, err
	}
	movements, err := m.Movements(ctx, sessionID)
	if err != nil {
		return SessionReport{}, err
	}
	return SessionReport{Session: session, Movements: movements}, nil
}

// Text renders the report for printing at the till. Times are UTC.
func (r SessionReport) Text() string {
	s := r.Session
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Session %d  %s  %s\n", s.ID, s.Date, s.Status)
	fmt.Fprintf(&buf, "Opened by %s at %s with float %s\n", s.OpenedBy, s.OpenedAt.UTC().Format("15:04"), shared.FormatAmount(s.OpeningFloat))
	if s.ClosedAt != nil {
		fmt.Fprintf(&buf, "Closed by %s at %s\n", s.ClosedBy, s.ClosedAt.UTC().Format("15:04"))
	}
	if s.ClosingNote != "" {
		fmt.Fprintf(&buf, "Note: %s\n", s.ClosingNote)
	}
	buf.WriteString("\n")

	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tTOTAL\tDECLARED\tVARIANCE")
	for _, ch := range till.Channels {
		declared, variance := "-", "-"
		if s.Status == till.StatusClosed && s.ClosingNote == "" {
			if d, ok := s.Declared[ch]; ok {
				declared = shared.FormatAmount(d)
			}
			variance = shared.FormatAmount(s.Variance[ch])
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ch, shared.FormatAmount(s.Totals[ch]), declared, variance)
	}
	_ = tw.Flush()

	buf.WriteString("\n")
	tw = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Outflows\t%s\n", shared.FormatAmount(s.Outflows))
	fmt.Fprintf(tw, "Expected cash\t%s\n", shared.FormatAmount(s.ExpectedCash()))
	if s.Status == till.StatusClosed && s.ClosingNote == "" {
		fmt.Fprintf(tw, "Cash on hand\t%s\n", shared.FormatAmount(s.CashOnHand))
		fmt.Fprintf(tw, "Aggregate variance\t%s\n", shared.FormatAmount(s.AggregateVariance))
	}
	_ = tw.Flush()

	if len(r.Movements) > 0 {
		buf.WriteString("\n")
		tw = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tKIND\tDIR\tCHANNEL\tAMOUNT\tREFERENCE")
		for _, mv := range r.Movements {
			ref := mv.SaleID
			if ref == "" {
				ref = mv.Reason
			}
			if ref == "" {
				ref = "-"
			}
			channel := string(mv.Channel)
			if channel == "" {
				channel = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				mv.At.UTC().Format("15:04"), mv.Kind, mv.Direction, channel, shared.FormatAmount(mv.Amount), ref)
		}
		_ = tw.Flush()
	}

	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

func sortMovements(ms []till.Movement) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].At.Equal(ms[j].At) {
			return ms[i].At.Before(ms[j].At)
		}
		return ms[i].ID < ms[j].ID
	})
}
