// Package cli implements tillctl, the operator command line for a till's
// local store: inspecting the pending queue, forcing a drain and repairing
// session anomalies.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/till-ledger/internal/cash_session"
	"github.com/till-ledger/internal/credit_ledger"
	"github.com/till-ledger/internal/domain/pending"
	"github.com/till-ledger/internal/sync_engine"
)

// QueueReader inspects the pending-operation queue
type QueueReader interface {
	Pending(ctx context.Context, limit int) ([]*pending.Operation, error)
	Count(ctx context.Context) (int, error)
}

// Drainer replays the queue
type Drainer interface {
	Drain(ctx context.Context) (sync_engine.Report, error)
}

// Repairer closes duplicate open sessions
type Repairer interface {
	Repair(ctx context.Context, date string) (cash_session.RepairReport, error)
}

// Auditor re-derives a credit balance from its history
type Auditor interface {
	Audit(ctx context.Context, id int64) (credit_ledger.AuditReport, error)
}

// Services are what the commands operate on. Probe refreshes the
// connectivity signal before a drain and may be nil.
type Services struct {
	Queue   QueueReader
	Sync    Drainer
	Session Repairer
	Ledger  Auditor
	Probe   func(ctx context.Context) bool
}

// Opener builds the services for one command run. The returned func releases them.
type Opener func(ctx context.Context, opts *RootOptions) (*Services, func() error, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config  string
	Format  string // "json" | "text"
	Verbose bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for tillctl.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tillctl",
		Short: "Operate a till's local ledger",
		Long:  "Inspect and replay the pending-operation queue, repair cash sessions and audit credit accounts.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Config, "config", "till", "config file base name, read from ./configs or .")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newQueueCommand(opts, open))
	cmd.AddCommand(newSyncCommand(opts, open))
	cmd.AddCommand(newSessionCommand(opts, open))
	cmd.AddCommand(newLedgerCommand(opts, open))

	return cmd
}

// withServices opens the services, runs fn and releases them
func withServices(cmd *cobra.Command, opts *RootOptions, open Opener, fn func(ctx context.Context, svc *Services) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, release, err := open(ctx, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open till store", err)
	}
	defer func() { _ = release() }()
	return fn(ctx, svc)
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
