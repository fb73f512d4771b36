package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCommand(opts *RootOptions, open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued operations",
	}

	drain := &cobra.Command{
		Use:   "drain",
		Short: "Replay the pending queue now",
		Long: `Probe the remote store and replay every queued operation in order.

Exit codes:
  0 - Queue drained, or nothing to do
  1 - Offline, or an operation failed and halted the drain
  2 - Command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, opts, open, func(ctx context.Context, svc *Services) error {
				return runDrain(ctx, cmd, opts, svc)
			})
		},
	}
	cmd.AddCommand(drain)

	return cmd
}

func runDrain(ctx context.Context, cmd *cobra.Command, opts *RootOptions, svc *Services) error {
	if svc.Probe != nil {
		svc.Probe(ctx)
	}
	report, err := svc.Sync.Drain(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "drain failed", err)
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		switch {
		case report.Skipped:
			fmt.Fprintf(out, "Remote store unreachable, %d operation(s) still queued.\n", report.Remaining)
		case report.Halted:
			fmt.Fprintf(out, "Replayed %d, halted at seq %d: %s\n", report.Replayed, report.HaltedSeq, report.LastError)
			fmt.Fprintf(out, "%d operation(s) still queued.\n", report.Remaining)
		default:
			fmt.Fprintf(out, "Replayed %d, %d remaining.\n", report.Replayed, report.Remaining)
		}
	}

	if report.Skipped {
		return NewExitError(ExitFailure, "remote store unreachable")
	}
	if report.Halted {
		return NewExitError(ExitFailure, fmt.Sprintf("drain halted at seq %d", report.HaltedSeq))
	}
	return nil
}
