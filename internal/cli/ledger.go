package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/till-ledger/internal/domain/shared"
)

func newLedgerCommand(opts *RootOptions, open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect credit accounts",
	}

	audit := &cobra.Command{
		Use:   "audit <account-id>",
		Short: "Re-derive an account balance from its movement history",
		Long: `Replay every movement of the account and compare the result with the cached
balance. Movements whose before/after balances do not chain are listed.

Exit codes:
  0 - Balanced
  1 - Drift or broken chain found
  2 - Command error`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id == 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid account id %q", args[0]))
			}
			return withServices(cmd, opts, open, func(ctx context.Context, svc *Services) error {
				report, err := svc.Ledger.Audit(ctx, id)
				if err != nil {
					return WrapExitError(ExitCommandError, "audit failed", err)
				}

				out := cmd.OutOrStdout()
				if opts.Format == "json" {
					if err := writeJSON(out, report); err != nil {
						return err
					}
				} else {
					w := table(out)
					fmt.Fprintf(w, "Account\t%s\n", recordLabel(report.AccountID))
					fmt.Fprintf(w, "Movements\t%d\n", report.Movements)
					fmt.Fprintf(w, "Cached balance\t%s\n", shared.FormatAmount(report.Cached))
					fmt.Fprintf(w, "Derived balance\t%s\n", shared.FormatAmount(report.Derived))
					fmt.Fprintf(w, "Drift\t%s\n", shared.FormatAmount(report.Drift))
					if err := w.Flush(); err != nil {
						return err
					}
					for _, mid := range report.Inconsistent {
						fmt.Fprintf(out, "broken chain at movement %s\n", recordLabel(mid))
					}
				}

				if !report.Balanced() {
					return NewExitError(ExitFailure, fmt.Sprintf("account %d is out of balance", id))
				}
				return nil
			})
		},
	}
	cmd.AddCommand(audit)

	return cmd
}
