package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/till-ledger/internal/domain/till"
)

func newSessionCommand(opts *RootOptions, open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage cash sessions",
	}

	var date string
	repair := &cobra.Command{
		Use:   "repair",
		Short: "Keep the latest open session for a date and force-close the rest",
		Long: `Find every open session for the date, keep the most recently opened one and
force-close the others with a note naming the one kept.

Examples:
  tillctl session repair
  tillctl session repair --date 2024-03-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = time.Now().Format(till.DateLayout)
			}
			if _, err := time.Parse(till.DateLayout, date); err != nil {
				return WrapExitError(ExitCommandError, "invalid --date", err)
			}
			return withServices(cmd, opts, open, func(ctx context.Context, svc *Services) error {
				report, err := svc.Session.Repair(ctx, date)
				if err != nil {
					return WrapExitError(ExitCommandError, "repair failed", err)
				}
				out := cmd.OutOrStdout()
				if opts.Format == "json" {
					if report.ForceClosed == nil {
						report.ForceClosed = []int64{}
					}
					return writeJSON(out, report)
				}
				switch {
				case report.Kept == 0:
					fmt.Fprintf(out, "No open session on %s.\n", report.Date)
				case len(report.ForceClosed) == 0:
					fmt.Fprintf(out, "Session %s is the only open session on %s.\n", recordLabel(report.Kept), report.Date)
				default:
					fmt.Fprintf(out, "Kept session %s on %s, force-closed %d:\n", recordLabel(report.Kept), report.Date, len(report.ForceClosed))
					for _, id := range report.ForceClosed {
						fmt.Fprintf(out, "  %s\n", recordLabel(id))
					}
				}
				return nil
			})
		},
	}
	repair.Flags().StringVar(&date, "date", "", "business date (YYYY-MM-DD), defaults to today")
	cmd.AddCommand(repair)

	return cmd
}
