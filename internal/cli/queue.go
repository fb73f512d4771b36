package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/till-ledger/internal/domain/pending"
	"github.com/till-ledger/internal/domain/record"
)

// QueueListResult is the JSON shape of queue list
type QueueListResult struct {
	Count      int                  `json:"count"`
	Operations []*pending.Operation `json:"operations"`
}

func newQueueCommand(opts *RootOptions, open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the pending-operation queue",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List queued operations, oldest first",
		Long: `List operations waiting to be replayed against the remote store.

The head of the queue is replayed first; an operation with attempts and a last
error is holding every later one back.

Examples:
  tillctl queue list
  tillctl queue list --limit 10 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return NewExitError(ExitCommandError, "--limit must be greater than 0")
			}
			return withServices(cmd, opts, open, func(ctx context.Context, svc *Services) error {
				return runQueueList(ctx, cmd, opts, svc.Queue, limit)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of operations to show")
	cmd.AddCommand(list)

	return cmd
}

func runQueueList(ctx context.Context, cmd *cobra.Command, opts *RootOptions, queue QueueReader, limit int) error {
	count, err := queue.Count(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count queue", err)
	}
	ops, err := queue.Pending(ctx, limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read queue", err)
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		if ops == nil {
			ops = []*pending.Operation{}
		}
		return writeJSON(out, QueueListResult{Count: count, Operations: ops})
	}

	if count == 0 {
		fmt.Fprintln(out, "Queue is empty.")
		return nil
	}
	fmt.Fprintf(out, "%d pending operation(s)\n\n", count)
	w := table(out)
	fmt.Fprintln(w, "SEQ\tKIND\tCOLLECTION\tRECORD\tATTEMPTS\tENQUEUED\tLAST ERROR")
	for _, op := range ops {
		lastErr := op.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			op.Seq, op.Kind, op.Collection, recordLabel(op.RecordID), op.Attempts,
			op.EnqueuedAt.UTC().Format(time.RFC3339), lastErr)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if count > len(ops) {
		fmt.Fprintf(out, "... %d more\n", count-len(ops))
	}
	return nil
}

// recordLabel marks identifiers the remote store has not confirmed yet
func recordLabel(id int64) string {
	if record.IsTemporary(id) {
		return strconv.FormatInt(id, 10) + " (temp)"
	}
	return strconv.FormatInt(id, 10)
}
