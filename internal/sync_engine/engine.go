package sync_engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/till-ledger/internal/config"
	"github.com/till-ledger/internal/connectivity"
	"github.com/till-ledger/internal/domain/pending"
	"github.com/till-ledger/internal/domain/record"
	"github.com/till-ledger/internal/entity"
	"github.com/till-ledger/internal/platform/messaging/producers"
	"github.com/till-ledger/internal/platform/metrics"
)

// EdgeSource delivers connectivity transitions
type EdgeSource interface {
	IsOnline() bool
	Subscribe(ctx context.Context) <-chan connectivity.Edge
}

// Deps are the collaborators of the engine. Events, Stalls and Refresher are optional.
type Deps struct {
	Queue     pending.Queue
	Remaps    pending.Remaps
	Remote    record.Remote
	Registry  *entity.Registry
	Online    EdgeSource
	Events    producers.SyncEventPublisher
	Stalls    producers.StallPublisher
	Refresher *Refresher
	Logger    *slog.Logger
}

// Report summarizes one drain
type Report struct {
	Replayed  int    `json:"replayed"`
	Remaining int    `json:"remaining"`
	Halted    bool   `json:"halted"`
	HaltedSeq int64  `json:"halted_seq,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Skipped   bool   `json:"skipped"` // Offline, nothing attempted
}

// Engine replays pending operations against the remote store in enqueue order
type Engine struct {
	deps          Deps
	logger        *slog.Logger
	terminalID    string
	pollInterval  time.Duration
	batchSize     int
	stallAttempts int
	timeout       time.Duration

	draining sync.Mutex
	trigger  chan struct{}
}

func NewEngine(cfg *config.Config, deps Deps) *Engine {
	e := &Engine{
		deps:          deps,
		logger:        deps.Logger.With("component", "sync_engine"),
		terminalID:    cfg.Application.TerminalID,
		pollInterval:  cfg.Sync.PollingInterval,
		batchSize:     cfg.Sync.BatchSize,
		stallAttempts: cfg.Sync.StallAttempts,
		timeout:       cfg.Remote.Timeout,
		trigger:       make(chan struct{}, 1),
	}
	if deps.Registry != nil {
		deps.Registry.SetNudger(e)
	}
	return e
}

// Trigger requests a drain without waiting for it
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Start drains on every became-online edge, on Trigger and on each poll tick
// until ctx is canceled
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("Starting sync engine",
		"poll_interval", e.pollInterval.String(),
		"batch_size", e.batchSize,
		"stall_attempts", e.stallAttempts,
	)
	edges := e.deps.Online.Subscribe(ctx)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Sync engine stopping due to context cancellation.")
			return
		case edge, ok := <-edges:
			if !ok {
				edges = nil
				continue
			}
			if !edge.Online {
				continue
			}
			e.logger.Info("Connectivity restored, draining queue")
			e.run(ctx)
		case <-e.trigger:
			e.run(ctx)
		case <-ticker.C:
			e.logger.Debug("Sync engine tick")
			e.run(ctx)
		}
	}
}

func (e *Engine) run(ctx context.Context) {
	report, err := e.Drain(ctx)
	if err != nil {
		e.logger.Error("Drain failed", "error", err)
		return
	}
	if report.Replayed > 0 || report.Halted {
		e.logger.Info("Drain finished",
			"replayed", report.Replayed,
			"remaining", report.Remaining,
			"halted", report.Halted,
		)
	}
}

// Drain replays queued operations strictly in order. The first failing
// operation stays at the head of the queue and stops the drain. Concurrent
// callers are serialized.
func (e *Engine) Drain(ctx context.Context) (Report, error) {
	e.draining.Lock()
	defer e.draining.Unlock()

	start := time.Now()
	defer func() { metrics.DrainDuration.Observe(time.Since(start).Seconds()) }()

	var report Report
	if !e.deps.Online.IsOnline() {
		report.Skipped = true
		return e.finish(ctx, report)
	}

	touched := map[string]bool{}
	for {
		ops, err := e.deps.Queue.Pending(ctx, e.batchSize)
		if err != nil {
			return report, err
		}
		if len(ops) == 0 {
			break
		}

		for _, op := range ops {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			logger := e.logger.With("seq", op.Seq, "op_key", op.Key.String(), "collection", op.Collection)

			if err := e.replay(ctx, op); err != nil {
				e.fail(ctx, op, err, logger)
				report.Halted = true
				report.HaltedSeq = op.Seq
				report.LastError = err.Error()
				return e.finish(ctx, report, touchedList(touched)...)
			}
			report.Replayed++
			touched[op.Collection] = true
			metrics.OperationsReplayed.WithLabelValues(string(op.Kind), op.Collection).Inc()
			logger.Debug("Replayed pending operation", "kind", op.Kind, "record_id", op.RecordID)
		}
	}
	return e.finish(ctx, report, touchedList(touched)...)
}

func (e *Engine) finish(ctx context.Context, report Report, collections ...string) (Report, error) {
	remaining, err := e.deps.Queue.Count(ctx)
	if err != nil {
		return report, err
	}
	report.Remaining = remaining
	metrics.QueueDepth.Set(float64(remaining))

	if len(collections) > 0 && e.deps.Refresher != nil {
		if err := e.deps.Refresher.Refresh(ctx, collections...); err != nil {
			e.logger.Warn("Cache refresh after drain failed", "error", err)
		}
	}
	return report, nil
}

// fail records the attempt and raises a stall alert once the threshold is reached
func (e *Engine) fail(ctx context.Context, op *pending.Operation, cause error, logger *slog.Logger) {
	metrics.DrainHalts.WithLabelValues(op.Collection).Inc()
	op.IncrementAttempts(cause.Error())
	logger.Error("Replay failed, drain halted",
		"kind", op.Kind,
		"record_id", op.RecordID,
		"attempts", op.Attempts,
		"error", cause,
	)

	if err := e.deps.Queue.RecordFailure(ctx, op.Seq, cause.Error()); err != nil {
		logger.Error("Failed to record replay failure", "error", err)
	}

	if op.Attempts < e.stallAttempts || e.deps.Stalls == nil {
		return
	}
	if err := e.deps.Stalls.PublishStall(ctx, pending.NewStallAlert(e.terminalID, op)); err != nil {
		logger.Error("Failed to publish stall alert", "error", err)
	}
}

func touchedList(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	return out
}
