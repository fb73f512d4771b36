package connectivity

import (
	"context"
	"log/slog"
	"time"

	"github.com/till-ledger/internal/config"
)

// Pinger is anything that can check the remote store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober feeds the monitor by pinging the remote store on an interval
type Prober struct {
	monitor  *Monitor
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewProber(cfg *config.Config, monitor *Monitor, pinger Pinger, logger *slog.Logger) *Prober {
	return &Prober{
		monitor:  monitor,
		pinger:   pinger,
		interval: cfg.Connectivity.ProbeInterval,
		timeout:  cfg.Remote.Timeout,
		logger:   logger.With("component", "prober"),
	}
}

// Probe runs one check and updates the monitor
func (p *Prober) Probe(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(pingCtx)
	if err != nil {
		p.logger.Debug("Remote store unreachable", "error", err)
	}
	p.monitor.Set(err == nil)
	return err == nil
}

// Start probes immediately and then on every tick until ctx is canceled
func (p *Prober) Start(ctx context.Context) {
	p.logger.Info("Starting connectivity prober", "interval", p.interval.String())
	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Connectivity prober stopping due to context cancellation.")
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
