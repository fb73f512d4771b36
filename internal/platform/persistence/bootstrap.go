package persistence

import (
	"context"
	"log/slog"
	"sync"
)

// Preparer is a one-off setup step run against a remote store that has answered a ping
type Preparer func(ctx context.Context) error

// Bootstrap defers schema setup until the remote store is first reached.
// Constructors never touch the network, so a till can start while the link is
// down. A failed step runs again on the next Ensure.
type Bootstrap struct {
	mu      sync.Mutex
	done    bool
	name    string
	prepare Preparer
	logger  *slog.Logger
}

func NewBootstrap(logger *slog.Logger, name string, prepare Preparer) *Bootstrap {
	return &Bootstrap{
		name:    name,
		prepare: prepare,
		logger:  logger.With("component", "bootstrap", "step", name),
	}
}

// Ensure runs the step unless it already succeeded
func (b *Bootstrap) Ensure(ctx context.Context) error {
	if b == nil || b.prepare == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}

	if err := b.prepare(ctx); err != nil {
		b.logger.Warn("Remote store setup failed, will retry on next contact", "error", err)
		return err
	}
	b.done = true
	b.logger.Info("Remote store setup complete")
	return nil
}

// Done reports whether the step has succeeded
func (b *Bootstrap) Done() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}
