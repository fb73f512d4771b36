package sync_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/till-ledger/internal/entity"
)

// Refresher reloads cached collections from the remote store in parallel
type Refresher struct {
	registry *entity.Registry
	pool     *ants.Pool
	logger   *slog.Logger
}

func NewRefresher(size int, registry *entity.Registry, logger *slog.Logger) (*Refresher, error) {
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh pool: %w", err)
	}
	return &Refresher{
		registry: registry,
		pool:     pool,
		logger:   logger.With("component", "refresher"),
	}, nil
}

// Refresh reloads the named collections, or every registered one when none are named
func (r *Refresher) Refresh(ctx context.Context, collections ...string) error {
	members := r.registry.Members()
	if len(collections) > 0 {
		members = members[:0:0]
		for _, c := range collections {
			if m, ok := r.registry.Lookup(c); ok {
				members = append(members, m)
			}
		}
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, m := range members {
		m := m
		wg.Add(1)
		err := r.pool.Submit(func() {
			defer wg.Done()
			if err := m.Refresh(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("refresh %s: %w", m.Collection(), err))
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			r.logger.Error("Failed to submit refresh to worker pool", "collection", m.Collection(), "error", err)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Release shuts down the worker pool
func (r *Refresher) Release() {
	r.logger.Info("Shutting down refresh pool", "running_workers", r.pool.Running())
	r.pool.Release()
}
