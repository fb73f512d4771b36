// Package entitytest wires repositories over a temporary SQLite store and an
// in-memory remote store for component tests.
package entitytest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/till-ledger/internal/config"
	"github.com/till-ledger/internal/connectivity"
	"github.com/till-ledger/internal/data/memory"
	"github.com/till-ledger/internal/data/sqlite"
	"github.com/till-ledger/internal/domain/pending"
	"github.com/till-ledger/internal/entity"
	"github.com/till-ledger/internal/platform/persistence"
)

type Harness struct {
	Monitor  *connectivity.Monitor
	Remote   *memory.RemoteStore
	Queue    *sqlite.QueueStore
	Remaps   *sqlite.RemapStore
	Registry *entity.Registry
	Deps     entity.Deps
	Logger   *slog.Logger
}

// New starts offline with an empty local store that is removed after the test
func New(t *testing.T) *Harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	db, err := persistence.NewSQLiteDB(logger, &config.LocalStoreConfig{Path: filepath.Join(t.TempDir(), "till.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &Harness{
		Monitor:  connectivity.NewMonitor(logger),
		Remote:   memory.NewRemoteStore(),
		Queue:    sqlite.NewQueueStore(logger, db),
		Remaps:   sqlite.NewRemapStore(logger, db),
		Registry: entity.NewRegistry(),
		Logger:   logger,
	}
	h.Deps = entity.Deps{
		Cache:    sqlite.NewCacheStore(logger, db),
		Remote:   h.Remote,
		Queue:    h.Queue,
		Remaps:   h.Remaps,
		Online:   h.Monitor,
		Registry: h.Registry,
		Validate: validator.New(),
		Timeout:  time.Second,
		Logger:   logger,
	}
	return h
}

// Pending returns every queued operation
func (h *Harness) Pending(t *testing.T) []*pending.Operation {
	t.Helper()
	ops, err := h.Queue.Pending(context.Background(), 0)
	require.NoError(t, err)
	return ops
}
