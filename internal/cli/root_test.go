package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/till-ledger/internal/cash_session"
	"github.com/till-ledger/internal/credit_ledger"
	"github.com/till-ledger/internal/domain/pending"
	"github.com/till-ledger/internal/sync_engine"
)

type MockQueue struct{ mock.Mock }

func (m *MockQueue) Pending(ctx context.Context, limit int) ([]*pending.Operation, error) {
	args := m.Called(ctx, limit)
	ops, _ := args.Get(0).([]*pending.Operation)
	return ops, args.Error(1)
}

func (m *MockQueue) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockDrainer struct{ mock.Mock }

func (m *MockDrainer) Drain(ctx context.Context) (sync_engine.Report, error) {
	args := m.Called(ctx)
	return args.Get(0).(sync_engine.Report), args.Error(1)
}

type MockRepairer struct{ mock.Mock }

func (m *MockRepairer) Repair(ctx context.Context, date string) (cash_session.RepairReport, error) {
	args := m.Called(ctx, date)
	return args.Get(0).(cash_session.RepairReport), args.Error(1)
}

type MockAuditor struct{ mock.Mock }

func (m *MockAuditor) Audit(ctx context.Context, id int64) (credit_ledger.AuditReport, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(credit_ledger.AuditReport), args.Error(1)
}

type fixture struct {
	queue    *MockQueue
	drainer  *MockDrainer
	repairer *MockRepairer
	auditor  *MockAuditor
	probes   int
	released bool
	openErr  error
}

func newFixture() *fixture {
	return &fixture{
		queue:    &MockQueue{},
		drainer:  &MockDrainer{},
		repairer: &MockRepairer{},
		auditor:  &MockAuditor{},
	}
}

func (f *fixture) open(ctx context.Context, opts *RootOptions) (*Services, func() error, error) {
	if f.openErr != nil {
		return nil, nil, f.openErr
	}
	return &Services{
			Queue:   f.queue,
			Sync:    f.drainer,
			Session: f.repairer,
			Ledger:  f.auditor,
			Probe: func(context.Context) bool {
				f.probes++
				return true
			},
		}, func() error {
			f.released = true
			return nil
		}, nil
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(f.open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(newFixture().open)
	assert.Equal(t, "tillctl", cmd.Use)

	for _, path := range [][]string{{"queue", "list"}, {"sync", "drain"}, {"session", "repair"}, {"ledger", "audit"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	f := newFixture()
	_, err := f.run(t, "queue", "list", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestOpenFailure(t *testing.T) {
	f := newFixture()
	f.openErr = errors.New("disk gone")
	_, err := f.run(t, "queue", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestQueueList(t *testing.T) {
	enqueued := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	ops := []*pending.Operation{
		{Seq: 4, Key: uuid.New(), Kind: pending.KindInsert, Collection: "cash_movements", RecordID: -77, Attempts: 2, LastError: "remote store unavailable", EnqueuedAt: enqueued},
		{Seq: 5, Key: uuid.New(), Kind: pending.KindUpdate, Collection: "cash_sessions", RecordID: 12, EnqueuedAt: enqueued},
	}

	t.Run("Text", func(t *testing.T) {
		f := newFixture()
		f.queue.On("Count", mock.Anything).Return(3, nil)
		f.queue.On("Pending", mock.Anything, 2).Return(ops, nil)

		out, err := f.run(t, "queue", "list", "--limit", "2")
		require.NoError(t, err)
		assert.Contains(t, out, "3 pending operation(s)")
		assert.Contains(t, out, "-77 (temp)")
		assert.Contains(t, out, "remote store unavailable")
		assert.Contains(t, out, "2024-03-01T09:30:00Z")
		assert.Contains(t, out, "... 1 more")
		assert.True(t, f.released)
	})

	t.Run("JSON", func(t *testing.T) {
		f := newFixture()
		f.queue.On("Count", mock.Anything).Return(2, nil)
		f.queue.On("Pending", mock.Anything, 50).Return(ops, nil)

		out, err := f.run(t, "queue", "list", "--format", "json")
		require.NoError(t, err)
		var got QueueListResult
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, 2, got.Count)
		require.Len(t, got.Operations, 2)
		assert.Equal(t, int64(-77), got.Operations[0].RecordID)
	})

	t.Run("Empty", func(t *testing.T) {
		f := newFixture()
		f.queue.On("Count", mock.Anything).Return(0, nil)
		f.queue.On("Pending", mock.Anything, 50).Return(nil, nil)

		out, err := f.run(t, "queue", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "Queue is empty.")
	})

	t.Run("BadLimit", func(t *testing.T) {
		f := newFixture()
		_, err := f.run(t, "queue", "list", "--limit", "0")
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})
}

func TestSyncDrain(t *testing.T) {
	t.Run("Drained", func(t *testing.T) {
		f := newFixture()
		f.drainer.On("Drain", mock.Anything).Return(sync_engine.Report{Replayed: 3}, nil)

		out, err := f.run(t, "sync", "drain")
		require.NoError(t, err)
		assert.Equal(t, 1, f.probes)
		assert.Contains(t, out, "Replayed 3, 0 remaining.")
	})

	t.Run("Halted", func(t *testing.T) {
		f := newFixture()
		f.drainer.On("Drain", mock.Anything).Return(sync_engine.Report{
			Replayed: 1, Remaining: 2, Halted: true, HaltedSeq: 8, LastError: "remote rejected",
		}, nil)

		out, err := f.run(t, "sync", "drain")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, "halted at seq 8: remote rejected")
	})

	t.Run("Offline", func(t *testing.T) {
		f := newFixture()
		f.drainer.On("Drain", mock.Anything).Return(sync_engine.Report{Skipped: true, Remaining: 4}, nil)

		out, err := f.run(t, "sync", "drain", "--format", "json")
		assert.Equal(t, ExitFailure, GetExitCode(err))
		var got sync_engine.Report
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.True(t, got.Skipped)
		assert.Equal(t, 4, got.Remaining)
	})

	t.Run("Error", func(t *testing.T) {
		f := newFixture()
		f.drainer.On("Drain", mock.Anything).Return(sync_engine.Report{}, errors.New("queue unreadable"))

		_, err := f.run(t, "sync", "drain")
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})
}

func TestSessionRepair(t *testing.T) {
	t.Run("ForceClosed", func(t *testing.T) {
		f := newFixture()
		f.repairer.On("Repair", mock.Anything, "2024-03-01").Return(cash_session.RepairReport{
			Date: "2024-03-01", Kept: 9, ForceClosed: []int64{4, -31},
		}, nil)

		out, err := f.run(t, "session", "repair", "--date", "2024-03-01")
		require.NoError(t, err)
		assert.Contains(t, out, "Kept session 9 on 2024-03-01, force-closed 2")
		assert.Contains(t, out, "-31 (temp)")
	})

	t.Run("NothingOpen", func(t *testing.T) {
		f := newFixture()
		f.repairer.On("Repair", mock.Anything, "2024-03-02").Return(cash_session.RepairReport{Date: "2024-03-02"}, nil)

		out, err := f.run(t, "session", "repair", "--date", "2024-03-02")
		require.NoError(t, err)
		assert.Contains(t, out, "No open session on 2024-03-02.")
	})

	t.Run("BadDate", func(t *testing.T) {
		f := newFixture()
		_, err := f.run(t, "session", "repair", "--date", "03/01/2024")
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		f.repairer.AssertNotCalled(t, "Repair", mock.Anything, mock.Anything)
	})
}

func TestLedgerAudit(t *testing.T) {
	t.Run("Balanced", func(t *testing.T) {
		f := newFixture()
		f.auditor.On("Audit", mock.Anything, int64(3)).Return(credit_ledger.AuditReport{
			AccountID: 3, Cached: 4550, Derived: 4550, Movements: 4,
		}, nil)

		out, err := f.run(t, "ledger", "audit", "3")
		require.NoError(t, err)
		assert.Contains(t, out, "45.50")
	})

	t.Run("Drift", func(t *testing.T) {
		f := newFixture()
		f.auditor.On("Audit", mock.Anything, int64(3)).Return(credit_ledger.AuditReport{
			AccountID: 3, Cached: 5000, Derived: 4550, Drift: 450, Inconsistent: []int64{17}, Movements: 4,
		}, nil)

		out, err := f.run(t, "ledger", "audit", "3")
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, "broken chain at movement 17")
	})

	t.Run("BadID", func(t *testing.T) {
		f := newFixture()
		_, err := f.run(t, "ledger", "audit", "abc")
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("MissingID", func(t *testing.T) {
		f := newFixture()
		_, err := f.run(t, "ledger", "audit")
		assert.Error(t, err)
	})
}
