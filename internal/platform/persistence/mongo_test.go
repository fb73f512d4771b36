package persistence

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/till-ledger/internal/config"
)

func TestNewMongoDB_ServerDown(t *testing.T) {
	cfg := &config.MongoDBConfig{
		URI:         "mongodb://127.0.0.1:1",
		Database:    "till_ledger",
		Timeout:     200 * time.Millisecond,
		MaxPoolSize: 2,
	}
	db, err := NewMongoDB(context.Background(), slog.Default(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })

	assert.Equal(t, "till_ledger", db.Database().Name())
	assert.Equal(t, "cash_sessions", db.Collection("cash_sessions").Name())

	prepared := false
	db.OnFirstContact("mongo indexes", func(context.Context) error {
		prepared = true
		return nil
	})

	assert.Error(t, db.Ping(context.Background()))
	assert.False(t, prepared, "setup must wait for a reachable server")
}
