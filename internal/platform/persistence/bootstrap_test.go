package persistence

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrap(t *testing.T) {
	ctx := context.Background()

	t.Run("RunsOnceAfterSuccess", func(t *testing.T) {
		calls := 0
		b := NewBootstrap(slog.Default(), "postgres migrations", func(context.Context) error {
			calls++
			return nil
		})

		assert.False(t, b.Done())
		require.NoError(t, b.Ensure(ctx))
		require.NoError(t, b.Ensure(ctx))
		assert.True(t, b.Done())
		assert.Equal(t, 1, calls)
	})

	t.Run("RetriesAfterFailure", func(t *testing.T) {
		calls := 0
		b := NewBootstrap(slog.Default(), "mongo indexes", func(context.Context) error {
			calls++
			if calls == 1 {
				return errors.New("server selection timeout")
			}
			return nil
		})

		require.Error(t, b.Ensure(ctx))
		assert.False(t, b.Done())
		require.NoError(t, b.Ensure(ctx))
		assert.True(t, b.Done())
		assert.Equal(t, 2, calls)
	})

	t.Run("NilBootstrap", func(t *testing.T) {
		var b *Bootstrap
		assert.NoError(t, b.Ensure(ctx))
		assert.True(t, b.Done())
	})
}
