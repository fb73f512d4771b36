package entity

import (
	"context"

	"github.com/till-ledger/internal/domain/record"
)

// Store is the collection contract business components depend on
type Store[T any] interface {
	List(ctx context.Context) ([]T, error)
	Find(ctx context.Context, q record.Query) ([]T, error)
	Get(ctx context.Context, id int64) (T, error)
	Create(ctx context.Context, rec T) (T, error)
	Update(ctx context.Context, id int64, patch map[string]any) error
	Delete(ctx context.Context, id int64) error
	// Resolve maps a confirmed temporary identifier to its server identifier
	Resolve(ctx context.Context, id int64) (int64, error)
}
