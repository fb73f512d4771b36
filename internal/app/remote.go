package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/till-ledger/internal/cash_session"
	"github.com/till-ledger/internal/credit_ledger"
	"github.com/till-ledger/internal/data/mongo"
	"github.com/till-ledger/internal/data/postgres"
	"github.com/till-ledger/internal/domain/record"
	"github.com/till-ledger/internal/platform/persistence"
)

// Collections lists every collection the till keeps in the remote store
var Collections = []string{
	cash_session.SessionsCollection,
	cash_session.MovementsCollection,
	credit_ledger.AccountsCollection,
	credit_ledger.MovementsCollection,
}

// saleLinked collections hold at most one movement per sale
var saleLinked = []string{
	cash_session.MovementsCollection,
	credit_ledger.MovementsCollection,
}

// The postgres schema, including the sale_id unique index, comes from
// migrations applied on the first successful ping
func newPostgresRemote(logger *slog.Logger, db *persistence.PostgresDB) record.Remote {
	return postgres.NewRemoteStore(logger, db)
}

// Indexes are created on the first successful ping, so a till can boot offline
func newMongoRemote(logger *slog.Logger, db *persistence.MongoDB) record.Remote {
	store := mongo.NewRemoteStore(logger, db.Database()).WithPinger(db.Ping)
	db.OnFirstContact("mongo indexes", func(ctx context.Context) error {
		if err := store.EnsureIndexes(ctx, Collections, saleLinked); err != nil {
			return fmt.Errorf("failed to prepare MongoDB collections: %w", err)
		}
		return nil
	})
	return store
}
