package cmd

import (
	"context"
	"fmt"

	"civictrack/config"
	"civictrack/logger"
	"civictrack/store"
)

// openStore connects the configured backend. Mongo indexes are created on
// every start; creating an existing index is a no-op.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.WithComponent("store").Warn("using the in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	case config.DriverMongo:
		client, err := config.ConnectMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		st := store.NewMongoStore(client, cfg.Mongo.Database)
		if err := st.EnsureIndexes(ctx); err != nil {
			_ = st.Close(context.Background())
			return nil, fmt.Errorf("ensure indexes: %w", err)
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
