package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/kurve-cli/internal/config"
	"github.com/sells-group/kurve-cli/internal/store"
)

// initStore opens the configured store and applies migrations.
func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch sc.Driver {
	case "sqlite":
		st, err = store.NewSQLite(sc.Path)
	case "postgres":
		st, err = store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{MaxConns: sc.MaxConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
