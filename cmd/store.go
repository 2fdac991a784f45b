package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/comex-enrich/internal/config"
	"github.com/sells-group/comex-enrich/internal/db"
	"github.com/sells-group/comex-enrich/internal/runlog"
	"github.com/sells-group/comex-enrich/internal/sink"
	"github.com/sells-group/comex-enrich/internal/source"
)

// backend is the storage selected by store.driver. The registry and trade
// readers, the sink and the run log all share its one connection.
type backend struct {
	sqlite *sql.DB
	pool   *pgxpool.Pool

	sink sink.Sink
	runs runlog.Log
}

func openBackend(ctx context.Context, sc config.StoreConfig) (*backend, error) {
	switch sc.Driver {
	case "sqlite":
		conn, err := db.OpenSQLite(sc.DatabaseURL)
		if err != nil {
			return nil, err
		}
		zap.L().Debug("opened sqlite store", zap.String("path", sc.DatabaseURL))
		return &backend{
			sqlite: conn,
			sink:   sink.NewSQLite(conn),
			runs:   runlog.NewSQLite(conn),
		}, nil
	case "postgres":
		poolCfg, err := pgxpool.ParseConfig(sc.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: parse database_url")
		}
		poolCfg.MaxConnLifetime = 30 * time.Minute
		poolCfg.MaxConnIdleTime = 5 * time.Minute

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: create pool")
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, eris.Wrap(err, "postgres: ping")
		}
		return &backend{
			pool: pool,
			sink: sink.NewPostgres(pool),
			runs: runlog.NewPostgres(pool),
		}, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

func (b *backend) registry(q source.Query) (source.Registry, error) {
	if b.pool != nil {
		r, err := source.NewPostgresRegistry(b.pool, q)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	r, err := source.NewSQLiteRegistry(b.sqlite, q)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (b *backend) trade(relation string) source.Trade {
	if b.pool != nil {
		return source.NewPostgresTrade(b.pool, relation)
	}
	return source.NewSQLiteTrade(b.sqlite, relation)
}

func (b *backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.sqlite != nil {
		_ = b.sqlite.Close()
	}
}
