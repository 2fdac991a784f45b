package source

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/comex-enrich/internal/db"
	"github.com/sells-group/comex-enrich/internal/model"
)

// PostgresRegistry reads registry windows through a pgx pool.
type PostgresRegistry struct {
	pool  db.Pool
	query Query
}

// NewPostgresRegistry creates a registry reader over pool.
func NewPostgresRegistry(pool db.Pool, q Query) (*PostgresRegistry, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	return &PostgresRegistry{pool: pool, query: q}, nil
}

// Count implements Registry.
func (r *PostgresRegistry) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, r.query.countSQL()).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count registry rows")
	}
	return n, nil
}

// ReadWindow implements Registry.
func (r *PostgresRegistry) ReadWindow(ctx context.Context, offset, limit int64) (*model.RegistryWindow, error) {
	rows, err := r.pool.Query(ctx, r.query.windowSQL(offset, limit))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: read registry window at %d", offset)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	types := make([]model.ColumnType, len(fields))
	for i, fd := range fields {
		names[i] = fd.Name
		types[i] = db.ColumnTypeFromOID(fd.DataTypeOID)
	}

	b, err := newWindowBuilder(offset, limit, names, types)
	if err != nil {
		return nil, err
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: decode registry row at window %d", offset)
		}
		b.add(values)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "postgres: iterate registry window at %d", offset)
	}
	return b.window, nil
}

// PostgresTrade reads the trade batch from a Postgres relation.
type PostgresTrade struct {
	pool     db.Pool
	relation string
}

// NewPostgresTrade creates a trade reader over relation.
func NewPostgresTrade(pool db.Pool, relation string) *PostgresTrade {
	return &PostgresTrade{pool: pool, relation: relation}
}

// ReadAll implements Trade.
func (t *PostgresTrade) ReadAll(ctx context.Context) ([]model.TradeRecord, error) {
	rows, err := t.pool.Query(ctx, tradeSQL(t.relation))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: read trade relation %s", t.relation)
	}
	defer rows.Close()

	var out []model.TradeRecord
	for rows.Next() {
		var s tradeScan
		if err := rows.Scan(s.targets()...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan trade row")
		}
		out = append(out, s.record())
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate trade rows")
}
