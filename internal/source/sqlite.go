package source

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"

	"github.com/sells-group/comex-enrich/internal/db"
	"github.com/sells-group/comex-enrich/internal/model"
)

// SQLiteRegistry reads registry windows from a SQLite database.
type SQLiteRegistry struct {
	db    *sql.DB
	query Query
}

// NewSQLiteRegistry creates a registry reader over conn.
func NewSQLiteRegistry(conn *sql.DB, q Query) (*SQLiteRegistry, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	return &SQLiteRegistry{db: conn, query: q}, nil
}

// Count implements Registry.
func (r *SQLiteRegistry) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, r.query.countSQL()).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count registry rows")
	}
	return n, nil
}

// ReadWindow implements Registry.
func (r *SQLiteRegistry) ReadWindow(ctx context.Context, offset, limit int64) (*model.RegistryWindow, error) {
	rows, err := r.db.QueryContext(ctx, r.query.windowSQL(offset, limit))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read registry window at %d", offset)
	}
	defer rows.Close() //nolint:errcheck

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: registry column types")
	}
	names := make([]string, len(colTypes))
	types := make([]model.ColumnType, len(colTypes))
	for i, ct := range colTypes {
		names[i] = ct.Name()
		types[i] = db.ColumnTypeFromDecl(ct.DatabaseTypeName())
	}

	b, err := newWindowBuilder(offset, limit, names, types)
	if err != nil {
		return nil, err
	}

	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan registry row at window %d", offset)
		}
		b.add(values)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: iterate registry window at %d", offset)
	}
	return b.window, nil
}

// SQLiteTrade reads the trade batch from a SQLite relation.
type SQLiteTrade struct {
	db       *sql.DB
	relation string
}

// NewSQLiteTrade creates a trade reader over relation.
func NewSQLiteTrade(conn *sql.DB, relation string) *SQLiteTrade {
	return &SQLiteTrade{db: conn, relation: relation}
}

// ReadAll implements Trade.
func (t *SQLiteTrade) ReadAll(ctx context.Context) ([]model.TradeRecord, error) {
	rows, err := t.db.QueryContext(ctx, tradeSQL(t.relation))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read trade relation %s", t.relation)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.TradeRecord
	for rows.Next() {
		var s tradeScan
		if err := rows.Scan(s.targets()...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trade row")
		}
		out = append(out, s.record())
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate trade rows")
}
