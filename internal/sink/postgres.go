package sink

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/comex-enrich/internal/db"
	"github.com/sells-group/comex-enrich/internal/model"
)

// PostgresSink writes tables into Postgres using COPY.
type PostgresSink struct {
	pool db.Pool
}

// NewPostgres creates a sink over pool.
func NewPostgres(pool db.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Replace implements Sink. DROP, CREATE and COPY share one transaction so
// readers see either the previous relation or the complete new one.
func (s *PostgresSink) Replace(ctx context.Context, relation string, t *model.Table) error {
	if len(t.Columns) == 0 {
		return eris.Errorf("postgres: replace %s: table has no columns", relation)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: replace: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+db.SanitizeTable(relation)); err != nil {
		return eris.Wrapf(err, "postgres: drop %s", relation)
	}
	if _, err := tx.Exec(ctx, db.CreateTableSQL(relation, t.Columns)); err != nil {
		return eris.Wrapf(err, "postgres: create %s", relation)
	}
	if _, err := db.CopyFrom(ctx, tx, relation, t.ColumnNames(), t.Rows); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "postgres: replace %s: commit", relation)
	}
	return nil
}

// Append implements Sink. A single COPY is atomic on its own.
func (s *PostgresSink) Append(ctx context.Context, relation string, t *model.Table) error {
	_, err := db.CopyFrom(ctx, s.pool, relation, t.ColumnNames(), t.Rows)
	return err
}

// Columns implements Sink.
func (s *PostgresSink) Columns(ctx context.Context, relation string) ([]model.Column, error) {
	parts := db.Identifier(relation)
	schemaExpr := "current_schema()"
	args := []any{parts[len(parts)-1]}
	if len(parts) == 2 {
		schemaExpr = "$2"
		args = append(args, parts[0])
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_name = $1 AND table_schema = %s
		 ORDER BY ordinal_position`, schemaExpr), args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: columns of %s", relation)
	}
	defer rows.Close()

	var cols []model.Column
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, eris.Wrap(err, "postgres: scan column")
		}
		cols = append(cols, model.Column{Name: name, Type: db.ColumnTypeFromName(dataType)})
	}
	return cols, eris.Wrap(rows.Err(), "postgres: iterate columns")
}

// CreateIndex implements Sink.
func (s *PostgresSink) CreateIndex(ctx context.Context, relation, column string) error {
	_, err := s.pool.Exec(ctx, createIndexSQL(relation, column))
	return eris.Wrapf(err, "postgres: index %s(%s)", relation, column)
}

// Consolidate implements Sink.
func (s *PostgresSink) Consolidate(ctx context.Context, relation, target string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: consolidate: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+db.SanitizeTable(target)); err != nil {
		return 0, eris.Wrapf(err, "postgres: drop %s", target)
	}
	tag, err := tx.Exec(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", db.SanitizeTable(target), consolidateSelect(relation)))
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: consolidate %s into %s", relation, target)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: consolidate: commit")
	}
	return tag.RowsAffected(), nil
}
