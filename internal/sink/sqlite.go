package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/comex-enrich/internal/db"
	"github.com/sells-group/comex-enrich/internal/model"
)

// SQLiteSink writes tables into a SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLite creates a sink over conn.
func NewSQLite(conn *sql.DB) *SQLiteSink {
	return &SQLiteSink{db: conn}
}

// Replace implements Sink.
func (s *SQLiteSink) Replace(ctx context.Context, relation string, t *model.Table) error {
	if len(t.Columns) == 0 {
		return eris.Errorf("sqlite: replace %s: table has no columns", relation)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: replace: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+db.SanitizeTable(relation)); err != nil {
		return eris.Wrapf(err, "sqlite: drop %s", relation)
	}
	if _, err := tx.ExecContext(ctx, sqliteCreateSQL(relation, t.Columns)); err != nil {
		return eris.Wrapf(err, "sqlite: create %s", relation)
	}
	if err := insertRows(ctx, tx, relation, t); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: replace %s: commit", relation)
}

// Append implements Sink.
func (s *SQLiteSink) Append(ctx context.Context, relation string, t *model.Table) error {
	if t.Len() == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: append: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertRows(ctx, tx, relation, t); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: append %s: commit", relation)
}

// Columns implements Sink.
func (s *SQLiteSink) Columns(ctx context.Context, relation string) ([]model.Column, error) {
	parts := db.Identifier(relation)
	q := fmt.Sprintf("PRAGMA table_info(%s)", pgx.Identifier{parts[len(parts)-1]}.Sanitize())
	if len(parts) == 2 {
		q = fmt.Sprintf("PRAGMA %s.table_info(%s)", pgx.Identifier{parts[0]}.Sanitize(), pgx.Identifier{parts[1]}.Sanitize())
	}

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: table info %s", relation)
	}
	defer rows.Close() //nolint:errcheck

	var cols []model.Column
	for rows.Next() {
		var (
			cid      int
			name     string
			decl     string
			notNull  int
			defValue sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &decl, &notNull, &defValue, &pk); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan table info")
		}
		cols = append(cols, model.Column{Name: name, Type: db.ColumnTypeFromDecl(decl)})
	}
	return cols, eris.Wrap(rows.Err(), "sqlite: iterate table info")
}

// CreateIndex implements Sink.
func (s *SQLiteSink) CreateIndex(ctx context.Context, relation, column string) error {
	_, err := s.db.ExecContext(ctx, createIndexSQL(relation, column))
	return eris.Wrapf(err, "sqlite: index %s(%s)", relation, column)
}

// Consolidate implements Sink.
func (s *SQLiteSink) Consolidate(ctx context.Context, relation, target string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: consolidate: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+db.SanitizeTable(target)); err != nil {
		return 0, eris.Wrapf(err, "sqlite: drop %s", target)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s AS %s",
		db.SanitizeTable(target), consolidateSelect(relation))); err != nil {
		return 0, eris.Wrapf(err, "sqlite: consolidate %s into %s", relation, target)
	}
	var n int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+db.SanitizeTable(target)).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "sqlite: count %s", target)
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: consolidate: commit")
	}
	return n, nil
}

func sqliteCreateSQL(relation string, cols []model.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = fmt.Sprintf("%s %s", pgx.Identifier{c.Name}.Sanitize(), db.SQLiteType(c.Type))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", db.SanitizeTable(relation), strings.Join(defs, ", "))
}

func insertRows(ctx context.Context, tx *sql.Tx, relation string, t *model.Table) error {
	if t.Len() == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		db.SanitizeTable(relation), db.QuoteAndJoin(t.ColumnNames()), placeholders))
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare insert into %s", relation)
	}
	defer stmt.Close() //nolint:errcheck

	for i, row := range t.Rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: insert row %d into %s", i, relation)
		}
	}
	return nil
}
