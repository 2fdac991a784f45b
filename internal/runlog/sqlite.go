package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/comex-enrich/internal/enrich"
)

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS enrich_runs (
	id              TEXT PRIMARY KEY,
	destination     TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'running',
	started_at      DATETIME NOT NULL,
	completed_at    DATETIME,
	total_rows      INTEGER NOT NULL DEFAULT 0,
	rows_written    INTEGER NOT NULL DEFAULT 0,
	batches_written INTEGER NOT NULL DEFAULT 0,
	skipped_chunks  INTEGER NOT NULL DEFAULT 0,
	last_offset     INTEGER NOT NULL DEFAULT 0,
	error           TEXT,
	metadata        TEXT
);

CREATE INDEX IF NOT EXISTS idx_enrich_runs_destination ON enrich_runs(destination, started_at);
`

// SQLiteLog is a Log backed by SQLite.
type SQLiteLog struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a run log over conn.
func NewSQLite(conn *sql.DB) *SQLiteLog {
	return &SQLiteLog{db: conn, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate implements Log.
func (l *SQLiteLog) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "runlog: sqlite migrate")
}

// Start implements Log.
func (l *SQLiteLog) Start(ctx context.Context, destination string, metadata map[string]any) (string, error) {
	meta, err := marshalMetadata(metadata)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO enrich_runs (id, destination, status, started_at, metadata) VALUES (?, ?, ?, ?, ?)`,
		id, destination, string(StatusRunning), l.now(), nullableText(meta),
	); err != nil {
		return "", eris.Wrapf(err, "runlog: start run for %s", destination)
	}
	return id, nil
}

// Checkpoint implements Log.
func (l *SQLiteLog) Checkpoint(ctx context.Context, id string, p enrich.Progress) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE enrich_runs SET last_offset = ?, rows_written = ?, batches_written = ?, skipped_chunks = ?
		 WHERE id = ?`,
		p.NextOffset, p.RowsWritten, p.BatchesWritten, p.SkippedChunks, id,
	)
	return eris.Wrapf(err, "runlog: checkpoint run %s", id)
}

// Complete implements Log.
func (l *SQLiteLog) Complete(ctx context.Context, id string, res *enrich.Result) error {
	return l.finish(ctx, id, StatusComplete, res, nil)
}

// Fail implements Log.
func (l *SQLiteLog) Fail(ctx context.Context, id string, res *enrich.Result, errMsg string) error {
	return l.finish(ctx, id, StatusFailed, res, &errMsg)
}

func (l *SQLiteLog) finish(ctx context.Context, id string, status Status, res *enrich.Result, errMsg *string) error {
	meta, err := resultMetadata(res)
	if err != nil {
		return err
	}
	total, rows, batches, skipped, offset := resultCounters(res)
	_, err = l.db.ExecContext(ctx,
		`UPDATE enrich_runs
		 SET status = ?, completed_at = ?, total_rows = ?, rows_written = ?, batches_written = ?,
		     skipped_chunks = ?, last_offset = ?, error = ?, metadata = COALESCE(json_patch(COALESCE(metadata, '{}'), ?), metadata)
		 WHERE id = ?`,
		string(status), l.now(), total, rows, batches, skipped, offset, errMsg, nullableText(meta), id,
	)
	return eris.Wrapf(err, "runlog: %s run %s", status, id)
}

// ListAll implements Log.
func (l *SQLiteLog) ListAll(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, selectEntry+" ORDER BY started_at DESC")
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list all")
	}
	defer rows.Close() //nolint:errcheck

	var entries []Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "runlog: iterate runs")
}

// LastCheckpoint implements Log.
func (l *SQLiteLog) LastCheckpoint(ctx context.Context, destination string) (*Entry, error) {
	row := l.db.QueryRowContext(ctx, selectEntry+" WHERE destination = ? ORDER BY started_at DESC LIMIT 1", destination)
	e, err := scanSQLiteEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "runlog: last checkpoint for %s", destination)
	}
	return e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row scanner) (*Entry, error) {
	var (
		e           Entry
		status      string
		completedAt sql.NullTime
		errStr      sql.NullString
		metaJSON    sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Destination, &status, &e.StartedAt, &completedAt, &e.TotalRows,
		&e.RowsWritten, &e.BatchesWritten, &e.SkippedChunks, &e.LastOffset, &errStr, &metaJSON); err != nil {
		return nil, eris.Wrap(err, "runlog: scan run")
	}
	e.Status = Status(status)
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	e.Error = errStr.String
	if metaJSON.Valid {
		_ = json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
	}
	return &e, nil
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
