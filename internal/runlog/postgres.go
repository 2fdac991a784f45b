package runlog

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/comex-enrich/internal/db"
	"github.com/sells-group/comex-enrich/internal/enrich"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 4_202_611

const selectEntry = `SELECT id, destination, status, started_at, completed_at, total_rows,
	rows_written, batches_written, skipped_chunks, last_offset, error, metadata
	FROM enrich_runs`

// PostgresLog is a Log backed by Postgres.
type PostgresLog struct {
	pool db.Pool
}

// NewPostgres creates a run log over pool.
func NewPostgres(pool db.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

// Migrate applies pending embedded migrations in lexicographic order.
func (l *PostgresLog) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "runlog.migrate"))

	if _, err := l.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "runlog: acquire migration advisory lock")
	}
	defer func() {
		if _, err := l.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("runlog: failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if _, err := l.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS enrich_schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return eris.Wrap(err, "runlog: ensure migration table")
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "runlog: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	applied, err := l.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "runlog: read migration %s", name)
		}
		log.Info("applying migration", zap.String("file", name))
		if _, err := l.pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "runlog: apply migration %s", name)
		}
		if _, err := l.pool.Exec(ctx,
			"INSERT INTO enrich_schema_migrations (filename, applied_at) VALUES ($1, now())", name,
		); err != nil {
			return eris.Wrapf(err, "runlog: record migration %s", name)
		}
	}
	return nil
}

func (l *PostgresLog) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := l.pool.Query(ctx, "SELECT filename FROM enrich_schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "runlog: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "runlog: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// Start implements Log.
func (l *PostgresLog) Start(ctx context.Context, destination string, metadata map[string]any) (string, error) {
	meta, err := marshalMetadata(metadata)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	if _, err := l.pool.Exec(ctx,
		`INSERT INTO enrich_runs (id, destination, status, started_at, metadata)
		 VALUES ($1, $2, 'running', now(), $3)`,
		id, destination, meta,
	); err != nil {
		return "", eris.Wrapf(err, "runlog: start run for %s", destination)
	}
	return id, nil
}

// Checkpoint implements Log.
func (l *PostgresLog) Checkpoint(ctx context.Context, id string, p enrich.Progress) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE enrich_runs
		 SET last_offset = $1, rows_written = $2, batches_written = $3, skipped_chunks = $4
		 WHERE id = $5`,
		p.NextOffset, p.RowsWritten, p.BatchesWritten, p.SkippedChunks, id,
	)
	return eris.Wrapf(err, "runlog: checkpoint run %s", id)
}

// Complete implements Log.
func (l *PostgresLog) Complete(ctx context.Context, id string, res *enrich.Result) error {
	return l.finish(ctx, id, StatusComplete, res, nil)
}

// Fail implements Log.
func (l *PostgresLog) Fail(ctx context.Context, id string, res *enrich.Result, errMsg string) error {
	return l.finish(ctx, id, StatusFailed, res, &errMsg)
}

func (l *PostgresLog) finish(ctx context.Context, id string, status Status, res *enrich.Result, errMsg *string) error {
	meta, err := resultMetadata(res)
	if err != nil {
		return err
	}
	total, rows, batches, skipped, offset := resultCounters(res)
	_, err = l.pool.Exec(ctx,
		`UPDATE enrich_runs
		 SET status = $1, completed_at = now(), total_rows = $2, rows_written = $3,
		     batches_written = $4, skipped_chunks = $5, last_offset = $6, error = $7,
		     metadata = COALESCE(metadata, '{}'::jsonb) || COALESCE($8::jsonb, '{}'::jsonb)
		 WHERE id = $9`,
		string(status), total, rows, batches, skipped, offset, errMsg, meta, id,
	)
	return eris.Wrapf(err, "runlog: %s run %s", status, id)
}

// ListAll implements Log.
func (l *PostgresLog) ListAll(ctx context.Context) ([]Entry, error) {
	rows, err := l.pool.Query(ctx, selectEntry+" ORDER BY started_at DESC")
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list all")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanPostgresEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "runlog: iterate runs")
}

// LastCheckpoint implements Log.
func (l *PostgresLog) LastCheckpoint(ctx context.Context, destination string) (*Entry, error) {
	row := l.pool.QueryRow(ctx, selectEntry+" WHERE destination = $1 ORDER BY started_at DESC LIMIT 1", destination)
	e, err := scanPostgresEntry(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "runlog: last checkpoint for %s", destination)
	}
	return e, nil
}

func scanPostgresEntry(row pgx.Row) (*Entry, error) {
	var (
		e           Entry
		status      string
		completedAt *time.Time
		errStr      *string
		metaJSON    []byte
	)
	if err := row.Scan(&e.ID, &e.Destination, &status, &e.StartedAt, &completedAt, &e.TotalRows,
		&e.RowsWritten, &e.BatchesWritten, &e.SkippedChunks, &e.LastOffset, &errStr, &metaJSON); err != nil {
		return nil, eris.Wrap(err, "runlog: scan run")
	}
	e.Status = Status(status)
	e.CompletedAt = completedAt
	if errStr != nil {
		e.Error = *errStr
	}
	if metaJSON != nil {
		_ = json.Unmarshal(metaJSON, &e.Metadata)
	}
	return &e, nil
}
