package runlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/comex-enrich/internal/enrich"
)

var entryColumns = []string{
	"id", "destination", "status", "started_at", "completed_at", "total_rows",
	"rows_written", "batches_written", "skipped_chunks", "last_offset", "error", "metadata",
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgresLog_Migrate(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectExec("pg_advisory_lock").WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS enrich_schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM enrich_schema_migrations").
		WillReturnRows(mock.NewRows([]string{"filename"}))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS enrich_runs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO enrich_schema_migrations").
		WithArgs("001_enrich_runs.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("pg_advisory_unlock").WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, NewPostgres(mock).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLog_MigrateSkipsApplied(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectExec("pg_advisory_lock").WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS enrich_schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM enrich_schema_migrations").
		WillReturnRows(mock.NewRows([]string{"filename"}).AddRow("001_enrich_runs.sql"))
	mock.ExpectExec("pg_advisory_unlock").WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, NewPostgres(mock).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLog_Start(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectExec("INSERT INTO enrich_runs").
		WithArgs(pgxmock.AnyArg(), "enriched", []byte(`{"workers":2}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := NewPostgres(mock).Start(context.Background(), "enriched", map[string]any{"workers": 2})
	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLog_Checkpoint(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectExec("UPDATE enrich_runs").
		WithArgs(int64(100), int64(8), 2, 0, "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := NewPostgres(mock).Checkpoint(context.Background(), "run-1",
		enrich.Progress{NextOffset: 100, RowsWritten: 8, BatchesWritten: 2})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLog_Fail(t *testing.T) {
	mock := newMockPool(t)
	msg := "disk full"

	mock.ExpectExec("UPDATE enrich_runs").
		WithArgs("failed", int64(0), int64(0), 0, 0, int64(0), &msg, []byte(nil), "run-1").
		WillReturnError(errors.New("conn closed"))

	err := NewPostgres(mock).Fail(context.Background(), "run-1", nil, msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runlog: failed run run-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLog_LastCheckpoint(t *testing.T) {
	mock := newMockPool(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	errMsg := "boom"

	mock.ExpectQuery("FROM enrich_runs WHERE destination").
		WithArgs("enriched").
		WillReturnRows(mock.NewRows(entryColumns).AddRow(
			"run-1", "enriched", "failed", started, (*time.Time)(nil), int64(500),
			int64(40), 2, 0, int64(250), &errMsg, []byte(`{"degraded":true}`)))

	e, err := NewPostgres(mock).LastCheckpoint(context.Background(), "enriched")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, StatusFailed, e.Status)
	assert.Equal(t, int64(250), e.LastOffset)
	assert.Equal(t, "boom", e.Error)
	assert.Equal(t, true, e.Metadata["degraded"])
	assert.True(t, e.Resumable())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLog_LastCheckpointNone(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectQuery("FROM enrich_runs WHERE destination").
		WithArgs("enriched").
		WillReturnRows(mock.NewRows(entryColumns))

	e, err := NewPostgres(mock).LastCheckpoint(context.Background(), "enriched")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestPostgresLog_ListAll(t *testing.T) {
	mock := newMockPool(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	done := started.Add(time.Hour)

	mock.ExpectQuery("FROM enrich_runs ORDER BY started_at DESC").
		WillReturnRows(mock.NewRows(entryColumns).
			AddRow("run-2", "enriched", "complete", started.Add(2*time.Hour), &done, int64(10), int64(4), 1, 0, int64(25000), (*string)(nil), []byte(nil)).
			AddRow("run-1", "enriched", "failed", started, (*time.Time)(nil), int64(10), int64(0), 0, 1, int64(0), (*string)(nil), []byte(nil)))

	entries, err := NewPostgres(mock).ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "run-2", entries[0].ID)
	require.NotNil(t, entries[0].CompletedAt)
	assert.Nil(t, entries[1].CompletedAt)
	assert.Equal(t, 1, entries[1].SkippedChunks)
	assert.NoError(t, mock.ExpectationsWereMet())
}
