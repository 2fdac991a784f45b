package db

import (
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/comex-enrich/internal/model"
)

// OpenSQLite opens a SQLite database at the given path and configures WAL mode.
func OpenSQLite(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// A single writer connection keeps replace/append transactions serialized.
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// SQLiteType maps a column type to its SQLite DDL type.
func SQLiteType(t model.ColumnType) string {
	switch t {
	case model.TypeFloat:
		return "REAL"
	case model.TypeInteger:
		return "INTEGER"
	case model.TypeBool:
		return "BOOLEAN"
	case model.TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// ColumnTypeFromDecl maps a SQLite declared column type to a column type
// using SQLite's affinity rules. Dates stay text since SQLite stores them as
// strings.
func ColumnTypeFromDecl(decl string) model.ColumnType {
	d := strings.ToUpper(decl)
	switch {
	case strings.Contains(d, "INT"):
		return model.TypeInteger
	case strings.Contains(d, "BOOL"):
		return model.TypeBool
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"),
		strings.Contains(d, "NUMERIC"), strings.Contains(d, "DECIMAL"):
		return model.TypeFloat
	default:
		return model.TypeText
	}
}
