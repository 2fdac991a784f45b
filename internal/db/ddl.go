package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sells-group/comex-enrich/internal/model"
)

// Identifier splits a possibly schema-qualified name into a pgx.Identifier.
func Identifier(table string) pgx.Identifier {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}
	}
	return pgx.Identifier{table}
}

// SanitizeTable quotes a possibly schema-qualified table name.
func SanitizeTable(table string) string {
	return Identifier(table).Sanitize()
}

// QuoteAndJoin quotes each column name and joins with commas.
func QuoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

// PostgresType maps a column type to its Postgres DDL type.
func PostgresType(t model.ColumnType) string {
	switch t {
	case model.TypeFloat:
		return "DOUBLE PRECISION"
	case model.TypeInteger:
		return "BIGINT"
	case model.TypeBool:
		return "BOOLEAN"
	case model.TypeTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

// CreateTableSQL renders a CREATE TABLE statement for cols.
func CreateTableSQL(table string, cols []model.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = fmt.Sprintf("%s %s", pgx.Identifier{c.Name}.Sanitize(), PostgresType(c.Type))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", SanitizeTable(table), strings.Join(defs, ", "))
}

// ColumnTypeFromOID maps a Postgres type OID to a column type. Unknown OIDs
// map to text.
func ColumnTypeFromOID(oid uint32) model.ColumnType {
	switch oid {
	case pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return model.TypeFloat
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		return model.TypeInteger
	case pgtype.BoolOID:
		return model.TypeBool
	case pgtype.TimestampOID, pgtype.TimestamptzOID, pgtype.DateOID:
		return model.TypeTimestamp
	default:
		return model.TypeText
	}
}

// ColumnTypeFromName maps a Postgres type name (information_schema
// data_type) to a column type.
func ColumnTypeFromName(name string) model.ColumnType {
	switch strings.ToLower(name) {
	case "double precision", "real", "numeric":
		return model.TypeFloat
	case "bigint", "integer", "smallint":
		return model.TypeInteger
	case "boolean":
		return model.TypeBool
	case "timestamp with time zone", "timestamp without time zone", "date":
		return model.TypeTimestamp
	default:
		return model.TypeText
	}
}
