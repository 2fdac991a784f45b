package model

import (
	"github.com/rotisserie/eris"
)

// ColumnType is the storage type of a Table column.
type ColumnType int

const (
	TypeText ColumnType = iota
	TypeFloat
	TypeInteger
	TypeBool
	TypeTimestamp
)

// String returns the lowercase type name.
func (t ColumnType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeFloat:
		return "float"
	case TypeInteger:
		return "integer"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Column is a named, typed column.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Table is an in-memory, row-major relation handed to a Sink. Every row has
// len(Columns) values; nil is NULL.
type Table struct {
	Columns []Column
	Rows    [][]any
}

// NewTable creates an empty table with the given schema.
func NewTable(cols []Column) *Table {
	return &Table{Columns: cols}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of the named column, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Value returns the value at row i of the named column. Unknown columns yield nil.
func (t *Table) Value(i int, name string) any {
	idx := t.Index(name)
	if idx < 0 || i < 0 || i >= len(t.Rows) {
		return nil
	}
	return t.Rows[i][idx]
}

// SameSchema reports whether a and b have identical column names and types in
// the same order.
func SameSchema(a, b []Column) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Concat joins tables in order into one table. Nil and empty tables are
// skipped. All remaining tables must share a schema.
func Concat(tables []*Table) (*Table, error) {
	var out *Table
	for _, t := range tables {
		if t.Len() == 0 {
			continue
		}
		if out == nil {
			out = &Table{Columns: t.Columns}
		} else if !SameSchema(out.Columns, t.Columns) {
			return nil, eris.New("model: concat: tables have different schemas")
		}
		out.Rows = append(out.Rows, t.Rows...)
	}
	if out == nil {
		return &Table{}, nil
	}
	return out, nil
}
