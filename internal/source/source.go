// Package source reads the company registry in row windows and the trade
// batch in one pass, from SQLite or Postgres.
package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/comex-enrich/internal/model"
)

// DefaultOrderBy gives windows over the registry query a stable order so
// disjoint LIMIT/OFFSET ranges never overlap.
const DefaultOrderBy = "cnpj_basico, cnpj_ordem, cnpj_dv"

// Registry streams the registry query in windows.
type Registry interface {
	// Count returns the number of rows the query yields without materializing them.
	Count(ctx context.Context) (int64, error)

	// ReadWindow returns up to limit rows starting at offset.
	ReadWindow(ctx context.Context, offset, limit int64) (*model.RegistryWindow, error)
}

// Trade loads the full trade batch.
type Trade interface {
	ReadAll(ctx context.Context) ([]model.TradeRecord, error)
}

// Query is a registry query plus the ordering applied to its windows.
type Query struct {
	SQL     string
	OrderBy string // empty uses DefaultOrderBy; "-" disables ordering
}

// CleanSQL trims whitespace and trailing semicolons so the query can be
// wrapped as a subquery.
func CleanSQL(q string) string {
	q = strings.TrimSpace(q)
	for strings.HasSuffix(q, ";") {
		q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	}
	return q
}

func (q Query) validate() error {
	if CleanSQL(q.SQL) == "" {
		return eris.New("source: empty registry query")
	}
	return nil
}

func (q Query) countSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS subquery", CleanSQL(q.SQL))
}

func (q Query) windowSQL(offset, limit int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM (%s) AS subquery", CleanSQL(q.SQL))
	switch q.OrderBy {
	case "":
		fmt.Fprintf(&b, " ORDER BY %s", DefaultOrderBy)
	case "-":
	default:
		fmt.Fprintf(&b, " ORDER BY %s", q.OrderBy)
	}
	fmt.Fprintf(&b, " LIMIT %d OFFSET %d", limit, offset)
	return b.String()
}

// windowBuilder splits raw rows into key columns and attribute columns.
type windowBuilder struct {
	window             *model.RegistryWindow
	basicIdx, orderIdx int
	dvIdx              int
	attrIdx            []int
}

func newWindowBuilder(offset, limit int64, names []string, types []model.ColumnType) (*windowBuilder, error) {
	b := &windowBuilder{
		window:   &model.RegistryWindow{Offset: offset, Limit: limit},
		basicIdx: -1,
		orderIdx: -1,
		dvIdx:    -1,
	}
	for i, name := range names {
		switch strings.ToLower(name) {
		case model.ColRegistryBasic:
			b.basicIdx = i
		case model.ColRegistryOrder:
			b.orderIdx = i
		case model.ColRegistryDV:
			b.dvIdx = i
		default:
			b.attrIdx = append(b.attrIdx, i)
			b.window.Columns = append(b.window.Columns, model.Column{Name: strings.ToLower(name), Type: types[i]})
		}
	}
	if b.basicIdx < 0 {
		return nil, eris.Errorf("source: registry query does not project %s", model.ColRegistryBasic)
	}
	return b, nil
}

func (b *windowBuilder) add(values []any) {
	rec := model.RegistryRecord{
		BasicID: asString(values[b.basicIdx]),
		Values:  make([]any, len(b.attrIdx)),
	}
	if b.orderIdx >= 0 {
		rec.Order = asString(values[b.orderIdx])
	}
	if b.dvIdx >= 0 {
		rec.CheckDigits = asString(values[b.dvIdx])
	}
	for j, idx := range b.attrIdx {
		rec.Values[j] = Coerce(values[idx], b.window.Columns[j].Type)
	}
	b.window.Rows = append(b.window.Rows, rec)
}
