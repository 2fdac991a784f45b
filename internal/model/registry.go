package model

import (
	"github.com/sells-group/comex-enrich/internal/cnpj"
)

// Key columns every registry query must project.
const (
	ColRegistryBasic = "cnpj_basico"
	ColRegistryOrder = "cnpj_ordem"
	ColRegistryDV    = "cnpj_dv"
)

// RegistryRecord is one establishment row of the company registry. Values
// holds the attribute columns of the window it was read from.
type RegistryRecord struct {
	BasicID     string
	Order       string
	CheckDigits string
	Values      []any
}

// FullID returns the 14-digit identifier of the establishment.
func (r *RegistryRecord) FullID() string {
	return cnpj.Full(r.BasicID, r.Order, r.CheckDigits)
}

// Basic returns the zero-padded 8-digit entity root.
func (r *RegistryRecord) Basic() string {
	return cnpj.Basic(r.FullID())
}

// RegistryWindow is one LIMIT/OFFSET read of the registry query.
type RegistryWindow struct {
	Offset  int64
	Limit   int64
	Columns []Column // attribute columns, key columns excluded
	Rows    []RegistryRecord
}

// Len returns the number of rows in the window.
func (w *RegistryWindow) Len() int {
	if w == nil {
		return 0
	}
	return len(w.Rows)
}

// Origin labels which join tier produced an enriched row.
type Origin string

const (
	OriginExact Origin = "exact-match"
	OriginBasic Origin = "basic-match"
)
