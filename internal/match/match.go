// Package match joins one registry window against the trade batch with a
// two-tier key strategy: exact 14-digit identifier first, then the 8-digit
// basic root for rows the exact pass left unmatched.
package match

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/comex-enrich/internal/cnpj"
	"github.com/sells-group/comex-enrich/internal/model"
)

// Column prefixes namespace each side of the join.
const (
	TradePrefix    = "trade_"
	RegistryPrefix = "registry_"
)

// Output columns that belong to neither side.
const (
	ColNormalizedID       = "normalized_id"
	ColBasicID            = "basic_id"
	ColPredictedIDValid   = "predicted_id_valid"
	ColRegistryFullID     = "registry_full_id"
	ColRegistryMatched    = "registry_matched"
	ColDataOriginRegistry = "data_origin_registry"
	ColDataOriginTrade    = "data_origin_trade"
)

// DefaultTradeOrigin tags rows sourced from the public customs dataset.
const DefaultTradeOrigin = "siscomex-mdic-public"

// Options configures a match.
type Options struct {
	// TradeOrigin is written to data_origin_trade on every row.
	TradeOrigin string
}

// Schema returns the enriched output columns for a window whose attribute
// columns are registryCols.
func Schema(registryCols []model.Column) ([]model.Column, error) {
	cols := make([]model.Column, 0, len(model.TradeColumns)+len(registryCols)+7)
	for _, c := range model.TradeColumns {
		cols = append(cols, model.Column{Name: TradePrefix + c.Name, Type: c.Type})
	}
	cols = append(cols,
		model.Column{Name: ColNormalizedID, Type: model.TypeText},
		model.Column{Name: ColBasicID, Type: model.TypeText},
		model.Column{Name: ColPredictedIDValid, Type: model.TypeBool},
		model.Column{Name: ColRegistryFullID, Type: model.TypeText},
	)
	for _, c := range registryCols {
		cols = append(cols, model.Column{Name: RegistryPrefix + c.Name, Type: c.Type})
	}
	cols = append(cols,
		model.Column{Name: ColRegistryMatched, Type: model.TypeBool},
		model.Column{Name: ColDataOriginRegistry, Type: model.TypeText},
		model.Column{Name: ColDataOriginTrade, Type: model.TypeText},
	)

	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if seen[c.Name] {
			return nil, eris.Errorf("match: duplicate output column %q", c.Name)
		}
		seen[c.Name] = true
	}
	return cols, nil
}

// assignment is the per-trade-row accumulator shared by both passes.
type assignment struct {
	registryRow int
	origin      model.Origin
	matched     bool
}

// index maps join keys to the first registry row carrying them. Later
// duplicates are ignored, so ties resolve by window order.
type index struct {
	full  map[string]int
	basic map[string]int
}

func buildIndex(w *model.RegistryWindow) index {
	idx := index{
		full:  make(map[string]int, len(w.Rows)),
		basic: make(map[string]int, len(w.Rows)),
	}
	for i := range w.Rows {
		full := w.Rows[i].FullID()
		if _, ok := idx.full[full]; !ok {
			idx.full[full] = i
		}
		basic := cnpj.Basic(full)
		if _, ok := idx.basic[basic]; !ok {
			idx.basic[basic] = i
		}
	}
	return idx
}

// Match enriches every trade record with at most one registry row from w.
// The result has exactly len(trades) rows in trade order. A panic while
// matching is returned as an error so the caller can skip the window.
func Match(w *model.RegistryWindow, trades []model.TradeRecord, opts Options) (out *model.Table, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = eris.Errorf("match: panic: %v", r)
		}
	}()

	if w == nil {
		return nil, eris.New("match: nil registry window")
	}
	for i := range w.Rows {
		if len(w.Rows[i].Values) != len(w.Columns) {
			return nil, eris.Errorf("match: registry row %d has %d values for %d columns",
				i, len(w.Rows[i].Values), len(w.Columns))
		}
	}

	cols, err := Schema(w.Columns)
	if err != nil {
		return nil, err
	}

	origin := opts.TradeOrigin
	if origin == "" {
		origin = DefaultTradeOrigin
	}

	idx := buildIndex(w)
	acc := make([]assignment, len(trades))

	// Pass 1: exact identifier.
	for i := range trades {
		acc[i] = assignment{registryRow: -1, origin: model.OriginExact}
		if trades[i].NormalizedID == "" {
			continue
		}
		if j, ok := idx.full[trades[i].NormalizedID]; ok {
			acc[i] = assignment{registryRow: j, origin: model.OriginExact, matched: true}
		}
	}

	// Pass 2: basic root, only for rows pass 1 left unmatched.
	for i := range trades {
		if acc[i].matched || trades[i].BasicID == "" {
			continue
		}
		if j, ok := idx.basic[trades[i].BasicID]; ok {
			acc[i] = assignment{registryRow: j, origin: model.OriginBasic, matched: true}
		}
	}

	out = model.NewTable(cols)
	out.Rows = make([][]any, len(trades))
	for i := range trades {
		out.Rows[i] = buildRow(&trades[i], w, acc[i], len(cols), origin)
	}
	return out, nil
}

func buildRow(tr *model.TradeRecord, w *model.RegistryWindow, a assignment, width int, tradeOrigin string) []any {
	row := make([]any, 0, width)
	row = append(row, tr.Values()...)
	row = append(row, tr.NormalizedID, tr.BasicID, cnpj.Valid(tr.NormalizedID))

	if a.matched {
		reg := &w.Rows[a.registryRow]
		row = append(row, reg.FullID())
		row = append(row, reg.Values...)
	} else {
		row = append(row, nil)
		row = append(row, make([]any, len(w.Columns))...)
	}

	return append(row, a.matched, string(a.origin), tradeOrigin)
}
