package source

import (
	"database/sql"
	"fmt"

	"github.com/sells-group/comex-enrich/internal/db"
	"github.com/sells-group/comex-enrich/internal/model"
)

func tradeSQL(relation string) string {
	names := make([]string, len(model.TradeColumns))
	for i, c := range model.TradeColumns {
		names[i] = c.Name
	}
	return fmt.Sprintf("SELECT %s FROM %s", db.QuoteAndJoin(names), db.SanitizeTable(relation))
}

// tradeScan holds nullable scan targets in model.TradeColumns order.
type tradeScan struct {
	key, ncm, uf, city, desc, modal, country, unit sql.NullString
	weight, fob, freight, insurance, qty           sql.NullFloat64
	predicted                                      sql.NullString
	confidence                                     sql.NullFloat64
}

func (s *tradeScan) targets() []any {
	return []any{
		&s.key, &s.ncm, &s.uf, &s.city, &s.desc, &s.modal, &s.country, &s.unit,
		&s.weight, &s.fob, &s.freight, &s.insurance, &s.qty,
		&s.predicted, &s.confidence,
	}
}

func (s *tradeScan) record() model.TradeRecord {
	r := model.TradeRecord{
		RecordKey:          s.key.String,
		NCM:                s.ncm.String,
		ImporterUF:         s.uf.String,
		ImporterCity:       s.city.String,
		ProductDescription: s.desc.String,
		Modal:              s.modal.String,
		Country:            s.country.String,
		StatUnit:           s.unit.String,
		NetWeight:          s.weight.Float64,
		FOBValue:           s.fob.Float64,
		Freight:            s.freight.Float64,
		Insurance:          s.insurance.Float64,
		Quantity:           s.qty.Float64,
		PredictedID:        s.predicted.String,
		Confidence:         s.confidence.Float64,
	}
	r.Normalize()
	return r
}
