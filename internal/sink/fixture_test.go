package sink

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/comex-enrich/internal/match"
	"github.com/sells-group/comex-enrich/internal/model"
)

// enrichedFixture builds the output of three chunks over three trade records:
// k1 matches exactly in chunk 2, k2 matches on its basic root in chunk 3 and
// k3 never matches.
func enrichedFixture(t *testing.T) *model.Table {
	t.Helper()

	trades := []model.TradeRecord{
		{RecordKey: "k1", PredictedID: "11.222.333/0001-81", Confidence: 0.9},
		{RecordKey: "k2", PredictedID: "44555666000199", Confidence: 0.7},
		{RecordKey: "k3", PredictedID: "", Confidence: 0.1},
	}
	for i := range trades {
		trades[i].Normalize()
	}
	cols := []model.Column{{Name: "razao_social", Type: model.TypeText}}

	windows := []*model.RegistryWindow{
		{Offset: 0, Limit: 2, Columns: cols, Rows: []model.RegistryRecord{
			{BasicID: "99999999", Order: "0001", CheckDigits: "00", Values: []any{"OUTRA"}},
		}},
		{Offset: 2, Limit: 2, Columns: cols, Rows: []model.RegistryRecord{
			{BasicID: "11222333", Order: "0001", CheckDigits: "81", Values: []any{"ALFA"}},
		}},
		{Offset: 4, Limit: 2, Columns: cols, Rows: []model.RegistryRecord{
			{BasicID: "11222333", Order: "0002", CheckDigits: "62", Values: []any{"ALFA FILIAL"}},
			{BasicID: "44555666", Order: "0002", CheckDigits: "10", Values: []any{"BETA FILIAL"}},
		}},
	}

	var parts []*model.Table
	for _, w := range windows {
		out, err := match.Match(w, trades, match.Options{})
		require.NoError(t, err)
		parts = append(parts, out)
	}
	all, err := model.Concat(parts)
	require.NoError(t, err)
	return all
}
