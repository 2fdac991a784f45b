package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTradeRecord_Normalize(t *testing.T) {
	r := TradeRecord{PredictedID: "12.345.678/0001-99"}
	r.Normalize()
	assert.Equal(t, "12345678000199", r.NormalizedID)
	assert.Equal(t, "12345678", r.BasicID)

	empty := TradeRecord{}
	empty.Normalize()
	assert.Equal(t, "", empty.NormalizedID)
	assert.Equal(t, "", empty.BasicID)
}

func TestTradeTable(t *testing.T) {
	recs := []TradeRecord{
		{RecordKey: "k1", NCM: "29094411", FOBValue: 10.5, PredictedID: "1", Confidence: 0.7},
	}
	tbl := TradeTable(recs)
	assert.Equal(t, 1, tbl.Len())
	assert.Len(t, tbl.Rows[0], len(TradeColumns))
	assert.Equal(t, "k1", tbl.Value(0, ColRecordKey))
	assert.Equal(t, 10.5, tbl.Value(0, ColFOBValue))
	assert.Equal(t, 0.7, tbl.Value(0, ColConfidence))
}

func TestRegistryRecord_FullID(t *testing.T) {
	r := RegistryRecord{BasicID: "345678", Order: "1", CheckDigits: "80"}
	assert.Equal(t, "00345678000180", r.FullID())
	assert.Equal(t, "00345678", r.Basic())
}
