package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/comex-enrich/internal/fetcher"
	"github.com/sells-group/comex-enrich/internal/model"
	"github.com/sells-group/comex-enrich/internal/sink"
	"github.com/sells-group/comex-enrich/internal/source"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadTrades_CSVSemicolonCustomsHeaders(t *testing.T) {
	path := writeFile(t, "trades.csv",
		"CO_NCM;SG_UF_NCM;Cidade;Descrição do Produto;CO_PAIS;KG_LIQUIDO;VL_FOB;VL_FRETE;QT_ESTAT;CNPJ;Confiança\n"+
			"84713012;SP;São Paulo;Notebook;160;1.234,5;10000,00;150;10;11.222.333/0001-81;0,9\n"+
			"85171231;RJ;Niterói;Telefone;156;10;500;;;;\n")

	records, err := ReadTrades(context.Background(), path, TradeOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	r := records[0]
	assert.Equal(t, "1", r.RecordKey)
	assert.Equal(t, "84713012", r.NCM)
	assert.Equal(t, "SP", r.ImporterUF)
	assert.Equal(t, "São Paulo", r.ImporterCity)
	assert.Equal(t, "Notebook", r.ProductDescription)
	assert.Equal(t, "160", r.Country)
	assert.InDelta(t, 1234.5, r.NetWeight, 1e-9)
	assert.InDelta(t, 10000, r.FOBValue, 1e-9)
	assert.InDelta(t, 150, r.Freight, 1e-9)
	assert.InDelta(t, 10, r.Quantity, 1e-9)
	assert.InDelta(t, 0.9, r.Confidence, 1e-9)
	assert.Equal(t, "11222333000181", r.NormalizedID)
	assert.Equal(t, "11222333", r.BasicID)

	assert.Equal(t, "2", records[1].RecordKey)
	assert.Empty(t, records[1].NormalizedID)
	assert.Empty(t, records[1].BasicID)
}

func TestReadTrades_CSVCommaWithKeys(t *testing.T) {
	path := writeFile(t, "trades.csv",
		"record_key,ncm,uf_importador,valor_fob,predicted_id,ignored\n"+
			"a-1,8471,SP,10.5,12345678000195,x\n"+
			"a-2,8517,MG,7,123456780001,y\n")

	records, err := ReadTrades(context.Background(), path, TradeOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a-1", records[0].RecordKey)
	assert.InDelta(t, 10.5, records[0].FOBValue, 1e-9)
	assert.Equal(t, "00123456780001", records[1].NormalizedID)
	assert.Equal(t, "00123456", records[1].BasicID)
}

func TestReadTrades_JSONAndNDJSON(t *testing.T) {
	jsonPath := writeFile(t, "trades.json",
		`[{"id": 7, "co_ncm": "8471", "vl_fob": 12.5, "cnpj": 11222333000181, "confianca": 0.8},
		  {"id": 8, "co_ncm": "8517", "vl_fob": null, "cnpj": null}]`)
	ndjsonPath := writeFile(t, "trades.ndjson",
		"{\"id\": 7, \"co_ncm\": \"8471\", \"vl_fob\": 12.5, \"cnpj\": 11222333000181, \"confianca\": 0.8}\n"+
			"{\"id\": 8, \"co_ncm\": \"8517\", \"vl_fob\": null, \"cnpj\": null}\n")

	for _, path := range []string{jsonPath, ndjsonPath} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			records, err := ReadTrades(context.Background(), path, TradeOptions{})
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, "7", records[0].RecordKey)
			assert.Equal(t, "11222333000181", records[0].PredictedID)
			assert.Equal(t, "11222333000181", records[0].NormalizedID)
			assert.InDelta(t, 12.5, records[0].FOBValue, 1e-9)
			assert.InDelta(t, 0.8, records[0].Confidence, 1e-9)
			assert.Equal(t, "8", records[1].RecordKey)
			assert.Zero(t, records[1].FOBValue)
			assert.Empty(t, records[1].PredictedID)
		})
	}
}

func TestReadTrades_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Importacoes")
	require.NoError(t, err)
	for _, data := range [][]string{
		{"NCM", "UF", "Valor FOB", "CNPJ Previsto"},
		{"8471", "SP", "100", "11222333000181"},
		{"8517", "PR", "200", ""},
	} {
		row := sheet.AddRow()
		for _, v := range data {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "trades.xlsx")
	require.NoError(t, f.Save(path))

	records, err := ReadTrades(context.Background(), path, TradeOptions{Sheet: "Importacoes"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "PR", records[1].ImporterUF)
	assert.InDelta(t, 200, records[1].FOBValue, 1e-9)
	assert.Equal(t, "11222333", records[0].BasicID)
}

func TestReadTrades_FormatOverride(t *testing.T) {
	path := writeFile(t, "trades.dat", "ncm|uf\n8471|SP\n")
	records, err := ReadTrades(context.Background(), path, TradeOptions{Format: fetcher.FormatCSV, Delimiter: '|'})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "SP", records[0].ImporterUF)
}

func TestReadTrades_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"duplicate key", "dup.csv", "record_key,ncm\nk,1\nk,2\n", `duplicate record key "k"`},
		{"bad number", "bad.csv", "ncm,valor_fob\n1,lots\n", "invalid valor_fob"},
		{"unsupported", "trades.parquet", "x", "unsupported file type"},
		{"bad json", "bad.json", `{"not": "array"}`, "expected '['"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadTrades(context.Background(), writeFile(t, tt.file, tt.content), TradeOptions{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadTrades_HeaderOnly(t *testing.T) {
	records, err := ReadTrades(context.Background(), writeFile(t, "empty.csv", "ncm;uf\n"), TradeOptions{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestWriteTrades_Batches(t *testing.T) {
	records := make([]model.TradeRecord, 5)
	for i := range records {
		records[i] = model.TradeRecord{RecordKey: string(rune('a' + i))}
	}

	w := &recordingWriter{}
	res, err := WriteTrades(context.Background(), w, records, 2)
	require.NoError(t, err)
	assert.Equal(t, &Result{Rows: 5, Batches: 3}, res)
	require.Len(t, w.calls, 3)
	assert.True(t, w.calls[0].isFirst)
	assert.False(t, w.calls[1].isFirst)
	assert.Equal(t, []int{2, 2, 1}, []int{w.calls[0].rows, w.calls[1].rows, w.calls[2].rows})
}

func TestWriteTrades_EmptyStillReplaces(t *testing.T) {
	w := &recordingWriter{}
	res, err := WriteTrades(context.Background(), w, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Batches)
	require.Len(t, w.calls, 1)
	assert.True(t, w.calls[0].isFirst)
	assert.Equal(t, model.TradeColumns, w.calls[0].table.Columns)
}

func TestWriteTrades_Error(t *testing.T) {
	w := &recordingWriter{err: errors.New("disk full")}
	_, err := WriteTrades(context.Background(), w, []model.TradeRecord{{RecordKey: "1"}}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest: write trades [0, 1)")
}

func TestTrades_SQLiteRoundTrip(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()

	path := writeFile(t, "trades.csv",
		"ncm;uf;valor_fob;cnpj;confianca\n8471;SP;10,5;11222333000181;0,7\n8517;RJ;3;;\n")
	records, err := ReadTrades(ctx, path, TradeOptions{})
	require.NoError(t, err)

	w := sink.NewWriter(sink.NewSQLite(conn), "comex_importacao", model.ColRecordKey)
	_, err = WriteTrades(ctx, w, records, 1)
	require.NoError(t, err)

	got, err := source.NewSQLiteTrade(conn, "comex_importacao").ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	sort.Slice(got, func(i, j int) bool { return got[i].RecordKey < got[j].RecordKey })
	assert.Equal(t, records, got)

	var idx int
	require.NoError(t, conn.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_comex_importacao_record_key'").Scan(&idx))
	assert.Equal(t, 1, idx)
}
