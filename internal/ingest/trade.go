package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/comex-enrich/internal/fetcher"
	"github.com/sells-group/comex-enrich/internal/model"
)

// tradeAliases maps folded source headers to trade columns. Headers from the
// public customs dataset (CO_NCM, VL_FOB, ...) and the Portuguese column
// names of earlier exports are both accepted.
var tradeAliases = map[string]string{
	"record_key": model.ColRecordKey, "id": model.ColRecordKey, "chave": model.ColRecordKey,
	"trade_record_key": model.ColRecordKey,

	"ncm": model.ColNCM, "co_ncm": model.ColNCM,

	"uf_importador": model.ColImporterUF, "uf": model.ColImporterUF,
	"sg_uf": model.ColImporterUF, "sg_uf_ncm": model.ColImporterUF,

	"cidade_importador": model.ColImporterCity, "cidade": model.ColImporterCity,
	"municipio": model.ColImporterCity, "no_mun": model.ColImporterCity,

	"descricao_produto": model.ColProductDescription, "descricao": model.ColProductDescription,
	"descricao_do_produto": model.ColProductDescription, "no_ncm_por": model.ColProductDescription,

	"modal": model.ColModal, "via": model.ColModal, "co_via": model.ColModal,

	"pais_aquisicao": model.ColCountry, "pais": model.ColCountry,
	"pais_origem": model.ColCountry, "co_pais": model.ColCountry,

	"unidade_estatistica": model.ColStatUnit, "unidade": model.ColStatUnit,
	"co_unid": model.ColStatUnit,

	"peso_liquido": model.ColNetWeight, "kg_liquido": model.ColNetWeight,

	"valor_fob": model.ColFOBValue, "vl_fob": model.ColFOBValue,

	"valor_frete": model.ColFreight, "vl_frete": model.ColFreight, "frete": model.ColFreight,

	"valor_seguro": model.ColInsurance, "vl_seguro": model.ColInsurance, "seguro": model.ColInsurance,

	"quantidade": model.ColQuantity, "qt_estat": model.ColQuantity,

	"predicted_id": model.ColPredictedID, "cnpj": model.ColPredictedID,
	"cnpj_previsto": model.ColPredictedID, "cnpj_predito": model.ColPredictedID,
	"cnpj_importador": model.ColPredictedID,

	"confidence": model.ColConfidence, "confianca": model.ColConfidence,
	"probabilidade": model.ColConfidence, "score": model.ColConfidence,
}

// TradeOptions configures ReadTrades.
type TradeOptions struct {
	// Format overrides detection by file extension.
	Format fetcher.Format
	// Delimiter for CSV input; 0 sniffs it from the header line.
	Delimiter rune
	// Sheet selects an XLSX sheet by name; empty reads the first.
	Sheet string
}

// ReadTrades parses a trade file into normalized records. Records without a
// key get their 1-based position in the file. Duplicate keys are rejected.
func ReadTrades(ctx context.Context, path string, opts TradeOptions) ([]model.TradeRecord, error) {
	rc, name, err := fetcher.Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	format := opts.Format
	if format == "" {
		if format, err = fetcher.DetectFormat(name); err != nil {
			return nil, err
		}
	}

	var rows []map[string]string
	switch format {
	case fetcher.FormatCSV:
		rows, err = readTradeCSV(ctx, rc, opts.Delimiter)
	case fetcher.FormatJSON:
		ch, errCh := fetcher.DecodeJSONArray[map[string]any](ctx, rc)
		rows, err = collectObjects(ch, errCh)
	case fetcher.FormatNDJSON:
		ch, errCh := fetcher.StreamNDJSON[map[string]any](ctx, rc)
		rows, err = collectObjects(ch, errCh)
	case fetcher.FormatXLSX:
		if name != filepath.Base(path) {
			return nil, eris.New("ingest: xlsx inside an archive is not supported")
		}
		rowCh, errCh := fetcher.StreamXLSX(ctx, path, fetcher.XLSXOptions{SheetName: opts.Sheet})
		rows, err = collectTabular(rowCh, errCh)
	default:
		return nil, eris.Errorf("ingest: unsupported trade format %q", format)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read trades %s", path)
	}

	return tradeRecords(rows)
}

func readTradeCSV(ctx context.Context, r io.Reader, delim rune) ([]map[string]string, error) {
	if delim == 0 {
		var err error
		if delim, r, err = fetcher.SniffDelimiter(r); err != nil {
			return nil, err
		}
	}
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{Delimiter: delim, TrimSpace: true})
	return collectTabular(rowCh, errCh)
}

// collectTabular treats the first row as the header.
func collectTabular(rowCh <-chan []string, errCh <-chan error) ([]map[string]string, error) {
	var (
		cols []string
		rows []map[string]string
	)
	for row := range rowCh {
		if cols == nil {
			cols = make([]string, len(row))
			for i, h := range row {
				cols[i] = tradeAliases[foldHeader(strings.TrimPrefix(h, "\ufeff"))]
			}
			continue
		}
		fields := make(map[string]string, len(cols))
		for i, v := range row {
			if i < len(cols) && cols[i] != "" {
				fields[cols[i]] = v
			}
		}
		rows = append(rows, fields)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return rows, nil
}

func collectObjects(ch <-chan map[string]any, errCh <-chan error) ([]map[string]string, error) {
	var rows []map[string]string
	for obj := range ch {
		fields := make(map[string]string, len(obj))
		for k, v := range obj {
			if col, ok := tradeAliases[foldHeader(k)]; ok {
				fields[col] = jsonText(v)
			}
		}
		rows = append(rows, fields)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return rows, nil
}

func jsonText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func tradeRecords(rows []map[string]string) ([]model.TradeRecord, error) {
	records := make([]model.TradeRecord, len(rows))
	seen := make(map[string]int, len(rows))
	for i, f := range rows {
		rec := model.TradeRecord{
			RecordKey:          strings.TrimSpace(f[model.ColRecordKey]),
			NCM:                strings.TrimSpace(f[model.ColNCM]),
			ImporterUF:         strings.TrimSpace(f[model.ColImporterUF]),
			ImporterCity:       strings.TrimSpace(f[model.ColImporterCity]),
			ProductDescription: strings.TrimSpace(f[model.ColProductDescription]),
			Modal:              strings.TrimSpace(f[model.ColModal]),
			Country:            strings.TrimSpace(f[model.ColCountry]),
			StatUnit:           strings.TrimSpace(f[model.ColStatUnit]),
			PredictedID:        strings.TrimSpace(f[model.ColPredictedID]),
		}
		if rec.RecordKey == "" {
			rec.RecordKey = strconv.Itoa(i + 1)
		}
		if prev, dup := seen[rec.RecordKey]; dup {
			return nil, eris.Errorf("ingest: row %d: duplicate record key %q (first at row %d)", i+1, rec.RecordKey, prev)
		}
		seen[rec.RecordKey] = i + 1

		for _, num := range []struct {
			col string
			dst *float64
		}{
			{model.ColNetWeight, &rec.NetWeight},
			{model.ColFOBValue, &rec.FOBValue},
			{model.ColFreight, &rec.Freight},
			{model.ColInsurance, &rec.Insurance},
			{model.ColQuantity, &rec.Quantity},
			{model.ColConfidence, &rec.Confidence},
		} {
			v, err := parseNumber(f[num.col])
			if err != nil {
				return nil, eris.Errorf("ingest: row %d: invalid %s %q", i+1, num.col, f[num.col])
			}
			*num.dst = v
		}

		rec.Normalize()
		records[i] = rec
	}
	return records, nil
}

// WriteTrades replaces the trade relation with records in batches of
// batchSize rows.
func WriteTrades(ctx context.Context, w Writer, records []model.TradeRecord, batchSize int) (*Result, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	res := &Result{}
	for start := 0; start == 0 || start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		if err := w.Write(ctx, model.TradeTable(records[start:end]), start == 0); err != nil {
			return res, eris.Wrapf(err, "ingest: write trades [%d, %d)", start, end)
		}
		res.Batches++
		res.Rows += int64(end - start)
	}
	return res, nil
}
