package ingest

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/comex-enrich/internal/fetcher"
	"github.com/sells-group/comex-enrich/internal/model"
)

// Batch sizes for the large registry tables and the small lookup tables.
const (
	DefaultBatchSize = 100_000
	LookupBatchSize  = 1_000
)

// Layout describes one Receita Federal extract: its destination table,
// positional columns and the key rows are deduplicated on.
type Layout struct {
	Name      string
	Table     string
	Columns   []model.Column
	Key       []string
	BatchSize int
}

func text(names ...string) []model.Column {
	cols := make([]model.Column, len(names))
	for i, n := range names {
		cols[i] = model.Column{Name: n, Type: model.TypeText}
	}
	return cols
}

func lookup(name string) Layout {
	return Layout{
		Name:      name,
		Table:     name,
		Columns:   text("codigo", "descricao"),
		Key:       []string{"codigo"},
		BatchSize: LookupBatchSize,
	}
}

var layouts = map[string]Layout{
	"empresas": {
		Name:  "empresas",
		Table: "empresas",
		Columns: []model.Column{
			{Name: "cnpj_basico", Type: model.TypeText},
			{Name: "razao_social", Type: model.TypeText},
			{Name: "natureza_juridica", Type: model.TypeText},
			{Name: "qualificacao_responsavel", Type: model.TypeText},
			{Name: "capital_social", Type: model.TypeFloat},
			{Name: "porte_empresa", Type: model.TypeText},
			{Name: "ente_federativo_responsavel", Type: model.TypeText},
		},
		Key:       []string{"cnpj_basico"},
		BatchSize: DefaultBatchSize,
	},
	"estabelecimentos": {
		Name:  "estabelecimentos",
		Table: "estabelecimentos",
		Columns: text(
			"cnpj_basico", "cnpj_ordem", "cnpj_dv", "identificador_matriz_filial", "nome_fantasia",
			"situacao_cadastral", "data_situacao_cadastral", "motivo_situacao_cadastral",
			"nome_cidade_exterior", "pais", "data_inicio_atividade", "cnae_fiscal_principal",
			"cnae_fiscal_secundaria", "tipo_logradouro", "logradouro", "numero", "complemento",
			"bairro", "cep", "uf", "municipio", "ddd1", "telefone1", "ddd2", "telefone2",
			"ddd_fax", "fax", "email", "situacao_especial", "data_situacao_especial",
		),
		Key:       []string{"cnpj_basico", "cnpj_ordem", "cnpj_dv"},
		BatchSize: DefaultBatchSize,
	},
	"simples": {
		Name:  "simples",
		Table: "simples",
		Columns: text(
			"cnpj_basico", "opcao_simples", "data_opcao_simples", "data_exclusao_simples",
			"opcao_mei", "data_opcao_mei", "data_exclusao_mei",
		),
		Key:       []string{"cnpj_basico"},
		BatchSize: DefaultBatchSize,
	},
	"socios": {
		Name:  "socios",
		Table: "socios",
		Columns: text(
			"cnpj_basico", "identificador_socio", "nome_socio", "cnpj_cpf_socio",
			"qualificacao_socio", "data_entrada_sociedade", "pais", "cpf_representante_legal",
			"nome_representante_legal", "qualificacao_representante_legal", "faixa_etaria",
		),
		Key:       []string{"cnpj_basico", "identificador_socio", "nome_socio"},
		BatchSize: DefaultBatchSize,
	},
	"paises":        lookup("paises"),
	"municipios":    lookup("municipios"),
	"qualificacoes": lookup("qualificacoes"),
	"naturezas":     lookup("naturezas"),
	"cnaes":         lookup("cnaes"),
	"motivos":       lookup("motivos"),
}

// LayoutFor returns the layout with the given name, case-insensitively.
func LayoutFor(name string) (Layout, error) {
	l, ok := layouts[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Layout{}, eris.Errorf("ingest: unknown layout %q (known: %s)", name, strings.Join(LayoutNames(), ", "))
	}
	return l, nil
}

// LayoutNames lists the known layouts in sorted order.
func LayoutNames() []string {
	names := make([]string, 0, len(layouts))
	for n := range layouts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RegistryOptions configures ImportRegistry.
type RegistryOptions struct {
	// BatchSize overrides the layout's batch size.
	BatchSize int
	// Append adds to an existing table instead of replacing it, for extracts
	// split across several files.
	Append bool
	// Encoding of the input; nil means ISO-8859-1, the Receita default.
	Encoding encoding.Encoding
}

// ImportRegistry streams a headerless, ';'-delimited Receita extract into the
// layout's table. Rows with the wrong field count are skipped and counted;
// rows repeating a key already seen in this import are dropped.
func ImportRegistry(ctx context.Context, w Writer, r io.Reader, layout Layout, opts RegistryOptions, log *zap.Logger) (*Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("layout", layout.Name), zap.String("table", layout.Table))

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = layout.BatchSize
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	enc := opts.Encoding
	if enc == nil {
		enc = charmap.ISO8859_1
	}

	keyIdx := make([]int, len(layout.Key))
	for i, k := range layout.Key {
		keyIdx[i] = -1
		for j, c := range layout.Columns {
			if c.Name == k {
				keyIdx[i] = j
			}
		}
		if keyIdx[i] < 0 {
			return nil, eris.Errorf("ingest: layout %s: key column %s not in layout", layout.Name, k)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		Delimiter:  ';',
		LazyQuotes: true,
		Encoding:   enc,
	})

	res := &Result{}
	seen := make(map[string]struct{})
	rows := make([][]any, 0, min(batchSize, 10_000))

	flush := func() error {
		t := &model.Table{Columns: layout.Columns, Rows: rows}
		if err := w.Write(ctx, t, !opts.Append && res.Batches == 0); err != nil {
			return eris.Wrapf(err, "ingest: write %s batch %d", layout.Table, res.Batches+1)
		}
		res.Batches++
		res.Rows += int64(len(rows))
		log.Info("registry batch written",
			zap.Int("batch", res.Batches),
			zap.Int("rows", len(rows)),
			zap.Int64("total_rows", res.Rows),
		)
		rows = make([][]any, 0, cap(rows))
		return nil
	}

	line := int64(0)
	for record := range rowCh {
		line++
		if len(record) != len(layout.Columns) {
			res.Malformed++
			if res.Malformed <= 10 {
				log.Warn("skipping malformed registry row",
					zap.Int64("line", line),
					zap.Int("fields", len(record)),
					zap.Int("want", len(layout.Columns)),
				)
			}
			continue
		}

		k := rowKey(record, keyIdx)
		if _, dup := seen[k]; dup {
			res.Duplicates++
			continue
		}
		seen[k] = struct{}{}

		rows = append(rows, registryRow(record, layout.Columns))
		if len(rows) >= batchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := <-errCh; err != nil {
		return res, eris.Wrapf(err, "ingest: read %s", layout.Name)
	}

	// An empty extract still creates the table on a replacing import.
	if len(rows) > 0 || (res.Batches == 0 && !opts.Append) {
		if err := flush(); err != nil {
			return res, err
		}
	}

	log.Info("registry import complete",
		zap.Int64("rows", res.Rows),
		zap.Int("batches", res.Batches),
		zap.Int64("duplicates", res.Duplicates),
		zap.Int64("malformed", res.Malformed),
	)
	return res, nil
}

func rowKey(record []string, idx []int) string {
	parts := make([]string, len(idx))
	for i, j := range idx {
		parts[i] = strings.TrimSpace(record[j])
	}
	return strings.Join(parts, "\x00")
}

func registryRow(record []string, cols []model.Column) []any {
	row := make([]any, len(cols))
	for i, c := range cols {
		if c.Type == model.TypeFloat {
			if v, err := parseNumber(record[i]); err == nil && strings.TrimSpace(record[i]) != "" {
				row[i] = v
			}
			continue
		}
		row[i] = textOrNil(record[i])
	}
	return row
}
