package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/comex-enrich/internal/config"
)

// useTestConfig points the global config at a fresh SQLite database.
func useTestConfig(t *testing.T) {
	t.Helper()
	prev := cfg
	t.Cleanup(func() { cfg = prev })

	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "cnpj.db")},
		Registry: config.RegistryConfig{
			Query:          config.DefaultRegistryQuery,
			OrderBy:        "cnpj_basico, cnpj_ordem, cnpj_dv",
			FallbackTotal:  1000,
			ReadRetries:    1,
			RetryBackoffMs: 1,
		},
		Trade:  config.TradeConfig{Relation: "comex_importacao", OriginTag: "test-origin"},
		Enrich: config.EnrichConfig{ChunkSize: 2, BatchSize: 1, Workers: 1, Destination: "enriched", Consolidated: "consolidated"},
		Import: config.ImportConfig{BatchSize: 100},
		Log:    config.LogConfig{Level: "info", Format: "json"},
	}
}

func openTestBackend(t *testing.T) *backend {
	t.Helper()
	b, err := openBackend(context.Background(), cfg.Store)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func estabLine(basic, order, dv string) string {
	fields := make([]string, 30)
	fields[0], fields[1], fields[2] = basic, order, dv
	fields[19] = "SP"
	return `"` + strings.Join(fields, `";"`) + `"`
}

// seedStore loads three establishments of two companies and three trades:
// one exact match, one basic-only match and one without a prediction.
func seedStore(t *testing.T, b *backend) {
	t.Helper()
	ctx := context.Background()

	empresas := writeTestFile(t, "K3241.EMPRECSV",
		`"11222333";"ACME LTDA";"2062";"49";"1000,00";"03";""`+"\n"+
			`"44555666";"BETA SA";"2046";"10";"50,00";"05";""`+"\n")
	_, err := runImportRegistry(ctx, b, registryImportOptions{layout: "empresas", files: []string{empresas}})
	require.NoError(t, err)

	estab0 := writeTestFile(t, "Estabelecimentos0.ESTABELE.csv",
		estabLine("11222333", "0001", "81")+"\n"+estabLine("11222333", "0002", "62")+"\n")
	estab1 := writeTestFile(t, "Estabelecimentos1.ESTABELE.csv",
		estabLine("44555666", "0001", "00")+"\n")
	_, err = runImportRegistry(ctx, b, registryImportOptions{layout: "estabelecimentos", files: []string{estab0, estab1}})
	require.NoError(t, err)

	trades := writeTestFile(t, "trades.csv",
		"ncm;uf;valor_fob;cnpj\n"+
			"8471;SP;100;11.222.333/0001-81\n"+
			"8517;SP;50;11222333000999\n"+
			"3004;RJ;10;\n")
	_, err = runImportTrade(ctx, b, tradeImportOptions{file: trades})
	require.NoError(t, err)
}
