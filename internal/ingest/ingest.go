// Package ingest loads the two inputs of the enrichment pipeline: trade
// files into the trade relation and Receita Federal extracts into the
// registry tables.
package ingest

import (
	"context"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/comex-enrich/internal/model"
)

// Writer persists one batch; the first batch replaces the relation.
// sink.Writer satisfies it.
type Writer interface {
	Write(ctx context.Context, t *model.Table, isFirst bool) error
}

// Result summarizes one import.
type Result struct {
	Rows       int64 `json:"rows"`
	Batches    int   `json:"batches"`
	Duplicates int64 `json:"duplicates"`
	Malformed  int64 `json:"malformed"`
}

// foldHeader lowercases s, strips accents and joins words with '_', so
// "Descrição do Produto" and "descricao_do_produto" compare equal.
func foldHeader(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(strings.TrimSpace(folded))
	return strings.Join(strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), "_")
}

// parseNumber accepts both "1234.5" and Brazilian "1.234,5". Empty input is
// zero.
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	comma := strings.LastIndexByte(s, ',')
	dot := strings.LastIndexByte(s, '.')
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case comma >= 0 && dot >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	}
	return strconv.ParseFloat(s, 64)
}

// textOrNil trims s and maps the empty string to NULL.
func textOrNil(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}
