package fetcher

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Format is a supported input file format.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
	FormatXLSX   Format = "xlsx"
)

// DetectFormat maps a file name to its format by extension. Extensions
// ending in CSV, like Receita Federal's ".EMPRECSV", are treated as CSV.
func DetectFormat(name string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".csv", ".txt", ".tsv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".ndjson", ".jsonl":
		return FormatNDJSON, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	if strings.Contains(strings.ToUpper(ext), "CSV") {
		return FormatCSV, nil
	}
	return "", eris.Errorf("fetcher: unsupported file type %q", name)
}

// Open opens path for streaming. A ".zip" path yields its single entry.
// The returned name is the inner file name for archives and the base name
// otherwise.
func Open(path string) (io.ReadCloser, string, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return OpenZIPSingle(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", eris.Wrapf(err, "fetcher: open %s", path)
	}
	return f, filepath.Base(path), nil
}
