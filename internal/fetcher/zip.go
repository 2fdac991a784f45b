package fetcher

import (
	"archive/zip"
	"io"

	"github.com/rotisserie/eris"
)

// zipEntry closes the entry and then the archive.
type zipEntry struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (z *zipEntry) Close() error {
	err := z.ReadCloser.Close()
	if cerr := z.archive.Close(); err == nil {
		err = cerr
	}
	return err
}

// OpenZIPSingle opens the only file in a ZIP archive for streaming. Directory
// entries are ignored. It returns the entry's name alongside the reader.
func OpenZIPSingle(zipPath string) (io.ReadCloser, string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, "", eris.Wrap(err, "zip: open archive")
	}

	var files []*zip.File
	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			files = append(files, f)
		}
	}
	if len(files) != 1 {
		_ = r.Close()
		return nil, "", eris.Errorf("zip: expected exactly 1 file, got %d", len(files))
	}

	rc, err := files[0].Open()
	if err != nil {
		_ = r.Close()
		return nil, "", eris.Wrap(err, "zip: open entry")
	}
	return &zipEntry{ReadCloser: rc, archive: r}, files[0].Name, nil
}
