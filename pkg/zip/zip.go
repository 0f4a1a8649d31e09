package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// Entry is one file of an archive. Stored entries skip compression, which
// container formats such as EPUB require for their first member.
type Entry struct {
	Name   string
	Data   []byte
	Stored bool
}

// Archive writes entries in order and returns the archive bytes.
func Archive(entries []Entry) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, entry := range entries {
		method := zip.Deflate
		if entry.Stored {
			method = zip.Store
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: entry.Name, Method: method})
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", entry.Name, err)
		}
		if _, err := w.Write(entry.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", entry.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}
