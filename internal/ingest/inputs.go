package ingest

import (
	"bytes"
	"io"
	"mime"
	"os"
	"path/filepath"

	"go-sd-gallery/internal/models"
)

// BytesInput wraps in-memory content as a batch entry.
func BytesInput(name string, data []byte) models.FileInput {
	return models.FileInput{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// PathInput reads a local file lazily, when its worker picks it up.
func PathInput(path string) models.FileInput {
	return models.FileInput{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}
