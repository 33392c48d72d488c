package cmd

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-sd-gallery/internal/api"
	"go-sd-gallery/internal/downloader"
	"go-sd-gallery/internal/ingest"
	"go-sd-gallery/internal/models"
)

func TestExpandIngestArgs(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(nested, 0755))
	for _, name := range []string{"a.png", "b.JPG", "notes.txt", "a-thumb.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(nested, "c.webp"), []byte("x"), 0644))
	single := filepath.Join(t.TempDir(), "single.txt")
	require.NoError(t, os.WriteFile(single, []byte("x"), 0644))

	dl := downloader.NewDownloader(http.DefaultClient, 0)
	files, err := expandIngestArgs(context.Background(), []string{dir, single, "https://example.com/img/d.png"}, dl)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	// Explicit files are taken as given; directories keep only images.
	assert.Equal(t, []string{"a.png", "b.JPG", "c.webp", "single.txt", "d.png"}, names)

	_, err = expandIngestArgs(context.Background(), []string{filepath.Join(dir, "missing.png")}, dl)
	assert.Error(t, err)
}

func TestUploadOutcomes(t *testing.T) {
	batch := []models.FileInput{
		ingest.BytesInput("one.png", []byte("1")),
		ingest.BytesInput("two.png", []byte("2")),
	}

	t.Run("All uploaded", func(t *testing.T) {
		got := uploadOutcomes(batch, api.UploadResponse{Uploaded: []string{"one_k.png", "two_k.png"}})
		require.Len(t, got, 2)
		assert.Equal(t, "one.png", got[0].OriginalName)
		assert.Equal(t, "two_k.png", got[1].Key)
		assert.Equal(t, models.StatusSuccess, got[1].Status)
	})

	t.Run("Partial", func(t *testing.T) {
		got := uploadOutcomes(batch, api.UploadResponse{
			Success: []ingest.StoredFile{{OriginalName: "one.png", Key: "one_k.png"}},
			Failed:  []ingest.FailedFile{{OriginalName: "two.png", Reason: "disk full"}},
		})
		require.Len(t, got, 2)
		assert.Equal(t, models.StatusSuccess, got[0].Status)
		assert.Equal(t, models.StatusFailure, got[1].Status)
		assert.Equal(t, "disk full", got[1].Error)
	})
}
