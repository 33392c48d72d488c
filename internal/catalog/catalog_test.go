package catalog

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"go-sd-gallery/internal/blobstore"
	"go-sd-gallery/internal/imagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsImageKey(t *testing.T) {
	tests := map[string]bool{
		"cat.png":        true,
		"cat.JPG":        true,
		"cat.jpeg":       true,
		"cat.webp":       true,
		"notes.txt":      false,
		"noext":          false,
		"cat-thumb.jpg":  false,
		"gallery.json":   false,
		"archive.png.gz": false,
	}
	for key, want := range tests {
		assert.Equal(t, want, IsImageKey(key), key)
	}
}

func TestParseListing(t *testing.T) {
	keys, err := ParseListing([]byte(`["a.png", "", "b.jpg"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.jpg"}, keys)

	keys, err = ParseListing([]byte(`[]`))
	require.NoError(t, err)
	assert.Equal(t, []string{}, keys)

	_, err = ParseListing([]byte(`{"keys": []}`))
	assert.ErrorIs(t, err, ErrInvalidListing)
	_, err = ParseListing([]byte(`[1, 2]`))
	assert.ErrorIs(t, err, ErrInvalidListing)
}

func TestListingRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.json")
	require.NoError(t, WriteListing(path, []string{"b.png", "a.png"}))

	keys, err := LoadListing(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.png", "a.png"}, keys, "listing order is preserved")

	_, err = LoadListing(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestMakeThumbnail(t *testing.T) {
	thumb, err := MakeThumbnail(imagetest.PNG(600, 200, "x Steps: 1"), 300)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(300, 100), img.Bounds().Size())

	small, err := MakeThumbnail(imagetest.PNG(40, 20, ""), 300)
	require.NoError(t, err)
	img, err = jpeg.Decode(bytes.NewReader(small))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(40, 20), img.Bounds().Size(), "small images are not enlarged")

	_, err = MakeThumbnail([]byte("RIFF....WEBPVP8 "), 300)
	assert.ErrorIs(t, err, ErrUndecodable)
}

func TestThumbnailName(t *testing.T) {
	assert.Equal(t, "cat_2025_abc-thumb.jpg", ThumbnailName("cat_2025_abc.png"))
	assert.Equal(t, "noext-thumb.jpg", ThumbnailName("noext"))
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "a.png", imagetest.PNG(400, 400, ""), blobstore.PutOptions{}))
	require.NoError(t, store.Put(ctx, "b.webp", []byte("RIFF....WEBP"), blobstore.PutOptions{}))
	require.NoError(t, store.Put(ctx, "readme.txt", []byte("hi"), blobstore.PutOptions{}))

	dir := t.TempDir()
	g := &Generator{
		Source:         store,
		ListingPath:    filepath.Join(dir, "gallery.json"),
		ThumbnailDir:   filepath.Join(dir, "thumbnails"),
		ThumbnailWidth: 100,
		Concurrency:    2,
	}

	report, err := g.Generate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.webp"}, report.Keys)
	assert.EqualValues(t, 1, report.Thumbnails)
	assert.EqualValues(t, 1, report.Failed, "webp cannot be thumbnailed but stays listed")

	keys, err := LoadListing(g.ListingPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.webp"}, keys)
	assert.FileExists(t, filepath.Join(g.ThumbnailDir, "a-thumb.jpg"))

	report, err = g.Generate(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Existing)
	assert.EqualValues(t, 0, report.Thumbnails)

	g.Force = true
	report, err = g.Generate(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Thumbnails)
}

func TestGenerateWithoutThumbnails(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "a.png", []byte("x"), blobstore.PutOptions{}))

	dir := t.TempDir()
	g := &Generator{Source: store, ListingPath: filepath.Join(dir, "gallery.json")}
	report, err := g.Generate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png"}, report.Keys)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
