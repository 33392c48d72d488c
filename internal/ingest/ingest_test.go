package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go-sd-gallery/internal/blobstore"
	"go-sd-gallery/internal/keygen"
	"go-sd-gallery/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails puts whose key starts with one of the given prefixes.
type flakyStore struct {
	*blobstore.MemoryStore
	failPrefixes []string
	delay        map[string]time.Duration
}

func (f *flakyStore) Put(ctx context.Context, key string, data []byte, opts blobstore.PutOptions) error {
	for prefix, d := range f.delay {
		if strings.HasPrefix(key, prefix) {
			time.Sleep(d)
		}
	}
	for _, p := range f.failPrefixes {
		if strings.HasPrefix(key, p) {
			return errors.New("simulated write failure")
		}
	}
	return f.MemoryStore.Put(ctx, key, data, opts)
}

func newFlakyStore(failPrefixes ...string) *flakyStore {
	return &flakyStore{MemoryStore: blobstore.NewMemoryStore(), failPrefixes: failPrefixes}
}

func names(files []StoredFile) []string {
	var out []string
	for _, f := range files {
		out = append(out, f.OriginalName)
	}
	return out
}

func TestIngestIsolatesFailures(t *testing.T) {
	store := newFlakyStore("second")
	// Make the first file finish last so completion order differs from input order.
	store.delay = map[string]time.Duration{"first": 50 * time.Millisecond}
	svc := NewService(store, keygen.NewGenerator(), Options{Concurrency: 3})

	result, err := svc.Ingest(context.Background(), []models.FileInput{
		BytesInput("first.png", []byte("one")),
		BytesInput("second.png", []byte("two")),
		BytesInput("third.png", []byte("three")),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"first.png", "third.png"}, names(result.Succeeded))
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "second.png", result.Failed[0].OriginalName)
	assert.Contains(t, result.Failed[0].Reason, "simulated write failure")
	assert.False(t, result.AllFailed())
	assert.NotEmpty(t, result.BatchID)

	for _, s := range result.Succeeded {
		data, err := store.Get(context.Background(), s.Key)
		require.NoError(t, err)
		assert.Equal(t, s.Size, int64(len(data)))
	}
	keys, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 2, "the failed file must not be present")
}

func TestIngestAllFailed(t *testing.T) {
	svc := NewService(newFlakyStore("a", "b"), keygen.NewGenerator(), Options{})

	result, err := svc.Ingest(context.Background(), []models.FileInput{
		BytesInput("a.png", []byte("1")),
		BytesInput("b.png", []byte("2")),
	})
	require.NoError(t, err)
	assert.True(t, result.AllFailed())
	assert.Len(t, result.Failed, 2)
}

func TestIngestEmptyBatch(t *testing.T) {
	svc := NewService(blobstore.NewMemoryStore(), keygen.NewGenerator(), Options{})

	_, err := svc.Ingest(context.Background(), nil)
	require.Error(t, err)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestIngestTruncatesBatch(t *testing.T) {
	store := blobstore.NewMemoryStore()
	svc := NewService(store, keygen.NewGenerator(), Options{})

	var batch []models.FileInput
	for i := 0; i < 13; i++ {
		batch = append(batch, BytesInput(fmt.Sprintf("img%02d.png", i), []byte{byte(i)}))
	}
	result, err := svc.Ingest(context.Background(), batch)
	require.NoError(t, err)

	assert.Len(t, result.Succeeded, DefaultMaxBatchSize)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 3, result.Dropped)
	assert.Equal(t, "img09.png", result.Succeeded[9].OriginalName)

	keys, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, DefaultMaxBatchSize)
}

func TestIngestSameNameGetsDistinctKeys(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := NewService(blobstore.NewMemoryStore(), keygen.NewGenerator(keygen.WithClock(func() time.Time { return fixed })), Options{})

	result, err := svc.Ingest(context.Background(), []models.FileInput{
		BytesInput("cat.png", []byte("a")),
		BytesInput("cat.png", []byte("b")),
	})
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 2)
	assert.NotEqual(t, result.Succeeded[0].Key, result.Succeeded[1].Key)
	assert.True(t, strings.HasPrefix(result.Succeeded[0].Key, "cat_2025-01-02T03-04-05-000Z_"))
	assert.True(t, strings.HasSuffix(result.Succeeded[0].Key, ".png"))
}

func TestIngestDetectsContentType(t *testing.T) {
	store := blobstore.NewMemoryStore()
	svc := NewService(store, keygen.NewGenerator(), Options{})

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR")
	result, err := svc.Ingest(context.Background(), []models.FileInput{BytesInput("x.bin", png)})
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 1)
	assert.Equal(t, "image/png", result.Succeeded[0].ContentType)

	info, err := store.Stat(context.Background(), result.Succeeded[0].Key)
	require.NoError(t, err)
	assert.Equal(t, "image/png", info.ContentType)
}

func TestIngestFileErrors(t *testing.T) {
	svc := NewService(blobstore.NewMemoryStore(), keygen.NewGenerator(), Options{MaxFileBytes: 4})

	result, err := svc.Ingest(context.Background(), []models.FileInput{
		BytesInput("big.png", []byte("12345")),
		{Name: "broken.png", Open: func() (io.ReadCloser, error) { return nil, errors.New("disk gone") }},
		{Name: "nil.png"},
		BytesInput("ok.png", []byte("1234")),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"ok.png"}, names(result.Succeeded))
	require.Len(t, result.Failed, 3)
	assert.ErrorIs(t, result.Failed[0].Err, ErrFileTooLarge)
	assert.Contains(t, result.Failed[1].Reason, "disk gone")
	assert.Equal(t, "nil.png", result.Failed[2].OriginalName)
}

func TestIngestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := NewService(blobstore.NewMemoryStore(), keygen.NewGenerator(), Options{})

	result, err := svc.Ingest(ctx, []models.FileInput{
		BytesInput("a.png", []byte("1")),
		BytesInput("b.png", []byte("2")),
	})
	require.NoError(t, err)
	assert.True(t, result.AllFailed())
	for _, f := range result.Failed {
		assert.ErrorIs(t, f.Err, context.Canceled)
	}
}

func TestIngestOnOutcome(t *testing.T) {
	var mu sync.Mutex
	var seen []models.UploadOutcome
	svc := NewService(newFlakyStore("bad"), keygen.NewGenerator(), Options{
		OnOutcome: func(o models.UploadOutcome) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, o)
		},
	})

	result, err := svc.Ingest(context.Background(), []models.FileInput{
		BytesInput("good.png", []byte("1")),
		BytesInput("bad.png", []byte("2")),
	})
	require.NoError(t, err)
	assert.Len(t, seen, 2)
	assert.ElementsMatch(t, result.Outcomes(), seen)
}

func TestPathInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0644))

	in := PathInput(path)
	assert.Equal(t, "photo.jpg", in.Name)
	assert.Equal(t, "image/jpeg", in.ContentType)

	rc, err := in.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)
}
