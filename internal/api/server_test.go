package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	index "go-sd-gallery/index"
	"go-sd-gallery/internal/blobstore"
	"go-sd-gallery/internal/gallery"
	"go-sd-gallery/internal/imagetest"
	"go-sd-gallery/internal/ingest"
	"go-sd-gallery/internal/keygen"
	"go-sd-gallery/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore rejects puts for keys starting with "bad".
type failingStore struct {
	*blobstore.MemoryStore
}

func (f failingStore) Put(ctx context.Context, key string, data []byte, opts blobstore.PutOptions) error {
	if strings.HasPrefix(key, "bad") {
		return errors.New("disk full at /secret/path")
	}
	return f.MemoryStore.Put(ctx, key, data, opts)
}

type brokenIngester struct{}

func (brokenIngester) Ingest(context.Context, []models.FileInput) (ingest.Result, error) {
	return ingest.Result{}, errors.New("connection refused: s3://secret-bucket")
}

type testEnv struct {
	server *Server
	http   *httptest.Server
	store  blobstore.Store
	client *Client
}

func newTestEnv(t *testing.T, withSearch bool) *testEnv {
	t.Helper()
	store := failingStore{blobstore.NewMemoryStore()}
	opts := ServerOptions{
		Store:    store,
		Ingester: ingest.NewService(store, keygen.NewGenerator(), ingest.Options{}),
		Builder:  &gallery.Builder{Source: store},
		PageSize: 2,
	}
	if withSearch {
		bi, err := index.OpenOrCreateIndex(filepath.Join(t.TempDir(), "search.bleve"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = bi.Close() })
		opts.Search = bi
	}

	s := NewServer(opts)
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(hs.Close)
	return &testEnv{
		server: s,
		http:   hs,
		store:  store,
		client: NewClient(hs.URL, hs.Client(), models.Config{}),
	}
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestUploadAllSucceeded(t *testing.T) {
	env := newTestEnv(t, false)
	png := imagetest.PNG(2, 2, "a cat Steps: 1")

	resp, err := env.client.Upload(context.Background(), []models.FileInput{
		ingest.BytesInput("cat one.png", png),
		ingest.BytesInput("dog.png", []byte("dog-bytes")),
	})
	require.NoError(t, err)
	require.Len(t, resp.Uploaded, 2)
	assert.True(t, strings.HasPrefix(resp.Uploaded[0], "cat_one_"))
	assert.NotEmpty(t, resp.BatchID)

	img, err := http.Get(env.http.URL + "/images/" + resp.Uploaded[0])
	require.NoError(t, err)
	defer img.Body.Close()
	assert.Equal(t, http.StatusOK, img.StatusCode)
	assert.Equal(t, "image/png", img.Header.Get("Content-Type"))
	body, err := io.ReadAll(img.Body)
	require.NoError(t, err)
	assert.Equal(t, png, body)
}

func TestUploadPartialFailure(t *testing.T) {
	env := newTestEnv(t, false)

	resp, err := env.client.Upload(context.Background(), []models.FileInput{
		ingest.BytesInput("good.png", []byte("1")),
		ingest.BytesInput("bad.png", []byte("2")),
		ingest.BytesInput("fine.png", []byte("3")),
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Uploaded)
	require.Len(t, resp.Success, 2)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, "bad.png", resp.Failed[0].OriginalName)
	assert.Equal(t, "good.png", resp.Success[0].OriginalName)
	assert.Equal(t, "fine.png", resp.Success[1].OriginalName)
}

func TestUploadAllFailed(t *testing.T) {
	env := newTestEnv(t, false)

	resp, err := env.client.Upload(context.Background(), []models.FileInput{
		ingest.BytesInput("bad.png", []byte("1")),
	})
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.Equal(t, "Upload failed", resp.Error)
	assert.Len(t, resp.Failed, 1)
}

func TestUploadJSON(t *testing.T) {
	env := newTestEnv(t, false)

	body := `{"name":"fox.png","content":"` + base64.StdEncoding.EncodeToString([]byte("fox")) + `"}`
	resp, err := http.Post(env.http.URL+"/api/upload", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out UploadResponse
	decodeJSON(t, resp, &out)
	require.Len(t, out.Uploaded, 1)

	data, err := env.store.Get(context.Background(), out.Uploaded[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("fox"), data)

	dataURL := `{"name":"x.png","content":"data:image/png;base64,` + base64.StdEncoding.EncodeToString([]byte("x")) + `"}`
	resp, err = http.Post(env.http.URL+"/api/upload", "application/json", strings.NewReader(dataURL))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUploadBadRequests(t *testing.T) {
	env := newTestEnv(t, false)

	var noImages bytes.Buffer
	mw := multipart.NewWriter(&noImages)
	require.NoError(t, mw.WriteField("other", "value"))
	require.NoError(t, mw.Close())

	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"Plain text", "text/plain", "hello"},
		{"Missing content type", "", "hello"},
		{"Multipart without images", mw.FormDataContentType(), noImages.String()},
		{"JSON missing name", "application/json", `{"content":"eA=="}`},
		{"JSON bad base64", "application/json", `{"name":"a.png","content":"%%%"}`},
		{"JSON malformed", "application/json", `{"name":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, env.http.URL+"/api/upload", strings.NewReader(tt.body))
			require.NoError(t, err)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var out errorResponse
			decodeJSON(t, resp, &out)
			assert.NotEmpty(t, out.Error)
		})
	}
}

func TestUploadMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, false)

	resp, err := http.Get(env.http.URL + "/api/upload")
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	var out errorResponse
	decodeJSON(t, resp, &out)
	assert.Equal(t, "Method not allowed", out.Error)
}

func TestUploadInternalErrorDoesNotLeak(t *testing.T) {
	store := blobstore.NewMemoryStore()
	s := NewServer(ServerOptions{Store: store, Ingester: brokenIngester{}, Builder: &gallery.Builder{Source: store}})
	hs := httptest.NewServer(s.Handler())
	defer hs.Close()

	body := `{"name":"a.png","content":"eA=="}`
	resp, err := http.Post(hs.URL+"/api/upload", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")
	assert.Contains(t, string(raw), "Internal server error")
}

func seedGallery(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	put := func(key, params string) {
		require.NoError(t, env.store.Put(ctx, key, imagetest.PNG(1, 1, params), blobstore.PutOptions{ContentType: "image/png"}))
	}
	put("a.png", "A black cat Steps: 20, Model: sdxl_base, <lora:detailer:0.8>")
	put("b.png", "a dog Steps: 20, Model: sd15, <lora:film:1>")
	put("c.png", "CAT nap Steps: 20, Model: sd15, <lora:film:0.5>")
	require.NoError(t, env.store.Put(ctx, "notes.txt", []byte("not listed"), blobstore.PutOptions{}))
}

func TestGalleryEndpoints(t *testing.T) {
	env := newTestEnv(t, true)

	resp, err := http.Get(env.http.URL + "/api/gallery")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	seedGallery(t, env)
	resp, err = http.Post(env.http.URL+"/api/gallery/reload", "application/json", nil)
	require.NoError(t, err)
	var reload map[string]int
	decodeJSON(t, resp, &reload)
	assert.Equal(t, 3, reload["records"])

	resp, err = http.Get(env.http.URL + "/api/gallery?keyword=cat")
	require.NoError(t, err)
	var page gallery.Page
	decodeJSON(t, resp, &page)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.TotalPages)
	assert.Equal(t, "a.png", page.Records[0].Key)
	assert.Equal(t, "c.png", page.Records[1].Key)

	resp, err = http.Get(env.http.URL + "/api/gallery?lora=film&page=2&pageSize=1")
	require.NoError(t, err)
	decodeJSON(t, resp, &page)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "c.png", page.Records[0].Key)

	resp, err = http.Get(env.http.URL + "/api/gallery?page=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(env.http.URL + "/api/gallery/loras")
	require.NoError(t, err)
	var loras []string
	decodeJSON(t, resp, &loras)
	assert.Equal(t, []string{"detailer", "film"}, loras)

	keys, err := env.client.FetchListing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.png", "c.png"}, keys)

	resp, err = http.Get(env.http.URL + "/api/search?q=checkpoint:sd15")
	require.NoError(t, err)
	var search struct {
		Total uint64      `json:"total"`
		Hits  []SearchHit `json:"hits"`
	}
	decodeJSON(t, resp, &search)
	assert.EqualValues(t, 2, search.Total)

	resp, err = http.Get(env.http.URL + "/api/search")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReloadDropsKeysThatLeftTheListing(t *testing.T) {
	env := newTestEnv(t, true)
	seedGallery(t, env)

	listing := []string{"a.png", "b.png", "c.png"}
	env.server.opts.ListKeys = func(context.Context) ([]string, error) {
		return append([]string(nil), listing...), nil
	}

	searchTotal := func(q string) uint64 {
		t.Helper()
		resp, err := http.Get(env.http.URL + "/api/search?q=" + q)
		require.NoError(t, err)
		var search struct {
			Total uint64      `json:"total"`
			Hits  []SearchHit `json:"hits"`
		}
		decodeJSON(t, resp, &search)
		return search.Total
	}

	_, err := env.server.Reload(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, searchTotal("checkpoint:sd15"))

	listing = []string{"a.png", "b.png"}
	idx, err := env.server.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
	assert.EqualValues(t, 1, searchTotal("checkpoint:sd15"))
	assert.EqualValues(t, 0, searchTotal("nap"))

	count, err := env.server.opts.Search.DocCount()
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestSearchDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	resp, err := http.Get(env.http.URL + "/api/search?q=cat")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestImagesAndHealth(t *testing.T) {
	env := newTestEnv(t, false)

	resp, err := http.Get(env.http.URL + "/images/missing.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err = env.client.Get(context.Background(), "missing.png")
	assert.ErrorIs(t, err, ErrNotFound)

	resp, err = http.Get(env.http.URL + "/health")
	require.NoError(t, err)
	var health map[string]any
	decodeJSON(t, resp, &health)
	assert.Equal(t, "ok", health["status"])

	resp, err = http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "sd_gallery_http_requests_total")
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, false)

	req, err := http.NewRequest(http.MethodOptions, env.http.URL+"/api/upload", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://viewer.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestClientGalleryRoundTrip(t *testing.T) {
	env := newTestEnv(t, false)
	seedGallery(t, env)

	// A Client is itself a gallery source, as used for remote listings.
	keys, err := env.client.FetchListing(context.Background())
	require.NoError(t, err)
	idx, err := (&gallery.Builder{Source: env.client}).Build(context.Background(), keys)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, 0, idx.Warnings())
	assert.Equal(t, "sdxl_base", idx.Records()[0].Metadata.Checkpoint)
}
