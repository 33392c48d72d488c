package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	index "go-sd-gallery/index"
	"go-sd-gallery/internal/blobstore"
	"go-sd-gallery/internal/gallery"
	"go-sd-gallery/internal/ingest"
	"go-sd-gallery/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	log "github.com/sirupsen/logrus"
)

// multipartMemory is how much of a multipart form is buffered in memory before spilling to disk.
const multipartMemory = 32 << 20

// UploadFieldName is the repeated multipart field carrying images.
const UploadFieldName = "images"

// UploadResponse is the body of every /api/upload answer.
type UploadResponse struct {
	BatchID  string              `json:"batchId,omitempty"`
	Uploaded []string            `json:"uploaded,omitempty"`
	Success  []ingest.StoredFile `json:"success,omitempty"`
	Failed   []ingest.FailedFile `json:"failed,omitempty"`
	Dropped  int                 `json:"dropped,omitempty"`
	Error    string              `json:"error,omitempty"`
	Details  string              `json:"details,omitempty"`
}

// jsonUpload is the single-file JSON upload body.
type jsonUpload struct {
	Name    string `json:"name"`
	Content string `json:"content"` // base64, optionally as a data: URL
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxRequestBytes)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Content-Type must be multipart/form-data or application/json")
		return
	}

	var batch []models.FileInput
	switch mediaType {
	case "multipart/form-data":
		batch, err = multipartBatch(r)
	case "application/json":
		batch, err = jsonBatch(r)
	default:
		writeError(w, r, http.StatusBadRequest, "Content-Type must be multipart/form-data or application/json")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.opts.Ingester.Ingest(r.Context(), batch)
	if err != nil {
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			writeError(w, r, http.StatusBadRequest, verr.Error())
			return
		}
		log.WithError(err).Error("Upload failed unexpectedly")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, UploadResponse{Error: "Internal server error", Details: "the upload could not be processed"})
		return
	}

	resp := UploadResponse{BatchID: result.BatchID, Dropped: result.Dropped}
	switch {
	case result.AllFailed():
		resp.Error = "Upload failed"
		resp.Failed = result.Failed
		render.Status(r, http.StatusInternalServerError)
	case len(result.Failed) > 0:
		resp.Success = result.Succeeded
		resp.Failed = result.Failed
		render.Status(r, http.StatusMultiStatus)
	default:
		for _, f := range result.Succeeded {
			resp.Uploaded = append(resp.Uploaded, f.Key)
		}
		render.Status(r, http.StatusOK)
	}
	render.JSON(w, r, resp)
}

func multipartBatch(r *http.Request) ([]models.FileInput, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, errors.New("invalid multipart form")
	}
	headers := r.MultipartForm.File[UploadFieldName]
	if len(headers) == 0 {
		return nil, errors.New("no files uploaded in field \"" + UploadFieldName + "\"")
	}

	batch := make([]models.FileInput, 0, len(headers))
	for _, fh := range headers {
		batch = append(batch, fileHeaderInput(fh))
	}
	return batch, nil
}

func fileHeaderInput(fh *multipart.FileHeader) models.FileInput {
	return models.FileInput{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func jsonBatch(r *http.Request) ([]models.FileInput, error) {
	var body jsonUpload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if body.Name == "" || body.Content == "" {
		return nil, errors.New("name and content are required")
	}

	content := body.Content
	if strings.HasPrefix(content, "data:") {
		if i := strings.Index(content, ","); i >= 0 {
			content = content[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, errors.New("content is not valid base64")
	}
	return []models.FileInput{ingest.BytesInput(body.Name, data)}, nil
}

func (s *Server) currentIndex(w http.ResponseWriter, r *http.Request) (*gallery.Index, bool) {
	idx := s.Index()
	if idx == nil {
		writeError(w, r, http.StatusServiceUnavailable, "Gallery index is not ready")
		return nil, false
	}
	return idx, true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	idx, ok := s.currentIndex(w, r)
	if !ok {
		return
	}
	page, err := intParam(r, "page", 1)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pageSize, err := intParam(r, "pageSize", s.opts.PageSize)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	filter := models.FilterState{
		Keyword:  r.URL.Query().Get("keyword"),
		LoraName: r.URL.Query().Get("lora"),
	}
	render.JSON(w, r, gallery.Paginate(gallery.Query(idx, filter), page, pageSize))
}

func (s *Server) handleLoras(w http.ResponseWriter, r *http.Request) {
	idx, ok := s.currentIndex(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, gallery.DistinctLoraNames(idx))
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	idx, err := s.Reload(r.Context())
	if err != nil {
		log.WithError(err).Error("Gallery reload failed")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{Error: "Reload failed", Details: "the gallery listing could not be rebuilt"})
		return
	}
	render.JSON(w, r, map[string]int{
		"records":  idx.Len(),
		"warnings": idx.Warnings(),
	})
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	keys, err := s.opts.ListKeys(r.Context())
	if err != nil {
		log.WithError(err).Error("Listing failed")
		writeError(w, r, http.StatusInternalServerError, "Listing failed")
		return
	}
	if keys == nil {
		keys = []string{}
	}
	render.JSON(w, r, keys)
}

// SearchHit is one /api/search result.
type SearchHit struct {
	Key    string         `json:"key"`
	Score  float64        `json:"score"`
	Fields map[string]any `json:"fields,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.opts.Search == nil {
		writeError(w, r, http.StatusNotImplemented, "Search is not enabled")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, r, http.StatusBadRequest, "q is required")
		return
	}
	size, err := intParam(r, "size", 20)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := index.SearchIndex(s.opts.Search, q, size)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid search query")
		return
	}
	hits := make([]SearchHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, SearchHit{Key: h.ID, Score: h.Score, Fields: h.Fields})
	}
	render.JSON(w, r, map[string]any{"total": res.Total, "hits": hits})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	info, err := s.opts.Store.Stat(r.Context(), key)
	if err == nil {
		var data []byte
		data, err = s.opts.Store.Get(r.Context(), key)
		if err == nil {
			contentType := info.ContentType
			if contentType == "" {
				contentType = http.DetectContentType(data)
			}
			w.Header().Set("Content-Type", contentType)
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
	}

	if errors.Is(err, blobstore.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "Image not found")
		return
	}
	log.WithError(err).Errorf("Failed to read image %s", key)
	writeError(w, r, http.StatusInternalServerError, "Failed to read image")
}
