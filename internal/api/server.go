package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	index "go-sd-gallery/index"
	"go-sd-gallery/internal/blobstore"
	"go-sd-gallery/internal/catalog"
	"go-sd-gallery/internal/gallery"
	"go-sd-gallery/internal/ingest"
	"go-sd-gallery/internal/models"

	"github.com/blevesearch/bleve/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
)

// DefaultMaxRequestBytes caps an upload request body.
const DefaultMaxRequestBytes = 256 << 20

// Ingester runs batch ingestion; *ingest.Service implements it.
type Ingester interface {
	Ingest(ctx context.Context, batch []models.FileInput) (ingest.Result, error)
}

// ServerOptions wires a Server to its collaborators.
type ServerOptions struct {
	Store    blobstore.Store
	Ingester Ingester
	Builder  *gallery.Builder

	// ListKeys returns the listing the gallery is built from. Defaults to the
	// image keys of Store.
	ListKeys func(ctx context.Context) ([]string, error)

	// Search is optional; /api/search answers 501 without it.
	Search bleve.Index

	PageSize           int
	MaxRequestBytes    int64
	CORSAllowedOrigins []string
}

// Server is the HTTP boundary: uploads, gallery queries and image bytes.
type Server struct {
	opts    ServerOptions
	handler http.Handler

	mu    sync.RWMutex
	index *gallery.Index
}

// NewServer builds the router. Call Reload before serving gallery queries.
func NewServer(opts ServerOptions) *Server {
	if opts.PageSize <= 0 {
		opts.PageSize = gallery.DefaultPageSize
	}
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if opts.ListKeys == nil {
		store := opts.Store
		opts.ListKeys = func(ctx context.Context) ([]string, error) {
			return catalog.ListingFromStore(ctx, store)
		}
	}
	if len(opts.CORSAllowedOrigins) == 0 {
		opts.CORSAllowedOrigins = []string{"*"}
	}

	s := &Server{opts: opts}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/images/{key}", s.handleImage)

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Get("/listing", s.handleListing)
		r.Get("/search", s.handleSearch)
		r.Route("/gallery", func(r chi.Router) {
			r.Get("/", s.handleGallery)
			r.Get("/loras", s.handleLoras)
			r.Post("/reload", s.handleReload)
		})
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Index returns the gallery index currently served, or nil before the first Reload.
func (s *Server) Index() *gallery.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

// Reload rebuilds the gallery index from the listing and swaps it in.
// Queries keep using the previous index until the new one is complete.
// The search index is synced to the listing, so keys that left it stop matching.
func (s *Server) Reload(ctx context.Context) (*gallery.Index, error) {
	keys, err := s.opts.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading listing: %w", err)
	}
	idx, err := s.opts.Builder.Build(ctx, keys)
	if err != nil {
		return nil, err
	}

	if s.opts.Search != nil {
		items := make([]index.Item, 0, idx.Len())
		for _, rec := range idx.Records() {
			items = append(items, index.ItemFromRecord(rec, filepath.Ext(rec.Key)))
		}
		if _, err := index.SyncItems(s.opts.Search, items); err != nil {
			log.WithError(err).Error("Failed to update search index")
		}
	}

	s.mu.Lock()
	s.index = idx
	s.mu.Unlock()
	return idx, nil
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":  "ok",
		"records": s.Index().Len(),
	})
}
