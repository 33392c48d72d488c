// Package ingest stores batches of uploaded images in a blob store, one
// independent write per file, and reports a per-file outcome for each.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go-sd-gallery/internal/blobstore"
	"go-sd-gallery/internal/helpers"
	"go-sd-gallery/internal/models"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultMaxBatchSize = 10
	DefaultConcurrency  = 4
)

var filesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sd_gallery_ingested_files_total",
	Help: "Files processed by batch ingestion, by outcome",
}, []string{"status"})

// ValidationError rejects a batch before any file is attempted.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ErrEmptyBatch is returned for a batch without files.
var ErrEmptyBatch = &ValidationError{Msg: "empty batch"}

// ErrFileTooLarge marks a file over Options.MaxFileBytes.
var ErrFileTooLarge = errors.New("file exceeds size limit")

// Store is the part of blobstore.Store ingestion writes through.
type Store interface {
	Put(ctx context.Context, key string, data []byte, opts blobstore.PutOptions) error
}

// KeyMaker derives a storage key from an original file name.
type KeyMaker interface {
	MakeKey(originalName string) (string, error)
}

// Options tune a Service.
type Options struct {
	MaxBatchSize int   // Entries past this index are dropped
	Concurrency  int   // Parallel store writes per batch
	MaxFileBytes int64 // 0 means unlimited

	// OnOutcome, when set, is called once per file as it completes.
	// It may be called from several goroutines at once.
	OnOutcome func(models.UploadOutcome)
}

// StoredFile is a successfully written file.
type StoredFile struct {
	OriginalName string `json:"originalName"`
	Key          string `json:"key"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
}

// Asset returns the stored file as a MediaAsset.
func (f StoredFile) Asset() models.MediaAsset {
	return models.MediaAsset{Key: f.Key, OriginalName: f.OriginalName, ContentType: f.ContentType, Size: f.Size}
}

// FailedFile is a file that was not stored.
type FailedFile struct {
	OriginalName string `json:"originalName"`
	Key          string `json:"key,omitempty"`
	Reason       string `json:"reason"`
	Err          error  `json:"-"`
}

// Result lists every file of the (truncated) batch exactly once, in input order.
type Result struct {
	BatchID   string       `json:"batchId"`
	Succeeded []StoredFile `json:"succeeded"`
	Failed    []FailedFile `json:"failed"`
	Dropped   int          `json:"dropped,omitempty"` // Entries past MaxBatchSize
}

// AllFailed reports whether no file of a non-empty batch was stored.
func (r Result) AllFailed() bool {
	return len(r.Succeeded) == 0 && len(r.Failed) > 0
}

// Outcomes flattens the result into per-file statuses, successes first.
func (r Result) Outcomes() []models.UploadOutcome {
	out := make([]models.UploadOutcome, 0, len(r.Succeeded)+len(r.Failed))
	for _, s := range r.Succeeded {
		out = append(out, models.UploadOutcome{Key: s.Key, OriginalName: s.OriginalName, Status: models.StatusSuccess})
	}
	for _, f := range r.Failed {
		out = append(out, models.UploadOutcome{Key: f.Key, OriginalName: f.OriginalName, Status: models.StatusFailure, Error: f.Reason})
	}
	return out
}

// Service runs batch ingestion.
type Service struct {
	store Store
	keys  KeyMaker
	opts  Options
}

// NewService returns a Service writing to store with keys from keys.
func NewService(store Store, keys KeyMaker, opts Options) *Service {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Service{store: store, keys: keys, opts: opts}
}

// slot holds one file's outcome; each worker writes only the slot it owns.
type slot struct {
	stored *StoredFile
	failed *FailedFile
}

// Ingest stores each file of batch independently. A failed file never
// prevents or rolls back any other. Cancelling ctx fails the files not yet
// stored; files already stored remain.
func (s *Service) Ingest(ctx context.Context, batch []models.FileInput) (Result, error) {
	if len(batch) == 0 {
		return Result{}, ErrEmptyBatch
	}

	result := Result{BatchID: uuid.NewString()}
	logger := log.WithField("batch", result.BatchID)

	if len(batch) > s.opts.MaxBatchSize {
		result.Dropped = len(batch) - s.opts.MaxBatchSize
		logger.Warnf("Batch has %d files, only the first %d will be stored", len(batch), s.opts.MaxBatchSize)
		batch = batch[:s.opts.MaxBatchSize]
	}

	slots := make([]slot, len(batch))
	jobs := make(chan int, len(batch))
	for i := range batch {
		jobs <- i
	}
	close(jobs)

	workers := s.opts.Concurrency
	if workers > len(batch) {
		workers = len(batch)
	}

	var successCount, failureCount int64
	var wg sync.WaitGroup
	startTime := time.Now()

	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := range jobs {
				slots[i] = s.storeOne(ctx, id, batch[i], logger)
				if slots[i].stored != nil {
					atomic.AddInt64(&successCount, 1)
				} else {
					atomic.AddInt64(&failureCount, 1)
				}
				if s.opts.OnOutcome != nil {
					s.opts.OnOutcome(slots[i].outcome())
				}
			}
		}(w)
	}
	wg.Wait()

	for _, sl := range slots {
		if sl.stored != nil {
			result.Succeeded = append(result.Succeeded, *sl.stored)
		} else {
			result.Failed = append(result.Failed, *sl.failed)
		}
	}

	logger.WithFields(log.Fields{
		"succeeded": successCount,
		"failed":    failureCount,
		"duration":  time.Since(startTime).Round(time.Millisecond),
	}).Info("Batch ingestion finished")
	return result, nil
}

func (sl slot) outcome() models.UploadOutcome {
	if sl.stored != nil {
		return models.UploadOutcome{Key: sl.stored.Key, OriginalName: sl.stored.OriginalName, Status: models.StatusSuccess}
	}
	return models.UploadOutcome{Key: sl.failed.Key, OriginalName: sl.failed.OriginalName, Status: models.StatusFailure, Error: sl.failed.Reason}
}

func (s *Service) storeOne(ctx context.Context, workerID int, file models.FileInput, logger *log.Entry) slot {
	fail := func(key string, err error) slot {
		filesIngested.WithLabelValues(models.StatusFailure).Inc()
		logger.WithError(err).Warnf("Worker %d: Failed to store %s", workerID, file.Name)
		return slot{failed: &FailedFile{OriginalName: file.Name, Key: key, Reason: err.Error(), Err: err}}
	}

	if err := ctx.Err(); err != nil {
		return fail("", fmt.Errorf("batch cancelled: %w", err))
	}

	data, err := s.readFile(file)
	if err != nil {
		return fail("", err)
	}

	key, err := s.keys.MakeKey(file.Name)
	if err != nil {
		return fail("", fmt.Errorf("generating key: %w", err))
	}

	contentType := file.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	if err := s.store.Put(ctx, key, data, blobstore.PutOptions{ContentType: contentType}); err != nil {
		return fail(key, fmt.Errorf("storing %s: %w", key, err))
	}

	filesIngested.WithLabelValues(models.StatusSuccess).Inc()
	logger.WithFields(log.Fields{
		"key":  key,
		"size": helpers.BytesToSize(uint64(len(data))),
		"hash": helpers.ContentHash(data)[:16],
	}).Debugf("Worker %d: Stored %s", workerID, file.Name)

	return slot{stored: &StoredFile{
		OriginalName: file.Name,
		Key:          key,
		ContentType:  contentType,
		Size:         int64(len(data)),
	}}
}

func (s *Service) readFile(file models.FileInput) ([]byte, error) {
	if file.Open == nil {
		return nil, errors.New("file has no content")
	}
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if s.opts.MaxFileBytes > 0 {
		r = io.LimitReader(rc, s.opts.MaxFileBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	if s.opts.MaxFileBytes > 0 && int64(len(data)) > s.opts.MaxFileBytes {
		return nil, fmt.Errorf("%w (%s)", ErrFileTooLarge, helpers.BytesToSize(uint64(s.opts.MaxFileBytes)))
	}
	return data, nil
}
