// Package gallery builds a queryable index of images and their generation
// metadata, and answers keyword/LoRA filtered, paginated queries over it.
package gallery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go-sd-gallery/internal/metadata"
	"go-sd-gallery/internal/models"

	log "github.com/sirupsen/logrus"
)

// DefaultConcurrency bounds parallel fetches during Build.
const DefaultConcurrency = 8

// Fetcher returns the raw bytes of an asset. blobstore.Store and the
// catalog's HTTP listing source both satisfy it.
type Fetcher interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Index is an immutable, ordered collection with one record per listed key.
type Index struct {
	records []models.GalleryRecord
	builtAt time.Time
}

// NewIndex wraps already-built records, keeping their order.
func NewIndex(records []models.GalleryRecord) *Index {
	cp := make([]models.GalleryRecord, len(records))
	copy(cp, records)
	return &Index{records: cp, builtAt: time.Now()}
}

// Records returns a copy of the records in listing order.
func (idx *Index) Records() []models.GalleryRecord {
	if idx == nil {
		return nil
	}
	cp := make([]models.GalleryRecord, len(idx.records))
	copy(cp, idx.records)
	return cp
}

// Len is the number of records.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.records)
}

// BuiltAt is when the index was assembled.
func (idx *Index) BuiltAt() time.Time {
	if idx == nil {
		return time.Time{}
	}
	return idx.builtAt
}

// Warnings counts records whose metadata fell back to defaults.
func (idx *Index) Warnings() int {
	n := 0
	for _, r := range idx.Records() {
		if r.Warning != "" {
			n++
		}
	}
	return n
}

// Builder assembles an Index from a listing of keys.
type Builder struct {
	Source      Fetcher
	Concurrency int            // DefaultConcurrency when <= 0
	Cache       *MetadataCache // Optional

	// OnRecord, when set, is called after each record completes with the
	// number done so far. It may be called from several goroutines at once.
	OnRecord func(done, total int, rec models.GalleryRecord)
}

// Build fetches and parses every key. The index always has exactly
// len(keys) records in the order of keys; a fetch or parse failure yields
// a record with empty metadata and a warning. Build fails only when ctx is
// cancelled.
func (b *Builder) Build(ctx context.Context, keys []string) (*Index, error) {
	records := make([]models.GalleryRecord, len(keys))
	if len(keys) == 0 {
		return NewIndex(records), nil
	}

	workers := b.Concurrency
	if workers <= 0 {
		workers = DefaultConcurrency
	}
	if workers > len(keys) {
		workers = len(keys)
	}

	jobs := make(chan int, len(keys))
	for i := range keys {
		jobs <- i
	}
	close(jobs)

	var done, warnings int64
	var wg sync.WaitGroup
	startTime := time.Now()

	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			log.Debugf("Index Worker %d starting", id)
			for i := range jobs {
				if ctx.Err() != nil {
					return
				}
				records[i] = b.record(ctx, keys[i])
				if records[i].Warning != "" {
					atomic.AddInt64(&warnings, 1)
				}
				n := atomic.AddInt64(&done, 1)
				if b.OnRecord != nil {
					b.OnRecord(int(n), len(keys), records[i])
				}
			}
		}(w)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("building gallery index: %w", err)
	}

	log.WithFields(log.Fields{
		"records":  len(records),
		"warnings": warnings,
		"duration": time.Since(startTime).Round(time.Millisecond),
	}).Info("Gallery index built")
	return &Index{records: records, builtAt: time.Now()}, nil
}

func (b *Builder) record(ctx context.Context, key string) models.GalleryRecord {
	rec := models.GalleryRecord{Key: key, Metadata: models.EmptyMetadata()}

	data, err := b.Source.Get(ctx, key)
	if err != nil {
		log.WithError(err).Warnf("Could not fetch %s, listing it without metadata", key)
		rec.Warning = fmt.Sprintf("fetch failed: %v", err)
		return rec
	}

	if b.Cache != nil {
		if meta, ok := b.Cache.Get(key, data); ok {
			rec.Metadata = meta
			return rec
		}
	}

	meta, err := metadata.Inspect(data)
	rec.Metadata = meta
	if err != nil {
		log.WithError(err).Warnf("Could not read generation metadata of %s", key)
		rec.Warning = err.Error()
		return rec
	}

	if b.Cache != nil {
		b.Cache.Add(key, data, meta)
	}
	return rec
}
