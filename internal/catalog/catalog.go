package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go-sd-gallery/internal/helpers"

	log "github.com/sirupsen/logrus"
)

// Source is the part of blobstore.Store a catalog run reads from.
type Source interface {
	Lister
	Get(ctx context.Context, key string) ([]byte, error)
}

// Generator writes the listing and thumbnails for every image in a store.
type Generator struct {
	Source         Source
	ListingPath    string
	ThumbnailDir   string // Thumbnails are skipped when empty
	ThumbnailWidth int
	Concurrency    int
	Force          bool // Regenerate thumbnails that already exist

	// OnThumbnail, when set, is called per key with the error, if any.
	// It may be called from several goroutines at once.
	OnThumbnail func(key string, err error)
}

// Report summarizes a Generate run.
type Report struct {
	Keys       []string
	Thumbnails int64
	Existing   int64
	Failed     int64
}

// Generate lists the store, writes thumbnails, then writes the listing.
// Thumbnail failures are counted but never keep a key out of the listing.
func (g *Generator) Generate(ctx context.Context) (Report, error) {
	keys, err := ListingFromStore(ctx, g.Source)
	if err != nil {
		return Report{}, err
	}
	report := Report{Keys: keys}
	startTime := time.Now()

	if g.ThumbnailDir != "" && len(keys) > 0 {
		if !helpers.CheckAndMakeDir(g.ThumbnailDir) {
			return report, fmt.Errorf("failed to create thumbnail directory %s", g.ThumbnailDir)
		}
		g.writeThumbnails(ctx, keys, &report)
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}

	if err := WriteListing(g.ListingPath, keys); err != nil {
		return report, err
	}

	log.WithFields(log.Fields{
		"keys":       len(keys),
		"thumbnails": report.Thumbnails,
		"existing":   report.Existing,
		"failed":     report.Failed,
		"duration":   time.Since(startTime).Round(time.Millisecond),
	}).Infof("Catalog written to %s", g.ListingPath)
	return report, nil
}

func (g *Generator) writeThumbnails(ctx context.Context, keys []string, report *Report) {
	workers := g.Concurrency
	if workers <= 0 {
		workers = 4
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for key := range jobs {
				existed, err := g.thumbnail(ctx, key)
				switch {
				case err != nil:
					atomic.AddInt64(&report.Failed, 1)
					log.WithError(err).Warnf("Thumbnail Worker %d: Skipping thumbnail for %s", id, key)
				case existed:
					atomic.AddInt64(&report.Existing, 1)
				default:
					atomic.AddInt64(&report.Thumbnails, 1)
				}
				if g.OnThumbnail != nil {
					g.OnThumbnail(key, err)
				}
			}
		}(w)
	}

feed:
	for _, key := range keys {
		select {
		case jobs <- key:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
}

// thumbnail writes one thumbnail and reports whether it was already present.
func (g *Generator) thumbnail(ctx context.Context, key string) (bool, error) {
	target := filepath.Join(g.ThumbnailDir, ThumbnailName(key))
	if !g.Force {
		if _, err := os.Stat(target); err == nil {
			return true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return false, err
		}
	}

	data, err := g.Source.Get(ctx, key)
	if err != nil {
		return false, err
	}
	thumb, err := MakeThumbnail(data, g.ThumbnailWidth)
	if err != nil {
		return false, err
	}
	return false, helpers.WriteFileAtomic(target, thumb)
}
