package gallery

import (
	"go-sd-gallery/internal/helpers"
	"go-sd-gallery/internal/models"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metadataCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sd_gallery_metadata_cache_hits_total",
		Help: "Metadata lookups answered from the LRU cache",
	})
	metadataCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sd_gallery_metadata_cache_misses_total",
		Help: "Metadata lookups that required parsing the image",
	})
)

// MetadataCache remembers parsed metadata per asset key and content hash,
// so rebuilding an index over unchanged images skips the parse.
type MetadataCache struct {
	cache *lru.Cache[string, models.GenerationMetadata]
}

// NewMetadataCache returns a cache holding up to size entries.
func NewMetadataCache(size int) (*MetadataCache, error) {
	c, err := lru.New[string, models.GenerationMetadata](size)
	if err != nil {
		return nil, err
	}
	return &MetadataCache{cache: c}, nil
}

func cacheKey(assetKey string, data []byte) string {
	return assetKey + "#" + helpers.ContentHash(data)
}

// Get returns the cached metadata for this exact content.
func (c *MetadataCache) Get(assetKey string, data []byte) (models.GenerationMetadata, bool) {
	meta, ok := c.cache.Get(cacheKey(assetKey, data))
	if ok {
		metadataCacheHits.Inc()
		return meta, true
	}
	metadataCacheMisses.Inc()
	return models.GenerationMetadata{}, false
}

// Add stores metadata for this exact content.
func (c *MetadataCache) Add(assetKey string, data []byte, meta models.GenerationMetadata) {
	c.cache.Add(cacheKey(assetKey, data), meta)
}

// Len is the number of cached entries.
func (c *MetadataCache) Len() int {
	return c.cache.Len()
}
