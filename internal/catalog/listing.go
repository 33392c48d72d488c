// Package catalog produces the artifacts a gallery viewer reads: the
// gallery.json listing of asset keys and a directory of JPEG thumbnails.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go-sd-gallery/internal/helpers"
)

// ErrInvalidListing is returned when a listing is not a JSON array of strings.
var ErrInvalidListing = errors.New("listing must be a JSON array of key strings")

// imageExtensions are the file types listed in a catalog.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// IsImageKey reports whether key names a file type the gallery shows.
// Generated thumbnails are never listed.
func IsImageKey(key string) bool {
	if strings.HasSuffix(key, thumbnailSuffix) {
		return false
	}
	return imageExtensions[strings.ToLower(filepath.Ext(key))]
}

// Lister is the part of blobstore.Store needed to enumerate assets.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// ListingFromStore returns the image keys in store, in the store's order.
func ListingFromStore(ctx context.Context, store Lister) ([]string, error) {
	keys, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing store: %w", err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if IsImageKey(k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// ParseListing decodes a JSON array of keys. Empty strings are dropped.
func ParseListing(data []byte) ([]string, error) {
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidListing, err)
	}
	out := keys[:0]
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// LoadListing reads a listing file.
func LoadListing(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading listing %s: %w", path, err)
	}
	return ParseListing(data)
}

// WriteListing atomically writes keys as an indented JSON array.
func WriteListing(path string, keys []string) error {
	if keys == nil {
		keys = []string{}
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling listing: %w", err)
	}
	return helpers.WriteFileAtomic(path, append(data, '\n'))
}
