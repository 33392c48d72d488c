package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"go-sd-gallery/internal/api"
	"go-sd-gallery/internal/blobstore"
	"go-sd-gallery/internal/catalog"
	"go-sd-gallery/internal/downloader"
	"go-sd-gallery/internal/gallery"
)

// httpClient returns a client on the global transport with the configured timeout.
func httpClient() *http.Client {
	if globalHttpTransport == nil {
		log.Warn("Global HTTP transport not initialized, using default.")
		globalHttpTransport = http.DefaultTransport
	}
	return &http.Client{
		Transport: globalHttpTransport,
		Timeout:   time.Duration(globalConfig.ApiClientTimeoutSec) * time.Second,
	}
}

func openStore(ctx context.Context) (blobstore.Store, error) {
	store, err := blobstore.Open(ctx, globalConfig)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", globalConfig.StoreBackend, err)
	}
	log.Debugf("Opened %s store", globalConfig.StoreBackend)
	return store, nil
}

// listingSource resolves where the gallery's keys and bytes come from.
// ListingPath may be a remote server URL, a gallery.json file, or missing,
// in which case the local store is listed directly.
type listingSource struct {
	Keys    func(ctx context.Context) ([]string, error)
	Fetcher gallery.Fetcher
	Name    string
}

func resolveListing(listingPath string, store blobstore.Store) listingSource {
	if downloader.IsURL(listingPath) {
		client := api.NewClient(listingPath, httpClient(), globalConfig)
		return listingSource{Keys: client.FetchListing, Fetcher: client, Name: listingPath}
	}

	if _, err := os.Stat(listingPath); err == nil {
		return listingSource{
			Keys: func(ctx context.Context) ([]string, error) {
				return catalog.LoadListing(listingPath)
			},
			Fetcher: store,
			Name:    listingPath,
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warnf("Cannot read listing %s, listing the store instead", listingPath)
	} else {
		log.Debugf("Listing %s does not exist, listing the store instead", listingPath)
	}

	return listingSource{
		Keys: func(ctx context.Context) ([]string, error) {
			return catalog.ListingFromStore(ctx, store)
		},
		Fetcher: store,
		Name:    globalConfig.StoreBackend + " store",
	}
}

// newBuilder wires a gallery builder with the configured cache and concurrency.
func newBuilder(source gallery.Fetcher) *gallery.Builder {
	b := &gallery.Builder{
		Source:      source,
		Concurrency: globalConfig.IndexConcurrency,
	}
	if globalConfig.MetadataCacheSize > 0 {
		cache, err := gallery.NewMetadataCache(globalConfig.MetadataCacheSize)
		if err != nil {
			log.WithError(err).Warn("Metadata cache disabled")
		} else {
			b.Cache = cache
		}
	}
	return b
}
