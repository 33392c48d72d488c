// Package blobstore models the key-value binary store that holds ingested images.
// Every backend guarantees that a single Put is atomic per key: readers either see
// the complete object or nothing.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go-sd-gallery/internal/models"
)

// ErrNotFound is returned by Get and Stat when the key is absent.
var ErrNotFound = errors.New("blob not found")

// PutOptions carries per-object metadata.
type PutOptions struct {
	ContentType string
}

// ObjectInfo describes a stored object without its bytes.
type ObjectInfo struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Store is the abstract put/get/list interface consumed by ingestion and the gallery.
type Store interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
	Get(ctx context.Context, key string) ([]byte, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Open builds the backend named by cfg.StoreBackend.
func Open(ctx context.Context, cfg models.Config) (Store, error) {
	switch strings.ToLower(cfg.StoreBackend) {
	case "", "bitcask":
		return OpenBitcask(cfg.StorePath)
	case "s3":
		return NewS3Store(ctx, S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
			Prefix:          cfg.S3Prefix,
		})
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
