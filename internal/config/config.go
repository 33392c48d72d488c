package config

import (
	"fmt"
	"path/filepath"

	"go-sd-gallery/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// Defaults applied to zero-valued fields after decoding.
const (
	DefaultStoreBackend      = "bitcask"
	DefaultStorePath         = "data/blobs.db"
	DefaultStatePath         = "data/state.db"
	DefaultListingPath       = "gallery.json"
	DefaultListenAddr        = ":8080"
	DefaultMaxBatchSize      = 10
	DefaultUploadConcurrency = 4
	DefaultIndexConcurrency  = 8
	DefaultPageSize          = 12
	DefaultRandomSuffixBytes = 6
	DefaultThumbnailWidth    = 300
	DefaultApiTimeoutSec     = 60
)

// LoadConfig reads the configuration from the specified path (defaulting to "config.toml")
// and returns a models.Config with defaults filled in.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml"
	}
	var cfg models.Config
	_, err := toml.DecodeFile(configFilePath, &cfg)
	if err != nil {
		return ApplyDefaults(models.Config{}), fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	cfg = ApplyDefaults(cfg)
	if cfg.StoreBackend == "s3" && cfg.S3Bucket == "" {
		log.Warn("Warning: StoreBackend is s3 but S3Bucket is not set in config.toml")
	}

	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func ApplyDefaults(cfg models.Config) models.Config {
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = DefaultStoreBackend
	}
	if cfg.StorePath == "" {
		cfg.StorePath = DefaultStorePath
	}
	if cfg.StatePath == "" {
		cfg.StatePath = DefaultStatePath
	}
	if cfg.ListingPath == "" {
		cfg.ListingPath = DefaultListingPath
	}
	if cfg.BleveIndexPath == "" {
		cfg.BleveIndexPath = filepath.Join(filepath.Dir(cfg.StorePath), "gallery.bleve")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = DefaultUploadConcurrency
	}
	if cfg.IndexConcurrency <= 0 {
		cfg.IndexConcurrency = DefaultIndexConcurrency
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.RandomSuffixBytes < DefaultRandomSuffixBytes {
		if cfg.RandomSuffixBytes != 0 {
			log.Warnf("RandomSuffixBytes %d is below the minimum, using %d", cfg.RandomSuffixBytes, DefaultRandomSuffixBytes)
		}
		cfg.RandomSuffixBytes = DefaultRandomSuffixBytes
	}
	if cfg.ThumbnailWidth <= 0 {
		cfg.ThumbnailWidth = DefaultThumbnailWidth
	}
	if cfg.ApiClientTimeoutSec <= 0 {
		cfg.ApiClientTimeoutSec = DefaultApiTimeoutSec
	}
	if cfg.S3Region == "" {
		cfg.S3Region = "us-east-1"
	}
	return cfg
}
