package models

import (
	"io"
)

type (
	Config struct {
		// Storage
		StoreBackend string `toml:"StoreBackend"` // bitcask (default), s3, memory
		StorePath    string `toml:"StorePath"`    // bitcask directory for image blobs
		StatePath    string `toml:"StatePath"`    // bitcask directory for CLI browsing state

		// S3-compatible backend
		S3Bucket          string `toml:"S3Bucket"`
		S3Region          string `toml:"S3Region"`
		S3Endpoint        string `toml:"S3Endpoint"` // Optional, for MinIO and friends
		S3AccessKeyID     string `toml:"S3AccessKeyID"`
		S3SecretAccessKey string `toml:"S3SecretAccessKey"`
		S3UsePathStyle    bool   `toml:"S3UsePathStyle"`
		S3Prefix          string `toml:"S3Prefix"`

		// Gallery
		ListingPath       string `toml:"ListingPath"`    // gallery.json path or http(s) URL
		BleveIndexPath    string `toml:"BleveIndexPath"` // Full-text index over gallery records
		PageSize          int    `toml:"PageSize"`
		IndexConcurrency  int    `toml:"IndexConcurrency"`
		MetadataCacheSize int    `toml:"MetadataCacheSize"` // 0 disables the cache

		// Ingestion
		MaxBatchSize      int   `toml:"MaxBatchSize"`
		MaxFileBytes      int64 `toml:"MaxFileBytes"` // 0 means unlimited
		UploadConcurrency int   `toml:"UploadConcurrency"`
		RandomSuffixBytes int   `toml:"RandomSuffixBytes"`

		// Catalog / thumbnails
		ThumbnailDir   string `toml:"ThumbnailDir"`
		ThumbnailWidth int    `toml:"ThumbnailWidth"`

		// HTTP server
		ListenAddr         string   `toml:"ListenAddr"`
		CORSAllowedOrigins []string `toml:"CORSAllowedOrigins"`

		// HTTP client (remote uploads, remote listings)
		ApiClientTimeoutSec int  `toml:"ApiClientTimeoutSec"`
		LogApiRequests      bool `toml:"LogApiRequests"`
	}

	// MediaAsset is one stored image. Created only by a successful ingestion.
	MediaAsset struct {
		Key          string `json:"key"`
		OriginalName string `json:"originalName"`
		ContentType  string `json:"contentType"`
		Size         int64  `json:"size"`
	}

	// Lora is a single <lora:NAME:STRENGTH> reference. Strength is kept verbatim.
	Lora struct {
		Name     string `json:"name"`
		Strength string `json:"strength"`
	}

	// GenerationMetadata is derived from the embedded text of an image, never persisted.
	GenerationMetadata struct {
		Prompt     string `json:"prompt"`
		Checkpoint string `json:"checkpoint"`
		Loras      []Lora `json:"loras"`
	}

	// FileInput is one entry of an upload batch.
	FileInput struct {
		Name        string
		ContentType string // Detected from the bytes when empty
		Open        func() (io.ReadCloser, error)
	}

	// UploadOutcome is the per-file status reported to callers.
	UploadOutcome struct {
		Key          string `json:"key,omitempty"`
		OriginalName string `json:"originalName"`
		Status       string `json:"status"`
		Error        string `json:"error,omitempty"`
	}

	// GalleryRecord pairs an asset key with its metadata. Warning is set when
	// fetching or extraction failed and the metadata is the empty default.
	GalleryRecord struct {
		Key      string             `json:"key"`
		Metadata GenerationMetadata `json:"metadata"`
		Warning  string             `json:"warning,omitempty"`
	}

	// FilterState narrows a gallery query. Empty fields mean no constraint.
	FilterState struct {
		Keyword  string `json:"keyword"`
		LoraName string `json:"loraName"`
	}
)

// Upload outcome statuses
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// UnknownCheckpoint is reported when no Model: field is present.
const UnknownCheckpoint = "Unknown"

// EmptyMetadata returns the metadata used when nothing could be extracted.
func EmptyMetadata() GenerationMetadata {
	return GenerationMetadata{
		Prompt:     "",
		Checkpoint: UnknownCheckpoint,
		Loras:      []Lora{},
	}
}

// HasLora reports whether any LoRA reference has exactly the given name.
func (m GenerationMetadata) HasLora(name string) bool {
	for _, l := range m.Loras {
		if l.Name == name {
			return true
		}
	}
	return false
}
