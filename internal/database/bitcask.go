package database

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go-sd-gallery/internal/models"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key is not found in the database.
var ErrNotFound = errors.New("key not found")

// gzipMagicBytes are the first two bytes of a gzip file.
var gzipMagicBytes = []byte{0x1f, 0x8b}

// Bitcask limits. Keys carry a normalized file name plus a timestamp and random tail,
// and values are whole images, so both are raised well above the library defaults.
const (
	maxKeySize      = 1024
	maxValueSize    = 256 << 20
	maxDatafileSize = 512 << 20
)

// DB wraps the bitcask database instance and provides helper methods.
type DB struct {
	db           *bitcask.Bitcask
	sync.RWMutex // Embed mutex for concurrent access control
}

// Open initializes and returns a DB instance.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	dbInstance, err := bitcask.Open(path,
		bitcask.WithMaxKeySize(maxKeySize),
		bitcask.WithMaxValueSize(maxValueSize),
		bitcask.WithMaxDatafileSize(maxDatafileSize),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open bitcask database at %s: %w", path, err)
	}
	log.Infof("Database opened successfully at %s", path)
	return &DB{db: dbInstance}, nil
}

// Close safely closes the database connection.
func (d *DB) Close() error {
	log.Debug("Closing database...")
	d.Lock()
	defer d.Unlock()
	return d.db.Close()
}

// Has checks if a key exists in the database.
func (d *DB) Has(key []byte) bool {
	d.RLock()
	defer d.RUnlock()
	return d.db.Has(key)
}

// Get retrieves the value associated with a key and decompresses it if necessary.
func (d *DB) Get(key []byte) ([]byte, error) {
	d.RLock()
	value, err := d.db.Get(key)
	d.RUnlock()

	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting key %s: %w", string(key), err)
	}

	return decompressIfGzipped(value)
}

// Put compresses and stores a key-value pair in the database.
// A single bitcask write either lands completely or not at all.
func (d *DB) Put(key []byte, value []byte) error {
	compressedValue, err := compressGzip(value, gzip.BestSpeed)
	if err != nil {
		return fmt.Errorf("error compressing value for key %s: %w", string(key), err)
	}

	d.Lock()
	err = d.db.Put(key, compressedValue)
	d.Unlock()
	if err != nil {
		return fmt.Errorf("error putting compressed key %s: %w", string(key), err)
	}
	return nil
}

// Delete removes a key from the database.
func (d *DB) Delete(key []byte) error {
	d.Lock()
	err := d.db.Delete(key)
	d.Unlock()
	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("error deleting key %s: %w", string(key), err)
	}
	return nil
}

// KeysWithPrefix returns every key starting with prefix, in bitcask iteration order.
func (d *DB) KeysWithPrefix(prefix []byte) ([][]byte, error) {
	d.RLock()
	defer d.RUnlock()

	var keys [][]byte
	err := d.db.Fold(func(key []byte) error {
		if bytes.HasPrefix(key, prefix) {
			k := make([]byte, len(key))
			copy(k, key)
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error scanning keys with prefix %s: %w", string(prefix), err)
	}
	return keys, nil
}

// Fold iterates over all key-value pairs, decompresses the value,
// and calls the provided function.
func (d *DB) Fold(fn func(key []byte, value []byte) error) error {
	d.RLock()
	defer d.RUnlock()

	return d.db.Fold(func(key []byte) error {
		rawValue, err := d.db.Get(key)
		if err != nil {
			log.WithError(err).Warnf("Fold: Error getting value for key %s", string(key))
			return nil
		}

		value, err := decompressIfGzipped(rawValue)
		if err != nil {
			log.WithError(err).Warnf("Fold: Error decompressing value for key %s", string(key))
			return nil
		}

		return fn(key, value)
	})
}

// --- Compression Helpers ---

// decompressIfGzipped decompresses the value if it is gzipped.
func decompressIfGzipped(value []byte) ([]byte, error) {
	if bytes.HasPrefix(value, gzipMagicBytes) {
		gReader, err := gzip.NewReader(bytes.NewReader(value))
		if err != nil {
			log.WithError(err).Warnf("Error creating gzip reader for value, returning raw data.")
			return value, nil
		}
		defer gReader.Close()

		decompressedValue, err := io.ReadAll(gReader)
		if err != nil {
			log.WithError(err).Warnf("Error decompressing value, returning raw data.")
			return value, nil
		}
		return decompressedValue, nil
	}

	return value, nil
}

// compressGzip compresses the value using gzip with the specified compression level.
func compressGzip(value []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	gWriter, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("error creating gzip writer for value: %w", err)
	}
	if _, err = gWriter.Write(value); err != nil {
		_ = gWriter.Close()
		return nil, fmt.Errorf("error writing compressed data for value: %w", err)
	}
	if err = gWriter.Close(); err != nil {
		return nil, fmt.Errorf("error closing gzip writer for value: %w", err)
	}
	return buf.Bytes(), nil
}

// --- Browse State Helpers ---

// BrowseState is the persisted gallery position of one CLI session.
type BrowseState struct {
	Filter models.FilterState `json:"filter"`
	Page   int                `json:"page"`
}

func browseStateKey(listingHash string) []byte {
	return []byte("current_page_" + listingHash)
}

// GetBrowseState retrieves the saved filter and page for a listing hash.
// A missing entry yields page 1 with no filter.
func (d *DB) GetBrowseState(listingHash string) (BrowseState, error) {
	raw, err := d.Get(browseStateKey(listingHash))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return BrowseState{Page: 1}, nil
		}
		return BrowseState{}, fmt.Errorf("error reading browse state for %s: %w", listingHash, err)
	}

	var state BrowseState
	if err := json.Unmarshal(raw, &state); err != nil {
		return BrowseState{}, fmt.Errorf("error parsing saved browse state '%s': %w", string(raw), err)
	}
	if state.Page < 1 {
		state.Page = 1
	}
	log.WithField("listingHash", listingHash).Debugf("Retrieved browse state: page %d", state.Page)
	return state, nil
}

// SetBrowseState saves the filter and page for a listing hash.
func (d *DB) SetBrowseState(listingHash string, state BrowseState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("error encoding browse state for %s: %w", listingHash, err)
	}
	if err := d.Put(browseStateKey(listingHash), raw); err != nil {
		return err
	}
	log.WithField("listingHash", listingHash).Debugf("Set browse state to page %d", state.Page)
	return nil
}

// DeleteBrowseState removes the saved browse state for a listing hash.
func (d *DB) DeleteBrowseState(listingHash string) error {
	err := d.Delete(browseStateKey(listingHash))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("error deleting browse state for %s: %w", listingHash, err)
	}
	log.WithField("listingHash", listingHash).Info("Deleted browse state")
	return nil
}
