package helpers

import (
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"lukechampine.com/blake3"
)

// ContentHash returns the upper-case hex BLAKE3-256 digest of data.
func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// CheckHash reports whether data matches the expected BLAKE3 digest (case-insensitive).
// An empty expected hash never matches.
func CheckHash(data []byte, expected string) bool {
	expected = strings.ToUpper(strings.TrimSpace(expected))
	if expected == "" {
		return false
	}
	return ContentHash(data) == expected
}

// ListingHash identifies a listing by its ordered keys.
func ListingHash(keys []string) string {
	return ContentHash([]byte(strings.Join(keys, "\n")))[:16]
}

// BytesToSize converts a byte count into a human-readable string (KB, MB, GB, etc.).
func BytesToSize(bytes uint64) string {
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}

// CheckAndMakeDir ensures a directory exists, creating it if necessary.
func CheckAndMakeDir(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}

// WriteFileAtomic writes data to a temporary file next to path and renames it
// into place, so readers never see a partially written file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if !CheckAndMakeDir(dir) {
		return fmt.Errorf("failed to create directory %s", dir)
	}

	tempFile, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", path, err)
	}
	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil && !os.IsNotExist(removeErr) {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempFile.Name())
			}
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("writing temporary file %s: %w", tempFile.Name(), err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("closing temporary file %s: %w", tempFile.Name(), err)
	}
	if err := os.Chmod(tempFile.Name(), 0644); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", tempFile.Name(), err)
	}

	log.Debugf("Renaming temp file %s to %s", tempFile.Name(), path)
	if err := os.Rename(tempFile.Name(), path); err != nil {
		return fmt.Errorf("renaming temporary file %s to %s: %w", tempFile.Name(), path, err)
	}
	shouldCleanupTemp = false
	return nil
}
