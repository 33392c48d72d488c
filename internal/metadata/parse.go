// Package metadata recovers Stable Diffusion generation parameters (prompt,
// checkpoint, LoRAs) from the text that image tools embed in PNG, JPEG, TIFF
// and WebP files.
package metadata

import (
	"regexp"
	"strings"

	"go-sd-gallery/internal/models"

	log "github.com/sirupsen/logrus"
)

var (
	promptPattern = regexp.MustCompile(`(?s)^(.*?)Steps:`)
	modelPattern  = regexp.MustCompile(`Model:\s*([^\n,]+)`)
	loraPattern   = regexp.MustCompile(`<lora:([\w-]+):([\d.]+)>`)
)

// Parse applies the extraction rules to a block of generation text.
// It never fails: missing pieces fall back to EmptyMetadata values.
func Parse(text string) models.GenerationMetadata {
	meta := models.EmptyMetadata()

	if m := promptPattern.FindStringSubmatch(text); m != nil {
		meta.Prompt = strings.TrimSpace(m[1])
	}

	if m := modelPattern.FindStringSubmatch(text); m != nil {
		if checkpoint := strings.TrimSpace(m[1]); checkpoint != "" {
			meta.Checkpoint = checkpoint
		}
	}

	// Strength is kept as written, so "0.80" and "0.8" stay distinct.
	for _, m := range loraPattern.FindAllStringSubmatch(text, -1) {
		meta.Loras = append(meta.Loras, models.Lora{Name: m[1], Strength: m[2]})
	}

	return meta
}

// Inspect extracts and parses the metadata of an encoded image. The returned
// metadata is always usable; a non-nil error describes why it may be empty.
func Inspect(data []byte) (models.GenerationMetadata, error) {
	text, err := ExtractText(data)
	if err != nil {
		return models.EmptyMetadata(), err
	}
	return Parse(text), nil
}

// Extract is Inspect with the error logged as a warning instead of returned.
func Extract(data []byte) models.GenerationMetadata {
	meta, err := Inspect(data)
	if err != nil {
		log.WithError(err).Warn("Could not read generation metadata, using defaults")
	}
	return meta
}
