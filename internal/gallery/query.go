package gallery

import (
	"sort"
	"strings"

	"go-sd-gallery/internal/models"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Query returns the records matching every non-empty field of filter, in
// index order. The keyword must be a substring of the prompt once both are
// lowercased with the full Unicode mapping; case folding is not applied, so
// "ss" does not match "ß". The LoRA name must match exactly.
func Query(idx *Index, filter models.FilterState) []models.GalleryRecord {
	records := idx.Records()
	if filter.Keyword == "" && filter.LoraName == "" {
		return records
	}

	lower := cases.Lower(language.Und)
	keyword := lower.String(filter.Keyword)

	out := make([]models.GalleryRecord, 0, len(records))
	for _, r := range records {
		if keyword != "" && !strings.Contains(lower.String(r.Metadata.Prompt), keyword) {
			continue
		}
		if filter.LoraName != "" && !r.Metadata.HasLora(filter.LoraName) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// DistinctLoraNames returns every LoRA name in the index, sorted ascending.
func DistinctLoraNames(idx *Index) []string {
	seen := make(map[string]struct{})
	for _, r := range idx.Records() {
		for _, l := range r.Metadata.Loras {
			seen[l.Name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
