package index

import (
	"fmt"
	"os"

	"go-sd-gallery/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

const defaultIndexPath = "gallery.bleve"

// Item is the searchable form of a gallery record.
// All fields are indexed under their lowercase JSON tag names
// (e.g., query '+checkpoint:sdxl_base' or '+loras:detailer').
type Item struct {
	ID         string   `json:"id"`                  // Asset key
	Type       string   `json:"type"`                // Always "image" for now
	Prompt     string   `json:"prompt,omitempty"`    // Generation prompt
	Checkpoint string   `json:"checkpoint"`          // Base model name, "Unknown" when absent
	Loras      []string `json:"loras,omitempty"`     // LoRA names in order of appearance
	Warning    string   `json:"warning,omitempty"`   // Why metadata is missing, if it is
	Extension  string   `json:"extension,omitempty"` // File extension of the key, e.g. ".png"
}

// ItemFromRecord converts a gallery record into an index Item.
func ItemFromRecord(rec models.GalleryRecord, extension string) Item {
	item := Item{
		ID:         rec.Key,
		Type:       "image",
		Prompt:     rec.Metadata.Prompt,
		Checkpoint: rec.Metadata.Checkpoint,
		Warning:    rec.Warning,
		Extension:  extension,
	}
	for _, l := range rec.Metadata.Loras {
		item.Loras = append(item.Loras, l.Name)
	}
	return item
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	index, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Infof("Creating new index at: %s", indexPath)
		mapping := bleve.NewIndexMapping()
		index, err = bleve.New(indexPath, mapping)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		log.Debugf("Opened existing index at: %s", indexPath)
	}
	return index, nil
}

// IndexItem adds or updates an item in the Bleve index.
func IndexItem(index bleve.Index, item Item) error {
	return index.Index(item.ID, item)
}

// IndexItems adds or updates many items in one batch.
func IndexItems(index bleve.Index, items []Item) error {
	batch := index.NewBatch()
	for _, item := range items {
		if err := batch.Index(item.ID, item); err != nil {
			return err
		}
	}
	return index.Batch(batch)
}

// DocumentIDs returns the ID of every document in the index.
func DocumentIDs(index bleve.Index) ([]string, error) {
	count, err := index.DocCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	searchRequest := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	searchRequest.Size = int(count)
	searchResults, err := index.Search(searchRequest)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(searchResults.Hits))
	for _, hit := range searchResults.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// SyncItems makes the index hold exactly items: each one is added or updated
// and every other document is deleted, in one batch. It returns the number
// of documents removed.
func SyncItems(index bleve.Index, items []Item) (int, error) {
	existing, err := DocumentIDs(index)
	if err != nil {
		return 0, fmt.Errorf("listing indexed documents: %w", err)
	}
	keep := make(map[string]struct{}, len(items))
	batch := index.NewBatch()
	for _, item := range items {
		keep[item.ID] = struct{}{}
		if err := batch.Index(item.ID, item); err != nil {
			return 0, err
		}
	}
	removed := 0
	for _, id := range existing {
		if _, ok := keep[id]; !ok {
			batch.Delete(id)
			removed++
		}
	}
	if err := index.Batch(batch); err != nil {
		return 0, err
	}
	if removed > 0 {
		log.Debugf("Removed %d stale documents from the index", removed)
	}
	return removed, nil
}

// SearchIndex performs a query-string search against the index.
func SearchIndex(index bleve.Index, query string, size int) (*bleve.SearchResult, error) {
	searchQuery := bleve.NewQueryStringQuery(query)
	searchRequest := bleve.NewSearchRequest(searchQuery)
	if size > 0 {
		searchRequest.Size = size
	}
	searchRequest.Fields = []string{"*"} // Request all stored fields
	searchResults, err := index.Search(searchRequest)
	if err != nil {
		return nil, err
	}
	return searchResults, nil
}

// DeleteIndex removes the index directory. Use with caution!
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Warnf("Deleting index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}
