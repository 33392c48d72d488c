package gallery

import "go-sd-gallery/internal/models"

// DefaultPageSize is the number of thumbnails per page.
const DefaultPageSize = 12

// Page is one slice of a result set.
type Page struct {
	Records    []models.GalleryRecord `json:"records"`
	Number     int                    `json:"page"`
	Size       int                    `json:"pageSize"`
	Total      int                    `json:"total"`
	TotalPages int                    `json:"totalPages"`
}

// TotalPages is ceil(count/pageSize), 0 for an empty set.
func TotalPages(count, pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if count <= 0 {
		return 0
	}
	return (count + pageSize - 1) / pageSize
}

// Paginate returns records[(pageNumber-1)*pageSize : pageNumber*pageSize],
// clipped to the slice. pageNumber is 1-based; values below 1 mean 1. A page
// past the end is empty.
func Paginate(records []models.GalleryRecord, pageNumber, pageSize int) Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageNumber < 1 {
		pageNumber = 1
	}

	page := Page{
		Records:    []models.GalleryRecord{},
		Number:     pageNumber,
		Size:       pageSize,
		Total:      len(records),
		TotalPages: TotalPages(len(records), pageSize),
	}

	start := (pageNumber - 1) * pageSize
	if start >= len(records) {
		return page
	}
	end := start + pageSize
	if end > len(records) {
		end = len(records)
	}
	page.Records = records[start:end]
	return page
}
