package gallery

import (
	"sync"

	"go-sd-gallery/internal/models"
)

// EventKind identifies a browsing transition.
type EventKind int

const (
	// FilterChanged replaces the filter and returns to page 1.
	FilterChanged EventKind = iota + 1
	// PageSelected moves to Event.Page.
	PageSelected
	// IndexLoaded swaps in Event.Index and returns to page 1.
	IndexLoaded
)

// Event is a message dispatched to a Controller.
type Event struct {
	Kind   EventKind
	Filter models.FilterState
	Page   int
	Index  *Index
}

// View is what a presentation layer renders.
type View struct {
	Filter    models.FilterState `json:"filter"`
	Page      Page               `json:"page"`
	LoraNames []string           `json:"loraNames"`
}

// Controller owns the browsing state of one viewer. Query and Paginate stay
// pure; the controller only decides which filter and page to feed them.
type Controller struct {
	mu       sync.RWMutex
	index    *Index
	filter   models.FilterState
	page     int
	pageSize int
}

// NewController starts at page 1 with an empty filter.
func NewController(idx *Index, pageSize int) *Controller {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Controller{index: idx, page: 1, pageSize: pageSize}
}

// SetFilter replaces the filter and resets to page 1.
func (c *Controller) SetFilter(filter models.FilterState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = filter
	c.page = 1
}

// SetPage selects a page, clamped to the pages the current filter yields.
func (c *Controller) SetPage(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := TotalPages(len(Query(c.index, c.filter)), c.pageSize)
	if page > total {
		page = total
	}
	if page < 1 {
		page = 1
	}
	c.page = page
}

// Load replaces the index, keeping the filter and resetting to page 1.
func (c *Controller) Load(idx *Index) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = idx
	c.page = 1
}

// Restore sets filter and page together, as saved by a previous session.
func (c *Controller) Restore(filter models.FilterState, page int) {
	c.SetFilter(filter)
	c.SetPage(page)
}

// Dispatch applies ev and returns the resulting view.
func (c *Controller) Dispatch(ev Event) View {
	switch ev.Kind {
	case FilterChanged:
		c.SetFilter(ev.Filter)
	case PageSelected:
		c.SetPage(ev.Page)
	case IndexLoaded:
		c.Load(ev.Index)
	}
	return c.View()
}

// State returns the current filter and page number.
func (c *Controller) State() (models.FilterState, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter, c.page
}

// View computes the current page.
func (c *Controller) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return View{
		Filter:    c.filter,
		Page:      Paginate(Query(c.index, c.filter), c.page, c.pageSize),
		LoraNames: DistinctLoraNames(c.index),
	}
}
