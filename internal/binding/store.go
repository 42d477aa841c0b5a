package binding

import (
	"sync/atomic"

	"github.com/amaumene/grainlink/internal/models"
)

// Store holds the current content item set. The set is immutable once
// stored and is only ever replaced as a whole.
type Store struct {
	items atomic.Pointer[[]models.ContentItem]
}

// NewStore creates an empty store
func NewStore() *Store {
	s := &Store{}
	s.Replace(nil)
	return s
}

// Replace swaps in a copy of items
func (s *Store) Replace(items []models.ContentItem) {
	cp := append([]models.ContentItem(nil), items...)
	s.items.Store(&cp)
}

// Items returns the current set. Callers must not modify it.
func (s *Store) Items() []models.ContentItem {
	return *s.items.Load()
}

// Len returns the number of items in the current set
func (s *Store) Len() int {
	return len(s.Items())
}
