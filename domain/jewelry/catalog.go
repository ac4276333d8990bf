// Package jewelry holds the selectable jewelry catalog and decides which
// renderable representation each item gets: its real asset, a loading
// placeholder, or the procedural fallback shape.
package jewelry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jewel-mirror/overlay/pkg/config"
)

// Common errors
var (
	ErrUnknownItem  = errors.New("jewelry item not in catalog")
	ErrEmptyCatalog = errors.New("jewelry catalog is empty")
)

// Descriptor describes one selectable jewelry item. AssetPath may be empty,
// in which case the item only ever renders as the procedural fallback.
type Descriptor struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	AssetPath     string  `json:"asset_path,omitempty"`
	Scale         float64 `json:"scale"`
	FallbackColor string  `json:"fallback_color"`
}

// DescriptorFromItem converts a catalog config entry into a Descriptor.
func DescriptorFromItem(item config.JewelryItem) Descriptor {
	return Descriptor{
		ID:            item.ID,
		Name:          item.Name,
		AssetPath:     item.AssetPath,
		Scale:         item.Scale,
		FallbackColor: item.FallbackColor,
	}
}

// Catalog is the ordered set of jewelry descriptors plus the current
// selection. It is safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	items    []Descriptor
	byID     map[string]int
	selected int
}

// NewCatalog builds a catalog from descriptors, selecting defaultID or,
// when empty, the first item.
func NewCatalog(items []Descriptor, defaultID string) (*Catalog, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCatalog
	}

	byID := make(map[string]int, len(items))
	for i, item := range items {
		if item.ID == "" {
			return nil, fmt.Errorf("jewelry item %d has an empty id", i)
		}
		if _, dup := byID[item.ID]; dup {
			return nil, fmt.Errorf("jewelry item id '%s' is duplicated", item.ID)
		}
		byID[item.ID] = i
	}

	selected := 0
	if defaultID != "" {
		idx, ok := byID[defaultID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownItem, defaultID)
		}
		selected = idx
	}

	c := &Catalog{
		items:    make([]Descriptor, len(items)),
		byID:     byID,
		selected: selected,
	}
	copy(c.items, items)
	return c, nil
}

// NewCatalogFromConfig builds a catalog from a parsed catalog config with
// item defaults applied.
func NewCatalogFromConfig(cfg *config.CatalogConfig) (*Catalog, error) {
	items := cfg.ItemsWithDefaults()
	descriptors := make([]Descriptor, 0, len(items))
	for _, item := range items {
		descriptors = append(descriptors, DescriptorFromItem(item))
	}
	return NewCatalog(descriptors, cfg.DefaultItem)
}

// Items returns the descriptors in catalog order.
func (c *Catalog) Items() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	items := make([]Descriptor, len(c.items))
	copy(items, c.items)
	return items
}

// Len returns the number of items in the catalog.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Get returns the descriptor with the given id.
func (c *Catalog) Get(id string) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return c.items[idx], true
}

// Selected returns the currently selected descriptor.
func (c *Catalog) Selected() Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items[c.selected]
}

// Select makes the item with the given id the current selection and returns
// its descriptor.
func (c *Catalog) Select(id string) (Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.byID[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	c.selected = idx
	return c.items[idx], nil
}

// Replace swaps the catalog contents. The current selection is kept when the
// new set still contains it; otherwise defaultID or the first item wins.
func (c *Catalog) Replace(items []Descriptor, defaultID string) error {
	replacement, err := NewCatalog(items, defaultID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	currentID := c.items[c.selected].ID
	c.items = replacement.items
	c.byID = replacement.byID
	c.selected = replacement.selected
	if idx, ok := c.byID[currentID]; ok {
		c.selected = idx
	}
	return nil
}
