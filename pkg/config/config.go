package config

import (
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v3"
)

// CatalogConfig represents the jewelry catalog configuration. It is kept in
// its own file under the data directory so catalog edits can be persisted
// without touching the bootstrap config.
type CatalogConfig struct {
	Version     string        `yaml:"version" json:"version"`
	LastUpdated string        `yaml:"lastUpdated" json:"lastUpdated"`
	DefaultItem string        `yaml:"default_item,omitempty" json:"default_item,omitempty"`
	Defaults    ItemDefaults  `yaml:"defaults" json:"defaults"`
	Items       []JewelryItem `yaml:"items" json:"items"`
}

// JewelryItem describes one selectable jewelry entry in the catalog
type JewelryItem struct {
	ID            string  `yaml:"id" json:"id"`
	Name          string  `yaml:"name" json:"name"`
	AssetPath     string  `yaml:"asset_path,omitempty" json:"asset_path,omitempty"`
	Scale         float64 `yaml:"scale,omitempty" json:"scale,omitempty"`
	FallbackColor string  `yaml:"fallback_color,omitempty" json:"fallback_color,omitempty"`
}

// ItemDefaults holds default values applied to items with empty fields
type ItemDefaults struct {
	Scale         float64 `yaml:"scale" json:"scale"`
	FallbackColor string  `yaml:"fallback_color" json:"fallback_color"`
}

// LoadCatalogConfig loads the jewelry catalog from the specified file path
func LoadCatalogConfig(path string) (*CatalogConfig, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading catalog file: %w", err)
	}

	config, err := ParseCatalogConfig(data)
	if err != nil {
		return nil, fmt.Errorf("error parsing catalog file '%s': %w", path, err)
	}

	return config, nil
}

// ParseCatalogConfig parses and validates catalog YAML content
func ParseCatalogConfig(data []byte) (*CatalogConfig, error) {
	var config CatalogConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the catalog for duplicate or empty item IDs and a
// resolvable default selection.
func (c *CatalogConfig) Validate() error {
	seen := make(map[string]bool, len(c.Items))
	for i, item := range c.Items {
		if item.ID == "" {
			return fmt.Errorf("catalog item %d has an empty id", i)
		}
		if seen[item.ID] {
			return fmt.Errorf("catalog item id '%s' is duplicated", item.ID)
		}
		seen[item.ID] = true
		if item.Scale < 0 {
			return fmt.Errorf("catalog item '%s' has a negative scale", item.ID)
		}
	}

	if c.DefaultItem != "" && !seen[c.DefaultItem] {
		return fmt.Errorf("default_item '%s' is not in the catalog", c.DefaultItem)
	}

	return nil
}

// GetItemByID returns the catalog item with the given ID with defaults
// applied
func (c *CatalogConfig) GetItemByID(id string) (JewelryItem, bool) {
	for _, item := range c.Items {
		if item.ID == id {
			return applyItemDefaults(item, c.Defaults), true
		}
	}
	return JewelryItem{}, false
}

// ItemsWithDefaults returns all catalog items with defaults applied,
// preserving file order.
func (c *CatalogConfig) ItemsWithDefaults() []JewelryItem {
	result := make([]JewelryItem, 0, len(c.Items))
	for _, item := range c.Items {
		result = append(result, applyItemDefaults(item, c.Defaults))
	}
	return result
}

// applyItemDefaults merges default values into a catalog item where fields
// are empty
func applyItemDefaults(item JewelryItem, defaults ItemDefaults) JewelryItem {
	result := item

	if result.Scale == 0 {
		result.Scale = defaults.Scale
	}
	if result.Scale == 0 {
		result.Scale = 1.0
	}

	if result.FallbackColor == "" {
		result.FallbackColor = defaults.FallbackColor
	}
	if result.FallbackColor == "" {
		result.FallbackColor = "#c0c0c0"
	}

	return result
}
