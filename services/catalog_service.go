package services

import (
	"fmt"
	"io/ioutil"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jewel-mirror/overlay/domain/jewelry"
	"github.com/jewel-mirror/overlay/pkg/config"
	customlog "github.com/jewel-mirror/overlay/pkg/log"
)

// SelectionPublisher receives the active jewelry item whenever it changes.
// This avoids a direct dependency on the concrete overlay engine.
type SelectionPublisher interface {
	PublishSelection(item jewelry.Descriptor) error
}

// JewelryCatalogService manages the operational jewelry catalog: the set of
// selectable items, the active selection, and edits arriving through the API.
type JewelryCatalogService interface {
	LoadCatalog() error
	Items() []jewelry.Descriptor
	Selected() jewelry.Descriptor
	Select(id string) (jewelry.Descriptor, error)
	UpdateCatalog(newCatalogYAML []byte) error
	CatalogYAML() ([]byte, error)
	SetPublisher(p SelectionPublisher)
}

// jewelryCatalogService implements the JewelryCatalogService interface.
type jewelryCatalogService struct {
	catalogPath  string
	persistEdits bool
	logger       customlog.Logger
	publisher    SelectionPublisher
	cfg          *config.CatalogConfig
	catalog      *jewelry.Catalog
	mu           sync.RWMutex
}

// NewJewelryCatalogService creates a new JewelryCatalogService and attempts
// an initial load. A missing or broken catalog file is tolerated here so the
// catalog can still be supplied later through the update API; callers that
// need a populated catalog should check Selected after construction.
func NewJewelryCatalogService(catalogPath string, persistEdits bool, logger customlog.Logger) (JewelryCatalogService, error) {
	if catalogPath == "" {
		return nil, fmt.Errorf("catalog configuration path cannot be empty")
	}
	if logger == nil {
		logger, _ = customlog.NewLogrusLogger("info", "")
		logger.Warnf("No logger provided to JewelryCatalogService, using default.")
	}

	service := &jewelryCatalogService{
		catalogPath:  catalogPath,
		persistEdits: persistEdits,
		logger:       logger,
	}

	if err := service.LoadCatalog(); err != nil {
		logger.Warnf("Initial load of jewelry catalog '%s' failed: %v. Service created, but catalog is empty.", catalogPath, err)
		return service, nil
	}

	logger.Infof("JewelryCatalogService initialized for path: %s", catalogPath)
	return service, nil
}

// LoadCatalog reads the catalog file from disk and replaces the in-memory
// catalog. The active selection is kept when the loaded catalog still
// contains it.
func (s *jewelryCatalogService) LoadCatalog() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("Loading jewelry catalog from: %s", s.catalogPath)
	cfg, err := config.LoadCatalogConfig(s.catalogPath)
	if err != nil {
		s.logger.Errorf("Error loading jewelry catalog '%s': %v", s.catalogPath, err)
		s.cfg = nil
		s.catalog = nil
		return fmt.Errorf("error loading jewelry catalog '%s': %w", s.catalogPath, err)
	}

	if s.catalog == nil {
		catalog, err := jewelry.NewCatalogFromConfig(cfg)
		if err != nil {
			s.cfg = nil
			return fmt.Errorf("error building jewelry catalog: %w", err)
		}
		s.catalog = catalog
	} else if err := s.catalog.Replace(catalogDescriptors(cfg), cfg.DefaultItem); err != nil {
		return fmt.Errorf("error replacing jewelry catalog: %w", err)
	}

	s.cfg = cfg
	s.logger.Infof("Loaded %d jewelry items, default '%s'", s.catalog.Len(), s.catalog.Selected().ID)
	return nil
}

// Items returns the selectable jewelry items, defaults already applied.
func (s *jewelryCatalogService) Items() []jewelry.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.catalog == nil {
		return nil
	}
	return s.catalog.Items()
}

// Selected returns the active jewelry item, or a zero descriptor when no
// catalog is loaded.
func (s *jewelryCatalogService) Selected() jewelry.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.catalog == nil {
		return jewelry.Descriptor{}
	}
	return s.catalog.Selected()
}

// Select switches the active item and pushes the new selection to the
// publisher.
func (s *jewelryCatalogService) Select(id string) (jewelry.Descriptor, error) {
	s.mu.RLock()
	catalog := s.catalog
	s.mu.RUnlock()

	if catalog == nil {
		return jewelry.Descriptor{}, fmt.Errorf("jewelry catalog not loaded")
	}
	item, err := catalog.Select(id)
	if err != nil {
		return jewelry.Descriptor{}, err
	}
	s.logger.Infof("Jewelry item selected: %s", item.ID)
	s.publishSelection(item)
	return item, nil
}

// UpdateCatalog validates the provided catalog YAML, applies it, persists it
// when persistence is enabled, and republishes the resulting selection.
func (s *jewelryCatalogService) UpdateCatalog(newCatalogYAML []byte) error {
	s.mu.Lock()

	s.logger.Infof("Attempting to update jewelry catalog from provided YAML")
	cfg, err := config.ParseCatalogConfig(newCatalogYAML)
	if err != nil {
		s.mu.Unlock()
		s.logger.Errorf("Failed to parse provided catalog YAML: %v", err)
		return fmt.Errorf("invalid YAML format: %w", err)
	}

	if s.catalog == nil {
		catalog, err := jewelry.NewCatalogFromConfig(cfg)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("invalid catalog contents: %w", err)
		}
		s.catalog = catalog
	} else if err := s.catalog.Replace(catalogDescriptors(cfg), cfg.DefaultItem); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("invalid catalog contents: %w", err)
	}

	cfg.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	s.cfg = cfg

	if s.persistEdits {
		if err := s.persistCatalogUnlocked(); err != nil {
			s.mu.Unlock()
			return err
		}
	} else {
		s.logger.Debugf("Catalog persistence disabled, applied update in memory only")
	}

	selected := s.catalog.Selected()
	s.logger.Infof("Jewelry catalog updated: %d items, selection '%s'", s.catalog.Len(), selected.ID)
	s.mu.Unlock()

	s.publishSelection(selected)
	return nil
}

// CatalogYAML renders the current in-memory catalog as YAML, suitable for
// display before editing.
func (s *jewelryCatalogService) CatalogYAML() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil, fmt.Errorf("jewelry catalog not loaded")
	}
	data, err := yaml.Marshal(s.cfg)
	if err != nil {
		return nil, fmt.Errorf("error rendering catalog YAML: %w", err)
	}
	return data, nil
}

// SetPublisher allows injecting the SelectionPublisher after initialization.
func (s *jewelryCatalogService) SetPublisher(p SelectionPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
	s.logger.Infof("SelectionPublisher injected into JewelryCatalogService.")
}

// persistCatalogUnlocked writes the in-memory catalog back to the catalog
// file. It assumes the caller holds the write lock.
func (s *jewelryCatalogService) persistCatalogUnlocked() error {
	s.logger.Infof("Persisting jewelry catalog to: %s", s.catalogPath)
	data, err := yaml.Marshal(s.cfg)
	if err != nil {
		return fmt.Errorf("error rendering catalog YAML: %w", err)
	}
	if err := ioutil.WriteFile(s.catalogPath, data, 0644); err != nil {
		s.logger.Errorf("Error writing jewelry catalog '%s': %v", s.catalogPath, err)
		return fmt.Errorf("error writing jewelry catalog '%s': %w", s.catalogPath, err)
	}
	return nil
}

// catalogDescriptors converts parsed catalog items, defaults applied, into
// domain descriptors.
func catalogDescriptors(cfg *config.CatalogConfig) []jewelry.Descriptor {
	items := cfg.ItemsWithDefaults()
	descriptors := make([]jewelry.Descriptor, 0, len(items))
	for _, item := range items {
		descriptors = append(descriptors, jewelry.DescriptorFromItem(item))
	}
	return descriptors
}

func (s *jewelryCatalogService) publishSelection(item jewelry.Descriptor) {
	s.mu.RLock()
	publisher := s.publisher
	s.mu.RUnlock()

	if publisher == nil {
		s.logger.Debugf("SelectionPublisher not configured, skipping selection push")
		return
	}
	if err := publisher.PublishSelection(item); err != nil {
		s.logger.Warnf("Failed to publish jewelry selection: %v", err)
	}
}
