package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/jewel-mirror/overlay/domain/jewelry"
	customlog "github.com/jewel-mirror/overlay/pkg/log"
	"github.com/jewel-mirror/overlay/services"
)

// CatalogHandler holds dependencies for the jewelry catalog API endpoints.
type CatalogHandler struct {
	catalogService services.JewelryCatalogService
	logger         customlog.Logger
}

// NewCatalogHandler creates a new handler for jewelry catalog endpoints.
func NewCatalogHandler(catalogService services.JewelryCatalogService, logger customlog.Logger) *CatalogHandler {
	if catalogService == nil {
		panic("CatalogService cannot be nil in NewCatalogHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewCatalogHandler")
	}
	return &CatalogHandler{
		catalogService: catalogService,
		logger:         logger,
	}
}

// RegisterCatalogRoutes registers the jewelry catalog API endpoints with the
// Fiber app.
func RegisterCatalogRoutes(app *fiber.App, catalogService services.JewelryCatalogService, logger customlog.Logger) {
	h := NewCatalogHandler(catalogService, logger)

	jewelryGroup := app.Group("/api/jewelry")

	jewelryGroup.Get("/", h.handleListJewelry)
	jewelryGroup.Post("/select", h.handleSelectJewelry)

	// Raw catalog access for the editing UI.
	jewelryGroup.Get("/catalog", h.handleGetCatalogYAML)
	jewelryGroup.Put("/catalog", h.handleUpdateCatalog)

	logger.Infof("Registered jewelry catalog API endpoints under /api/jewelry")
}

// handleListJewelry handles GET requests for the selectable item list.
func (h *CatalogHandler) handleListJewelry(c *fiber.Ctx) error {
	h.logger.Debugf("Handling GET request for /api/jewelry")
	return c.JSON(JewelryListResponse{
		Items:    h.catalogService.Items(),
		Selected: h.catalogService.Selected(),
	})
}

// handleSelectJewelry handles POST requests switching the active item.
func (h *CatalogHandler) handleSelectJewelry(c *fiber.Ctx) error {
	var req SelectRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnf("Failed to parse jewelry select request: %v", err)
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Request body must be JSON with an 'id' field.",
		})
	}
	if req.ID == "" {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Field 'id' cannot be empty.",
		})
	}

	item, err := h.catalogService.Select(req.ID)
	if err != nil {
		if errors.Is(err, jewelry.ErrUnknownItem) {
			return c.Status(http.StatusNotFound).JSON(fiber.Map{
				"error": fmt.Sprintf("Unknown jewelry item: %s", req.ID),
			})
		}
		h.logger.Errorf("Failed to select jewelry item '%s': %v", req.ID, err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Selection failed: %v", err),
		})
	}

	h.logger.Infof("Jewelry selection request served: %s", item.ID)
	return c.JSON(fiber.Map{
		"message":  "Jewelry item selected.",
		"selected": item,
	})
}

// handleGetCatalogYAML handles GET requests to retrieve the current catalog
// as YAML.
func (h *CatalogHandler) handleGetCatalogYAML(c *fiber.Ctx) error {
	h.logger.Debugf("Handling GET request for /api/jewelry/catalog")
	yamlData, err := h.catalogService.CatalogYAML()
	if err != nil {
		h.logger.Errorf("Failed to render jewelry catalog YAML: %v", err)
		return c.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "Jewelry catalog not found or not yet loaded.",
		})
	}

	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(yamlData)
}

// handleUpdateCatalog handles PUT requests replacing the jewelry catalog.
func (h *CatalogHandler) handleUpdateCatalog(c *fiber.Ctx) error {
	h.logger.Debugf("Handling PUT request for /api/jewelry/catalog")

	contentType := c.Get(fiber.HeaderContentType)
	if contentType != "application/x-yaml" && contentType != "application/yaml" && contentType != "text/yaml" {
		// Relaxed check; try to process anyway but note the mismatch.
		h.logger.Warnf("Received catalog PUT with unexpected Content-Type: %s", contentType)
	}

	newCatalogYAML := c.Body()
	if len(newCatalogYAML) == 0 {
		h.logger.Errorf("Received empty body in PUT request for catalog update.")
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Request body cannot be empty.",
		})
	}

	if err := h.catalogService.UpdateCatalog(newCatalogYAML); err != nil {
		h.logger.Errorf("Failed to update jewelry catalog: %v", err)
		if strings.Contains(err.Error(), "invalid YAML format") || strings.Contains(err.Error(), "invalid catalog") {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("Catalog update failed: %v", err),
			})
		}
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Internal server error during catalog update: %v", err),
		})
	}

	h.logger.Infof("Successfully processed PUT request to update jewelry catalog.")
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message": "Jewelry catalog updated successfully.",
	})
}
