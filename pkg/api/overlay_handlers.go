package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jewel-mirror/overlay/domain/overlay"
	"github.com/jewel-mirror/overlay/domain/tracking"
	customlog "github.com/jewel-mirror/overlay/pkg/log"
	"github.com/jewel-mirror/overlay/pkg/transform"
)

// ServiceName identifies this service in status payloads.
const ServiceName = "jewel-mirror overlay"

// OverlayHandler holds dependencies for the overlay status and control
// endpoints.
type OverlayHandler struct {
	engine          *overlay.Engine
	trackingService *tracking.Service
	logger          customlog.Logger
}

// NewOverlayHandler creates a new handler for overlay endpoints.
func NewOverlayHandler(engine *overlay.Engine, trackingService *tracking.Service, logger customlog.Logger) *OverlayHandler {
	if engine == nil {
		panic("Engine cannot be nil in NewOverlayHandler")
	}
	if trackingService == nil {
		panic("TrackingService cannot be nil in NewOverlayHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewOverlayHandler")
	}
	return &OverlayHandler{
		engine:          engine,
		trackingService: trackingService,
		logger:          logger,
	}
}

// RegisterOverlayRoutes registers the overlay status and control endpoints
// with the Fiber app.
func RegisterOverlayRoutes(app *fiber.App, engine *overlay.Engine, trackingService *tracking.Service, logger customlog.Logger) {
	h := NewOverlayHandler(engine, trackingService, logger)

	apiGroup := app.Group("/api")
	apiGroup.Get("/status", h.handleStatus)
	apiGroup.Post("/video/dimensions", h.handleVideoDimensions)
	apiGroup.Post("/stream/reconnect", h.handleStreamReconnect)

	logger.Infof("Registered overlay status and control endpoints under /api")
}

// handleStatus handles GET requests for the merged service status.
func (h *OverlayHandler) handleStatus(c *fiber.Ctx) error {
	stats := h.trackingService.Stats()
	lastError, lastErrorAt := h.trackingService.LastError()

	streamStatus := StreamStatus{
		State:             stats.State.String(),
		SessionID:         stats.SessionID,
		ReconnectAttempts: stats.ReconnectAttempts,
		TotalReconnects:   stats.TotalReconnects,
		FramesReceived:    stats.FramesReceived,
		FramesMalformed:   stats.FramesMalformed,
		LastError:         lastError,
	}
	if !stats.LastConnectedAt.IsZero() {
		streamStatus.LastConnectedAt = stats.LastConnectedAt.Format(time.RFC3339)
	}
	if !lastErrorAt.IsZero() {
		streamStatus.LastErrorAt = lastErrorAt.Format(time.RFC3339)
	}

	return c.JSON(StatusResponse{
		Service: ServiceName,
		Stream:  streamStatus,
		Render:  h.engine.Snapshot(),
	})
}

// handleVideoDimensions handles POST requests reporting the video source
// size used for coordinate mapping.
func (h *OverlayHandler) handleVideoDimensions(c *fiber.Ctx) error {
	var req DimensionsRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnf("Failed to parse video dimensions request: %v", err)
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Request body must be JSON with 'width' and 'height' fields.",
		})
	}
	if req.Width <= 0 || req.Height <= 0 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("Dimensions must be positive, got %dx%d.", req.Width, req.Height),
		})
	}

	h.engine.SetVideoDimensions(req.Width, req.Height)
	return c.JSON(fiber.Map{
		"width":  req.Width,
		"height": req.Height,
		"aspect": transform.AspectOf(req.Width, req.Height),
	})
}

// handleStreamReconnect handles POST requests restarting a failed landmark
// stream with a fresh retry budget.
func (h *OverlayHandler) handleStreamReconnect(c *fiber.Ctx) error {
	if err := h.trackingService.Reconnect(); err != nil {
		h.logger.Errorf("Manual stream reconnect failed: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Reconnect failed: %v", err),
		})
	}
	return c.JSON(fiber.Map{
		"message": "Stream reconnect started.",
		"state":   h.trackingService.Stats().State.String(),
	})
}
