package api

import (
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/jewel-mirror/overlay/domain/overlay"
	customlog "github.com/jewel-mirror/overlay/pkg/log"
)

// RegisterRenderRoutes wires the render feed websocket endpoint with the
// Fiber app.
func RegisterRenderRoutes(app *fiber.App, engine *overlay.Engine, logger customlog.Logger) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/render", websocket.New(func(conn *websocket.Conn) {
		RenderWebSocketHandler(conn, engine, logger)
	}))

	logger.Infof("Registered render feed websocket endpoint at /ws/render")
}

// RenderWebSocketHandler streams render states to one renderer and accepts
// its asset load reports. The subscription is primed with the current state,
// so a renderer can draw immediately after connecting.
func RenderWebSocketHandler(conn *websocket.Conn, engine *overlay.Engine, logger customlog.Logger) {
	id, states := engine.Subscribe()
	defer engine.Unsubscribe(id)

	log := logger.WithField("feed", id)
	log.Infof("Render WebSocket connected: %s", conn.RemoteAddr())

	done := make(chan struct{})

	// Reader side: asset load reports from the renderer.
	go func() {
		defer close(done)
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					log.Errorf("Render WS read error: %v", err)
				} else {
					log.Infof("Render WS connection closed: %v", err)
				}
				return
			}
			if mt != websocket.TextMessage {
				log.Infof("Ignoring non-text render WS message type: %d", mt)
				continue
			}

			var report AssetStatusMessage
			if err := json.Unmarshal(msg, &report); err != nil {
				log.Warnf("Failed to unmarshal render WS message: %v. Message: %s", err, string(msg))
				continue
			}
			if report.Type != MessageTypeAssetStatus {
				log.Debugf("Ignoring render WS message of type '%s'", report.Type)
				continue
			}

			switch report.Status {
			case AssetStatusLoaded:
				engine.ReportAsset(report.Path, true, "")
			case AssetStatusFailed:
				engine.ReportAsset(report.Path, false, report.Error)
			default:
				log.Warnf("Unknown asset status '%s' for path %s", report.Status, report.Path)
			}
		}
	}()

	// Writer side: push every new render state until the renderer leaves or
	// the engine shuts down.
	for {
		select {
		case <-done:
			log.Infof("Render WebSocket disconnected: %s", conn.RemoteAddr())
			return
		case st, ok := <-states:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "engine stopped"))
				return
			}
			if err := conn.WriteJSON(st); err != nil {
				log.Infof("Render WS write failed: %v", err)
				return
			}
		}
	}
}
