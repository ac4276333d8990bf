package sim

import (
	"fmt"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	customlog "github.com/jewel-mirror/overlay/pkg/log"
)

// NewApp builds the simulator's Fiber app: a health surface plus the
// /ws/landmarks feed the overlay service connects to.
func NewApp(opts Options, logger customlog.Logger) (*fiber.App, error) {
	var replay [][]byte
	if opts.ReplayPath != "" {
		frames, err := LoadReplay(opts.ReplayPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load replay capture: %w", err)
		}
		if len(frames) == 0 {
			return nil, fmt.Errorf("replay capture '%s' contains no frames", opts.ReplayPath)
		}
		replay = frames
		logger.Infof("Replaying %d captured frames from %s", len(frames), opts.ReplayPath)
	}

	app := fiber.New(fiber.Config{
		AppName: "Jewel Mirror Tracksim",
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": "landmark tracker simulator",
		})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/landmarks", websocket.New(func(conn *websocket.Conn) {
		var src frameSource
		if replay != nil {
			src = &replaySource{frames: replay}
		} else {
			src = NewGenerator(opts)
		}
		serveLandmarks(conn, src, opts.fps(), logger)
	}))

	return app, nil
}

// serveLandmarks pushes one frame per tick until the client leaves.
func serveLandmarks(conn *websocket.Conn, src frameSource, fps int, logger customlog.Logger) {
	log := logger.WithField("client", conn.RemoteAddr().String())
	log.Infof("Tracker client connected")

	done := make(chan struct{})
	go func() {
		// Drain reads so the peer closing the socket is noticed.
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-done:
			log.Infof("Tracker client disconnected")
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, src.Next()); err != nil {
				log.Infof("Tracker write failed: %v", err)
				return
			}
		}
	}
}
