package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/jewel-mirror/overlay/domain/jewelry"
	"github.com/jewel-mirror/overlay/domain/overlay"
	"github.com/jewel-mirror/overlay/domain/tracking"
	"github.com/jewel-mirror/overlay/pkg/api"
	"github.com/jewel-mirror/overlay/pkg/config"
	customlog "github.com/jewel-mirror/overlay/pkg/log"
	"github.com/jewel-mirror/overlay/pkg/metrics"
	"github.com/jewel-mirror/overlay/services"
)

// engineSelectionPublisher forwards catalog selections into the overlay
// engine.
type engineSelectionPublisher struct {
	engine *overlay.Engine
}

func (p engineSelectionPublisher) PublishSelection(item jewelry.Descriptor) error {
	p.engine.SelectItem(item)
	return nil
}

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	configDir := flag.String("config", "./config", "Path to the configuration directory")
	flag.Parse()

	// Load bootstrap configuration
	bootstrapCfg, err := config.LoadBootstrapConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load bootstrap config: %v\n", err)
	}
	bootstrapCfg.ApplyEnvOverrides()

	appLogger, err := customlog.NewLogrusLogger(bootstrapCfg.Logging.Level, bootstrapCfg.Logging.LogPath)
	if err != nil {
		log.Fatalf("Failed to create logger: %v\n", err)
	}
	appLogger.Infof("Starting jewel mirror overlay service")

	m := metrics.New()

	// Jewelry catalog
	catalogPath := filepath.Join(bootstrapCfg.Data.Directory, bootstrapCfg.Data.CatalogConfigFile)
	catalogService, err := services.NewJewelryCatalogService(catalogPath, bootstrapCfg.Data.PersistCatalogEdits, appLogger)
	if err != nil {
		appLogger.Fatalf("Failed to create jewelry catalog service: %v", err)
	}
	if catalogService.Selected().ID == "" {
		appLogger.Fatalf("Jewelry catalog at %s is empty or unreadable", catalogPath)
	}

	// Overlay engine
	engine := overlay.NewEngine(overlay.Options{
		Logger:      appLogger,
		Metrics:     m,
		Selected:    catalogService.Selected(),
		VideoWidth:  bootstrapCfg.Video.Width,
		VideoHeight: bootstrapCfg.Video.Height,
	})
	engine.Start()
	catalogService.SetPublisher(engineSelectionPublisher{engine: engine})

	// Landmark stream
	trackingService, err := tracking.NewService(tracking.Options{
		Stream:  bootstrapCfg.Stream,
		Engine:  engine,
		Logger:  appLogger,
		Metrics: m,
	})
	if err != nil {
		appLogger.Fatalf("Failed to create tracking service: %v", err)
	}
	if err := trackingService.Start(); err != nil {
		appLogger.Fatalf("Failed to start tracking service: %v", err)
	}

	// Create a new Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Jewel Mirror Overlay",
		ErrorHandler: customErrorHandler,
	})

	// Add middleware
	app.Use(logger.New())
	app.Use(recover.New())
	if len(bootstrapCfg.Server.AllowedOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(bootstrapCfg.Server.AllowedOrigins, ","),
		}))
	}

	// Set up basic routes
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": api.ServiceName,
		})
	})

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	// Prometheus metrics endpoint
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	// Serve jewelry model files so render clients can fetch the asset
	// paths referenced in render states.
	if bootstrapCfg.Data.AssetDirectory != "" {
		app.Static("/assets", bootstrapCfg.Data.AssetDirectory)
	}

	// Set up API and websocket routes
	api.RegisterOverlayRoutes(app, engine, trackingService, appLogger)
	api.RegisterCatalogRoutes(app, catalogService, appLogger)
	api.RegisterRenderRoutes(app, engine, appLogger)

	// Start server in a goroutine
	port := strconv.Itoa(bootstrapCfg.Server.HTTPPort)
	go func() {
		appLogger.Infof("Server starting on port %s", port)
		if err := app.Listen(":" + port); err != nil {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Infof("Shutting down server...")

	// Stop feeding the engine before tearing it down, so render feeds see a
	// clean close.
	trackingService.Stop()
	engine.Stop()

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Attempt graceful shutdown
	if err := app.ShutdownWithContext(ctx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}

	appLogger.Infof("Server exited properly")
}

// Custom error handler
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
