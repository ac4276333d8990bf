package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	customlog "github.com/jewel-mirror/overlay/pkg/log"
	"github.com/jewel-mirror/overlay/pkg/sim"
)

func main() {
	port := flag.String("port", "8765", "Port to serve the landmark feed on")
	fps := flag.Int("fps", sim.DefaultFPS, "Frames per second")
	logLevel := flag.String("log-level", "info", "Log level")
	faceLossEvery := flag.Duration("face-loss-every", 0, "Interval between face loss windows (0 disables)")
	faceLossFor := flag.Duration("face-loss-for", 500*time.Millisecond, "Length of each face loss window")
	rotationLossEvery := flag.Duration("rotation-loss-every", 0, "Interval between rotation dropout windows (0 disables)")
	rotationLossFor := flag.Duration("rotation-loss-for", time.Second, "Length of each rotation dropout window")
	errorEvery := flag.Duration("error-every", 0, "Interval between injected tracker error frames (0 disables)")
	malformedEvery := flag.Int("malformed-every", 0, "Inject a malformed payload every Nth frame (0 disables)")
	replay := flag.String("replay", "", "Serve frames from a JSONL capture instead of generating them")
	flag.Parse()

	appLogger, err := customlog.NewLogrusLogger(*logLevel, "")
	if err != nil {
		log.Fatalf("Failed to create logger: %v\n", err)
	}

	app, err := sim.NewApp(sim.Options{
		FPS:               *fps,
		FaceLossEvery:     *faceLossEvery,
		FaceLossFor:       *faceLossFor,
		RotationLossEvery: *rotationLossEvery,
		RotationLossFor:   *rotationLossFor,
		ErrorEvery:        *errorEvery,
		MalformedEvery:    *malformedEvery,
		ReplayPath:        *replay,
	}, appLogger)
	if err != nil {
		appLogger.Fatalf("Failed to build simulator: %v", err)
	}

	// Start server in a goroutine
	go func() {
		appLogger.Infof("Tracker simulator serving ws://localhost:%s/ws/landmarks", *port)
		if err := app.Listen(":" + *port); err != nil {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Infof("Shutting down simulator...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}

	appLogger.Infof("Simulator exited properly")
}
