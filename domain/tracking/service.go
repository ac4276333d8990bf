// Package tracking connects the landmark stream client to the overlay
// engine and keeps the connection alive across tracker restarts.
package tracking

import (
	"fmt"
	"sync"
	"time"

	"github.com/jewel-mirror/overlay/domain/overlay"
	"github.com/jewel-mirror/overlay/pkg/config"
	customlog "github.com/jewel-mirror/overlay/pkg/log"
	"github.com/jewel-mirror/overlay/pkg/metrics"
	"github.com/jewel-mirror/overlay/pkg/stream"
)

// Options configures the tracking service. Logger and Engine must be set.
type Options struct {
	Stream  config.StreamConfig
	Engine  *overlay.Engine
	Logger  customlog.Logger
	Metrics *metrics.Metrics
	// Dialer overrides websocket dialing. Nil selects the default.
	Dialer stream.Dialer
}

// Service owns the landmark stream client and forwards everything it emits
// to the overlay engine.
type Service struct {
	logger  customlog.Logger
	metrics *metrics.Metrics
	engine  *overlay.Engine
	client  *stream.Client

	mu          sync.Mutex
	lastError   string
	lastErrorAt time.Time
}

// NewService builds the stream client from the bootstrap stream section and
// registers the engine-facing handlers.
func NewService(opts Options) (*Service, error) {
	client, err := stream.NewClient(stream.Options{
		Endpoint:             opts.Stream.Endpoint,
		BaseReconnectDelay:   time.Duration(opts.Stream.BaseReconnectDelayMs) * time.Millisecond,
		MaxReconnectDelay:    time.Duration(opts.Stream.MaxReconnectDelayMs) * time.Millisecond,
		MaxReconnectAttempts: opts.Stream.MaxReconnectAttempts,
		HandshakeTimeout:     time.Duration(opts.Stream.HandshakeTimeoutMs) * time.Millisecond,
		Dialer:               opts.Dialer,
		Logger:               opts.Logger,
		Metrics:              opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create landmark stream client: %w", err)
	}

	s := &Service{
		logger:  opts.Logger,
		metrics: opts.Metrics,
		engine:  opts.Engine,
		client:  client,
	}

	client.OnConnected(func(connected bool) {
		if s.metrics != nil {
			s.metrics.SetStreamConnected(connected)
		}
		s.engine.HandleConnected(connected)
	})
	client.OnFrame(s.engine.HandleFrame)
	client.OnError(s.recordError)
	client.OnRetriesExhausted(func() {
		s.logger.Errorf("Landmark stream reconnect budget exhausted; manual reconnect required")
		s.engine.HandleRetriesExhausted()
	})
	return s, nil
}

// Start opens the stream connection. The client keeps itself alive from here
// until Stop or until the reconnect budget runs out.
func (s *Service) Start() error {
	s.logger.Infof("Starting landmark tracking service")
	return s.client.Connect()
}

// Stop closes the stream connection. Render state is left untouched so the
// overlay keeps showing its last pose.
func (s *Service) Stop() {
	s.logger.Infof("Stopping landmark tracking service")
	s.client.Disconnect()
}

// Reconnect restarts a failed or stopped client with a fresh retry budget.
func (s *Service) Reconnect() error {
	s.logger.Infof("Manual stream reconnect requested")
	return s.client.Connect()
}

// Stats exposes the stream client counters.
func (s *Service) Stats() stream.Stats {
	return s.client.Stats()
}

// LastError returns the most recent stream error and when it happened.
func (s *Service) LastError() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError, s.lastErrorAt
}

func (s *Service) recordError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.lastErrorAt = time.Now()
	s.mu.Unlock()
}
