package tracking

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/jewel-mirror/overlay/domain/jewelry"
	"github.com/jewel-mirror/overlay/domain/overlay"
	"github.com/jewel-mirror/overlay/pkg/config"
	customlog "github.com/jewel-mirror/overlay/pkg/log"
	"github.com/jewel-mirror/overlay/pkg/stream"
)

func testLogger(t *testing.T) customlog.Logger {
	t.Helper()
	logger, err := customlog.NewLogrusLogger("fatal", "")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}

// fakeConn serves its scripted messages, then blocks until closed.
type fakeConn struct {
	msgs   [][]byte
	idx    int
	closed chan struct{}
	once   sync.Once
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	if c.idx < len(c.msgs) {
		msg := c.msgs[c.idx]
		c.idx++
		return websocket.TextMessage, msg, nil
	}
	<-c.closed
	return 0, nil, errors.New("connection reset")
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func testEngine(t *testing.T) *overlay.Engine {
	t.Helper()
	e := overlay.NewEngine(overlay.Options{
		Logger:   testLogger(t),
		Selected: jewelry.Descriptor{ID: "silver-hoop", Scale: 1, FallbackColor: "#c0c0c0"},
	})
	e.Start()
	t.Cleanup(e.Stop)
	return e
}

func waitSnapshot(t *testing.T, e *overlay.Engine, cond func(overlay.RenderState) bool) overlay.RenderState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := e.Snapshot()
		if cond(st) {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for engine state")
	return overlay.RenderState{}
}

func fastStreamConfig() config.StreamConfig {
	return config.StreamConfig{
		Endpoint:             "ws://tracker.local:8765/ws/landmarks",
		BaseReconnectDelayMs: 1,
		MaxReconnectDelayMs:  4,
		MaxReconnectAttempts: 2,
		HandshakeTimeoutMs:   50,
	}
}

func TestNewServiceRequiresEndpoint(t *testing.T) {
	cfg := fastStreamConfig()
	cfg.Endpoint = ""
	_, err := NewService(Options{Stream: cfg, Engine: testEngine(t), Logger: testLogger(t)})
	if !errors.Is(err, stream.ErrMissingEndpoint) {
		t.Fatalf("expected missing endpoint error, got %v", err)
	}
}

func TestServiceStreamsFramesIntoEngine(t *testing.T) {
	engine := testEngine(t)
	frame := []byte(`{"timestamp":1.5,"fps":30,"frame_count":45,"face_detected":true,` +
		`"landmarks":{"left_ear":{"x":0.3,"y":0.4,"z":0.1},"right_ear":{"x":0.7,"y":0.4,"z":0.1}}}`)

	dialer := func(endpoint string, _ time.Duration) (stream.Conn, error) {
		return &fakeConn{msgs: [][]byte{frame}, closed: make(chan struct{})}, nil
	}

	svc, err := NewService(Options{
		Stream: fastStreamConfig(),
		Engine: engine,
		Logger: testLogger(t),
		Dialer: dialer,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("failed to start service: %v", err)
	}
	defer svc.Stop()

	st := waitSnapshot(t, engine, func(st overlay.RenderState) bool {
		return st.Visible && st.Status.Connected
	})
	if st.Timestamp != 1.5 {
		t.Errorf("expected frame timestamp 1.5, got %v", st.Timestamp)
	}
	if len(st.Poses) != 2 {
		t.Errorf("expected poses for both ears, got %d", len(st.Poses))
	}

	stats := svc.Stats()
	if stats.FramesReceived != 1 {
		t.Errorf("expected 1 received frame, got %d", stats.FramesReceived)
	}
	if stats.State != stream.StateConnected {
		t.Errorf("expected connected client, got %v", stats.State)
	}
}

func TestServiceReconnectLifecycle(t *testing.T) {
	engine := testEngine(t)
	frame := []byte(`{"timestamp":2,"face_detected":true,` +
		`"landmarks":{"left_ear":{"x":0.3,"y":0.4,"z":0.1},"right_ear":{"x":0.7,"y":0.4,"z":0.1}}}`)

	var failing atomic.Bool
	conns := make(chan *fakeConn, 8)
	dialer := func(endpoint string, _ time.Duration) (stream.Conn, error) {
		if failing.Load() {
			return nil, errors.New("connection refused")
		}
		c := &fakeConn{msgs: [][]byte{frame}, closed: make(chan struct{})}
		conns <- c
		return c, nil
	}

	svc, err := NewService(Options{
		Stream: fastStreamConfig(),
		Engine: engine,
		Logger: testLogger(t),
		Dialer: dialer,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("failed to start service: %v", err)
	}
	defer svc.Stop()

	waitSnapshot(t, engine, func(st overlay.RenderState) bool {
		return st.Visible && st.Status.Connected
	})

	// Drop the live connection and refuse every redial until the budget
	// runs out.
	failing.Store(true)
	(<-conns).Close()

	st := waitSnapshot(t, engine, func(st overlay.RenderState) bool {
		return st.Status.ConnectionState == "failed"
	})
	if !st.Visible {
		t.Errorf("expected overlay held through stream failure")
	}
	if svc.Stats().State != stream.StateFailed {
		t.Errorf("expected failed client state, got %v", svc.Stats().State)
	}
	if msg, at := svc.LastError(); msg == "" || at.IsZero() {
		t.Errorf("expected last stream error recorded, got %q at %v", msg, at)
	}

	// A manual reconnect starts a fresh retry budget.
	failing.Store(false)
	if err := svc.Reconnect(); err != nil {
		t.Fatalf("manual reconnect failed: %v", err)
	}
	waitSnapshot(t, engine, func(st overlay.RenderState) bool {
		return st.Status.Connected && st.Status.ConnectionState == "connected"
	})
}
