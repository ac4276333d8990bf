// Package stream maintains the WebSocket connection to the landmark tracking
// service. The Client dials the endpoint, decodes landmark frames, and
// reconnects with exponential backoff when the connection drops. Consumers
// register typed handlers for the fixed set of events the client emits.
package stream

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"

	customlog "github.com/jewel-mirror/overlay/pkg/log"
	"github.com/jewel-mirror/overlay/pkg/metrics"
	"github.com/jewel-mirror/overlay/pkg/track"
)

// Common errors
var (
	ErrMissingEndpoint = errors.New("stream client requires an endpoint")
)

// ConnectionState describes the client's connection lifecycle.
type ConnectionState int

const (
	// StateDisconnected means no connection exists and none is pending.
	StateDisconnected ConnectionState = iota
	// StateConnecting covers both the initial dial and backoff waits.
	StateConnecting
	// StateConnected means frames are flowing.
	StateConnected
	// StateFailed means the reconnect budget ran out. Only another Connect
	// call leaves this state.
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Handler types for the events the client emits. Handlers run on the
// client's internal goroutines and must not block.
type (
	// ConnectedHandler receives true when a connection opens and false
	// when an established connection closes for any reason other than an
	// explicit Disconnect.
	ConnectedHandler func(connected bool)
	// FrameHandler receives every successfully parsed landmark frame.
	// The frame must be treated as read-only.
	FrameHandler func(frame track.Frame)
	// ErrorHandler receives transport-level failures. These never imply
	// the client has given up; reconnects proceed independently.
	ErrorHandler func(err error)
	// ExhaustedHandler fires exactly once per Connect run, when the
	// reconnect budget is spent.
	ExhaustedHandler func()
)

// Conn is the subset of the websocket connection the client reads from.
// Tests substitute scripted connections.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer establishes a Conn to the landmark endpoint.
type Dialer func(endpoint string, handshakeTimeout time.Duration) (Conn, error)

func defaultDialer(endpoint string, handshakeTimeout time.Duration) (Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := d.Dial(endpoint, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Options configures a Client.
type Options struct {
	Endpoint             string
	BaseReconnectDelay   time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	HandshakeTimeout     time.Duration
	// Dialer overrides the websocket dialer. Nil selects the default.
	Dialer Dialer
	// Logger must be set. Metrics may be nil.
	Logger  customlog.Logger
	Metrics *metrics.Metrics
}

// Stats is a point-in-time snapshot of the client's counters.
type Stats struct {
	State             ConnectionState
	SessionID         string
	ReconnectAttempts int
	TotalReconnects   uint64
	FramesReceived    uint64
	FramesMalformed   uint64
	LastConnectedAt   time.Time
}

// Client maintains a persistent connection to the landmark stream. All
// methods are safe for concurrent use.
type Client struct {
	opts    Options
	logger  customlog.Logger
	dialer  Dialer
	metrics *metrics.Metrics

	mu         sync.Mutex
	state      ConnectionState
	conn       Conn
	generation uint64
	closed     bool
	attempts   int
	delay      time.Duration
	retryTimer *time.Timer
	exhausted  bool
	sessionID  string

	framesReceived  uint64
	framesMalformed uint64
	totalReconnects uint64
	lastConnectedAt time.Time

	connectedHandlers []ConnectedHandler
	frameHandlers     []FrameHandler
	errorHandlers     []ErrorHandler
	exhaustedHandlers []ExhaustedHandler
}

// NewClient creates a stream client for the given endpoint. The client does
// not connect until Connect is called.
func NewClient(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	if opts.BaseReconnectDelay <= 0 {
		opts.BaseReconnectDelay = 1000 * time.Millisecond
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = 30000 * time.Millisecond
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = defaultDialer
	}

	return &Client{
		opts:    opts,
		logger:  opts.Logger,
		dialer:  dialer,
		metrics: opts.Metrics,
		state:   StateDisconnected,
		delay:   opts.BaseReconnectDelay,
	}, nil
}

// OnConnected registers a handler for connection state changes.
func (c *Client) OnConnected(h ConnectedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectedHandlers = append(c.connectedHandlers, h)
}

// OnFrame registers a handler for parsed landmark frames.
func (c *Client) OnFrame(h FrameHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frameHandlers = append(c.frameHandlers, h)
}

// OnError registers a handler for transport errors.
func (c *Client) OnError(h ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorHandlers = append(c.errorHandlers, h)
}

// OnRetriesExhausted registers a handler for the end of the reconnect budget.
func (c *Client) OnRetriesExhausted(h ExhaustedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exhaustedHandlers = append(c.exhaustedHandlers, h)
}

// Connect starts a connection run. It returns immediately; the dial happens
// on a background goroutine. Calling Connect while a run is already active
// is a no-op. Calling it after the client gave up starts a fresh run with a
// reset reconnect budget.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.closed = false
	c.exhausted = false
	c.attempts = 0
	c.delay = c.opts.BaseReconnectDelay
	c.generation++
	gen := c.generation
	c.state = StateConnecting
	c.sessionID = uuid.NewString()[:8]
	sessionID := c.sessionID
	c.mu.Unlock()

	c.logger.Infof("Connecting to landmark stream %s (session %s)", c.opts.Endpoint, sessionID)
	go c.dial(gen)
	return nil
}

// Disconnect tears the connection down and cancels any pending reconnect.
// The attempt counter is pinned to its maximum so a close event still in
// flight cannot schedule another dial. No events are emitted for a close the
// caller asked for.
func (c *Client) Disconnect() {
	c.mu.Lock()
	alreadyDown := c.closed && c.conn == nil && c.retryTimer == nil
	if alreadyDown {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.attempts = c.opts.MaxReconnectAttempts
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if c.metrics != nil {
		c.metrics.SetStreamConnected(false)
	}
	c.logger.Infof("Landmark stream disconnect requested")
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		State:             c.state,
		SessionID:         c.sessionID,
		ReconnectAttempts: c.attempts,
		TotalReconnects:   c.totalReconnects,
		FramesReceived:    c.framesReceived,
		FramesMalformed:   c.framesMalformed,
		LastConnectedAt:   c.lastConnectedAt,
	}
}

// dial attempts to open the connection for the given run. A failed dial
// counts against the reconnect budget exactly like a dropped connection.
func (c *Client) dial(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.closed {
		c.mu.Unlock()
		return
	}
	endpoint := c.opts.Endpoint
	sessionID := c.sessionID
	c.mu.Unlock()

	conn, err := c.dialer(endpoint, c.opts.HandshakeTimeout)
	if err != nil {
		if c.metrics != nil {
			c.metrics.StreamErrors.Add(1)
		}
		c.logger.Warnf("Landmark stream dial failed: %v", err)
		c.emitError(fmt.Errorf("dial %s: %w", endpoint, err))
		c.connectionDown(gen)
		return
	}

	c.mu.Lock()
	if gen != c.generation || c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.delay = c.opts.BaseReconnectDelay
	c.exhausted = false
	c.lastConnectedAt = time.Now()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetStreamConnected(true)
	}
	c.logger.Infof("Connected to landmark stream %s (session %s)", endpoint, sessionID)
	c.emitConnected(true)
	go c.readLoop(gen, conn)
}

// readLoop pumps messages off the connection until it fails. Malformed
// payloads are logged and skipped; they never terminate the connection.
func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, perr := track.ParseFrame(data)
		if perr != nil {
			c.mu.Lock()
			c.framesMalformed++
			c.mu.Unlock()
			if c.metrics != nil {
				c.metrics.FramesMalformed.Add(1)
			}
			c.logger.Errorf("Skipping malformed landmark frame: %v", perr)
			continue
		}

		c.mu.Lock()
		c.framesReceived++
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.FramesReceived.Add(1)
		}
		c.emitFrame(frame)
	}
}

// handleClose reacts to the end of an established connection.
func (c *Client) handleClose(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	userClosed := c.closed
	c.state = StateDisconnected
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetStreamConnected(false)
	}
	if userClosed {
		c.logger.Infof("Landmark stream disconnected")
		return
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		if c.metrics != nil {
			c.metrics.StreamErrors.Add(1)
		}
		c.logger.Warnf("Landmark stream closed unexpectedly: %v", err)
		c.emitError(err)
	} else {
		c.logger.Infof("Landmark stream closed: %v", err)
	}
	c.emitConnected(false)
	c.connectionDown(gen)
}

// connectionDown schedules the next reconnect attempt, or announces that the
// budget ran out. The exhausted event fires at most once per run.
func (c *Client) connectionDown(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.closed {
		c.mu.Unlock()
		return
	}

	if c.attempts >= c.opts.MaxReconnectAttempts {
		fire := !c.exhausted
		c.exhausted = true
		c.state = StateFailed
		c.mu.Unlock()
		if fire {
			c.logger.Errorf("Landmark stream unreachable, giving up after %d reconnect attempts", c.opts.MaxReconnectAttempts)
			c.emitExhausted()
		}
		return
	}

	c.attempts++
	attempt := c.attempts
	wait := c.nextRetryDelayLocked()
	c.state = StateConnecting
	c.totalReconnects++
	c.retryTimer = time.AfterFunc(wait, func() { c.retry(gen) })
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ReconnectsScheduled.Add(1)
	}
	c.logger.Infof("Reconnecting to landmark stream in %s (attempt %d/%d)", wait, attempt, c.opts.MaxReconnectAttempts)
}

// nextRetryDelayLocked returns the wait before the next reconnect attempt
// and advances the backoff window. Must be called with c.mu held.
func (c *Client) nextRetryDelayLocked() time.Duration {
	wait := c.delay
	c.delay *= 2
	if c.delay > c.opts.MaxReconnectDelay {
		c.delay = c.opts.MaxReconnectDelay
	}
	return wait
}

func (c *Client) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.closed {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil
	c.mu.Unlock()
	c.dial(gen)
}

func (c *Client) emitConnected(connected bool) {
	c.mu.Lock()
	handlers := make([]ConnectedHandler, len(c.connectedHandlers))
	copy(handlers, c.connectedHandlers)
	c.mu.Unlock()
	for _, h := range handlers {
		h(connected)
	}
}

func (c *Client) emitFrame(frame track.Frame) {
	c.mu.Lock()
	handlers := make([]FrameHandler, len(c.frameHandlers))
	copy(handlers, c.frameHandlers)
	c.mu.Unlock()
	for _, h := range handlers {
		h(frame)
	}
}

func (c *Client) emitError(err error) {
	c.mu.Lock()
	handlers := make([]ErrorHandler, len(c.errorHandlers))
	copy(handlers, c.errorHandlers)
	c.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}

func (c *Client) emitExhausted() {
	c.mu.Lock()
	handlers := make([]ExhaustedHandler, len(c.exhaustedHandlers))
	copy(handlers, c.exhaustedHandlers)
	c.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}
