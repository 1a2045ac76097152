package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/envdash/internal/dashboard"
	"github.com/afroash/envdash/internal/models"
)

// ErrNotConnected is returned by Send while no connection is up
var ErrNotConnected = errors.New("not connected")

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// EventType says which field of an Event is set
type EventType int

const (
	EventState EventType = iota
	EventSnapshot
	EventAck
	EventError
)

// Event is something the dashboard connection observed
type Event struct {
	Type     EventType
	At       time.Time
	State    ConnectionState
	Snapshot dashboard.Snapshot
	Ack      models.AckMessage
	Error    models.ErrorMessage
}

// Connection keeps a WebSocket session to the dashboard open, reconnecting
// with exponential backoff, and reports snapshots and replies to a handler.
type Connection struct {
	URL string

	conn       *websocket.Conn
	state      ConnectionState
	stateMutex sync.RWMutex
	writeMutex sync.Mutex
	logger     zerolog.Logger

	handlerMutex sync.RWMutex
	handler      func(Event)

	latest      dashboard.Snapshot
	hasSnapshot bool

	reconnectInterval        time.Duration
	maxReconnectInterval     time.Duration
	currentReconnectInterval time.Duration
	pingInterval             time.Duration
	pongTimeout              time.Duration
	lastPong                 time.Time
	lastPongMutex            sync.RWMutex
}

// ConnectionConfig holds configuration for the connection
type ConnectionConfig struct {
	URL                  string
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
}

// DefaultConnectionConfig returns the settings dashtui uses
func DefaultConnectionConfig(url string) ConnectionConfig {
	return ConnectionConfig{
		URL:                  url,
		ReconnectInterval:    time.Second,
		MaxReconnectInterval: 30 * time.Second,
		PingInterval:         15 * time.Second,
		PongTimeout:          45 * time.Second,
	}
}

// NewConnection creates a new connection manager
func NewConnection(config ConnectionConfig, logger zerolog.Logger) *Connection {
	return &Connection{
		URL:                      config.URL,
		state:                    StateDisconnected,
		logger:                   logger,
		reconnectInterval:        config.ReconnectInterval,
		maxReconnectInterval:     config.MaxReconnectInterval,
		currentReconnectInterval: config.ReconnectInterval,
		pingInterval:             config.PingInterval,
		pongTimeout:              config.PongTimeout,
	}
}

// SetHandler registers the callback for connection events. It is called from
// the connection's goroutines, one event at a time.
func (c *Connection) SetHandler(fn func(Event)) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.handler = fn
}

func (c *Connection) emit(ev Event) {
	ev.At = time.Now()
	c.handlerMutex.RLock()
	fn := c.handler
	c.handlerMutex.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// setState safely updates the connection state
func (c *Connection) setState(state ConnectionState) {
	c.stateMutex.Lock()
	changed := c.state != state
	c.state = state
	c.stateMutex.Unlock()
	if changed {
		c.logger.Info().Str("state", state.String()).Msg("Connection state updated")
		c.emit(Event{Type: EventState, State: state})
	}
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.state
}

// IsConnected returns true if currently connected
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// Latest returns the most recent snapshot received, if any
func (c *Connection) Latest() (dashboard.Snapshot, bool) {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.latest, c.hasSnapshot
}

// Connect establishes a WebSocket connection to the dashboard
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	c.logger.Debug().Str("url", c.URL).Msg("Connecting to dashboard")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("dial failed: %w", err)
	}
	defer resp.Body.Close()

	conn.SetPongHandler(func(string) error {
		c.updateLastPong()
		return nil
	})

	c.stateMutex.Lock()
	c.conn = conn
	c.stateMutex.Unlock()
	c.currentReconnectInterval = c.reconnectInterval // reset backoff
	c.setState(StateConnected)
	return nil
}

// Run keeps the connection up until ctx is cancelled
func (c *Connection) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.Connect(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Connection failed")
			c.waitBeforeReconnect(ctx)
			continue
		}

		c.runMessageLoops(ctx)

		c.logger.Info().Msg("Connection lost, will reconnect")
		c.waitBeforeReconnect(ctx)
	}
}

// waitBeforeReconnect waits before next reconnection attempt with exponential backoff
func (c *Connection) waitBeforeReconnect(ctx context.Context) {
	c.logger.Debug().Dur("delay", c.currentReconnectInterval).Msg("Waiting before reconnect")
	select {
	case <-time.After(c.currentReconnectInterval):
	case <-ctx.Done():
		return
	}
	c.currentReconnectInterval *= 2
	if c.currentReconnectInterval > c.maxReconnectInterval {
		c.currentReconnectInterval = c.maxReconnectInterval
	}
}

// runMessageLoops runs read and heartbeat loops until the connection fails
func (c *Connection) runMessageLoops(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		c.readLoop()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeatLoop(ctx)
		// unblock the reader
		c.closeConn()
	}()

	wg.Wait()
	c.disconnect()
}

func (c *Connection) closeConn() {
	c.stateMutex.RLock()
	conn := c.conn
	c.stateMutex.RUnlock()
	if conn != nil {
		conn.Close()
	}
}

// disconnect closes the WebSocket connection
func (c *Connection) disconnect() {
	c.stateMutex.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.stateMutex.Unlock()
	c.setState(StateDisconnected)
}

// Send sends a command to the dashboard
func (c *Connection) Send(cmd models.CommandMessage) error {
	msg, err := models.NewMessage(models.MessageTypeCommand, cmd)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return c.sendMessage(msg)
}

// sendMessage sends a message over the WebSocket
func (c *Connection) sendMessage(msg *models.Message) error {
	c.stateMutex.RLock()
	conn := c.conn
	connected := c.state == StateConnected
	c.stateMutex.RUnlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

// readLoop reads messages from the dashboard until the connection fails
func (c *Connection) readLoop() {
	c.stateMutex.RLock()
	conn := c.conn
	c.stateMutex.RUnlock()
	if conn == nil {
		return
	}

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.logger.Debug().Err(err).Msg("Read error")
			return
		}
		c.updateLastPong()
		c.handleMessage(&msg)
	}
}

// handleMessage processes a message received from the dashboard
func (c *Connection) handleMessage(msg *models.Message) {
	switch msg.Type {
	case models.MessageTypeSnapshot:
		var snap dashboard.Snapshot
		if err := msg.UnmarshalPayload(&snap); err != nil {
			c.logger.Warn().Err(err).Msg("Malformed snapshot")
			return
		}
		c.stateMutex.Lock()
		c.latest = snap
		c.hasSnapshot = true
		c.stateMutex.Unlock()
		c.emit(Event{Type: EventSnapshot, Snapshot: snap})
	case models.MessageTypeAck:
		var ack models.AckMessage
		if err := msg.UnmarshalPayload(&ack); err == nil {
			c.emit(Event{Type: EventAck, Ack: ack})
		}
	case models.MessageTypeError:
		var errMsg models.ErrorMessage
		if err := msg.UnmarshalPayload(&errMsg); err == nil {
			c.logger.Warn().Str("code", errMsg.Code).Str("msg", errMsg.Message).Msg("Dashboard error")
			c.emit(Event{Type: EventError, Error: errMsg})
		}
	default:
		c.logger.Debug().Str("type", string(msg.Type)).Msg("Unknown message type")
	}
}

// updateLastPong records that the dashboard is alive
func (c *Connection) updateLastPong() {
	c.lastPongMutex.Lock()
	defer c.lastPongMutex.Unlock()
	c.lastPong = time.Now()
}

// timeSinceLastPong returns duration since last pong
func (c *Connection) timeSinceLastPong() time.Duration {
	c.lastPongMutex.RLock()
	defer c.lastPongMutex.RUnlock()
	return time.Since(c.lastPong)
}

// heartbeatLoop sends periodic pings and monitors connection health
func (c *Connection) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	c.updateLastPong()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.sendPing(); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to send ping")
				return
			}
			if c.timeSinceLastPong() > c.pongTimeout {
				c.logger.Warn().Msg("No pong received, connection appears dead")
				return
			}
		}
	}
}

func (c *Connection) sendPing() error {
	c.stateMutex.RLock()
	conn := c.conn
	c.stateMutex.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

// Close sends a close frame and drops the connection. Run reconnects unless
// its context is cancelled as well.
func (c *Connection) Close() error {
	c.stateMutex.RLock()
	conn := c.conn
	c.stateMutex.RUnlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	c.setState(StateDisconnected)
	return nil
}
