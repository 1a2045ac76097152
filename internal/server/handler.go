package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/envdash/internal/dashboard"
	"github.com/afroash/envdash/internal/models"
)

// Constants for WebSocket timeouts
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Handler pushes dashboard snapshots to WebSocket clients and accepts
// commands from them
type Handler struct {
	upgrader       websocket.Upgrader
	dash           Dashboard
	metrics        *Metrics
	logger         zerolog.Logger
	allowedOrigins []string

	mutex   sync.RWMutex
	clients map[string]*ClientConnection
}

// ClientInfo describes an active dashboard client
type ClientInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// ClientConnection is one upgraded connection. Writes are serialized by
// writeMu; gorilla connections allow one concurrent writer.
type ClientConnection struct {
	ClientInfo

	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewHandler creates a new WebSocket handler
func NewHandler(dash Dashboard, metrics *Metrics, logger zerolog.Logger, allowedOrigins ...string) *Handler {
	h := &Handler{
		dash:           dash,
		metrics:        metrics,
		logger:         logger,
		allowedOrigins: allowedOrigins,
		clients:        make(map[string]*ClientConnection),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// checkOrigin validates the Origin header against the configured allowlist.
// Requests without an Origin header are same-origin.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	// the page served by this process
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP upgrades the request and serves the client until it disconnects
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	h.handleConnection(r.Context(), conn)
}

// handleConnection runs the write side on a goroutine and the read loop on
// the calling one
func (h *Handler) handleConnection(ctx context.Context, conn *websocket.Conn) {
	client := &ClientConnection{
		ClientInfo: ClientInfo{
			ID:          uuid.NewString(),
			RemoteAddr:  conn.RemoteAddr().String(),
			ConnectedAt: time.Now(),
			LastSeen:    time.Now(),
		},
		conn: conn,
	}
	h.addClient(client)
	defer h.removeClient(client.ID)
	defer conn.Close()

	snapshots, unsubscribe := h.dash.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(ctx, client, snapshots)
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.touch(client.ID)
		return nil
	})

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("client", client.ID).Msg("WebSocket error")
			}
			break
		}
		h.touch(client.ID)
		h.handleMessage(ctx, client, &msg)
	}

	cancel()
	wg.Wait()
}

// writeLoop forwards snapshots and keeps the connection alive with pings
func (h *Handler) writeLoop(ctx context.Context, client *ClientConnection, snapshots <-chan dashboard.Snapshot) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snapshots:
			if err := h.send(client, models.MessageTypeSnapshot, snap); err != nil {
				h.logger.Debug().Err(err).Str("client", client.ID).Msg("Snapshot write failed")
				client.conn.Close()
				return
			}
		case <-ticker.C:
			client.writeMu.Lock()
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := client.conn.WriteMessage(websocket.PingMessage, nil)
			client.writeMu.Unlock()
			if err != nil {
				client.conn.Close()
				return
			}
		}
	}
}

// handleMessage processes a single message from a client
func (h *Handler) handleMessage(ctx context.Context, client *ClientConnection, msg *models.Message) {
	h.logger.Debug().Str("type", string(msg.Type)).Str("client", client.ID).Msg("Received message")

	if msg.Type != models.MessageTypeCommand {
		h.sendError(client, "unsupported_type", "unsupported message type "+string(msg.Type))
		return
	}

	var cmd models.CommandMessage
	if err := msg.UnmarshalPayload(&cmd); err != nil {
		h.sendError(client, "bad_request", "malformed command payload")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	err := h.dash.Dispatch(ctx, cmd)
	h.metrics.CommandHandled(cmd.Action, err)
	if err != nil {
		_, code := errorStatus(err)
		h.sendError(client, code, err.Error())
		return
	}
	h.sendAck(client, cmd.Action)
}

// sendAck acknowledges an accepted command
func (h *Handler) sendAck(client *ClientConnection, action string) {
	if err := h.send(client, models.MessageTypeAck, models.AckMessage{Action: action, Status: "ok"}); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send ack")
	}
}

func (h *Handler) sendError(client *ClientConnection, code, message string) {
	if err := h.send(client, models.MessageTypeError, models.ErrorMessage{Code: code, Message: message}); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send error")
	}
}

func (h *Handler) send(client *ClientConnection, msgType models.MessageType, payload interface{}) error {
	msg, err := models.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return client.conn.WriteJSON(msg)
}

func (h *Handler) addClient(client *ClientConnection) {
	h.mutex.Lock()
	h.clients[client.ID] = client
	h.mutex.Unlock()
	h.metrics.clientConnected()
	h.logger.Info().Str("client", client.ID).Str("remote", client.RemoteAddr).Msg("Dashboard client connected")
}

func (h *Handler) touch(id string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if client, ok := h.clients[id]; ok {
		client.LastSeen = time.Now()
	}
}

// removeClient removes a client from the active clients map
func (h *Handler) removeClient(id string) {
	h.mutex.Lock()
	_, ok := h.clients[id]
	delete(h.clients, id)
	h.mutex.Unlock()
	if ok {
		h.metrics.clientDisconnected()
	}
	h.logger.Info().Str("client", id).Msg("Dashboard client disconnected")
}

// ActiveClients returns the currently connected clients
func (h *Handler) ActiveClients() []ClientInfo {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	clients := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c.ClientInfo)
	}
	return clients
}
