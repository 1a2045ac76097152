package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/envdash/internal/dashboard"
	"github.com/afroash/envdash/internal/models"
	"github.com/afroash/envdash/internal/poller"
)

// MockDashboard is a WebSocket server speaking the dashboard protocol
type MockDashboard struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	connections []*websocket.Conn
	received    []models.CommandMessage
	accepts     int
	reject      bool
}

func NewMockDashboard() *MockDashboard {
	mock := &MockDashboard{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handleWebSocket))
	return mock
}

func (m *MockDashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	reject := m.reject
	m.mu.Unlock()
	if reject {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	m.mu.Lock()
	m.connections = append(m.connections, conn)
	m.accepts++
	m.mu.Unlock()

	snap := dashboard.Snapshot{
		Status:  poller.Status{State: poller.StatePolling, Text: "Connected", Tone: poller.ToneOK},
		Version: 7,
	}
	msg, _ := models.NewMessage(models.MessageTypeSnapshot, snap)
	conn.WriteJSON(msg)

	for {
		var in models.Message
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		var cmd models.CommandMessage
		in.UnmarshalPayload(&cmd)

		m.mu.Lock()
		m.received = append(m.received, cmd)
		m.mu.Unlock()

		var reply *models.Message
		if cmd.DeviceID == "ghost" {
			reply, _ = models.NewMessage(models.MessageTypeError, models.ErrorMessage{Code: "unknown_device", Message: "unknown device"})
		} else {
			reply, _ = models.NewMessage(models.MessageTypeAck, models.AckMessage{Action: cmd.Action, Status: "ok"})
		}
		conn.WriteJSON(reply)
	}
}

func (m *MockDashboard) URL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

// DropAll closes every server-side connection
func (m *MockDashboard) DropAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conn := range m.connections {
		conn.Close()
	}
	m.connections = nil
}

func (m *MockDashboard) Accepts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepts
}

func (m *MockDashboard) Received() []models.CommandMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CommandMessage(nil), m.received...)
}

func (m *MockDashboard) Close() {
	m.DropAll()
	m.server.Close()
}

func createTestConnection(url string) *Connection {
	config := ConnectionConfig{
		URL:                  url,
		ReconnectInterval:    50 * time.Millisecond,
		MaxReconnectInterval: 400 * time.Millisecond,
		PingInterval:         100 * time.Millisecond,
		PongTimeout:          time.Second,
	}
	return NewConnection(config, zerolog.Nop())
}

// collect records events delivered to the connection handler
func collect(c *Connection) <-chan Event {
	events := make(chan Event, 64)
	c.SetHandler(func(ev Event) {
		select {
		case events <- ev:
		default:
		}
	})
	return events
}

func waitFor(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

func isType(typ EventType) func(Event) bool {
	return func(ev Event) bool { return ev.Type == typ }
}

func isState(state ConnectionState) func(Event) bool {
	return func(ev Event) bool { return ev.Type == EventState && ev.State == state }
}

func runConnection(t *testing.T, c *Connection) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		c.Close()
		<-done
	})
}

func TestNewConnection(t *testing.T) {
	conn := createTestConnection("ws://127.0.0.1:1/ws")

	if conn.State() != StateDisconnected {
		t.Errorf("Initial state = %v, want %v", conn.State(), StateDisconnected)
	}
	if conn.IsConnected() {
		t.Error("IsConnected should be false initially")
	}
	if _, ok := conn.Latest(); ok {
		t.Error("Latest should be empty before any snapshot")
	}
}

func TestConnection_Connect_Success(t *testing.T) {
	server := NewMockDashboard()
	defer server.Close()

	conn := createTestConnection(server.URL())
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	if !conn.IsConnected() {
		t.Error("Should be connected after Connect")
	}
}

func TestConnection_Connect_Failure(t *testing.T) {
	server := NewMockDashboard()
	defer server.Close()
	server.mu.Lock()
	server.reject = true
	server.mu.Unlock()

	conn := createTestConnection(server.URL())
	if err := conn.Connect(context.Background()); err == nil {
		t.Error("Connect should fail when the server refuses the upgrade")
	}
	if conn.State() != StateDisconnected {
		t.Errorf("State = %v, want disconnected", conn.State())
	}

	bad := createTestConnection("not-a-url")
	if err := bad.Connect(context.Background()); err == nil {
		t.Error("Connect should fail for an invalid URL")
	}
}

func TestConnection_Send_WhenDisconnected(t *testing.T) {
	conn := createTestConnection("ws://127.0.0.1:1/ws")
	if err := conn.Send(models.CommandMessage{Action: models.ActionRefresh}); err != ErrNotConnected {
		t.Errorf("Send error = %v, want ErrNotConnected", err)
	}
}

func TestConnection_ReceivesSnapshot(t *testing.T) {
	server := NewMockDashboard()
	defer server.Close()

	conn := createTestConnection(server.URL())
	events := collect(conn)
	runConnection(t, conn)

	ev := waitFor(t, events, isType(EventSnapshot))
	if ev.Snapshot.Version != 7 || ev.Snapshot.Status.Text != "Connected" {
		t.Errorf("snapshot = %+v", ev.Snapshot)
	}
	latest, ok := conn.Latest()
	if !ok || latest.Version != 7 {
		t.Errorf("Latest = %+v, %v", latest, ok)
	}
}

func TestConnection_CommandReplies(t *testing.T) {
	server := NewMockDashboard()
	defer server.Close()

	conn := createTestConnection(server.URL())
	events := collect(conn)
	runConnection(t, conn)
	waitFor(t, events, isType(EventSnapshot))

	if err := conn.Send(models.CommandMessage{Action: models.ActionWake, DeviceID: "home"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ack := waitFor(t, events, isType(EventAck))
	if ack.Ack.Action != models.ActionWake {
		t.Errorf("ack action = %q", ack.Ack.Action)
	}

	conn.Send(models.CommandMessage{Action: models.ActionCheck, DeviceID: "ghost"})
	e := waitFor(t, events, isType(EventError))
	if e.Error.Code != "unknown_device" {
		t.Errorf("error code = %q", e.Error.Code)
	}

	got := server.Received()
	if len(got) != 2 || got[0].DeviceID != "home" {
		t.Errorf("server received %+v", got)
	}
}

func TestConnection_Reconnect_AfterDrop(t *testing.T) {
	server := NewMockDashboard()
	defer server.Close()

	conn := createTestConnection(server.URL())
	events := collect(conn)
	runConnection(t, conn)
	waitFor(t, events, isState(StateConnected))

	server.DropAll()
	waitFor(t, events, isState(StateDisconnected))
	waitFor(t, events, isState(StateConnected))

	if n := server.Accepts(); n < 2 {
		t.Errorf("server accepted %d connections, want at least 2", n)
	}
}

func TestConnection_ExponentialBackoff(t *testing.T) {
	conn := createTestConnection("ws://127.0.0.1:1/ws")
	ctx := context.Background()

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 400 * time.Millisecond}
	for i, w := range want {
		conn.waitBeforeReconnect(ctx)
		if conn.currentReconnectInterval != w {
			t.Errorf("after wait %d interval = %v, want %v", i+1, conn.currentReconnectInterval, w)
		}
	}
}

func TestConnection_CloseGracefully(t *testing.T) {
	server := NewMockDashboard()
	defer server.Close()

	conn := createTestConnection(server.URL())
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if conn.IsConnected() {
		t.Error("Should be disconnected after Close")
	}
}

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{ConnectionState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
