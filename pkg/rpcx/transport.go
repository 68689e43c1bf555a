package rpcx

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/walletmesh/router/pkg/log"
)

// Sentinel transport errors (spec §4.1).
var (
	ErrAlreadyConnected = errors.New("rpcx: already connected")
	ErrNotConnected     = errors.New("rpcx: not connected")
	ErrSendFailed       = errors.New("rpcx: send failed")
	ErrDisconnected     = errors.New("rpcx: disconnected")
	ErrConnectionFailed = errors.New("rpcx: connection failed")
	ErrTimeout          = errors.New("rpcx: timeout")
)

// MessageHandler is invoked, in arrival order, for every inbound frame on a
// connection. Implementations must not block for long; the transport calls
// it synchronously from the connection's read loop.
type MessageHandler func(connID string, frame []byte)

// WebsocketTransportConfig configures the dApp-facing listener side of the
// transport (spec §4.1), mirroring the teacher's WebsocketNodeConfig minus
// the signing-specific fields.
type WebsocketTransportConfig struct {
	Logger log.Logger

	OnConnect    func(connID, origin string)
	OnDisconnect func(connID string)

	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool

	WriteTimeout time.Duration
}

// DefaultWebsocketTransportConfig returns sane defaults; CheckOrigin must be
// overridden by callers that need to enforce origin allow-lists (the router
// does this itself via the Origin Validator, §4.5, so the transport layer
// stays permissive by default).
func DefaultWebsocketTransportConfig() WebsocketTransportConfig {
	return WebsocketTransportConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteTimeout:    5 * time.Second,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
}

// WebsocketTransport implements the dApp-facing side of §4.1: it accepts
// WebSocket upgrades, assigns each connection an id, and feeds inbound
// frames to a MessageHandler. It is the structural analogue of the
// teacher's WebsocketNode/ConnectionHub pair, generalized to carry plain
// JSON-RPC frames instead of signed payloads.
type WebsocketTransport struct {
	cfg      WebsocketTransportConfig
	upgrader websocket.Upgrader
	logger   log.Logger
	onFrame  MessageHandler

	mu    sync.RWMutex
	conns map[string]*wsConn
}

type wsConn struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

var _ http.Handler = (*WebsocketTransport)(nil)

// NewWebsocketTransport creates a transport that dispatches inbound frames
// to onFrame. Call ServeHTTP (directly or via an http.Server) to accept
// connections.
func NewWebsocketTransport(cfg WebsocketTransportConfig, onFrame MessageHandler) *WebsocketTransport {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNoop()
	}
	if cfg.OnConnect == nil {
		cfg.OnConnect = func(string, string) {}
	}
	if cfg.OnDisconnect == nil {
		cfg.OnDisconnect = func(string) {}
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWebsocketTransportConfig().WriteTimeout
	}
	return &WebsocketTransport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		logger:  cfg.Logger.NewSystem("rpcx-transport"),
		onFrame: onFrame,
		conns:   make(map[string]*wsConn),
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and blocks,
// reading frames until the connection closes.
func (t *WebsocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Error("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	wc := &wsConn{id: id, conn: conn}

	t.mu.Lock()
	t.conns[id] = wc
	t.mu.Unlock()

	t.cfg.OnConnect(id, r.Header.Get("Origin"))
	defer func() {
		t.mu.Lock()
		delete(t.conns, id)
		t.mu.Unlock()
		t.cfg.OnDisconnect(id)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.logger.Debug("connection closed", "connID", id, "error", err)
			return
		}
		t.onFrame(id, data)
	}
}

// Send writes frame to the given connection. It never blocks indefinitely:
// writes are bounded by the configured WriteTimeout.
func (t *WebsocketTransport) Send(connID string, frame []byte) error {
	t.mu.RLock()
	wc, ok := t.conns[connID]
	t.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}

	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	if t.cfg.WriteTimeout > 0 {
		_ = wc.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	if err := wc.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	return nil
}

// Disconnect closes a connection by id, idempotently.
func (t *WebsocketTransport) Disconnect(connID string) error {
	t.mu.Lock()
	wc, ok := t.conns[connID]
	delete(t.conns, connID)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return wc.conn.Close()
}

// Broadcast writes frame to every live connection, skipping ones that fail.
func (t *WebsocketTransport) Broadcast(frame []byte) {
	t.mu.RLock()
	ids := make([]string, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	for _, id := range ids {
		if err := t.Send(id, frame); err != nil {
			t.logger.Debug("broadcast send failed", "connID", id, "error", err)
		}
	}
}

// contextWithDeadline bounds ctx by timeout when timeout > 0.
func contextWithDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
