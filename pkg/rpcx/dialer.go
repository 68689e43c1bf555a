package rpcx

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/walletmesh/router/pkg/log"
)

// WalletDialer is the router's client-side connection to one wallet (§4.1,
// §6.2): a duplex transport with automatic reconnect, request/response
// correlation by id, and an event channel for wallet-initiated
// notifications. Structurally this is the teacher's WebsocketDialer,
// generalized from the signed Request/Response envelope to plain
// JSON-RPC 2.0 frames.
type WalletDialer struct {
	cfg WalletDialerConfig

	mu       sync.RWMutex
	conn     *websocket.Conn
	connCtx  context.Context
	cancel   context.CancelFunc
	sinks    map[string]chan *Response
	eventCh  chan *Response
	writeMu  sync.Mutex
	nextID   int64
}

// WalletDialerConfig configures a WalletDialer.
type WalletDialerConfig struct {
	Logger log.Logger

	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	EventChanSize    int

	// Reconnect policy (spec §4.1): exponential backoff with jitter, capped
	// retries, and a per-attempt timeout that fails immediately rather than
	// being retried past.
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	AttemptTimeout  time.Duration
}

// DefaultWalletDialerConfig returns the defaults used when a config field is
// left zero.
func DefaultWalletDialerConfig() WalletDialerConfig {
	return WalletDialerConfig{
		HandshakeTimeout: 5 * time.Second,
		RequestTimeout:   30 * time.Second,
		EventChanSize:    100,
		MaxRetries:       5,
		InitialBackoff:   250 * time.Millisecond,
		MaxBackoff:       10 * time.Second,
		AttemptTimeout:   5 * time.Second,
	}
}

// NewWalletDialer creates a disconnected WalletDialer.
func NewWalletDialer(cfg WalletDialerConfig) *WalletDialer {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNoop()
	}
	def := DefaultWalletDialerConfig()
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.EventChanSize == 0 {
		cfg.EventChanSize = def.EventChanSize
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	return &WalletDialer{
		cfg:   cfg,
		sinks: make(map[string]chan *Response),
	}
}

// IsConnected reports whether the dialer currently holds a live connection.
func (d *WalletDialer) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.conn != nil && d.connCtx.Err() == nil
}

// Connect dials url, retrying with exponential backoff up to MaxRetries
// non-timeout failures (spec §4.1). Returns ErrAlreadyConnected if already
// connected, ErrTimeout if the last attempt specifically timed out, or
// ErrConnectionFailed wrapping the last cause once retries are exhausted.
func (d *WalletDialer) Connect(ctx context.Context, url string) error {
	if d.IsConnected() {
		return ErrAlreadyConnected
	}

	backoff := d.cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		attemptCtx, cancel := contextWithDeadline(ctx, d.cfg.AttemptTimeout)
		conn, _, err := (&websocket.Dialer{
			HandshakeTimeout:  d.cfg.HandshakeTimeout,
			EnableCompression: true,
		}).DialContext(attemptCtx, url, nil)
		cancel()

		if err == nil {
			d.bind(ctx, conn)
			return nil
		}

		if attemptCtx.Err() != nil {
			return ErrTimeout
		}
		lastErr = err
		if attempt == d.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(backoff)):
		}
		backoff *= 2
		if backoff > d.cfg.MaxBackoff {
			backoff = d.cfg.MaxBackoff
		}
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailed, lastErr)
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
}

func (d *WalletDialer) bind(parentCtx context.Context, conn *websocket.Conn) {
	childCtx, cancel := context.WithCancel(parentCtx)

	d.mu.Lock()
	d.conn = conn
	d.connCtx = childCtx
	d.cancel = cancel
	d.eventCh = make(chan *Response, d.cfg.EventChanSize)
	d.mu.Unlock()

	go d.readLoop(childCtx, conn)
}

func (d *WalletDialer) readLoop(ctx context.Context, conn *websocket.Conn) {
	logger := d.cfg.Logger.NewSystem("wallet-dialer")
	defer d.teardown()

	for {
		_, data, err := conn.ReadMessage()
		if ctx.Err() != nil {
			return
		}
		if ne, ok := err.(net.Error); ok {
			logger.Error("read timeout", "error", ne)
			return
		}
		if err != nil {
			logger.Debug("connection closed", "error", err)
			return
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			logger.Warn("malformed wallet message", "error", err)
			continue
		}

		key := resp.ID.String()
		d.mu.RLock()
		sink, ok := d.sinks[key]
		evCh := d.eventCh
		d.mu.RUnlock()

		if !ok {
			select {
			case evCh <- &resp:
			default:
				logger.Warn("event channel full, dropping message")
			}
			continue
		}
		select {
		case sink <- &resp:
		default:
			logger.Warn("response sink full, dropping message", "id", key)
		}
	}
}

func (d *WalletDialer) teardown() {
	d.mu.Lock()
	for _, sink := range d.sinks {
		close(sink)
	}
	d.sinks = make(map[string]chan *Response)
	conn := d.conn
	d.conn = nil
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Disconnect closes the connection, terminating all outstanding requests
// with ErrDisconnected (spec §4.1).
func (d *WalletDialer) Disconnect() error {
	d.mu.RLock()
	conn := d.conn
	d.mu.RUnlock()
	if conn == nil {
		return nil
	}
	d.teardown()
	return nil
}

// nextRequestID returns a process-unique numeric id for this dialer's
// lifetime (spec §4.2: "monotonic integer or UUID; uniqueness within one
// client lifetime").
func (d *WalletDialer) nextRequestID() *RequestID {
	return NewNumberID(float64(atomic.AddInt64(&d.nextID, 1)))
}

// Call sends method/params to the wallet and waits for its response, or for
// ctx/RequestTimeout/disconnection, whichever comes first.
func (d *WalletDialer) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	d.mu.Lock()
	if d.conn == nil || d.connCtx.Err() != nil {
		d.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := d.conn
	connCtx := d.connCtx
	id := d.nextRequestID()
	sink := make(chan *Response, 1)
	d.sinks[id.String()] = sink
	d.mu.Unlock()

	var raw json.RawMessage
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			d.dropSink(id.String())
			return nil, fmt.Errorf("marshal params: %w", err)
		}
	}
	req := Request{JSONRPC: Version, ID: id, Method: method, Params: raw}
	data, err := json.Marshal(req)
	if err != nil {
		d.dropSink(id.String())
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if d.cfg.RequestTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, d.cfg.RequestTimeout)
		defer cancel()
	}

	d.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	d.writeMu.Unlock()
	if err != nil {
		d.dropSink(id.String())
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	select {
	case <-reqCtx.Done():
		d.dropSink(id.String())
		if ctx.Err() == nil {
			return nil, ErrTimeout
		}
		return nil, reqCtx.Err()
	case <-connCtx.Done():
		return nil, ErrDisconnected
	case resp, ok := <-sink:
		if !ok {
			return nil, ErrDisconnected
		}
		return resp, nil
	}
}

func (d *WalletDialer) dropSink(id string) {
	d.mu.Lock()
	delete(d.sinks, id)
	d.mu.Unlock()
}

// EventCh returns the channel of unsolicited wallet notifications (events
// not matching any pending request id). It is recreated on each successful
// Connect; callers should re-fetch it after reconnecting.
func (d *WalletDialer) EventCh() <-chan *Response {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.eventCh
}
