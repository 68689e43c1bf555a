package rpcx

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/walletmesh/router/pkg/log"
)

const (
	groupHandlerPrefix = "group."
	groupRoot          = "root"

	// PingMethod is the built-in liveness-check method (SPEC_FULL C.1):
	// a session can probe that its connection and the router are alive
	// without touching session/permission/rate-limit state.
	PingMethod = "wm_ping"
	pongMethod = "wm_pong"
)

// Engine is a transport-agnostic JSON-RPC 2.0 request router. It owns the
// method registry and middleware chains; a Transport feeds it raw inbound
// bytes and writes back whatever Dispatch returns. This separation mirrors
// the teacher's WebsocketNode, with the wire-signing concern removed (the
// spec's wire format carries no per-message signature) and the transport
// concern split into its own type so the same engine can sit behind a
// WebsocketTransport or any future one.
type Engine struct {
	mu           sync.RWMutex
	groupID      string
	handlerChain map[string][]Handler
	routes       map[string][]string
	logger       log.Logger
}

// NewEngine creates an Engine with the built-in ping handler registered.
func NewEngine(logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNoop()
	}
	e := &Engine{
		groupID:      groupHandlerPrefix + groupRoot,
		handlerChain: make(map[string][]Handler),
		routes:       make(map[string][]string),
		logger:       logger.NewSystem("rpcx"),
	}
	e.Handle(PingMethod, func(ctx *HandlerContext) {
		ctx.Next()
		ctx.Succeed(map[string]string{"method": pongMethod})
	})
	return e
}

// Handle registers handler for method at the root group, after any global
// middleware registered with Use.
func (e *Engine) Handle(method string, handler Handler) {
	e.setHandler(method, handler)
	e.mu.Lock()
	e.routes[method] = []string{e.groupID, method}
	e.mu.Unlock()
}

func (e *Engine) setHandler(method string, handler Handler) {
	if method == "" {
		panic("rpcx: method cannot be empty")
	}
	if handler == nil {
		panic(fmt.Sprintf("rpcx: handler cannot be nil for method %s", method))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlerChain[method] = []Handler{handler}
}

// Use adds global middleware executed before every handler, in registration
// order. Typical use: session validation, rate limiting, permission checks,
// the router core's gate chain (spec §4.10).
func (e *Engine) Use(middleware Handler) {
	e.use(e.groupID, middleware)
}

func (e *Engine) use(groupID string, middleware Handler) {
	if middleware == nil {
		panic("rpcx: middleware cannot be nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlerChain[groupID] = append(e.handlerChain[groupID], middleware)
}

// Group is a named, nestable collection of handlers sharing middleware, for
// organizing router methods (e.g. a "wallet" group for wm_* dispatch
// methods distinct from session/permission methods).
type Group struct {
	groupID     string
	routePrefix []string
	root        *Engine
}

// NewGroup creates a handler group under the engine's root.
func (e *Engine) NewGroup(name string) *Group {
	return &Group{
		groupID:     groupHandlerPrefix + name,
		routePrefix: []string{e.groupID},
		root:        e,
	}
}

// NewGroup creates a nested group, inheriting the parent's middleware chain.
func (g *Group) NewGroup(name string) *Group {
	return &Group{
		groupID:     fmt.Sprintf("%s.%s", g.groupID, name),
		routePrefix: append(append([]string{}, g.routePrefix...), g.groupID),
		root:        g.root,
	}
}

// Handle registers handler for method within this group.
func (g *Group) Handle(method string, handler Handler) {
	g.root.mu.Lock()
	g.root.routes[method] = append(append([]string{}, g.routePrefix...), g.groupID, method)
	g.root.mu.Unlock()
	g.root.setHandler(method, handler)
}

// Use adds middleware to this group.
func (g *Group) Use(middleware Handler) {
	g.root.use(g.groupID, middleware)
}

// Dispatch unmarshals raw as a Request, routes it through the registered
// middleware/handler chain, and returns the Response to write back. It
// returns (nil, nil) for notifications, which expect no reply.
func (e *Engine) Dispatch(ctx context.Context, connID string, raw []byte) (*Response, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(nil, ErrInvalidRequest("malformed JSON-RPC message")), nil
	}
	if req.JSONRPC != "" && req.JSONRPC != Version {
		return NewErrorResponse(req.ID, ErrInvalidRequest("unsupported jsonrpc version")), nil
	}
	if req.Method == "" {
		return NewErrorResponse(req.ID, ErrInvalidRequest("method is required")), nil
	}

	e.mu.RLock()
	route, ok := e.routes[req.Method]
	var handlers []Handler
	if ok {
		for _, id := range route {
			handlers = append(handlers, e.handlerChain[id]...)
		}
	}
	e.mu.RUnlock()

	if len(handlers) == 0 {
		e.logger.Debug("no handler registered", "method", req.Method)
		return NewErrorResponse(req.ID, ErrMethodNotSupported(req.Method)), nil
	}

	hctx := newHandlerContext(ctx, connID, &req, handlers)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				e.logger.Error("handler panicked", "method", req.Method, "panic", rec)
				hctx.Fail(ErrUnknown())
			}
		}()
		hctx.Next()
	}()

	resp, err := hctx.Response()
	if err != nil {
		return NewErrorResponse(req.ID, ErrUnknown()), nil
	}
	return resp, nil
}
