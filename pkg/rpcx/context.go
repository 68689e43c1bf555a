package rpcx

import (
	"context"
	"encoding/json"

	"github.com/walletmesh/router/pkg/log"
)

// Handler processes one request within a handler chain. It must call
// ctx.Next() to invoke the next handler (middleware pattern), and must
// eventually call either ctx.Succeed or ctx.Fail exactly once for
// non-notification requests.
type Handler func(ctx *HandlerContext)

// HandlerContext carries one request through its middleware chain and
// accumulates the eventual response. It mirrors the teacher's rpc.Context,
// generalized away from per-message signing.
type HandlerContext struct {
	context.Context

	// ConnID identifies the originating transport connection.
	ConnID string
	// SessionID is set once a session-validating middleware has run; empty
	// until then.
	SessionID string

	Request *Request

	handlers []Handler
	index    int

	result json.RawMessage
	err    *Error
	done   bool
}

// newHandlerContext builds a HandlerContext ready to run the given chain.
func newHandlerContext(parent context.Context, connID string, req *Request, handlers []Handler) *HandlerContext {
	return &HandlerContext{
		Context:  parent,
		ConnID:   connID,
		Request:  req,
		handlers: handlers,
	}
}

// Next invokes the next handler in the chain, if any remain. Handlers call
// this to implement "call the inner handler, then do more work" middleware.
func (c *HandlerContext) Next() {
	if c.index >= len(c.handlers) {
		return
	}
	h := c.handlers[c.index]
	c.index++
	h(c)
}

// Succeed terminates the chain with a successful result. Calling it more
// than once, or after Fail, is a programming error and is ignored past the
// first call so a buggy handler cannot corrupt an already-sent response.
func (c *HandlerContext) Succeed(result interface{}) {
	if c.done {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		c.Fail(ErrUnknown())
		return
	}
	c.result = raw
	c.done = true
}

// Fail terminates the chain with a JSON-RPC error.
func (c *HandlerContext) Fail(err *Error) {
	if c.done {
		return
	}
	c.err = err
	c.done = true
}

// Done reports whether Succeed or Fail has been called.
func (c *HandlerContext) Done() bool { return c.done }

// Response renders the terminal Response for this context. For a
// notification (no id) it returns nil, nil: there is nothing to send.
func (c *HandlerContext) Response() (*Response, error) {
	if c.Request.IsNotification() {
		return nil, nil
	}
	if c.err != nil {
		return NewErrorResponse(c.Request.ID, c.err), nil
	}
	if !c.done {
		return NewErrorResponse(c.Request.ID, ErrUnknown()), nil
	}
	return &Response{JSONRPC: Version, ID: c.Request.ID, Result: c.result}, nil
}

// Logger returns the logger attached to this context, falling back to a
// noop logger.
func (c *HandlerContext) Logger() log.Logger {
	return log.LoggerFromContext(c.Context)
}

// BindParams unmarshals the request params into v.
func (c *HandlerContext) BindParams(v interface{}) error {
	if len(c.Request.Params) == 0 {
		return nil
	}
	return json.Unmarshal(c.Request.Params, v)
}
