package rpcx_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletmesh/router/pkg/log"
	"github.com/walletmesh/router/pkg/rpcx"
)

func TestEngine_BuiltinPing(t *testing.T) {
	e := rpcx.NewEngine(log.NewNoop())
	frame := []byte(`{"jsonrpc":"2.0","id":1,"method":"wm_ping"}`)

	resp, err := e.Dispatch(context.Background(), "conn-1", frame)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Nil(t, resp.Error)
	var result map[string]string
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "wm_pong", result["method"])
}

func TestEngine_UnknownMethod(t *testing.T) {
	e := rpcx.NewEngine(log.NewNoop())
	frame := []byte(`{"jsonrpc":"2.0","id":"abc","method":"does_not_exist"}`)

	resp, err := e.Dispatch(context.Background(), "conn-1", frame)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpcx.CodeMethodNotSupported, resp.Error.Code)
}

func TestEngine_Notification_NoResponse(t *testing.T) {
	e := rpcx.NewEngine(log.NewNoop())
	e.Handle("wm_event", func(ctx *rpcx.HandlerContext) {
		ctx.Succeed(nil)
	})
	frame := []byte(`{"jsonrpc":"2.0","method":"wm_event"}`)

	resp, err := e.Dispatch(context.Background(), "conn-1", frame)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestEngine_MiddlewareChain(t *testing.T) {
	e := rpcx.NewEngine(log.NewNoop())
	var order []string
	e.Use(func(ctx *rpcx.HandlerContext) {
		order = append(order, "global")
		ctx.Next()
	})
	group := e.NewGroup("wallet")
	group.Use(func(ctx *rpcx.HandlerContext) {
		order = append(order, "group")
		ctx.Next()
	})
	group.Handle("wm_requestAccounts", func(ctx *rpcx.HandlerContext) {
		order = append(order, "handler")
		ctx.Succeed([]string{"0xabc"})
	})

	frame := []byte(`{"jsonrpc":"2.0","id":1,"method":"wm_requestAccounts"}`)
	resp, err := e.Dispatch(context.Background(), "conn-1", frame)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Nil(t, resp.Error)
	assert.Equal(t, []string{"global", "group", "handler"}, order)
}

func TestEngine_InvalidJSON(t *testing.T) {
	e := rpcx.NewEngine(log.NewNoop())
	resp, err := e.Dispatch(context.Background(), "conn-1", []byte(`not json`))
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpcx.CodeInvalidRequest, resp.Error.Code)
}

func TestRequestID_StringRoundTrip(t *testing.T) {
	num := rpcx.NewNumberID(42)
	str := rpcx.NewStringID("req-1")
	assert.Equal(t, "42", num.String())
	assert.Equal(t, "req-1", str.String())
}
