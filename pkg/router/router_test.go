package router_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmesh/router/pkg/origin"
	"github.com/walletmesh/router/pkg/ratelimit"
	"github.com/walletmesh/router/pkg/rpcx"
	"github.com/walletmesh/router/pkg/router"
)

type stubWallet struct {
	results map[string]json.RawMessage
	fail    map[string]error
	calls   []string
}

func (s *stubWallet) Call(_ context.Context, method string, _ json.RawMessage) (json.RawMessage, error) {
	s.calls = append(s.calls, method)
	if err, ok := s.fail[method]; ok {
		return nil, err
	}
	return s.results[method], nil
}

func (s *stubWallet) SupportedMethods(_ context.Context) ([]string, bool) { return nil, false }

func permissiveConfig() router.Config {
	cfg := router.DefaultConfig()
	cfg.Security.MaxConcurrentSessions = 0
	cfg.Origin = origin.Config{} // no HTTPS enforcement, accept everything
	cfg.RateLimit = ratelimit.Config{MaxRequests: 1000, Window: time.Minute, BurstSize: 1000}
	return cfg
}

func dispatch(t *testing.T, r *router.Router, connID string, id int, method string, params interface{}) *rpcx.Response {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  json.RawMessage(raw),
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := r.Engine().Dispatch(context.Background(), connID, body)
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func TestRouter_S1_SuccessfulCall(t *testing.T) {
	r := router.New(permissiveConfig())
	r.BindConnOrigin("c1", "https://dapp.example")
	r.Wallets().Register("eip155:1", &stubWallet{
		results: map[string]json.RawMessage{"eth_getBalance": json.RawMessage(`"0x10"`)},
	})

	connectResp := dispatch(t, r, "c1", 1, "wm_connect", map[string]interface{}{
		"permissions": map[string][]string{"eip155:1": {"eth_*"}},
	})
	require.Nil(t, connectResp.Error)
	var connected struct {
		SessionID   string              `json:"sessionId"`
		Permissions map[string][]string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(connectResp.Result, &connected))
	assert.NotEmpty(t, connected.SessionID)

	callResp := dispatch(t, r, "c1", 2, "wm_call", map[string]interface{}{
		"chainId":   "eip155:1",
		"sessionId": connected.SessionID,
		"call":      map[string]interface{}{"method": "eth_getBalance", "params": []interface{}{"0xabc", "latest"}},
	})
	require.Nil(t, callResp.Error)
	assert.JSONEq(t, `"0x10"`, string(callResp.Result))
}

func TestRouter_S2_PermissionDeny(t *testing.T) {
	r := router.New(permissiveConfig())
	r.BindConnOrigin("c1", "https://dapp.example")
	r.Wallets().Register("eip155:1", &stubWallet{})

	connectResp := dispatch(t, r, "c1", 1, "wm_connect", map[string]interface{}{
		"permissions": map[string][]string{"eip155:1": {"eth_getBalance"}},
	})
	var connected struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(connectResp.Result, &connected))

	callResp := dispatch(t, r, "c1", 2, "wm_call", map[string]interface{}{
		"chainId":   "eip155:1",
		"sessionId": connected.SessionID,
		"call":      map[string]interface{}{"method": "eth_sendTransaction"},
	})
	require.NotNil(t, callResp.Error)
	assert.Equal(t, rpcx.CodeInsufficientPermissions, callResp.Error.Code)
}

func TestRouter_S4_BulkPartialFailure(t *testing.T) {
	wallet := &stubWallet{
		results: map[string]json.RawMessage{"methodA": json.RawMessage(`"resultA"`)},
		fail:    map[string]error{"methodB": rpcx.NewError(-32003, "nope", nil)},
	}
	r := router.New(permissiveConfig())
	r.BindConnOrigin("c1", "https://dapp.example")
	r.Wallets().Register("eip155:1", wallet)

	connectResp := dispatch(t, r, "c1", 1, "wm_connect", map[string]interface{}{
		"permissions": map[string][]string{"eip155:1": {"*"}},
	})
	var connected struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(connectResp.Result, &connected))

	bulkResp := dispatch(t, r, "c1", 2, "wm_bulkCall", map[string]interface{}{
		"chainId":   "eip155:1",
		"sessionId": connected.SessionID,
		"calls": []map[string]interface{}{
			{"method": "methodA"},
			{"method": "methodB"},
			{"method": "methodC"},
		},
	})
	require.NotNil(t, bulkResp.Error)
	assert.Equal(t, rpcx.CodePartialFailure, bulkResp.Error.Code)
	assert.Equal(t, []string{"methodA", "methodB"}, wallet.calls) // methodC never observed
}

func TestRouter_S5_OriginMismatchOnReconnect(t *testing.T) {
	r := router.New(permissiveConfig())
	r.BindConnOrigin("c1", "https://a.example")
	r.BindConnOrigin("c2", "https://b.example")

	connectResp := dispatch(t, r, "c1", 1, "wm_connect", map[string]interface{}{
		"permissions": map[string][]string{"eip155:1": {"eth_*"}},
	})
	var connected struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(connectResp.Result, &connected))

	reconnectResp := dispatch(t, r, "c2", 2, "wm_reconnect", map[string]interface{}{
		"sessionId": connected.SessionID,
	})
	require.Nil(t, reconnectResp.Error)
	var result struct {
		Status      bool                `json:"status"`
		Permissions map[string][]string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(reconnectResp.Result, &result))
	assert.False(t, result.Status)
	assert.Empty(t, result.Permissions)
}

func TestRouter_S6_RateLimitWithBlock(t *testing.T) {
	cfg := router.DefaultConfig()
	cfg.Origin = origin.Config{}
	cfg.Security.MaxConcurrentSessions = 0
	cfg.RateLimit = ratelimit.Config{
		MaxRequests:           1,
		Window:                time.Second,
		BurstSize:             0,
		ViolationsBeforeBlock: 3,
		BlockDuration:         10 * time.Second,
		PenaltyMultiplier:     2,
	}
	r := router.New(cfg)
	r.BindConnOrigin("c1", "https://dapp.example")
	r.Wallets().Register("eip155:1", &stubWallet{results: map[string]json.RawMessage{
		"eth_getBalance": json.RawMessage(`"0x1"`),
	}})

	connectResp := dispatch(t, r, "c1", 1, "wm_connect", map[string]interface{}{
		"permissions": map[string][]string{"eip155:1": {"eth_*"}},
	})
	var connected struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(connectResp.Result, &connected))

	callParams := map[string]interface{}{
		"chainId":   "eip155:1",
		"sessionId": connected.SessionID,
		"call":      map[string]interface{}{"method": "eth_getBalance"},
	}

	first := dispatch(t, r, "c1", 2, "wm_call", callParams)
	assert.Nil(t, first.Error)

	for i := 0; i < 3; i++ {
		resp := dispatch(t, r, "c1", 3+i, "wm_call", callParams)
		require.NotNil(t, resp.Error)
		assert.Equal(t, rpcx.CodeInvalidRequest, resp.Error.Code)
	}
}

func TestRouter_CallMissingRequiredParamsRejected(t *testing.T) {
	r := router.New(permissiveConfig())
	r.BindConnOrigin("c1", "https://dapp.example")
	r.Wallets().Register("eip155:1", &stubWallet{})

	callResp := dispatch(t, r, "c1", 1, "wm_call", map[string]interface{}{
		"chainId": "eip155:1",
		"call":    map[string]interface{}{"method": "eth_getBalance"},
	})
	require.NotNil(t, callResp.Error)
	assert.Equal(t, rpcx.CodeInvalidRequest, callResp.Error.Code)
}

func TestRouter_ConnectMissingPermissionsRejected(t *testing.T) {
	r := router.New(permissiveConfig())
	r.BindConnOrigin("c1", "https://dapp.example")

	connectResp := dispatch(t, r, "c1", 1, "wm_connect", map[string]interface{}{})
	require.NotNil(t, connectResp.Error)
	assert.Equal(t, rpcx.CodeInvalidRequest, connectResp.Error.Code)
}

func TestRouter_Ping(t *testing.T) {
	r := router.New(permissiveConfig())
	resp := dispatch(t, r, "c1", 1, rpcx.PingMethod, map[string]interface{}{})
	require.Nil(t, resp.Error)
}

func TestRouter_UnknownChain(t *testing.T) {
	r := router.New(permissiveConfig())
	r.BindConnOrigin("c1", "https://dapp.example")

	connectResp := dispatch(t, r, "c1", 1, "wm_connect", map[string]interface{}{
		"permissions": map[string][]string{"eip155:999": {"*"}},
	})
	var connected struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(connectResp.Result, &connected))

	callResp := dispatch(t, r, "c1", 2, "wm_call", map[string]interface{}{
		"chainId":   "eip155:999",
		"sessionId": connected.SessionID,
		"call":      map[string]interface{}{"method": "eth_call"},
	})
	require.NotNil(t, callResp.Error)
	assert.Equal(t, rpcx.CodeUnknownChain, callResp.Error.Code)
}

func TestRouter_DisconnectRevokesSession(t *testing.T) {
	r := router.New(permissiveConfig())
	r.BindConnOrigin("c1", "https://dapp.example")

	connectResp := dispatch(t, r, "c1", 1, "wm_connect", map[string]interface{}{
		"permissions": map[string][]string{"eip155:1": {"eth_*"}},
	})
	var connected struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(connectResp.Result, &connected))

	disconnectResp := dispatch(t, r, "c1", 2, "wm_disconnect", map[string]interface{}{
		"sessionId": connected.SessionID,
	})
	require.Nil(t, disconnectResp.Error)

	getPermsResp := dispatch(t, r, "c1", 3, "wm_getPermissions", map[string]interface{}{
		"sessionId": connected.SessionID,
	})
	require.NotNil(t, getPermsResp.Error)
	assert.Equal(t, rpcx.CodeInvalidSession, getPermsResp.Error.Code)
}

