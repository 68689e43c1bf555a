package walletproxy_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmesh/router/pkg/rpcx"
	"github.com/walletmesh/router/pkg/walletproxy"
)

type stubClient struct {
	results map[string]json.RawMessage
	fail    map[string]error
	calls   []string
	methods []string
}

func (s *stubClient) Call(_ context.Context, method string, _ json.RawMessage) (json.RawMessage, error) {
	s.calls = append(s.calls, method)
	if err, ok := s.fail[method]; ok {
		return nil, err
	}
	return s.results[method], nil
}

func (s *stubClient) SupportedMethods(_ context.Context) ([]string, bool) {
	if s.methods == nil {
		return nil, false
	}
	return s.methods, true
}

func TestRegistry_DispatchSingle(t *testing.T) {
	reg := walletproxy.New(0)
	reg.Register("eip155:1", &stubClient{results: map[string]json.RawMessage{
		"eth_getBalance": json.RawMessage(`"0x10"`),
	}})

	result, err := reg.Dispatch(context.Background(), "eip155:1", walletproxy.Call{Method: "eth_getBalance"})
	require.NoError(t, err)
	assert.JSONEq(t, `"0x10"`, string(result))
}

func TestRegistry_DispatchUnknownChain(t *testing.T) {
	reg := walletproxy.New(0)
	_, err := reg.Dispatch(context.Background(), "eip155:999", walletproxy.Call{Method: "eth_call"})
	assert.ErrorIs(t, err, walletproxy.ErrUnknownChain)
}

func TestRegistry_DispatchUnavailable(t *testing.T) {
	reg := walletproxy.New(0)
	reg.Register("eip155:1", &stubClient{})
	reg.SetAvailable("eip155:1", false)

	_, err := reg.Dispatch(context.Background(), "eip155:1", walletproxy.Call{Method: "eth_call"})
	assert.ErrorIs(t, err, walletproxy.ErrWalletNotAvailable)
}

func TestRegistry_DispatchWrapsWalletError(t *testing.T) {
	reg := walletproxy.New(0)
	reg.Register("eip155:1", &stubClient{fail: map[string]error{
		"eth_call": errors.New("boom"),
	}})

	_, err := reg.Dispatch(context.Background(), "eip155:1", walletproxy.Call{Method: "eth_call"})
	var rpcErr *rpcx.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpcx.CodeWalletError, rpcErr.Code)
}

func TestRegistry_DispatchBulkStopsOnFirstFailure(t *testing.T) {
	// Mirrors scenario S4.
	client := &stubClient{
		results: map[string]json.RawMessage{"methodA": json.RawMessage(`"ok"`)},
		fail:    map[string]error{"methodB": rpcx.NewError(-32003, "nope", nil)},
	}
	reg := walletproxy.New(0)
	reg.Register("eip155:1", client)

	calls := []walletproxy.Call{{Method: "methodA"}, {Method: "methodB"}, {Method: "methodC"}}
	results, failedIndex, err := reg.DispatchBulk(context.Background(), "eip155:1", calls)

	require.Error(t, err)
	assert.Equal(t, 1, failedIndex)
	require.Len(t, results, 2)
	assert.JSONEq(t, `"ok"`, string(results[0].Result))
	assert.Equal(t, []string{"methodA", "methodB"}, client.calls) // methodC never observed
}

func TestRegistry_SupportedMethods(t *testing.T) {
	reg := walletproxy.New(0)
	reg.Register("eip155:1", &stubClient{methods: []string{"eth_call", "eth_getBalance"}})
	reg.Register("eip155:137", &stubClient{})

	out := reg.SupportedMethods(context.Background(), nil)
	assert.ElementsMatch(t, []string{"eth_call", "eth_getBalance"}, out["eip155:1"])
	assert.NotContains(t, out, "eip155:137")
}
