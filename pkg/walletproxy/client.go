package walletproxy

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/walletmesh/router/pkg/rpcx"
)

// DialerClient adapts an rpcx.WalletDialer into the wallet Client contract
// (spec §6.2), translating the dialer's Response envelope into a bare
// result/error pair and classifying unsolicited notifications arriving on
// the dialer's event channel.
type DialerClient struct {
	dialer *rpcx.WalletDialer

	methods []string

	events chan Event
	done   chan struct{}
}

// NewDialerClient wraps dialer. methods is the client's statically known
// capability list (nil if unknown); the wallet may still accept other
// methods, this only affects wm_getSupportedMethods aggregation.
func NewDialerClient(dialer *rpcx.WalletDialer, methods []string) *DialerClient {
	c := &DialerClient{
		dialer:  dialer,
		methods: methods,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *DialerClient) pump() {
	defer close(c.events)
	for {
		select {
		case <-c.done:
			return
		case resp, ok := <-c.dialer.EventCh():
			if !ok {
				return
			}
			method, params := decodeNotification(resp)
			select {
			case c.events <- Event{Method: method, Params: params}:
			default:
			}
		}
	}
}

// decodeNotification best-effort extracts a method/params pair from a
// wallet-sent Response that didn't correlate to any pending request: the
// wallet's own notifications (spec §6.2) ride the same frame shape as a
// result, keyed by method name inside Result.
func decodeNotification(resp *rpcx.Response) (string, json.RawMessage) {
	if resp == nil || resp.Result == nil {
		return "", nil
	}
	var envelope struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(resp.Result, &envelope); err != nil {
		return "", resp.Result
	}
	return envelope.Method, envelope.Params
}

// Call forwards method/params to the underlying wallet and unwraps its
// Response into a plain (result, error) pair.
func (c *DialerClient) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	var decoded interface{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &decoded); err != nil {
			return nil, rpcx.ErrInvalidRequest("malformed params")
		}
	}
	resp, err := c.dialer.Call(ctx, method, decoded)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// SupportedMethods returns the client's statically configured method list.
func (c *DialerClient) SupportedMethods(_ context.Context) ([]string, bool) {
	if c.methods == nil {
		return nil, false
	}
	return c.methods, true
}

// Events returns the client's forwarded wallet-notification stream
// (implements EventSource).
func (c *DialerClient) Events() <-chan Event {
	return c.events
}

// Close stops the client's event pump. The underlying dialer's lifecycle is
// managed separately by its owner.
func (c *DialerClient) Close() {
	close(c.done)
}

// IsChainSpecificNotification reports whether method looks like an opaque
// `<chain>_*` notification the registry should forward unchanged, as
// opposed to the two well-known wallet lifecycle events (spec §6.2).
func IsChainSpecificNotification(method string) bool {
	switch method {
	case "wm_walletStateChanged", "wm_walletAvailabilityChanged":
		return false
	}
	return strings.Contains(method, "_")
}
