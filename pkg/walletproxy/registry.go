// Package walletproxy implements the wallet proxy registry of spec §4.9: a
// chainId -> wallet client map used to dispatch single and bulk calls, and
// to forward wallet-originated events out through the router.
package walletproxy

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/walletmesh/router/pkg/rpcx"
)

// Call is one JSON-RPC call to forward to a chain's wallet client.
type Call struct {
	Method string          `json:"method" validate:"required"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Event is a wallet-originated notification forwarded opaquely through the
// router's event envelope (spec §6.2).
type Event struct {
	ChainID string          `json:"chainId"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Client is the wallet client contract (spec §6.2): a JSON-RPC forwarder
// bound to one chain, with optional capability discovery and an event feed.
type Client interface {
	Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
	// SupportedMethods returns the client's advertised method list; ok is
	// false if the client doesn't support capability discovery.
	SupportedMethods(ctx context.Context) (methods []string, ok bool)
}

// EventSource is implemented by clients that emit wallet-originated
// notifications; not every Client needs to support it.
type EventSource interface {
	Events() <-chan Event
}

// ErrUnknownChain is returned when no client is registered for a chainId.
var ErrUnknownChain = errors.New("walletproxy: unknown chain")

// ErrWalletNotAvailable is returned when the registered client is marked
// unavailable.
var ErrWalletNotAvailable = errors.New("walletproxy: wallet not available")

type registration struct {
	client    Client
	mu        sync.Mutex // serializes calls to this client (spec §5: conservative default)
	available bool
}

// Registry maps chainId to wallet client (spec §4.9).
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*registration
	events  chan Event
}

// New builds an empty Registry. events is the fan-in channel the router
// reads wallet notifications from; it is buffered per bufSize.
func New(bufSize int) *Registry {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Registry{
		clients: make(map[string]*registration),
		events:  make(chan Event, bufSize),
	}
}

// Register binds client to chainID, marking it available, and starts
// forwarding its events (if it implements EventSource) into the registry's
// fan-in channel.
func (r *Registry) Register(chainID string, client Client) {
	r.mu.Lock()
	r.clients[chainID] = &registration{client: client, available: true}
	r.mu.Unlock()

	if src, ok := client.(EventSource); ok {
		go r.forward(chainID, src.Events())
	}
}

func (r *Registry) forward(chainID string, ch <-chan Event) {
	for ev := range ch {
		ev.ChainID = chainID
		r.events <- ev
	}
}

// Events returns the registry's fan-in wallet event stream.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// SetAvailable marks chainID's client available/unavailable, e.g. in
// response to a `wm_walletAvailabilityChanged` notification.
func (r *Registry) SetAvailable(chainID string, available bool) {
	r.mu.RLock()
	reg, ok := r.clients[chainID]
	r.mu.RUnlock()
	if ok {
		reg.mu.Lock()
		reg.available = available
		reg.mu.Unlock()
	}
}

func (r *Registry) lookup(chainID string) (*registration, error) {
	r.mu.RLock()
	reg, ok := r.clients[chainID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownChain
	}
	return reg, nil
}

// Dispatch forwards a single call to chainID's client (spec §4.9 "Single
// call"). A wallet-returned *rpcx.Error is passed through with its own
// code/message/data; any other error is wrapped as a walletError.
func (r *Registry) Dispatch(ctx context.Context, chainID string, call Call) (json.RawMessage, error) {
	reg, err := r.lookup(chainID)
	if err != nil {
		return nil, err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if !reg.available {
		return nil, ErrWalletNotAvailable
	}

	result, err := reg.client.Call(ctx, call.Method, call.Params)
	if err != nil {
		return nil, wrapWalletError(err)
	}
	return result, nil
}

// BulkResult is one element of a bulk dispatch's result set.
type BulkResult struct {
	Result json.RawMessage
	Err    error
}

// DispatchBulk forwards calls sequentially to chainID's client, stopping at
// the first failure (spec §4.9 "Bulk call", property S4/"bulk
// atomicity-of-prefix"). The returned slice holds exactly the results of
// calls that actually ran; failedIndex is -1 if all succeeded.
func (r *Registry) DispatchBulk(ctx context.Context, chainID string, calls []Call) (results []BulkResult, failedIndex int, err error) {
	reg, lookupErr := r.lookup(chainID)
	if lookupErr != nil {
		return nil, -1, lookupErr
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if !reg.available {
		return nil, -1, ErrWalletNotAvailable
	}

	failedIndex = -1
	for i, call := range calls {
		result, callErr := reg.client.Call(ctx, call.Method, call.Params)
		if callErr != nil {
			results = append(results, BulkResult{Err: wrapWalletError(callErr)})
			failedIndex = i
			return results, failedIndex, wrapWalletError(callErr)
		}
		results = append(results, BulkResult{Result: result})
	}
	return results, failedIndex, nil
}

// SupportedMethods aggregates chainIDs' advertised capabilities (spec
// §4.10 `wm_getSupportedMethods`). Chains with no capability discovery are
// omitted.
func (r *Registry) SupportedMethods(ctx context.Context, chainIDs []string) map[string][]string {
	r.mu.RLock()
	targets := chainIDs
	if len(targets) == 0 {
		targets = make([]string, 0, len(r.clients))
		for id := range r.clients {
			targets = append(targets, id)
		}
	}
	r.mu.RUnlock()

	out := make(map[string][]string)
	for _, chainID := range targets {
		reg, err := r.lookup(chainID)
		if err != nil {
			continue
		}
		if methods, ok := reg.client.SupportedMethods(ctx); ok {
			out[chainID] = methods
		}
	}
	return out
}

// wrapWalletError preserves a wallet-thrown rpcx.Error's code/message/data
// verbatim; any other error is wrapped as CodeWalletError.
func wrapWalletError(err error) error {
	var rpcErr *rpcx.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return rpcx.ErrWalletError(err.Error())
}
