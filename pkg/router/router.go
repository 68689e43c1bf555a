// Package router wires the Session Security, Origin Validator, Permission
// Manager, Rate Limiter, Approval Queue, and Wallet Proxy Registry into the
// engine's gate chain and registers the wm_* method handlers (spec §4.10).
package router

import (
	"encoding/json"
	"sync"

	"github.com/walletmesh/router/pkg/approval"
	"github.com/walletmesh/router/pkg/log"
	"github.com/walletmesh/router/pkg/origin"
	"github.com/walletmesh/router/pkg/permission"
	"github.com/walletmesh/router/pkg/ratelimit"
	"github.com/walletmesh/router/pkg/rpcx"
	"github.com/walletmesh/router/pkg/security"
	"github.com/walletmesh/router/pkg/sessionstore"
	"github.com/walletmesh/router/pkg/walletproxy"
)

// Router ties every §4 component together behind the rpcx.Engine.
type Router struct {
	cfg Config

	security   *security.SessionSecurity
	validator  *origin.Validator
	permission *permission.Manager
	limiter    *ratelimit.Limiter
	approvals  *approval.Queue
	wallets    *walletproxy.Registry

	store  sessionstore.Store
	engine *rpcx.Engine
	logger log.Logger
	metrics *Metrics

	mu          sync.RWMutex
	connOrigin  map[string]string
	connSession map[string]string
}

// defaultMetrics is shared by every Router in the process: NewMetrics
// registers on the default Prometheus registerer, which accepts each
// collector only once.
var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// New builds a Router from cfg, registering the wm_* handlers on a fresh
// engine.
func New(cfg Config) *Router {
	defaultMetricsOnce.Do(func() { defaultMetrics = NewMetrics() })
	if cfg.Logger == nil {
		cfg.Logger = log.NewNoop()
	}
	store := cfg.SessionStore
	if store == nil {
		store = sessionstore.NewMemoryStore()
	}

	validator := origin.New(cfg.Origin)
	r := &Router{
		cfg:         cfg,
		security:    security.New(cfg.Security, store, validator, cfg.Logger),
		validator:   validator,
		permission:  permission.New(),
		limiter:     ratelimit.New(cfg.RateLimit),
		approvals:   approval.New(cfg.Approval),
		wallets:     walletproxy.New(0),
		store:       store,
		logger:      cfg.Logger.NewSystem("router"),
		metrics:     defaultMetrics,
		connOrigin:  make(map[string]string),
		connSession: make(map[string]string),
	}
	r.engine = rpcx.NewEngine(cfg.Logger)
	r.registerHandlers()
	return r
}

// Engine returns the underlying JSON-RPC engine, for wiring into a
// transport.
func (r *Router) Engine() *rpcx.Engine {
	return r.engine
}

// Wallets returns the wallet proxy registry, so callers can Register chain
// clients before serving traffic.
func (r *Router) Wallets() *walletproxy.Registry {
	return r.wallets
}

// BindConnOrigin associates connID with the dApp origin observed at
// connect time (the Origin header), so later requests on that connection
// can be validated and rate-limited by origin.
func (r *Router) BindConnOrigin(connID, origin string) {
	r.mu.Lock()
	r.connOrigin[connID] = origin
	r.mu.Unlock()
	r.metrics.ConnectionsTotal.Inc()
	r.metrics.ConnectedClients.Inc()
}

// UnbindConn forgets connID's origin and session association on
// disconnect.
func (r *Router) UnbindConn(connID string) {
	r.mu.Lock()
	delete(r.connOrigin, connID)
	delete(r.connSession, connID)
	r.mu.Unlock()
	r.metrics.ConnectedClients.Dec()
}

func (r *Router) originOf(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connOrigin[connID]
}

func (r *Router) bindConnSession(connID, sessionID string) {
	r.mu.Lock()
	r.connSession[connID] = sessionID
	r.mu.Unlock()
}

// WalletEvents exposes the wallet proxy registry's fan-in notification
// stream, for a host to pump out to dApp connections (spec §4.9 event
// forwarding, §6.2 "Forward wallet-originated notifications... wrapping in
// the router's event envelope").
func (r *Router) WalletEvents() <-chan walletproxy.Event {
	return r.wallets.Events()
}

// ConnsForChain returns the connection ids whose bound session authorized
// chainID, so a host can fan an incoming wallet event out to exactly the
// connections that should see it.
func (r *Router) ConnsForChain(chainID string) []string {
	r.mu.RLock()
	candidates := make(map[string]string, len(r.connSession))
	for connID, sessionID := range r.connSession {
		candidates[connID] = sessionID
	}
	r.mu.RUnlock()

	var conns []string
	for connID, sessionID := range candidates {
		rec, err := r.store.Get(sessionID)
		if err != nil || rec == nil || rec.State != sessionstore.StateActive {
			continue
		}
		for _, chain := range rec.AuthorizedChains {
			if chain == chainID {
				conns = append(conns, connID)
				break
			}
		}
	}
	return conns
}

func (r *Router) registerHandlers() {
	r.engine.Handle("wm_connect", r.handleConnect)
	r.engine.Handle("wm_reconnect", r.handleReconnect)
	r.engine.Handle("wm_disconnect", r.handleDisconnect)
	r.engine.Handle("wm_getPermissions", r.handleGetPermissions)
	r.engine.Handle("wm_updatePermissions", r.handleUpdatePermissions)
	r.engine.Handle("wm_call", r.handleCall)
	r.engine.Handle("wm_bulkCall", r.handleBulkCall)
	r.engine.Handle("wm_getSupportedMethods", r.handleGetSupportedMethods)
}

// connectParams / connectResult implement the wm_connect wire shapes (spec
// §4.10).
type connectParams struct {
	Permissions map[string][]string `json:"permissions" validate:"required"`
	WalletID    string              `json:"walletId"`
}

type connectResult struct {
	SessionID   string              `json:"sessionId"`
	Permissions map[string][]string `json:"permissions"`
}

func (r *Router) handleConnect(ctx *rpcx.HandlerContext) {
	var params connectParams
	if err := ctx.BindParams(&params); err != nil {
		ctx.Fail(rpcx.ErrInvalidRequest("malformed params"))
		return
	}
	if reason, ok := validateParams(&params); !ok {
		ctx.Fail(rpcx.ErrInvalidRequest(reason))
		return
	}

	origin := r.originOf(ctx.ConnID)
	chains := make([]string, 0, len(params.Permissions))
	for chain := range params.Permissions {
		chains = append(chains, chain)
	}

	rec, err := r.security.CreateSession(origin, params.WalletID, chains, nil)
	if err != nil {
		r.logger.Warn("session creation rejected", "error", err, "origin", origin)
		ctx.Fail(rpcx.ErrInvalidRequest("origin rejected"))
		return
	}

	approved := r.permission.Approve(rec.ID, params.Permissions)
	if r.cfg.OnSessionCreated != nil {
		r.cfg.OnSessionCreated(rec.ID, origin)
	}
	ctx.SessionID = rec.ID
	r.bindConnSession(ctx.ConnID, rec.ID)
	ctx.Succeed(connectResult{SessionID: rec.ID, Permissions: approved})
}

type reconnectParams struct {
	SessionID string `json:"sessionId" validate:"required"`
}

type reconnectResult struct {
	Status      bool                `json:"status"`
	Permissions map[string][]string `json:"permissions"`
}

func (r *Router) handleReconnect(ctx *rpcx.HandlerContext) {
	var params reconnectParams
	if err := ctx.BindParams(&params); err != nil {
		ctx.Fail(rpcx.ErrInvalidRequest("malformed params"))
		return
	}
	if reason, ok := validateParams(&params); !ok {
		ctx.Fail(rpcx.ErrInvalidRequest(reason))
		return
	}

	origin := r.originOf(ctx.ConnID)
	valid, _, rec := r.security.ValidateSession(params.SessionID, origin)
	if !valid {
		ctx.Succeed(reconnectResult{Status: false, Permissions: map[string][]string{}})
		return
	}
	ctx.SessionID = rec.ID
	r.bindConnSession(ctx.ConnID, rec.ID)
	ctx.Succeed(reconnectResult{Status: true, Permissions: r.permission.Get(rec.ID, nil)})
}

type disconnectParams struct {
	SessionID string `json:"sessionId" validate:"required"`
}

func (r *Router) handleDisconnect(ctx *rpcx.HandlerContext) {
	var params disconnectParams
	if err := ctx.BindParams(&params); err != nil {
		ctx.Fail(rpcx.ErrInvalidRequest("malformed params"))
		return
	}
	if reason, ok := validateParams(&params); !ok {
		ctx.Fail(rpcx.ErrInvalidRequest(reason))
		return
	}
	if err := r.security.RevokeSession(params.SessionID); err != nil {
		ctx.Fail(rpcx.ErrUnknown())
		return
	}
	r.permission.Cleanup(params.SessionID)
	if r.cfg.OnSessionDeleted != nil {
		r.cfg.OnSessionDeleted(params.SessionID)
	}
	ctx.Succeed(true)
}

type getPermissionsParams struct {
	SessionID string   `json:"sessionId" validate:"required"`
	ChainIDs  []string `json:"chainIds,omitempty"`
}

func (r *Router) handleGetPermissions(ctx *rpcx.HandlerContext) {
	var params getPermissionsParams
	if err := ctx.BindParams(&params); err != nil {
		ctx.Fail(rpcx.ErrInvalidRequest("malformed params"))
		return
	}
	if reason, ok := validateParams(&params); !ok {
		ctx.Fail(rpcx.ErrInvalidRequest(reason))
		return
	}
	valid, _, rec := r.security.ValidateSession(params.SessionID, r.originOf(ctx.ConnID))
	if !valid {
		ctx.Fail(rpcx.ErrInvalidSession("session is not valid"))
		return
	}
	ctx.Succeed(r.permission.Get(rec.ID, params.ChainIDs))
}

type updatePermissionsParams struct {
	SessionID   string              `json:"sessionId" validate:"required"`
	Permissions map[string][]string `json:"permissions"`
}

func (r *Router) handleUpdatePermissions(ctx *rpcx.HandlerContext) {
	var params updatePermissionsParams
	if err := ctx.BindParams(&params); err != nil {
		ctx.Fail(rpcx.ErrInvalidRequest("malformed params"))
		return
	}
	if reason, ok := validateParams(&params); !ok {
		ctx.Fail(rpcx.ErrInvalidRequest(reason))
		return
	}
	valid, _, rec := r.security.ValidateSession(params.SessionID, r.originOf(ctx.ConnID))
	if !valid {
		ctx.Fail(rpcx.ErrInvalidSession("session is not valid"))
		return
	}
	ctx.Succeed(r.permission.Approve(rec.ID, params.Permissions))
}

type callParams struct {
	ChainID   string           `json:"chainId" validate:"required"`
	SessionID string           `json:"sessionId" validate:"required"`
	Call      walletproxy.Call `json:"call" validate:"required"`
}

// runGate implements the gate chain of spec §4.10, steps 1-4: session
// validation, rate limiting, permission check, and approval if the method
// is sensitive. It returns the validated session record, or fails ctx and
// returns ok=false.
func (r *Router) runGate(ctx *rpcx.HandlerContext, sessionID, chainID, method string, params json.RawMessage) (*sessionstore.Record, bool) {
	origin := r.originOf(ctx.ConnID)

	valid, _, rec := r.security.ValidateSession(sessionID, origin)
	if !valid {
		ctx.Fail(rpcx.ErrInvalidSession("session is not valid"))
		return nil, false
	}
	ctx.SessionID = rec.ID

	key := r.cfg.RateLimit.KeyFor(origin, method)
	switch res := r.limiter.Check(key); res.Decision {
	case ratelimit.RateLimited, ratelimit.Blocked:
		r.metrics.RateLimitDecisions.WithLabelValues(res.Decision.String()).Inc()
		ctx.Fail(rpcx.ErrInvalidRequest("rate limited"))
		return nil, false
	default:
		r.metrics.RateLimitDecisions.WithLabelValues("allow").Inc()
	}

	if !r.permission.Check(rec.ID, chainID, method) {
		ctx.Fail(rpcx.ErrInsufficientPermissions(method))
		return nil, false
	}

	if r.approvals.RequiresApproval(method) {
		approved, err := r.approvals.Enqueue(ctx.Context, approval.Context{
			RequestID: ctx.Request.ID.String(),
			SessionID: rec.ID,
			ChainID:   chainID,
			Method:    method,
			Params:    params,
		})
		outcome := "approved"
		if err != nil || !approved {
			outcome = "denied"
		}
		r.metrics.ApprovalsTotal.WithLabelValues(outcome).Inc()
		if err != nil || !approved {
			ctx.Fail(rpcx.ErrWalletError("user rejected the request"))
			return nil, false
		}
	}

	return rec, true
}

func (r *Router) handleCall(ctx *rpcx.HandlerContext) {
	var params callParams
	if err := ctx.BindParams(&params); err != nil {
		ctx.Fail(rpcx.ErrInvalidRequest("malformed params"))
		return
	}
	if reason, ok := validateParams(&params); !ok {
		ctx.Fail(rpcx.ErrInvalidRequest(reason))
		return
	}

	if _, ok := r.runGate(ctx, params.SessionID, params.ChainID, params.Call.Method, params.Call.Params); !ok {
		return
	}

	result, err := r.wallets.Dispatch(ctx.Context, params.ChainID, params.Call)
	r.recordWalletCall(params.ChainID, err)
	if err != nil {
		r.failDispatchError(ctx, params.ChainID, err)
		return
	}
	ctx.Succeed(json.RawMessage(result))
}

type bulkCallParams struct {
	ChainID   string             `json:"chainId" validate:"required"`
	SessionID string             `json:"sessionId" validate:"required"`
	Calls     []walletproxy.Call `json:"calls" validate:"required,min=1,dive"`
}

type partialFailureData struct {
	Results     []json.RawMessage `json:"results"`
	FailedIndex int               `json:"failedIndex"`
	Error       *rpcx.Error       `json:"error"`
}

// handleBulkCall runs the gate chain and dispatch for each call in strict
// submission order, stopping at the first gate or wallet failure (spec
// §4.10, §5 "bulk-call elements execute strictly in submission order").
func (r *Router) handleBulkCall(ctx *rpcx.HandlerContext) {
	var params bulkCallParams
	if err := ctx.BindParams(&params); err != nil {
		ctx.Fail(rpcx.ErrInvalidRequest("malformed params"))
		return
	}
	if reason, ok := validateParams(&params); !ok {
		ctx.Fail(rpcx.ErrInvalidRequest(reason))
		return
	}

	results := make([]json.RawMessage, 0, len(params.Calls))
	for i, call := range params.Calls {
		if _, ok := r.runGate(ctx, params.SessionID, params.ChainID, call.Method, call.Params); !ok {
			return
		}

		result, err := r.wallets.Dispatch(ctx.Context, params.ChainID, call)
		r.recordWalletCall(params.ChainID, err)
		if err != nil {
			var walletErr *rpcx.Error
			if asErr, ok := err.(*rpcx.Error); ok {
				walletErr = asErr
			} else {
				walletErr = rpcx.ErrWalletError(err.Error())
			}
			ctx.Fail(rpcx.ErrPartialFailure(partialFailureData{
				Results:     results,
				FailedIndex: i,
				Error:       walletErr,
			}))
			return
		}
		results = append(results, result)
	}

	ctx.Succeed(results)
}

type getSupportedMethodsParams struct {
	ChainIDs []string `json:"chainIds,omitempty"`
}

func (r *Router) handleGetSupportedMethods(ctx *rpcx.HandlerContext) {
	var params getSupportedMethodsParams
	if err := ctx.BindParams(&params); err != nil {
		ctx.Fail(rpcx.ErrInvalidRequest("malformed params"))
		return
	}
	ctx.Succeed(r.wallets.SupportedMethods(ctx.Context, params.ChainIDs))
}

func (r *Router) recordWalletCall(chainID string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.WalletCallsTotal.WithLabelValues(chainID, status).Inc()
}

func (r *Router) failDispatchError(ctx *rpcx.HandlerContext, chainID string, err error) {
	switch err {
	case walletproxy.ErrUnknownChain:
		ctx.Fail(rpcx.ErrUnknownChain(chainID))
	case walletproxy.ErrWalletNotAvailable:
		ctx.Fail(rpcx.ErrWalletNotAvailable(chainID))
	default:
		if rpcErr, ok := err.(*rpcx.Error); ok {
			ctx.Fail(rpcErr)
			return
		}
		ctx.Fail(rpcx.ErrUnknown())
	}
}

// CleanExpired sweeps expired sessions, stale rate-limit entries, and
// timed-out approvals. Intended to run periodically from a background
// goroutine the host owns.
func (r *Router) CleanExpired(now int64) {
	if _, err := r.store.CleanExpired(now); err != nil {
		r.logger.Warn("session sweep failed", "error", err)
	}
	r.limiter.Sweep(r.cfg.RateLimit.Window * 10)
	r.approvals.Sweep(r.cfg.Approval.DefaultTimeout)
}
