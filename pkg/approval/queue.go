// Package approval implements the approval queue of spec §4.8: serialized
// user-confirmation futures keyed by JSON-RPC request id, so two concurrent
// sensitive requests never share one decision.
package approval

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a queue entry's lifecycle stage.
type State int

const (
	Pending State = iota
	Approved
	Denied
	TimedOut
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Approved:
		return "approved"
	case Denied:
		return "denied"
	case TimedOut:
		return "timeout"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrTimeout is the error carried by a future that was never resolved
// within the queue's timeout.
var ErrTimeout = errors.New("approval: request timed out")

// ErrUnknownRequest is returned by State for a requestId that was never
// enqueued or has already settled and been removed.
var ErrUnknownRequest = errors.New("approval: unknown request id")

// Context is the approval context associated with one pending decision
// (spec glossary: "Approval context").
type Context struct {
	RequestID string
	SessionID string
	ChainID   string
	Method    string
	Params    interface{}
}

type entry struct {
	ctx       Context
	state     State
	done      chan struct{}
	approved  bool
	err       error
	createdAt time.Time
	once      sync.Once
}

func (e *entry) settle(state State, approved bool, err error) bool {
	settled := false
	e.once.Do(func() {
		e.state = state
		e.approved = approved
		e.err = err
		close(e.done)
		settled = true
	})
	return settled
}

// Config configures queue behavior (spec §6.5 approvalQueue options).
type Config struct {
	MethodsRequiringApproval []string
	DefaultTimeout           time.Duration
	OnApprovalQueued         func(ctx Context)
	OnTimeout                func(ctx Context)
}

// Queue serializes user-confirmation decisions by request id.
type Queue struct {
	cfg Config

	requiresApproval map[string]struct{}

	mu      sync.Mutex
	entries map[string]*entry
}

// New builds a Queue from cfg.
func New(cfg Config) *Queue {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	q := &Queue{
		cfg:              cfg,
		requiresApproval: make(map[string]struct{}, len(cfg.MethodsRequiringApproval)),
		entries:          make(map[string]*entry),
	}
	for _, m := range cfg.MethodsRequiringApproval {
		q.requiresApproval[m] = struct{}{}
	}
	return q
}

// RequiresApproval reports whether method is listed as sensitive.
func (q *Queue) RequiresApproval(method string) bool {
	_, ok := q.requiresApproval[method]
	return ok
}

// Enqueue stores ctx as pending, invokes OnApprovalQueued, and blocks until
// a decision is resolved, the timeout fires, or the caller's context is
// cancelled (transport drop). A cancelled caller context does not settle
// the entry; the entry remains for a late Resolve or Cancel, and is
// otherwise removed by Sweep.
func (q *Queue) Enqueue(ctx context.Context, approvalCtx Context) (bool, error) {
	e := &entry{ctx: approvalCtx, state: Pending, done: make(chan struct{}), createdAt: time.Now()}

	q.mu.Lock()
	q.entries[approvalCtx.RequestID] = e
	q.mu.Unlock()

	if q.cfg.OnApprovalQueued != nil {
		q.cfg.OnApprovalQueued(approvalCtx)
	}

	timer := time.NewTimer(q.cfg.DefaultTimeout)
	defer timer.Stop()

	select {
	case <-e.done:
		q.remove(approvalCtx.RequestID)
		return e.approved, e.err
	case <-timer.C:
		e.settle(TimedOut, false, ErrTimeout)
		if q.cfg.OnTimeout != nil {
			q.cfg.OnTimeout(approvalCtx)
		}
		q.remove(approvalCtx.RequestID)
		return false, ErrTimeout
	case <-ctx.Done():
		// Caller (transport) dropped; the entry stays pending for a late
		// Resolve/Cancel, and is reclaimed by Sweep if none arrives (the
		// timer above stops when this call returns). We return immediately
		// so the caller isn't blocked.
		return false, ctx.Err()
	}
}

// Resolve transitions requestId from pending to approved or denied exactly
// once; later calls are no-ops reported via the bool return.
func (q *Queue) Resolve(requestID string, approved bool) bool {
	q.mu.Lock()
	e, ok := q.entries[requestID]
	q.mu.Unlock()
	if !ok {
		return false
	}
	state := Denied
	if approved {
		state = Approved
	}
	settled := e.settle(state, approved, nil)
	q.remove(requestID)
	return settled
}

// Cancel treats requestId as denied (spec §4.8).
func (q *Queue) Cancel(requestID string) bool {
	q.mu.Lock()
	e, ok := q.entries[requestID]
	q.mu.Unlock()
	if !ok {
		return false
	}
	settled := e.settle(Cancelled, false, nil)
	q.remove(requestID)
	return settled
}

// State reports the current state of requestId, or Pending with
// ErrUnknownRequest if it was never seen or already swept.
func (q *Queue) State(requestID string) (State, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[requestID]
	if !ok {
		return Pending, ErrUnknownRequest
	}
	return e.state, nil
}

func (q *Queue) remove(requestID string) {
	q.mu.Lock()
	delete(q.entries, requestID)
	q.mu.Unlock()
}

// Sweep removes entries older than maxAge that are still pending (e.g. a
// caller that never showed back up after its context was cancelled), firing
// OnTimeout for each. Intended to run periodically from a background
// goroutine the host owns.
func (q *Queue) Sweep(maxAge time.Duration) int {
	now := time.Now()
	var stale []*entry

	q.mu.Lock()
	for id, e := range q.entries {
		if e.state == Pending && now.Sub(e.createdAt) >= maxAge {
			stale = append(stale, e)
			delete(q.entries, id)
		}
	}
	q.mu.Unlock()

	for _, e := range stale {
		if e.settle(TimedOut, false, ErrTimeout) && q.cfg.OnTimeout != nil {
			q.cfg.OnTimeout(e.ctx)
		}
	}
	return len(stale)
}
