package approval_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmesh/router/pkg/approval"
)

func TestQueue_ResolveApproved(t *testing.T) {
	q := approval.New(approval.Config{DefaultTimeout: time.Second})

	var approved bool
	var enqueueErr error
	done := make(chan struct{})
	go func() {
		approved, enqueueErr = q.Enqueue(context.Background(), approval.Context{RequestID: "r1"})
		close(done)
	}()

	// Give the goroutine a moment to register the entry.
	time.Sleep(10 * time.Millisecond)
	assert.True(t, q.Resolve("r1", true))

	<-done
	assert.NoError(t, enqueueErr)
	assert.True(t, approved)
}

func TestQueue_ResolveIsExactlyOnce(t *testing.T) {
	q := approval.New(approval.Config{DefaultTimeout: time.Second})

	go func() { _, _ = q.Enqueue(context.Background(), approval.Context{RequestID: "r1"}) }()
	time.Sleep(10 * time.Millisecond)

	assert.True(t, q.Resolve("r1", true))
	assert.False(t, q.Resolve("r1", false))
}

func TestQueue_Timeout(t *testing.T) {
	var timedOut approval.Context
	q := approval.New(approval.Config{
		DefaultTimeout: 20 * time.Millisecond,
		OnTimeout:      func(ctx approval.Context) { timedOut = ctx },
	})

	approved, err := q.Enqueue(context.Background(), approval.Context{RequestID: "r1"})
	assert.False(t, approved)
	assert.ErrorIs(t, err, approval.ErrTimeout)
	assert.Equal(t, "r1", timedOut.RequestID)
}

func TestQueue_ConcurrentRequestsResolveIndependently(t *testing.T) {
	// Mirrors scenario S3: two concurrent sensitive requests on the same
	// session must not share a decision.
	q := approval.New(approval.Config{DefaultTimeout: time.Second})

	var wg sync.WaitGroup
	results := make(map[string]bool)
	var mu sync.Mutex

	wg.Add(2)
	go func() {
		defer wg.Done()
		approved, _ := q.Enqueue(context.Background(), approval.Context{RequestID: "r1", SessionID: "s1"})
		mu.Lock()
		results["r1"] = approved
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		approved, _ := q.Enqueue(context.Background(), approval.Context{RequestID: "r2", SessionID: "s1"})
		mu.Lock()
		results["r2"] = approved
		mu.Unlock()
	}()

	time.Sleep(10 * time.Millisecond)
	require.True(t, q.Resolve("r1", true))
	require.True(t, q.Resolve("r2", false))

	wg.Wait()
	assert.True(t, results["r1"])
	assert.False(t, results["r2"])
}

func TestQueue_RequiresApproval(t *testing.T) {
	q := approval.New(approval.Config{MethodsRequiringApproval: []string{"eth_sendTransaction"}})
	assert.True(t, q.RequiresApproval("eth_sendTransaction"))
	assert.False(t, q.RequiresApproval("eth_getBalance"))
}

func TestQueue_Sweep(t *testing.T) {
	q := approval.New(approval.Config{DefaultTimeout: time.Hour})

	go func() { _, _ = q.Enqueue(context.Background(), approval.Context{RequestID: "r1"}) }()
	time.Sleep(10 * time.Millisecond)

	removed := q.Sweep(5 * time.Millisecond)
	assert.Equal(t, 1, removed)

	state, err := q.State("r1")
	assert.Error(t, err)
	_ = state
}
