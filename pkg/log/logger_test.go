package log_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/walletmesh/router/pkg/log"
)

func TestNoopLogger_DoesNotPanic(t *testing.T) {
	lg := log.NewNoop()
	lg.Trace("trace")
	lg.Debug("debug", "k", "v")
	lg.Info("info")
	lg.Warn("warn")
	lg.Error("error")
	derived := lg.With("session", "abc").NewSystem("router")
	derived.Info("scoped")
}

func TestContext_RoundTrip(t *testing.T) {
	lg := log.NewNoop()
	ctx := log.SetContextLogger(context.Background(), lg)
	assert.Equal(t, lg, log.LoggerFromContext(ctx))
}

func TestContext_DefaultsToNoop(t *testing.T) {
	lg := log.LoggerFromContext(context.Background())
	assert.NotNil(t, lg)
	lg.Info("should not panic")
}
