// Package log provides the structured logging interface used throughout the
// router. It wraps go.uber.org/zap via github.com/ipfs/go-log/v2 so every
// component logs through the same sink and level configuration.
package log

import (
	"context"
	"os"

	ipfslog "github.com/ipfs/go-log/v2"
	"go.uber.org/zap"
)

// Logger is a leveled, structured logger. Implementations must be safe for
// concurrent use. keysAndValues are treated as alternating key/value pairs,
// mirroring zap's SugaredLogger convention.
type Logger interface {
	Trace(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Fatal(msg string, keysAndValues ...interface{})

	// With returns a derived logger that always includes the given key/value
	// pair in subsequent log entries.
	With(key string, value interface{}) Logger
	// NewSystem returns a derived logger scoped under the given subsystem
	// name (e.g. "router", "approval-queue"), inheriting accumulated fields.
	NewSystem(name string) Logger
}

var _ Logger = (*ipfsLogger)(nil)

type ipfsLogger struct {
	lg     *zap.SugaredLogger
	fields []interface{}
}

// New creates a Logger backed by go-log/zap, scoped under the given base
// system name.
func New(name string) Logger {
	return &ipfsLogger{
		lg:     ipfslog.Logger(name).SugaredLogger.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar(),
		fields: []interface{}{},
	}
}

func (l *ipfsLogger) Trace(msg string, kv ...interface{}) { l.lg.Debugw(msg, kv...) }
func (l *ipfsLogger) Debug(msg string, kv ...interface{}) { l.lg.Debugw(msg, kv...) }
func (l *ipfsLogger) Info(msg string, kv ...interface{})  { l.lg.Infow(msg, kv...) }
func (l *ipfsLogger) Warn(msg string, kv ...interface{})  { l.lg.Warnw(msg, kv...) }
func (l *ipfsLogger) Error(msg string, kv ...interface{}) { l.lg.Errorw(msg, kv...) }
func (l *ipfsLogger) Fatal(msg string, kv ...interface{}) { l.lg.Fatalw(msg, kv...) }

func (l *ipfsLogger) With(key string, value interface{}) Logger {
	return &ipfsLogger{
		lg:     l.lg.With(key, value),
		fields: append(append([]interface{}{}, l.fields...), key, value),
	}
}

func (l *ipfsLogger) NewSystem(name string) Logger {
	lg := ipfslog.Logger(name)
	return &ipfsLogger{
		lg:     lg.SugaredLogger.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar().With(l.fields...),
		fields: append([]interface{}{}, l.fields...),
	}
}

// noopLogger discards everything. Useful as a safe default in tests and in
// components that were not handed a logger.
type noopLogger struct{}

// NewNoop returns a Logger that discards all output.
func NewNoop() Logger { return noopLogger{} }

func (noopLogger) Trace(string, ...interface{}) {}
func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Fatal(string, ...interface{}) {}
func (l noopLogger) With(string, interface{}) Logger { return l }
func (l noopLogger) NewSystem(string) Logger         { return l }

type contextKey struct{}

// SetContextLogger attaches lg to ctx so downstream code (approval contexts,
// dispatch handlers) can recover it without threading an explicit parameter.
func SetContextLogger(ctx context.Context, lg Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, lg)
}

// LoggerFromContext retrieves the logger stored in ctx, or a noop logger if
// none was attached.
func LoggerFromContext(ctx context.Context) Logger {
	if lg, ok := ctx.Value(contextKey{}).(Logger); ok {
		return lg
	}
	return NewNoop()
}

func init() {
	level := os.Getenv("WALLETMESH_LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	parsed, err := ipfslog.Parse(level)
	if err != nil {
		parsed = ipfslog.LevelInfo
	}
	ipfslog.SetupLogging(ipfslog.Config{
		Level:  parsed,
		Stderr: true,
	})
}
