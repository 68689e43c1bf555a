package router

import (
	"time"

	"github.com/walletmesh/router/pkg/approval"
	"github.com/walletmesh/router/pkg/log"
	"github.com/walletmesh/router/pkg/origin"
	"github.com/walletmesh/router/pkg/ratelimit"
	"github.com/walletmesh/router/pkg/security"
	"github.com/walletmesh/router/pkg/sessionstore"
)

// Config is the router's configuration surface (spec §6.5).
type Config struct {
	// SessionStore backs session persistence; defaults to an in-memory
	// store when nil.
	SessionStore sessionstore.Store

	Debug bool

	Security security.Config
	Origin   origin.Config
	RateLimit ratelimit.Config
	Approval  approval.Config

	OnSessionCreated func(sessionID, origin string)
	OnSessionDeleted func(sessionID string)

	Logger log.Logger
}

// DefaultConfig returns the recognized option defaults (spec §6.5).
func DefaultConfig() Config {
	return Config{
		Security:  security.DefaultConfig(),
		Origin:    origin.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Approval: approval.Config{
			DefaultTimeout: 5 * time.Minute,
		},
	}
}
