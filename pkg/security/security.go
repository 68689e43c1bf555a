// Package security implements Session Security (spec §4.4): creating,
// validating, recovering, and revoking sessions on top of a
// sessionstore.Store. Grounded on the teacher's auth.go AuthManager
// (challenge/session maps guarded by RWMutex, background cleanup ticker,
// JWT-wrapped policy), generalized from wallet-signature challenges to
// origin-bound dApp sessions.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/walletmesh/router/pkg/log"
	"github.com/walletmesh/router/pkg/sessionstore"
)

// OriginValidator is the subset of pkg/origin's Validator this package
// depends on, kept narrow to avoid a security<->origin import cycle.
type OriginValidator interface {
	Validate(origin string) (bool, error)
}

// ValidateReason is the failure reason returned by ValidateSession, in the
// check order mandated by spec §4.4.
type ValidateReason string

const (
	ReasonNone           ValidateReason = ""
	ReasonNotFound       ValidateReason = "not_found"
	ReasonExpired        ValidateReason = "expired"
	ReasonRevoked        ValidateReason = "revoked"
	ReasonOriginMismatch ValidateReason = "origin_mismatch"
)

// revokedGracePeriod is how long a revoked record is kept around so
// concurrent validators observe "revoked" rather than "not_found" before
// the store's expiry sweep removes it (mirrors auth.go's
// "Keep briefly for reference" challenge grace window).
const revokedGracePeriod = 30 * time.Second

var (
	// ErrOriginRejected is returned by CreateSession when the Origin
	// Validator rejects the candidate origin.
	ErrOriginRejected = errors.New("security: origin rejected")
	// ErrRecoveryDisabled is returned by RecoverSession when recovery was
	// not enabled in Config.
	ErrRecoveryDisabled = errors.New("security: recovery disabled")
)

// Config is the session-security configuration surface named in spec §6.5,
// with the stated defaults applied by DefaultConfig.
type Config struct {
	BindToOrigin          bool
	SessionTimeout        time.Duration
	EnablePersistence     bool
	StorageKeyPrefix      string
	MaxConcurrentSessions int
	EnableRecovery        bool
	RecoveryTimeout       time.Duration
	TrackActivity         bool
	LogEvents             bool
}

// DefaultConfig returns spec §6.5's documented defaults:
// {true, 3 600 000, true, 'walletmesh_session_', 10, true, 300 000, true, true}.
func DefaultConfig() Config {
	return Config{
		BindToOrigin:          true,
		SessionTimeout:        1 * time.Hour,
		EnablePersistence:     true,
		StorageKeyPrefix:      "walletmesh_session_",
		MaxConcurrentSessions: 10,
		EnableRecovery:        true,
		RecoveryTimeout:       5 * time.Minute,
		TrackActivity:         true,
		LogEvents:             true,
	}
}

// SessionSecurity creates and validates sessions over a pluggable Store.
type SessionSecurity struct {
	cfg       Config
	store     sessionstore.Store
	validator OriginValidator
	logger    log.Logger

	mu  sync.Mutex // serializes create/revoke decisions that read-then-write the store
	now func() time.Time
}

// New builds a SessionSecurity. validator may be nil to accept every
// origin (tests, or a deployment that validates origins elsewhere).
func New(cfg Config, store sessionstore.Store, validator OriginValidator, logger log.Logger) *SessionSecurity {
	if logger == nil {
		logger = log.NewNoop()
	}
	return &SessionSecurity{
		cfg:       cfg,
		store:     store,
		validator: validator,
		logger:    logger.NewSystem("security"),
		now:       time.Now,
	}
}

func (s *SessionSecurity) nowMillis() int64 {
	return s.now().UnixMilli()
}

// CreateSession validates origin, enforces MaxConcurrentSessions by
// revoking the oldest active session for that origin if full, and
// persists a fresh session (spec §4.4).
func (s *SessionSecurity) CreateSession(origin, walletID string, authorizedChains []string, metadata map[string]string) (*sessionstore.Record, error) {
	if s.validator != nil {
		ok, err := s.validator.Validate(origin)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOriginRejected, err)
		}
		if !ok {
			return nil, ErrOriginRejected
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enforceConcurrencyLimit(origin); err != nil {
		return nil, err
	}

	id, err := randomToken(16)
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	var recoveryToken string
	if s.cfg.EnableRecovery {
		recoveryToken, err = randomToken(32)
		if err != nil {
			return nil, fmt.Errorf("generate recovery token: %w", err)
		}
	}

	now := s.nowMillis()
	rec := &sessionstore.Record{
		ID:               id,
		Origin:           origin,
		WalletID:         walletID,
		AuthorizedChains: append([]string(nil), authorizedChains...),
		CreatedAt:        now,
		LastActivity:     now,
		ExpiresAt:        now + s.cfg.SessionTimeout.Milliseconds(),
		State:            sessionstore.StateActive,
		RecoveryToken:    recoveryToken,
		Metadata:         metadata,
	}
	if err := s.store.Set(id, rec); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	if s.cfg.LogEvents {
		s.logger.Info("session created", "sessionId", id, "origin", origin, "walletId", walletID)
	}
	return rec, nil
}

// enforceConcurrencyLimit revokes the oldest active session for origin if
// the origin is already at MaxConcurrentSessions. Caller must hold s.mu.
func (s *SessionSecurity) enforceConcurrencyLimit(origin string) error {
	if s.cfg.MaxConcurrentSessions <= 0 {
		return nil
	}
	all, err := s.store.GetAll()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	var oldest *sessionstore.Record
	active := 0
	for _, rec := range all {
		if rec.Origin != origin || rec.State != sessionstore.StateActive {
			continue
		}
		active++
		if oldest == nil || rec.CreatedAt < oldest.CreatedAt {
			oldest = rec
		}
	}
	if active < s.cfg.MaxConcurrentSessions || oldest == nil {
		return nil
	}
	return s.revokeLocked(oldest)
}

// ValidateSession checks id against the failure-reason order mandated by
// spec §4.4: not_found, expired, revoked, origin_mismatch.
func (s *SessionSecurity) ValidateSession(id, origin string) (valid bool, reason ValidateReason, session *sessionstore.Record) {
	rec, err := s.store.Get(id)
	if err != nil || rec == nil {
		return false, ReasonNotFound, nil
	}

	now := s.nowMillis()
	if rec.State == sessionstore.StateActive && rec.ExpiresAt > 0 && rec.ExpiresAt <= now {
		rec.State = sessionstore.StateExpired
		_ = s.store.Set(id, rec)
		return false, ReasonExpired, nil
	}
	if rec.State == sessionstore.StateExpired {
		return false, ReasonExpired, nil
	}
	if rec.State == sessionstore.StateRevoked {
		return false, ReasonRevoked, nil
	}
	if s.cfg.BindToOrigin && rec.Origin != origin {
		return false, ReasonOriginMismatch, nil
	}

	if s.cfg.TrackActivity {
		refreshed, err := s.store.ValidateAndRefresh(id, now, 0)
		if err == nil && refreshed != nil {
			rec = refreshed
		}
	}
	return true, ReasonNone, rec
}

// RecoverSession exchanges a recovery token for the live session it was
// issued to, rotating the token on success (spec §4.4). Exceeding three
// recovery attempts force-revokes the session.
func (s *SessionSecurity) RecoverSession(recoveryToken, origin string) (*sessionstore.Record, error) {
	if !s.cfg.EnableRecovery {
		return nil, ErrRecoveryDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.store.GetAll()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var rec *sessionstore.Record
	for _, candidate := range all {
		if candidate.RecoveryToken == recoveryToken && candidate.State == sessionstore.StateActive {
			rec = candidate
			break
		}
	}
	if rec == nil {
		return nil, nil
	}
	if rec.Origin != origin {
		return nil, nil
	}

	now := s.nowMillis()
	elapsed := time.Duration(now-rec.LastActivity) * time.Millisecond
	if elapsed > s.cfg.RecoveryTimeout {
		return nil, nil
	}

	newToken, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("rotate recovery token: %w", err)
	}
	rec.RecoveryToken = newToken
	rec.RecoveryAttempts++
	rec.LastActivity = now

	if rec.RecoveryAttempts > 3 {
		if err := s.revokeLocked(rec); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if err := s.store.Set(rec.ID, rec); err != nil {
		return nil, fmt.Errorf("persist recovered session: %w", err)
	}
	if s.cfg.LogEvents {
		s.logger.Info("session recovered", "sessionId", rec.ID, "attempts", rec.RecoveryAttempts)
	}
	return rec, nil
}

// RevokeSession flips id's state to revoked.
func (s *SessionSecurity) RevokeSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	return s.revokeLocked(rec)
}

func (s *SessionSecurity) revokeLocked(rec *sessionstore.Record) error {
	rec.State = sessionstore.StateRevoked
	rec.ExpiresAt = s.nowMillis() + revokedGracePeriod.Milliseconds()
	if err := s.store.Set(rec.ID, rec); err != nil {
		return fmt.Errorf("persist revoked session: %w", err)
	}
	if s.cfg.LogEvents {
		s.logger.Info("session revoked", "sessionId", rec.ID)
	}
	return nil
}

func randomToken(nbytes int) (string, error) {
	buf := make([]byte, nbytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
