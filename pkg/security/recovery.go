package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RecoveryClaims is the JWT payload wrapping a session's bare recovery
// token (SPEC_FULL C.4): a verifiable, tamper-evident envelope that lets a
// recovery token move between processes (service worker to page, server to
// native client) the way the teacher's auth.go wraps wallet policy in a
// JWT, rather than passing the opaque token around unauthenticated.
type RecoveryClaims struct {
	SessionID     string `json:"sid"`
	RecoveryToken string `json:"rtk"`
	Origin        string `json:"origin"`
	jwt.RegisteredClaims
}

// ErrInvalidRecoveryEnvelope is returned when a recovery JWT fails
// signature verification or claim validation.
var ErrInvalidRecoveryEnvelope = errors.New("security: invalid recovery envelope")

// RecoveryEnvelope signs and verifies RecoveryClaims with an HMAC key. It
// is an optional enrichment layered on top of SessionSecurity.RecoverSession:
// callers that don't need cross-process hand-off can keep using the bare
// recovery token directly.
type RecoveryEnvelope struct {
	signingKey []byte
	ttl        time.Duration
}

// NewRecoveryEnvelope builds a RecoveryEnvelope. ttl bounds how long an
// issued envelope is accepted, independent of the underlying session's own
// RecoveryTimeout.
func NewRecoveryEnvelope(signingKey []byte, ttl time.Duration) *RecoveryEnvelope {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RecoveryEnvelope{signingKey: signingKey, ttl: ttl}
}

// Issue produces a signed JWT wrapping a session's recovery token.
func (e *RecoveryEnvelope) Issue(sessionID, recoveryToken, origin string) (string, error) {
	now := time.Now()
	claims := RecoveryClaims{
		SessionID:     sessionID,
		RecoveryToken: recoveryToken,
		Origin:        origin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(e.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(e.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign recovery envelope: %w", err)
	}
	return signed, nil
}

// Verify parses and validates envelope, returning the wrapped claims.
func (e *RecoveryEnvelope) Verify(envelope string) (*RecoveryClaims, error) {
	claims := &RecoveryClaims{}
	token, err := jwt.ParseWithClaims(envelope, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return e.signingKey, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidRecoveryEnvelope
	}
	return claims, nil
}
