// Package origin implements the Origin Validator (spec §4.5): an
// accept-or-reject decision over a dApp-supplied origin string, checked in
// a fixed order (protocol, blocklist, allowlist, homograph/phishing,
// custom predicate), with an optional LRU+TTL result cache.
package origin

import (
	"net/url"
	"path"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Config is the origin-validation configuration surface (spec §6.5).
type Config struct {
	EnforceHTTPS    bool
	AllowLocalhost  bool
	AllowedOrigins  []string
	BlockedOrigins  []string
	AllowedPatterns []string
	BlockedPatterns []string

	DetectHomographs          bool
	KnownDomains              []string
	AllowInternationalDomains bool

	// CustomValidator runs after every built-in check; a false return
	// rejects the origin regardless of earlier checks.
	CustomValidator func(origin string) bool

	EnableCache bool
	CacheMaxSize int
	CacheTTL    time.Duration
}

// DefaultConfig returns a strict-by-default configuration: HTTPS required,
// localhost allowed for local development, homograph detection on, no
// explicit allow/block lists (so only the protocol and homograph checks
// apply until the deployment supplies its own lists/domains).
func DefaultConfig() Config {
	return Config{
		EnforceHTTPS:     true,
		AllowLocalhost:   true,
		DetectHomographs: true,
		EnableCache:      true,
		CacheMaxSize:     1024,
		CacheTTL:         5 * time.Minute,
	}
}

type cacheEntry struct {
	ok        bool
	expiresAt time.Time
}

// Validator decides whether a dApp-supplied origin may create a session
// (spec §4.5).
type Validator struct {
	cfg Config

	blockedExact map[string]struct{}
	allowedExact map[string]struct{}

	cache *lru.Cache[string, cacheEntry]
}

// New builds a Validator, pre-compiling the allow/block lists.
func New(cfg Config) *Validator {
	v := &Validator{
		cfg:          cfg,
		blockedExact: make(map[string]struct{}),
		allowedExact: make(map[string]struct{}),
	}
	for _, o := range cfg.BlockedOrigins {
		v.blockedExact[o] = struct{}{}
	}
	for _, o := range cfg.AllowedOrigins {
		v.allowedExact[o] = struct{}{}
	}
	if cfg.EnableCache {
		size := cfg.CacheMaxSize
		if size <= 0 {
			size = 1024
		}
		v.cache, _ = lru.New[string, cacheEntry](size)
	}
	return v
}

// Validate runs the ordered checks of spec §4.5 and returns the final
// accept/reject decision.
func (v *Validator) Validate(origin string) (bool, error) {
	if v.cache != nil {
		if entry, ok := v.cache.Get(origin); ok && time.Now().Before(entry.expiresAt) {
			return entry.ok, nil
		}
	}

	ok := v.validateUncached(origin)

	if v.cache != nil {
		ttl := v.cfg.CacheTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		v.cache.Add(origin, cacheEntry{ok: ok, expiresAt: time.Now().Add(ttl)})
	}
	return ok, nil
}

func (v *Validator) validateUncached(origin string) bool {
	switch v.checkProtocol(origin) {
	case decisionReject:
		return false
	}
	if v.checkList(origin, v.blockedExact, v.cfg.BlockedPatterns) {
		return false
	}
	if len(v.allowedExact) > 0 || len(v.cfg.AllowedPatterns) > 0 {
		if !v.checkList(origin, v.allowedExact, v.cfg.AllowedPatterns) {
			return false
		}
	}
	if v.cfg.DetectHomographs && v.isHomographOrPhishing(origin) {
		return false
	}
	if v.cfg.CustomValidator != nil && !v.cfg.CustomValidator(origin) {
		return false
	}
	return true
}

type decision int

const (
	decisionSkip decision = iota
	decisionAccept
	decisionReject
)

// checkProtocol enforces HTTPS, with a localhost carve-out (spec §4.5
// step 1).
func (v *Validator) checkProtocol(origin string) decision {
	if !v.cfg.EnforceHTTPS {
		return decisionSkip
	}
	u, err := url.Parse(origin)
	if err != nil {
		return decisionReject
	}
	if u.Scheme == "https" {
		return decisionAccept
	}
	if v.cfg.AllowLocalhost && isLocalhost(u.Hostname()) {
		return decisionAccept
	}
	return decisionReject
}

func isLocalhost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1", "[::1]":
		return true
	}
	return false
}

// checkList reports whether origin matches exact or wildcard-pattern list.
func (v *Validator) checkList(origin string, exact map[string]struct{}, patterns []string) bool {
	if _, ok := exact[origin]; ok {
		return true
	}
	for _, pattern := range patterns {
		if matchWildcard(pattern, origin) {
			return true
		}
	}
	return false
}

// matchWildcard supports a single `*` glob per segment, via path.Match
// semantics applied to the origin string (e.g. "https://*.example.com").
func matchWildcard(pattern, origin string) bool {
	matched, err := path.Match(pattern, origin)
	if err != nil {
		return false
	}
	return matched
}

// hostOf extracts the hostname component of an origin string, tolerating
// inputs that are already bare hostnames.
func hostOf(origin string) string {
	if u, err := url.Parse(origin); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return strings.TrimSuffix(origin, "/")
}
