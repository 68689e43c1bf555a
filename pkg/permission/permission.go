// Package permission implements the per-session permission manager of spec
// §4.7: a set of `chainId:method` wildcard patterns per session, checked
// against incoming calls.
package permission

import (
	"sort"
	"strings"
	"sync"
)

// Pattern is a `chainId:method` grant where either segment may be `*`,
// matching any single segment's non-colon characters. `**` is not
// supported as a multi-segment wildcard.
type Pattern string

// Matches reports whether p grants access to chainID:method.
func (p Pattern) Matches(chainID, method string) bool {
	chainPat, methodPat, ok := splitPattern(string(p))
	if !ok {
		return false
	}
	return segmentMatches(chainPat, chainID) && segmentMatches(methodPat, method)
}

// splitPattern divides a `chainId:method` pattern at its last colon, since
// chainId itself is a CAIP-2 id containing one (`eip155:1`). Splitting at
// the first colon instead would truncate the chain segment to `eip155` and
// never match a real chain id.
func splitPattern(s string) (chainPat, methodPat string, ok bool) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

func segmentMatches(pattern, segment string) bool {
	if pattern == "*" {
		return segment != ""
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(segment, prefix)
	}
	return pattern == segment
}

// Manager tracks the approved pattern set for every session (spec §4.7).
type Manager struct {
	mu       sync.RWMutex
	grants   map[string]map[Pattern]struct{}
}

// New builds an empty Manager.
func New() *Manager {
	return &Manager{grants: make(map[string]map[Pattern]struct{})}
}

// Approve merges requested into sessionID's grant set and returns the full
// approved set in human-readable form (chainId -> methods).
func (m *Manager) Approve(sessionID string, requested map[string][]string) map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.grants[sessionID]
	if set == nil {
		set = make(map[Pattern]struct{})
		m.grants[sessionID] = set
	}
	for chainID, methods := range requested {
		for _, method := range methods {
			set[Pattern(chainID+":"+method)] = struct{}{}
		}
	}
	return humanize(set)
}

// Check reports whether method is allowed on chainID for sessionID under
// its currently approved patterns.
func (m *Manager) Check(sessionID, chainID, method string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for pattern := range m.grants[sessionID] {
		if pattern.Matches(chainID, method) {
			return true
		}
	}
	return false
}

// Get returns the approved pattern set for sessionID, optionally filtered
// to the given chainIds (nil/empty means all chains).
func (m *Manager) Get(sessionID string, chainIDs []string) map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.grants[sessionID]
	if len(chainIDs) == 0 {
		return humanize(set)
	}
	filter := make(map[string]struct{}, len(chainIDs))
	for _, c := range chainIDs {
		filter[c] = struct{}{}
	}
	filtered := make(map[Pattern]struct{})
	for pattern := range set {
		chain, _, ok := splitPattern(string(pattern))
		if !ok {
			continue
		}
		if _, want := filter[chain]; want {
			filtered[pattern] = struct{}{}
		}
	}
	return humanize(filtered)
}

// Cleanup drops all grants for sessionID (spec §4.7, called on termination).
func (m *Manager) Cleanup(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.grants, sessionID)
}

func humanize(set map[Pattern]struct{}) map[string][]string {
	out := make(map[string][]string)
	for pattern := range set {
		chain, method, ok := splitPattern(string(pattern))
		if !ok {
			continue
		}
		out[chain] = append(out[chain], method)
	}
	for chain := range out {
		sort.Strings(out[chain])
	}
	return out
}
