// Package session implements sticky provider binding: once a
// (cli_key, session_id) pair has been routed to a provider, subsequent
// requests for that pair prefer the same provider until the binding expires.
// Grounded in the same "single mutex guarding a hashmap" shape used
// throughout the gateway's shared mutable state (circuit breaker map,
// latency cache).
package session

import (
	"sync"
	"time"
)

// Binding is a sticky provider assignment for one (cli_key, session_id).
type Binding struct {
	CLIKey     string
	SessionID  string
	ProviderID string
	ExpiresAt  time.Time
}

// Manager holds active session bindings behind a single mutex.
type Manager struct {
	mu       sync.Mutex
	bindings map[string]Binding
}

// New constructs an empty session Manager.
func New() *Manager {
	return &Manager{bindings: make(map[string]Binding)}
}

func key(cliKey, sessionID string) string {
	return cliKey + "\x00" + sessionID
}

// Bind inserts or refreshes the binding for (cliKey, sessionID), expiring ttl
// from now.
func (m *Manager) Bind(cliKey, sessionID, providerID string, ttl time.Duration, now time.Time) {
	if sessionID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[key(cliKey, sessionID)] = Binding{
		CLIKey:     cliKey,
		SessionID:  sessionID,
		ProviderID: providerID,
		ExpiresAt:  now.Add(ttl),
	}
}

// Lookup returns the bound provider id for (cliKey, sessionID), or ok=false
// if there is no binding or it has expired. An expired binding is purged.
func (m *Manager) Lookup(cliKey, sessionID string, now time.Time) (providerID string, ok bool) {
	if sessionID == "" {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(cliKey, sessionID)
	b, found := m.bindings[k]
	if !found {
		return "", false
	}
	if !b.ExpiresAt.After(now) {
		delete(m.bindings, k)
		return "", false
	}
	return b.ProviderID, true
}

// ActiveSessions enumerates up to limit non-expired bindings, for the admin
// /admin/sessions endpoint.
func (m *Manager) ActiveSessions(now time.Time, limit int) []Binding {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Binding, 0, limit)
	for _, b := range m.bindings {
		if !b.ExpiresAt.After(now) {
			continue
		}
		out = append(out, b)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Sweep evicts every binding whose expiry has passed, returning the count
// removed. Intended to be called periodically by a background goroutine.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, b := range m.bindings {
		if !b.ExpiresAt.After(now) {
			delete(m.bindings, k)
			removed++
		}
	}
	return removed
}

// Count returns the number of bindings currently held, expired or not.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bindings)
}
