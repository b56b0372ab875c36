package session

import (
	"testing"
	"time"
)

func TestBindAndLookup(t *testing.T) {
	m := New()
	now := time.Now()
	m.Bind("claude", "sess-1", "provider-a", time.Minute, now)

	id, ok := m.Lookup("claude", "sess-1", now)
	if !ok || id != "provider-a" {
		t.Fatalf("expected provider-a, got %q ok=%v", id, ok)
	}
}

func TestLookupExpiredPurges(t *testing.T) {
	m := New()
	now := time.Now()
	m.Bind("claude", "sess-1", "provider-a", time.Second, now)

	_, ok := m.Lookup("claude", "sess-1", now.Add(2*time.Second))
	if ok {
		t.Fatal("expected expired binding to miss")
	}
	if m.Count() != 0 {
		t.Fatalf("expected expired binding to be purged, count=%d", m.Count())
	}
}

func TestBindRefreshesExpiry(t *testing.T) {
	m := New()
	now := time.Now()
	m.Bind("codex", "sess-2", "provider-a", time.Second, now)
	m.Bind("codex", "sess-2", "provider-b", time.Minute, now.Add(500*time.Millisecond))

	id, ok := m.Lookup("codex", "sess-2", now.Add(2*time.Second))
	if !ok || id != "provider-b" {
		t.Fatalf("expected refreshed binding to provider-b, got %q ok=%v", id, ok)
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	m := New()
	now := time.Now()
	m.Bind("claude", "sess-1", "provider-a", time.Second, now)
	m.Bind("claude", "sess-2", "provider-b", time.Hour, now)

	removed := m.Sweep(now.Add(2 * time.Second))
	if removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 remaining binding, got %d", m.Count())
	}
}

func TestActiveSessionsRespectsLimit(t *testing.T) {
	m := New()
	now := time.Now()
	for i := 0; i < 5; i++ {
		m.Bind("claude", string(rune('a'+i)), "provider-a", time.Hour, now)
	}
	active := m.ActiveSessions(now, 3)
	if len(active) != 3 {
		t.Fatalf("expected 3 active sessions, got %d", len(active))
	}
}

func TestBindIgnoresEmptySessionID(t *testing.T) {
	m := New()
	m.Bind("claude", "", "provider-a", time.Hour, time.Now())
	if m.Count() != 0 {
		t.Fatalf("expected no binding for empty session id, count=%d", m.Count())
	}
}
