package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func seqIDs(prefix string) IDGenerator {
	n := 0
	return func() string {
		n++
		return prefix + string(rune('0'+n))
	}
}

func TestMatchUnknownRouteReturnsGwerr(t *testing.T) {
	rt := New(seqIDs("t"))
	_, err := rt.Match(http.MethodGet, "/nope")
	if err == nil {
		t.Fatal("expected error for unmatched route")
	}
}

func TestMatchClaudeMessagesRoute(t *testing.T) {
	rt := New(seqIDs("t"))
	route, err := rt.Match(http.MethodPost, "/claude/v1/messages")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.CLIKey != CLIClaude {
		t.Fatalf("cli key = %q", route.CLIKey)
	}
}

func TestMatchGeminiModelInPath(t *testing.T) {
	rt := New(seqIDs("t"))
	route, err := rt.Match(http.MethodPost, "/gemini/v1beta/models/gemini-2.5-pro:generateContent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.CLIKey != CLIGemini {
		t.Fatalf("cli key = %q", route.CLIKey)
	}
}

func TestResolveExtractsSessionHeaderAndModelBodyField(t *testing.T) {
	rt := New(seqIDs("trace-"))
	route, err := rt.Match(http.MethodPost, "/claude/v1/messages")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	body := `{"model":"claude-sonnet-4","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/claude/v1/messages", strings.NewReader(body))
	req.Header.Set("X-Session-Id", "sess-123")
	req.Header.Set("X-Api-Key", "secret")
	req.Header.Set("Connection", "keep-alive")

	resolved, err := rt.Resolve(req, route, "/claude/v1/messages")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.SessionID != "sess-123" {
		t.Fatalf("session id = %q", resolved.SessionID)
	}
	if resolved.RequestedModel != "claude-sonnet-4" {
		t.Fatalf("model = %q", resolved.RequestedModel)
	}
	if resolved.ModelLocation != LocationBodyJSON {
		t.Fatalf("model location = %q", resolved.ModelLocation)
	}
	if resolved.Header.Get("X-Api-Key") != "" {
		t.Fatal("expected auth header to be stripped")
	}
	if resolved.Header.Get("Connection") != "" {
		t.Fatal("expected hop-by-hop header to be stripped")
	}
	if resolved.TraceID == "" {
		t.Fatal("expected a trace id")
	}
}

func TestResolveDetectsThinkingRequested(t *testing.T) {
	rt := New(seqIDs("t"))
	route, _ := rt.Match(http.MethodPost, "/claude/v1/messages")
	body := `{"model":"claude-opus-4","thinking":{"type":"enabled","budget_tokens":1024},"messages":[]}`
	req := httptest.NewRequest(http.MethodPost, "/claude/v1/messages", strings.NewReader(body))

	resolved, err := rt.Resolve(req, route, "/claude/v1/messages")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolved.Thinking {
		t.Fatal("expected thinking=true")
	}
}

func TestResolveGeminiModelFromPath(t *testing.T) {
	rt := New(seqIDs("t"))
	path := "/gemini/v1beta/models/gemini-2.5-flash:generateContent"
	route, err := rt.Match(http.MethodPost, path)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"contents":[]}`))
	resolved, err := rt.Resolve(req, route, path)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.RequestedModel != "gemini-2.5-flash" {
		t.Fatalf("model = %q", resolved.RequestedModel)
	}
	if resolved.ModelLocation != LocationPath {
		t.Fatalf("model location = %q", resolved.ModelLocation)
	}
}

func TestResolveRejectsOversizedBody(t *testing.T) {
	rt := New(seqIDs("t"))
	route, _ := rt.Match(http.MethodPost, "/claude/v1/messages")
	oversized := strings.Repeat("a", int(MaxBodyBytes)+1)
	req := httptest.NewRequest(http.MethodPost, "/claude/v1/messages", strings.NewReader(oversized))

	_, err := rt.Resolve(req, route, "/claude/v1/messages")
	if err == nil {
		t.Fatal("expected GW_BODY_TOO_LARGE error")
	}
}

func TestFingerprintStableAcrossKeyOrder(t *testing.T) {
	a := Fingerprint(CLIClaude, "/v1/messages", []byte(`{"a":1,"b":2}`))
	b := Fingerprint(CLIClaude, "/v1/messages", []byte(`{"b":2,"a":1}`))
	if a != b {
		t.Fatal("expected fingerprint to be stable across key order")
	}
}

func TestFingerprintDiffersAcrossBody(t *testing.T) {
	a := Fingerprint(CLIClaude, "/v1/messages", []byte(`{"a":1}`))
	b := Fingerprint(CLIClaude, "/v1/messages", []byte(`{"a":2}`))
	if a == b {
		t.Fatal("expected fingerprint to differ for different bodies")
	}
}

func TestFingerprintCacheRememberAndLookup(t *testing.T) {
	cache := NewFingerprintCache()
	now := time.Now()
	cache.Remember("fp1", http.StatusServiceUnavailable, "GW_ALL_PROVIDERS_UNAVAILABLE", now.Add(2*time.Second))

	status, code, retryAfter, ok := cache.Lookup("fp1", now)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if status != http.StatusServiceUnavailable || code != "GW_ALL_PROVIDERS_UNAVAILABLE" {
		t.Fatalf("unexpected cached values: %d %q", status, code)
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", retryAfter)
	}
}

func TestFingerprintCacheExpires(t *testing.T) {
	cache := NewFingerprintCache()
	now := time.Now()
	cache.Remember("fp1", http.StatusServiceUnavailable, "GW_ALL_PROVIDERS_UNAVAILABLE", now.Add(time.Second))

	_, _, _, ok := cache.Lookup("fp1", now.Add(2*time.Second))
	if ok {
		t.Fatal("expected cache entry to have expired")
	}
}
