package failover

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/cligateway/hub/internal/catalog"
	"github.com/cligateway/hub/internal/circuitbreaker"
)

type scriptedTransport struct {
	byProvider map[string][]AttemptResult
	calls      []string
}

func (s *scriptedTransport) Do(_ context.Context, provider catalog.Provider, _ string, _ []byte, attemptIndex int) AttemptResult {
	s.calls = append(s.calls, provider.ID)
	script := s.byProvider[provider.ID]
	idx := attemptIndex - 1
	if idx >= len(script) {
		idx = len(script) - 1
	}
	return script[idx]
}

type firstURLSelector struct{}

func (firstURLSelector) Select(p catalog.Provider, _ time.Time) string {
	if len(p.BaseURLs) == 0 {
		return ""
	}
	return p.BaseURLs[0]
}

func providerA() catalog.Provider {
	return catalog.Provider{ID: "A", DisplayName: "Provider A", CLIKey: "claude", BaseURLs: []string{"https://a.example"}, Enabled: true}
}

func providerB() catalog.Provider {
	return catalog.Provider{ID: "B", DisplayName: "Provider B", CLIKey: "claude", BaseURLs: []string{"https://b.example"}, Enabled: true}
}

func cfgWithAttempts(n int) Config {
	c := DefaultConfig()
	c.MaxAttemptsPerProvider = n
	c.MaxProvidersToTry = 5
	return c
}

func TestBreakerOpensAfterThreeFailures(t *testing.T) {
	breaker := circuitbreaker.New(circuitbreaker.WithDefaultFailureThreshold(3))
	transport := &scriptedTransport{byProvider: map[string][]AttemptResult{
		"A": {{Outcome: OutcomeServerError, UpstreamStatus: 503}},
	}}
	loop := &Loop{Breaker: breaker, BaseURLs: firstURLSelector{}, Transport: transport}

	// Each failed switch triggers a provider cooldown; disable it so the
	// three back-to-back runs all reach the provider.
	cfg := cfgWithAttempts(1)
	cfg.ProviderCooldownSecs = 0
	for i := 0; i < 3; i++ {
		loop.Run(context.Background(), []catalog.Provider{providerA()}, "", nil, ModelRewriteInput{}, cfg, nil)
	}

	snap := breaker.Snapshot("A")
	if snap.State != circuitbreaker.StateOpen {
		t.Fatalf("expected A open after 3 failures, got %s", snap.State)
	}

	var skipped bool
	loop.Run(context.Background(), []catalog.Provider{providerA()}, "", nil, ModelRewriteInput{}, cfg, func(e Event) {
		if e.Kind == "skip" && e.SkipReason == SkipOpen {
			skipped = true
		}
	})
	if !skipped {
		t.Fatal("expected 4th request to skip A with SKIP_OPEN")
	}
}

func TestFailoverFromAToBOn502(t *testing.T) {
	breaker := circuitbreaker.New()
	transport := &scriptedTransport{byProvider: map[string][]AttemptResult{
		"A": {{Outcome: OutcomeServerError, UpstreamStatus: 502}},
		"B": {{Outcome: OutcomeSuccessBuffered, UpstreamStatus: 200}},
	}}
	loop := &Loop{Breaker: breaker, BaseURLs: firstURLSelector{}, Transport: transport}

	result := loop.Run(context.Background(), []catalog.Provider{providerA(), providerB()}, "", nil, ModelRewriteInput{}, cfgWithAttempts(1), nil)

	if len(result.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(result.Attempts))
	}
	if result.Attempts[0].Decision != DecisionSwitch {
		t.Fatalf("expected first attempt to switch, got %s", result.Attempts[0].Decision)
	}
	if result.Attempts[1].Outcome != OutcomeSuccessBuffered {
		t.Fatalf("expected second attempt to succeed, got %s", result.Attempts[1].Outcome)
	}
	if result.FinalProviderID != "B" {
		t.Fatalf("expected final provider B, got %s", result.FinalProviderID)
	}
}

func Test429RetryThenSwitch(t *testing.T) {
	breaker := circuitbreaker.New()
	transport := &scriptedTransport{byProvider: map[string][]AttemptResult{
		"A": {
			{Outcome: OutcomeTransientUpstream, UpstreamStatus: 429},
			{Outcome: OutcomeTransientUpstream, UpstreamStatus: 429},
		},
		"B": {{Outcome: OutcomeSuccessBuffered, UpstreamStatus: 200}},
	}}
	loop := &Loop{Breaker: breaker, BaseURLs: firstURLSelector{}, Transport: transport}

	start := time.Now()
	result := loop.Run(context.Background(), []catalog.Provider{providerA(), providerB()}, "", nil, ModelRewriteInput{}, cfgWithAttempts(2), nil)
	elapsed := time.Since(start)

	if len(result.Attempts) != 3 {
		t.Fatalf("expected 3 attempts (2 retries on A + success on B), got %d", len(result.Attempts))
	}
	if result.Attempts[1].Decision != DecisionSwitch {
		t.Fatalf("expected second attempt to switch after exhausting retry budget, got %s", result.Attempts[1].Decision)
	}
	if elapsed < 80*time.Millisecond {
		t.Fatalf("expected at least 80ms backoff between retries, elapsed=%s", elapsed)
	}
}

func TestAllProvidersInCooldown(t *testing.T) {
	breaker := circuitbreaker.New()
	now := time.Now()
	breaker.TriggerCooldown("A", now, 10*time.Second)
	breaker.TriggerCooldown("B", now, 10*time.Second)

	transport := &scriptedTransport{byProvider: map[string][]AttemptResult{}}
	loop := &Loop{Breaker: breaker, BaseURLs: firstURLSelector{}, Transport: transport}

	result := loop.Run(context.Background(), []catalog.Provider{providerA(), providerB()}, "", nil, ModelRewriteInput{}, cfgWithAttempts(1), nil)

	if !result.AllUnavailable {
		t.Fatal("expected AllUnavailable=true")
	}
	if result.TerminalError == nil || result.TerminalError.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 terminal error, got %+v", result.TerminalError)
	}
	if len(transport.calls) != 0 {
		t.Fatalf("expected no upstream calls while all providers cool down, got %v", transport.calls)
	}
}

func TestSessionBoundProviderTriedFirst(t *testing.T) {
	breaker := circuitbreaker.New()
	transport := &scriptedTransport{byProvider: map[string][]AttemptResult{
		"A": {{Outcome: OutcomeSuccessBuffered, UpstreamStatus: 200}},
		"B": {{Outcome: OutcomeSuccessBuffered, UpstreamStatus: 200}},
	}}
	loop := &Loop{Breaker: breaker, BaseURLs: firstURLSelector{}, Transport: transport}

	result := loop.Run(context.Background(), []catalog.Provider{providerA(), providerB()}, "B", nil, ModelRewriteInput{}, cfgWithAttempts(1), nil)

	if result.FinalProviderID != "B" {
		t.Fatalf("expected session-bound provider B tried first and succeeding, got %s", result.FinalProviderID)
	}
	if transport.calls[0] != "B" {
		t.Fatalf("expected B to be called first, got %v", transport.calls)
	}
}

func TestClientErrorAborts(t *testing.T) {
	breaker := circuitbreaker.New()
	transport := &scriptedTransport{byProvider: map[string][]AttemptResult{
		"A": {{Outcome: OutcomeClientError, UpstreamStatus: 422}},
	}}
	loop := &Loop{Breaker: breaker, BaseURLs: firstURLSelector{}, Transport: transport}

	result := loop.Run(context.Background(), []catalog.Provider{providerA(), providerB()}, "", nil, ModelRewriteInput{}, cfgWithAttempts(1), nil)

	if len(transport.calls) != 1 {
		t.Fatalf("expected abort to skip trying provider B, calls=%v", transport.calls)
	}
	if result.TerminalError == nil || result.TerminalError.Category != "client_error" {
		t.Fatalf("expected a client_error terminal error, got %+v", result.TerminalError)
	}
}

type scriptedModelRewriter struct {
	effectiveModel string
	mappingKind    string
	rewrote        bool
}

func (s scriptedModelRewriter) Rewrite(_ catalog.Provider, _ string, _ bool) (string, string, bool) {
	return s.effectiveModel, s.mappingKind, s.rewrote
}

func TestModelRewriterEditsBodyFieldBeforeFirstAttempt(t *testing.T) {
	breaker := circuitbreaker.New()
	transport := &scriptedTransport{byProvider: map[string][]AttemptResult{
		"A": {{Outcome: OutcomeSuccessBuffered, UpstreamStatus: 200}},
	}}
	loop := &Loop{
		Breaker: breaker, BaseURLs: firstURLSelector{}, Transport: transport,
		ModelRewriter: scriptedModelRewriter{effectiveModel: "glm-think", mappingKind: "reasoning", rewrote: true},
	}

	body := []byte(`{"model":"claude-3-opus-latest","thinking":{"type":"enabled"}}`)
	modelIn := ModelRewriteInput{RequestedModel: "claude-3-opus-latest", ThinkingRequested: true, BodyField: "model"}
	result := loop.Run(context.Background(), []catalog.Provider{providerA()}, "", body, modelIn, cfgWithAttempts(1), nil)

	if len(result.ModelMappings) != 1 {
		t.Fatalf("expected 1 model mapping recorded, got %d", len(result.ModelMappings))
	}
	m := result.ModelMappings[0]
	if m.MappingKind != "reasoning" || m.EffectiveModel != "glm-think" || !m.Applied {
		t.Fatalf("unexpected model mapping: %+v", m)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestModelRewriterSkippedWithoutBodyField(t *testing.T) {
	breaker := circuitbreaker.New()
	transport := &scriptedTransport{byProvider: map[string][]AttemptResult{
		"A": {{Outcome: OutcomeSuccessBuffered, UpstreamStatus: 200}},
	}}
	loop := &Loop{
		Breaker: breaker, BaseURLs: firstURLSelector{}, Transport: transport,
		ModelRewriter: scriptedModelRewriter{effectiveModel: "glm-think", mappingKind: "reasoning", rewrote: true},
	}

	result := loop.Run(context.Background(), []catalog.Provider{providerA()}, "", []byte(`{"model":"x"}`), ModelRewriteInput{}, cfgWithAttempts(1), nil)

	if len(result.ModelMappings) != 0 {
		t.Fatalf("expected no model mapping when BodyField is empty, got %+v", result.ModelMappings)
	}
}

func TestRectifierRetriesSameProviderOnce(t *testing.T) {
	breaker := circuitbreaker.New()
	transport := &scriptedTransport{byProvider: map[string][]AttemptResult{
		"A": {
			{Outcome: OutcomeRectifiable400, UpstreamStatus: 400, ErrorBody: []byte("signature is invalid")},
			{Outcome: OutcomeSuccessBuffered, UpstreamStatus: 200},
		},
	}}
	loop := &Loop{
		Breaker: breaker, BaseURLs: firstURLSelector{}, Transport: transport,
		Rectify: func(body, errBody []byte) ([]byte, bool) { return []byte("repaired"), true },
	}

	result := loop.Run(context.Background(), []catalog.Provider{providerA()}, "", []byte("original"), ModelRewriteInput{}, cfgWithAttempts(2), nil)

	if !result.Success {
		t.Fatalf("expected the rectified retry to succeed, got %+v", result)
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("expected 2 attempts (original 400 + rectified retry), got %d", len(result.Attempts))
	}
}
