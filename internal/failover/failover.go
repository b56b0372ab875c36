// Package failover implements the Failover Loop: given an ordered list of
// eligible providers for a request, it walks the list (session-bound
// provider first), gates each through the circuit breaker, selects a base
// URL, sends attempts with retry/switch/abort decisions per outcome, and
// returns the first success or a terminal failure. Grounded in the
// teacher's internal/strategies Fallback.Execute loop, generalized from
// "retry a fixed target list" to the richer outcome/decision table this
// gateway's providers need.
package failover

import (
	"context"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/tidwall/sjson"

	"github.com/cligateway/hub/internal/catalog"
	"github.com/cligateway/hub/internal/circuitbreaker"
	"github.com/cligateway/hub/internal/gwerr"
)

// Decision is what the loop does after an attempt outcome.
type Decision string

const (
	DecisionRetry  Decision = "retry"
	DecisionSwitch Decision = "switch"
	DecisionAbort  Decision = "abort"
)

// Outcome classifies what happened on a single attempt.
type Outcome string

const (
	OutcomeSuccessStream   Outcome = "success_stream"
	OutcomeSuccessBuffered Outcome = "success_buffered"
	OutcomeTransientUpstream Outcome = "transient_upstream"
	OutcomeRectifiable400  Outcome = "rectifiable_400"
	OutcomeClientError     Outcome = "client_error"
	OutcomeServerError     Outcome = "server_error"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeTransportError  Outcome = "transport_error"
)

// AttemptResult is what Transport.Do returns for one attempt.
type AttemptResult struct {
	Outcome        Outcome
	UpstreamStatus int
	ResponseHeader http.Header
	ErrorBody      []byte
	Err            error
	// IsStream is true when Outcome is OutcomeSuccessStream; the caller
	// (router) is responsible for teeing/finalizing the body, failover only
	// records the outcome.
	IsStream bool
	// Body is the live upstream response body on a success outcome. The
	// caller drains and closes it (via bodywrap) once Run returns; failover
	// itself never reads from it.
	Body io.ReadCloser
}

// Transport sends one HTTP attempt to a provider's selected base URL.
// body is the (possibly already-rewritten) request body for this attempt.
type Transport interface {
	Do(ctx context.Context, provider catalog.Provider, baseURL string, body []byte, attemptIndex int) AttemptResult
}

// Config carries the per-request-class tunables named in the spec's
// Failover Loop inputs.
type Config struct {
	MaxProvidersToTry        int
	MaxAttemptsPerProvider   int
	UpstreamFirstByteTimeout time.Duration
	UpstreamStreamIdleTimeout time.Duration
	ProviderCooldownSecs     time.Duration
	EnableThinkingRectifier  bool
}

// DefaultConfig returns the spec's suggested defaults.
func DefaultConfig() Config {
	return Config{
		MaxProvidersToTry:         5,
		MaxAttemptsPerProvider:    2,
		UpstreamFirstByteTimeout:  10 * time.Second,
		UpstreamStreamIdleTimeout: 30 * time.Second,
		ProviderCooldownSecs:      5 * time.Second,
		EnableThinkingRectifier:   true,
	}
}

// SkipReason tags why a provider was skipped without an attempt.
type SkipReason string

const (
	SkipOpen     SkipReason = "SKIP_OPEN"
	SkipCooldown SkipReason = "SKIP_COOLDOWN"
)

// Event is emitted for observability (the event bus / request log) as the
// loop progresses.
type Event struct {
	Kind        string // "skip", "attempt", "rectify", "model_mapping"
	ProviderID  string
	SkipReason  SkipReason
	Attempt     Attempt
}

// Attempt is one Attempt Record as defined by the data model.
type Attempt struct {
	ProviderID         string
	ProviderName       string
	BaseURL            string
	AttemptIndex       int
	Outcome            Outcome
	UpstreamStatus     int
	Decision           Decision
	ErrorCategory      gwerr.Category
	ErrorCode          string
	AttemptStartedMs   int64
	AttemptDurationMs  int64
	CircuitStateBefore circuitbreaker.State
	CircuitStateAfter  circuitbreaker.State
	FailureCount       int
	FailureThreshold   int
	SessionReuse       bool
}

// Result is the final outcome of running the loop for one request.
type Result struct {
	Success         bool
	FinalProviderID string
	FinalStatus     int
	Attempts        []Attempt
	AllUnavailable  bool
	RetryAfter      time.Duration
	TerminalError   *gwerr.Error
	LastAttempt     AttemptResult
	ModelMappings   []ModelMapping
}

// BaseURLSelector picks a provider's base URL for an attempt; Select
// returns the URL the Loop sends to.
type BaseURLSelector interface {
	Select(provider catalog.Provider, now time.Time) string
}

// ModelRewriter computes the effective Claude model slot for a request and
// reports whether a rewrite occurred.
type ModelRewriter interface {
	Rewrite(provider catalog.Provider, requestedModel string, thinkingRequested bool) (effectiveModel, mappingKind string, rewrote bool)
}

// ModelRewriteInput carries the per-request fields the loop needs to apply
// the Claude model-slot rewrite (step 2) before each provider's first
// attempt. BodyField is the JSON field the requested model came from;
// left empty when the model lives outside the body (query/path), which
// this gateway does not rewrite.
type ModelRewriteInput struct {
	RequestedModel    string
	ThinkingRequested bool
	BodyField         string
}

// ModelMapping records one applied Claude model-slot rewrite for the
// special_settings audit trail.
type ModelMapping struct {
	ProviderID     string
	MappingKind    string
	RequestedModel string
	EffectiveModel string
	Applied        bool
}

// RectifyFunc attempts the one-shot thinking-signature repair described in
// the spec's Thinking-Signature Rectifier: given the request body that
// produced a 400 and that 400's error body, it returns a repaired request
// body and whether a change was actually made.
type RectifyFunc func(requestBody, errorBody []byte) (repaired []byte, changed bool)

// Loop runs the Failover Loop against an ordered, already-filtered provider
// list.
type Loop struct {
	Breaker       *circuitbreaker.Breaker
	BaseURLs      BaseURLSelector
	Transport     Transport
	Rectify       RectifyFunc
	ModelRewriter ModelRewriter
}

// Run executes the loop. providers is the enabled, cli_key-filtered catalog
// order; sessionProviderID, if non-empty, is tried first provided it isn't
// currently Open/cooling. body is the buffered request body for attempt 1;
// rewrite/rectify mutate per-attempt copies, never the original.
func (l *Loop) Run(ctx context.Context, providers []catalog.Provider, sessionProviderID string, body []byte, modelIn ModelRewriteInput, cfg Config, onEvent func(Event)) Result {
	ordered := orderProviders(providers, sessionProviderID)

	var (
		attempts        []Attempt
		tried           = make(map[string]bool)
		earliestRetry   time.Time
		haveEarliest    bool
		triedAnyAttempt bool
		result          Result
	)

	for _, p := range ordered {
		if len(tried) >= cfg.MaxProvidersToTry {
			break
		}
		if tried[p.ID] {
			continue
		}

		now := time.Now()
		allow, snap, _ := l.Breaker.ShouldAllow(p.ID, now)
		if !allow {
			reason := SkipOpen
			avail := snap.OpenUntil
			if snap.State == circuitbreaker.StateClosed {
				reason = SkipCooldown
				avail = snap.CooldownUntil
			}
			if !haveEarliest || avail.Before(earliestRetry) {
				earliestRetry = avail
				haveEarliest = true
			}
			if onEvent != nil {
				onEvent(Event{Kind: "skip", ProviderID: p.ID, SkipReason: reason})
			}
			tried[p.ID] = true
			continue
		}
		tried[p.ID] = true

		baseURL := ""
		if l.BaseURLs != nil {
			baseURL = l.BaseURLs.Select(p, now)
		} else if len(p.BaseURLs) > 0 {
			baseURL = p.BaseURLs[0]
		}

		attemptBody := body
		rectifierUsed := false

		if l.ModelRewriter != nil && modelIn.BodyField != "" {
			effectiveModel, mappingKind, rewrote := l.ModelRewriter.Rewrite(p, modelIn.RequestedModel, modelIn.ThinkingRequested)
			if rewrote {
				if next, err := sjson.SetBytes(attemptBody, modelIn.BodyField, effectiveModel); err == nil {
					attemptBody = next
				}
				result.ModelMappings = append(result.ModelMappings, ModelMapping{
					ProviderID:     p.ID,
					MappingKind:    mappingKind,
					RequestedModel: modelIn.RequestedModel,
					EffectiveModel: effectiveModel,
					Applied:        true,
				})
				if onEvent != nil {
					onEvent(Event{Kind: "model_mapping", ProviderID: p.ID})
				}
			}
		}

		for retryIndex := 1; retryIndex <= cfg.MaxAttemptsPerProvider; retryIndex++ {
			triedAnyAttempt = true
			started := time.Now()
			res := l.Transport.Do(ctx, p, baseURL, attemptBody, retryIndex)
			duration := time.Since(started)

			before := l.Breaker.Snapshot(p.ID)
			decision, category, code := classify(res, retryIndex, cfg)

			var after circuitbreaker.Snapshot
			switch category {
			case gwerr.CategoryProvider, gwerr.CategoryTimeout, gwerr.CategorySystem:
				_, afterSnap, transition := l.Breaker.RecordFailure(p.ID, time.Now())
				after = afterSnap
				if transition != nil && transition.After == circuitbreaker.StateOpen {
					decision = DecisionSwitch
				}
				if decision == DecisionSwitch || decision == DecisionAbort {
					l.Breaker.TriggerCooldown(p.ID, time.Now(), cfg.ProviderCooldownSecs)
				}
			default:
				l.Breaker.RecordSuccess(p.ID, time.Now())
				after = l.Breaker.Snapshot(p.ID)
			}

			attempt := Attempt{
				ProviderID:         p.ID,
				ProviderName:       p.DisplayName,
				BaseURL:            baseURL,
				AttemptIndex:       len(attempts) + 1,
				Outcome:            res.Outcome,
				UpstreamStatus:     res.UpstreamStatus,
				Decision:           decision,
				ErrorCategory:      category,
				ErrorCode:          code,
				AttemptStartedMs:   started.UnixMilli(),
				AttemptDurationMs:  duration.Milliseconds(),
				CircuitStateBefore: before.State,
				CircuitStateAfter:  after.State,
				FailureCount:       after.FailureCount,
				FailureThreshold:   after.FailureThreshold,
				SessionReuse:       p.ID == sessionProviderID,
			}
			attempts = append(attempts, attempt)
			if onEvent != nil {
				onEvent(Event{Kind: "attempt", ProviderID: p.ID, Attempt: attempt})
			}

			if res.Outcome == OutcomeSuccessStream || res.Outcome == OutcomeSuccessBuffered {
				result.Success = true
				result.FinalProviderID = p.ID
				result.FinalStatus = res.UpstreamStatus
				result.LastAttempt = res
				result.Attempts = attempts
				return result
			}

			if res.Outcome == OutcomeRectifiable400 && cfg.EnableThinkingRectifier && !rectifierUsed && l.Rectify != nil {
				rectifierUsed = true
				if repaired, changed := l.Rectify(attemptBody, res.ErrorBody); changed {
					attemptBody = repaired
					continue // retry same provider once with the repaired body
				}
			}

			if decision == DecisionRetry {
				time.Sleep(backoff(retryIndex))
				continue
			}
			break // switch or abort: fall through to next provider (or terminate if abort)
		}

		last := attempts[len(attempts)-1]
		if last.Decision == DecisionAbort {
			result.FinalProviderID = p.ID
			result.FinalStatus = last.UpstreamStatus
			result.TerminalError = gwerr.New(last.ErrorCategory, last.ErrorCode, last.UpstreamStatus, "upstream rejected the request")
			result.Attempts = attempts
			return result
		}
	}

	result.Attempts = attempts
	if !triedAnyAttempt {
		result.AllUnavailable = true
		if haveEarliest {
			if d := time.Until(earliestRetry); d > 0 {
				result.RetryAfter = d
			}
		}
		result.TerminalError = gwerr.New(gwerr.CategorySystem, gwerr.CodeAllUnavailable, http.StatusServiceUnavailable, "all providers are unavailable")
		return result
	}

	last := attempts[len(attempts)-1]
	result.FinalProviderID = last.ProviderID
	result.FinalStatus = last.UpstreamStatus
	if last.ErrorCategory == gwerr.CategoryClient {
		result.TerminalError = gwerr.New(gwerr.CategoryClient, last.ErrorCode, last.UpstreamStatus, "upstream rejected the request")
	} else {
		result.TerminalError = gwerr.New(gwerr.CategoryProvider, gwerr.CodeUpstreamAllFailed, http.StatusBadGateway, "all attempted providers failed")
	}
	return result
}

func orderProviders(providers []catalog.Provider, sessionProviderID string) []catalog.Provider {
	if sessionProviderID == "" {
		return providers
	}
	ordered := make([]catalog.Provider, 0, len(providers))
	var sessionProvider *catalog.Provider
	for i := range providers {
		if providers[i].ID == sessionProviderID {
			sessionProvider = &providers[i]
			continue
		}
	}
	if sessionProvider != nil {
		ordered = append(ordered, *sessionProvider)
	}
	for _, p := range providers {
		if p.ID != sessionProviderID {
			ordered = append(ordered, p)
		}
	}
	return ordered
}

func classify(res AttemptResult, retryIndex int, cfg Config) (Decision, gwerr.Category, string) {
	switch res.Outcome {
	case OutcomeTransientUpstream:
		if retryIndex < cfg.MaxAttemptsPerProvider {
			return DecisionRetry, gwerr.CategoryProvider, gwerr.CodeUpstreamRateLimited
		}
		return DecisionSwitch, gwerr.CategoryProvider, gwerr.CodeUpstreamRateLimited
	case OutcomeRectifiable400:
		return DecisionSwitch, gwerr.CategoryProvider, gwerr.CodeInvalidInput
	case OutcomeClientError:
		return DecisionAbort, gwerr.CategoryClient, gwerr.CodeInvalidInput
	case OutcomeServerError:
		return DecisionSwitch, gwerr.CategoryProvider, gwerr.CodeUpstream5xx
	case OutcomeTimeout:
		// send() only classifies a network error as OutcomeTimeout when the
		// transport's ResponseHeaderTimeout fires, so this is specifically
		// the first-byte bound, not a generic timeout.
		return DecisionSwitch, gwerr.CategoryTimeout, gwerr.CodeFirstByteTimeout
	case OutcomeTransportError:
		return DecisionSwitch, gwerr.CategorySystem, gwerr.CodeUpstreamTransport
	default:
		return DecisionSwitch, gwerr.CategoryProvider, gwerr.CodeInternalError
	}
}

// backoff implements min(80ms*retry_index, 800ms), applied only to
// 408/429 retries.
func backoff(retryIndex int) time.Duration {
	ms := math.Min(float64(80*retryIndex), 800)
	return time.Duration(ms) * time.Millisecond
}
