package cligateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cligateway/hub/internal/admin"
	"github.com/cligateway/hub/internal/bedrockauth"
	"github.com/cligateway/hub/internal/bodywrap"
	"github.com/cligateway/hub/internal/catalog"
	"github.com/cligateway/hub/internal/circuitbreaker"
	"github.com/cligateway/hub/internal/cost"
	"github.com/cligateway/hub/internal/events"
	"github.com/cligateway/hub/internal/failover"
	"github.com/cligateway/hub/internal/gwerr"
	"github.com/cligateway/hub/internal/latencycache"
	"github.com/cligateway/hub/internal/logging"
	"github.com/cligateway/hub/internal/oauthcred"
	"github.com/cligateway/hub/internal/rectifier"
	"github.com/cligateway/hub/internal/requestlog"
	"github.com/cligateway/hub/internal/responsefixer"
	"github.com/cligateway/hub/internal/router"
	"github.com/cligateway/hub/internal/session"
	"github.com/cligateway/hub/internal/sse"
	"github.com/cligateway/hub/internal/validate"
)

// Gateway wires the request plane together: catalog, circuit breaker,
// session affinity, latency cache, failover loop, event bus, request log,
// and the request router that drives all of it from an inbound HTTP
// request.
type Gateway struct {
	config    Config
	catalog   *catalog.Reader
	breaker   *circuitbreaker.Breaker
	sessions  *session.Manager
	latency   *latencycache.Cache
	events    *events.Bus
	logs      *requestlog.SQLWriter
	router    *router.Router
	validator *validate.Validator
	oauth     *oauthcred.Manager
	client    *http.Client
	startedAt time.Time
}

// New constructs a Gateway from cfg. The catalog and log writer connect to
// their configured SQL dialect immediately; callers should call Close on
// shutdown.
func New(cfg Config) (*Gateway, error) {
	var cat *catalog.Reader
	var logs *requestlog.SQLWriter
	var err error

	catOpts := []catalog.Option{catalog.WithRefreshInterval(cfg.catalogRefreshInterval())}
	if cfg.CatalogDialect == "postgres" {
		cat, err = catalog.NewPostgresReader(cfg.CatalogDSN, catOpts...)
	} else {
		cat, err = catalog.NewSQLiteReader(cfg.CatalogDSN, catOpts...)
	}
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	logOpts := []requestlog.Option{
		requestlog.WithRetentionDays(cfg.LogRetentionDays),
		requestlog.WithLookupMultiplier(func(providerID string) (float64, bool) { return cat.Multiplier(providerID) }),
		requestlog.WithLookupPrice(func(cliKey, model string) (string, bool) { return cat.Price(cliKey, model) }),
	}
	if cfg.CatalogDialect == "postgres" {
		logs, err = requestlog.NewPostgresWriter(cfg.CatalogDSN, logOpts...)
	} else {
		logs, err = requestlog.NewSQLiteWriter(cfg.CatalogDSN, logOpts...)
	}
	if err != nil {
		cat.Close()
		return nil, fmt.Errorf("open request log: %w", err)
	}

	validator, err := validate.New()
	if err != nil {
		logs.Close()
		cat.Close()
		return nil, fmt.Errorf("compile request schemas: %w", err)
	}

	gw := &Gateway{
		config:    cfg,
		catalog:   cat,
		breaker:   circuitbreaker.New(circuitbreaker.WithDefaultFailureThreshold(cfg.CircuitBreakerFailureThreshold), circuitbreaker.WithOpenDuration(time.Duration(cfg.CircuitBreakerOpenSeconds)*time.Second)),
		sessions:  session.New(),
		latency:   latencycache.New(time.Duration(cfg.ProviderBaseURLPingCacheTTLSeconds) * time.Second),
		events:    events.New(),
		logs:      logs,
		router:    router.New(func() string { return uuid.NewString() }),
		validator: validator,
		oauth:     oauthcred.NewManager(),
		client:    &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: cfg.firstByteTimeout()}},
		startedAt: time.Now(),
	}
	return gw, nil
}

// ProviderCount implements admin.ProviderCounter.
func (g *Gateway) ProviderCount() int {
	return len(g.catalog.ProvidersFor("claude")) + len(g.catalog.ProvidersFor("codex")) + len(g.catalog.ProvidersFor("gemini"))
}

// AdminHandlers builds the admin API handlers bound to this Gateway's
// state, for mounting under /admin.
func (g *Gateway) AdminHandlers(boundPort int) *admin.Handlers {
	return &admin.Handlers{
		Token:     g.config.AdminToken,
		Providers: g,
		Breaker:   g.breaker,
		Sessions:  g.sessions,
		Logs:      g.logs,
		BoundPort: boundPort,
	}
}

// Close releases the catalog reader and log writer's resources.
func (g *Gateway) Close() error {
	g.logs.Close()
	return g.catalog.Close()
}

func (g *Gateway) failoverConfig() failover.Config {
	return failover.Config{
		MaxProvidersToTry:         g.config.MaxProvidersToTry,
		MaxAttemptsPerProvider:    g.config.MaxAttemptsPerProvider,
		UpstreamFirstByteTimeout:  g.config.firstByteTimeout(),
		UpstreamStreamIdleTimeout: g.config.streamIdleTimeout(),
		ProviderCooldownSecs:      g.config.cooldown(),
		EnableThinkingRectifier:   g.config.EnableThinkingSignatureRectifier,
	}
}

// dialectFor maps a CLI key to the JSON Schema dialect that validates its
// request body.
func dialectFor(cliKey router.CLIKey) validate.Dialect {
	switch cliKey {
	case router.CLIClaude:
		return validate.DialectClaudeMessages
	case router.CLICodex:
		return validate.DialectOpenAIResponses
	default:
		return validate.DialectGeminiGenerate
	}
}

// ServeHTTP implements the Request Router's dispatch contract (§4.3):
// match, validate, fingerprint-short-circuit, then drive the Failover Loop
// and stream the winning attempt back to the client.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, err := g.router.Match(r.Method, r.URL.Path)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	resolved, err := g.router.Resolve(r, route, r.URL.Path)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	ctx := logging.WithTraceID(r.Context(), resolved.TraceID)
	r = r.WithContext(ctx)
	w.Header().Set("X-Trace-Id", resolved.TraceID)

	if len(resolved.Body) > 0 {
		var parsed any
		if jsonErr := json.Unmarshal(resolved.Body, &parsed); jsonErr == nil {
			if vErr := g.validator.Validate(dialectFor(resolved.CLIKey), parsed); vErr != nil {
				writeGatewayError(w, gwerr.New(gwerr.CategoryClient, gwerr.CodeInvalidInput, http.StatusBadRequest, vErr.Error()))
				return
			}
		}
	}

	fingerprint := router.Fingerprint(resolved.CLIKey, r.URL.Path, resolved.Body)
	if status, code, retryAfter, ok := g.router.Fingerprint.Lookup(fingerprint, time.Now()); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		writeGatewayError(w, gwerr.New(gwerr.CategorySystem, code, status, "recently unavailable, short-circuited"))
		return
	}

	providers := g.catalog.ProvidersFor(string(resolved.CLIKey))
	sessionProviderID := ""
	if resolved.SessionID != "" {
		if pid, ok := g.sessions.Lookup(string(resolved.CLIKey), resolved.SessionID, time.Now()); ok {
			sessionProviderID = pid
		}
	}

	loop := &failover.Loop{
		Breaker:   g.breaker,
		BaseURLs:  &pingSelector{cache: g.latency, client: g.client},
		Transport: &httpTransport{client: g.client, header: resolved.Header, resolved: resolved, oauth: g.oauth},
		Rectify:   rectifyFunc(g.config.EnableThinkingSignatureRectifier),
	}

	var modelIn failover.ModelRewriteInput
	if resolved.CLIKey == router.CLIClaude {
		loop.ModelRewriter = claudeSlotRewriter{}
		if resolved.ModelLocation == router.LocationBodyJSON {
			modelIn = failover.ModelRewriteInput{
				RequestedModel:    resolved.RequestedModel,
				ThinkingRequested: resolved.Thinking,
				BodyField:         resolved.Route.ModelBodyField,
			}
		}
	}

	g.events.Publish(events.TopicRequest, map[string]any{"trace_id": resolved.TraceID, "cli_key": resolved.CLIKey})

	result := loop.Run(r.Context(), providers, sessionProviderID, resolved.Body, modelIn, g.failoverConfig(), func(ev failover.Event) {
		g.events.Publish(events.TopicAttempt, ev)
	})

	if resolved.SessionID != "" && result.FinalProviderID != "" {
		g.sessions.Bind(string(resolved.CLIKey), resolved.SessionID, result.FinalProviderID, 30*time.Minute, time.Now())
	}

	entry := requestlog.Entry{
		TraceID:         resolved.TraceID,
		CLIKey:          string(resolved.CLIKey),
		SessionID:       resolved.SessionID,
		Method:          r.Method,
		Path:            r.URL.Path,
		Query:           r.URL.RawQuery,
		RequestedModel:  resolved.RequestedModel,
		FinalProviderID: result.FinalProviderID,
	}

	if result.AllUnavailable {
		g.router.Fingerprint.Remember(fingerprint, http.StatusServiceUnavailable, gwerr.CodeAllUnavailable, time.Now().Add(result.RetryAfter))
		g.router.Fingerprint.Remember("unavailable:"+string(resolved.CLIKey), http.StatusServiceUnavailable, gwerr.CodeAllUnavailable, time.Now().Add(result.RetryAfter))
	}

	if !result.Success {
		entry.Status = "error"
		entry.SpecialSettingsJSON = marshalSpecialSettings(result.ModelMappings, nil)
		if result.TerminalError != nil {
			entry.ErrorCode = result.TerminalError.Code
		}
		g.logs.Enqueue(entry)
		if result.TerminalError != nil {
			writeGatewayError(w, result.TerminalError)
		} else {
			writeGatewayError(w, gwerr.New(gwerr.CategorySystem, gwerr.CodeInternalError, http.StatusInternalServerError, "failover loop returned no result"))
		}
		return
	}

	entry.Status = "success"
	g.finishSuccess(w, result, entry)
}

// finishSuccess streams the winning attempt's body to the client through
// the polymorphic body abstraction selected by content type/encoding, then
// pushes the resolved Request Log entry.
func (g *Gateway) finishSuccess(w http.ResponseWriter, result failover.Result, entry requestlog.Entry) {
	last := result.LastAttempt
	for k, vs := range last.ResponseHeader {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Del("Content-Length")
	gzipped := strings.EqualFold(last.ResponseHeader.Get("Content-Encoding"), "gzip")
	if gzipped {
		w.Header().Del("Content-Encoding")
	}
	w.WriteHeader(result.FinalStatus)

	idleTimeout := g.config.streamIdleTimeout()
	var fixRewrites []responsefixer.Rewrite

	var body bodywrap.Body
	switch {
	case last.IsStream && gzipped:
		body = bodywrap.GunzippedSseTee{Src: last.Body, IdleTimeout: idleTimeout}
	case last.IsStream:
		body = bodywrap.SseTee{Src: last.Body, IdleTimeout: idleTimeout}
	default:
		body = bodywrap.Buffered{Src: last.Body, Gzipped: gzipped, Rewrite: func(b []byte) []byte {
			if !g.config.EnableResponseFixer {
				return b
			}
			fixed, rewrites := responsefixer.Fix(b, responsefixer.Options{NormalizeStopReason: true, LiftUsageSubkeys: true, FillServiceTier: true})
			fixRewrites = rewrites
			return fixed
		}}
	}

	fin := body.WriteTo(w)
	if last.Body != nil {
		_ = last.Body.Close()
	}

	entry.TotalDurationMs = fin.TotalDurationMs
	entry.TimeToFirstByteMs = fin.TimeToFirstByteMs
	if fin.SSE != nil && len(fin.SSE.Usage) > 0 {
		entry.UsageJSON = string(fin.SSE.Usage)
		entry.Usage = usageFromJSON(fin.SSE.Usage)
	}
	if fin.Err != nil && errors.Is(fin.Err, sse.ErrIdleTimeout) {
		entry.Status = "error"
		entry.ErrorCode = gwerr.CodeStreamIdleTimeout
	}
	entry.SpecialSettingsJSON = marshalSpecialSettings(result.ModelMappings, fixRewrites)
	g.logs.Enqueue(entry)
}

// claudeSlotRewriter implements failover.ModelRewriter over the provider's
// parsed model slots (§4.4 step 2).
type claudeSlotRewriter struct{}

func (claudeSlotRewriter) Rewrite(p catalog.Provider, requestedModel string, thinkingRequested bool) (string, string, bool) {
	return catalog.EffectiveModel(p.ModelSlots, requestedModel, thinkingRequested)
}

// specialSettingEntry is one audit-trail row surfaced in a Request Log
// entry's special_settings column: either an applied Claude model-slot
// rewrite or a Response Fixer correction.
type specialSettingEntry struct {
	Type           string `json:"type"`
	ProviderID     string `json:"provider_id,omitempty"`
	MappingKind    string `json:"mappingKind,omitempty"`
	RequestedModel string `json:"requestedModel,omitempty"`
	EffectiveModel string `json:"effectiveModel,omitempty"`
	Field          string `json:"field,omitempty"`
	Original       string `json:"original,omitempty"`
	Fixed          string `json:"fixed,omitempty"`
	Applied        bool   `json:"applied"`
}

// marshalSpecialSettings combines the model mappings applied by the
// Failover Loop with the rewrites applied by the Response Fixer into the
// special_settings JSON array logged with the request. Returns "" when
// neither produced anything to record.
func marshalSpecialSettings(mappings []failover.ModelMapping, fixes []responsefixer.Rewrite) string {
	if len(mappings) == 0 && len(fixes) == 0 {
		return ""
	}
	entries := make([]specialSettingEntry, 0, len(mappings)+len(fixes))
	for _, m := range mappings {
		entries = append(entries, specialSettingEntry{
			Type:           "claude_model_mapping",
			ProviderID:     m.ProviderID,
			MappingKind:    m.MappingKind,
			RequestedModel: m.RequestedModel,
			EffectiveModel: m.EffectiveModel,
			Applied:        m.Applied,
		})
	}
	for _, rw := range fixes {
		entries = append(entries, specialSettingEntry{
			Type:     "response_fix",
			Field:    rw.Field,
			Original: rw.Original,
			Fixed:    rw.Fixed,
			Applied:  true,
		})
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return ""
	}
	return string(raw)
}

// usageFromJSON decodes the Claude-style usage object accumulated off the
// SSE stream into the Cost Usage model's typed counters.
func usageFromJSON(raw []byte) cost.Usage {
	var parsed struct {
		InputTokens              int64 `json:"input_tokens"`
		OutputTokens             int64 `json:"output_tokens"`
		CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
		CacheCreation            struct {
			Ephemeral5mInputTokens int64 `json:"ephemeral_5m_input_tokens"`
			Ephemeral1hInputTokens int64 `json:"ephemeral_1h_input_tokens"`
		} `json:"cache_creation"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return cost.Usage{}
	}
	u := cost.Usage{
		InputTokens:                parsed.InputTokens,
		OutputTokens:               parsed.OutputTokens,
		CacheReadInputTokens:       parsed.CacheReadInputTokens,
		CacheCreationInputTokens5m: parsed.CacheCreation.Ephemeral5mInputTokens,
		CacheCreationInputTokens1h: parsed.CacheCreation.Ephemeral1hInputTokens,
	}
	if u.CacheCreationInputTokens5m == 0 && u.CacheCreationInputTokens1h == 0 && parsed.CacheCreationInputTokens != 0 {
		u.CacheCreationInputTokens5m = parsed.CacheCreationInputTokens
	}
	return u
}

func writeGatewayError(w http.ResponseWriter, err error) {
	gerr, ok := err.(*gwerr.Error)
	if !ok {
		gerr = gwerr.New(gwerr.CategorySystem, gwerr.CodeInternalError, http.StatusInternalServerError, err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gerr.Status)
	fmt.Fprintf(w, `{"error":{"code":%q,"message":%q}}`, gerr.Code, gerr.Message)
}

// pingSelector implements failover.BaseURLSelector using the latency cache
// and a HEAD-probe race for providers in ping mode.
type pingSelector struct {
	cache  *latencycache.Cache
	client *http.Client
}

func (s *pingSelector) Select(p catalog.Provider, now time.Time) string {
	if len(p.BaseURLs) == 0 {
		return ""
	}
	if p.BaseURLMode != catalog.BaseURLPing || len(p.BaseURLs) == 1 {
		return p.BaseURLs[0]
	}
	if cached, ok := s.cache.Get(p.ID, now); ok {
		return cached
	}
	winner := latencycache.Race(p.BaseURLs, func(baseURL string) (time.Duration, error) {
		started := time.Now()
		req, err := http.NewRequest(http.MethodHead, baseURL, nil)
		if err != nil {
			return 0, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return 0, err
		}
		resp.Body.Close()
		return time.Since(started), nil
	})
	s.cache.Set(p.ID, winner, now)
	return winner
}

// rectifyFunc adapts internal/rectifier to failover.RectifyFunc.
func rectifyFunc(enabled bool) failover.RectifyFunc {
	if !enabled {
		return func(body, errBody []byte) ([]byte, bool) { return body, false }
	}
	return func(body, errBody []byte) ([]byte, bool) {
		if !rectifier.IsRecoverable(errBody) {
			return body, false
		}
		return rectifier.Rectify(body, errBody)
	}
}

// httpTransport implements failover.Transport over net/http, injecting
// the provider's credential per its AuthMode and classifying the response
// into a failover.Outcome.
type httpTransport struct {
	client   *http.Client
	header   http.Header
	resolved router.Resolved
	oauth    *oauthcred.Manager
}

func (t *httpTransport) Do(ctx context.Context, p catalog.Provider, baseURL string, body []byte, attemptIndex int) failover.AttemptResult {
	switch p.AuthMode {
	case catalog.AuthBedrockSigV4:
		return t.doBedrock(ctx, p, body)
	case catalog.AuthOAuth2CC:
		return t.doOAuth(ctx, p, baseURL, body)
	default:
		return t.doBearer(ctx, p, baseURL, body)
	}
}

func (t *httpTransport) doBearer(ctx context.Context, p catalog.Provider, baseURL string, body []byte) failover.AttemptResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+t.resolved.Route.UpstreamPath, bytes.NewReader(body))
	if err != nil {
		return failover.AttemptResult{Outcome: failover.OutcomeTransportError, Err: err}
	}
	req.Header = t.header.Clone()
	req.Header.Set("Content-Type", "application/json")
	if t.resolved.Route.AuthHeader != "" {
		req.Header.Set(t.resolved.Route.AuthHeader, authHeaderValue(t.resolved.Route.AuthHeader, p.APIKey))
	}
	return t.send(req)
}

func authHeaderValue(header, apiKey string) string {
	if strings.EqualFold(header, "Authorization") {
		return "Bearer " + apiKey
	}
	return apiKey
}

func (t *httpTransport) doOAuth(ctx context.Context, p catalog.Provider, baseURL string, body []byte) failover.AttemptResult {
	creds, err := oauthcred.ParseCredentials(p.APIKey)
	if err != nil {
		return failover.AttemptResult{Outcome: failover.OutcomeTransportError, Err: err}
	}
	token, err := t.oauth.SourceFor(p.ID, creds).Token(ctx)
	if err != nil {
		return failover.AttemptResult{Outcome: failover.OutcomeTransportError, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+t.resolved.Route.UpstreamPath, bytes.NewReader(body))
	if err != nil {
		return failover.AttemptResult{Outcome: failover.OutcomeTransportError, Err: err}
	}
	req.Header = t.header.Clone()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return t.send(req)
}

func (t *httpTransport) doBedrock(ctx context.Context, p catalog.Provider, body []byte) failover.AttemptResult {
	creds, err := bedrockauth.ParseCredentials(p.APIKey)
	if err != nil {
		return failover.AttemptResult{Outcome: failover.OutcomeTransportError, Err: err}
	}
	client, err := bedrockauth.NewClient(ctx, creds)
	if err != nil {
		return failover.AttemptResult{Outcome: failover.OutcomeTransportError, Err: err}
	}

	wantsStream := strings.Contains(string(body), `"stream":true`)
	if wantsStream {
		stream, err := bedrockauth.InvokeStreaming(ctx, client, body, "")
		if err != nil {
			return failover.AttemptResult{Outcome: failover.OutcomeTransportError, Err: err}
		}
		return failover.AttemptResult{
			Outcome:        failover.OutcomeSuccessStream,
			UpstreamStatus: http.StatusOK,
			ResponseHeader: http.Header{"Content-Type": []string{"text/event-stream"}},
			IsStream:       true,
			Body:           stream,
		}
	}

	respBody, status, err := bedrockauth.InvokeBuffered(ctx, client, body, "")
	if err != nil {
		return failover.AttemptResult{Outcome: failover.OutcomeServerError, Err: err}
	}
	return failover.AttemptResult{
		Outcome:        failover.OutcomeSuccessBuffered,
		UpstreamStatus: status,
		ResponseHeader: http.Header{"Content-Type": []string{"application/json"}},
		Body:           io.NopCloser(bytes.NewReader(respBody)),
	}
}

func (t *httpTransport) send(req *http.Request) failover.AttemptResult {
	resp, err := t.client.Do(req)
	if err != nil {
		if isTimeoutErr(err) {
			return failover.AttemptResult{Outcome: failover.OutcomeTimeout, Err: err}
		}
		return failover.AttemptResult{Outcome: failover.OutcomeTransportError, Err: err}
	}

	isStream := strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300 && isStream:
		return failover.AttemptResult{Outcome: failover.OutcomeSuccessStream, UpstreamStatus: resp.StatusCode, ResponseHeader: resp.Header, IsStream: true, Body: resp.Body}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return failover.AttemptResult{Outcome: failover.OutcomeSuccessBuffered, UpstreamStatus: resp.StatusCode, ResponseHeader: resp.Header, Body: resp.Body}
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return failover.AttemptResult{Outcome: failover.OutcomeTransientUpstream, UpstreamStatus: resp.StatusCode, ErrorBody: errBody}
	case resp.StatusCode == http.StatusBadRequest:
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		if rectifier.IsRecoverable(errBody) {
			return failover.AttemptResult{Outcome: failover.OutcomeRectifiable400, UpstreamStatus: resp.StatusCode, ErrorBody: errBody}
		}
		return failover.AttemptResult{Outcome: failover.OutcomeClientError, UpstreamStatus: resp.StatusCode, ErrorBody: errBody}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return failover.AttemptResult{Outcome: failover.OutcomeClientError, UpstreamStatus: resp.StatusCode, ErrorBody: errBody}
	default:
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return failover.AttemptResult{Outcome: failover.OutcomeServerError, UpstreamStatus: resp.StatusCode, ErrorBody: errBody}
	}
}

func isTimeoutErr(err error) bool {
	type timeoutError interface{ Timeout() bool }
	if te, ok := err.(timeoutError); ok {
		return te.Timeout()
	}
	return false
}
