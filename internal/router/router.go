// Package router implements the Request Router: it matches an inbound
// CLI request against a CLI-specific route table, extracts the session
// id and requested model (tracking where the model field lives so a
// later rewrite can edit the same place), strips hop-by-hop headers, and
// buffers the body under a hard cap before handing off to the Failover
// Loop.
package router

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cligateway/hub/internal/gwerr"
)

// CLIKey identifies which coding CLI issued the request.
type CLIKey string

const (
	CLIClaude CLIKey = "claude"
	CLICodex  CLIKey = "codex"
	CLIGemini CLIKey = "gemini"
)

// ModelLocation names where the requested model field lives in the
// inbound request, so a later provider-slot rewrite edits the same spot.
type ModelLocation string

const (
	LocationBodyJSON ModelLocation = "body_json"
	LocationQuery     ModelLocation = "query"
	LocationPath      ModelLocation = "path"
)

// MaxBodyBytes bounds the buffered request body. A request whose body
// exceeds this is rejected with GW_BODY_TOO_LARGE before it ever reaches
// the Failover Loop.
const MaxBodyBytes = 10 * 1024 * 1024 // 10 MiB

// hopByHopHeaders are stripped from every inbound request before it is
// forwarded upstream. CLI-specific authorization headers are stripped
// separately per route, since the Failover Loop injects the provider's
// own credential.
var hopByHopHeaders = []string{"Connection", "Keep-Alive", "Te"}

// Route describes one entry in a CLI's routing table: the inbound method
// and path pattern, the logical CLI it belongs to, where the session id
// and model live, and the upstream path template it normalizes to.
type Route struct {
	Method           string
	Pattern          string
	CLIKey           CLIKey
	UpstreamPath     string
	SessionHeader    string // non-empty: session id comes from this header
	SessionBodyField string // non-empty: session id comes from this top-level body field
	ModelBodyField   string // non-empty: requested model is this top-level body field
	AuthHeader       string // inbound header to strip before forwarding (CLI's own auth)
}

// Resolved is what the router hands to the Failover Loop: a parsed,
// stripped, buffered request ready for provider iteration.
type Resolved struct {
	TraceID        string
	CLIKey         CLIKey
	Route          Route
	SessionID      string
	RequestedModel string
	ModelLocation  ModelLocation
	Body           []byte
	Header         http.Header
	Thinking       bool
}

// IDGenerator produces a new trace id. Injected so tests can use a
// deterministic sequence; production wiring uses uuid.NewString.
type IDGenerator func() string

// FingerprintCache remembers a recent 503 so identical follow-up
// requests fail fast instead of re-trying every provider.
type FingerprintCache struct {
	mu      sync.Mutex
	entries map[string]cachedUnavailable
}

type cachedUnavailable struct {
	retryAfter time.Time
	status     int
	errorCode  string
}

// NewFingerprintCache constructs an empty cache.
func NewFingerprintCache() *FingerprintCache {
	return &FingerprintCache{entries: make(map[string]cachedUnavailable)}
}

// Remember caches a 503 (or similar) outcome against fingerprint until
// retryAfter elapses.
func (c *FingerprintCache) Remember(fingerprint string, status int, errorCode string, retryAfter time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = cachedUnavailable{retryAfter: retryAfter, status: status, errorCode: errorCode}
}

// Lookup returns a cached outcome if fingerprint is present and still
// within its retry window.
func (c *FingerprintCache) Lookup(fingerprint string, now time.Time) (status int, errorCode string, retryAfter time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, found := c.entries[fingerprint]
	if !found || !entry.retryAfter.After(now) {
		if found && !entry.retryAfter.After(now) {
			delete(c.entries, fingerprint)
		}
		return 0, "", 0, false
	}
	return entry.status, entry.errorCode, entry.retryAfter.Sub(now), true
}

// Router matches inbound requests to routes and extracts the fields the
// Failover Loop needs.
type Router struct {
	routes      []Route
	newTraceID  IDGenerator
	Fingerprint *FingerprintCache
}

// New builds a Router over the fixed CLI routing table (Claude Messages,
// Codex/OpenAI Responses, Gemini generateContent) plus any caller-supplied
// additional routes.
func New(newTraceID IDGenerator, extra ...Route) *Router {
	routes := append(defaultRoutes(), extra...)
	return &Router{routes: routes, newTraceID: newTraceID, Fingerprint: NewFingerprintCache()}
}

func defaultRoutes() []Route {
	return []Route{
		{
			Method:         http.MethodPost,
			Pattern:        "/claude/v1/messages",
			CLIKey:         CLIClaude,
			UpstreamPath:   "/v1/messages",
			SessionHeader:  "X-Session-Id",
			ModelBodyField: "model",
			AuthHeader:     "X-Api-Key",
		},
		{
			Method:           http.MethodPost,
			Pattern:          "/v1/responses",
			CLIKey:           CLICodex,
			UpstreamPath:     "/v1/responses",
			SessionBodyField: "previous_response_id",
			ModelBodyField:   "model",
			AuthHeader:       "Authorization",
		},
		{
			Method:         http.MethodPost,
			Pattern:        "/gemini/v1beta/models/{model}:generateContent",
			CLIKey:         CLIGemini,
			UpstreamPath:   "/v1beta/models/{model}:generateContent",
			ModelBodyField: "",
			AuthHeader:     "X-Goog-Api-Key",
		},
		{
			Method:         http.MethodPost,
			Pattern:        "/gemini/v1beta/models/{model}:streamGenerateContent",
			CLIKey:         CLIGemini,
			UpstreamPath:   "/v1beta/models/{model}:streamGenerateContent",
			ModelBodyField: "",
			AuthHeader:     "X-Goog-Api-Key",
		},
	}
}

// Match finds the route for method+path. It returns gwerr with
// CodeUnknownRoute when nothing matches, per §4.3 step 1.
func (rt *Router) Match(method, path string) (Route, error) {
	for _, route := range rt.routes {
		if route.Method != method {
			continue
		}
		if patternMatches(route.Pattern, path) {
			return route, nil
		}
	}
	return Route{}, gwerr.New(gwerr.CategoryClient, gwerr.CodeUnknownRoute, http.StatusNotFound, "no route for "+method+" "+path)
}

// patternMatches supports a single {model} path segment placeholder, the
// only kind of dynamic segment the CLI routes use (Gemini's model-in-path
// convention).
func patternMatches(pattern, path string) bool {
	pSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	aSegs := strings.Split(strings.Trim(path, "/"), "/")
	if len(pSegs) != len(aSegs) {
		return false
	}
	for i, seg := range pSegs {
		if strings.HasPrefix(seg, "{model}") {
			suffix := strings.TrimPrefix(seg, "{model}")
			if len(aSegs[i]) <= len(suffix) || !strings.HasSuffix(aSegs[i], suffix) {
				return false
			}
			continue
		}
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			continue
		}
		if seg != aSegs[i] {
			return false
		}
	}
	return true
}

// pathModelSegment extracts the literal value standing in for a {model}
// placeholder in the matched path, used when ModelLocation is path.
func pathModelSegment(pattern, path string) (string, bool) {
	pSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	aSegs := strings.Split(strings.Trim(path, "/"), "/")
	if len(pSegs) != len(aSegs) {
		return "", false
	}
	for i, seg := range pSegs {
		if strings.HasPrefix(seg, "{model}") {
			return strings.TrimSuffix(aSegs[i], strings.TrimPrefix(seg, "{model}")), true
		}
	}
	return "", false
}

// Resolve performs steps 2-6 of §4.3 for a matched route: trace id
// generation, session/model extraction, header hygiene, and bounded body
// buffering.
func (rt *Router) Resolve(r *http.Request, route Route, matchedPath string) (Resolved, error) {
	body, err := readCapped(r.Body, MaxBodyBytes)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return Resolved{}, gwerr.New(gwerr.CategoryClient, gwerr.CodeBodyTooLarge, http.StatusRequestEntityTooLarge, "request body exceeds cap")
		}
		return Resolved{}, gwerr.New(gwerr.CategoryClient, gwerr.CodeInvalidInput, http.StatusBadRequest, "failed to read request body: "+err.Error())
	}

	header := r.Header.Clone()
	for _, h := range hopByHopHeaders {
		header.Del(h)
	}
	if route.AuthHeader != "" {
		header.Del(route.AuthHeader)
	}

	sessionID := ""
	if route.SessionHeader != "" {
		sessionID = r.Header.Get(route.SessionHeader)
	} else if route.SessionBodyField != "" && len(body) > 0 {
		sessionID = gjson.GetBytes(body, route.SessionBodyField).String()
	}

	requestedModel := ""
	modelLocation := ModelLocation("")
	switch {
	case route.ModelBodyField != "" && len(body) > 0:
		requestedModel = gjson.GetBytes(body, route.ModelBodyField).String()
		modelLocation = LocationBodyJSON
	case strings.Contains(route.Pattern, "{model}"):
		if seg, ok := pathModelSegment(route.Pattern, matchedPath); ok {
			requestedModel = seg
			modelLocation = LocationPath
		}
	default:
		if m := r.URL.Query().Get("model"); m != "" {
			requestedModel = m
			modelLocation = LocationQuery
		}
	}

	thinking := route.CLIKey == CLIClaude && len(body) > 0 &&
		gjson.GetBytes(body, "thinking.type").String() == "enabled"

	return Resolved{
		TraceID:        rt.newTraceID(),
		CLIKey:         route.CLIKey,
		Route:          route,
		SessionID:      sessionID,
		RequestedModel: requestedModel,
		ModelLocation:  modelLocation,
		Body:           body,
		Header:         header,
		Thinking:       thinking,
	}, nil
}

var errBodyTooLarge = errors.New("router: request body exceeds cap")

func readCapped(r io.Reader, max int64) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	limited := io.LimitReader(r, max+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > max {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// Fingerprint computes the (cli_key, path, normalized_body_hash) key used
// to short-circuit repeated requests while a 503 deadline is active.
func Fingerprint(cliKey CLIKey, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(cliKey))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(normalizeBody(body))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeBody re-marshals body through a canonical key order so
// semantically-identical requests with different field ordering collapse
// to the same fingerprint. A parse failure falls back to hashing the raw
// bytes verbatim.
func normalizeBody(body []byte) []byte {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return body
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return canonical
}
