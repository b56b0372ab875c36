// Package oauthcred implements the AuthMode=oauth2_cc provider transport:
// the provider's credential field holds an OAuth2 client-credentials pair
// instead of a plaintext API key, and the gateway fetches and caches a
// bearer token before each attempt rather than injecting the key
// verbatim.
package oauthcred

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Credentials is the client id / client secret / token URL triple packed
// into Provider.APIKey for AuthMode=oauth2_cc
// ("clientID:clientSecret:tokenURL"). Scope is optional, appended as a
// fourth colon-separated field.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// ParseCredentials splits a Provider.APIKey value into its parts.
func ParseCredentials(apiKey string) (Credentials, error) {
	parts := strings.SplitN(apiKey, ":", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Credentials{}, fmt.Errorf("oauthcred: expected \"clientID:clientSecret:tokenURL[:scope,scope]\", got malformed credential")
	}
	creds := Credentials{ClientID: parts[0], ClientSecret: parts[1], TokenURL: parts[2]}
	// The token URL carries its own colons (scheme, port). A last
	// colon-separated field with no "/" that is not a port number is the
	// scope list.
	if i := strings.LastIndex(parts[2], ":"); i > 0 {
		tail := parts[2][i+1:]
		if !strings.Contains(tail, "/") && (tail == "" || strings.Trim(tail, "0123456789") != "") {
			creds.TokenURL = parts[2][:i]
			if tail != "" {
				creds.Scopes = strings.Split(tail, ",")
			}
		}
	}
	return creds, nil
}

// tokenClock lets tests control expiry checks without sleeping.
type tokenClock func() time.Time

// cachedToken wraps an oauth2.Token; validAt judges it against a given time.
type cachedToken struct {
	token *oauth2.Token
}

func (c cachedToken) validAt(now time.Time) bool {
	if c.token == nil {
		return false
	}
	if c.token.Expiry.IsZero() {
		return true
	}
	// Refresh a little early so a request never races token expiry mid-flight.
	return c.token.Expiry.After(now.Add(10 * time.Second))
}

// TokenSource fetches and caches a client-credentials bearer token per
// provider. One TokenSource is created per provider id and reused across
// attempts so repeated requests do not each pay a token round trip.
type TokenSource struct {
	mu     sync.Mutex
	cfg    clientcredentials.Config
	now    tokenClock
	cached cachedToken
}

// New builds a TokenSource for the given credentials.
func New(creds Credentials) *TokenSource {
	return &TokenSource{
		cfg: clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     creds.TokenURL,
			Scopes:       creds.Scopes,
		},
		now: time.Now,
	}
}

// Token returns a valid bearer token, fetching a new one only when the
// cached token is absent or within 10 seconds of expiry.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached.validAt(now) {
		return s.cached.token.AccessToken, nil
	}

	token, err := s.cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("oauthcred: fetch client-credentials token: %w", err)
	}
	s.cached = cachedToken{token: token}
	return token.AccessToken, nil
}

// Manager caches one TokenSource per provider id so each provider's
// credential exchange is independent and its cached token is reused
// across the Failover Loop's attempts.
type Manager struct {
	mu      sync.Mutex
	sources map[string]*TokenSource
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{sources: make(map[string]*TokenSource)}
}

// SourceFor returns the TokenSource for providerID, constructing one from
// creds on first use.
func (m *Manager) SourceFor(providerID string, creds Credentials) *TokenSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	if src, ok := m.sources[providerID]; ok {
		return src
	}
	src := New(creds)
	m.sources[providerID] = src
	return src
}
