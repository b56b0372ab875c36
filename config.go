// Package cligateway implements the local multi-CLI gateway: it sits
// between AI coding CLIs (Claude Code, Codex, Gemini CLI) and a
// user-curated pool of upstream providers, failing over between them
// without the CLI ever observing a broken connection.
package cligateway

import "time"

// ListenMode controls which interfaces the gateway binds to.
type ListenMode string

const (
	ListenLocalhost ListenMode = "localhost"
	ListenLAN       ListenMode = "lan"
	ListenCustom    ListenMode = "custom"
	ListenWSLAuto   ListenMode = "wsl_auto"
)

// Config holds every recognized gateway option from the configuration
// table, plus the catalog/admin wiring needed to construct a Gateway.
type Config struct {
	PreferredPort              int        `json:"preferred_port" yaml:"preferred_port"`
	GatewayListenMode          ListenMode `json:"gateway_listen_mode" yaml:"gateway_listen_mode"`
	GatewayCustomListenAddress string     `json:"gateway_custom_listen_address,omitempty" yaml:"gateway_custom_listen_address,omitempty"`

	MaxProvidersToTry      int `json:"max_providers_to_try" yaml:"max_providers_to_try"`
	MaxAttemptsPerProvider int `json:"max_attempts_per_provider" yaml:"max_attempts_per_provider"`
	ProviderCooldownSecs   int `json:"provider_cooldown_secs" yaml:"provider_cooldown_secs"`

	UpstreamFirstByteTimeoutSecs           int `json:"upstream_first_byte_timeout_secs" yaml:"upstream_first_byte_timeout_secs"`
	UpstreamStreamIdleTimeoutSecs          int `json:"upstream_stream_idle_timeout_secs" yaml:"upstream_stream_idle_timeout_secs"`
	UpstreamRequestTimeoutNonStreamingSecs int `json:"upstream_request_timeout_non_streaming_secs" yaml:"upstream_request_timeout_non_streaming_secs"`

	CircuitBreakerFailureThreshold int `json:"circuit_breaker_failure_threshold" yaml:"circuit_breaker_failure_threshold"`
	CircuitBreakerOpenSeconds      int `json:"circuit_breaker_open_seconds" yaml:"circuit_breaker_open_seconds"`

	ProviderBaseURLPingCacheTTLSeconds int `json:"provider_base_url_ping_cache_ttl_seconds" yaml:"provider_base_url_ping_cache_ttl_seconds"`

	EnableThinkingSignatureRectifier bool `json:"enable_thinking_signature_rectifier" yaml:"enable_thinking_signature_rectifier"`
	EnableResponseFixer              bool `json:"enable_response_fixer" yaml:"enable_response_fixer"`

	LogRetentionDays int `json:"log_retention_days" yaml:"log_retention_days"`

	// CatalogDSN is the SQLite/Postgres DSN backing the Provider Catalog
	// Reader and Log Writer. Empty selects the SQLite default.
	CatalogDSN             string `json:"catalog_dsn,omitempty" yaml:"catalog_dsn,omitempty"`
	CatalogDialect         string `json:"catalog_dialect,omitempty" yaml:"catalog_dialect,omitempty"` // "sqlite" (default) or "postgres"
	CatalogRefreshInterval int    `json:"catalog_refresh_interval_secs" yaml:"catalog_refresh_interval_secs"`

	// AdminToken gates /admin/*. Empty disables the admin API.
	AdminToken string `json:"admin_token,omitempty" yaml:"admin_token,omitempty"`

	LogLevel  string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty"`
}

// Defaults returns the configuration the gateway runs with when no config
// file is supplied, matching the documented defaults for each option.
func Defaults() Config {
	return Config{
		PreferredPort:                          8787,
		GatewayListenMode:                      ListenLocalhost,
		MaxProvidersToTry:                      5,
		MaxAttemptsPerProvider:                 2,
		ProviderCooldownSecs:                   5,
		UpstreamFirstByteTimeoutSecs:           10,
		UpstreamStreamIdleTimeoutSecs:          30,
		UpstreamRequestTimeoutNonStreamingSecs: 120,
		CircuitBreakerFailureThreshold:         3,
		CircuitBreakerOpenSeconds:              30,
		ProviderBaseURLPingCacheTTLSeconds:     60,
		EnableThinkingSignatureRectifier:       true,
		EnableResponseFixer:                    true,
		LogRetentionDays:                       30,
		CatalogDialect:                         "sqlite",
		CatalogRefreshInterval:                 30,
		LogLevel:                               "info",
		LogFormat:                              "json",
	}
}

func (c Config) firstByteTimeout() time.Duration {
	return time.Duration(c.UpstreamFirstByteTimeoutSecs) * time.Second
}

func (c Config) streamIdleTimeout() time.Duration {
	return time.Duration(c.UpstreamStreamIdleTimeoutSecs) * time.Second
}

func (c Config) cooldown() time.Duration {
	return time.Duration(c.ProviderCooldownSecs) * time.Second
}

func (c Config) catalogRefreshInterval() time.Duration {
	return time.Duration(c.CatalogRefreshInterval) * time.Second
}
