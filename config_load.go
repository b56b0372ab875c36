package cligateway

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads and parses a config file, merging it over Defaults()
// so an operator only needs to specify the options they want to change.
// Supported formats: JSON (.json), YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	return &cfg, nil
}

// ValidateConfig checks a Config for internally-consistent values before
// it is handed to New.
func ValidateConfig(cfg Config) error {
	switch cfg.GatewayListenMode {
	case ListenLocalhost, ListenLAN, ListenWSLAuto:
	case ListenCustom:
		if cfg.GatewayCustomListenAddress == "" {
			return fmt.Errorf("gateway_custom_listen_address is required when gateway_listen_mode=custom")
		}
	default:
		return fmt.Errorf("unknown gateway_listen_mode: %q", cfg.GatewayListenMode)
	}

	if cfg.PreferredPort <= 0 || cfg.PreferredPort > 65535 {
		return fmt.Errorf("preferred_port out of range: %d", cfg.PreferredPort)
	}
	if cfg.MaxProvidersToTry <= 0 {
		return fmt.Errorf("max_providers_to_try must be positive")
	}
	if cfg.MaxAttemptsPerProvider <= 0 {
		return fmt.Errorf("max_attempts_per_provider must be positive")
	}
	if cfg.UpstreamFirstByteTimeoutSecs <= 0 {
		return fmt.Errorf("upstream_first_byte_timeout_secs must be positive")
	}
	if cfg.UpstreamStreamIdleTimeoutSecs <= 0 {
		return fmt.Errorf("upstream_stream_idle_timeout_secs must be positive")
	}
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker_failure_threshold must be positive")
	}
	if cfg.CircuitBreakerOpenSeconds <= 0 {
		return fmt.Errorf("circuit_breaker_open_seconds must be positive")
	}
	if cfg.CatalogDialect != "sqlite" && cfg.CatalogDialect != "postgres" {
		return fmt.Errorf("catalog_dialect must be \"sqlite\" or \"postgres\", got %q", cfg.CatalogDialect)
	}
	if cfg.LogRetentionDays <= 0 {
		return fmt.Errorf("log_retention_days must be positive")
	}
	return nil
}
