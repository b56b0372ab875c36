package cligateway

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadConfigMergesOverDefaults(t *testing.T) {
	path := writeTempFile(t, "config.json", `{"preferred_port": 9090, "admin_token": "secret"}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PreferredPort != 9090 {
		t.Errorf("expected preferred_port 9090, got %d", cfg.PreferredPort)
	}
	if cfg.AdminToken != "secret" {
		t.Errorf("expected admin_token to be set")
	}
	if cfg.MaxProvidersToTry != Defaults().MaxProvidersToTry {
		t.Errorf("expected unset fields to retain defaults, got %d", cfg.MaxProvidersToTry)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeTempFile(t, "config.yaml", "preferred_port: 9191\ngateway_listen_mode: lan\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PreferredPort != 9191 {
		t.Errorf("expected preferred_port 9191, got %d", cfg.PreferredPort)
	}
	if cfg.GatewayListenMode != ListenLAN {
		t.Errorf("expected lan listen mode, got %q", cfg.GatewayListenMode)
	}
}

func TestLoadConfigNonExistentFile(t *testing.T) {
	_, err := LoadConfig("/tmp/does-not-exist-cligateway-config-12345.json")
	if err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := writeTempFile(t, "bad.json", `{invalid`)
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadConfigUnsupportedExtension(t *testing.T) {
	path := writeTempFile(t, "config.toml", `preferred_port = 9090`)
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	if err := ValidateConfig(Defaults()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateConfigRejectsCustomModeWithoutAddress(t *testing.T) {
	cfg := Defaults()
	cfg.GatewayListenMode = ListenCustom
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected error for custom listen mode without address")
	}
}

func TestValidateConfigRejectsBadPort(t *testing.T) {
	cfg := Defaults()
	cfg.PreferredPort = 0
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidateConfigRejectsUnknownCatalogDialect(t *testing.T) {
	cfg := Defaults()
	cfg.CatalogDialect = "mysql"
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected error for unsupported catalog dialect")
	}
}
