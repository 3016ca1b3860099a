package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sample = `
server:
  address: 0.0.0.0
  port: 9090
store:
  backend: gateway
  gateway:
    url: https://gw.example.com
sync:
  user: alice
  refresh:
    enabled: true
    cron: "*/2 * * * *"
logging:
  level: debug
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "convsync.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadParsesYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:9090" {
		t.Fatalf("addr wrong: %s", cfg.Addr())
	}
	if cfg.Store.Backend != BackendGateway || cfg.Store.Gateway.URL != "https://gw.example.com" {
		t.Fatalf("store config wrong: %+v", cfg.Store)
	}
	if cfg.RefreshCron() != "*/2 * * * *" {
		t.Fatalf("refresh cron wrong: %s", cfg.RefreshCron())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CONVSYNC_USER", "bob")
	t.Setenv("CONVSYNC_STORE_BACKEND", BackendPebble)
	t.Setenv("CONVSYNC_ADDR", ":7000")
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sync.User != "bob" {
		t.Fatalf("env user not applied: %s", cfg.Sync.User)
	}
	if cfg.Store.Backend != BackendPebble {
		t.Fatalf("env backend not applied: %s", cfg.Store.Backend)
	}
	if cfg.Addr() != "127.0.0.1:7000" {
		t.Fatalf("env addr not applied: %s", cfg.Addr())
	}
}

func TestValidateRejectsMissingUser(t *testing.T) {
	var cfg Config
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing user")
	}
}

func TestValidateRejectsGatewayWithoutURL(t *testing.T) {
	cfg := Config{Store: StoreConfig{Backend: BackendGateway}, Sync: SyncConfig{User: "alice"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing gateway url")
	}
}

func TestRefreshDisabledYieldsEmptyCron(t *testing.T) {
	var cfg Config
	if cfg.RefreshCron() != "" {
		t.Fatalf("disabled refresh produced a cron expression")
	}
	cfg.Sync.Refresh.Enabled = true
	if cfg.RefreshCron() == "" {
		t.Fatalf("enabled refresh without cron should default, got empty")
	}
}
