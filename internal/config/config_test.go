package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_EnvOverrides(t *testing.T) {
	t.Setenv("STREAMHUB_ADDR", "0.0.0.0:9000")
	t.Setenv("STREAMHUB_STORE", "Redis")
	t.Setenv("PROVIDER_TIMEOUT", "3s")
	t.Setenv("MAX_PROVIDER_FETCHES", "not-a-number")
	t.Setenv("PROXY_RATE", "2.5")

	cfg := Default()
	if cfg.Addr != "0.0.0.0:9000" {
		t.Fatalf("addr: %q", cfg.Addr)
	}
	if cfg.Store != StoreRedis {
		t.Fatalf("store: %q", cfg.Store)
	}
	if cfg.ProviderTimeout != 3*time.Second {
		t.Fatalf("provider timeout: %v", cfg.ProviderTimeout)
	}
	if cfg.MaxProviderFetches != 16 {
		t.Fatalf("invalid env value should keep default, got %d", cfg.MaxProviderFetches)
	}
	if cfg.ProxyRate != 2.5 {
		t.Fatalf("proxy rate: %v", cfg.ProxyRate)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamhub.yaml")
	yml := `
addr: 127.0.0.1:7000
store: memory
provider_timeout: 5s
max_provider_fetches: 4
log:
  file: /tmp/streamhub.log
  max_backups: 9
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("MAX_PROVIDER_FETCHES", "6")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != "127.0.0.1:7000" || cfg.Store != StoreMemory {
		t.Fatalf("yaml not applied: %+v", cfg)
	}
	if cfg.ProviderTimeout != 5*time.Second {
		t.Fatalf("provider timeout: %v", cfg.ProviderTimeout)
	}
	if cfg.MaxProviderFetches != 6 {
		t.Fatalf("env should override yaml, got %d", cfg.MaxProviderFetches)
	}
	if cfg.Log.File != "/tmp/streamhub.log" || cfg.Log.MaxBackups != 9 || cfg.Log.MaxSizeMB != 50 {
		t.Fatalf("log config: %+v", cfg.Log)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("store: cassandra\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected invalid store error")
	}
}
