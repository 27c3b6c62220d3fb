package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VERDANT_CONFIG_PATH", "")
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.PrecacheName != "verdant-precache-v1" || cfg.Cache.RuntimeName != "verdant-runtime-v1" {
		t.Fatalf("cache names: %q %q", cfg.Cache.PrecacheName, cfg.Cache.RuntimeName)
	}
	if len(cfg.Cache.ShellURLs) != 5 || cfg.Cache.ShellURLs[3] != "/index.html" {
		t.Fatalf("shell urls: %v", cfg.Cache.ShellURLs)
	}
	if cfg.Email.LogLimit != 50 {
		t.Fatalf("log limit=%d", cfg.Email.LogLimit)
	}
	if cfg.API.Retries != 2 || cfg.API.RetryDelay.Duration != 300*time.Millisecond {
		t.Fatalf("api retries=%d delay=%s", cfg.API.Retries, cfg.API.RetryDelay.Duration)
	}
	if cfg.Cache.MaxEntryBytes != 5<<20 {
		t.Fatalf("max entry bytes=%d", cfg.Cache.MaxEntryBytes)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "edge.yaml")
	raw := []byte(`
env: production
api:
  base_url: https://api.example.org/api/
  retries: 4
  retry_delay: 250ms
cache:
  version: v7
  max_entry_bytes: 1024
media:
  progress_interval: 50000000
`)
	if err := os.WriteFile(p, raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	chdir(t, dir)
	t.Setenv("VERDANT_CONFIG_PATH", p)
	t.Setenv("VERDANT_DEV_MODE", "true")
	t.Setenv("VERDANT_API_BASE_URL", "")
	t.Setenv("LOG_MODE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "production" {
		t.Fatalf("env=%q", cfg.Env)
	}
	if !cfg.DevMode {
		t.Fatalf("dev mode should come from env")
	}
	if cfg.API.BaseURL != "https://api.example.org/api" {
		t.Fatalf("base url=%q", cfg.API.BaseURL)
	}
	if cfg.API.RetryDelay.Duration != 250*time.Millisecond || cfg.API.Retries != 4 {
		t.Fatalf("retries=%d delay=%s", cfg.API.Retries, cfg.API.RetryDelay.Duration)
	}
	if cfg.Cache.MaxEntryBytes != 1024 {
		t.Fatalf("max entry bytes=%d", cfg.Cache.MaxEntryBytes)
	}
	if cfg.Media.ProgressInterval.Duration != 50*time.Millisecond {
		t.Fatalf("progress interval=%s", cfg.Media.ProgressInterval.Duration)
	}
	if cfg.Cache.RuntimeName != "verdant-runtime-v7" {
		t.Fatalf("runtime name=%q", cfg.Cache.RuntimeName)
	}
	// Fields absent from the file keep their defaults.
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("addr=%q", cfg.HTTP.Addr)
	}
}

func TestLoadRejectsRedisWithoutAddr(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("VERDANT_CONFIG_PATH", "")
	t.Setenv("VERDANT_STORAGE_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error")
	}
}

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent to testing.T.Chdir in Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore Chdir: %v", err)
		}
	})
}
