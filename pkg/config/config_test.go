package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != ":8080" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
	if cfg.Server.DBPath != "./data/biocollab" || cfg.Sync.Dir != "./data/syncqueue" {
		t.Fatalf("unexpected paths: %+v", cfg.Server)
	}
	if cfg.Hub.SendBuffer != 64 || cfg.Sync.MaxAttempts != 8 {
		t.Fatalf("unexpected defaults: hub=%+v sync=%+v", cfg.Hub, cfg.Sync)
	}
	if cfg.Security.RateLimit.RPS != 20 || cfg.Security.RateLimit.Burst != 40 {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.Security.RateLimit)
	}
	if cfg.Sync.BaseBackoffDuration() != 500*time.Millisecond || cfg.Sync.MaxBackoffDuration() != 30*time.Second {
		t.Fatalf("unexpected backoff defaults")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biocollab.yaml")
	data := []byte(`
server:
  address: 127.0.0.1
  port: 9091
  db_path: /tmp/db
sync:
  dir: /tmp/queue
  max_attempts: 3
  base_backoff: 1s
hub:
  send_buffer: 8
security:
  rate_limit:
    rps: 5
    burst: 10
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9091" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
	if cfg.Server.DBPath != "/tmp/db" || cfg.Sync.Dir != "/tmp/queue" {
		t.Fatalf("paths not loaded: %+v", cfg)
	}
	if cfg.Sync.MaxAttempts != 3 || cfg.Sync.BaseBackoffDuration() != time.Second {
		t.Fatalf("sync not loaded: %+v", cfg.Sync)
	}
	if cfg.Hub.SendBuffer != 8 || cfg.Security.RateLimit.RPS != 5 {
		t.Fatalf("overrides not loaded: %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biocollab.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9091\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BIOCOLLAB_PORT", "7000")
	t.Setenv("BIOCOLLAB_DB_PATH", "/env/db")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7000 || cfg.Server.DBPath != "/env/db" {
		t.Fatalf("env overrides not applied: %+v", cfg.Server)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestInvalidBackoffFallsBack(t *testing.T) {
	s := SyncConfig{BaseBackoff: "sideways", MaxBackoff: "-5s"}
	if s.BaseBackoffDuration() != 500*time.Millisecond {
		t.Fatalf("bad base backoff not defaulted")
	}
	if s.MaxBackoffDuration() != 30*time.Second {
		t.Fatalf("negative max backoff not defaulted")
	}
}
