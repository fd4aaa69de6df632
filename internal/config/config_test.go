package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "REDIS_URL", "HTTP_ADDR", "ADMIN_TOKEN", "NODE_ID",
		"SNAPSHOT_DIR", "SNAPSHOT_INTERVAL", "DUEL_TIMEOUT", "DUEL_SWEEP_INTERVAL",
		"DUEL_RETENTION", "MESSAGES_DIR", "METRICS_ENABLED", "LOG_LEVEL", "LOG_FORMAT",
		"LOG_TO_CONSOLE", "LOG_TO_FILE", "LOG_FILE", "LOG_CALLER",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "pvp_stats.db" || cfg.HTTPAddr != ":8080" || cfg.DuelTimeout != 5*time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SnapshotInterval != 0 || cfg.DuelSweepInterval != 30*time.Second {
		t.Fatalf("unexpected interval defaults %+v", cfg)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ladder.yaml")
	body := `
database_url: postgres://ladder@db/ladder
http_addr: ":9000"
duel_timeout: 2m
snapshot_interval: 10m
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HTTP_ADDR", ":9100")
	t.Setenv("DUEL_SWEEP_INTERVAL", "15")
	t.Setenv("ADMIN_TOKEN", "s3cret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://ladder@db/ladder" {
		t.Fatalf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.HTTPAddr != ":9100" {
		t.Fatalf("env should override file, HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.DuelTimeout != 2*time.Minute || cfg.SnapshotInterval != 10*time.Minute {
		t.Fatalf("durations from file: %v %v", cfg.DuelTimeout, cfg.SnapshotInterval)
	}
	if cfg.DuelSweepInterval != 15*time.Second {
		t.Fatalf("bare seconds not accepted: %v", cfg.DuelSweepInterval)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" || !cfg.Log.ToConsole {
		t.Fatalf("log config = %+v", cfg.Log)
	}
	if cfg.AdminToken != "s3cret" {
		t.Fatalf("AdminToken = %q", cfg.AdminToken)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("DUEL_TIMEOUT", "soon")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for unparsable duration")
	}
	t.Setenv("DUEL_TIMEOUT", "0s")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for zero duel timeout")
	}
	t.Setenv("DUEL_TIMEOUT", "")
	t.Setenv("METRICS_ENABLED", "maybe")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for bad boolean")
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
