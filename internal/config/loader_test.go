package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != "8080" {
		t.Fatalf("port = %s", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "file" || cfg.Storage.Dir != "data" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.OpenAI.BaseURL != "https://api.openai.com" {
		t.Fatalf("base url = %s", cfg.OpenAI.BaseURL)
	}
	if cfg.Replay.Pacing != 100*time.Millisecond {
		t.Fatalf("pacing = %v", cfg.Replay.Pacing)
	}
	if err := validate(&cfg); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("port = %s", cfg.Server.Port)
	}
}

func TestLoadFrom_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentops.yaml")
	yaml := `
server:
  port: "9090"
storage:
  backend: file
  dir: /tmp/traces
replay:
  pacing: 0s
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("port = %s, want 9090", cfg.Server.Port)
	}
	if cfg.Storage.Dir != "/tmp/traces" {
		t.Fatalf("dir = %s", cfg.Storage.Dir)
	}
	if cfg.Replay.Pacing != 0 {
		t.Fatalf("pacing = %v, want 0", cfg.Replay.Pacing)
	}
	// Untouched values keep their defaults.
	if cfg.Breaker.MaxFailures != 5 {
		t.Fatalf("max failures = %d", cfg.Breaker.MaxFailures)
	}
}

func TestLoadFrom_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentops.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	t.Setenv("AGENTOPS_PORT", "7070")
	t.Setenv("AGENTOPS_LOG_LEVEL", "debug")
	t.Setenv("AGENTOPS_REPLAY_PACING", "250ms")
	t.Setenv("AGENTOPS_PG_MAX_CONNS", "25")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("port = %s, want env value", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %s", cfg.Logging.Level)
	}
	if cfg.Replay.Pacing != 250*time.Millisecond {
		t.Fatalf("pacing = %v", cfg.Replay.Pacing)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Fatalf("max conns = %d", cfg.Postgres.MaxConns)
	}
}

func TestLoadFrom_InvalidBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentops.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  backend: redis\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	_, err := LoadFrom(path)
	if err == nil || !strings.Contains(err.Error(), "storage.backend") {
		t.Fatalf("err = %v, want backend validation error", err)
	}
}

func TestLoadFrom_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentops.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected parse error")
	}
}
