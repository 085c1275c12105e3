package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
port: 9000
debug: true
auth:
  project-id: "my-project"
quota:
  daily-limit: 5
upstream:
  url: "https://provider.example.com/run"
  model: "test-model"
streaming:
  keepalive-seconds: 30
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if !cfg.Debug {
		t.Error("expected debug true")
	}
	if cfg.Auth.ProjectID != "my-project" {
		t.Errorf("unexpected project id %q", cfg.Auth.ProjectID)
	}
	if cfg.Quota.DailyLimit != 5 {
		t.Errorf("expected daily limit 5, got %d", cfg.Quota.DailyLimit)
	}
	if cfg.KeepAliveInterval() != 30*time.Second {
		t.Errorf("unexpected keep-alive interval %v", cfg.KeepAliveInterval())
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  project-id: "my-project"
upstream:
  url: "https://provider.example.com/run"
  model: "test-model"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Port != 8317 {
		t.Errorf("expected default port, got %d", cfg.Port)
	}
	if cfg.Quota.DailyLimit != DefaultDailyLimit {
		t.Errorf("expected default daily limit, got %d", cfg.Quota.DailyLimit)
	}
	if cfg.QuotaWindow() != 24*time.Hour {
		t.Errorf("expected 24h quota window, got %v", cfg.QuotaWindow())
	}
	if cfg.Auth.CertsURL != DefaultCertsURL {
		t.Errorf("expected default certs url, got %q", cfg.Auth.CertsURL)
	}
	if cfg.Upstream.PromptPrefix != DefaultPromptPrefix {
		t.Errorf("expected default prompt prefix, got %q", cfg.Upstream.PromptPrefix)
	}
	if cfg.VerificationTTL() != time.Hour {
		t.Errorf("expected 1h verification ttl, got %v", cfg.VerificationTTL())
	}
	if cfg.KeepAliveInterval() != 0 {
		t.Errorf("keep-alives should default to disabled, got %v", cfg.KeepAliveInterval())
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}

	cfg, err := LoadConfigOptional(filepath.Join(t.TempDir(), "nope.yaml"), true)
	if err != nil {
		t.Fatalf("optional load of missing file failed: %v", err)
	}
	if cfg.Port != 8317 {
		t.Errorf("optional load should produce defaults, got port %d", cfg.Port)
	}
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := writeConfig(t, "port: [not a number")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}
