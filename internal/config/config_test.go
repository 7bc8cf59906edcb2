package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "SETTINGS_BACKEND", "ANNOUNCE_PROVIDERS", "STRICT_COMPLETION", "INSIGHTS_INTERVAL_SECONDS", "RATE_LIMIT_PER_MIN", "RATE_LIMIT_BURST"} {
		unsetEnv(t, key)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected port 8080, got %s", cfg.Port)
	}
	if cfg.SettingsBackend != "file" || cfg.SettingsPath != "data/counters.json" {
		t.Fatalf("unexpected settings defaults: %s %s", cfg.SettingsBackend, cfg.SettingsPath)
	}
	if len(cfg.AnnounceProviders) != 2 || cfg.AnnounceProviders[0] != "log" || cfg.AnnounceProviders[1] != "display" {
		t.Fatalf("unexpected providers: %v", cfg.AnnounceProviders)
	}
	if cfg.StrictCompletion {
		t.Fatalf("expected permissive completion by default")
	}
	if cfg.InsightsInterval() != 30*time.Second {
		t.Fatalf("expected 30s insights interval, got %s", cfg.InsightsInterval())
	}
	if cfg.RateLimitPerMinute != 120 || cfg.RateLimitBurst != 30 {
		t.Fatalf("unexpected rate limits: %d/%d", cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SETTINGS_BACKEND", "Redis")
	t.Setenv("ANNOUNCE_PROVIDERS", "amqp,webhook")
	t.Setenv("STRICT_COMPLETION", "true")
	t.Setenv("INSIGHTS_INTERVAL_SECONDS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" || cfg.SettingsBackend != "redis" {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if len(cfg.AnnounceProviders) != 2 || cfg.AnnounceProviders[0] != "amqp" {
		t.Fatalf("unexpected providers: %v", cfg.AnnounceProviders)
	}
	if !cfg.StrictCompletion {
		t.Fatalf("expected strict completion")
	}
	if cfg.InsightsInterval() != 0 {
		t.Fatalf("expected insights to be disabled")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"SETTINGS_BACKEND": "etcd"}},
		{"postgres without dsn", map[string]string{"SETTINGS_BACKEND": "postgres", "DB_DSN": ""}},
		{"bad integer", map[string]string{"RATE_LIMIT_BURST": "lots"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=7070\nSETTINGS_PATH=/var/lib/queueflow/counters.yaml\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Chdir(dir)
	unsetEnv(t, "PORT")
	unsetEnv(t, "SETTINGS_PATH")
	t.Setenv("RATE_LIMIT_BURST", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "7070" || cfg.SettingsPath != "/var/lib/queueflow/counters.yaml" {
		t.Fatalf("expected values from .env, got %s %s", cfg.Port, cfg.SettingsPath)
	}
	if cfg.RateLimitBurst != 5 {
		t.Fatalf("expected environment to win, got %d", cfg.RateLimitBurst)
	}
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}
