package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Database.Path != "./eshopwatch.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if got := cfg.Schedule.ParseSyncInterval(); got != 6*time.Hour {
		t.Errorf("sync interval = %v, want 6h", got)
	}
	if got := cfg.Site.ParseRequestTimeout(); got != 30*time.Second {
		t.Errorf("request timeout = %v, want 30s", got)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Mail.Enabled {
		t.Error("mail enabled by default")
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
database:
  path: /var/lib/esw/catalog.db
schedule:
  sync_interval: 45m
site:
  base_url: https://staging.example
  deals_feed_url: https://staging.example/deals.rss
server:
  port: 9090
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Path != "/var/lib/esw/catalog.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if got := cfg.Schedule.ParseSyncInterval(); got != 45*time.Minute {
		t.Errorf("sync interval = %v", got)
	}
	if cfg.Site.BaseURL != "https://staging.example" {
		t.Errorf("base url = %q", cfg.Site.BaseURL)
	}
	if cfg.Site.DealsFeedURL != "https://staging.example/deals.rss" {
		t.Errorf("deals feed = %q", cfg.Site.DealsFeedURL)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	// Unset sections keep their defaults.
	if cfg.Mail.From != "deals@eshopwatch.dev" {
		t.Errorf("from = %q", cfg.Mail.From)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ESHOPWATCH_DB_PATH", "/tmp/override.db")
	t.Setenv("ESHOPWATCH_SITE_URL", "https://env.example")
	t.Setenv("SENDGRID_KEY", "SG.test-key")
	t.Setenv("SENDGRID_SENDER", "alerts@env.example")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if cfg.Site.BaseURL != "https://env.example" {
		t.Errorf("base url = %q", cfg.Site.BaseURL)
	}
	if !cfg.Mail.Enabled {
		t.Error("sendgrid key should enable mail")
	}
	if cfg.Mail.APIKey != "SG.test-key" || cfg.Mail.From != "alerts@env.example" {
		t.Errorf("mail = %+v", cfg.Mail)
	}
}

func TestBadDurationFallsBack(t *testing.T) {
	s := ScheduleConfig{SyncInterval: "whenever"}
	if got := s.ParseSyncInterval(); got != 6*time.Hour {
		t.Errorf("interval = %v, want 6h fallback", got)
	}
}
