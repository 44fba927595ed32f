package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env if present; secrets stay out of the YAML file.
	_ = godotenv.Load()
}

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Site     SiteConfig     `yaml:"site"`
	Mail     MailConfig     `yaml:"mail"`
	Server   ServerConfig   `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig configures how often a full sync runs.
type ScheduleConfig struct {
	SyncInterval string `yaml:"sync_interval"`
}

// ParseSyncInterval returns the sync interval as time.Duration.
func (s ScheduleConfig) ParseSyncInterval() time.Duration {
	d, err := time.ParseDuration(s.SyncInterval)
	if err != nil {
		return 6 * time.Hour
	}
	return d
}

// SiteConfig configures the storefront adapter.
type SiteConfig struct {
	BaseURL        string `yaml:"base_url"`
	DealsFeedURL   string `yaml:"deals_feed_url"` // optional sale-listing source
	RequestTimeout string `yaml:"request_timeout"`
}

// ParseRequestTimeout returns the per-request timeout as time.Duration.
func (s SiteConfig) ParseRequestTimeout() time.Duration {
	d, err := time.ParseDuration(s.RequestTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// MailConfig configures the sale-notification mailer.
type MailConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	From    string `yaml:"from"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./eshopwatch.db"},
		Schedule: ScheduleConfig{SyncInterval: "6h"},
		Site: SiteConfig{
			BaseURL:        "https://www.nintendo.com",
			RequestTimeout: "30s",
		},
		Mail: MailConfig{
			From: "deals@eshopwatch.dev",
		},
		Server: ServerConfig{Port: 8080},
	}
}

// envOverrides are the environment variables that take precedence over the
// YAML file, mostly secrets.
type envOverrides struct {
	DBPath       string `envconfig:"ESHOPWATCH_DB_PATH"`
	SiteBaseURL  string `envconfig:"ESHOPWATCH_SITE_URL"`
	DealsFeedURL string `envconfig:"ESHOPWATCH_DEALS_FEED_URL"`
	SendGridKey  string `envconfig:"SENDGRID_KEY"`
	MailFrom     string `envconfig:"SENDGRID_SENDER"`
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}
	applyEnvOverrides(cfg, env)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config, env envOverrides) {
	if env.DBPath != "" {
		cfg.Database.Path = env.DBPath
	}
	if env.SiteBaseURL != "" {
		cfg.Site.BaseURL = env.SiteBaseURL
	}
	if env.DealsFeedURL != "" {
		cfg.Site.DealsFeedURL = env.DealsFeedURL
	}
	if env.SendGridKey != "" {
		cfg.Mail.APIKey = env.SendGridKey
		cfg.Mail.Enabled = true
	}
	if env.MailFrom != "" {
		cfg.Mail.From = env.MailFrom
	}
}
