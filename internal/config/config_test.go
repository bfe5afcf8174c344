package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/friendsofgo/errors"
)

func TestLoad_FirstRunWritesDefault(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Timezone != "UTC" || !cfg.Alarms || !cfg.Merge {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("unexpected permissions %o", perm)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrMissingFeed) {
		t.Fatalf("expected ErrMissingFeed, got %v", err)
	}
}

func TestLoad_ExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
feed:
  url: " https://example.com/cal.ics "
  insecure_skip_verify: true
timezone: Europe/Berlin
cutoff_year: 2024
retention_days: 30
alarms: false
skip_notes: true
merge: false
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Feed.URL != "https://example.com/cal.ics" || !cfg.Feed.InsecureSkipVerify || cfg.Feed.ID != "default" {
		t.Fatalf("unexpected feed: %+v", cfg.Feed)
	}
	if cfg.Alarms || !cfg.SkipNotes || cfg.Merge || cfg.CutoffYear != 2024 || cfg.RetentionDays != 30 {
		t.Fatalf("unexpected policy flags: %+v", cfg)
	}
	if cfg.RefreshCron != "*/15 * * * *" || cfg.Datebook == "" {
		t.Fatalf("defaults not filled: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("feed: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing feed", func(c *Config) { c.Feed.URL = "" }, true},
		{"unknown timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, true},
		{"negative cutoff", func(c *Config) { c.CutoffYear = -1 }, true},
		{"negative retention", func(c *Config) { c.RetentionDays = -5 }, true},
		{"bad cron", func(c *Config) { c.RefreshCron = "every now and then" }, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			cfg.Feed.URL = "https://example.com/cal.ics"
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PALMCAL_FEED_URL", "file:///tmp/feed.ics")
	t.Setenv("PALMCAL_LISTEN", " ")
	t.Setenv("PALMCAL_TIMEZONE", "Asia/Tokyo")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.Feed.URL != "file:///tmp/feed.ics" || cfg.Timezone != "Asia/Tokyo" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.Listen != "127.0.0.1:8080" {
		t.Fatalf("blank env value overrode listen: %q", cfg.Listen)
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("PALMCAL_DATEBOOK", "")
	os.Unsetenv("PALMCAL_DATEBOOK")

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PALMCAL_DATEBOOK=/data/datebook.db\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv returned error: %v", err)
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.Datebook != "/data/datebook.db" {
		t.Fatalf("dotenv value not applied: %q", cfg.Datebook)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing .env should be ignored, got %v", err)
	}
}
