package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/friendsofgo/errors"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ErrMissingFeed is returned by Validate when no feed URL is configured.
var ErrMissingFeed = errors.New("config: feed.url is required")

// FeedConfig describes the calendar feed to synchronize.
type FeedConfig struct {
	// URL is an http(s) URL, a file:// URL or a local path.
	URL string `yaml:"url" json:"url"`
	// ID names the feed in logs. Defaults to "default".
	ID string `yaml:"id" json:"id"`
	// InsecureSkipVerify disables TLS verification for self-signed servers.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
	// CacheDir holds the ETag / Last-Modified cache for http feeds.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	Feed FeedConfig `yaml:"feed" json:"feed"`

	// Timezone is the IANA zone appointments are expressed in on the device.
	Timezone string `yaml:"timezone" json:"timezone"`

	// CutoffYear and RetentionDays together decide which old appointments
	// are not transferred. Zero disables the respective check.
	CutoffYear    int `yaml:"cutoff_year" json:"cutoff_year"`
	RetentionDays int `yaml:"retention_days" json:"retention_days"`

	// Alarms copies VALARM reminders onto appointments.
	Alarms bool `yaml:"alarms" json:"alarms"`
	// SkipNotes leaves long descriptions out of appointment notes.
	SkipNotes bool `yaml:"skip_notes" json:"skip_notes"`
	// Merge updates matching appointments in place instead of replacing
	// the whole datebook.
	Merge bool `yaml:"merge" json:"merge"`

	// Datebook is the path of the SQLite datebook mirror.
	Datebook string `yaml:"datebook" json:"datebook"`

	// Listen is the HTTP listen address for the status API in serve mode.
	Listen string `yaml:"listen" json:"listen"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for periodic syncs in serve mode.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Feed:          FeedConfig{ID: "default", CacheDir: "./var/ics-cache"},
		Timezone:      "UTC",
		RetentionDays: 0,
		Alarms:        true,
		Merge:         true,
		Datebook:      "./var/datebook.db",
		Listen:        "127.0.0.1:8080",
		RefreshCron:   "*/15 * * * *",
		LogLevel:      "info",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	c.Feed.URL = strings.TrimSpace(c.Feed.URL)
	if c.Feed.ID == "" {
		c.Feed.ID = "default"
	}
	if c.Feed.CacheDir == "" {
		c.Feed.CacheDir = "./var/ics-cache"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Datebook == "" {
		c.Datebook = "./var/datebook.db"
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Validate reports configuration the sync cannot run with.
func (c *Config) Validate() error {
	if c.Feed.URL == "" {
		return ErrMissingFeed
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.CutoffYear < 0 {
		return errors.Errorf("config: cutoff_year must not be negative, got %d", c.CutoffYear)
	}
	if c.RetentionDays < 0 {
		return errors.Errorf("config: retention_days must not be negative, got %d", c.RetentionDays)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return errors.Wrapf(err, "config: refresh %q", c.RefreshCron)
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "config: timezone %q", c.Timezone)
	}
	return loc, nil
}

// envOverrides maps environment variables onto config fields.
var envOverrides = []struct {
	key string
	set func(*Config, string)
}{
	{"PALMCAL_FEED_URL", func(c *Config, v string) { c.Feed.URL = v }},
	{"PALMCAL_DATEBOOK", func(c *Config, v string) { c.Datebook = v }},
	{"PALMCAL_LISTEN", func(c *Config, v string) { c.Listen = v }},
	{"PALMCAL_TIMEZONE", func(c *Config, v string) { c.Timezone = v }},
	{"PALMCAL_LOG_LEVEL", func(c *Config, v string) { c.LogLevel = v }},
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error; variables already set are kept.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, "load %s", path)
	}
	return nil
}

// ApplyEnv overlays PALMCAL_* environment variables onto c.
func (c *Config) ApplyEnv() {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.key); ok && strings.TrimSpace(v) != "" {
			o.set(c, strings.TrimSpace(v))
		}
	}
	c.Normalize()
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is unmarshalled and defaults are normalized.
//
// Load does not validate; callers apply env overrides first.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, errors.Wrap(err, "read config")
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes cfg to path atomically via a temp file + rename, with final
// permissions 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".palmcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
