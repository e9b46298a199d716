package config

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"sharedcal/internal/calmath"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. All file access goes through an afero.Fs so tests can run on
// a memory filesystem.

// DefaultPath is where the config lives unless --config says otherwise.
const DefaultPath = "~/.config/sharedcal/config.yaml"

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
// PasswordHash is a bcrypt hash; Password is accepted for convenience and
// hashed on the next Save.
type BasicAuthConfig struct {
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password,omitempty" json:"-"`
	PasswordHash string `yaml:"password_hash,omitempty" json:"-"`
}

// hashPassword replaces a plain Password with its bcrypt hash.
func (b *BasicAuthConfig) hashPassword() error {
	if b == nil || b.Password == "" {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(b.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("config: hash basic auth password: %w", err)
	}
	b.PasswordHash = string(hash)
	b.Password = ""
	return nil
}

// Check reports whether the credentials match. A plain Password is compared
// directly until it has been hashed.
func (b *BasicAuthConfig) Check(user, pass string) bool {
	if b == nil || user != b.Username {
		return false
	}
	if b.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(b.PasswordHash), []byte(pass)) == nil
	}
	return b.Password != "" && subtle.ConstantTimeCompare([]byte(b.Password), []byte(pass)) == 1
}

// StoreConfig selects the event store backend.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite", "postgres" or "remote".
	Driver string `yaml:"driver" json:"driver"`
	// Path is the SQLite database file.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn,omitempty" json:"-"`
	// URL is the upstream schedule API base URL for the remote driver.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// Timeout bounds each remote request.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Retries is the number of extra attempts for idempotent remote requests.
	Retries uint `yaml:"retries" json:"retries"`
}

// LayoutConfig carries the layout engine's tunables.
type LayoutConfig struct {
	WeekUnitHeight float64 `yaml:"week_unit_height" json:"week_unit_height"`
	WeekMinHeight  float64 `yaml:"week_min_height" json:"week_min_height"`
	DayUnitHeight  float64 `yaml:"day_unit_height" json:"day_unit_height"`
	DayMinHeight   float64 `yaml:"day_min_height" json:"day_min_height"`
	// MonthCellCap is how many events a month cell lists before "+N".
	// Zero or less shows all of them.
	MonthCellCap int `yaml:"month_cell_cap" json:"month_cell_cap"`
}

// LogConfig configures the level and the optional rotated log file.
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// DisplayName is shown as the signed-in member when no upstream auth is
	// configured.
	DisplayName string `yaml:"display_name" json:"display_name"`

	// DefaultView is the view mode a new session starts in.
	DefaultView calmath.ViewMode `yaml:"default_view" json:"default_view"`

	// Locale picks header and weekday labels: "ko" or "en".
	Locale string `yaml:"locale" json:"locale"`

	// ClockFormat is "24h" (13:00) or "12h" (오후 1:00 / 1:00 PM) for event
	// times in the page and the terminal.
	ClockFormat string `yaml:"clock_format" json:"clock_format"`

	// Timezone is the IANA zone used only to decide today's calendar date
	// (e.g. "Asia/Seoul"). Event times are never converted.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for re-fetching the visible range and syncing ICS sources.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Layout LayoutConfig `yaml:"layout" json:"layout"`
	Store  StoreConfig  `yaml:"store" json:"store"`

	// AuthURL enables upstream sign-in against <AuthURL>/auth/login.
	AuthURL string `yaml:"auth_url,omitempty" json:"auth_url,omitempty"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// CacheDir holds the ICS HTTP cache and the persisted session.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Log LogConfig `yaml:"log" json:"log"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		DisplayName: "sharedcal",
		DefaultView: calmath.ModeMonth,
		Locale:      "ko",
		ClockFormat: "24h",
		Timezone:    "Asia/Seoul",
		RefreshCron: "*/15 * * * *",
		Layout: LayoutConfig{
			WeekUnitHeight: 48,
			WeekMinHeight:  40,
			DayUnitHeight:  60,
			DayMinHeight:   60,
			MonthCellCap:   2,
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			Path:    "~/.local/share/sharedcal/schedules.db",
			Timeout: 15 * time.Second,
			Retries: 2,
		},
		ICS:      []ICSConfig{},
		CacheDir: "~/.cache/sharedcal",
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// TwelveHour reports whether event times are shown on a 12-hour clock.
func (c *Config) TwelveHour() bool {
	return c != nil && c.ClockFormat == "12h"
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.DisplayName == "" {
		c.DisplayName = def.DisplayName
	}
	if !c.DefaultView.Valid() {
		c.DefaultView = calmath.ModeMonth
	}
	switch strings.ToLower(c.Locale) {
	case "ko", "en":
		c.Locale = strings.ToLower(c.Locale)
	default:
		// Unknown value; fall back to Korean labels.
		c.Locale = def.Locale
	}
	if f := strings.ToLower(c.ClockFormat); f == "12h" || f == "24h" {
		c.ClockFormat = f
	} else {
		c.ClockFormat = def.ClockFormat
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}

	if c.Layout.WeekUnitHeight <= 0 {
		c.Layout.WeekUnitHeight = def.Layout.WeekUnitHeight
	}
	if c.Layout.WeekMinHeight <= 0 {
		c.Layout.WeekMinHeight = def.Layout.WeekMinHeight
	}
	if c.Layout.DayUnitHeight <= 0 {
		c.Layout.DayUnitHeight = def.Layout.DayUnitHeight
	}
	if c.Layout.DayMinHeight <= 0 {
		c.Layout.DayMinHeight = def.Layout.DayMinHeight
	}
	// MonthCellCap: zero is a valid "unlimited", so only negatives are
	// folded.
	if c.Layout.MonthCellCap < 0 {
		c.Layout.MonthCellCap = 0
	}

	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Store.Timeout <= 0 {
		c.Store.Timeout = def.Store.Timeout
	}

	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = fmt.Sprintf("ics-%d", i+1)
		}
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = def.Log.MaxSizeMB
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("config: store.dsn is required for the postgres driver")
		}
	case "remote":
		if c.Store.URL == "" {
			return errors.New("config: store.url is required for the remote driver")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	for _, src := range c.ICS {
		if src.URL == "" {
			return fmt.Errorf("config: ics source %s has no url", src.ID)
		}
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" {
		return errors.New("config: basic_auth.username is empty")
	}
	return nil
}

// Location returns the configured zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Expand resolves a leading "~" in p to the home directory.
func Expand(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	out, err := homedir.Expand(p)
	if err != nil {
		return "", fmt.Errorf("config: expand %q: %w", p, err)
	}
	return out, nil
}

// Load loads configuration from the given YAML path on fsys.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(fsys afero.Fs, path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	path, err := Expand(path)
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(fsys, path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(fsys afero.Fs, path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	path, err := Expand(path)
	if err != nil {
		return err
	}

	cfg.Normalize()
	if err := cfg.BasicAuth.hashPassword(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := afero.TempFile(fsys, dir, ".sharedcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer fsys.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := fsys.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return fsys.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(fsys afero.Fs, path string) error {
	return Save(fsys, path, c)
}
