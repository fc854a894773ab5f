// ABOUTME: Configuration file with the account list, storage and logging settings
// ABOUTME: JSON in the XDG config dir with FEEDSYNC_ environment overrides applied on load

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-envconfig"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/fsutil"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FEEDSYNC_"

// ErrAccountNotFound is returned when no configured account matches.
var ErrAccountNotFound = errors.New("account not configured")

// AccountConfig describes one configured account.
type AccountConfig struct {
	ID       string       `json:"id"`
	Type     account.Type `json:"type"`
	Name     string       `json:"name,omitempty"`
	Username string       `json:"username,omitempty"`
	Endpoint string       `json:"endpoint,omitempty"`
	Active   bool         `json:"active"`
}

// Config stores feedsync configuration.
type Config struct {
	// DataDir holds one directory per account. Supports ~ expansion.
	// Defaults to ~/.local/share/feedsync.
	DataDir string `json:"data_dir,omitempty" env:"DATA_DIR, overwrite"`

	// LogFormat is "text" or "json".
	LogFormat string `json:"log_format,omitempty" env:"LOG_FORMAT, overwrite"`
	LogLevel  string `json:"log_level,omitempty" env:"LOG_LEVEL, overwrite"`

	// RefreshInterval is a Go duration string used by the daemon.
	RefreshInterval string `json:"refresh_interval,omitempty" env:"REFRESH_INTERVAL, overwrite"`

	RetentionDays   int `json:"retention_days,omitempty" env:"RETENTION_DAYS, overwrite"`
	StatusCacheSize int `json:"status_cache_size,omitempty" env:"STATUS_CACHE_SIZE, overwrite"`

	// Feedly OAuth client registration. Never written to disk.
	FeedlyClientID     string `json:"-" env:"FEEDLY_CLIENT_ID"`
	FeedlyClientSecret string `json:"-" env:"FEEDLY_CLIENT_SECRET"`

	Accounts []AccountConfig `json:"accounts,omitempty"`

	path string
}

// GetDataDir returns the configured data directory with ~ expanded.
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return defaultDataDir()
	}
	return ExpandPath(c.DataDir)
}

// AccountDataDir is the directory holding one account's databases.
func (c *Config) AccountDataDir(id string) string {
	return filepath.Join(c.GetDataDir(), "accounts", id)
}

// GetLogFormat defaults to text.
func (c *Config) GetLogFormat() string {
	if c.LogFormat == "" {
		return DefaultLogFormat
	}
	return c.LogFormat
}

// GetLogLevel defaults to info.
func (c *Config) GetLogLevel() string {
	if c.LogLevel == "" {
		return DefaultLogLevel
	}
	return c.LogLevel
}

// GetRefreshInterval parses RefreshInterval. Empty means the default;
// values below MinRefreshInterval are raised to it.
func (c *Config) GetRefreshInterval() (time.Duration, error) {
	if c.RefreshInterval == "" {
		return DefaultRefreshInterval, nil
	}
	d, err := time.ParseDuration(c.RefreshInterval)
	if err != nil {
		return 0, fmt.Errorf("refresh_interval: %w", err)
	}
	if d < MinRefreshInterval {
		return MinRefreshInterval, nil
	}
	return d, nil
}

// GetRetentionDays defaults to DefaultRetentionDays.
func (c *Config) GetRetentionDays() int {
	if c.RetentionDays <= 0 {
		return DefaultRetentionDays
	}
	return c.RetentionDays
}

// GetStatusCacheSize defaults to DefaultStatusCacheSize.
func (c *Config) GetStatusCacheSize() int {
	if c.StatusCacheSize <= 0 {
		return DefaultStatusCacheSize
	}
	return c.StatusCacheSize
}

// SecretsPath is the credentials file next to the config file.
func (c *Config) SecretsPath() string {
	return filepath.Join(filepath.Dir(c.Path()), SecretsFilename)
}

// Path is where the config was loaded from and will be saved to.
func (c *Config) Path() string {
	if c.path == "" {
		return GetConfigPath()
	}
	return c.path
}

// Account returns the configured account with id.
func (c *Config) Account(id string) (AccountConfig, error) {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return AccountConfig{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
}

// AddAccount appends an active account, assigning an id when empty.
func (c *Config) AddAccount(a AccountConfig) (AccountConfig, error) {
	if _, ok := account.ParseType(string(a.Type)); !ok {
		return AccountConfig{}, fmt.Errorf("unknown account type %q", a.Type)
	}
	if a.ID == "" {
		a.ID = string(a.Type) + "-" + uuid.NewString()[:8]
	}
	if _, err := c.Account(a.ID); err == nil {
		return AccountConfig{}, fmt.Errorf("account %s already configured", a.ID)
	}
	a.Active = true
	c.Accounts = append(c.Accounts, a)
	return a, nil
}

// RemoveAccount drops the account with id.
func (c *Config) RemoveAccount(id string) error {
	i := slices.IndexFunc(c.Accounts, func(a AccountConfig) bool { return a.ID == id })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	c.Accounts = slices.Delete(c.Accounts, i, i+1)
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// GetConfigPath returns the config file path.
func GetConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, _ := os.UserHomeDir()
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "feedsync", ConfigFilename)
}

// Load reads the default config file and applies environment overrides.
// A missing file yields an empty config.
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, GetConfigPath(), envconfig.OsLookuper())
}

// LoadFrom reads path and applies overrides from lookuper.
func LoadFrom(ctx context.Context, path string, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, err
	}
	cfg.path = path

	if lookuper != nil {
		if err := envconfig.ProcessWith(ctx, &envconfig.Config{
			Target:   cfg,
			Lookuper: envconfig.PrefixLookuper(EnvPrefix, lookuper),
		}); err != nil {
			return nil, fmt.Errorf("environment overrides: %w", err)
		}
	}
	return cfg, nil
}

// Save writes config to disk atomically.
func (c *Config) Save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFile(c.Path(), append(data, '\n'), FilePerms)
}

// defaultDataDir returns the standard XDG data directory for feedsync.
func defaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "feedsync")
}
