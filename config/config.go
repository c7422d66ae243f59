// Package config manages the agentmux settings file.
//
// Settings live in config.yaml under the config directory (see paths).
// The zero value of every field is replaced with a sensible default on load,
// so a missing or partial file always yields a usable configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentmux/agentmux-core/paths"
)

// Defaults applied by Load when the file omits a value.
const (
	DefaultPollerInterval    = time.Minute
	DefaultRecoveryMargin    = 5 * time.Minute
	DefaultLoginTimeout      = 3 * time.Minute
	DefaultRecoveryGrace     = 2 * time.Second
	DefaultSSHConnectTimeout = 10 * time.Second
)

// Config holds the agentmux settings. All methods are safe for concurrent use.
type Config struct {
	mu   sync.Mutex
	path string

	// AutoSwitch enables automatic account switching when a throttle is detected.
	AutoSwitch bool `yaml:"auto_switch"`

	// SwitchNeedsConfirmation requires user confirmation before executing a switch.
	SwitchNeedsConfirmation bool `yaml:"switch_needs_confirmation"`

	// PollerIntervalSeconds is how often the recovery poller scans throttled accounts.
	PollerIntervalSeconds int `yaml:"poller_interval_seconds"`

	// RecoveryMarginMinutes is the safety margin added to an account's rate
	// window before the poller promotes it back to active.
	RecoveryMarginMinutes int `yaml:"recovery_margin_minutes"`

	// LoginTimeoutSeconds bounds the interactive re-authentication subprocess.
	LoginTimeoutSeconds int `yaml:"login_timeout_seconds"`

	// BaseProfileDir is the shared credential profile used as the sync source
	// when an account's credential file is missing or recovery fails.
	BaseProfileDir string `yaml:"base_profile_dir"`

	// AccountsPath overrides the default accounts.yaml location.
	AccountsPath string `yaml:"accounts_path"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`
}

// Load reads config.yaml from the default location, applying defaults for
// missing values. A missing file is not an error.
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads a config file from an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{path: path, AutoSwitch: true}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero-valued duration fields.
func (c *Config) applyDefaults() {
	if c.PollerIntervalSeconds <= 0 {
		c.PollerIntervalSeconds = int(DefaultPollerInterval / time.Second)
	}
	if c.RecoveryMarginMinutes <= 0 {
		c.RecoveryMarginMinutes = int(DefaultRecoveryMargin / time.Minute)
	}
	if c.LoginTimeoutSeconds <= 0 {
		c.LoginTimeoutSeconds = int(DefaultLoginTimeout / time.Second)
	}
	if c.AccountsPath == "" {
		if p, err := paths.AccountsFilePath(); err == nil {
			c.AccountsPath = p
		}
	}
}

// PollerInterval returns the poller scan interval as a duration.
func (c *Config) PollerInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.PollerIntervalSeconds) * time.Second
}

// RecoveryMargin returns the safety margin as a duration.
func (c *Config) RecoveryMargin() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.RecoveryMarginMinutes) * time.Minute
}

// LoginTimeout returns the re-authentication subprocess timeout.
func (c *Config) LoginTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.LoginTimeoutSeconds) * time.Second
}

// AutoSwitchEnabled reports whether throttles trigger an automatic switch.
func (c *Config) AutoSwitchEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.AutoSwitch
}

// NeedsSwitchConfirmation reports whether a switch waits for user confirmation.
func (c *Config) NeedsSwitchConfirmation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SwitchNeedsConfirmation
}

// BaseProfilePath returns the shared credential sync source directory.
func (c *Config) BaseProfilePath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.BaseProfileDir
}

// Save writes the config back to its file, creating the directory if needed.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		path, err := paths.ConfigFilePath()
		if err != nil {
			return err
		}
		c.path = path
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", c.path, err)
	}
	return nil
}
