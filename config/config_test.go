package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.AutoSwitch {
		t.Error("AutoSwitch should default to true")
	}
	if cfg.PollerInterval() != DefaultPollerInterval {
		t.Errorf("PollerInterval = %v", cfg.PollerInterval())
	}
	if cfg.RecoveryMargin() != DefaultRecoveryMargin {
		t.Errorf("RecoveryMargin = %v", cfg.RecoveryMargin())
	}
	if cfg.LoginTimeout() != DefaultLoginTimeout {
		t.Errorf("LoginTimeout = %v", cfg.LoginTimeout())
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `auto_switch: false
switch_needs_confirmation: true
poller_interval_seconds: 30
recovery_margin_minutes: 10
base_profile_dir: /tmp/base
debug: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AutoSwitch {
		t.Error("AutoSwitch should be false")
	}
	if !cfg.SwitchNeedsConfirmation {
		t.Error("SwitchNeedsConfirmation should be true")
	}
	if cfg.PollerInterval() != 30*time.Second {
		t.Errorf("PollerInterval = %v", cfg.PollerInterval())
	}
	if cfg.RecoveryMargin() != 10*time.Minute {
		t.Errorf("RecoveryMargin = %v", cfg.RecoveryMargin())
	}
	if cfg.BaseProfileDir != "/tmp/base" {
		t.Errorf("BaseProfileDir = %q", cfg.BaseProfileDir)
	}
	if !cfg.Debug {
		t.Error("Debug should be true")
	}
}

// Policy fields are read from recovery goroutines through the locking
// accessors rather than directly.
func TestPolicyAccessors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `auto_switch: false
switch_needs_confirmation: true
base_profile_dir: /tmp/base
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AutoSwitchEnabled() {
		t.Error("AutoSwitchEnabled() = true, want false")
	}
	if !cfg.NeedsSwitchConfirmation() {
		t.Error("NeedsSwitchConfirmation() = false, want true")
	}
	if cfg.BaseProfilePath() != "/tmp/base" {
		t.Errorf("BaseProfilePath() = %q", cfg.BaseProfilePath())
	}
}

func TestLoadFromInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("auto_switch: [broken"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("invalid yaml loaded without error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.SwitchNeedsConfirmation = true
	cfg.PollerIntervalSeconds = 120

	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reloaded.SwitchNeedsConfirmation || reloaded.PollerIntervalSeconds != 120 {
		t.Errorf("reloaded = %+v", reloaded)
	}
}
