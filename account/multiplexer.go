package account

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// credentialFiles are the files that constitute a usable profile, per agent
// CLI. The first entry is the one whose presence marks the profile as logged
// in.
var credentialFiles = []string{".credentials.json", "auth.json"}

// Multiplexer resolves which account each session spawns under and injects
// the credential directory into the spawn environment.
type Multiplexer struct {
	registry *Registry

	// baseProfileDir is the shared profile used as a credential sync source.
	// Empty disables syncing.
	baseProfileDir string

	// onAssigned, when set, is notified after an assignment is recorded.
	onAssigned func(sessionID, accountID string)

	log *slog.Logger
}

// NewMultiplexer creates a multiplexer over the registry.
func NewMultiplexer(registry *Registry, baseProfileDir string, log *slog.Logger) *Multiplexer {
	return &Multiplexer{
		registry:       registry,
		baseProfileDir: baseProfileDir,
		log:            log,
	}
}

// OnAssigned registers an observer for new assignments.
func (m *Multiplexer) OnAssigned(fn func(sessionID, accountID string)) {
	m.onAssigned = fn
}

// ResolveForSpawn picks the account a session will spawn under and injects
// its credential directory into env. Resolution order: explicit caller id,
// the session's sticky assignment if still active, the configured default,
// then capacity-aware selection among active accounts. Returns nil (and
// leaves env untouched) when no account exists at all — sessions may run on
// ambient credentials in that case.
//
// env may be nil (a spawn with no custom environment); the chosen credential
// directory is then only available through the returned profile. When the
// caller already set the credential variable in env, the caller wins: the
// assignment is still recorded but the directory is not replaced.
func (m *Multiplexer) ResolveForSpawn(sessionID, explicitID string, env map[string]string, usage UsageProvider) (*Profile, error) {
	profile := m.resolve(sessionID, explicitID, usage)
	if profile == nil {
		if explicitID != "" {
			return nil, fmt.Errorf("unknown account %s", explicitID)
		}
		return nil, nil
	}

	if env != nil {
		if _, set := env[CredentialDirEnv]; !set {
			env[CredentialDirEnv] = profile.Dir
		}
	}

	// Opportunistic: if the profile has never logged in, seed it from the
	// base profile. Failure never blocks the spawn.
	if !HasCredentials(profile.Dir) && m.baseProfileDir != "" {
		if err := SyncCredentials(m.baseProfileDir, profile.Dir); err != nil {
			m.log.Warn("credential sync from base profile failed",
				"account", profile.ID, "error", err)
		}
	}

	m.registry.AssignToSession(sessionID, profile.ID)
	m.log.Info("account assigned", "sessionID", sessionID, "account", profile.ID)
	if m.onAssigned != nil {
		m.onAssigned(sessionID, profile.ID)
	}
	return profile, nil
}

func (m *Multiplexer) resolve(sessionID, explicitID string, usage UsageProvider) *Profile {
	if explicitID != "" {
		return m.registry.Get(explicitID)
	}

	if assigned, ok := m.registry.GetAssignment(sessionID); ok {
		if p := m.registry.Get(assigned); p != nil && p.Status == StatusActive {
			return p
		}
		// Sticky assignment exists but the account is unusable; fall through.
	}

	if p := m.registry.GetDefaultAccount(); p != nil && p.Status == StatusActive {
		return p
	}

	return m.registry.SelectNextAccount(nil, usage)
}

// HasCredentials reports whether the profile directory contains a credential
// file for any supported agent.
func HasCredentials(dir string) bool {
	for _, name := range credentialFiles {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}

// SyncCredentials copies credential files from one profile directory to
// another. Missing source files are skipped; the sync succeeds if at least
// one file was copied.
func SyncCredentials(fromDir, toDir string) error {
	if err := os.MkdirAll(toDir, 0700); err != nil {
		return fmt.Errorf("failed to create profile directory %s: %w", toDir, err)
	}

	copied := 0
	for _, name := range credentialFiles {
		data, err := os.ReadFile(filepath.Join(fromDir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(toDir, name), data, 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		copied++
	}
	if copied == 0 {
		return fmt.Errorf("no credential files found in %s", fromDir)
	}
	return nil
}
