// Package account manages credential profiles and decides which one each
// session spawns under.
//
// A profile is a directory of provider credentials. Spreading sessions across
// profiles spreads requests across the provider's per-identity rate limits.
package account

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// CredentialDirEnv is the environment variable agents read to locate their
// credential directory. The name is fixed by the agent CLIs, not by us.
const CredentialDirEnv = "CLAUDE_CONFIG_DIR"

// Status is an account's availability state.
type Status string

const (
	StatusActive    Status = "active"
	StatusThrottled Status = "throttled"
	StatusExpired   Status = "expired"
)

// Profile is one credential profile.
type Profile struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Dir is the credential directory injected into spawned agents.
	Dir string `yaml:"dir"`

	Status  Status `yaml:"status"`
	Default bool   `yaml:"default,omitempty"`

	// TokenBudget is the approximate token allowance per rate window.
	// Zero means unknown; capacity-aware selection skips budget math for it.
	TokenBudget int64 `yaml:"token_budget,omitempty"`

	// WindowMinutes is the provider's rate window length.
	WindowMinutes int `yaml:"window_minutes,omitempty"`

	// LastThrottled is when the account last hit a rate limit.
	LastThrottled time.Time `yaml:"last_throttled,omitempty"`
}

// Window returns the rate window as a duration. Accounts without an explicit
// window use five hours, the common provider default.
func (p *Profile) Window() time.Duration {
	if p.WindowMinutes <= 0 {
		return 5 * time.Hour
	}
	return time.Duration(p.WindowMinutes) * time.Minute
}

// UsageProvider reads rolling-window usage totals for an account. Implemented
// by the external statistics layer; the registry only consumes it.
type UsageProvider interface {
	// WindowTokens returns total tokens consumed by the account in its
	// current rate window.
	WindowTokens(accountID string) (int64, error)
}

// registryFile is the on-disk shape of accounts.yaml.
type registryFile struct {
	Accounts []*Profile `yaml:"accounts"`
}

// Registry holds the account profiles and the session→account assignments.
// Profiles persist to accounts.yaml; assignments are in-memory only, since
// they are meaningless across a restart of the supervisor.
type Registry struct {
	mu          sync.Mutex
	path        string
	accounts    []*Profile
	assignments map[string]string // session id → account id
}

// NewRegistry loads the registry from the given accounts file. A missing file
// yields an empty registry, not an error.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:        path,
		assignments: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read accounts file %s: %w", path, err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file %s: %w", path, err)
	}
	for _, p := range file.Accounts {
		if p.Status == "" {
			p.Status = StatusActive
		}
	}
	r.accounts = file.Accounts
	return r, nil
}

// Get returns the profile with the given id, or nil.
func (r *Registry) Get(id string) *Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(id)
}

// GetAll returns a snapshot of all profiles.
func (r *Registry) GetAll() []*Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Profile, len(r.accounts))
	copy(out, r.accounts)
	return out
}

// Add registers a new profile and persists.
func (r *Registry) Add(p *Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findLocked(p.ID) != nil {
		return fmt.Errorf("account %s already exists", p.ID)
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	r.accounts = append(r.accounts, p)
	return r.saveLocked()
}

// SetStatus transitions an account's status and persists. Throttling stamps
// LastThrottled; reactivation clears it.
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.findLocked(id)
	if p == nil {
		return fmt.Errorf("unknown account %s", id)
	}
	p.Status = status
	switch status {
	case StatusThrottled:
		p.LastThrottled = time.Now()
	case StatusActive:
		p.LastThrottled = time.Time{}
	}
	return r.saveLocked()
}

// GetAssignment returns the account id assigned to a session, if any.
func (r *Registry) GetAssignment(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.assignments[sessionID]
	return id, ok
}

// AssignToSession records that a session runs under an account.
func (r *Registry) AssignToSession(sessionID, accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[sessionID] = accountID
}

// ClearAssignment drops a session's assignment (session closed).
func (r *Registry) ClearAssignment(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assignments, sessionID)
}

// GetDefaultAccount returns the profile marked default, or nil.
func (r *Registry) GetDefaultAccount() *Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.accounts {
		if p.Default {
			return p
		}
	}
	return nil
}

// SelectNextAccount picks an active account not in exclude. With a usage
// provider, selection is capacity-aware: the active account with the most
// remaining window budget wins. Without one (or when budgets are unknown) the
// first eligible account wins. Returns nil when no active account remains.
func (r *Registry) SelectNextAccount(exclude []string, usage UsageProvider) *Profile {
	r.mu.Lock()
	defer r.mu.Unlock()

	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	var best *Profile
	var bestRemaining int64 = -1
	for _, p := range r.accounts {
		if p.Status != StatusActive || excluded[p.ID] {
			continue
		}
		if usage == nil || p.TokenBudget <= 0 {
			if best == nil {
				best = p
			}
			continue
		}
		used, err := usage.WindowTokens(p.ID)
		if err != nil {
			// Stats unavailable for this account; still eligible.
			if best == nil {
				best = p
			}
			continue
		}
		remaining := p.TokenBudget - used
		if remaining > bestRemaining {
			best = p
			bestRemaining = remaining
		}
	}
	return best
}

// Save persists the current profiles.
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

func (r *Registry) findLocked(id string) *Profile {
	for _, p := range r.accounts {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// saveLocked writes accounts.yaml. Caller must hold mu.
func (r *Registry) saveLocked() error {
	if r.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create accounts directory: %w", err)
	}
	data, err := yaml.Marshal(registryFile{Accounts: r.accounts})
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write accounts file %s: %w", r.path, err)
	}
	return nil
}
