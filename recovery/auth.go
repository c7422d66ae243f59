package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentmux/agentmux-core/account"
	"github.com/agentmux/agentmux-core/config"
	"github.com/agentmux/agentmux-core/exec"
)

// ProcessKiller kills the process currently bound to a session. Implemented
// by the process supervisor.
type ProcessKiller interface {
	Kill(sessionID string) bool
}

// AuthRecovery drives re-authentication when an account's credentials are
// rejected as expired: kill the session's process, run a bounded interactive
// login subprocess against the account's credential directory, verify the
// credentials were actually written, and fall back to a base-profile sync.
type AuthRecovery struct {
	registry *account.Registry
	killer   ProcessKiller
	executor exec.CommandExecutor
	cfg      *config.Config
	notify   *Notifier
	log      *slog.Logger

	// grace is the wait between killing the old process and starting the
	// login subprocess, letting the agent release its credential file locks.
	grace time.Duration

	mu         sync.Mutex
	inProgress map[string]bool   // session ids with a recovery in flight
	lastPrompt map[string]string // session id → last submitted prompt
}

// NewAuthRecovery wires an auth recovery service.
func NewAuthRecovery(registry *account.Registry, killer ProcessKiller, executor exec.CommandExecutor, cfg *config.Config, notify *Notifier, log *slog.Logger) *AuthRecovery {
	return &AuthRecovery{
		registry:   registry,
		killer:     killer,
		executor:   executor,
		cfg:        cfg,
		notify:     notify,
		log:        log,
		grace:      config.DefaultRecoveryGrace,
		inProgress: make(map[string]bool),
		lastPrompt: make(map[string]string),
	}
}

// RecordPrompt remembers the last prompt submitted for a session so it can
// be resubmitted after a successful recovery.
func (a *AuthRecovery) RecordPrompt(sessionID, prompt string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastPrompt[sessionID] = prompt
}

// InProgress reports whether a recovery is running for the session.
func (a *AuthRecovery) InProgress(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inProgress[sessionID]
}

// Recover runs the auth-recovery state machine for (session, account).
// Returns false immediately when a recovery is already in flight for the
// session; otherwise returns whether recovery succeeded. Unexpected panics
// are caught and reported as failure; the in-progress guard is always
// released.
func (a *AuthRecovery) Recover(sessionID, accountID string) (ok bool) {
	a.mu.Lock()
	if a.inProgress[sessionID] {
		a.mu.Unlock()
		a.log.Warn("recovery already in progress", "sessionID", sessionID)
		return false
	}
	a.inProgress[sessionID] = true
	a.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			a.log.Error("panic in auth recovery",
				"sessionID", sessionID, "account", accountID, "panic", r)
			a.fail(sessionID, accountID, "internal error during recovery; run the agent's login command manually")
			ok = false
		}
		a.mu.Lock()
		delete(a.inProgress, sessionID)
		a.mu.Unlock()
	}()

	prof := a.registry.Get(accountID)
	if prof == nil {
		a.log.Error("recovery for unknown account",
			"sessionID", sessionID, "account", accountID)
		a.fail(sessionID, accountID, "account no longer exists")
		return false
	}

	if err := a.registry.SetStatus(accountID, account.StatusExpired); err != nil {
		a.log.Warn("failed to mark account expired", "account", accountID, "error", err)
	}
	a.notify.notifyStatusChanged(accountID, account.StatusExpired)

	// Non-fatal: the process may already be gone.
	if !a.killer.Kill(sessionID) {
		a.log.Debug("no process to kill for session", "sessionID", sessionID)
	}

	if a.notify.AuthRecoveryStarted != nil {
		a.notify.AuthRecoveryStarted(sessionID, accountID)
	}

	time.Sleep(a.grace)

	recovered := a.runLogin(sessionID, prof)
	if !recovered {
		recovered = a.syncFromBase(prof)
	}

	if !recovered {
		a.fail(sessionID, accountID, "re-authentication failed; run the agent's login command with this account's credential directory")
		return false
	}

	if err := a.registry.SetStatus(accountID, account.StatusActive); err != nil {
		a.log.Warn("failed to reactivate account", "account", accountID, "error", err)
	}
	a.notify.notifyStatusChanged(accountID, account.StatusActive)

	a.mu.Lock()
	prompt := a.lastPrompt[sessionID]
	a.mu.Unlock()

	a.log.Info("auth recovery succeeded", "sessionID", sessionID, "account", accountID)
	if a.notify.AuthRecoveryCompleted != nil {
		a.notify.AuthRecoveryCompleted(sessionID, accountID)
	}
	if a.notify.SwitchRespawn != nil {
		a.notify.SwitchRespawn(sessionID, prof.Dir, prompt)
	}
	return true
}

// runLogin spawns the interactive login subprocess bound to the account's
// credential directory, with a hard timeout. A clean exit alone is not
// trusted: the credential file must actually exist afterwards, since login
// commands exit 0 when the user abandons the browser flow.
func (a *AuthRecovery) runLogin(sessionID string, prof *account.Profile) bool {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.LoginTimeout())
	defer cancel()

	cmd := exec.Command{
		Name: "claude",
		Args: []string{"login"},
		Env:  []string{account.CredentialDirEnv + "=" + prof.Dir},
	}

	a.log.Info("starting login subprocess",
		"sessionID", sessionID, "account", prof.ID, "timeout", a.cfg.LoginTimeout())
	_, stderr, err := a.executor.Run(ctx, cmd)
	if ctx.Err() == context.DeadlineExceeded {
		a.log.Warn("login subprocess timed out", "account", prof.ID)
		return false
	}
	if err != nil {
		a.log.Warn("login subprocess failed",
			"account", prof.ID, "error", err, "stderr", string(stderr))
		return false
	}

	if !account.HasCredentials(prof.Dir) {
		a.log.Warn("login exited cleanly but wrote no credentials", "account", prof.ID)
		return false
	}
	return true
}

// syncFromBase copies credentials from the shared base profile as the
// fallback recovery path.
func (a *AuthRecovery) syncFromBase(prof *account.Profile) bool {
	base := a.cfg.BaseProfilePath()
	if base == "" {
		return false
	}
	if err := account.SyncCredentials(base, prof.Dir); err != nil {
		a.log.Warn("base profile sync failed",
			"account", prof.ID, "error", err)
		return false
	}
	a.log.Info("recovered credentials from base profile", "account", prof.ID)
	return true
}

func (a *AuthRecovery) fail(sessionID, accountID, guidance string) {
	if a.notify.AuthRecoveryFailed != nil {
		a.notify.AuthRecoveryFailed(sessionID, accountID, guidance)
	}
}
