// Package recovery reacts to account-level failures: throttle handling with
// automatic account switching, interactive auth recovery, and the background
// poller that promotes throttled accounts back to active.
package recovery

import "github.com/agentmux/agentmux-core/account"

// Notifier is the callback table for account-level notifications. Any
// callback may be nil; nil callbacks are skipped.
type Notifier struct {
	// AuthRecoveryStarted fires when recovery begins for a session/account.
	AuthRecoveryStarted func(sessionID, accountID string)

	// AuthRecoveryCompleted fires when recovery succeeded.
	AuthRecoveryCompleted func(sessionID, accountID string)

	// AuthRecoveryFailed fires when recovery failed; guidance tells the user
	// what to do next.
	AuthRecoveryFailed func(sessionID, accountID, guidance string)

	// SwitchRespawn instructs the consumer to respawn the session under the
	// given credential directory, resubmitting lastPrompt (may be empty).
	SwitchRespawn func(sessionID, credentialDir, lastPrompt string)

	// Assigned fires when an account is assigned to a session.
	Assigned func(sessionID, accountID string)

	// Throttled fires when an account is marked throttled.
	Throttled func(accountID string, windowTokens int64)

	// SwitchPrompt asks the user to confirm switching the session to the
	// proposed account.
	SwitchPrompt func(sessionID, fromAccountID, toAccountID string)

	// SwitchExecute instructs an immediate switch without confirmation.
	SwitchExecute func(sessionID, fromAccountID, toAccountID string)

	// SwitchUnavailable fires when a throttle cannot lead to a switch,
	// either because auto-switch is disabled or no alternative account
	// remains active.
	SwitchUnavailable func(sessionID, reason string)

	// StatusChanged fires on any account status transition.
	StatusChanged func(accountID string, status account.Status)

	// RecoveryAvailable summarizes a poller batch that recovered accounts.
	RecoveryAvailable func(recovered []string, stillThrottled, total int)
}

func (n *Notifier) notifyStatusChanged(accountID string, status account.Status) {
	if n.StatusChanged != nil {
		n.StatusChanged(accountID, status)
	}
}
