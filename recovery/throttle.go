package recovery

import (
	"log/slog"

	"github.com/agentmux/agentmux-core/account"
	"github.com/agentmux/agentmux-core/config"
)

// ThrottleSink persists throttle events. Implemented by the external
// statistics layer; a nil sink disables persistence.
type ThrottleSink interface {
	RecordThrottle(accountID string, windowTokens int64) error
}

// ThrottleHandler reacts to a detected rate-limit signal: it marks the
// account throttled, records the event, and proposes or executes a switch to
// another account per policy.
type ThrottleHandler struct {
	registry *account.Registry
	usage    account.UsageProvider // may be nil
	sink     ThrottleSink          // may be nil
	cfg      *config.Config
	notify   *Notifier
	log      *slog.Logger
}

// NewThrottleHandler wires a throttle handler.
func NewThrottleHandler(registry *account.Registry, usage account.UsageProvider, sink ThrottleSink, cfg *config.Config, notify *Notifier, log *slog.Logger) *ThrottleHandler {
	return &ThrottleHandler{
		registry: registry,
		usage:    usage,
		sink:     sink,
		cfg:      cfg,
		notify:   notify,
		log:      log,
	}
}

// Handle processes a throttle signal for (session, account). Every step is
// isolated at this boundary: failures are logged or notified, never
// propagated to the caller driving output events.
func (h *ThrottleHandler) Handle(sessionID, accountID string) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic in throttle handler",
				"sessionID", sessionID, "account", accountID, "panic", r)
		}
	}()

	prof := h.registry.Get(accountID)
	if prof == nil {
		h.log.Warn("throttle signal for unknown account",
			"sessionID", sessionID, "account", accountID)
		return
	}

	var windowTokens int64
	if h.usage != nil {
		tokens, err := h.usage.WindowTokens(accountID)
		if err != nil {
			h.log.Warn("usage lookup failed", "account", accountID, "error", err)
		} else {
			windowTokens = tokens
		}
	}

	if h.sink != nil {
		if err := h.sink.RecordThrottle(accountID, windowTokens); err != nil {
			h.log.Warn("failed to record throttle event",
				"account", accountID, "error", err)
		}
	}

	if err := h.registry.SetStatus(accountID, account.StatusThrottled); err != nil {
		h.log.Error("failed to mark account throttled",
			"account", accountID, "error", err)
		return
	}
	h.log.Info("account throttled",
		"sessionID", sessionID, "account", accountID, "windowTokens", windowTokens)
	if h.notify.Throttled != nil {
		h.notify.Throttled(accountID, windowTokens)
	}
	h.notify.notifyStatusChanged(accountID, account.StatusThrottled)

	if !h.cfg.AutoSwitchEnabled() {
		h.log.Info("auto-switch disabled, not proposing replacement",
			"sessionID", sessionID)
		if h.notify.SwitchUnavailable != nil {
			h.notify.SwitchUnavailable(sessionID, "automatic account switching is disabled")
		}
		return
	}

	next := h.registry.SelectNextAccount([]string{accountID}, h.usage)
	if next == nil {
		h.log.Warn("no alternative account available", "sessionID", sessionID)
		if h.notify.SwitchUnavailable != nil {
			h.notify.SwitchUnavailable(sessionID, "no other active account is available")
		}
		return
	}

	if h.cfg.NeedsSwitchConfirmation() {
		if h.notify.SwitchPrompt != nil {
			h.notify.SwitchPrompt(sessionID, accountID, next.ID)
		}
	} else {
		if h.notify.SwitchExecute != nil {
			h.notify.SwitchExecute(sessionID, accountID, next.ID)
		}
	}
}
