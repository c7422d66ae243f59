package recovery

import (
	"log/slog"
	"sync"
	"time"

	"github.com/agentmux/agentmux-core/account"
	"github.com/agentmux/agentmux-core/config"
)

// Poller promotes throttled accounts back to active once their rate window
// plus a safety margin has elapsed. It exists because, when every account is
// throttled at once, no process is running to produce the usage events that
// would otherwise trigger recovery; only an independent timer unblocks that
// state.
type Poller struct {
	registry *account.Registry
	cfg      *config.Config
	notify   *Notifier
	log      *slog.Logger

	// now is injectable for tests.
	now func() time.Time

	mu   sync.Mutex
	stop chan struct{}
}

// NewPoller wires a recovery poller.
func NewPoller(registry *account.Registry, cfg *config.Config, notify *Notifier, log *slog.Logger) *Poller {
	return &Poller{
		registry: registry,
		cfg:      cfg,
		notify:   notify,
		log:      log,
		now:      time.Now,
	}
}

// Start begins scanning at the configured interval, firing the first scan
// immediately. Idempotent: a second Start while running does nothing.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	p.log.Info("recovery poller started", "interval", p.cfg.PollerInterval())
	go p.run(stop)
}

// Stop halts scanning. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop == nil {
		return
	}
	close(p.stop)
	p.stop = nil
	p.log.Info("recovery poller stopped")
}

func (p *Poller) run(stop chan struct{}) {
	p.Tick()

	ticker := time.NewTicker(p.cfg.PollerInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Tick()
		case <-stop:
			return
		}
	}
}

// Tick scans every throttled account once. An account recovers when the time
// since it was throttled exceeds its window plus the configured margin.
// Exported so a scan can be driven directly in tests and on demand.
func (p *Poller) Tick() {
	now := p.now()
	margin := p.cfg.RecoveryMargin()

	var recovered []string
	stillThrottled := 0
	accounts := p.registry.GetAll()

	for _, prof := range accounts {
		if prof.Status != account.StatusThrottled {
			continue
		}
		if prof.LastThrottled.IsZero() || now.Sub(prof.LastThrottled) <= prof.Window()+margin {
			stillThrottled++
			continue
		}

		if err := p.registry.SetStatus(prof.ID, account.StatusActive); err != nil {
			p.log.Error("failed to reactivate account", "account", prof.ID, "error", err)
			stillThrottled++
			continue
		}
		p.log.Info("account recovered from throttle",
			"account", prof.ID, "throttledAt", prof.LastThrottled)
		recovered = append(recovered, prof.ID)
		p.notify.notifyStatusChanged(prof.ID, account.StatusActive)
	}

	if len(recovered) > 0 {
		if p.notify.RecoveryAvailable != nil {
			p.notify.RecoveryAvailable(recovered, stillThrottled, len(accounts))
		}
	}
}
