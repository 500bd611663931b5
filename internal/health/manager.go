// Package health keeps a radio session alive and watched: the keep-alive
// pinger, reconnection after an unrequested disconnect, and periodic checks
// that publish a heartbeat and prune the message journal.
package health

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flexlink-project/flexlink/internal/config"
	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/util"
)

// Session is the part of the radio the manager watches.
type Session interface {
	ConnectionState() (events.ConnectionState, events.DisconnectReason)
	Connect(ctx context.Context, host string, port int) error
	Handle() string
	SessionID() string
	Counts() map[events.ObjectKind]int
	Outstanding() int
}

// Pruner trims the message journal to its newest entries.
type Pruner interface {
	PruneMessages(ctx context.Context, keep int) (int64, error)
}

// Manager runs periodic checks and the reconnect supervisor.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus
	session  Session
	journal  Pruner

	mu           sync.Mutex
	reconnecting bool
}

// NewManager creates a new health manager. journal may be nil.
func NewManager(cfg *config.Config, eventBus *events.EventBus, session Session, journal Pruner) *Manager {
	return &Manager{
		cfg:      cfg,
		eventBus: eventBus,
		session:  session,
		journal:  journal,
	}
}

// Start launches the checks and blocks until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	timers := m.cfg.GetApplication().Timers

	m.eventBus.Subscribe(events.EventConnectionState, "health.reconnect", func(_ context.Context, ev events.Event) error {
		payload, ok := ev.Payload.(events.ConnectionStatePayload)
		if !ok {
			return nil
		}
		m.onConnectionState(ctx, payload)
		return nil
	})

	// Launch each check as a separate goroutine with its own ticker
	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"heartbeat", timers.HeartbeatInterval, m.publishHeartbeat},
		{"system", timers.SystemCheckInterval, m.checkSystem},
		{"journal_prune", timers.JournalPruneInterval, m.pruneJournal},
	}

	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		check := check
		go func() {
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", started).Msg("health manager started")

	<-ctx.Done()
	m.eventBus.Unsubscribe(events.EventConnectionState, "health.reconnect")
	log.Info().Msg("health manager stopped")
}

// onConnectionState schedules a reconnect when the session drops for any
// reason other than a requested disconnect.
func (m *Manager) onConnectionState(ctx context.Context, p events.ConnectionStatePayload) {
	if p.State != events.StateDisconnected || p.Reason == events.ReasonRequested {
		return
	}

	radioCfg := m.cfg.GetRadio()
	delay := time.Duration(m.cfg.GetApplication().Timers.ReconnectDelaySec) * time.Second
	if !radioCfg.AutoConnect || delay <= 0 {
		return
	}

	m.mu.Lock()
	if m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.mu.Unlock()

	log.Info().
		Str("reason", p.Reason.String()).
		Dur("delay", delay).
		Msg("scheduling reconnect")

	go m.reconnect(ctx, radioCfg, delay)
}

func (m *Manager) reconnect(ctx context.Context, radioCfg config.RadioConfig, delay time.Duration) {
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	state, _ := m.session.ConnectionState()
	if state != events.StateDisconnected {
		return
	}

	connectCtx, cancel := context.WithTimeout(ctx, radioCfg.ConnectTimeout()*2)
	defer cancel()
	if err := m.session.Connect(connectCtx, radioCfg.Host, radioCfg.CommandPort); err != nil {
		// the failed attempt reports its own disconnect, which schedules the next one
		log.Warn().Err(err).Msg("reconnect failed")
	}
}

// publishHeartbeat emits a session summary for the telemetry publishers.
func (m *Manager) publishHeartbeat(ctx context.Context) {
	state, _ := m.session.ConnectionState()

	objects := make(map[string]int)
	for kind, n := range m.session.Counts() {
		objects[kind.String()] = n
	}

	payload := events.HeartbeatPayload{
		SessionID:   m.session.SessionID(),
		State:       state,
		Handle:      m.session.Handle(),
		Objects:     objects,
		Outstanding: m.session.Outstanding(),
		Timestamp:   time.Now(),
	}
	if cpu, err := util.GetCPUUsage(); err == nil {
		payload.CPUPercent = cpu
	}
	if memUsage, err := util.GetMemoryUsage(); err == nil {
		payload.MemoryPercent = memUsage.UsedPercent
	}

	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventHeartbeat,
		Source:  "heartbeat",
		Payload: payload,
	})
}

// checkSystem logs host resource pressure that would starve the stream reader.
func (m *Manager) checkSystem(ctx context.Context) {
	if memUsage, err := util.GetMemoryUsage(); err == nil && memUsage.UsedPercent >= 90 {
		log.Warn().Float64("used_percent", memUsage.UsedPercent).Msg("system memory nearly exhausted")
	}

	if cpu, err := util.GetCPUUsage(); err == nil && cpu >= 95 {
		log.Warn().Float64("cpu_percent", cpu).Msg("CPU saturated, stream packets may be dropped")
	}

	path := m.cfg.GetApplication().Database.Path
	usage, err := util.GetDiskUsage(filepath.Dir(path))
	if err != nil {
		log.Debug().Err(err).Msg("disk utilization check failed")
		return
	}
	if usage.UsedPercent >= 95 {
		log.Warn().
			Float64("used_percent", usage.UsedPercent).
			Uint64("free_gb", usage.Free).
			Msg("disk nearly full, journal writes may fail")
	}
}

// pruneJournal keeps the message journal within its configured size.
func (m *Manager) pruneJournal(ctx context.Context) {
	if m.journal == nil {
		return
	}
	limit := m.cfg.GetApplication().Database.JournalLimit
	if limit <= 0 {
		return
	}

	removed, err := m.journal.PruneMessages(ctx, limit)
	if err != nil {
		log.Warn().Err(err).Msg("journal prune failed")
		return
	}
	if removed > 0 {
		log.Info().Int64("removed", removed).Msg("pruned message journal")
	}
}
