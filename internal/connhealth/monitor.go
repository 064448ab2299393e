package connhealth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/sifter/internal/core/domain"
	"github.com/vietddude/sifter/internal/gateway"
	"github.com/vietddude/sifter/internal/infra/cooldown"
	"github.com/vietddude/sifter/internal/metrics"
)

// Phase is the monitor's position in the connection state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingConnection
	PhaseConnected
	PhaseRecoveringOnce
	PhaseBanDetected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingConnection:
		return "awaiting_connection"
	case PhaseConnected:
		return "connected"
	case PhaseRecoveringOnce:
		return "recovering_once"
	case PhaseBanDetected:
		return "ban_detected"
	default:
		return "unknown"
	}
}

// WorkerControl is the slice of the worker loop the monitor drives during
// a clean shutdown. Stop must release the in-flight item and any
// unprocessed batch before returning.
type WorkerControl interface {
	Stop(ctx context.Context) error
}

// Config holds monitor timing parameters.
type Config struct {
	ConnectTimeout time.Duration // window for a connect attempt to succeed
	GraceDelay     time.Duration // wait after a disconnect before recovering
	ReconnectDelay time.Duration // pause before the lightweight reconnect
	LogoffWait     time.Duration // brief wait for log-off acknowledgment
	Table          []time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 120 * time.Second
	}
	if c.GraceDelay == 0 {
		c.GraceDelay = 8 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.LogoffWait == 0 {
		c.LogoffWait = 2 * time.Second
	}
	if len(c.Table) == 0 {
		c.Table = domain.DefaultEscalationTable
	}
}

// Snapshot is a read-only view of the monitor for health reporting.
type Snapshot struct {
	Phase             string               `json:"phase"`
	Attempts          int                  `json:"attempts"`
	Recovering        bool                 `json:"recovering"`
	LastSuccess       time.Time            `json:"last_success"`
	State             domain.CooldownState `json:"cooldown_state"`
	BanEndTime        time.Time            `json:"ban_end_time"`
	CooldownRemaining time.Duration        `json:"cooldown_remaining"`
}

// Monitor owns the escalating cooldown state machine. All transitions run
// in a single control loop fed by the capability's event channel, the
// connect timer and worker signals; there are no ambient globals.
type Monitor struct {
	instanceID string
	cfg        Config
	cap        gateway.Capability
	store      cooldown.Store
	worker     WorkerControl
	log        *slog.Logger

	signals   chan string   // worker-reported ban evidence
	connected chan struct{} // pulsed on each successful connection

	mu          sync.Mutex
	phase       Phase
	attempts    int // connection attempts since the last success
	recovering  bool
	lastSuccess time.Time
	state       domain.CooldownState
	banEnd      time.Time
}

// NewMonitor creates a monitor starting from a previously persisted state.
func NewMonitor(
	instanceID string,
	cfg Config,
	cap gateway.Capability,
	store cooldown.Store,
	worker WorkerControl,
	state domain.CooldownState,
) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		instanceID: instanceID,
		cfg:        cfg,
		cap:        cap,
		store:      store,
		worker:     worker,
		log:        slog.Default().With("component", "connhealth"),
		signals:    make(chan string, 4),
		connected:  make(chan struct{}, 1),
		phase:      PhaseIdle,
		state:      state,
	}
}

// ReportBanEvidence lets the worker loop flag sustained request timeouts,
// which are ban evidence independent of any single item's retry budget.
// Never blocks the caller.
func (m *Monitor) ReportBanEvidence(reason string) {
	select {
	case m.signals <- reason:
	default:
	}
}

// Connected pulses after each successful connection, letting the
// supervisor hold the worker loop until the session is proven.
func (m *Monitor) Connected() <-chan struct{} {
	return m.connected
}

// Snapshot returns the current machine state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Phase:             m.phase.String(),
		Attempts:          m.attempts,
		Recovering:        m.recovering,
		LastSuccess:       m.lastSuccess,
		State:             m.state,
		BanEndTime:        m.banEnd,
		CooldownRemaining: m.state.Remaining(m.cfg.Table, time.Now()),
	}
}

// State returns the current cooldown state.
func (m *Monitor) State() domain.CooldownState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) setPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
}

func (m *Monitor) isRecovering() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recovering
}

// Run drives the state machine until the context is cancelled or a ban is
// confirmed. On a ban it performs the clean shutdown sequence and returns
// the ban event for the supervisor to act on.
func (m *Monitor) Run(ctx context.Context) (*domain.BanEvent, error) {
	// A fresh session starts with a clean attempt state; only the
	// persisted cooldown state carries across sessions.
	m.mu.Lock()
	m.attempts = 0
	m.recovering = false
	m.phase = PhaseIdle
	m.mu.Unlock()

	var (
		connectTimer   *time.Timer
		graceTimer     *time.Timer
		reconnectTimer *time.Timer
		connectC       <-chan time.Time
		graceC         <-chan time.Time
		reconnectC     <-chan time.Time
	)

	stopTimer := func(t *time.Timer) {
		if t != nil {
			t.Stop()
		}
	}
	defer func() {
		stopTimer(connectTimer)
		stopTimer(graceTimer)
		stopTimer(reconnectTimer)
	}()

	armConnect := func() {
		stopTimer(connectTimer)
		connectTimer = time.NewTimer(m.cfg.ConnectTimeout)
		connectC = connectTimer.C
	}
	disarmConnect := func() {
		stopTimer(connectTimer)
		connectC = nil
	}

	issueConnect := func() error {
		m.setPhase(PhaseAwaitingConnection)
		if err := m.cap.Connect(ctx); err != nil {
			return err
		}
		armConnect()
		return nil
	}

	// beginRecovery funnels every failure signal through one path, so at
	// most one recovery sequence runs at a time. A pending grace window is
	// disarmed here: whichever signal reaches recovery first owns it, and a
	// later grace expiry must not count as a second failure. The first
	// failure gets a lightweight reconnect; any subsequent one is a
	// confirmed ban. Returns the ban event when the failure escalated.
	beginRecovery := func(reason string) (*domain.BanEvent, error) {
		stopTimer(graceTimer)
		graceC = nil

		m.mu.Lock()
		m.attempts++
		attempts := m.attempts
		m.recovering = true
		m.mu.Unlock()

		if attempts > 1 {
			return m.banDetected(ctx, reason)
		}

		m.log.Warn("Connection degraded, scheduling lightweight reconnect",
			"reason", reason, "delay", m.cfg.ReconnectDelay)
		m.setPhase(PhaseRecoveringOnce)
		disarmConnect()
		stopTimer(reconnectTimer)
		reconnectTimer = time.NewTimer(m.cfg.ReconnectDelay)
		reconnectC = reconnectTimer.C
		return nil, nil
	}

	if err := issueConnect(); err != nil {
		return m.banDetected(ctx, "connect command failed: "+err.Error())
	}

	events := m.cap.Events()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case ev, ok := <-events:
			if !ok {
				events = nil
				if m.isRecovering() {
					continue
				}
				if ban, err := beginRecovery("event stream closed"); ban != nil || err != nil {
					return ban, err
				}
				continue
			}
			switch ev.Kind {
			case gateway.EventConnected:
				disarmConnect()
				stopTimer(graceTimer)
				graceC = nil
				stopTimer(reconnectTimer)
				reconnectC = nil

				m.mu.Lock()
				m.attempts = 0
				m.recovering = false
				m.lastSuccess = ev.At
				m.phase = PhaseConnected
				level := m.state.CooldownLevel
				if level > 0 {
					m.state.CooldownLevel = 0
				}
				state := m.state
				m.mu.Unlock()

				if level > 0 {
					// Only a proven connection clears the cooldown, never
					// mere elapsed time.
					if err := m.store.Save(ctx, state); err != nil {
						m.log.Warn("Failed to persist cooldown reset", "error", err)
					}
					metrics.CooldownLevel.Set(0)
					m.log.Info("Connection recovered, cooldown level reset", "previous_level", level)
				} else {
					m.log.Info("Connected to external service")
				}

				select {
				case m.connected <- struct{}{}:
				default:
				}

			case gateway.EventDisconnected, gateway.EventError:
				if m.isRecovering() || graceC != nil {
					continue
				}
				m.log.Warn("Session signal received, waiting grace delay",
					"kind", ev.Kind.String(), "reason", ev.Reason, "grace", m.cfg.GraceDelay)
				stopTimer(graceTimer)
				graceTimer = time.NewTimer(m.cfg.GraceDelay)
				graceC = graceTimer.C
			}

		case <-graceC:
			graceC = nil
			if m.isRecovering() {
				continue
			}
			if ban, err := beginRecovery("session lost"); ban != nil || err != nil {
				return ban, err
			}

		case <-reconnectC:
			reconnectC = nil
			if err := issueConnect(); err != nil {
				return m.banDetected(ctx, "reconnect failed: "+err.Error())
			}

		case <-connectC:
			connectC = nil
			if ban, err := beginRecovery("connect timeout"); ban != nil || err != nil {
				return ban, err
			}

		case reason := <-m.signals:
			if m.isRecovering() {
				continue
			}
			if ban, err := beginRecovery(reason); ban != nil || err != nil {
				return ban, err
			}
		}
	}
}

// banDetected escalates the cooldown level, persists it, and runs the
// clean shutdown sequence scoped to this worker's session: release claimed
// work first, then log off and wait briefly for acknowledgment.
func (m *Monitor) banDetected(ctx context.Context, reason string) (*domain.BanEvent, error) {
	now := time.Now()

	m.mu.Lock()
	m.state = m.state.Escalate(m.cfg.Table, now)
	m.phase = PhaseBanDetected
	m.banEnd = now.Add(m.state.CooldownDuration(m.cfg.Table))
	state := m.state
	banEnd := m.banEnd
	m.mu.Unlock()

	metrics.BansTotal.Inc()
	metrics.CooldownLevel.Set(float64(state.CooldownLevel))

	m.log.Error("Soft ban detected",
		"reason", reason,
		"level", state.CooldownLevel,
		"total_bans", state.TotalBanCount,
		"resume_at", banEnd.Format(time.RFC3339))

	// Persist before anything else so a crash mid-shutdown still escalates.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := m.store.Save(saveCtx, state); err != nil {
		m.log.Warn("Failed to persist cooldown state", "error", err)
	}

	// Release in-flight and claimed work before the session goes away.
	if m.worker != nil {
		if err := m.worker.Stop(saveCtx); err != nil {
			m.log.Warn("Worker stop during ban shutdown failed", "error", err)
		}
	}

	if err := m.cap.LogOff(saveCtx); err != nil {
		m.log.Warn("Log off failed", "error", err)
	} else {
		// Give the daemon a moment to acknowledge the log-off.
		select {
		case <-saveCtx.Done():
		case <-time.After(m.cfg.LogoffWait):
		}
	}

	return &domain.BanEvent{
		InstanceID: m.instanceID,
		Level:      state.CooldownLevel,
		BanCount:   state.TotalBanCount,
		DetectedAt: now,
		ResumeAt:   banEnd,
		Reason:     reason,
	}, nil
}
