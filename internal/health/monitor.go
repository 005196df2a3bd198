package health

import (
	"context"
	"sync"
	"time"

	"futu-bridge/internal/metrics"

	"go.uber.org/zap"
)

// State is the watchdog's lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateRecovering
	StateGivenUp
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateRecovering:
		return "recovering"
	case StateGivenUp:
		return "given_up"
	default:
		return "unknown"
	}
}

const (
	stopJoinTimeout = 5 * time.Second
	panicPause      = 5 * time.Second
)

// Target is the connection the watchdog guards. Teardown must be
// idempotent; Reopen recreates the connection from the last known good
// configuration.
type Target interface {
	Probe(ctx context.Context) bool
	Teardown()
	Reopen(ctx context.Context) error
}

// Options tune the watchdog loop.
type Options struct {
	Interval    time.Duration
	Backoff     time.Duration
	MaxAttempts int
}

// Snapshot is the read-only view the facade reports to operators.
type Snapshot struct {
	State         State
	Failures      int
	LastHeartbeat time.Time
}

// Monitor runs one background loop that probes the target every interval
// and drives the reconnection sequence when a probe fails. Recovery runs
// synchronously inside the loop iteration, so the probe cadence pauses for
// the duration of an attempt.
type Monitor struct {
	target Target
	replay func(context.Context) error
	notify func(context.Context, string)
	log    *zap.Logger
	met    *metrics.Metrics
	opts   Options

	mu        sync.Mutex
	state     State
	failures  int
	lastBeat  time.Time
	stopCh    chan struct{}
	done      chan struct{}
	reconnect uint64
}

func NewMonitor(target Target, replay func(context.Context) error, notify func(context.Context, string), opts Options, met *metrics.Metrics, log *zap.Logger) *Monitor {
	if met == nil {
		met = metrics.NewNoop()
	}
	if notify == nil {
		notify = func(context.Context, string) {}
	}
	if replay == nil {
		replay = func(context.Context) error { return nil }
	}
	return &Monitor{
		target: target,
		replay: replay,
		notify: notify,
		log:    log,
		met:    met,
		opts:   opts,
		state:  StateStopped,
	}
}

// Start spawns the watchdog loop. Starting an already-running monitor is a
// no-op, never a second loop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		return
	}
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.state = StateRunning
	m.failures = 0
	m.lastBeat = time.Now()
	go m.loop(ctx, m.stopCh, m.done)
	m.log.Info("health monitor started",
		zap.Duration("interval", m.opts.Interval),
		zap.Int("max_attempts", m.opts.MaxAttempts))
}

// Stop signals the loop and joins it with a bounded timeout. Safe from any
// state; a loop that refuses to exit is logged and abandoned.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stopCh := m.stopCh
	done := m.done
	m.stopCh = nil
	m.done = nil
	m.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		m.log.Warn("health monitor did not stop in time")
	}
	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()
	m.log.Info("health monitor stopped")
}

// ResetAttempts clears the consecutive-failure counter. It is the only way
// out of the given-up state; the loop resumes recovery on its next tick.
func (m *Monitor) ResetAttempts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = 0
	if m.state == StateGivenUp {
		m.state = StateRecovering
		m.log.Info("reconnect attempts reset, recovery resumed")
	}
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, Failures: m.failures, LastHeartbeat: m.lastBeat}
}

func (m *Monitor) loop(ctx context.Context, stopCh, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(m.opts.Interval):
		}
		m.iterate(ctx, stopCh)
	}
}

// iterate is one watchdog tick. A panic anywhere in the tick is logged and
// followed by a fixed pause; the loop itself never dies.
func (m *Monitor) iterate(ctx context.Context, stopCh chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("health check panicked", zap.Any("panic", r))
			select {
			case <-stopCh:
			case <-time.After(panicPause):
			}
		}
	}()

	switch m.State() {
	case StateGivenUp:
		return
	case StateRunning:
		m.met.Probes.Inc()
		if m.target.Probe(ctx) {
			m.mu.Lock()
			m.lastBeat = time.Now()
			m.mu.Unlock()
			m.met.HeartbeatAgeSec.Set(0)
			return
		}
		m.met.ProbeFailures.Inc()
		m.log.Warn("health probe failed, starting recovery")
		m.setState(StateRecovering)
	}
	m.recover(ctx, stopCh)
}

// recover runs one reconnection attempt: idempotent teardown, a flat
// backoff sleep, then reopen from the last known good configuration.
func (m *Monitor) recover(ctx context.Context, stopCh chan struct{}) {
	m.target.Teardown()
	select {
	case <-stopCh:
		return
	case <-ctx.Done():
		return
	case <-time.After(m.opts.Backoff):
	}

	if err := m.target.Reopen(ctx); err != nil {
		m.met.ReconnectsFail.Inc()
		m.mu.Lock()
		m.failures++
		failures := m.failures
		m.mu.Unlock()
		m.log.Error("reconnect attempt failed",
			zap.Int("attempt", failures),
			zap.Int("max_attempts", m.opts.MaxAttempts),
			zap.Error(err))
		if failures >= m.opts.MaxAttempts {
			m.setState(StateGivenUp)
			m.met.GivenUp.Inc()
			m.log.Error("reconnect attempts exhausted, giving up")
			m.notify(ctx, "gateway reconnection given up after max attempts")
		}
		return
	}

	m.mu.Lock()
	m.state = StateRunning
	m.failures = 0
	m.lastBeat = time.Now()
	reconnects := m.reconnect + 1
	m.reconnect = reconnects
	m.mu.Unlock()
	m.met.Reconnects.Inc()
	m.log.Info("reconnected", zap.Uint64("reconnects", reconnects))

	if err := m.replay(ctx); err != nil {
		m.log.Warn("subscription replay incomplete", zap.Error(err))
	}
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Reconnects reports how many times recovery has succeeded since start.
func (m *Monitor) Reconnects() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnect
}
