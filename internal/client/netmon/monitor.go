// Package netmon observes connectivity to the remote authority and emits
// online/offline transitions. It is the sole source of truth that gates
// whether the sync engine attempts network I/O.
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State of the connection to the remote authority
type State int

// Connection states
const (
	StateOffline State = iota
	StateOnline
)

// String returns the human-readable state name
func (s State) String() string {
	if s == StateOnline {
		return "online"
	}
	return "offline"
}

// Prober checks reachability of the remote authority.
// The API client's Ping satisfies this.
type Prober interface {
	Ping(ctx context.Context) error
}

// Config holds monitor parameters
type Config struct {
	// Interval between probes
	Interval time.Duration
	// Timeout for a single probe
	Timeout time.Duration
	// FailureThreshold is the number of consecutive probe failures
	// before the state flips to offline. One success flips back.
	FailureThreshold int
}

// DefaultConfig returns the default probe parameters
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 3,
	}
}

// Monitor runs probes on a fixed interval and notifies subscribers on
// state transitions. Requiring several consecutive failures before going
// offline debounces transient loss.
type Monitor struct {
	prober Prober
	logger *slog.Logger
	cfg    Config

	mu       sync.Mutex
	state    State
	failures int
	subs     []func(State)

	stopOnce sync.Once
	stopC    chan struct{}
	doneC    chan struct{}
	probeC   chan struct{}
}

// NewMonitor creates a monitor. The initial state is offline until the
// first successful probe.
func NewMonitor(prober Prober, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}

	return &Monitor{
		prober: prober,
		logger: logger,
		cfg:    cfg,
		state:  StateOffline,
		stopC:  make(chan struct{}),
		doneC:  make(chan struct{}),
		probeC: make(chan struct{}, 1),
	}
}

// CurrentState returns the current connectivity state
func (m *Monitor) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a callback invoked on every state transition.
// Callbacks run on the monitor goroutine and must not block.
func (m *Monitor) Subscribe(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Start launches the probe loop. An immediate probe runs before the first
// interval elapses.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop terminates the probe loop and waits for it to exit
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopC) })
	<-m.doneC
}

// ProbeNow requests an out-of-band probe, e.g. before a manual sync
func (m *Monitor) ProbeNow() {
	select {
	case m.probeC <- struct{}{}:
	default:
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneC)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.probe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopC:
			return
		case <-ticker.C:
			m.probe(ctx)
		case <-m.probeC:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	err := m.prober.Ping(probeCtx)

	m.mu.Lock()
	var (
		transition bool
		next       State
		subs       []func(State)
	)
	if err != nil {
		m.failures++
		m.logger.Debug("probe failed",
			"failures", m.failures,
			"threshold", m.cfg.FailureThreshold,
			"error", err)
		if m.state == StateOnline && m.failures >= m.cfg.FailureThreshold {
			m.state = StateOffline
			transition = true
		}
		// offline startup state flips nothing until a success
	} else {
		m.failures = 0
		if m.state == StateOffline {
			m.state = StateOnline
			transition = true
		}
	}
	next = m.state
	if transition {
		subs = make([]func(State), len(m.subs))
		copy(subs, m.subs)
	}
	m.mu.Unlock()

	if transition {
		m.logger.Info("connectivity changed", "state", next.String())
		for _, fn := range subs {
			fn(next)
		}
	}
}
