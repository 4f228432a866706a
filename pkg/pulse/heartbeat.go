// heartbeat.go keeps the session alive on the collector with a periodic ping
// and stops pinging while the collector is down.

package pulse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/farmared/pulse/pkg/logger"
)

// HeartbeatState is the circuit state of a HeartbeatMonitor.
type HeartbeatState int

const (
	// HeartbeatActive pings on every interval.
	HeartbeatActive HeartbeatState = iota
	// HeartbeatPaused suspends pinging until the resumption probe fires.
	HeartbeatPaused
	// HeartbeatStopped is terminal: unloaded or disabled.
	HeartbeatStopped
)

func (s HeartbeatState) String() string {
	switch s {
	case HeartbeatActive:
		return "active"
	case HeartbeatPaused:
		return "paused"
	case HeartbeatStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// HeartbeatConfig holds the heartbeat cadence and breaker settings.
type HeartbeatConfig struct {
	// Interval between pings while active.
	Interval time.Duration
	// PauseDelay is how long to wait before the resumption probe.
	PauseDelay time.Duration
	// FailureThreshold is the number of consecutive failures that pauses pinging.
	FailureThreshold int
	// Timeout bounds a single ping.
	Timeout time.Duration
}

// DefaultHeartbeatConfig returns the production cadence.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:         60 * time.Second,
		PauseDelay:       5 * time.Minute,
		FailureThreshold: 3,
		Timeout:          10 * time.Second,
	}
}

// PingFunc sends one liveness ping.
type PingFunc func(ctx context.Context) error

// HeartbeatMonitor pings on a fixed interval. After FailureThreshold
// consecutive failures it pauses and schedules a single probe after
// PauseDelay; a successful probe resumes normal pinging, a failed one re-arms
// the same delay.
type HeartbeatMonitor struct {
	cfg    HeartbeatConfig
	clock  clock.WithTicker
	ping   PingFunc
	logger logger.Logger

	mu       sync.Mutex
	state    HeartbeatState
	failures int
	probe    clock.Timer

	stop     chan struct{}
	stopOnce sync.Once
}

// NewHeartbeatMonitor creates a monitor in the Active state. Zero config
// fields take their defaults.
func NewHeartbeatMonitor(cfg HeartbeatConfig, clk clock.WithTicker, ping PingFunc, log logger.Logger) *HeartbeatMonitor {
	def := DefaultHeartbeatConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.PauseDelay <= 0 {
		cfg.PauseDelay = def.PauseDelay
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logger.NewTestLogger()
	}
	return &HeartbeatMonitor{
		cfg:    cfg,
		clock:  clk,
		ping:   ping,
		logger: log.WithComponent("heartbeat"),
		state:  HeartbeatActive,
		stop:   make(chan struct{}),
	}
}

// Run pings until ctx is done or Stop is called. It returns immediately if
// the monitor is already stopped.
func (m *HeartbeatMonitor) Run(ctx context.Context) {
	if m.State() == HeartbeatStopped {
		return
	}

	ticker := m.clock.NewTicker(m.cfg.Interval)
	defer func() { ticker.Stop() }()

	for {
		select {
		case <-ctx.Done():
			m.halt()
			return
		case <-m.stop:
			m.halt()
			return
		case <-ticker.C():
			if m.State() != HeartbeatActive {
				continue
			}
			m.onTick(ctx)
		case <-m.probeC():
			if m.onProbe(ctx) {
				// Resume on a fresh cadence measured from the probe.
				ticker.Stop()
				ticker = m.clock.NewTicker(m.cfg.Interval)
				m.mu.Lock()
				m.state = HeartbeatActive
				m.mu.Unlock()
				m.logger.Info().Msg("Heartbeat resumed after successful probe")
			}
		}
	}
}

// Stop cancels the interval and any pending probe. Safe to call repeatedly
// and before Run.
func (m *HeartbeatMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.halt()
	})
}

// State returns the current state.
func (m *HeartbeatMonitor) State() HeartbeatState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConsecutiveFailures returns the current failure count.
func (m *HeartbeatMonitor) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

func (m *HeartbeatMonitor) onTick(ctx context.Context) {
	err := m.send(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == HeartbeatStopped {
		return
	}
	if err == nil {
		m.failures = 0
		return
	}

	m.failures++
	m.logger.Debug().Err(err).Int("failure_count", m.failures).Msg("Heartbeat failed")
	if m.failures >= m.cfg.FailureThreshold {
		m.armProbeLocked()
		m.state = HeartbeatPaused
		m.logger.Warn().
			Int("failure_count", m.failures).
			Dur("resume_in", m.cfg.PauseDelay).
			Msg("Heartbeat paused due to failures")
	}
}

// onProbe sends the resumption probe and reports whether it succeeded. On
// failure the probe is re-armed and the monitor stays paused.
func (m *HeartbeatMonitor) onProbe(ctx context.Context) bool {
	m.mu.Lock()
	m.probe = nil
	m.mu.Unlock()

	err := m.send(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == HeartbeatStopped {
		return false
	}
	if err == nil {
		m.failures = 0
		return true
	}

	m.failures++
	m.armProbeLocked()
	m.logger.Warn().Err(err).
		Int("failure_count", m.failures).
		Msg("Heartbeat probe failed, staying paused")
	return false
}

func (m *HeartbeatMonitor) armProbeLocked() {
	if m.probe != nil {
		m.probe.Stop()
	}
	m.probe = m.clock.NewTimer(m.cfg.PauseDelay)
}

func (m *HeartbeatMonitor) probeC() <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.probe == nil {
		return nil
	}
	return m.probe.C()
}

func (m *HeartbeatMonitor) halt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.probe != nil {
		m.probe.Stop()
		m.probe = nil
	}
	m.state = HeartbeatStopped
}

// send runs one ping, turning a panic in the ping path into a failure.
func (m *HeartbeatMonitor) send(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("heartbeat ping panicked: %v", r)
		}
	}()
	if m.ping == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	return m.ping(ctx)
}
