package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultProbeInterval is how often the monitor pings the remote store.
const DefaultProbeInterval = 5 * time.Second

// Monitor tracks connectivity by probing the remote store. It calls the
// registered callback with ReasonInitialLoad after the first successful
// probe and with ReasonConnectivityRestored on every offline to online
// transition after that.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	online   bool
	probed   bool
	loaded   bool
	onOnline func(ctx context.Context, reason string)
}

// NewMonitor creates a monitor. It reports offline until the first probe.
func NewMonitor(p Pinger, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		pinger:   p,
		interval: interval,
		timeout:  DefaultRemoteTimeout,
		log:      logger.With("component", "monitor"),
	}
}

// OnOnline registers the transition callback.
func (m *Monitor) OnOnline(fn func(ctx context.Context, reason string)) {
	m.mu.Lock()
	m.onOnline = fn
	m.mu.Unlock()
}

// Online implements Connectivity.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Check probes once and returns the new state.
func (m *Monitor) Check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.pinger.Ping(pctx)
	cancel()
	up := err == nil

	m.mu.Lock()
	was, first, loaded := m.online, !m.probed, m.loaded
	m.online = up
	m.probed = true
	m.loaded = loaded || up
	fn := m.onOnline
	m.mu.Unlock()

	switch {
	case up && !loaded:
		m.log.Info("remote store reachable")
		if fn != nil {
			fn(ctx, ReasonInitialLoad)
		}
	case up && !was:
		m.log.Info("connectivity restored")
		if fn != nil {
			fn(ctx, ReasonConnectivityRestored)
		}
	case !up && (was || first):
		m.log.Warn("remote store unreachable, working offline", "error", err)
	}
	return up
}

// Run probes every interval until ctx is done, starting immediately.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
