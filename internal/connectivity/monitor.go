package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Prober checks whether the backend is reachable
type Prober interface {
	HealthCheck(ctx context.Context, path string) error
}

// Monitor tracks whether the network is usable. It combines its own probe loop
// with signals reported from outside (the phone's network callback).
// Subscribers only hear about transitions.
type Monitor struct {
	prober   Prober
	path     string
	interval time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger

	mu          sync.RWMutex
	online      bool
	subscribers []func(online bool)
}

func NewMonitor(prober Prober, path string, interval time.Duration, clock clockwork.Clock, logger *zap.Logger) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if path == "" {
		path = "/"
	}
	return &Monitor{
		prober:   prober,
		path:     path,
		interval: interval,
		clock:    clock,
		logger:   logger,
		online:   true,
	}
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers fn for online/offline transitions
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// SetOnline records an externally reported state
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := append([]func(bool){}, m.subscribers...)
	m.mu.Unlock()

	m.logger.Info("Connectivity changed", zap.Bool("online", online))
	for _, fn := range subs {
		fn(online)
	}
}

// Probe runs one health check and records the result
func (m *Monitor) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	err := m.prober.HealthCheck(probeCtx, m.path)
	if err != nil {
		m.logger.Debug("Connectivity probe failed", zap.Error(err))
	}
	// a cancelled run is not evidence of being offline
	if ctx.Err() != nil {
		return m.Online()
	}
	m.SetOnline(err == nil)
	return err == nil
}

// Run probes at the configured interval until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	if m.interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Connectivity monitor started", zap.Duration("probe_interval", m.interval))
	m.Probe(ctx)

	for {
		select {
		case <-ticker.Chan():
			m.Probe(ctx)
		case <-ctx.Done():
			m.logger.Info("Connectivity monitor stopped")
			return
		}
	}
}
