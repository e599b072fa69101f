// ABOUTME: Liveness monitor that pings every connection on an interval
// ABOUTME: A connection that misses a whole cycle without a pong is terminated
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/Sendspin/micrelay/internal/metrics"
)

// DefaultPingInterval is the time between liveness sweeps
const DefaultPingInterval = 30 * time.Second

// EvictFunc removes a connection from service
type EvictFunc func(c *Conn, reason string)

// Monitor runs mark-and-sweep liveness over a registry
type Monitor struct {
	registry *Registry
	evict    EvictFunc
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewMonitor creates a monitor. evict is called for each terminated connection.
func NewMonitor(registry *Registry, evict EvictFunc, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		registry: registry,
		evict:    evict,
		interval: interval,
		metrics:  m,
		logger:   logger,
	}
}

// Sweep terminates connections that did not answer the previous ping, then
// marks the rest unconfirmed and pings them. It returns the number terminated.
func (m *Monitor) Sweep() int {
	terminated := 0
	for _, c := range m.registry.Snapshot() {
		if !c.Alive() {
			m.logger.Info("terminating unresponsive connection", "conn", c.ID, "role", c.Role())
			m.metrics.RecordLivenessTermination()
			m.evict(c, "liveness")
			terminated++
			continue
		}

		c.setAlive(false)
		if err := c.transport.Ping(); err != nil {
			m.logger.Info("ping failed", "conn", c.ID, "err", err)
			m.metrics.RecordLivenessTermination()
			m.evict(c, "ping_failed")
			terminated++
		}
	}
	return terminated
}

// Run sweeps on every interval until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("liveness sweep", "terminated", n, "remaining", m.registry.Counts().Total)
			}
		}
	}
}
