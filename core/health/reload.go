package health

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Signal is a reload instruction broadcast to workers.
type Signal uint32

const (
	SignalNone Signal = iota
	// SignalGraceful drains in-flight work before replacement.
	SignalGraceful
	// SignalHot replaces immediately, abandoning in-flight work. Rapid
	// iteration only.
	SignalHot
	// SignalShutdown stops and exits.
	SignalShutdown
)

func (s Signal) String() string {
	switch s {
	case SignalNone:
		return "none"
	case SignalGraceful:
		return "graceful"
	case SignalHot:
		return "hot"
	case SignalShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// AbandonPolicy decides what clients of in-flight requests see when a hot
// reload abandons them.
type AbandonPolicy uint8

const (
	// AbandonReset drops the connection without a response.
	AbandonReset AbandonPolicy = iota
	// AbandonSynthetic503 writes a synthetic 503 before closing.
	AbandonSynthetic503
)

// ParseAbandonPolicy maps the config string to a policy.
func ParseAbandonPolicy(s string) (AbandonPolicy, error) {
	switch s {
	case "", "reset":
		return AbandonReset, nil
	case "synthetic-503":
		return AbandonSynthetic503, nil
	default:
		return AbandonReset, fmt.Errorf("health: unknown abandon policy %q", s)
	}
}

// Manager coordinates graceful worker replacement: it broadcasts reload
// signals to subscribers (single producer, many consumers) and drives the
// drain sequence on the shared HealthCheck.
type Manager struct {
	hc  *HealthCheck
	log *slog.Logger

	mu   sync.Mutex
	subs []chan Signal
	last Signal
}

// NewManager creates a manager bound to hc.
func NewManager(hc *HealthCheck, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{hc: hc, log: log}
}

// Subscribe returns a channel delivering subsequent signals. A slow consumer
// only ever sees the newest pending signal.
func (m *Manager) Subscribe() <-chan Signal {
	ch := make(chan Signal, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Broadcast publishes sig to all subscribers without blocking on any of them.
func (m *Manager) Broadcast(sig Signal) {
	m.mu.Lock()
	m.last = sig
	for _, ch := range m.subs {
		select {
		case ch <- sig:
		default:
			// Replace the stale pending signal.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- sig:
			default:
			}
		}
	}
	m.mu.Unlock()

	m.log.Info("reload signal broadcast", "signal", sig.String())
}

// Last returns the most recently broadcast signal.
func (m *Manager) Last() Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// StartDrain marks the worker Draining.
func (m *Manager) StartDrain() {
	m.hc.StartDrain()
	m.log.Info("drain started", "in_flight", m.hc.InFlight())
}

// WaitForDrain blocks until in-flight work finishes or timeout elapses. A
// timeout is logged and non-fatal; the reload proceeds and remaining
// requests are abandoned.
func (m *Manager) WaitForDrain(timeout time.Duration) bool {
	if m.hc.WaitForDrain(timeout) {
		m.log.Info("drain complete")
		return true
	}
	m.log.Warn("drain timed out, abandoning in-flight requests",
		"timeout", timeout, "in_flight", m.hc.InFlight())
	return false
}

// ResetAfterReload returns the worker to Healthy once replacement completes.
func (m *Manager) ResetAfterReload() {
	m.hc.ResetAfterReload()
	m.log.Info("reload complete, back to healthy")
}
