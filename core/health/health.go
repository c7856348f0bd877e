package health

import (
	"sync"
	"sync/atomic"
	"time"
)

// Status is the worker's lifecycle position.
type Status uint32

const (
	Starting Status = iota
	Healthy
	Draining
	Unhealthy
)

func (s Status) String() string {
	switch s {
	case Starting:
		return "starting"
	case Healthy:
		return "healthy"
	case Draining:
		return "draining"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// HealthCheck tracks the worker's status state machine and in-flight request
// count. Status and counter are lock-free atomics; the checks map is guarded
// by a reader-writer lock touched only on probe requests and registration.
//
// Transitions: Starting → Healthy → {Draining → Healthy-or-terminated} or
// → Unhealthy (cleared only by MarkHealthy).
type HealthCheck struct {
	status   atomic.Uint32
	inFlight atomic.Int64
	started  time.Time

	// New workers stay not-ready for this long after MarkHealthy, giving
	// load balancers time to observe the startup probe.
	startupGrace time.Duration
	healthyAt    atomic.Int64

	mu     sync.RWMutex
	checks map[string]func() bool

	drainMu     sync.Mutex
	drainDone   chan struct{}
	drainClosed bool
}

// New creates a HealthCheck in Starting.
func New(startupGrace time.Duration) *HealthCheck {
	return &HealthCheck{
		started:      time.Now(),
		startupGrace: startupGrace,
		checks:       make(map[string]func() bool),
	}
}

// Status returns the current status.
func (h *HealthCheck) Status() Status {
	return Status(h.status.Load())
}

// MarkHealthy transitions to Healthy, clearing Unhealthy or Draining.
func (h *HealthCheck) MarkHealthy() {
	h.status.Store(uint32(Healthy))
	h.healthyAt.CompareAndSwap(0, time.Now().UnixNano())
}

// MarkUnhealthy transitions to Unhealthy; only MarkHealthy clears it.
func (h *HealthCheck) MarkUnhealthy() {
	h.status.Store(uint32(Unhealthy))
}

// StartDrain transitions to Draining and arms the drain-complete signal.
// Refusing new connections is the listener's responsibility; this only
// records intent.
func (h *HealthCheck) StartDrain() {
	h.drainMu.Lock()
	h.status.Store(uint32(Draining))
	h.drainDone = make(chan struct{})
	h.drainClosed = false
	if h.inFlight.Load() == 0 {
		close(h.drainDone)
		h.drainClosed = true
	}
	h.drainMu.Unlock()
}

// WaitForDrain blocks until in-flight reaches zero or timeout elapses.
// Returns true on a completed drain, false on timeout. Not draining counts
// as already drained.
func (h *HealthCheck) WaitForDrain(timeout time.Duration) bool {
	h.drainMu.Lock()
	done := h.drainDone
	h.drainMu.Unlock()

	if done == nil {
		return true
	}

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// ResetAfterReload clears Draining and returns to Healthy once replacement
// completes.
func (h *HealthCheck) ResetAfterReload() {
	h.drainMu.Lock()
	h.drainDone = nil
	h.drainClosed = false
	h.drainMu.Unlock()
	h.status.Store(uint32(Healthy))
}

// RequestStarted increments in-flight.
func (h *HealthCheck) RequestStarted() {
	h.inFlight.Add(1)
}

// RequestFinished decrements in-flight and signals drain completion when the
// count reaches zero while draining.
func (h *HealthCheck) RequestFinished() {
	if h.inFlight.Add(-1) != 0 {
		return
	}
	if h.Status() != Draining {
		return
	}
	h.drainMu.Lock()
	if h.drainDone != nil && !h.drainClosed {
		close(h.drainDone)
		h.drainClosed = true
	}
	h.drainMu.Unlock()
}

// InFlight returns the current in-flight request count.
func (h *HealthCheck) InFlight() int64 {
	return h.inFlight.Load()
}

// Uptime returns time since construction.
func (h *HealthCheck) Uptime() time.Duration {
	return time.Since(h.started)
}

// Live reports liveness: true in Starting, Healthy and Draining.
func (h *HealthCheck) Live() bool {
	switch h.Status() {
	case Starting, Healthy, Draining:
		return true
	default:
		return false
	}
}

// Ready reports readiness: Healthy, past the startup grace window, with all
// custom checks passing.
func (h *HealthCheck) Ready() bool {
	if h.Status() != Healthy {
		return false
	}
	if h.startupGrace > 0 {
		at := h.healthyAt.Load()
		if at == 0 || time.Since(time.Unix(0, at)) < h.startupGrace {
			return false
		}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, check := range h.checks {
		if !check() {
			return false
		}
	}
	return true
}

// Started reports whether the worker has left Starting.
func (h *HealthCheck) Started() bool {
	return h.Status() != Starting
}

// AddCheck registers a named readiness check.
func (h *HealthCheck) AddCheck(name string, check func() bool) {
	h.mu.Lock()
	h.checks[name] = check
	h.mu.Unlock()
}

// Snapshot is the probe body shape.
type Snapshot struct {
	Status     string          `json:"status"`
	Live       bool            `json:"live"`
	Ready      bool            `json:"ready"`
	InFlight   int64           `json:"in_flight"`
	UptimeSecs uint64          `json:"uptime_secs"`
	Checks     map[string]bool `json:"checks,omitempty"`
}

// Snapshot evaluates the current state, including custom check results.
func (h *HealthCheck) Snapshot() Snapshot {
	snap := Snapshot{
		Status:     h.Status().String(),
		Live:       h.Live(),
		Ready:      h.Ready(),
		InFlight:   h.InFlight(),
		UptimeSecs: uint64(h.Uptime().Seconds()),
	}

	h.mu.RLock()
	if len(h.checks) > 0 {
		snap.Checks = make(map[string]bool, len(h.checks))
		for name, check := range h.checks {
			snap.Checks[name] = check()
		}
	}
	h.mu.RUnlock()

	return snap
}
