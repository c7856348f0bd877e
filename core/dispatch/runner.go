package dispatch

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrRunnerClosed is returned for submissions after Shutdown.
var ErrRunnerClosed = errors.New("dispatch: runner closed")

const (
	// spawnBacklogThreshold is the queue depth above which an extra worker
	// may be spawned.
	spawnBacklogThreshold = 2
	// spawnCooldown rate-limits extra-worker creation to prevent spawn
	// storms under bursty load.
	spawnCooldown = 350 * time.Microsecond
)

// Runner is a lighter pre-spawned pool for on-demand invocations: a baseline
// of always-alive workers plus short-lived extras spawned under a rate-limited
// cool-down when the queue backs up. Idle extras self-terminate.
type Runner struct {
	tasks       chan func()
	baseline    int
	maxExtra    int
	idleTimeout time.Duration

	limiter *rate.Limiter
	extra   atomic.Int32

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup

	stats struct {
		submitted atomic.Uint64
		completed atomic.Uint64
		rejected  atomic.Uint64
		spawned   atomic.Uint64
	}
}

// RunnerConfig sizes a Runner.
type RunnerConfig struct {
	// Baseline workers stay alive for the runner's lifetime. Defaults to 2.
	Baseline int
	// MaxExtra bounds short-lived extra workers. Defaults to 8.
	MaxExtra int
	// QueueDepth bounds the shared queue. Defaults to 512.
	QueueDepth int
	// IdleTimeout is how long an extra worker waits for work before exiting.
	// Defaults to 5s.
	IdleTimeout time.Duration
}

func (c *RunnerConfig) withDefaults() {
	if c.Baseline <= 0 {
		c.Baseline = 2
	}
	if c.MaxExtra < 0 {
		c.MaxExtra = 0
	} else if c.MaxExtra == 0 {
		c.MaxExtra = 8
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 512
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Second
	}
}

// NewRunner pre-spawns the baseline workers.
func NewRunner(cfg RunnerConfig) *Runner {
	cfg.withDefaults()

	r := &Runner{
		tasks:       make(chan func(), cfg.QueueDepth),
		baseline:    cfg.Baseline,
		maxExtra:    cfg.MaxExtra,
		idleTimeout: cfg.IdleTimeout,
		limiter:     rate.NewLimiter(rate.Every(spawnCooldown), 1),
		done:        make(chan struct{}),
	}

	for i := 0; i < r.baseline; i++ {
		r.wg.Add(1)
		go r.resident()
	}

	return r
}

// Submit queues fn for execution, spawning an extra worker when the backlog
// warrants it and the cool-down allows. A full queue rejects synchronously.
func (r *Runner) Submit(fn func()) error {
	if r.closed.Load() {
		return ErrRunnerClosed
	}

	select {
	case r.tasks <- fn:
	default:
		r.stats.rejected.Add(1)
		return ErrQueueFull
	}
	r.stats.submitted.Add(1)

	if len(r.tasks) > spawnBacklogThreshold {
		r.maybeSpawn()
	}
	return nil
}

func (r *Runner) maybeSpawn() {
	for {
		n := r.extra.Load()
		if int(n) >= r.maxExtra {
			return
		}
		if !r.extra.CompareAndSwap(n, n+1) {
			continue
		}
		if !r.limiter.Allow() {
			r.extra.Add(-1)
			return
		}
		r.stats.spawned.Add(1)
		r.wg.Add(1)
		go r.transient()
		return
	}
}

// resident workers live until shutdown.
func (r *Runner) resident() {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		case fn := <-r.tasks:
			fn()
			r.stats.completed.Add(1)
		}
	}
}

// transient workers exit after idling.
func (r *Runner) transient() {
	defer r.wg.Done()
	defer r.extra.Add(-1)

	timer := time.NewTimer(r.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-r.done:
			return
		case fn := <-r.tasks:
			fn()
			r.stats.completed.Add(1)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.idleTimeout)
		case <-timer.C:
			return
		}
	}
}

// Shutdown stops accepting work, finishes what is already queued up to
// timeout, then abandons the rest.
func (r *Runner) Shutdown(timeout time.Duration) {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case fn := <-r.tasks:
			fn()
			r.stats.completed.Add(1)
		case <-deadline.C:
			close(r.done)
			r.wg.Wait()
			return
		default:
			close(r.done)
			r.wg.Wait()
			return
		}
	}
}

// Stats returns runner counters.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Baseline:  r.baseline,
		Extra:     int(r.extra.Load()),
		Submitted: r.stats.submitted.Load(),
		Completed: r.stats.completed.Load(),
		Rejected:  r.stats.rejected.Load(),
		Spawned:   r.stats.spawned.Load(),
	}
}

// RunnerStats contains runner counters.
type RunnerStats struct {
	Baseline  int
	Extra     int
	Submitted uint64
	Completed uint64
	Rejected  uint64
	Spawned   uint64
}
