package dispatch

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull is returned when a lane's bounded queue rejects a submission.
	ErrQueueFull = errors.New("dispatch: lane queue full")
	// ErrPoolClosed is returned for submissions after Close.
	ErrPoolClosed = errors.New("dispatch: pool closed")
)

// Item is a unit of work tagged with its submission sequence number.
type Item[T any] struct {
	Seq     uint64
	Payload T
}

// Pool distributes work items across a fixed set of lanes, each owning a
// bounded queue. Items sharing an affinity key always land on the same lane
// and are observed in submission order within it.
type Pool[T any] struct {
	lanes     []*lane[T]
	numLanes  int
	batchSize int
	handler   func(Item[T])
	abort     func(Item[T])

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup

	seq atomic.Uint64
	rr  atomic.Uint64

	stats struct {
		submitted atomic.Uint64
		completed atomic.Uint64
		rejected  atomic.Uint64
		aborted   atomic.Uint64
		batches   atomic.Uint64
	}
}

type lane[T any] struct {
	id    int
	items chan Item[T]
}

// PoolConfig sizes a Pool.
type PoolConfig struct {
	// NumLanes defaults to runtime.NumCPU().
	NumLanes int
	// QueueDepth bounds each lane's queue. Defaults to 256.
	QueueDepth int
	// BatchSize caps how many items a lane drains before yielding. Defaults to 32.
	BatchSize int
	// IdleWait bounds how long an empty lane blocks before re-checking. Defaults to 100ms.
	IdleWait time.Duration
}

func (c *PoolConfig) withDefaults() {
	if c.NumLanes <= 0 {
		c.NumLanes = runtime.NumCPU()
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 256
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.IdleWait <= 0 {
		c.IdleWait = 100 * time.Millisecond
	}
}

// NewPool pre-spawns the lanes. handler runs each item; abort, if non-nil,
// runs for items still queued when the pool closes.
func NewPool[T any](cfg PoolConfig, handler func(Item[T]), abort func(Item[T])) *Pool[T] {
	cfg.withDefaults()

	p := &Pool[T]{
		lanes:     make([]*lane[T], cfg.NumLanes),
		numLanes:  cfg.NumLanes,
		batchSize: cfg.BatchSize,
		handler:   handler,
		abort:     abort,
		done:      make(chan struct{}),
	}

	for i := 0; i < cfg.NumLanes; i++ {
		p.lanes[i] = &lane[T]{
			id:    i,
			items: make(chan Item[T], cfg.QueueDepth),
		}
	}

	for i := 0; i < cfg.NumLanes; i++ {
		p.wg.Add(1)
		go p.run(p.lanes[i], cfg.IdleWait)
	}

	return p
}

// Submit places an item on a lane chosen round-robin. A full lane spills to
// the next one; when that is full too the caller gets ErrQueueFull.
func (p *Pool[T]) Submit(payload T) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	item := Item[T]{Seq: p.seq.Add(1), Payload: payload}
	idx := int(p.rr.Add(1)) % p.numLanes

	select {
	case p.lanes[idx].items <- item:
		p.stats.submitted.Add(1)
		return nil
	default:
	}

	idx = (idx + 1) % p.numLanes
	select {
	case p.lanes[idx].items <- item:
		p.stats.submitted.Add(1)
		return nil
	default:
		p.stats.rejected.Add(1)
		return ErrQueueFull
	}
}

// SubmitAffinity places an item on the lane selected by key. No spilling:
// per-key ordering requires the key's lane, so a full lane rejects.
func (p *Pool[T]) SubmitAffinity(key uint64, payload T) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	item := Item[T]{Seq: p.seq.Add(1), Payload: payload}
	ln := p.lanes[key%uint64(p.numLanes)]

	select {
	case ln.items <- item:
		p.stats.submitted.Add(1)
		return nil
	default:
		p.stats.rejected.Add(1)
		return ErrQueueFull
	}
}

// LaneFor returns the lane index an affinity key maps to.
func (p *Pool[T]) LaneFor(key uint64) int {
	return int(key % uint64(p.numLanes))
}

// Depths reports each lane's current backlog.
func (p *Pool[T]) Depths() []int {
	out := make([]int, p.numLanes)
	for i, ln := range p.lanes {
		out[i] = len(ln.items)
	}
	return out
}

// run is a lane's main loop: block for the first item, drain up to batchSize
// more without blocking, then yield once per batch. Items in a batch are
// invoked sequentially, never in parallel: per-key FIFO is only observable
// when a lane fires its batch in dequeue order, so handlers must schedule
// long work elsewhere rather than block the lane.
func (p *Pool[T]) run(ln *lane[T], idleWait time.Duration) {
	defer p.wg.Done()

	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	for {
		var first Item[T]

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(idleWait)

		select {
		case <-p.done:
			p.drain(ln)
			return
		case first = <-ln.items:
		case <-timer.C:
			continue
		}

		p.handler(first)
		p.stats.completed.Add(1)

		n := 1
		for n < p.batchSize {
			select {
			case <-p.done:
				p.drain(ln)
				return
			case item := <-ln.items:
				p.handler(item)
				p.stats.completed.Add(1)
				n++
			default:
				n = p.batchSize
			}
		}

		p.stats.batches.Add(1)
		runtime.Gosched()
	}
}

// drain aborts whatever is still queued on a closing lane.
func (p *Pool[T]) drain(ln *lane[T]) {
	for {
		select {
		case item := <-ln.items:
			if p.abort != nil {
				p.abort(item)
			}
			p.stats.aborted.Add(1)
		default:
			return
		}
	}
}

// Close stops all lanes, aborting outstanding queued work, and waits for
// them to exit.
func (p *Pool[T]) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Stats returns pool counters.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		NumLanes:  p.numLanes,
		Submitted: p.stats.submitted.Load(),
		Completed: p.stats.completed.Load(),
		Rejected:  p.stats.rejected.Load(),
		Aborted:   p.stats.aborted.Load(),
		Batches:   p.stats.batches.Load(),
	}
}

// PoolStats contains pool counters.
type PoolStats struct {
	NumLanes  int
	Submitted uint64
	Completed uint64
	Rejected  uint64
	Aborted   uint64
	Batches   uint64
}
