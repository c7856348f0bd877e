package blocking

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrExecutorClosed is returned for submissions after Shutdown.
var ErrExecutorClosed = errors.New("blocking: executor closed")

// Executor is a pre-spawned OS-thread pool for explicit, caller-initiated
// invocation of blocking callables. Workers pin their OS thread; callers
// release native resources by waiting on result channels, never inside the
// pool.
type Executor struct {
	tasks   chan func()
	threads int

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup

	stats struct {
		submitted atomic.Uint64
		completed atomic.Uint64
	}
}

// NewExecutor pre-spawns the worker threads. threads defaults to
// runtime.NumCPU(), queueDepth to 4x threads.
func NewExecutor(threads, queueDepth int) *Executor {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if queueDepth <= 0 {
		queueDepth = threads * 4
	}

	e := &Executor{
		tasks:   make(chan func(), queueDepth),
		threads: threads,
		done:    make(chan struct{}),
	}

	for i := 0; i < threads; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

func (e *Executor) worker() {
	defer e.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-e.done:
			return
		case fn := <-e.tasks:
			fn()
			e.stats.completed.Add(1)
		}
	}
}

// Threads returns the pool's fixed thread count.
func (e *Executor) Threads() int {
	return e.threads
}

// submit enqueues fn, blocking until space frees or ctx/shutdown interrupts.
func (e *Executor) submit(ctx context.Context, fn func()) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	select {
	case e.tasks <- fn:
		e.stats.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	}
}

// RunSync runs fn on a pool thread and waits for its result. The wait is a
// plain channel receive; nothing is held while blocked.
func (e *Executor) RunSync(ctx context.Context, fn func() (any, error)) (any, error) {
	type result struct {
		v   any
		err error
	}
	out := make(chan result, 1)

	err := e.submit(ctx, func() {
		v, err := fn()
		out <- result{v, err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-out:
		return r.v, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RunParallel runs fns as independent pool invocations and returns their
// results in input order. The first error cancels the remaining collection.
func RunParallel[R any](ctx context.Context, e *Executor, fns []func() (R, error)) ([]R, error) {
	results := make([]R, len(fns))

	g, gctx := errgroup.WithContext(ctx)
	for i, fn := range fns {
		i, fn := i, fn
		g.Go(func() error {
			v, err := e.RunSync(gctx, func() (any, error) { return fn() })
			if err != nil {
				return err
			}
			results[i] = v.(R)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Map applies fn to every item, auto-chunking across the pool. chunkSize <= 0
// picks ~4x oversubscription. Chunks carry their index so results reassemble
// in input order regardless of completion order.
func Map[T, R any](ctx context.Context, e *Executor, items []T, fn func(T) (R, error), chunkSize int) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}

	if chunkSize <= 0 {
		chunkSize = (len(items) + e.threads*4 - 1) / (e.threads * 4)
		if chunkSize < 1 {
			chunkSize = 1
		}
	}

	type chunk struct {
		index int
		items []T
	}
	var chunks []chunk
	for start := 0; start < len(items); start += chunkSize {
		end := start + chunkSize
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, chunk{index: len(chunks), items: items[start:end]})
	}

	chunkResults := make([][]R, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			v, err := e.RunSync(gctx, func() (any, error) {
				out := make([]R, len(c.items))
				for i, item := range c.items {
					r, err := fn(item)
					if err != nil {
						return nil, err
					}
					out[i] = r
				}
				return out, nil
			})
			if err != nil {
				return err
			}
			chunkResults[c.index] = v.([]R)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]R, 0, len(items))
	for _, cr := range chunkResults {
		results = append(results, cr...)
	}
	return results, nil
}

// Shutdown drains queued work up to timeout, then abandons the rest and
// stops the workers.
func (e *Executor) Shutdown(timeout time.Duration) {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}

	deadline := time.After(timeout)
	for {
		select {
		case fn := <-e.tasks:
			fn()
			e.stats.completed.Add(1)
		case <-deadline:
			close(e.done)
			e.wg.Wait()
			return
		default:
			close(e.done)
			e.wg.Wait()
			return
		}
	}
}

// Stats returns executor counters.
func (e *Executor) Stats() (submitted, completed uint64) {
	return e.stats.submitted.Load(), e.stats.completed.Load()
}
