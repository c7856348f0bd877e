package interp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrRuntimeClosed is returned for scheduling attempts after Close.
var ErrRuntimeClosed = errors.New("interp: runtime closed")

// Token is the capability proving its holder owns the runtime's global
// execution lock. Every API touching runtime-owned values requires one, so
// native-only code paths cannot assume the lock is held. Holders must not
// wait on queues or channels while holding a token.
type Token struct {
	rt *Runtime
}

// Runtime models the embedded handler runtime: effectively single-threaded
// for its own state, entered by any number of native threads but executing
// under one global lock. A dedicated scheduler goroutine owns the callback
// queue; CallSoonThreadsafe is the only cross-thread entry point.
type Runtime struct {
	lock      chan struct{}
	callbacks chan func(*Token)

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewRuntime starts the runtime's scheduler goroutine.
func NewRuntime(callbackQueueDepth int) *Runtime {
	if callbackQueueDepth <= 0 {
		callbackQueueDepth = 1024
	}
	rt := &Runtime{
		lock:      make(chan struct{}, 1),
		callbacks: make(chan func(*Token), callbackQueueDepth),
		done:      make(chan struct{}),
	}
	rt.wg.Add(1)
	go rt.scheduler()
	return rt
}

// scheduler drains the callback queue, running each callback under the lock.
func (rt *Runtime) scheduler() {
	defer rt.wg.Done()

	for {
		select {
		case <-rt.done:
			// Flush callbacks already scheduled before close.
			for {
				select {
				case fn := <-rt.callbacks:
					rt.runLocked(fn)
				default:
					return
				}
			}
		case fn := <-rt.callbacks:
			rt.runLocked(fn)
		}
	}
}

func (rt *Runtime) runLocked(fn func(*Token)) {
	rt.lock <- struct{}{}
	fn(&Token{rt: rt})
	<-rt.lock
}

// With acquires the execution lock, runs fn with the token, and releases.
// fn must not retain the token or wait on channels while it runs. The lock
// is held only for fn's critical section.
func (rt *Runtime) With(ctx context.Context, fn func(*Token) error) error {
	if rt.closed.Load() {
		return ErrRuntimeClosed
	}

	select {
	case rt.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-rt.done:
		return ErrRuntimeClosed
	}

	defer func() { <-rt.lock }()
	return fn(&Token{rt: rt})
}

// CallSoonThreadsafe schedules fn to run on the runtime's scheduler goroutine
// under the lock. Safe to call from any goroutine.
func (rt *Runtime) CallSoonThreadsafe(fn func(*Token)) error {
	if rt.closed.Load() {
		return ErrRuntimeClosed
	}

	select {
	case rt.callbacks <- fn:
		return nil
	case <-rt.done:
		return ErrRuntimeClosed
	}
}

// Close stops the scheduler after flushing already-queued callbacks.
func (rt *Runtime) Close() {
	if !rt.closed.CompareAndSwap(false, true) {
		return
	}
	close(rt.done)
	rt.wg.Wait()
}
