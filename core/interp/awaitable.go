package interp

import (
	"sync"
	"sync/atomic"
)

// State is an awaitable's lifecycle position.
type State uint32

const (
	Pending State = iota
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is the single terminal result of an awaitable. Cancelled is a
// distinguished outcome, not an error.
type Outcome struct {
	Value     any
	Err       error
	Cancelled bool
}

// Awaitable satisfies the runtime's await protocol: a one-shot result cell
// whose terminal outcome is decided by a single compare-and-swap, with
// completion callbacks delivered on the runtime's scheduler goroutine.
// Exactly one terminal outcome is delivered under any concurrent
// cancel/complete race; losers are silently ignored.
type Awaitable struct {
	rt     *Runtime
	result atomic.Pointer[Outcome]
	done   chan struct{}

	mu        sync.Mutex
	callbacks []func(*Token, Outcome)
}

// NewAwaitable creates a pending awaitable bound to rt.
func NewAwaitable(rt *Runtime) *Awaitable {
	return &Awaitable{
		rt:   rt,
		done: make(chan struct{}),
	}
}

// State reports the current lifecycle position.
func (a *Awaitable) State() State {
	o := a.result.Load()
	switch {
	case o == nil:
		return Pending
	case o.Cancelled:
		return Cancelled
	default:
		return Completed
	}
}

// Outcome returns the terminal outcome, if one has been delivered.
func (a *Awaitable) Outcome() (Outcome, bool) {
	o := a.result.Load()
	if o == nil {
		return Outcome{}, false
	}
	return *o, true
}

// Done is closed once a terminal outcome exists.
func (a *Awaitable) Done() <-chan struct{} {
	return a.done
}

// Complete delivers a value. Reports whether this call won the race to
// terminate the awaitable.
func (a *Awaitable) Complete(v any) bool {
	return a.settle(Outcome{Value: v})
}

// Fail delivers an error outcome.
func (a *Awaitable) Fail(err error) bool {
	return a.settle(Outcome{Err: err})
}

// Cancel transitions Pending→Cancelled. Losing the race is silently ignored.
func (a *Awaitable) Cancel() bool {
	return a.settle(Outcome{Cancelled: true})
}

func (a *Awaitable) settle(o Outcome) bool {
	if !a.result.CompareAndSwap(nil, &o) {
		return false
	}
	close(a.done)

	a.mu.Lock()
	cbs := a.callbacks
	a.callbacks = nil
	a.mu.Unlock()

	for _, cb := range cbs {
		a.schedule(cb, o)
	}
	return true
}

// AddDoneCallback registers fn to run on the runtime thread once the
// awaitable settles. If it already has, fn is scheduled immediately.
func (a *Awaitable) AddDoneCallback(fn func(*Token, Outcome)) {
	a.mu.Lock()
	if o := a.result.Load(); o != nil {
		a.mu.Unlock()
		a.schedule(fn, *o)
		return
	}
	a.callbacks = append(a.callbacks, fn)
	a.mu.Unlock()
}

func (a *Awaitable) schedule(fn func(*Token, Outcome), o Outcome) {
	err := a.rt.CallSoonThreadsafe(func(tok *Token) {
		fn(tok, o)
	})
	if err != nil {
		// Runtime is gone; deliver without the token rather than drop the
		// completion on the floor.
		fn(nil, o)
	}
}
