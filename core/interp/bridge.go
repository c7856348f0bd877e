package interp

import (
	"context"
)

// FutureIntoAwaitable runs compute on a native goroutine outside the
// execution lock and exposes its result through the runtime's await
// protocol. Cancelling the awaitable cancels compute's context; a compute
// that loses the race to a cancel has its result silently discarded.
func FutureIntoAwaitable(rt *Runtime, compute func(context.Context) (any, error)) *Awaitable {
	aw := NewAwaitable(rt)

	ctx, cancel := context.WithCancel(context.Background())
	aw.AddDoneCallback(func(_ *Token, o Outcome) {
		if o.Cancelled {
			cancel()
		}
	})

	go func() {
		defer cancel()
		v, err := compute(ctx)
		if err != nil {
			aw.Fail(err)
			return
		}
		aw.Complete(v)
	}()

	return aw
}

// ScheduleTask asks the runtime's scheduler to run fn as a task under the
// lock, exposing its result as an awaitable.
func ScheduleTask(rt *Runtime, fn func(*Token) (any, error)) *Awaitable {
	aw := NewAwaitable(rt)

	err := rt.CallSoonThreadsafe(func(tok *Token) {
		if aw.State() != Pending {
			return
		}
		v, err := fn(tok)
		if err != nil {
			aw.Fail(err)
			return
		}
		aw.Complete(v)
	})
	if err != nil {
		aw.Fail(err)
	}

	return aw
}

// AwaitableIntoFuture forwards aw's terminal outcome through a one-shot
// channel into native async context. ctx cancellation propagates to the
// awaitable's callback chain.
func AwaitableIntoFuture(ctx context.Context, aw *Awaitable) <-chan Outcome {
	out := make(chan Outcome, 1)

	aw.AddDoneCallback(func(_ *Token, o Outcome) {
		out <- o
	})

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				aw.Cancel()
			case <-aw.Done():
			}
		}()
	}

	return out
}

// Await blocks the native caller until aw settles or ctx is cancelled.
// Cancellation yields the awaitable's cancelled outcome, not an error.
func Await(ctx context.Context, aw *Awaitable) Outcome {
	out := AwaitableIntoFuture(ctx, aw)
	return <-out
}
