package interp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/searchktools/hyperserve/core/dispatch"
	"github.com/searchktools/hyperserve/core/http"
	"github.com/searchktools/hyperserve/core/router"
)

// TestFutureIntoAwaitable tests native work surfacing through the await protocol
func TestFutureIntoAwaitable(t *testing.T) {
	rt := NewRuntime(0)
	defer rt.Close()

	aw := FutureIntoAwaitable(rt, func(ctx context.Context) (any, error) {
		return 7, nil
	})

	o := Await(context.Background(), aw)
	if o.Err != nil || o.Cancelled || o.Value != 7 {
		t.Errorf("expected value 7, got %+v", o)
	}
}

// TestFutureIntoAwaitableCancel tests that cancelling stops the native compute
func TestFutureIntoAwaitableCancel(t *testing.T) {
	rt := NewRuntime(0)
	defer rt.Close()

	computeCancelled := make(chan struct{})
	aw := FutureIntoAwaitable(rt, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		close(computeCancelled)
		return nil, ctx.Err()
	})

	if !aw.Cancel() {
		t.Fatal("cancel lost a race with nothing")
	}

	o := Await(context.Background(), aw)
	if !o.Cancelled {
		t.Errorf("expected cancelled outcome, got %+v", o)
	}

	select {
	case <-computeCancelled:
	case <-time.After(time.Second):
		t.Fatal("native compute never observed cancellation")
	}
}

// TestScheduleTaskAndAwait tests the runtime-thread task direction
func TestScheduleTaskAndAwait(t *testing.T) {
	rt := NewRuntime(0)
	defer rt.Close()

	aw := ScheduleTask(rt, func(tok *Token) (any, error) {
		if tok == nil {
			return nil, errors.New("no token")
		}
		return "ran", nil
	})

	o := Await(context.Background(), aw)
	if o.Err != nil || o.Value != "ran" {
		t.Errorf("expected ran, got %+v", o)
	}
}

// TestAwaitContextCancellation tests that a caller's ctx cancels the awaitable
func TestAwaitContextCancellation(t *testing.T) {
	rt := NewRuntime(0)
	defer rt.Close()

	aw := NewAwaitable(rt) // never settled by anyone else

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	o := Await(ctx, aw)
	if !o.Cancelled {
		t.Errorf("expected cancelled outcome, got %+v", o)
	}
	if aw.State() != Cancelled {
		t.Errorf("expected awaitable cancelled, got %v", aw.State())
	}
}

func poolFixture(t *testing.T) (*Runtime, *Registry, *Pool) {
	t.Helper()
	rt := NewRuntime(0)
	reg := NewRegistry()
	p := NewPool(rt, reg, dispatch.PoolConfig{NumLanes: 2, QueueDepth: 16}, nil)
	t.Cleanup(func() {
		p.Close()
		rt.Close()
	})
	return rt, reg, p
}

func waitWork(t *testing.T, w *Work) error {
	t.Helper()
	select {
	case err := <-w.Done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("work never completed")
		return nil
	}
}

// TestPoolSyncInvocation tests a handler-sync route through the lanes
func TestPoolSyncInvocation(t *testing.T) {
	_, reg, p := poolFixture(t)

	fp := router.Fingerprint("GET", "/sync")
	err := reg.Register(fp, Entry{
		Kind: router.KindHandlerSync,
		Sync: func(tok *Token, req *http.Request, slot *http.ResponseSlot) error {
			slot.Text(200, "sync ok")
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	w := NewWork(fp, &http.Request{Method: "GET", Path: "/sync"}, http.NewResponseSlot())
	defer w.Slot.Release()
	if err := p.Submit(w); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := waitWork(t, w); err != nil {
		t.Fatalf("work error: %v", err)
	}

	resp := w.Slot.Response()
	if resp.Status != 200 || string(resp.Body) != "sync ok" {
		t.Errorf("unexpected response: %d %q", resp.Status, resp.Body)
	}
}

// TestPoolAsyncInvocation tests a handler-async route settling off-lane
func TestPoolAsyncInvocation(t *testing.T) {
	rt, reg, p := poolFixture(t)

	fp := router.Fingerprint("GET", "/async")
	err := reg.Register(fp, Entry{
		Kind: router.KindHandlerAsync,
		Async: func(tok *Token, req *http.Request, slot *http.ResponseSlot) (*Awaitable, error) {
			return FutureIntoAwaitable(rt, func(ctx context.Context) (any, error) {
				return http.NewResponse(201, "text/plain", []byte("async ok")), nil
			}), nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	w := NewWork(fp, &http.Request{Method: "GET", Path: "/async"}, http.NewResponseSlot())
	defer w.Slot.Release()
	if err := p.Submit(w); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := waitWork(t, w); err != nil {
		t.Fatalf("work error: %v", err)
	}

	resp := w.Slot.Response()
	if resp.Status != 201 || string(resp.Body) != "async ok" {
		t.Errorf("unexpected response: %d %q", resp.Status, resp.Body)
	}
}

// TestPoolUnregisteredFingerprint tests the 404 path
func TestPoolUnregisteredFingerprint(t *testing.T) {
	_, _, p := poolFixture(t)

	w := NewWork(12345, &http.Request{Method: "GET", Path: "/nowhere"}, http.NewResponseSlot())
	defer w.Slot.Release()
	if err := p.Submit(w); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := waitWork(t, w); err != nil {
		t.Fatalf("work error: %v", err)
	}

	if resp := w.Slot.Response(); resp.Status != 404 {
		t.Errorf("expected 404, got %d", resp.Status)
	}
}

// TestPoolSyncHandlerError tests that the handler's error comes back on
// Done with the slot untouched, so the engine's error chain can render it
func TestPoolSyncHandlerError(t *testing.T) {
	_, reg, p := poolFixture(t)

	boom := errors.New("boom")
	fp := router.Fingerprint("GET", "/boom")
	reg.Register(fp, Entry{
		Kind: router.KindHandlerSync,
		Sync: func(tok *Token, req *http.Request, slot *http.ResponseSlot) error {
			return boom
		},
	})

	w := NewWork(fp, &http.Request{Method: "GET", Path: "/boom"}, http.NewResponseSlot())
	defer w.Slot.Release()
	if err := p.Submit(w); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := waitWork(t, w); !errors.Is(err, boom) {
		t.Fatalf("expected handler error on Done, got %v", err)
	}
	if w.Slot.Ready() {
		t.Error("failed invocation must leave the slot unsealed")
	}
}

// TestPoolAsyncHandlerError tests error delivery from an async outcome
func TestPoolAsyncHandlerError(t *testing.T) {
	rt, reg, p := poolFixture(t)

	boom := errors.New("async boom")
	fp := router.Fingerprint("GET", "/aboom")
	reg.Register(fp, Entry{
		Kind: router.KindHandlerAsync,
		Async: func(tok *Token, req *http.Request, slot *http.ResponseSlot) (*Awaitable, error) {
			return FutureIntoAwaitable(rt, func(ctx context.Context) (any, error) {
				return nil, boom
			}), nil
		},
	})

	w := NewWork(fp, &http.Request{Method: "GET", Path: "/aboom"}, http.NewResponseSlot())
	defer w.Slot.Release()
	if err := p.Submit(w); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := waitWork(t, w); !errors.Is(err, boom) {
		t.Fatalf("expected async handler error on Done, got %v", err)
	}
	if w.Slot.Ready() {
		t.Error("failed invocation must leave the slot unsealed")
	}
}
