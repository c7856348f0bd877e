package interp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/searchktools/hyperserve/core/dispatch"
	"github.com/searchktools/hyperserve/core/http"
	"github.com/searchktools/hyperserve/core/router"
)

var (
	// ErrCancelled is the distinguished outcome for invocations whose
	// awaitable was cancelled before delivering a value.
	ErrCancelled = errors.New("interp: invocation cancelled")
	// ErrAborted is delivered for work still queued when the pool closes.
	ErrAborted = errors.New("interp: invocation aborted")
)

// Work is one handler invocation in flight between the engine and the
// interpreter lanes. Done receives exactly one value: nil once the slot is
// sealed, ErrCancelled/ErrAborted for abandoned work, or the handler's own
// error for the engine's error chain.
type Work struct {
	Fingerprint uint64
	Req         *http.Request
	Slot        *http.ResponseSlot
	Done        chan error
}

// NewWork builds a work item with a one-shot completion channel.
func NewWork(fingerprint uint64, req *http.Request, slot *http.ResponseSlot) *Work {
	return &Work{
		Fingerprint: fingerprint,
		Req:         req,
		Slot:        slot,
		Done:        make(chan error, 1),
	}
}

// Pool feeds handler invocations to the runtime through affinity-dispatched
// lanes: all invocations of one route land on one lane, preserving per-route
// submission order.
type Pool struct {
	rt    *Runtime
	reg   *Registry
	lanes *dispatch.Pool[*Work]
	log   *slog.Logger
}

// NewPool wires the runtime, the handler registry and the lane pool together.
func NewPool(rt *Runtime, reg *Registry, cfg dispatch.PoolConfig, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{rt: rt, reg: reg, log: log}
	p.lanes = dispatch.NewPool[*Work](cfg, p.invoke, p.abort)
	return p
}

// Submit places work on the lane selected by its route fingerprint.
func (p *Pool) Submit(w *Work) error {
	return p.lanes.SubmitAffinity(w.Fingerprint, w)
}

// invoke runs one work item on its lane. Sync handlers hold the lock for the
// duration of the call; async handlers hold it only to obtain the awaitable,
// and delivery happens from the awaitable's callback without blocking the
// lane.
func (p *Pool) invoke(item dispatch.Item[*Work]) {
	w := item.Payload

	entry, ok := p.reg.Lookup(w.Fingerprint)
	if !ok {
		w.Slot.Error(404, "handler not registered")
		w.Done <- nil
		return
	}

	switch entry.Kind {
	case router.KindHandlerSync:
		err := p.rt.With(context.Background(), func(tok *Token) error {
			return entry.Sync(tok, w.Req, w.Slot)
		})
		if err != nil {
			// The engine delegates handler errors to the error chain; the
			// slot stays untouched so the chain decides status and body.
			p.log.Error("sync handler failed", "fingerprint", w.Fingerprint, "error", err)
			w.Done <- err
			return
		}
		if !w.Slot.Ready() {
			w.Slot.Seal()
		}
		w.Done <- nil

	case router.KindHandlerAsync:
		var aw *Awaitable
		err := p.rt.With(context.Background(), func(tok *Token) error {
			var herr error
			aw, herr = entry.Async(tok, w.Req, w.Slot)
			return herr
		})
		if err != nil || aw == nil {
			if err == nil {
				err = errors.New("interp: async handler returned no awaitable")
			}
			p.log.Error("async handler failed", "fingerprint", w.Fingerprint, "error", err)
			w.Done <- err
			return
		}
		aw.AddDoneCallback(func(_ *Token, o Outcome) {
			p.deliver(w, o)
		})

	default:
		// Native handlers run on the connection task; one reaching the pool
		// is a wiring bug.
		p.log.Error("native handler dispatched to interpreter pool", "fingerprint", w.Fingerprint)
		w.Done <- errors.New("interp: native handler dispatched to interpreter lane")
	}
}

// deliver forwards an async handler's terminal outcome: values seal the
// slot, errors go back to the engine for the error chain.
func (p *Pool) deliver(w *Work, o Outcome) {
	switch {
	case o.Cancelled:
		w.Done <- ErrCancelled
	case o.Err != nil:
		p.log.Error("async handler failed", "fingerprint", w.Fingerprint, "error", o.Err)
		w.Done <- o.Err
	default:
		if !w.Slot.Ready() {
			if resp, ok := o.Value.(*http.Response); ok && resp != nil {
				w.Slot.SetStatus(resp.Status)
				for _, h := range resp.Headers {
					w.Slot.AddHeader(h.Key, h.Value)
				}
				w.Slot.SetBody(resp.Body)
			}
			w.Slot.Seal()
		}
		w.Done <- nil
	}
}

// abort rejects work still queued when the pool closes.
func (p *Pool) abort(item dispatch.Item[*Work]) {
	w := item.Payload
	w.Slot.Error(503, "service unavailable")
	w.Done <- ErrAborted
}

// Close stops the lanes, aborting queued work.
func (p *Pool) Close() {
	p.lanes.Close()
}

// Stats exposes the underlying lane counters.
func (p *Pool) Stats() dispatch.PoolStats {
	return p.lanes.Stats()
}

// LaneDepths reports each lane's current backlog.
func (p *Pool) LaneDepths() []int {
	return p.lanes.Depths()
}
