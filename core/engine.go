package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/searchktools/hyperserve/core/dispatch"
	"github.com/searchktools/hyperserve/core/health"
	"github.com/searchktools/hyperserve/core/http"
	"github.com/searchktools/hyperserve/core/interp"
	"github.com/searchktools/hyperserve/core/listener"
	"github.com/searchktools/hyperserve/core/middleware"
	"github.com/searchktools/hyperserve/core/observability"
	"github.com/searchktools/hyperserve/core/pools"
	"github.com/searchktools/hyperserve/core/router"
)

const readBufferSize = 8192

// Options sizes and wires an Engine. Zero values pick production defaults.
type Options struct {
	Listen listener.Config

	Lanes      int
	QueueDepth int
	BatchSize  int

	CacheSize     int
	HealthPrefix  string
	StartupGrace  time.Duration
	AbandonPolicy health.AbandonPolicy

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Engine is the request-serving core: tuned listener, per-connection tasks,
// routing, middleware, and dispatch into the single-lock handler runtime.
// Everything it needs is constructed here and passed by reference — no
// ambient statics.
type Engine struct {
	router   *router.Router
	registry *interp.Registry
	runtime  *interp.Runtime
	pool     *interp.Pool
	chain    *middleware.Chain
	health   *health.HealthCheck
	reload   *health.Manager
	metrics  *observability.Metrics
	log      *slog.Logger

	listenCfg     listener.Config
	abandonPolicy health.AbandonPolicy
	readTimeout   time.Duration
	writeTimeout  time.Duration
	idleTimeout   time.Duration

	bytePool *pools.BytePool

	ln      net.Listener
	lnReady chan struct{}
	connWG  sync.WaitGroup
	closed  atomic.Bool
}

// NewEngine constructs the engine and its collaborators.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 60 * time.Second
	}

	rt := interp.NewRuntime(0)
	reg := interp.NewRegistry()
	hc := health.New(opts.StartupGrace)

	e := &Engine{
		router:   router.New(router.WithCache(opts.CacheSize), router.WithLogger(opts.Logger)),
		registry: reg,
		runtime:  rt,
		pool: interp.NewPool(rt, reg, dispatch.PoolConfig{
			NumLanes:   opts.Lanes,
			QueueDepth: opts.QueueDepth,
			BatchSize:  opts.BatchSize,
		}, opts.Logger),
		chain:   middleware.NewChain(opts.Logger),
		health:  hc,
		reload:  health.NewManager(hc, opts.Logger),
		metrics: opts.Metrics,
		log:     opts.Logger,

		listenCfg:     opts.Listen,
		abandonPolicy: opts.AbandonPolicy,
		readTimeout:   opts.ReadTimeout,
		writeTimeout:  opts.WriteTimeout,
		idleTimeout:   opts.IdleTimeout,

		bytePool: pools.NewBytePool(),
		lnReady:  make(chan struct{}),
	}

	for _, pr := range hc.Routes(opts.HealthPrefix) {
		if err := e.Handle(pr.Method, pr.Path, pr.Handler); err != nil {
			opts.Logger.Error("probe route registration failed", "path", pr.Path, "error", err)
		}
	}

	return e
}

// Handle registers a native handler: it runs on the connection task and
// never needs the runtime's execution lock.
func (e *Engine) Handle(method, path string, handler interp.NativeHandler) error {
	route := router.NewRoute(method, path, router.KindNative, handler)
	if err := e.router.Insert(route); err != nil {
		return err
	}
	return e.registry.Register(route.Fingerprint, interp.Entry{
		Kind:   router.KindNative,
		Native: handler,
	})
}

// GET registers a native GET route
func (e *Engine) GET(path string, handler interp.NativeHandler) error {
	return e.Handle("GET", path, handler)
}

// POST registers a native POST route
func (e *Engine) POST(path string, handler interp.NativeHandler) error {
	return e.Handle("POST", path, handler)
}

// PUT registers a native PUT route
func (e *Engine) PUT(path string, handler interp.NativeHandler) error {
	return e.Handle("PUT", path, handler)
}

// DELETE registers a native DELETE route
func (e *Engine) DELETE(path string, handler interp.NativeHandler) error {
	return e.Handle("DELETE", path, handler)
}

// PATCH registers a native PATCH route
func (e *Engine) PATCH(path string, handler interp.NativeHandler) error {
	return e.Handle("PATCH", path, handler)
}

// HEAD registers a native HEAD route
func (e *Engine) HEAD(path string, handler interp.NativeHandler) error {
	return e.Handle("HEAD", path, handler)
}

// OPTIONS registers a native OPTIONS route
func (e *Engine) OPTIONS(path string, handler interp.NativeHandler) error {
	return e.Handle("OPTIONS", path, handler)
}

// HandleSync registers a handler that runs under the runtime's execution
// lock and writes its response before returning.
func (e *Engine) HandleSync(method, path string, handler interp.SyncHandler) error {
	route := router.NewRoute(method, path, router.KindHandlerSync, handler)
	if err := e.router.Insert(route); err != nil {
		return err
	}
	return e.registry.Register(route.Fingerprint, interp.Entry{
		Kind: router.KindHandlerSync,
		Sync: handler,
	})
}

// HandleAsync registers a handler that runs under the lock and returns an
// awaitable the bridge resolves.
func (e *Engine) HandleAsync(method, path string, handler interp.AsyncHandler) error {
	route := router.NewRoute(method, path, router.KindHandlerAsync, handler)
	if err := e.router.Insert(route); err != nil {
		return err
	}
	return e.registry.Register(route.Fingerprint, interp.Entry{
		Kind:  router.KindHandlerAsync,
		Async: handler,
	})
}

// Chain exposes the middleware chain for setup-time registration.
func (e *Engine) Chain() *middleware.Chain {
	return e.chain
}

// Router exposes the router for enumeration.
func (e *Engine) Router() *router.Router {
	return e.router
}

// Health exposes the health state machine.
func (e *Engine) Health() *health.HealthCheck {
	return e.health
}

// Reload exposes the reload manager.
func (e *Engine) Reload() *health.Manager {
	return e.reload
}

// Runtime exposes the handler runtime for bridge use in handlers.
func (e *Engine) Runtime() *interp.Runtime {
	return e.runtime
}

// Addr returns the bound listener address, blocking until Run has bound it.
func (e *Engine) Addr() net.Addr {
	<-e.lnReady
	return e.ln.Addr()
}

// Run binds the listener and serves until ctx is cancelled or the listener
// fails. Bind failure and accept-loop crashes are fatal to this worker; a
// supervising parent detects the exit.
func (e *Engine) Run(ctx context.Context) error {
	ln, err := listener.Listen(ctx, e.listenCfg)
	if err != nil {
		return err
	}
	e.ln = ln
	close(e.lnReady)

	e.health.MarkHealthy()
	e.log.Info("engine listening",
		"addr", ln.Addr().String(),
		"lanes", e.pool.Stats().NumLanes,
		"reuse_port", e.listenCfg.ReusePort,
	)

	go func() {
		<-ctx.Done()
		e.closeListener()
	}()
	go e.sampleLanes(ctx)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if e.closed.Load() || ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}

		// Draining workers stop taking new connections; in-flight ones
		// finish on their own tasks.
		if e.health.Status() == health.Draining {
			e.refuse(conn)
			continue
		}

		listener.TuneConn(conn, e.listenCfg)
		e.connWG.Add(1)
		go e.serveConn(conn)
	}
}

// recordLaneDepths publishes each lane's backlog to the queue-depth gauge.
func (e *Engine) recordLaneDepths() {
	for i, d := range e.pool.LaneDepths() {
		e.metrics.LaneQueueDepth.WithLabelValues(strconv.Itoa(i)).Set(float64(d))
	}
}

// sampleLanes keeps the lane gauge current while the engine runs.
func (e *Engine) sampleLanes(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.recordLaneDepths()
		}
	}
}

func (e *Engine) closeListener() {
	if e.closed.CompareAndSwap(false, true) && e.ln != nil {
		e.ln.Close()
	}
}

// Shutdown stops accepting, waits for in-flight connections up to ctx, then
// tears down the pools and the runtime.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.closeListener()

	done := make(chan struct{})
	go func() {
		e.connWG.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	e.pool.Close()
	e.runtime.Close()
	return err
}

// refuse answers a connection the drain policy will not serve.
func (e *Engine) refuse(conn net.Conn) {
	resp := http.NewResponse(503, "application/json", []byte(`{"code":503,"message":"draining"}`))
	e.writeResponse(conn, resp, false)
	conn.Close()
}

// serveConn is the per-connection task: read, parse, run the pipeline,
// write, repeat while keep-alive holds.
func (e *Engine) serveConn(conn net.Conn) {
	defer e.connWG.Done()
	defer conn.Close()

	buf := e.bytePool.Get(readBufferSize)
	defer func() {
		if buf != nil {
			e.bytePool.Put(buf)
		}
	}()

	offset := 0
	for {
		if e.idleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(e.idleTimeout))
		}

		n, err := conn.Read(buf[offset:])
		if err != nil || n == 0 {
			return
		}
		offset += n

		req, perr := http.ParseRequest(buf[:offset])
		if perr != nil {
			if offset >= len(buf) {
				e.writeResponse(conn, http.NewResponse(400, "text/plain", []byte("Bad Request")), false)
				return
			}
			// Partial request, wait for more data
			continue
		}
		offset = 0

		keepAlive := req.Proto != "HTTP/1.0" && req.Connection != "close"

		resp, abandoned := e.handleRequest(req)
		if abandoned {
			// Connection-reset abandon policy: drop without a response. The
			// abandoned invocation may still reference the request and the
			// read buffer, so neither goes back to its pool.
			buf = nil
			return
		}
		http.ReleaseRequest(req)

		e.writeResponse(conn, resp, keepAlive)
		if !keepAlive {
			return
		}
	}
}

// handleRequest runs the full pipeline for one parsed request. The returned
// abandoned flag tells the connection task to reset instead of respond.
func (e *Engine) handleRequest(req *http.Request) (resp *http.Response, abandoned bool) {
	start := time.Now()
	e.health.RequestStarted()
	e.metrics.InFlight.Inc()

	mwctx := middleware.NewContext(req)

	defer func() {
		e.health.RequestFinished()
		e.metrics.InFlight.Dec()
		if resp != nil {
			e.chain.RunAfter(mwctx)
			resp.Headers = append(resp.Headers, mwctx.ResponseHeaders()...)
			e.metrics.ObserveResponse(req.Method, resp.Status, time.Since(start).Seconds())
		}
	}()

	if early := e.chain.RunBefore(mwctx); early != nil {
		return early, false
	}

	route, params := e.router.Find(req.Method, req.Path)
	if route == nil {
		return http.NewResponse(404, "application/json", []byte(`{"code":404,"message":"not found"}`)), false
	}

	slot := http.NewResponseSlot()
	defer slot.Release()

	if route.Kind == router.KindNative {
		if herr := e.invokeNative(route, req, params, slot); herr != nil {
			return e.chain.RunError(mwctx, herr), false
		}
		return slot.Response(), false
	}

	req.Params = params
	w := interp.NewWork(route.Fingerprint, req, slot)
	if err := e.pool.Submit(w); err != nil {
		e.metrics.DispatchRejected.Inc()
		return http.NewResponse(503, "application/json", []byte(`{"code":503,"message":"server overloaded"}`)), false
	}

	// The response-ready rendezvous: the owning invocation seals the slot
	// exactly once, then signals Done.
	werr := <-w.Done
	switch {
	case werr == nil:
	case errors.Is(werr, interp.ErrCancelled):
		e.metrics.BridgeCancellations.Inc()
		if e.abandonPolicy == health.AbandonSynthetic503 {
			return http.NewResponse(503, "application/json", []byte(`{"code":503,"message":"request abandoned"}`)), false
		}
		return nil, true
	case errors.Is(werr, interp.ErrAborted):
		e.metrics.DispatchAborted.Inc()
		return http.NewResponse(503, "application/json", []byte(`{"code":503,"message":"service unavailable"}`)), false
	default:
		// Handler failure: the error chain decides status and body.
		return e.chain.RunError(mwctx, werr), false
	}

	return slot.Response(), false
}

// invokeNative runs a native handler on the connection task. A panic comes
// back as an error so the error chain renders the response.
func (e *Engine) invokeNative(route *router.Route, req *http.Request, params router.Params, slot *http.ResponseSlot) error {
	entry, ok := e.registry.Lookup(route.Fingerprint)
	if !ok || entry.Native == nil {
		slot.Error(404, "handler not registered")
		return nil
	}

	hctx := http.AcquireContext(req, slot)
	for k, v := range params {
		hctx.SetParam(k, v)
	}
	defer http.ReleaseContext(hctx)

	var herr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("handler panic", "method", req.Method, "path", req.Path, "panic", r)
				herr = fmt.Errorf("handler panic: %v", r)
			}
		}()
		entry.Native(hctx)
	}()
	if herr != nil {
		return herr
	}

	if !slot.Ready() {
		slot.Seal()
	}
	return nil
}

func (e *Engine) writeResponse(conn net.Conn, resp *http.Response, keepAlive bool) {
	out := bytebufferpool.Get()
	resp.Encode(out, keepAlive)

	if e.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(e.writeTimeout))
	}
	conn.Write(out.B)
	bytebufferpool.Put(out)
}
