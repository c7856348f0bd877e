/*
Package hyperserve is a high-performance request-serving engine built around
lane-based dispatch and an embedded handler runtime guarded by a single
exclusive lock.

Incoming connections are parsed without allocation where possible, matched
against a radix-tree router with a bounded least-recently-accessed route
cache, and dispatched onto worker lanes. Handlers registered for the
embedded runtime acquire its lock per invocation; async handlers return an
awaitable resolved off the lane so the lock is never held across waits.
Requests sharing a handler fingerprint are pinned to one lane and complete
in FIFO order.

Quick start:

	cfg := config.Default()
	application, err := app.New(cfg)
	if err != nil {
	    log.Fatal(err)
	}

	engine := application.Engine()
	engine.GET("/hello/:name", func(ctx *http.Context) {
	    ctx.String(200, "hello "+ctx.Param("name"))
	})

	application.Run(context.Background())

Layout:

  - app: process lifecycle, signal handling, supervisor wiring
  - config: YAML + environment configuration
  - cmd/hyperserve: CLI entry point
  - core: the engine (accept loop, connection tasks, request pipeline)
  - core/http: request parsing, response slots, handler contexts
  - core/router: radix-tree routing with the bounded route cache
  - core/dispatch: lane-based worker pool and elastic runner
  - core/interp: embedded runtime lock, awaitables, handler registry
  - core/blocking: dedicated-thread executor for blocking work
  - core/health: liveness/readiness state machine and reload manager
  - core/listener: tuned socket listener (SO_REUSEPORT, TCP_NODELAY, ...)
  - core/middleware: before/after/error hook chain
  - core/supervisor: multi-process supervision and source watching
  - core/observability: Prometheus metrics and process monitoring

Operational endpoints are mounted under /_health (liveness, readiness,
startup); metrics are served on a separate address when configured.
*/
package hyperserve
