// Package app ties configuration, the engine, observability and process
// management into a runnable server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/searchktools/hyperserve/config"
	"github.com/searchktools/hyperserve/core"
	"github.com/searchktools/hyperserve/core/blocking"
	"github.com/searchktools/hyperserve/core/dispatch"
	"github.com/searchktools/hyperserve/core/health"
	"github.com/searchktools/hyperserve/core/listener"
	"github.com/searchktools/hyperserve/core/logging"
	"github.com/searchktools/hyperserve/core/observability"
	"github.com/searchktools/hyperserve/core/pools"
	"github.com/searchktools/hyperserve/core/supervisor"
)

// App is one configured server process: the engine plus its blocking
// executor, elastic runner and observability sidecars.
type App struct {
	cfg *config.Config
	log *slog.Logger

	engine   *core.Engine
	blocking *blocking.Executor
	runner   *dispatch.Runner

	metrics    *observability.Metrics
	monitor    *observability.Monitor
	metricsSrv *observability.Server
}

// New builds an application from cfg.
func New(cfg *config.Config) (*App, error) {
	log := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: logging.FormatFor(cfg.Env),
	})

	policy, err := health.ParseAbandonPolicy(cfg.Reload.AbandonPolicy)
	if err != nil {
		return nil, err
	}

	if cfg.Env == "production" {
		pools.OptimizeForHighThroughput()
	}

	metrics := observability.NewMetrics()

	engine := core.NewEngine(core.Options{
		Listen: listener.Config{
			Addr:           cfg.Addr(),
			ReusePort:      cfg.Socket.ReusePort,
			FastOpen:       cfg.Socket.FastOpen,
			NoDelay:        cfg.Socket.NoDelay,
			KeepAlive:      cfg.Socket.KeepAlive,
			ReadBufferSize: cfg.Socket.ReadBuffer,
			WriteBufSize:   cfg.Socket.WriteBuffer,
			MaxConns:       cfg.MaxConns,
		},
		Lanes:         cfg.Lanes,
		QueueDepth:    cfg.QueueDepth,
		BatchSize:     cfg.BatchSize,
		CacheSize:     cfg.CacheSize,
		HealthPrefix:  cfg.HealthPrefix,
		StartupGrace:  cfg.Reload.StartupGrace,
		AbandonPolicy: policy,
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		IdleTimeout:   cfg.IdleTimeout,
		Logger:        log,
		Metrics:       metrics,
	})

	a := &App{
		cfg:      cfg,
		log:      log,
		engine:   engine,
		blocking: blocking.NewExecutor(cfg.Blocking.Threads, cfg.Blocking.QueueDepth),
		runner: dispatch.NewRunner(dispatch.RunnerConfig{
			Baseline:    cfg.Runner.Baseline,
			MaxExtra:    cfg.Runner.MaxExtra,
			IdleTimeout: cfg.Runner.IdleTimeout,
		}),
		metrics: metrics,
	}

	if cfg.MetricsAddr != "" {
		a.metricsSrv = observability.NewServer(cfg.MetricsAddr, metrics, log)
	}
	mon, err := observability.NewMonitor(metrics, 10*time.Second, log)
	if err != nil {
		log.Warn("process monitor unavailable", "error", err)
	} else {
		a.monitor = mon
	}

	return a, nil
}

// Engine exposes the engine for route registration.
func (a *App) Engine() *core.Engine { return a.engine }

// Blocking exposes the executor for offloading blocking work from handlers.
func (a *App) Blocking() *blocking.Executor { return a.blocking }

// Runner exposes the elastic runner for fire-and-forget background tasks.
func (a *App) Runner() *dispatch.Runner { return a.runner }

// Run starts the process. With processes > 1 the parent becomes a
// supervisor and spawns workers; workers (and single-process mode) serve
// traffic directly. Blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Processes > 1 && !supervisor.IsWorker() {
		return a.runSupervisor(ctx)
	}
	return a.runWorker(ctx)
}

// runWorker serves traffic until a shutdown signal arrives.
func (a *App) runWorker(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.monitor != nil {
		a.monitor.Start()
		defer a.monitor.Stop()
	}
	if a.metricsSrv != nil {
		a.metricsSrv.Start()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			a.metricsSrv.Stop(sctx)
		}()
	}

	if len(a.cfg.Reload.Watch) > 0 && a.cfg.Processes == 1 {
		w, err := supervisor.NewWatcher(a.cfg.Reload.Watch, a.cfg.Reload.Debounce, func() {
			a.log.Info("source change detected, broadcasting hot reload")
			a.engine.Reload().Broadcast(health.SignalHot)
		}, a.log)
		if err != nil {
			a.log.Warn("file watcher unavailable", "error", err)
		} else {
			go w.Run(ctx)
		}
	}

	errc := make(chan error, 1)
	go func() {
		errc <- a.engine.Run(ctx)
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigc)

	for {
		select {
		case err := <-errc:
			a.shutdown()
			return err

		case <-ctx.Done():
			a.drainAndStop()
			return nil

		case sig := <-sigc:
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				a.log.Info("shutdown signal received", "signal", sig.String())
				a.drainAndStop()
				return nil

			case syscall.SIGUSR1:
				a.log.Info("graceful reload signal received")
				a.engine.Reload().Broadcast(health.SignalGraceful)
				a.engine.Reload().StartDrain()
				a.engine.Reload().WaitForDrain(a.cfg.Reload.DrainTimeout)
				a.engine.Reload().ResetAfterReload()

			case syscall.SIGUSR2:
				a.log.Info("hot reload signal received")
				a.engine.Reload().Broadcast(health.SignalHot)
			}
		}
	}
}

// drainAndStop runs the graceful sequence: stop readiness, drain in-flight
// requests, then tear the engine and sidecars down.
func (a *App) drainAndStop() {
	a.engine.Reload().Broadcast(health.SignalShutdown)
	a.engine.Reload().StartDrain()
	a.engine.Reload().WaitForDrain(a.cfg.Reload.DrainTimeout)
	a.shutdown()
}

func (a *App) shutdown() {
	sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Reload.DrainTimeout)
	defer cancel()
	if err := a.engine.Shutdown(sctx); err != nil {
		a.log.Warn("engine shutdown incomplete", "error", err)
	}
	a.blocking.Shutdown(5 * time.Second)
	a.runner.Shutdown(5 * time.Second)
}

// runSupervisor manages worker processes instead of serving traffic.
func (a *App) runSupervisor(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	host := a.cfg.Host
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	sup := supervisor.New(supervisor.Options{
		Workers:      a.cfg.Processes,
		Args:         os.Args[1:],
		ProbeURL:     fmt.Sprintf("http://%s:%d%s/startup", host, a.cfg.Port, a.cfg.HealthPrefix),
		DrainTimeout: a.cfg.Reload.DrainTimeout,
		Logger:       a.log,
	})

	if err := sup.Start(ctx); err != nil {
		return err
	}
	a.log.Info("supervisor started", "workers", a.cfg.Processes)

	if len(a.cfg.Reload.Watch) > 0 {
		w, err := supervisor.NewWatcher(a.cfg.Reload.Watch, a.cfg.Reload.Debounce, func() {
			a.log.Info("source change detected, hot reloading workers")
			if err := sup.HotReload(ctx); err != nil {
				a.log.Error("hot reload failed", "error", err)
			}
		}, a.log)
		if err != nil {
			a.log.Warn("file watcher unavailable", "error", err)
		} else {
			go w.Run(ctx)
		}
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigc)

	for {
		select {
		case <-ctx.Done():
			sup.Stop(a.cfg.Reload.DrainTimeout)
			return nil

		case sig := <-sigc:
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				a.log.Info("shutdown signal received", "signal", sig.String())
				sup.Stop(a.cfg.Reload.DrainTimeout)
				return nil

			case syscall.SIGUSR1:
				a.log.Info("graceful reload signal received")
				if err := sup.GracefulReload(ctx); err != nil {
					a.log.Error("graceful reload failed", "error", err)
				}

			case syscall.SIGUSR2:
				a.log.Info("hot reload signal received")
				if err := sup.HotReload(ctx); err != nil {
					a.log.Error("hot reload failed", "error", err)
				}
			}
		}
	}
}
