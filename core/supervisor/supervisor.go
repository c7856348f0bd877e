package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// WorkerEnv marks a spawned process as a worker so it does not supervise in
// turn.
const WorkerEnv = "HYPERSERVE_WORKER"

// Supervisor manages a set of worker processes. Workers bind the same
// address with SO_REUSEPORT, so replacement never drops the listening
// socket.
type Supervisor interface {
	// Start spawns the workers and respawns crashed ones until ctx ends.
	Start(ctx context.Context) error
	// GracefulReload replaces workers one by one: spawn, await startup
	// probe, drain and terminate the old one.
	GracefulReload(ctx context.Context) error
	// HotReload kills and respawns all workers immediately.
	HotReload(ctx context.Context) error
	// Stop terminates all workers, waiting up to timeout before killing.
	Stop(timeout time.Duration)
}

// Options configures the reuse-port supervisor.
type Options struct {
	// Workers is the number of processes; each re-execs the running binary.
	Workers int
	// Args are passed to every worker.
	Args []string
	// ProbeURL is polled until a new worker reports started (e.g.
	// http://127.0.0.1:8080/_health/startup).
	ProbeURL string
	// ProbeTimeout bounds the wait for a new worker's startup probe.
	ProbeTimeout time.Duration
	// DrainTimeout bounds the wait for an old worker to exit after SIGTERM.
	DrainTimeout time.Duration

	Logger *slog.Logger
}

// workerProc tracks one worker. exit is closed when the process ends, so
// both the crash watcher and a deliberate terminate can observe it; err
// holds the Wait result once exit is closed. intended marks terminations
// the supervisor asked for, which the watcher must not respawn.
type workerProc struct {
	cmd      *exec.Cmd
	err      error
	exit     chan struct{}
	intended atomic.Bool
}

// ReusePortSupervisor spawns worker processes that each bind the shared
// address via SO_REUSEPORT.
type ReusePortSupervisor struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	workers []*workerProc

	stopping atomic.Bool
}

// New creates a reuse-port supervisor.
func New(opts Options) *ReusePortSupervisor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 30 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ReusePortSupervisor{opts: opts, log: opts.Logger}
}

func (s *ReusePortSupervisor) spawn() (*workerProc, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(exe, s.opts.Args...)
	cmd.Env = append(os.Environ(), WorkerEnv+"=1")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: spawn worker: %w", err)
	}

	w := s.track(cmd)
	s.log.Info("worker spawned", "pid", cmd.Process.Pid)
	return w, nil
}

// track wires a started command into a workerProc.
func (s *ReusePortSupervisor) track(cmd *exec.Cmd) *workerProc {
	w := &workerProc{cmd: cmd, exit: make(chan struct{})}
	go func() {
		w.err = cmd.Wait()
		close(w.exit)
	}()
	return w
}

// Start spawns the configured workers and respawns any that crash.
func (s *ReusePortSupervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	for i := 0; i < s.opts.Workers; i++ {
		w, err := s.spawn()
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.workers = append(s.workers, w)
		go s.watch(ctx, i, w)
	}
	s.mu.Unlock()
	return nil
}

// watch respawns a crashed worker in its slot. It stands down when the exit
// was intended: GracefulReload and HotReload watch their own replacements.
func (s *ReusePortSupervisor) watch(ctx context.Context, slot int, w *workerProc) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.exit:
			if s.stopping.Load() || ctx.Err() != nil || w.intended.Load() {
				return
			}
			s.log.Warn("worker exited, respawning", "pid", w.cmd.Process.Pid, "error", w.err)

			nw, serr := s.spawn()
			if serr != nil {
				s.log.Error("respawn failed", "error", serr)
				return
			}
			s.mu.Lock()
			s.workers[slot] = nw
			s.mu.Unlock()
			w = nw
		}
	}
}

// waitReady polls the startup probe until it answers 200.
func (s *ReusePortSupervisor) waitReady(ctx context.Context) error {
	if s.opts.ProbeURL == "" {
		return nil
	}

	deadline := time.Now().Add(s.opts.ProbeTimeout)
	client := &http.Client{Timeout: time.Second}

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, err := client.Get(s.opts.ProbeURL)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("supervisor: startup probe %s never passed", s.opts.ProbeURL)
}

// terminate SIGTERMs a worker (its signal handler drains), waits up to
// timeout, then SIGKILLs. Marking the exit intended first keeps the crash
// watcher from respawning it.
func (s *ReusePortSupervisor) terminate(w *workerProc, timeout time.Duration) {
	pid := w.cmd.Process.Pid
	w.intended.Store(true)
	w.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-w.exit:
	case <-time.After(timeout):
		s.log.Warn("worker drain timed out, killing", "pid", pid)
		w.cmd.Process.Kill()
		<-w.exit
	}
}

// GracefulReload replaces each worker: spawn the replacement, wait for its
// startup probe, then drain and terminate the old one.
func (s *ReusePortSupervisor) GracefulReload(ctx context.Context) error {
	s.mu.Lock()
	old := make([]*workerProc, len(s.workers))
	copy(old, s.workers)
	s.mu.Unlock()

	for slot, w := range old {
		nw, err := s.spawn()
		if err != nil {
			return err
		}
		if err := s.waitReady(ctx); err != nil {
			s.log.Error("replacement never became ready, keeping old worker", "error", err)
			nw.intended.Store(true)
			nw.cmd.Process.Kill()
			<-nw.exit
			return err
		}

		s.mu.Lock()
		s.workers[slot] = nw
		s.mu.Unlock()
		go s.watch(ctx, slot, nw)

		s.terminate(w, s.opts.DrainTimeout)
		s.log.Info("worker replaced", "old_pid", w.cmd.Process.Pid, "new_pid", nw.cmd.Process.Pid)
	}
	return nil
}

// HotReload kills and respawns every worker immediately; in-flight requests
// on the old workers are abandoned.
func (s *ReusePortSupervisor) HotReload(ctx context.Context) error {
	s.mu.Lock()
	old := make([]*workerProc, len(s.workers))
	copy(old, s.workers)
	s.mu.Unlock()

	for slot, w := range old {
		w.intended.Store(true)
		w.cmd.Process.Kill()
		<-w.exit

		nw, err := s.spawn()
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.workers[slot] = nw
		s.mu.Unlock()
		go s.watch(ctx, slot, nw)
	}
	return nil
}

// Stop terminates all workers.
func (s *ReusePortSupervisor) Stop(timeout time.Duration) {
	s.stopping.Store(true)

	s.mu.Lock()
	workers := make([]*workerProc, len(s.workers))
	copy(workers, s.workers)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.terminate(w, timeout)
		}()
	}
	wg.Wait()
}

// IsWorker reports whether this process was spawned as a worker.
func IsWorker() bool {
	return os.Getenv(WorkerEnv) == "1"
}
