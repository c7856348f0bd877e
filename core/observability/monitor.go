package observability

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Monitor samples process-level resource usage into the metric gauges at a
// fixed interval.
type Monitor struct {
	metrics  *Metrics
	interval time.Duration
	log      *slog.Logger

	proc *process.Process
	stop context.CancelFunc
	done chan struct{}
}

// NewMonitor creates a monitor for the current process.
func NewMonitor(metrics *Metrics, interval time.Duration, log *slog.Logger) (*Monitor, error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	proc, err := process.NewProcess(int32(processPID()))
	if err != nil {
		return nil, err
	}

	return &Monitor{
		metrics:  metrics,
		interval: interval,
		log:      log,
		proc:     proc,
		done:     make(chan struct{}),
	}, nil
}

// Start begins sampling until Stop.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.stop = cancel

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.sample()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

func (m *Monitor) sample() {
	if cpu, err := m.proc.CPUPercent(); err == nil {
		m.metrics.ProcessCPUPercent.Set(cpu)
	}
	if mem, err := m.proc.MemoryInfo(); err == nil && mem != nil {
		m.metrics.ProcessRSSBytes.Set(float64(mem.RSS))
	}
	m.metrics.GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// Stop halts sampling and waits for the sampler to exit.
func (m *Monitor) Stop() {
	if m.stop != nil {
		m.stop()
		<-m.done
	}
}
