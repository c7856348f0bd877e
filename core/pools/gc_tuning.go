package pools

import (
	"runtime"
	"runtime/debug"
)

// GCConfig tunes the collector for a long-running server.
type GCConfig struct {
	// GOGC is the collection target percentage; higher means less frequent
	// collections at the cost of memory.
	GOGC int

	// MemoryLimit is a soft limit in bytes. 0 means no limit.
	MemoryLimit int64

	// MinRetainExtra grows the baseline heap so early traffic does not
	// trigger back-to-back collections.
	MinRetainExtra int64
}

// ballast stays reachable so the collector sizes the heap around it; an
// unreferenced allocation would be reclaimed on the next cycle.
var ballast []byte

// ApplyGCConfig applies the tuning.
func ApplyGCConfig(cfg GCConfig) {
	if cfg.GOGC > 0 {
		debug.SetGCPercent(cfg.GOGC)
	}
	if cfg.MemoryLimit > 0 {
		debug.SetMemoryLimit(cfg.MemoryLimit)
	}
	if cfg.MinRetainExtra > 0 {
		runtime.GC()
		ballast = make([]byte, cfg.MinRetainExtra)
	}
}

// OptimizeForHighThroughput favors request throughput over heap size.
func OptimizeForHighThroughput() {
	ApplyGCConfig(GCConfig{
		GOGC:           300,
		MinRetainExtra: 100 << 20,
	})
}

// OptimizeForLowLatency keeps collections shorter and more frequent.
func OptimizeForLowLatency() {
	ApplyGCConfig(GCConfig{
		GOGC:           150,
		MinRetainExtra: 30 << 20,
	})
}
