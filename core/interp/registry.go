package interp

import (
	"fmt"
	"sync"

	"github.com/searchktools/hyperserve/core/http"
	"github.com/searchktools/hyperserve/core/router"
)

// NativeHandler runs on the connection task and never needs the execution lock.
type NativeHandler func(ctx *http.Context)

// SyncHandler runs under the execution lock and writes its response before
// returning.
type SyncHandler func(tok *Token, req *http.Request, slot *http.ResponseSlot) error

// AsyncHandler runs under the execution lock and returns an awaitable the
// bridge resolves; the slot is sealed when the awaitable settles.
type AsyncHandler func(tok *Token, req *http.Request, slot *http.ResponseSlot) (*Awaitable, error)

// Entry binds a registered handler to its invocation kind.
type Entry struct {
	Kind   router.HandlerKind
	Native NativeHandler
	Sync   SyncHandler
	Async  AsyncHandler
}

// Registry maps route fingerprints to handler entries. It lives on the
// engine context, not in a package global, and is write-locked only during
// registration.
type Registry struct {
	mu      sync.RWMutex
	entries map[uint64]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[uint64]Entry)}
}

// Register binds a fingerprint to an entry, validating that the handler slot
// matching the kind is populated.
func (r *Registry) Register(fingerprint uint64, entry Entry) error {
	switch entry.Kind {
	case router.KindNative:
		if entry.Native == nil {
			return fmt.Errorf("interp: native entry without handler")
		}
	case router.KindHandlerSync:
		if entry.Sync == nil {
			return fmt.Errorf("interp: sync entry without handler")
		}
	case router.KindHandlerAsync:
		if entry.Async == nil {
			return fmt.Errorf("interp: async entry without handler")
		}
	default:
		return fmt.Errorf("interp: unknown handler kind %d", entry.Kind)
	}

	r.mu.Lock()
	r.entries[fingerprint] = entry
	r.mu.Unlock()
	return nil
}

// Lookup resolves a fingerprint.
func (r *Registry) Lookup(fingerprint uint64) (Entry, bool) {
	r.mu.RLock()
	entry, ok := r.entries[fingerprint]
	r.mu.RUnlock()
	return entry, ok
}
