package router

import (
	"github.com/cespare/xxhash/v2"
)

// HandlerKind classifies how a route's handler must be invoked.
type HandlerKind uint8

const (
	// KindNative handlers run on the connection task; they never need the
	// handler runtime's execution lock.
	KindNative HandlerKind = iota
	// KindHandlerSync handlers run under the runtime lock and return directly.
	KindHandlerSync
	// KindHandlerAsync handlers run under the runtime lock and return an
	// awaitable the bridge resolves.
	KindHandlerAsync
)

func (k HandlerKind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindHandlerSync:
		return "handler-sync"
	case KindHandlerAsync:
		return "handler-async"
	default:
		return "unknown"
	}
}

// Route is an immutable registration record: once inserted it is shared
// read-only across all worker threads.
type Route struct {
	Method      string
	Path        string
	Handler     any
	Kind        HandlerKind
	Fingerprint uint64
}

// Params holds the path-parameter bindings of a match.
type Params map[string]string

// NewRoute builds a route and precomputes its fingerprint.
func NewRoute(method, path string, kind HandlerKind, handler any) *Route {
	return &Route{
		Method:      method,
		Path:        path,
		Handler:     handler,
		Kind:        kind,
		Fingerprint: Fingerprint(method, path),
	}
}

// Fingerprint is the stable hash of method+path a handler is registered under.
func Fingerprint(method, path string) uint64 {
	d := xxhash.New()
	d.WriteString(method)
	d.WriteString(path)
	return d.Sum64()
}
