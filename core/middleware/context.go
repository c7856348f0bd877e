package middleware

import (
	"sync"
	"time"

	"github.com/searchktools/hyperserve/core/http"
)

// Context is the per-request middleware state: read-only request fields, a
// guarded extension map, accumulated response headers and authentication
// flags. Created per request, destroyed at completion.
type Context struct {
	Method   string
	Path     string
	RawQuery string
	Headers  map[string]string
	Start    time.Time

	RequestID     string
	Authenticated bool

	// The extension lock guards single-field updates only; it is never held
	// across a suspension point.
	mu  sync.RWMutex
	ext map[string]any

	respHeaders []http.Header
	response    *http.Response
}

// NewContext builds a context from a parsed request.
func NewContext(req *http.Request) *Context {
	return &Context{
		Method:   req.Method,
		Path:     req.Path,
		RawQuery: req.RawQuery(),
		Headers:  req.HeadersMap(),
		Start:    time.Now(),
	}
}

// Get reads an extension value.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	v, ok := c.ext[key]
	c.mu.RUnlock()
	return v, ok
}

// Set writes an extension value.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	if c.ext == nil {
		c.ext = make(map[string]any)
	}
	c.ext[key] = value
	c.mu.Unlock()
}

// SetResponseHeader accumulates a header to merge into the final response.
func (c *Context) SetResponseHeader(key, value string) {
	c.respHeaders = append(c.respHeaders, http.Header{Key: key, Value: value})
}

// ResponseHeaders returns the accumulated headers.
func (c *Context) ResponseHeaders() []http.Header {
	return c.respHeaders
}

// ShortCircuit records an explicit response, skipping the handler and any
// remaining before-middleware.
func (c *Context) ShortCircuit(resp *http.Response) {
	if c.response == nil {
		c.response = resp
	}
}

// Response returns the short-circuit response, if any.
func (c *Context) Response() *http.Response {
	return c.response
}

// Elapsed is the time since request start.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.Start)
}
