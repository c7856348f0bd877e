package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/searchktools/hyperserve/core/http"
)

// Error is a middleware or handler failure carrying the status and code the
// error chain renders when no error middleware produces its own response.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Func is one middleware step. It may mutate the context, short-circuit via
// ctx.ShortCircuit, or return an error delegated to the error chain.
type Func func(ctx *Context) error

// ErrorFunc handles a delegated error; the first one to short-circuit wins.
type ErrorFunc func(ctx *Context, err error) error

// Predicate decides whether an entry applies to a request.
type Predicate func(method, path string) bool

// All applies to every request.
func All(string, string) bool { return true }

// PathPrefix applies to paths under prefix.
func PathPrefix(prefix string) Predicate {
	return func(_, path string) bool {
		return strings.HasPrefix(path, prefix)
	}
}

// Methods applies to the listed methods.
func Methods(methods ...string) Predicate {
	return func(method, _ string) bool {
		for _, m := range methods {
			if m == method {
				return true
			}
		}
		return false
	}
}

// And requires every predicate.
func And(preds ...Predicate) Predicate {
	return func(method, path string) bool {
		for _, p := range preds {
			if !p(method, path) {
				return false
			}
		}
		return true
	}
}

type entry struct {
	name    string
	applies Predicate
	fn      Func
}

type errorEntry struct {
	name    string
	applies Predicate
	fn      ErrorFunc
}

// Chain holds the ordered before, after and error sequences. It is built
// during setup and shared read-only across connection tasks.
type Chain struct {
	before  []entry
	after   []entry
	onError []errorEntry
	log     *slog.Logger
}

// NewChain creates an empty chain.
func NewChain(log *slog.Logger) *Chain {
	if log == nil {
		log = slog.Default()
	}
	return &Chain{log: log}
}

// Before appends a before-middleware applying to all requests.
func (c *Chain) Before(name string, fn Func) *Chain {
	return c.BeforeFor(name, All, fn)
}

// BeforeFor appends a before-middleware with an applicability predicate.
func (c *Chain) BeforeFor(name string, applies Predicate, fn Func) *Chain {
	c.before = append(c.before, entry{name: name, applies: applies, fn: fn})
	return c
}

// After appends an after-middleware applying to all requests.
func (c *Chain) After(name string, fn Func) *Chain {
	return c.AfterFor(name, All, fn)
}

// AfterFor appends an after-middleware with an applicability predicate.
func (c *Chain) AfterFor(name string, applies Predicate, fn Func) *Chain {
	c.after = append(c.after, entry{name: name, applies: applies, fn: fn})
	return c
}

// OnError appends an error-middleware applying to all requests.
func (c *Chain) OnError(name string, fn ErrorFunc) *Chain {
	return c.OnErrorFor(name, All, fn)
}

// OnErrorFor appends an error-middleware with an applicability predicate.
func (c *Chain) OnErrorFor(name string, applies Predicate, fn ErrorFunc) *Chain {
	c.onError = append(c.onError, errorEntry{name: name, applies: applies, fn: fn})
	return c
}

// invoke runs one middleware step, converting a panic into an Error so a
// broken middleware cannot take the connection task down.
func (c *Chain) invoke(e entry, ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("middleware panic", "middleware", e.name, "panic", r)
			err = &Error{Status: 500, Code: "internal_error", Message: "internal server error"}
		}
	}()
	return e.fn(ctx)
}

// RunBefore executes applicable before-middleware in order. It returns a
// response when one short-circuits or errors (errors are delegated to the
// error chain); nil means continue to the handler.
func (c *Chain) RunBefore(ctx *Context) *http.Response {
	for _, e := range c.before {
		if !e.applies(ctx.Method, ctx.Path) {
			continue
		}
		if err := c.invoke(e, ctx); err != nil {
			return c.RunError(ctx, err)
		}
		if resp := ctx.Response(); resp != nil {
			return resp
		}
	}
	return nil
}

// RunAfter executes applicable after-middleware. After-middleware errors are
// logged, not delegated: the response is already decided.
func (c *Chain) RunAfter(ctx *Context) {
	for _, e := range c.after {
		if !e.applies(ctx.Method, ctx.Path) {
			continue
		}
		if err := c.invoke(e, ctx); err != nil {
			c.log.Error("after middleware failed", "middleware", e.name, "error", err)
		}
	}
}

// RunError delegates err to the error chain. The first middleware producing
// a response wins; otherwise a status-coded body is synthesized from the
// error's code/message/status.
func (c *Chain) RunError(ctx *Context, err error) *http.Response {
	for _, e := range c.onError {
		if !e.applies(ctx.Method, ctx.Path) {
			continue
		}
		if herr := e.fn(ctx, err); herr != nil {
			c.log.Error("error middleware failed", "middleware", e.name, "error", herr)
			continue
		}
		if resp := ctx.Response(); resp != nil {
			return resp
		}
	}
	return synthesize(err)
}

// synthesize renders the fallback error body.
func synthesize(err error) *http.Response {
	status := 500
	code := "internal_error"
	message := "internal server error"

	if me, ok := err.(*Error); ok {
		if me.Status != 0 {
			status = me.Status
		}
		if me.Code != "" {
			code = me.Code
		}
		if me.Message != "" {
			message = me.Message
		}
	}

	body, _ := json.Marshal(map[string]any{
		"code":    code,
		"message": message,
		"status":  status,
	})
	return http.NewResponse(status, "application/json", body)
}
