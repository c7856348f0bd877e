package middleware

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/searchktools/hyperserve/core/http"
)

func testContext(method, path string) *Context {
	return NewContext(&http.Request{Method: method, Path: path})
}

// TestChainBeforeOrder tests ordered execution and handler continuation
func TestChainBeforeOrder(t *testing.T) {
	c := NewChain(nil)

	var order []string
	c.Before("first", func(ctx *Context) error {
		order = append(order, "first")
		return nil
	})
	c.Before("second", func(ctx *Context) error {
		order = append(order, "second")
		return nil
	})

	ctx := testContext("GET", "/x")
	if resp := c.RunBefore(ctx); resp != nil {
		t.Fatalf("expected continuation, got response %+v", resp)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("unexpected order: %v", order)
	}
}

// TestChainShortCircuit tests that a short-circuit skips later entries
func TestChainShortCircuit(t *testing.T) {
	c := NewChain(nil)

	var reached bool
	c.Before("auth", func(ctx *Context) error {
		ctx.ShortCircuit(http.NewResponse(401, "text/plain", []byte("denied")))
		return nil
	})
	c.Before("never", func(ctx *Context) error {
		reached = true
		return nil
	})

	ctx := testContext("GET", "/x")
	resp := c.RunBefore(ctx)
	if resp == nil || resp.Status != 401 {
		t.Fatalf("expected 401 short-circuit, got %+v", resp)
	}
	if reached {
		t.Error("entry after a short-circuit should not run")
	}
}

// TestChainApplicability tests that non-applicable entries are skipped
func TestChainApplicability(t *testing.T) {
	c := NewChain(nil)

	var calls []string
	c.BeforeFor("api-only", PathPrefix("/api"), func(ctx *Context) error {
		calls = append(calls, "api-only")
		return nil
	})
	c.BeforeFor("writes-only", Methods("POST", "PUT"), func(ctx *Context) error {
		calls = append(calls, "writes-only")
		return nil
	})
	c.BeforeFor("both", And(PathPrefix("/api"), Methods("POST")), func(ctx *Context) error {
		calls = append(calls, "both")
		return nil
	})

	c.RunBefore(testContext("GET", "/health"))
	if len(calls) != 0 {
		t.Errorf("expected no applicable entries, got %v", calls)
	}

	calls = nil
	c.RunBefore(testContext("POST", "/api/users"))
	if len(calls) != 3 {
		t.Errorf("expected all entries applicable, got %v", calls)
	}
}

// TestChainErrorDelegation tests error-chain response wins over synthesis
func TestChainErrorDelegation(t *testing.T) {
	c := NewChain(nil)

	boom := errors.New("boom")
	c.Before("fails", func(ctx *Context) error {
		return boom
	})
	c.OnError("handler", func(ctx *Context, err error) error {
		if !errors.Is(err, boom) {
			t.Errorf("error chain received %v", err)
		}
		ctx.ShortCircuit(http.NewResponse(418, "text/plain", []byte("teapot")))
		return nil
	})

	resp := c.RunBefore(testContext("GET", "/x"))
	if resp == nil || resp.Status != 418 {
		t.Fatalf("expected error-chain response, got %+v", resp)
	}
}

// TestChainErrorSynthesis tests the fallback status-coded body
func TestChainErrorSynthesis(t *testing.T) {
	c := NewChain(nil)
	c.Before("fails", func(ctx *Context) error {
		return &Error{Status: 403, Code: "forbidden", Message: "no entry"}
	})

	resp := c.RunBefore(testContext("GET", "/x"))
	if resp == nil || resp.Status != 403 {
		t.Fatalf("expected synthesized 403, got %+v", resp)
	}

	var body map[string]any
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("synthesized body not JSON: %v", err)
	}
	if body["code"] != "forbidden" || body["message"] != "no entry" {
		t.Errorf("unexpected body: %v", body)
	}

	// A bare error synthesizes a generic 500.
	c2 := NewChain(nil)
	c2.Before("fails", func(ctx *Context) error { return errors.New("raw") })
	if resp := c2.RunBefore(testContext("GET", "/x")); resp == nil || resp.Status != 500 {
		t.Errorf("expected generic 500, got %+v", resp)
	}
}

// TestContextExtensionMap tests guarded extension access
func TestContextExtensionMap(t *testing.T) {
	ctx := testContext("GET", "/x")

	if _, ok := ctx.Get("user"); ok {
		t.Error("expected empty extension map")
	}
	ctx.Set("user", "alice")
	if v, ok := ctx.Get("user"); !ok || v != "alice" {
		t.Errorf("expected alice, got %v/%v", v, ok)
	}
}

// TestRequestIDMiddleware tests generation and passthrough
func TestRequestIDMiddleware(t *testing.T) {
	fn := RequestID()

	ctx := testContext("GET", "/x")
	fn(ctx)
	if ctx.RequestID == "" {
		t.Error("expected a generated request id")
	}

	req := &http.Request{Method: "GET", Path: "/x"}
	req.SetHeader("X-Request-ID", "given")
	ctx2 := NewContext(req)
	fn(ctx2)
	if ctx2.RequestID != "given" {
		t.Errorf("expected passthrough id, got %q", ctx2.RequestID)
	}
}

// TestCORSPreflight tests the OPTIONS short-circuit
func TestCORSPreflight(t *testing.T) {
	fn := CORS("")

	ctx := testContext("OPTIONS", "/api")
	fn(ctx)
	resp := ctx.Response()
	if resp == nil || resp.Status != 204 {
		t.Fatalf("expected 204 preflight, got %+v", resp)
	}

	ctx2 := testContext("GET", "/api")
	fn(ctx2)
	if ctx2.Response() != nil {
		t.Error("non-preflight request should continue")
	}
	found := false
	for _, h := range ctx2.ResponseHeaders() {
		if h.Key == "Access-Control-Allow-Origin" && h.Value == "*" {
			found = true
		}
	}
	if !found {
		t.Error("expected CORS origin header accumulated")
	}
}

// TestBeforePanicRecovered tests panic conversion to a 500 response
func TestBeforePanicRecovered(t *testing.T) {
	c := NewChain(nil)
	c.Before("broken", func(ctx *Context) error {
		panic("middleware bug")
	})

	ctx := testContext("GET", "/x")
	resp := c.RunBefore(ctx)
	if resp == nil || resp.Status != 500 {
		t.Fatalf("expected synthesized 500 after panic, got %+v", resp)
	}
}
