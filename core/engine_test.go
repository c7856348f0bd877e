package core

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/searchktools/hyperserve/core/http"
	"github.com/searchktools/hyperserve/core/interp"
	"github.com/searchktools/hyperserve/core/listener"
	"github.com/searchktools/hyperserve/core/middleware"
)

func startEngine(t *testing.T, setup func(*Engine)) *Engine {
	t.Helper()

	e := NewEngine(Options{
		Listen: listener.Config{Addr: "127.0.0.1:0", NoDelay: true},
		Lanes:  2,
	})
	if setup != nil {
		setup(e)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		e.Shutdown(sctx)
	})

	e.Addr() // wait for bind
	return e
}

// doRequest writes one raw HTTP request and reads one response.
func doRequest(t *testing.T, conn net.Conn, raw string) (status int, headers map[string]string, body string) {
	t.Helper()

	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if _, err := fmt.Sscanf(line, "HTTP/1.1 %d", &status); err != nil {
		t.Fatalf("bad status line %q: %v", line, err)
	}

	headers = make(map[string]string)
	contentLength := 0
	for {
		h, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		h = strings.TrimRight(h, "\r\n")
		if h == "" {
			break
		}
		k, v, _ := strings.Cut(h, ": ")
		headers[k] = v
		if k == "Content-Length" {
			fmt.Sscanf(v, "%d", &contentLength)
		}
	}

	buf := make([]byte, contentLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return status, headers, string(buf)
}

func dialEngine(t *testing.T, e *Engine) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", e.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// TestEngineNativeRoute tests a native handler over a real connection
func TestEngineNativeRoute(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.GET("/hello/:name", func(ctx *http.Context) {
			ctx.String(200, "hello "+ctx.Param("name"))
		})
	})

	conn := dialEngine(t, e)
	status, _, body := doRequest(t, conn, "GET /hello/world HTTP/1.1\r\nHost: x\r\n\r\n")
	if status != 200 || body != "hello world" {
		t.Errorf("expected 200 hello world, got %d %q", status, body)
	}
}

// TestEngineNotFound tests the 404 path
func TestEngineNotFound(t *testing.T) {
	e := startEngine(t, nil)

	conn := dialEngine(t, e)
	status, _, _ := doRequest(t, conn, "GET /missing HTTP/1.1\r\nHost: x\r\n\r\n")
	if status != 404 {
		t.Errorf("expected 404, got %d", status)
	}
}

// TestEngineSyncHandler tests a handler running under the runtime lock
func TestEngineSyncHandler(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.HandleSync("GET", "/locked", func(tok *interp.Token, req *http.Request, slot *http.ResponseSlot) error {
			if tok == nil {
				t.Error("sync handler invoked without the token")
			}
			slot.Text(200, "locked ok")
			return nil
		})
	})

	conn := dialEngine(t, e)
	status, _, body := doRequest(t, conn, "GET /locked HTTP/1.1\r\nHost: x\r\n\r\n")
	if status != 200 || body != "locked ok" {
		t.Errorf("expected 200 locked ok, got %d %q", status, body)
	}
}

// TestEngineAsyncHandler tests the bridge round trip through a request
func TestEngineAsyncHandler(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		rt := e.Runtime()
		e.HandleAsync("GET", "/deferred", func(tok *interp.Token, req *http.Request, slot *http.ResponseSlot) (*interp.Awaitable, error) {
			return interp.FutureIntoAwaitable(rt, func(ctx context.Context) (any, error) {
				return http.NewResponse(202, "text/plain", []byte("deferred ok")), nil
			}), nil
		})
	})

	conn := dialEngine(t, e)
	status, _, body := doRequest(t, conn, "GET /deferred HTTP/1.1\r\nHost: x\r\n\r\n")
	if status != 202 || body != "deferred ok" {
		t.Errorf("expected 202 deferred ok, got %d %q", status, body)
	}
}

// TestEngineKeepAlive tests two requests over one connection
func TestEngineKeepAlive(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.GET("/ping", func(ctx *http.Context) {
			ctx.String(200, "pong")
		})
	})

	conn := dialEngine(t, e)
	for i := 0; i < 2; i++ {
		status, headers, body := doRequest(t, conn, "GET /ping HTTP/1.1\r\nHost: x\r\n\r\n")
		if status != 200 || body != "pong" {
			t.Fatalf("request %d: expected 200 pong, got %d %q", i, status, body)
		}
		if headers["Connection"] != "keep-alive" {
			t.Errorf("request %d: expected keep-alive, got %q", i, headers["Connection"])
		}
	}
}

// TestEngineConnectionClose tests HTTP/1.0 close semantics
func TestEngineConnectionClose(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.GET("/ping", func(ctx *http.Context) {
			ctx.String(200, "pong")
		})
	})

	conn := dialEngine(t, e)
	status, headers, _ := doRequest(t, conn, "GET /ping HTTP/1.0\r\nHost: x\r\n\r\n")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if headers["Connection"] != "close" {
		t.Errorf("expected close, got %q", headers["Connection"])
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("expected EOF after HTTP/1.0 response, got %v", err)
	}
}

// TestEngineHealthProbes tests the mounted probe routes
func TestEngineHealthProbes(t *testing.T) {
	e := startEngine(t, nil)

	conn := dialEngine(t, e)
	status, _, body := doRequest(t, conn, "GET /_health/ready HTTP/1.1\r\nHost: x\r\n\r\n")
	if status != 200 {
		t.Errorf("expected ready 200, got %d", status)
	}
	if !strings.Contains(body, `"status":"healthy"`) {
		t.Errorf("unexpected probe body: %s", body)
	}

	e.Health().StartDrain()
	status, _, _ = doRequest(t, conn, "GET /_health/ready HTTP/1.1\r\nHost: x\r\n\r\n")
	if status != 503 {
		t.Errorf("expected draining ready 503, got %d", status)
	}
	status, _, _ = doRequest(t, conn, "GET /_health/live HTTP/1.1\r\nHost: x\r\n\r\n")
	if status != 200 {
		t.Errorf("expected draining live 200, got %d", status)
	}
	e.Health().ResetAfterReload()
}

// TestEngineMiddlewareShortCircuit tests a before-middleware 401
func TestEngineMiddlewareShortCircuit(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.GET("/secret", func(ctx *http.Context) {
			ctx.String(200, "secret")
		})
		e.Chain().Before("auth", func(ctx *middleware.Context) error {
			if ctx.Path == "/secret" && ctx.Headers["Authorization"] == "" {
				ctx.ShortCircuit(http.NewResponse(401, "text/plain", []byte("denied")))
			}
			return nil
		})
	})

	conn := dialEngine(t, e)
	status, _, body := doRequest(t, conn, "GET /secret HTTP/1.1\r\nHost: x\r\n\r\n")
	if status != 401 || body != "denied" {
		t.Errorf("expected 401 denied, got %d %q", status, body)
	}

	status, _, body = doRequest(t, conn, "GET /secret HTTP/1.1\r\nHost: x\r\nAuthorization: token\r\n\r\n")
	if status != 200 || body != "secret" {
		t.Errorf("expected 200 secret, got %d %q", status, body)
	}
}

// TestEngineHandlerPanic tests panic conversion to a 500
func TestEngineHandlerPanic(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.GET("/boom", func(ctx *http.Context) {
			panic("kaboom")
		})
	})

	conn := dialEngine(t, e)
	status, _, _ := doRequest(t, conn, "GET /boom HTTP/1.1\r\nHost: x\r\n\r\n")
	if status != 500 {
		t.Errorf("expected 500 after panic, got %d", status)
	}
}

// TestEngineErrorChainRewritesHandlerError tests that a handler error is
// delegated to the error chain, which may replace status and body
func TestEngineErrorChainRewritesHandlerError(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.HandleSync("GET", "/fail", func(tok *interp.Token, req *http.Request, slot *http.ResponseSlot) error {
			return fmt.Errorf("handler blew up")
		})
		e.Chain().OnError("teapot", func(ctx *middleware.Context, err error) error {
			ctx.ShortCircuit(http.NewResponse(418, "text/plain", []byte("rewritten")))
			return nil
		})
	})

	conn := dialEngine(t, e)
	status, _, body := doRequest(t, conn, "GET /fail HTTP/1.1\r\nHost: x\r\n\r\n")
	if status != 418 || body != "rewritten" {
		t.Errorf("expected 418 rewritten from error chain, got %d %q", status, body)
	}
}

// TestEngineErrorChainTypedError tests synthesis from a typed handler error
func TestEngineErrorChainTypedError(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.HandleSync("GET", "/forbidden", func(tok *interp.Token, req *http.Request, slot *http.ResponseSlot) error {
			return &middleware.Error{Status: 403, Code: "forbidden", Message: "no access"}
		})
	})

	conn := dialEngine(t, e)
	status, _, body := doRequest(t, conn, "GET /forbidden HTTP/1.1\r\nHost: x\r\n\r\n")
	if status != 403 {
		t.Errorf("expected 403 from typed error, got %d", status)
	}
	if !strings.Contains(body, `"code":"forbidden"`) {
		t.Errorf("expected synthesized forbidden body, got %q", body)
	}
}

// TestEngineErrorChainSeesNativePanic tests that a native handler panic is
// delegated like any other handler error
func TestEngineErrorChainSeesNativePanic(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.GET("/panic", func(ctx *http.Context) {
			panic("native bug")
		})
		e.Chain().OnError("teapot", func(ctx *middleware.Context, err error) error {
			ctx.ShortCircuit(http.NewResponse(418, "text/plain", []byte("recovered")))
			return nil
		})
	})

	conn := dialEngine(t, e)
	status, _, body := doRequest(t, conn, "GET /panic HTTP/1.1\r\nHost: x\r\n\r\n")
	if status != 418 || body != "recovered" {
		t.Errorf("expected 418 recovered from error chain, got %d %q", status, body)
	}
}

// TestEngineLaneDepthGauge tests that the lane gauge reflects pool backlog
func TestEngineLaneDepthGauge(t *testing.T) {
	e := NewEngine(Options{Lanes: 2})
	defer func() {
		e.pool.Close()
		e.runtime.Close()
	}()

	e.recordLaneDepths()
	for lane := 0; lane < 2; lane++ {
		got := testutil.ToFloat64(e.metrics.LaneQueueDepth.WithLabelValues(strconv.Itoa(lane)))
		if got != 0 {
			t.Errorf("lane %d: expected idle depth 0, got %v", lane, got)
		}
	}
}
