package middleware

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/searchktools/hyperserve/core/http"
)

// RequestID tags every request with a UUID, echoed in the response headers.
func RequestID() Func {
	return func(ctx *Context) error {
		id := ctx.Headers["X-Request-ID"]
		if id == "" {
			id = uuid.NewString()
		}
		ctx.RequestID = id
		ctx.SetResponseHeader("X-Request-ID", id)
		return nil
	}
}

// CORS adds the standard headers and short-circuits preflight requests.
func CORS(origin string) Func {
	if origin == "" {
		origin = "*"
	}
	return func(ctx *Context) error {
		ctx.SetResponseHeader("Access-Control-Allow-Origin", origin)
		ctx.SetResponseHeader("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
		ctx.SetResponseHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if ctx.Method == "OPTIONS" {
			ctx.ShortCircuit(&http.Response{Status: 204})
		}
		return nil
	}
}

// AccessLog logs method, path, request id and latency after each request.
func AccessLog(log *slog.Logger) Func {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx *Context) error {
		log.Info("request",
			"method", ctx.Method,
			"path", ctx.Path,
			"request_id", ctx.RequestID,
			"duration", ctx.Elapsed(),
		)
		return nil
	}
}
