package health

import (
	"github.com/searchktools/hyperserve/core/http"
)

// DefaultPrefix is where probe routes mount unless configured otherwise.
const DefaultPrefix = "/_health"

// ProbeRoute is one health endpoint for the engine to register.
type ProbeRoute struct {
	Method  string
	Path    string
	Handler func(*http.Context)
}

// Routes returns the probe endpoints under prefix: the prefix itself serves
// the full JSON snapshot; /live, /ready and /startup return 200/503 with the
// same body.
func (h *HealthCheck) Routes(prefix string) []ProbeRoute {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	status := func(ok bool) int {
		if ok {
			return 200
		}
		return 503
	}

	return []ProbeRoute{
		{
			Method: "GET",
			Path:   prefix,
			Handler: func(ctx *http.Context) {
				snap := h.Snapshot()
				ctx.JSON(status(snap.Live), snap)
			},
		},
		{
			Method: "GET",
			Path:   prefix + "/live",
			Handler: func(ctx *http.Context) {
				ctx.JSON(status(h.Live()), h.Snapshot())
			},
		},
		{
			Method: "GET",
			Path:   prefix + "/ready",
			Handler: func(ctx *http.Context) {
				ctx.JSON(status(h.Ready()), h.Snapshot())
			},
		},
		{
			Method: "GET",
			Path:   prefix + "/startup",
			Handler: func(ctx *http.Context) {
				ctx.JSON(status(h.Started()), h.Snapshot())
			},
		},
	}
}
