package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nerrad567/chargegate/internal/httpx"
)

const healthCheckTimeout = 2 * time.Second

// handleHealth reports the version and the state of each dependency.
// Any failing dependency turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check.HealthCheck(ctx); err != nil {
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	httpx.WriteJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}

func writeUpstreamUnavailable(w http.ResponseWriter) {
	httpx.WriteError(w, http.StatusServiceUnavailable, httpx.CodeUpstreamUnavailable, "legacy endpoint unavailable")
}
