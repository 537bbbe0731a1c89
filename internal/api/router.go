package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/chargegate/internal/console"
	"github.com/nerrad567/chargegate/internal/httpx"
)

// buildRouter creates the HTTP router with all routes and middleware.
// The gateway runs after the generic middleware and before any route.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(s.guard.Middleware)
	r.Use(chainCapture)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteNotFound(w, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeMethodNotAllow, "method not allowed")
	})

	p := s.paths

	// Interactive chain
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, p.HomePath(), http.StatusFound)
	})
	r.Handle(p.StaticPrefix+"/*", http.StripPrefix(p.StaticPrefix, console.Static(s.staticDir)))
	r.Handle(p.LegacyPrefix, s.legacy)
	r.Handle(p.LegacyPrefix+"/*", s.legacy)
	r.Get(p.StreamingPrefix, s.handleWebSocket)
	r.Get(p.StreamingPrefix+"/*", s.handleWebSocket)

	r.Route(p.ManagerPrefix, func(r chi.Router) {
		r.Get("/signin", s.handleSignInForm)
		r.Post("/signin", s.handleSignIn)
		r.Post("/signout", s.handleSignOut)
		r.Get("/home", s.handleHome)
		r.Route("/operations/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Get("/{id}", s.handleGetTask)
		})
		if s.audit != nil {
			r.Get("/operations/audit", s.handleListAudit)
		}
	})

	// Programmatic chain
	r.Route(p.ExternalPrefix+"/charging", func(r chi.Router) {
		r.Post("/start", s.handleStartCharging)
		r.Post("/stop", s.handleStopCharging)
	})

	r.Route(p.APIPrefix+"/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/tasks/{id}", s.handleGetTask)
	})

	return r
}
