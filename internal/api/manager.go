package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/chargegate/internal/audit"
	"github.com/nerrad567/chargegate/internal/auth"
	"github.com/nerrad567/chargegate/internal/console"
	"github.com/nerrad567/chargegate/internal/dispatch"
	"github.com/nerrad567/chargegate/internal/gateway"
	"github.com/nerrad567/chargegate/internal/httpx"
)

const (
	defaultTaskLimit = 50
	homeTaskLimit    = 10
)

func (s *Server) handleSignInForm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	err := console.RenderSignIn(w, console.SignInView{
		Action:       s.paths.SignInPath(),
		StaticPrefix: s.paths.StaticPrefix,
		CSRFField:    s.csrf.FormField,
		CSRFToken:    gateway.CSRFTokenFromContext(r.Context()),
		Failed:       q.Has("error"),
		SignedOut:    q.Has("logout"),
	})
	if err != nil {
		s.logger.Error("rendering sign-in page", "error", err)
	}
}

// handleSignIn verifies the submitted credentials and starts a session.
// Every failure lands back on the form with ?error.
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	failed := s.paths.SignInPath() + "?error"

	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, failed, http.StatusFound)
		return
	}

	username := r.PostForm.Get("username")
	op, err := s.signIn.Authenticate(r.Context(), username, r.PostForm.Get("password"))
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Error("operator sign-in failed", "error", err)
		}
		s.record(r, audit.Event{Action: audit.ActionSignInFailed, Actor: username, Outcome: audit.OutcomeRejected})
		http.Redirect(w, r, failed, http.StatusFound)
		return
	}

	if _, err := s.guard.StartSession(w, r, op); err != nil {
		s.logger.Error("starting operator session", "operator_id", op.ID, "error", err)
		http.Redirect(w, r, failed, http.StatusFound)
		return
	}

	s.logger.Info("operator signed in", "operator_id", op.ID, "username", op.Username)
	s.record(r, audit.Event{Action: audit.ActionSignIn, Actor: op.Username, Outcome: audit.OutcomeSuccess})
	http.Redirect(w, r, s.paths.HomePath(), http.StatusFound)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	s.record(r, audit.Event{Action: audit.ActionSignOut, Outcome: audit.OutcomeSuccess})
	if err := s.guard.EndSession(w, r); err != nil {
		s.logger.Warn("ending operator session", "error", err)
	}
	http.Redirect(w, r, s.paths.SignInPath()+"?logout", http.StatusFound)
}

type homeResponse struct {
	Operator    operatorView     `json:"operator"`
	RecentTasks []*dispatch.Task `json:"recentTasks"`
	LiveClients int              `json:"liveClients"`
}

type operatorView struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Roles []auth.Role `json:"roles"`
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	p := gateway.PrincipalFromContext(r.Context())
	if p == nil {
		http.Redirect(w, r, s.paths.SignInPath(), http.StatusFound)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, homeResponse{
		Operator:    operatorView{ID: p.ID, Name: p.Name, Roles: p.Roles},
		RecentTasks: s.tasks.Recent(homeTaskLimit),
		LiveClients: s.hub.ClientCount(),
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := defaultTaskLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	tasks := s.tasks.Recent(limit)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// handleGetTask serves both the console and API clients polling an outcome.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		httpx.WriteBadRequest(w, "task id must be a positive integer")
		return
	}

	task, err := s.tasks.Get(id)
	if err != nil {
		httpx.WriteNotFound(w, "task not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, task)
}
