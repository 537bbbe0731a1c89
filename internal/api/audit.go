package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/chargegate/internal/audit"
	"github.com/nerrad567/chargegate/internal/gateway"
	"github.com/nerrad567/chargegate/internal/httpx"
)

// record appends e to the audit trail. Failures are logged and never
// change the response.
func (s *Server) record(r *http.Request, e audit.Event) {
	if s.audit == nil {
		return
	}
	e.Chain = gateway.ChainFromContext(r.Context())
	if e.Actor == "" {
		if p := gateway.PrincipalFromContext(r.Context()); p != nil {
			e.Actor = p.Name
		}
	}
	if err := s.audit.Record(r.Context(), &e); err != nil {
		s.logger.Warn("recording audit event failed", "action", e.Action, "error", err)
	}
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		Target: q.Get("target"),
	}

	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpx.WriteBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	page, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit events", "error", err)
		httpx.WriteInternalError(w, "internal server error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}
