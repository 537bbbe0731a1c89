package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nerrad567/chargegate/internal/audit"
	"github.com/nerrad567/chargegate/internal/charging"
	"github.com/nerrad567/chargegate/internal/dispatch"
	"github.com/nerrad567/chargegate/internal/httpx"
)

// handleStartCharging accepts a partner remote start.
func (s *Server) handleStartCharging(w http.ResponseWriter, r *http.Request) {
	var req charging.StartRequest
	if err := charging.DecodeJSON(r.Body, &req); err != nil {
		s.writeSubmitError(w, r, err)
		return
	}

	ack, err := s.charging.SubmitStart(r.Context(), req)
	s.recordSubmit(r, audit.ActionRemoteStart, req.ChargePointID, ack, err)
	if err != nil {
		s.writeSubmitError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ack)
}

// handleStopCharging accepts a partner remote stop.
func (s *Server) handleStopCharging(w http.ResponseWriter, r *http.Request) {
	var req charging.StopRequest
	if err := charging.DecodeJSON(r.Body, &req); err != nil {
		s.writeSubmitError(w, r, err)
		return
	}

	ack, err := s.charging.SubmitStop(r.Context(), req)
	s.recordSubmit(r, audit.ActionRemoteStop, req.ChargePointID, ack, err)
	if err != nil {
		s.writeSubmitError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ack)
}

// recordSubmit audits a submission that passed validation.
func (s *Server) recordSubmit(r *http.Request, action, chargePointID string, ack charging.Acknowledgment, err error) {
	var verr *charging.ValidationError
	if errors.As(err, &verr) {
		return
	}

	e := audit.Event{
		Action:  action,
		Target:  strings.TrimSpace(chargePointID),
		Outcome: audit.OutcomeSuccess,
		TaskID:  ack.TaskID,
		Details: map[string]any{"remoteAddr": r.RemoteAddr},
	}
	if err != nil {
		e.Outcome = audit.OutcomeFailed
		e.Details["error"] = err.Error()
	}
	s.record(r, e)
}

// writeSubmitError maps submission failures onto responses. No task id is
// ever returned on failure.
func (s *Server) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *charging.ValidationError
	switch {
	case errors.As(err, &verr):
		fields := make([]httpx.FieldError, len(verr.Fields))
		for i, f := range verr.Fields {
			fields[i] = httpx.FieldError{Field: f.Field, Message: f.Message}
		}
		httpx.WriteValidation(w, "request validation failed", fields)
	case errors.Is(err, dispatch.ErrUnavailable):
		s.logger.Warn("charging command not dispatched", "path", r.URL.Path, "error", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, httpx.CodeDispatchUnavailable, "command bus unavailable")
	case errors.Is(err, dispatch.ErrDispatchFailed):
		s.logger.Warn("charging command not dispatched", "path", r.URL.Path, "error", err)
		httpx.WriteError(w, http.StatusBadGateway, httpx.CodeDispatchFailed, "command could not be dispatched")
	default:
		s.logger.Error("charging command failed", "path", r.URL.Path, "error", err)
		httpx.WriteInternalError(w, "internal server error")
	}
}
