// Package httpx holds the JSON response helpers shared by the gateway and handlers.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Error represents a structured error response.
type Error struct {
	Status  int          `json:"status"`
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// FieldError names one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Common error codes.
const (
	CodeBadRequest          = "bad_request"
	CodeNotFound            = "not_found"
	CodeUnauthorized        = "unauthorised"
	CodeForbidden           = "forbidden"
	CodeCSRFInvalid         = "csrf_invalid"
	CodeInternal            = "internal_error"
	CodeValidation          = "validation_error"
	CodeMethodNotAllow      = "method_not_allowed"
	CodeDispatchFailed      = "dispatch_failed"
	CodeDispatchUnavailable = "dispatch_unavailable"
	CodeUpstreamUnavailable = "upstream_unavailable"
)

// WriteJSON writes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// WriteError writes a structured error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// WriteValidation writes a 400 response listing every offending field.
func WriteValidation(w http.ResponseWriter, message string, fields []FieldError) {
	WriteJSON(w, http.StatusBadRequest, Error{
		Status:  http.StatusBadRequest,
		Code:    CodeValidation,
		Message: message,
		Fields:  fields,
	})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeBadRequest, message)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// WriteInternalError writes a 500 error response.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternal, message)
}
