package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/raphaelgruber/docrag/internal/auth"
	"github.com/raphaelgruber/docrag/internal/models"
	"github.com/raphaelgruber/docrag/internal/service"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeError maps service errors to status codes. Unexpected errors are
// logged and answered with a generic 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, auth.ErrInvalidState):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrAccessDenied):
		writeErrorMessage(w, http.StatusForbidden, err.Error())
	default:
		s.logger.Error("request error", "error", err)
		writeErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeJobError answers job lookups with fixed messages.
func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, service.ErrAccessDenied):
		writeErrorMessage(w, http.StatusForbidden, "Access denied")
	default:
		s.writeError(w, err)
	}
}
