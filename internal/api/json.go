// internal/api/json.go
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"driftpad/internal/apperr"
	"driftpad/internal/checkpoint"
	"driftpad/internal/filetree"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", "error", err)
	}
}

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusFor maps service errors onto HTTP status codes. Undo/redo
// exhaustion is a conflict with current state, not a missing resource.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrAlreadyExists), errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, filetree.ErrNothingToUndo), errors.Is(err, filetree.ErrNothingToRedo):
		return http.StatusConflict
	case errors.Is(err, checkpoint.ErrNoRedo):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeErr renders a service error. Internal failures log the detail and
// hide it from the response body.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "error", err)
		writeJSON(w, status, errorBody("internal error"))
		return
	}
	writeJSON(w, status, errorBody(err.Error()))
}

type validatable interface {
	Validate() error
}

// decode parses a JSON request body, running the request's Validate hook
// when it has one. It writes the error response itself and reports whether
// the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	if v, ok := dst.(validatable); ok {
		if err := v.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return false
		}
	}
	return true
}
