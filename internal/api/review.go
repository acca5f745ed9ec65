// internal/api/review.go
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"driftpad/internal/review"
)

func (h *Handler) reviewSession(r *http.Request) *review.Controller {
	return h.svcs.Reviews.Session(chi.URLParam(r, "sessionID"))
}

// ReviewState handles GET /sessions/{sessionID}/review.
func (h *Handler) ReviewState(w http.ResponseWriter, r *http.Request) {
	ctl := h.reviewSession(r)
	changes := ctl.Changes()
	resp := reviewStateResponse{
		Phase:   string(ctl.Phase()),
		Outcome: string(ctl.Outcome()),
		Focused: ctl.Focused(),
		Issues:  ctl.Issues(),
		Changes: make([]changeResponse, len(changes)),
	}
	for i, c := range changes {
		resp.Changes[i] = toChangeResponse(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

// AcceptAll handles POST /sessions/{sessionID}/review/accept.
func (h *Handler) AcceptAll(w http.ResponseWriter, r *http.Request) {
	if err := h.reviewSession(r).AcceptAll(r.Context()); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RejectAll handles POST /sessions/{sessionID}/review/reject.
func (h *Handler) RejectAll(w http.ResponseWriter, r *http.Request) {
	if err := h.reviewSession(r).RejectAll(r.Context()); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FocusChange handles POST /sessions/{sessionID}/review/focus.
func (h *Handler) FocusChange(w http.ResponseWriter, r *http.Request) {
	var req focusRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.reviewSession(r).SetFocused(req.ChangeID); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetIssues handles PUT /sessions/{sessionID}/review/issues.
func (h *Handler) SetIssues(w http.ResponseWriter, r *http.Request) {
	var req issuesRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.reviewSession(r).SetIssues(req.Issues)
	w.WriteHeader(http.StatusNoContent)
}

// AcceptChange handles POST /sessions/{sessionID}/review/changes/{changeID}/accept.
func (h *Handler) AcceptChange(w http.ResponseWriter, r *http.Request) {
	if err := h.reviewSession(r).AcceptFile(r.Context(), chi.URLParam(r, "changeID")); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RejectChange handles POST /sessions/{sessionID}/review/changes/{changeID}/reject.
func (h *Handler) RejectChange(w http.ResponseWriter, r *http.Request) {
	if err := h.reviewSession(r).RejectFile(r.Context(), chi.URLParam(r, "changeID")); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AcceptLine handles POST /sessions/{sessionID}/review/changes/{changeID}/lines/{line}/accept.
func (h *Handler) AcceptLine(w http.ResponseWriter, r *http.Request) {
	h.decideLine(w, r, true)
}

// RejectLine handles POST /sessions/{sessionID}/review/changes/{changeID}/lines/{line}/reject.
func (h *Handler) RejectLine(w http.ResponseWriter, r *http.Request) {
	h.decideLine(w, r, false)
}

func (h *Handler) decideLine(w http.ResponseWriter, r *http.Request, accept bool) {
	line, err := strconv.Atoi(chi.URLParam(r, "line"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid line index"))
		return
	}
	ctl := h.reviewSession(r)
	changeID := chi.URLParam(r, "changeID")
	if accept {
		err = ctl.AcceptLine(r.Context(), changeID, line)
	} else {
		err = ctl.RejectLine(r.Context(), changeID, line)
	}
	if err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
