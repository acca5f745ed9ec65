// internal/api/checkpoints.go
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"driftpad/internal/export"
)

// Checkpoints handles GET /projects/{projectID}/sessions/{sessionID}/checkpoints.
func (h *Handler) Checkpoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.checkpointState(chi.URLParam(r, "sessionID")))
}

func (h *Handler) checkpointState(sessionID string) checkpointsResponse {
	headID, headMsg := h.svcs.Ckpts.Head(sessionID)
	return checkpointsResponse{
		Checkpoints:      h.svcs.Ckpts.Checkpoints(sessionID),
		HeadCheckpointID: headID,
		HeadMessageID:    headMsg,
		CanRedo:          h.svcs.Ckpts.CanRedo(sessionID),
	}
}

// Restore handles POST /projects/{projectID}/sessions/{sessionID}/restore.
// The target is either a checkpoint id or a message index; the session's
// message order decides which checkpoints a message target undoes.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	sessionID := chi.URLParam(r, "sessionID")
	var req restoreRequest
	if !h.decode(w, r, &req) {
		return
	}

	messageIDs, err := h.svcs.Chat.MessageIDs(r.Context(), sessionID)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	if req.CheckpointID != "" {
		err = h.svcs.Ckpts.RestoreToCheckpoint(r.Context(), projectID, sessionID, req.CheckpointID, messageIDs)
	} else {
		err = h.svcs.Ckpts.RestoreToMessage(r.Context(), projectID, sessionID, messageIDs, *req.MessageIndex)
	}
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.checkpointState(sessionID))
}

// RedoCheckpoint handles POST /projects/{projectID}/sessions/{sessionID}/redo-checkpoint.
func (h *Handler) RedoCheckpoint(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.svcs.Ckpts.Redo(r.Context(), projectID, sessionID); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.checkpointState(sessionID))
}

// Export handles POST /projects/{projectID}/sessions/{sessionID}/export.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.svcs.Exporter.ExportSession(r.Context(),
		chi.URLParam(r, "projectID"), chi.URLParam(r, "sessionID"),
		export.Options{Dir: req.Dir, AuthorName: req.AuthorName, AuthorEmail: req.AuthorEmail})
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
