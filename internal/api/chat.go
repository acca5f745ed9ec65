// internal/api/chat.go
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"driftpad/internal/chat"
)

// ChatSessions handles GET /projects/{projectID}/chat/sessions.
func (h *Handler) ChatSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svcs.Chat.Sessions(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// CreateChatSession handles POST /projects/{projectID}/chat/sessions.
func (h *Handler) CreateChatSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	title := req.Title
	if title == "" {
		title = "New chat"
	}
	session, err := h.svcs.Chat.CreateSession(r.Context(), chi.URLParam(r, "projectID"), title)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// SendMessage handles POST /projects/{projectID}/chat/sessions/{sessionID}/messages.
// It blocks until the assistant reply lands; the pending placeholder and
// the final message also go out over the event socket. Mode and review
// behavior fall back to the stored preferences when the request leaves
// them unset.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	current := h.svcs.Prefs.Current()
	mode := chat.CompletionMode(req.Mode)
	if mode == "" {
		mode = current.DefaultChatMode
	}
	reviewMode := current.AutoReview
	if req.ReviewMode != nil {
		reviewMode = *req.ReviewMode
	}

	reply, err := h.svcs.Chat.Send(r.Context(),
		chi.URLParam(r, "projectID"), chi.URLParam(r, "sessionID"), req.Content,
		chat.SendOptions{
			Mode:            mode,
			ReviewMode:      reviewMode,
			CurrentFileText: req.CurrentFileText,
			Segments:        req.Segments,
		})
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// ChatMessages handles GET /chat/sessions/{sessionID}/messages.
func (h *Handler) ChatMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.svcs.Chat.Messages(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

// AbortChat handles POST /chat/sessions/{sessionID}/abort.
func (h *Handler) AbortChat(w http.ResponseWriter, r *http.Request) {
	if err := h.svcs.Chat.Abort(chi.URLParam(r, "sessionID")); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenameChatSession handles PATCH /chat/sessions/{sessionID}.
func (h *Handler) RenameChatSession(w http.ResponseWriter, r *http.Request) {
	var req renameSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svcs.Chat.RenameSession(r.Context(), chi.URLParam(r, "sessionID"), req.Title); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteChatSession handles DELETE /chat/sessions/{sessionID}. The
// session's review state and checkpoint record go with it.
func (h *Handler) DeleteChatSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.svcs.Chat.DeleteSession(r.Context(), sessionID); err != nil {
		h.writeErr(w, err)
		return
	}
	h.svcs.Reviews.Drop(sessionID)
	if err := h.svcs.Ckpts.DeleteSession(sessionID); err != nil {
		h.log.Warn("delete checkpoint record", "session_id", sessionID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}
