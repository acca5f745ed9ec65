// internal/api/handlers.go
package api

import (
	"log/slog"
	"net/http"

	"driftpad/internal/blob"
	"driftpad/internal/chat"
	"driftpad/internal/checkpoint"
	"driftpad/internal/export"
	"driftpad/internal/files"
	"driftpad/internal/filetree"
	"driftpad/internal/prefs"
	"driftpad/internal/review"
)

// Services are the collaborators the API routes onto. Blobs is optional;
// without it binary imports stay inline in the store.
type Services struct {
	Store    files.Store
	Trees    *filetree.Registry
	Reviews  *review.Registry
	Ckpts    *checkpoint.Manager
	Chat     *chat.Service
	Prefs    *prefs.Manager
	Exporter *export.Exporter
	Blobs    *blob.Offloader
	Log      *slog.Logger
}

// Handler holds API route handlers.
type Handler struct {
	svcs Services
	log  *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svcs Services) *Handler {
	log := svcs.Log
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svcs: svcs, log: log}
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Prefs handles GET /prefs.
func (h *Handler) Prefs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svcs.Prefs.Current())
}

// UpdatePrefs handles PUT /prefs. The body is a full preference set;
// partial updates go through GET-modify-PUT.
func (h *Handler) UpdatePrefs(w http.ResponseWriter, r *http.Request) {
	var req prefsRequest
	if !h.decode(w, r, &req) {
		return
	}
	p := prefs.Preferences{
		AutoReview:        req.AutoReview,
		DefaultChatMode:   chat.CompletionMode(req.DefaultChatMode),
		SkipDeleteConfirm: req.SkipDeleteConfirm,
		PoolWidth:         req.PoolWidth,
		UndoDepth:         req.UndoDepth,
	}
	if err := h.svcs.Prefs.Update(r.Context(), p); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svcs.Prefs.Current())
}
