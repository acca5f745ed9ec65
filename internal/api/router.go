// internal/api/router.go
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted. authorize
// guards every route except /health; wsHandler, if non-nil, is mounted at
// GET /ws inside the same auth group so REST and the socket share one
// token check.
func NewRouter(svcs Services, authorize func(*http.Request) bool, wsHandler http.Handler) chi.Router {
	h := NewHandler(svcs)

	r := chi.NewRouter()
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authorize))

		// Project tree and editor view state.
		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/tree", h.Tree)
			r.Post("/files", h.CreateFile)
			r.Post("/folders", h.CreateFolder)
			r.Post("/import", h.ImportFiles)
			r.Post("/undo", h.Undo)
			r.Post("/redo", h.Redo)
			r.Post("/nodes/move", h.MoveNodes)
			r.Post("/nodes/copy", h.CopyNodes)
			r.Post("/nodes/{nodeID}/rename", h.RenameNode)
			r.Delete("/nodes/{nodeID}", h.DeleteNode)
			r.Get("/files/{nodeID}/content", h.FileContent)
			r.Put("/files/{nodeID}/content", h.SaveFileContent)
			r.Get("/files/{nodeID}/raw", h.FileRaw)

			// Checkpoint timeline, scoped to a chat session.
			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Get("/checkpoints", h.Checkpoints)
				r.Post("/restore", h.Restore)
				r.Post("/redo-checkpoint", h.RedoCheckpoint)
				r.Post("/export", h.Export)
			})

			r.Get("/chat/sessions", h.ChatSessions)
			r.Post("/chat/sessions", h.CreateChatSession)
			r.Post("/chat/sessions/{sessionID}/messages", h.SendMessage)
		})

		// Chat sessions, addressable without the project once created.
		r.Route("/chat/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/messages", h.ChatMessages)
			r.Post("/abort", h.AbortChat)
			r.Patch("/", h.RenameChatSession)
			r.Delete("/", h.DeleteChatSession)
		})

		// Review session for one chat session.
		r.Route("/sessions/{sessionID}/review", func(r chi.Router) {
			r.Get("/", h.ReviewState)
			r.Post("/accept", h.AcceptAll)
			r.Post("/reject", h.RejectAll)
			r.Post("/focus", h.FocusChange)
			r.Put("/issues", h.SetIssues)
			r.Post("/changes/{changeID}/accept", h.AcceptChange)
			r.Post("/changes/{changeID}/reject", h.RejectChange)
			r.Post("/changes/{changeID}/lines/{line}/accept", h.AcceptLine)
			r.Post("/changes/{changeID}/lines/{line}/reject", h.RejectLine)
		})

		r.Get("/prefs", h.Prefs)
		r.Put("/prefs", h.UpdatePrefs)

		if wsHandler != nil {
			r.Get("/ws", wsHandler.ServeHTTP)
		}
	})

	return r
}
