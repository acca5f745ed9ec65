// internal/review/registry.go
package review

import (
	"context"
	"log/slog"
	"sync"

	"driftpad/internal/changeset"
	"driftpad/internal/checkpoint"
	"driftpad/internal/eventhub"
	"driftpad/internal/files"
)

// Registry hands out one controller per chat session and fans staged
// change sets to them. It satisfies the chat service's reviewer hook.
type Registry struct {
	store files.Store
	ckpts *checkpoint.Manager
	hub   *eventhub.EventHub
	log   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Controller
}

// NewRegistry creates an empty registry.
func NewRegistry(store files.Store, ckpts *checkpoint.Manager, hub *eventhub.EventHub, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		store:    store,
		ckpts:    ckpts,
		hub:      hub,
		log:      log,
		sessions: make(map[string]*Controller),
	}
}

// Session returns the session's controller, creating it on first use.
func (r *Registry) Session(sessionID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.sessions[sessionID]
	if !ok {
		c = NewController(sessionID, r.store, r.ckpts, r.hub, r.log)
		r.sessions[sessionID] = c
	}
	return c
}

// Stage routes a proposed change set to its session's controller.
func (r *Registry) Stage(ctx context.Context, projectID, sessionID, origin string, proposed []changeset.Proposed) error {
	return r.Session(sessionID).Stage(ctx, projectID, origin, proposed)
}

// Drop discards a session's controller, for use when the session itself
// is deleted.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}
