// internal/filetree/registry.go
package filetree

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"driftpad/internal/eventhub"
	"driftpad/internal/files"
)

// Registry hands out one mutator per project, loading the project's mirror
// on first use.
type Registry struct {
	store files.Store
	hub   *eventhub.EventHub
	log   *slog.Logger
	opts  Options

	mu       sync.Mutex
	projects map[string]*Mutator
}

// NewRegistry creates an empty registry. opts applies to every mutator it
// creates.
func NewRegistry(store files.Store, hub *eventhub.EventHub, log *slog.Logger, opts Options) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		store:    store,
		hub:      hub,
		log:      log,
		opts:     opts,
		projects: make(map[string]*Mutator),
	}
}

// Project returns the project's mutator. The first call for a project
// populates its mirror from the store; a failed load is not cached, so the
// next call retries.
func (r *Registry) Project(ctx context.Context, projectID string) (*Mutator, error) {
	r.mu.Lock()
	if m, ok := r.projects[projectID]; ok {
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	m := NewMutator(projectID, r.store, r.hub, r.log, r.opts)
	if err := m.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("load project %s: %w", projectID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.projects[projectID]; ok {
		// Another request loaded it meanwhile; keep the first one so
		// undo history is not split across instances.
		return existing, nil
	}
	r.projects[projectID] = m
	return m, nil
}

// Drop discards a project's mutator along with its undo history.
func (r *Registry) Drop(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.projects, projectID)
}
