// bindings.go
package main

import (
	"context"

	"driftpad/internal/chat"
	"driftpad/internal/checkpoint"
	"driftpad/internal/filetree"
	"driftpad/internal/prefs"
)

// Bindings is the RPC surface exposed over the WebSocket connection. It
// carries the low-latency editor view state that would be wasteful as REST
// round trips; everything durable goes through the HTTP API.
type Bindings struct {
	trees *filetree.Registry
	ckpts *checkpoint.Manager
	chat  *chat.Service
	prefs *prefs.Manager
}

// NewBindings creates the WebSocket RPC surface.
func NewBindings(trees *filetree.Registry, ckpts *checkpoint.Manager, chatSvc *chat.Service, prefsMgr *prefs.Manager) *Bindings {
	return &Bindings{trees: trees, ckpts: ckpts, chat: chatSvc, prefs: prefsMgr}
}

// Ping answers connectivity probes from the client.
func (b *Bindings) Ping() string {
	return "pong"
}

func (b *Bindings) project(projectID string) (*filetree.Mutator, error) {
	return b.trees.Project(context.Background(), projectID)
}

// ===== Tab Bindings =====

// OpenTab appends a node to the project's open tab strip.
func (b *Bindings) OpenTab(projectID, nodeID string) error {
	mut, err := b.project(projectID)
	if err != nil {
		return err
	}
	mut.OpenTab(nodeID)
	return nil
}

// CloseTab removes a node from the open tab strip.
func (b *Bindings) CloseTab(projectID, nodeID string) error {
	mut, err := b.project(projectID)
	if err != nil {
		return err
	}
	mut.CloseTab(nodeID)
	return nil
}

// SetActiveTab marks the focused tab.
func (b *Bindings) SetActiveTab(projectID, nodeID string) error {
	mut, err := b.project(projectID)
	if err != nil {
		return err
	}
	mut.SetActive(nodeID)
	return nil
}

// Tabs returns the project's open tab node ids in open order.
func (b *Bindings) Tabs(projectID string) ([]string, error) {
	mut, err := b.project(projectID)
	if err != nil {
		return nil, err
	}
	return mut.Tabs(), nil
}

// ActiveTab returns the focused tab's node id, empty when none is focused.
func (b *Bindings) ActiveTab(projectID string) (string, error) {
	mut, err := b.project(projectID)
	if err != nil {
		return "", err
	}
	return mut.Active(), nil
}

// ===== Tree Bindings =====

// CanUndo reports whether the project has undoable tree operations.
func (b *Bindings) CanUndo(projectID string) (bool, error) {
	mut, err := b.project(projectID)
	if err != nil {
		return false, err
	}
	return mut.CanUndo(), nil
}

// CanRedo reports whether the project has redoable tree operations.
func (b *Bindings) CanRedo(projectID string) (bool, error) {
	mut, err := b.project(projectID)
	if err != nil {
		return false, err
	}
	return mut.CanRedo(), nil
}

// ===== Chat Bindings =====

// ChatBusy reports whether a completion is in flight for the session.
func (b *Bindings) ChatBusy(sessionID string) bool {
	return b.chat.Busy(sessionID)
}

// ===== Checkpoint Bindings =====

// CanRedoCheckpoint reports whether the session head sits behind undone
// checkpoints.
func (b *Bindings) CanRedoCheckpoint(sessionID string) bool {
	return b.ckpts.CanRedo(sessionID)
}

// ===== Preference Bindings =====

// Preferences returns the current workspace preferences.
func (b *Bindings) Preferences() prefs.Preferences {
	return b.prefs.Current()
}
