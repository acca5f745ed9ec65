// internal/filetree/undo.go
package filetree

import (
	"context"
	"errors"
	"fmt"

	"driftpad/internal/apperr"
	"driftpad/internal/files"
)

// ErrNothingToUndo is returned when the undo stack is empty.
var ErrNothingToUndo = errors.New("nothing to undo")

// ErrNothingToRedo is returned when the redo stack is empty.
var ErrNothingToRedo = errors.New("nothing to redo")

// ActionKind tags a reversal descriptor.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionDelete ActionKind = "delete"
	ActionRename ActionKind = "rename"
	ActionMove   ActionKind = "move"
	ActionCopy   ActionKind = "copy"
)

// SnapshotEntry preserves one node and its content for recreation.
type SnapshotEntry struct {
	Node    files.Node
	Content string
}

// MoveRecord remembers both sides of one reparenting.
type MoveRecord struct {
	NodeID    string
	OldParent *string
	NewParent *string
}

// Action is the reversal descriptor for one confirmed mutation. Which
// fields are set depends on Kind: created root ids for create and copy, a
// parent-first subtree snapshot for delete, the name pair for rename and
// the parent pairs for move.
type Action struct {
	Kind     ActionKind
	NodeID   string
	OldName  string
	NewName  string
	RootIDs  []string
	Moves    []MoveRecord
	Snapshot []SnapshotEntry
}

// actionStack is a bounded LIFO. Pushing onto a full stack evicts the
// oldest entry.
type actionStack struct {
	limit int
	items []Action
}

func newActionStack(limit int) *actionStack {
	return &actionStack{limit: limit}
}

func (s *actionStack) push(a Action) {
	if len(s.items) >= s.limit {
		s.items = s.items[1:]
	}
	s.items = append(s.items, a)
}

func (s *actionStack) pop() (Action, bool) {
	if len(s.items) == 0 {
		return Action{}, false
	}
	a := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return a, true
}

func (s *actionStack) size() int {
	return len(s.items)
}

func (s *actionStack) clear() {
	s.items = nil
}

// CanUndo reports whether an undo is available.
func (m *Mutator) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.undo.size() > 0
}

// CanRedo reports whether a redo is available.
func (m *Mutator) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.redo.size() > 0
}

// Undo reverses the most recent confirmed mutation. The descriptor for
// re-applying it moves to the redo stack; if the reversal fails, the
// popped descriptor goes back onto the undo stack so it can be retried.
func (m *Mutator) Undo(ctx context.Context) error {
	m.submitting.Store(true)
	defer m.submitting.Store(false)

	m.mu.Lock()
	action, ok := m.undo.pop()
	m.mu.Unlock()
	if !ok {
		return ErrNothingToUndo
	}

	inverse, err := m.applyInverse(ctx, action)
	if err != nil {
		m.mu.Lock()
		m.undo.push(action)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.redo.push(inverse)
	m.mu.Unlock()
	m.reconcile(ctx)
	return nil
}

// Redo re-applies the most recently undone mutation, with the same
// retry-on-failure contract as Undo.
func (m *Mutator) Redo(ctx context.Context) error {
	m.submitting.Store(true)
	defer m.submitting.Store(false)

	m.mu.Lock()
	action, ok := m.redo.pop()
	m.mu.Unlock()
	if !ok {
		return ErrNothingToRedo
	}

	inverse, err := m.applyInverse(ctx, action)
	if err != nil {
		m.mu.Lock()
		m.redo.push(action)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.undo.push(inverse)
	m.mu.Unlock()
	m.reconcile(ctx)
	return nil
}

// applyInverse performs the reversal a descriptor records and returns the
// descriptor that re-applies it. Undoing a delete recreates the subtree
// under fresh ids, so the returned create descriptor carries the new
// roots, not the originals.
func (m *Mutator) applyInverse(ctx context.Context, a Action) (Action, error) {
	switch a.Kind {
	case ActionCreate, ActionCopy:
		snapshot := m.snapshotLive(ctx, a.RootIDs)
		for _, id := range a.RootIDs {
			if err := m.store.DeleteNode(ctx, id); err != nil && !errors.Is(err, apperr.ErrNotFound) {
				return Action{}, fmt.Errorf("undo create %s: %w", id, err)
			}
		}
		return Action{Kind: ActionDelete, Snapshot: snapshot}, nil

	case ActionDelete:
		roots, err := m.restoreSnapshot(ctx, a.Snapshot)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: ActionCreate, RootIDs: roots}, nil

	case ActionRename:
		if err := m.store.RenameNode(ctx, a.NodeID, a.OldName); err != nil {
			return Action{}, fmt.Errorf("undo rename %s: %w", a.NodeID, err)
		}
		return Action{Kind: ActionRename, NodeID: a.NodeID, OldName: a.NewName, NewName: a.OldName}, nil

	case ActionMove:
		swapped := make([]MoveRecord, len(a.Moves))
		for i, mv := range a.Moves {
			if err := m.store.MoveNode(ctx, mv.NodeID, mv.OldParent); err != nil {
				return Action{}, fmt.Errorf("undo move %s: %w", mv.NodeID, err)
			}
			swapped[i] = MoveRecord{NodeID: mv.NodeID, OldParent: mv.NewParent, NewParent: mv.OldParent}
		}
		return Action{Kind: ActionMove, Moves: swapped}, nil
	}
	return Action{}, fmt.Errorf("action %s: %w", a.Kind, apperr.ErrInvalid)
}

// snapshotLive captures the current subtrees under the given roots from
// the store, parents before children, with file bodies attached.
func (m *Mutator) snapshotLive(ctx context.Context, rootIDs []string) []SnapshotEntry {
	nodes, err := m.store.ListNodes(ctx, m.projectID)
	if err != nil {
		m.log.Warn("snapshot subtree", "error", err)
		return nil
	}

	byID := make(map[string]files.Node, len(nodes))
	children := make(map[string][]files.Node)
	for _, n := range nodes {
		byID[n.ID] = n
		if n.ParentID != nil {
			children[*n.ParentID] = append(children[*n.ParentID], n)
		}
	}

	var ordered []files.Node
	var queue []string
	for _, id := range rootIDs {
		if n, ok := byID[id]; ok {
			ordered = append(ordered, n)
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			ordered = append(ordered, c)
			queue = append(queue, c.ID)
		}
	}
	return m.snapshotContent(ctx, ordered)
}

// restoreSnapshot recreates a parent-first subtree snapshot. The store
// assigns fresh ids; parent references inside the snapshot are remapped as
// entries are recreated. Returns the new ids of the snapshot's roots.
func (m *Mutator) restoreSnapshot(ctx context.Context, entries []SnapshotEntry) ([]string, error) {
	inSet := make(map[string]bool, len(entries))
	for _, e := range entries {
		inSet[e.Node.ID] = true
	}

	idMap := make(map[string]string, len(entries))
	var roots []string
	for _, e := range entries {
		parent := e.Node.ParentID
		if parent != nil {
			if mapped, ok := idMap[*parent]; ok {
				p := mapped
				parent = &p
			}
		}

		var newID string
		var err error
		if e.Node.Type == files.TypeFolder {
			newID, err = m.store.CreateFolder(ctx, m.projectID, parent, e.Node.Name)
		} else {
			newID, err = m.store.CreateFile(ctx, m.projectID, parent, e.Node.Name, e.Content, files.CreateOptions{})
		}
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w", e.Node.Name, err)
		}

		idMap[e.Node.ID] = newID
		if e.Node.ParentID == nil || !inSet[*e.Node.ParentID] {
			roots = append(roots, newID)
		}
	}
	return roots, nil
}
