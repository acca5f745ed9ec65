// internal/filetree/mutator.go
package filetree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"driftpad/internal/apperr"
	"driftpad/internal/eventhub"
	"driftpad/internal/files"
)

const (
	defaultUndoDepth = 50
	defaultPoolWidth = 4
	defaultRetries   = 2
)

// Options tunes a Mutator. Zero values take the defaults.
type Options struct {
	// UndoDepth bounds the undo and redo stacks.
	UndoDepth int
	// PoolWidth bounds concurrent store calls for bulk work.
	PoolWidth int
	// Retries bounds replays of a file create whose reply was lost.
	Retries int
}

// Mutator keeps a client-side mirror of one project's tree and applies
// mutations optimistically: the mirror changes first, the store confirms,
// and a failed confirmation rolls the mirror back. Every confirmed
// mutation records a reversal descriptor for Undo.
type Mutator struct {
	projectID string
	store     files.Store
	hub       *eventhub.EventHub
	log       *slog.Logger
	poolWidth int
	retries   int

	mu         sync.Mutex
	nodes      map[string]files.Node
	openTabs   []string
	activeNode string
	undo       *actionStack
	redo       *actionStack

	submitting atomic.Bool
}

// NewMutator creates a mutator for one project. The mirror starts empty;
// call Refresh to populate it.
func NewMutator(projectID string, store files.Store, hub *eventhub.EventHub, log *slog.Logger, opts Options) *Mutator {
	if log == nil {
		log = slog.Default()
	}
	depth := opts.UndoDepth
	if depth <= 0 {
		depth = defaultUndoDepth
	}
	width := opts.PoolWidth
	if width <= 0 {
		width = defaultPoolWidth
	}
	retries := opts.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	return &Mutator{
		projectID: projectID,
		store:     store,
		hub:       hub,
		log:       log,
		poolWidth: width,
		retries:   retries,
		nodes:     make(map[string]files.Node),
		undo:      newActionStack(depth),
		redo:      newActionStack(depth),
	}
}

// Refresh replaces the mirror with the store's view. It yields while a
// foreground mutation is in flight so the mutation's own reconcile wins.
func (m *Mutator) Refresh(ctx context.Context) error {
	if m.submitting.Load() {
		return nil
	}
	return m.reload(ctx)
}

func (m *Mutator) reload(ctx context.Context) error {
	nodes, err := m.store.ListNodes(ctx, m.projectID)
	if err != nil {
		return fmt.Errorf("refresh tree: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = make(map[string]files.Node, len(nodes))
	for _, n := range nodes {
		m.nodes[n.ID] = n
	}
	m.pruneViewLocked()
	return nil
}

// pruneViewLocked drops tab and active references to vanished nodes.
func (m *Mutator) pruneViewLocked() {
	kept := m.openTabs[:0]
	for _, id := range m.openTabs {
		if _, ok := m.nodes[id]; ok {
			kept = append(kept, id)
		}
	}
	m.openTabs = kept
	if m.activeNode != "" {
		if _, ok := m.nodes[m.activeNode]; !ok {
			m.activeNode = ""
		}
	}
}

// Nodes returns a copy of the mirrored tree sorted by path.
func (m *Mutator) Nodes() []files.Node {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]files.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	paths := files.BuildPaths(out)
	sort.Slice(out, func(i, j int) bool {
		return paths[out[i].ID] < paths[out[j].ID]
	})
	return out
}

// Node looks up one mirrored node.
func (m *Mutator) Node(id string) (files.Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[id]
	return n, ok
}

// PathOf resolves a node's slash path from the mirror, "" if unknown.
func (m *Mutator) PathOf(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[id]; !ok {
		return ""
	}
	all := make([]files.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		all = append(all, n)
	}
	return files.BuildPaths(all)[id]
}

// OpenTab adds id to the open tab list if it is not there already.
func (m *Mutator) OpenTab(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tab := range m.openTabs {
		if tab == id {
			return
		}
	}
	m.openTabs = append(m.openTabs, id)
}

// CloseTab removes id from the open tab list.
func (m *Mutator) CloseTab(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeTabsLocked(map[string]bool{id: true})
}

func (m *Mutator) closeTabsLocked(ids map[string]bool) {
	kept := m.openTabs[:0]
	for _, tab := range m.openTabs {
		if !ids[tab] {
			kept = append(kept, tab)
		}
	}
	m.openTabs = kept
	if ids[m.activeNode] {
		m.activeNode = ""
	}
}

// Tabs returns the open tab ids in order.
func (m *Mutator) Tabs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.openTabs...)
}

// SetActive moves the active-node pointer.
func (m *Mutator) SetActive(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeNode = id
}

// Active returns the active node id, "" if none.
func (m *Mutator) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeNode
}

// CreateFile inserts a placeholder immediately and reconciles it with the
// store's confirmation: the placeholder id is swapped for the assigned one
// everywhere it is referenced. The idempotency key lets a retried request
// resolve to the node the first attempt made instead of duplicating it.
func (m *Mutator) CreateFile(ctx context.Context, parentID *string, path, content string) (string, error) {
	m.submitting.Store(true)
	defer m.submitting.Store(false)

	tempID := files.NewTempID()
	m.mu.Lock()
	m.nodes[tempID] = files.Node{
		ID:        tempID,
		ProjectID: m.projectID,
		ParentID:  parentID,
		Type:      files.TypeFile,
		Name:      lastSegment(path),
	}
	m.openTabs = append(m.openTabs, tempID)
	m.activeNode = tempID
	m.mu.Unlock()

	key := uuid.New().String()
	createOpts := files.CreateOptions{IdempotencyKey: key}
	id, err := m.store.CreateFile(ctx, m.projectID, parentID, path, content, createOpts)
	// The request may have landed even though the reply was lost.
	// Replaying the same key settles it either way.
	for attempt := 1; err != nil && attempt <= m.retries; attempt++ {
		id, err = m.store.CreateFile(ctx, m.projectID, parentID, path, content, createOpts)
		if err == nil {
			m.log.Warn("create settled on retry", "path", path, "attempt", attempt)
		}
	}
	if err != nil {
		m.dropPlaceholder(tempID)
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	m.adoptID(tempID, id)
	m.pushAction(Action{Kind: ActionCreate, RootIDs: []string{id}})
	m.reconcile(ctx)
	return id, nil
}

// CreateFolder follows the same placeholder flow as CreateFile. Folder
// creates carry no idempotency key, so a lost reply is settled by looking
// for the folder at its intended placement.
func (m *Mutator) CreateFolder(ctx context.Context, parentID *string, path string) (string, error) {
	m.submitting.Store(true)
	defer m.submitting.Store(false)

	name := lastSegment(path)
	tempID := files.NewTempID()
	m.mu.Lock()
	m.nodes[tempID] = files.Node{
		ID:        tempID,
		ProjectID: m.projectID,
		ParentID:  parentID,
		Type:      files.TypeFolder,
		Name:      name,
	}
	m.mu.Unlock()

	id, err := m.store.CreateFolder(ctx, m.projectID, parentID, path)
	if err != nil {
		id = m.findCreated(ctx, parentID, name, files.TypeFolder)
		if id == "" {
			m.dropPlaceholder(tempID)
			return "", fmt.Errorf("create folder %s: %w", path, err)
		}
		m.log.Warn("create folder settled after refresh", "path", path)
	}

	m.adoptID(tempID, id)
	m.pushAction(Action{Kind: ActionCreate, RootIDs: []string{id}})
	m.reconcile(ctx)
	return id, nil
}

// findCreated checks whether a create landed despite its error reply.
func (m *Mutator) findCreated(ctx context.Context, parentID *string, name string, typ files.NodeType) string {
	nodes, err := m.store.ListNodes(ctx, m.projectID)
	if err != nil {
		return ""
	}
	for _, n := range nodes {
		if n.Name == name && n.Type == typ && sameRef(n.ParentID, parentID) {
			return n.ID
		}
	}
	return ""
}

// Delete removes a subtree. The mirror drops it immediately and its tabs
// close; the content snapshot taken first backs both rollback and Undo.
// Snapshot fetches are best-effort so a missing body never blocks the
// delete itself.
func (m *Mutator) Delete(ctx context.Context, id string) error {
	m.submitting.Store(true)
	defer m.submitting.Store(false)

	m.mu.Lock()
	if _, ok := m.nodes[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("node %s: %w", id, apperr.ErrNotFound)
	}
	doomed := m.subtreeLocked(id)
	m.mu.Unlock()

	snapshot := m.snapshotContent(ctx, doomed)

	removed := make(map[string]bool, len(doomed))
	m.mu.Lock()
	prevTabs := append([]string(nil), m.openTabs...)
	prevActive := m.activeNode
	for _, n := range doomed {
		delete(m.nodes, n.ID)
		removed[n.ID] = true
	}
	m.closeTabsLocked(removed)
	m.mu.Unlock()

	if err := m.store.DeleteNode(ctx, id); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		m.mu.Lock()
		for _, e := range snapshot {
			m.nodes[e.Node.ID] = e.Node
		}
		m.openTabs = prevTabs
		m.activeNode = prevActive
		m.mu.Unlock()
		return fmt.Errorf("delete %s: %w", id, err)
	}

	m.pushAction(Action{Kind: ActionDelete, Snapshot: snapshot})
	m.reconcile(ctx)
	return nil
}

// Rename changes a node's name, mirror first.
func (m *Mutator) Rename(ctx context.Context, id, newName string) error {
	m.submitting.Store(true)
	defer m.submitting.Store(false)

	m.mu.Lock()
	n, ok := m.nodes[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("node %s: %w", id, apperr.ErrNotFound)
	}
	oldName := n.Name
	n.Name = newName
	m.nodes[id] = n
	m.mu.Unlock()

	if err := m.store.RenameNode(ctx, id, newName); err != nil {
		m.mu.Lock()
		if n, ok := m.nodes[id]; ok {
			n.Name = oldName
			m.nodes[id] = n
		}
		m.mu.Unlock()
		return fmt.Errorf("rename %s: %w", id, err)
	}

	m.pushAction(Action{Kind: ActionRename, NodeID: id, OldName: oldName, NewName: newName})
	m.reconcile(ctx)
	return nil
}

// Move reparents nodes. Nodes already at the destination are skipped. The
// store calls run in parallel; if any fails, moves that did land are sent
// back and the mirror returns to the prior parents, so the batch is
// all-or-nothing.
func (m *Mutator) Move(ctx context.Context, ids []string, newParentID *string) error {
	m.submitting.Store(true)
	defer m.submitting.Store(false)

	m.mu.Lock()
	var moves []MoveRecord
	for _, id := range ids {
		n, ok := m.nodes[id]
		if !ok || sameRef(n.ParentID, newParentID) {
			continue
		}
		moves = append(moves, MoveRecord{NodeID: id, OldParent: n.ParentID, NewParent: newParentID})
		n.ParentID = newParentID
		m.nodes[id] = n
	}
	m.mu.Unlock()
	if len(moves) == 0 {
		return nil
	}

	landed := make([]bool, len(moves))
	failures := make([]error, len(moves))
	var g errgroup.Group
	g.SetLimit(m.poolWidth)
	for i, mv := range moves {
		i, mv := i, mv
		g.Go(func() error {
			if err := m.store.MoveNode(ctx, mv.NodeID, mv.NewParent); err != nil {
				failures[i] = err
				return nil
			}
			landed[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var firstErr error
	for i, err := range failures {
		if err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("move %s: %w", moves[i].NodeID, err)
		} else {
			m.log.Warn("move failed", "node", moves[i].NodeID, "error", err)
		}
	}
	if firstErr != nil {
		for i, mv := range moves {
			if !landed[i] {
				continue
			}
			if err := m.store.MoveNode(ctx, mv.NodeID, mv.OldParent); err != nil {
				m.log.Warn("rollback move", "node", mv.NodeID, "error", err)
			}
		}
		m.mu.Lock()
		for _, mv := range moves {
			if n, ok := m.nodes[mv.NodeID]; ok {
				n.ParentID = mv.OldParent
				m.nodes[mv.NodeID] = n
			}
		}
		m.mu.Unlock()
		m.reconcile(ctx)
		return firstErr
	}

	m.pushAction(Action{Kind: ActionMove, Moves: moves})
	m.reconcile(ctx)
	return nil
}

// Copy clones nodes into a destination. Copied structure and content come
// back on reconcile; Undo removes the created top-level copies and no
// more. A failed copy removes the copies made so far.
func (m *Mutator) Copy(ctx context.Context, ids []string, newParentID *string) ([]string, error) {
	m.submitting.Store(true)
	defer m.submitting.Store(false)

	var created []string
	for _, id := range ids {
		cid, err := m.store.CopyNode(ctx, id, newParentID)
		if err != nil {
			for _, c := range created {
				if derr := m.store.DeleteNode(ctx, c); derr != nil {
					m.log.Warn("rollback copy", "node", c, "error", derr)
				}
			}
			m.reconcile(ctx)
			return nil, fmt.Errorf("copy %s: %w", id, err)
		}
		created = append(created, cid)
	}
	if len(created) == 0 {
		return nil, nil
	}

	m.pushAction(Action{Kind: ActionCopy, RootIDs: created})
	m.reconcile(ctx)
	return created, nil
}

// adoptID replaces a placeholder id with the store-assigned one everywhere
// it is referenced: the mirror, child parent pointers, open tabs and the
// active-node pointer.
func (m *Mutator) adoptID(tempID, realID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[tempID]
	if !ok {
		return
	}
	delete(m.nodes, tempID)
	n.ID = realID
	m.nodes[realID] = n

	for cid, c := range m.nodes {
		if c.ParentID != nil && *c.ParentID == tempID {
			pid := realID
			c.ParentID = &pid
			m.nodes[cid] = c
		}
	}
	for i, tab := range m.openTabs {
		if tab == tempID {
			m.openTabs[i] = realID
		}
	}
	if m.activeNode == tempID {
		m.activeNode = realID
	}
}

func (m *Mutator) dropPlaceholder(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.nodes, id)
	m.closeTabsLocked(map[string]bool{id: true})
}

// subtreeLocked collects id and all descendants from the mirror, parents
// before children.
func (m *Mutator) subtreeLocked(id string) []files.Node {
	out := []files.Node{m.nodes[id]}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for cid, n := range m.nodes {
			if n.ParentID != nil && *n.ParentID == cur {
				out = append(out, n)
				queue = append(queue, cid)
			}
		}
	}
	return out
}

// snapshotContent attaches file bodies to the given nodes. A failed fetch
// degrades that entry to empty content rather than blocking the caller.
func (m *Mutator) snapshotContent(ctx context.Context, nodes []files.Node) []SnapshotEntry {
	entries := make([]SnapshotEntry, len(nodes))
	var g errgroup.Group
	g.SetLimit(m.poolWidth)
	for i, n := range nodes {
		i, n := i, n
		entries[i].Node = n
		if n.Type != files.TypeFile {
			continue
		}
		g.Go(func() error {
			content, err := m.store.GetFileContent(ctx, n.ID)
			if err != nil {
				m.log.Warn("snapshot content", "node", n.ID, "error", err)
				return nil
			}
			entries[i].Content = content
			return nil
		})
	}
	_ = g.Wait()
	return entries
}

// pushAction records a reversal descriptor and invalidates redo history.
func (m *Mutator) pushAction(a Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undo.push(a)
	m.redo.clear()
}

// reconcile refreshes the mirror after a confirmed mutation and announces
// the change. Refresh failure leaves the optimistic mirror standing.
func (m *Mutator) reconcile(ctx context.Context) {
	if err := m.reload(ctx); err != nil {
		m.log.Warn("reconcile tree", "project", m.projectID, "error", err)
	}
	if m.hub != nil {
		m.hub.EmitTreeChanged(m.projectID)
	}
}

func lastSegment(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func sameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
