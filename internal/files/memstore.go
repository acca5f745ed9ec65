// internal/files/memstore.go
package files

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"driftpad/internal/apperr"
)

// MemStore is an in-memory Store. It mirrors the SQLite store's conflict
// and cascade behavior so callers exercised against it behave the same
// against the real thing. Tests and throwaway preview projects use it.
type MemStore struct {
	mu      sync.Mutex
	seq     int
	nodes   map[string]Node
	content map[string]string
	keys    map[string]string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		nodes:   make(map[string]Node),
		content: make(map[string]string),
		keys:    make(map[string]string),
	}
}

func (m *MemStore) nextID() string {
	m.seq++
	return fmt.Sprintf("n%d", m.seq)
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *MemStore) findChild(projectID string, parentID *string, name string, typ NodeType) string {
	for id, n := range m.nodes {
		if n.ProjectID == projectID && n.Name == name && n.Type == typ && sameParent(n.ParentID, parentID) {
			return id
		}
	}
	return ""
}

func (m *MemStore) ListNodes(ctx context.Context, projectID string) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Node
	for _, n := range m.nodes {
		if n.ProjectID == projectID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *MemStore) ensureFolders(projectID string, parentID *string, segments []string) *string {
	for _, seg := range segments {
		if id := m.findChild(projectID, parentID, seg, TypeFolder); id != "" {
			parentID = &id
			continue
		}
		id := m.nextID()
		m.nodes[id] = Node{ID: id, ProjectID: projectID, ParentID: parentID, Type: TypeFolder, Name: seg}
		parentID = &id
	}
	return parentID
}

func splitCreatePath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("empty path: %w", apperr.ErrInvalid)
	}
	return strings.Split(path, "/"), nil
}

func (m *MemStore) CreateFile(ctx context.Context, projectID string, parentID *string, path, content string, opts CreateOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.IdempotencyKey != "" {
		if id, ok := m.keys[opts.IdempotencyKey]; ok {
			if _, alive := m.nodes[id]; alive {
				return id, nil
			}
			delete(m.keys, opts.IdempotencyKey)
		}
	}

	segments, err := splitCreatePath(path)
	if err != nil {
		return "", err
	}
	name := segments[len(segments)-1]
	parentID = m.ensureFolders(projectID, parentID, segments[:len(segments)-1])

	if m.findChild(projectID, parentID, name, TypeFile) != "" {
		return "", fmt.Errorf("file %s: %w", path, apperr.ErrAlreadyExists)
	}

	id := m.nextID()
	m.nodes[id] = Node{ID: id, ProjectID: projectID, ParentID: parentID, Type: TypeFile, Name: name}
	m.content[id] = content
	if opts.IdempotencyKey != "" {
		m.keys[opts.IdempotencyKey] = id
	}
	return id, nil
}

func (m *MemStore) CreateFolder(ctx context.Context, projectID string, parentID *string, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	segments, err := splitCreatePath(path)
	if err != nil {
		return "", err
	}
	name := segments[len(segments)-1]
	parentID = m.ensureFolders(projectID, parentID, segments[:len(segments)-1])

	if m.findChild(projectID, parentID, name, TypeFolder) != "" {
		return "", fmt.Errorf("folder %s: %w", path, apperr.ErrAlreadyExists)
	}

	id := m.nextID()
	m.nodes[id] = Node{ID: id, ProjectID: projectID, ParentID: parentID, Type: TypeFolder, Name: name}
	return id, nil
}

func (m *MemStore) RenameNode(ctx context.Context, id, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if newName == "" || strings.ContainsAny(newName, "/\\") {
		return fmt.Errorf("name %q: %w", newName, apperr.ErrInvalid)
	}
	n, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("node %s: %w", id, apperr.ErrNotFound)
	}
	if sib := m.findChild(n.ProjectID, n.ParentID, newName, n.Type); sib != "" && sib != id {
		return fmt.Errorf("name %s: %w", newName, apperr.ErrAlreadyExists)
	}
	n.Name = newName
	m.nodes[id] = n
	return nil
}

func (m *MemStore) MoveNode(ctx context.Context, id string, newParentID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("node %s: %w", id, apperr.ErrNotFound)
	}
	if newParentID != nil {
		dest, ok := m.nodes[*newParentID]
		if !ok {
			return fmt.Errorf("destination %s: %w", *newParentID, apperr.ErrNotFound)
		}
		if dest.Type != TypeFolder || dest.ProjectID != n.ProjectID {
			return fmt.Errorf("destination %s: %w", *newParentID, apperr.ErrInvalid)
		}
		// Walk up from the destination; reaching the moved node means the
		// move would create a cycle.
		for cur := &dest; cur != nil; {
			if cur.ID == id {
				return fmt.Errorf("move into own subtree: %w", apperr.ErrInvalid)
			}
			if cur.ParentID == nil {
				break
			}
			parent, ok := m.nodes[*cur.ParentID]
			if !ok {
				break
			}
			cur = &parent
		}
	}
	if sib := m.findChild(n.ProjectID, newParentID, n.Name, n.Type); sib != "" && sib != id {
		return fmt.Errorf("name %s: %w", n.Name, apperr.ErrAlreadyExists)
	}
	n.ParentID = newParentID
	m.nodes[id] = n
	return nil
}

func (m *MemStore) CopyNode(ctx context.Context, id string, newParentID *string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[id]
	if !ok {
		return "", fmt.Errorf("node %s: %w", id, apperr.ErrNotFound)
	}
	if sib := m.findChild(n.ProjectID, newParentID, n.Name, n.Type); sib != "" {
		return "", fmt.Errorf("name %s: %w", n.Name, apperr.ErrAlreadyExists)
	}
	return m.copySubtree(n, newParentID), nil
}

func (m *MemStore) copySubtree(n Node, newParentID *string) string {
	cid := m.nextID()
	cp := n
	cp.ID = cid
	cp.ParentID = newParentID
	m.nodes[cid] = cp
	if n.Type == TypeFile {
		m.content[cid] = m.content[n.ID]
		return cid
	}
	for _, child := range m.childrenOf(n.ID) {
		m.copySubtree(child, &cid)
	}
	return cid
}

func (m *MemStore) childrenOf(id string) []Node {
	var out []Node
	for _, n := range m.nodes {
		if n.ParentID != nil && *n.ParentID == id {
			out = append(out, n)
		}
	}
	return out
}

func (m *MemStore) DeleteNode(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[id]; !ok {
		return fmt.Errorf("node %s: %w", id, apperr.ErrNotFound)
	}
	doomed := []string{id}
	for len(doomed) > 0 {
		cur := doomed[0]
		doomed = doomed[1:]
		for cid, n := range m.nodes {
			if n.ParentID != nil && *n.ParentID == cur {
				doomed = append(doomed, cid)
			}
		}
		delete(m.nodes, cur)
		delete(m.content, cur)
	}
	return nil
}

func (m *MemStore) GetFileContent(ctx context.Context, nodeID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, ok := m.content[nodeID]
	if !ok {
		return "", fmt.Errorf("file %s: %w", nodeID, apperr.ErrNotFound)
	}
	return content, nil
}

func (m *MemStore) UpsertFileContent(ctx context.Context, nodeID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s: %w", nodeID, apperr.ErrNotFound)
	}
	if n.Type != TypeFile {
		return fmt.Errorf("node %s is not a file: %w", nodeID, apperr.ErrInvalid)
	}
	m.content[nodeID] = content
	return nil
}
