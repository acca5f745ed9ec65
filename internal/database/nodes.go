// internal/database/nodes.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"driftpad/internal/apperr"
	"driftpad/internal/files"
)

// querier covers *sql.DB and *sql.Tx for the node helpers.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// parentArg binds an optional parent id; nil matches SQL NULL via IS.
func parentArg(parentID *string) interface{} {
	if parentID == nil {
		return nil
	}
	return *parentID
}

// ListNodes returns every node in a project.
func (d *Database) ListNodes(ctx context.Context, projectID string) ([]files.Node, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, project_id, parent_id, type, name, created_at
		FROM nodes WHERE project_id = ? ORDER BY type, name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []files.Node
	for rows.Next() {
		var node files.Node
		var parentID sql.NullString
		if err := rows.Scan(&node.ID, &node.ProjectID, &parentID, &node.Type, &node.Name, &node.CreatedAt); err != nil {
			return nil, err
		}
		if parentID.Valid {
			node.ParentID = &parentID.String
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func getNode(ctx context.Context, q querier, id string) (*files.Node, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, project_id, parent_id, type, name, created_at
		FROM nodes WHERE id = ?`, id)

	node := &files.Node{}
	var parentID sql.NullString
	err := row.Scan(&node.ID, &node.ProjectID, &parentID, &node.Type, &node.Name, &node.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		node.ParentID = &parentID.String
	}
	return node, nil
}

func findChild(ctx context.Context, q querier, projectID string, parentID *string, name string, typ files.NodeType) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `
		SELECT id FROM nodes
		WHERE project_id = ? AND parent_id IS ? AND name = ? AND type = ?`,
		projectID, parentArg(parentID), name, typ).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func listChildren(ctx context.Context, q querier, parentID string) ([]files.Node, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, project_id, parent_id, type, name, created_at
		FROM nodes WHERE parent_id = ?`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []files.Node
	for rows.Next() {
		var node files.Node
		var pid sql.NullString
		if err := rows.Scan(&node.ID, &node.ProjectID, &pid, &node.Type, &node.Name, &node.CreatedAt); err != nil {
			return nil, err
		}
		if pid.Valid {
			node.ParentID = &pid.String
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func insertNode(ctx context.Context, q querier, node *files.Node) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO nodes (id, project_id, parent_id, type, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		node.ID, node.ProjectID, parentArg(node.ParentID), node.Type, node.Name, node.CreatedAt)
	return err
}

// ensureFolders walks the folder segments under parentID, creating missing
// ones, and returns the final parent id.
func ensureFolders(ctx context.Context, q querier, projectID string, parentID *string, segments []string) (*string, error) {
	for _, segment := range segments {
		id, err := findChild(ctx, q, projectID, parentID, segment, files.TypeFolder)
		if err != nil {
			return nil, err
		}
		if id == "" {
			id = uuid.New().String()
			node := &files.Node{
				ID:        id,
				ProjectID: projectID,
				ParentID:  parentID,
				Type:      files.TypeFolder,
				Name:      segment,
				CreatedAt: time.Now(),
			}
			if err := insertNode(ctx, q, node); err != nil {
				return nil, err
			}
		}
		pid := id
		parentID = &pid
	}
	return parentID, nil
}

func splitPath(path string) ([]string, string, error) {
	clean := strings.Trim(path, "/")
	if clean == "" {
		return nil, "", fmt.Errorf("empty path: %w", apperr.ErrInvalid)
	}
	segments := strings.Split(clean, "/")
	return segments[:len(segments)-1], segments[len(segments)-1], nil
}

// CreateFile creates a file at a slash-separated path under parentID,
// creating intermediate folders as needed. A previously seen idempotency
// key replays the original node id instead of creating a duplicate.
func (d *Database) CreateFile(ctx context.Context, projectID string, parentID *string, path, content string, opts files.CreateOptions) (string, error) {
	segments, name, err := splitPath(path)
	if err != nil {
		return "", err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if opts.IdempotencyKey != "" {
		var nodeID string
		err := tx.QueryRowContext(ctx, "SELECT node_id FROM idempotency_keys WHERE key = ?", opts.IdempotencyKey).Scan(&nodeID)
		switch {
		case err == nil:
			var exists int
			if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM nodes WHERE id = ?", nodeID).Scan(&exists); err != nil {
				return "", err
			}
			if exists > 0 {
				return nodeID, tx.Commit()
			}
			// The original node is gone; retire the key and create anew.
			if _, err := tx.ExecContext(ctx, "DELETE FROM idempotency_keys WHERE key = ?", opts.IdempotencyKey); err != nil {
				return "", err
			}
		case !errors.Is(err, sql.ErrNoRows):
			return "", err
		}
	}

	parent, err := ensureFolders(ctx, tx, projectID, parentID, segments)
	if err != nil {
		return "", err
	}

	if existing, err := findChild(ctx, tx, projectID, parent, name, files.TypeFile); err != nil {
		return "", err
	} else if existing != "" {
		return "", fmt.Errorf("file %s: %w", path, apperr.ErrAlreadyExists)
	}

	node := &files.Node{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		ParentID:  parent,
		Type:      files.TypeFile,
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := insertNode(ctx, tx, node); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO file_contents (node_id, content, updated_at)
		VALUES (?, ?, ?)`, node.ID, content, time.Now()); err != nil {
		return "", err
	}
	if opts.IdempotencyKey != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO idempotency_keys (key, node_id)
			VALUES (?, ?)`, opts.IdempotencyKey, node.ID); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return node.ID, nil
}

// CreateFolder creates a folder at a slash-separated path, reusing existing
// intermediate folders. Only the final segment can conflict.
func (d *Database) CreateFolder(ctx context.Context, projectID string, parentID *string, path string) (string, error) {
	segments, name, err := splitPath(path)
	if err != nil {
		return "", err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	parent, err := ensureFolders(ctx, tx, projectID, parentID, segments)
	if err != nil {
		return "", err
	}

	if existing, err := findChild(ctx, tx, projectID, parent, name, files.TypeFolder); err != nil {
		return "", err
	} else if existing != "" {
		return "", fmt.Errorf("folder %s: %w", path, apperr.ErrAlreadyExists)
	}

	node := &files.Node{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		ParentID:  parent,
		Type:      files.TypeFolder,
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := insertNode(ctx, tx, node); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return node.ID, nil
}

// RenameNode renames a node in place, rejecting sibling collisions.
func (d *Database) RenameNode(ctx context.Context, id, newName string) error {
	if newName == "" || strings.Contains(newName, "/") {
		return fmt.Errorf("invalid name %q: %w", newName, apperr.ErrInvalid)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	node, err := getNode(ctx, tx, id)
	if err != nil {
		return err
	}

	if existing, err := findChild(ctx, tx, node.ProjectID, node.ParentID, newName, node.Type); err != nil {
		return err
	} else if existing != "" && existing != id {
		return fmt.Errorf("name %s: %w", newName, apperr.ErrAlreadyExists)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE nodes SET name = ? WHERE id = ?", newName, id); err != nil {
		return err
	}
	return tx.Commit()
}

// MoveNode reparents a node. Moving a folder into its own subtree is
// rejected, as is a sibling collision at the destination.
func (d *Database) MoveNode(ctx context.Context, id string, newParentID *string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	node, err := getNode(ctx, tx, id)
	if err != nil {
		return err
	}

	if newParentID != nil {
		parent, err := getNode(ctx, tx, *newParentID)
		if err != nil {
			return err
		}
		if parent.Type != files.TypeFolder {
			return fmt.Errorf("destination %s is not a folder: %w", *newParentID, apperr.ErrInvalid)
		}
		if parent.ProjectID != node.ProjectID {
			return fmt.Errorf("destination in different project: %w", apperr.ErrInvalid)
		}

		// Walk up from the destination; reaching the moved node means the
		// move would create a cycle.
		cur := parent
		for {
			if cur.ID == id {
				return fmt.Errorf("cannot move %s into its own subtree: %w", id, apperr.ErrInvalid)
			}
			if cur.ParentID == nil {
				break
			}
			cur, err = getNode(ctx, tx, *cur.ParentID)
			if err != nil {
				return err
			}
		}
	}

	if existing, err := findChild(ctx, tx, node.ProjectID, newParentID, node.Name, node.Type); err != nil {
		return err
	} else if existing != "" && existing != id {
		return fmt.Errorf("name %s: %w", node.Name, apperr.ErrAlreadyExists)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE nodes SET parent_id = ? WHERE id = ?", parentArg(newParentID), id); err != nil {
		return err
	}
	return tx.Commit()
}

// CopyNode deep-copies a node, and for folders their whole subtree, under a
// new parent with fresh ids. The copied root keeps its name.
func (d *Database) CopyNode(ctx context.Context, id string, newParentID *string) (string, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	node, err := getNode(ctx, tx, id)
	if err != nil {
		return "", err
	}

	if newParentID != nil {
		parent, err := getNode(ctx, tx, *newParentID)
		if err != nil {
			return "", err
		}
		if parent.Type != files.TypeFolder {
			return "", fmt.Errorf("destination %s is not a folder: %w", *newParentID, apperr.ErrInvalid)
		}
		if parent.ProjectID != node.ProjectID {
			return "", fmt.Errorf("destination in different project: %w", apperr.ErrInvalid)
		}
	}

	if existing, err := findChild(ctx, tx, node.ProjectID, newParentID, node.Name, node.Type); err != nil {
		return "", err
	} else if existing != "" {
		return "", fmt.Errorf("name %s: %w", node.Name, apperr.ErrAlreadyExists)
	}

	newID, err := copySubtree(ctx, tx, node, newParentID)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return newID, nil
}

func copySubtree(ctx context.Context, tx *sql.Tx, node *files.Node, parentID *string) (string, error) {
	clone := *node
	clone.ID = uuid.New().String()
	clone.ParentID = parentID
	clone.CreatedAt = time.Now()
	if err := insertNode(ctx, tx, &clone); err != nil {
		return "", err
	}

	if node.Type == files.TypeFile {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO file_contents (node_id, content, updated_at)
			SELECT ?, content, ? FROM file_contents WHERE node_id = ?`,
			clone.ID, time.Now(), node.ID); err != nil {
			return "", err
		}
		return clone.ID, nil
	}

	children, err := listChildren(ctx, tx, node.ID)
	if err != nil {
		return "", err
	}
	for i := range children {
		if _, err := copySubtree(ctx, tx, &children[i], &clone.ID); err != nil {
			return "", err
		}
	}
	return clone.ID, nil
}

// DeleteNode removes a node and, for folders, its whole subtree, together
// with file contents and idempotency keys.
func (d *Database) DeleteNode(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := getNode(ctx, tx, id); err != nil {
		return err
	}

	doomed := []string{id}
	frontier := []string{id}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]

		children, err := listChildren(ctx, tx, next)
		if err != nil {
			return err
		}
		for _, child := range children {
			doomed = append(doomed, child.ID)
			frontier = append(frontier, child.ID)
		}
	}

	for _, nodeID := range doomed {
		if _, err := tx.ExecContext(ctx, "DELETE FROM file_contents WHERE node_id = ?", nodeID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM idempotency_keys WHERE node_id = ?", nodeID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM nodes WHERE id = ?", nodeID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetFileContent returns a file node's text content.
func (d *Database) GetFileContent(ctx context.Context, nodeID string) (string, error) {
	var content string
	err := d.db.QueryRowContext(ctx, "SELECT content FROM file_contents WHERE node_id = ?", nodeID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("file %s: %w", nodeID, apperr.ErrNotFound)
	}
	return content, err
}

// UpsertFileContent replaces a file node's text content.
func (d *Database) UpsertFileContent(ctx context.Context, nodeID, content string) error {
	node, err := getNode(ctx, d.db, nodeID)
	if err != nil {
		return err
	}
	if node.Type != files.TypeFile {
		return fmt.Errorf("node %s is not a file: %w", nodeID, apperr.ErrInvalid)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO file_contents (node_id, content, updated_at)
		VALUES (?, ?, ?)`, nodeID, content, time.Now())
	return err
}
