// internal/files/files.go
package files

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NodeType distinguishes files from folders.
type NodeType string

const (
	TypeFile   NodeType = "file"
	TypeFolder NodeType = "folder"
)

// Node is one entry in a project's tree. ParentID is nil for root entries.
// IDs are stable once persisted; the tree mutator hands out placeholder ids
// with TempIDPrefix until the store confirms a create.
type Node struct {
	ID        string
	ProjectID string
	ParentID  *string
	Type      NodeType
	Name      string
	CreatedAt time.Time
}

// TempIDPrefix marks client-local placeholder ids awaiting confirmation.
const TempIDPrefix = "tmp-"

// IsTempID reports whether id is an unconfirmed placeholder.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// NewTempID generates a placeholder id for an optimistic create.
func NewTempID() string {
	return TempIDPrefix + uuid.New().String()
}

// CreateOptions carries optional create parameters.
type CreateOptions struct {
	// IdempotencyKey lets a retried create resolve to the node the first
	// attempt made instead of producing a duplicate.
	IdempotencyKey string
}

// Store is the persisted node/content collaborator. Both the tree mutator
// and the checkpoint navigator write through it; neither assumes
// transactions across calls. Create paths may contain slashes, in which
// case intermediate folders are created under the given parent.
type Store interface {
	ListNodes(ctx context.Context, projectID string) ([]Node, error)
	CreateFile(ctx context.Context, projectID string, parentID *string, path, content string, opts CreateOptions) (string, error)
	CreateFolder(ctx context.Context, projectID string, parentID *string, path string) (string, error)
	RenameNode(ctx context.Context, id, newName string) error
	MoveNode(ctx context.Context, id string, newParentID *string) error
	CopyNode(ctx context.Context, id string, newParentID *string) (string, error)
	DeleteNode(ctx context.Context, id string) error
	GetFileContent(ctx context.Context, nodeID string) (string, error)
	UpsertFileContent(ctx context.Context, nodeID, content string) error
}

// BuildPaths computes each node's slash-separated path from the root. A
// corrupted parent chain that loops yields "" for the affected nodes rather
// than walking forever; a dangling parent reference roots the chain at the
// orphan.
func BuildPaths(nodes []Node) map[string]string {
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	paths := make(map[string]string, len(nodes))
	for _, n := range nodes {
		parts := []string{}
		cur := n
		broken := false
		for hops := 0; ; hops++ {
			if hops > len(nodes) {
				broken = true
				break
			}
			parts = append(parts, cur.Name)
			if cur.ParentID == nil {
				break
			}
			parent, found := byID[*cur.ParentID]
			if !found {
				break
			}
			cur = parent
		}
		if broken {
			paths[n.ID] = ""
			continue
		}
		for l, r := 0, len(parts)-1; l < r; l, r = l+1, r-1 {
			parts[l], parts[r] = parts[r], parts[l]
		}
		paths[n.ID] = strings.Join(parts, "/")
	}
	return paths
}

// BlobSentinelPrefix marks contents whose body lives in the object store
// instead of the relational row.
const BlobSentinelPrefix = "blob:"

// BlobSentinel builds the stored marker for an offloaded body.
func BlobSentinel(key string) string {
	return BlobSentinelPrefix + key
}

// BlobKey extracts the object key from a sentinel marker.
func BlobKey(content string) (string, bool) {
	if !strings.HasPrefix(content, BlobSentinelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(content, BlobSentinelPrefix), true
}
