// internal/checkpoint/models.go
package checkpoint

import "time"

// OpKind classifies a checkpoint operation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Operation is one file mutation recorded inside a checkpoint. BeforeText
// and AfterText are full snapshots; Patch carries the unified-diff text
// derived from them, portable and re-parseable on its own.
type Operation struct {
	Path       string `json:"path"`
	Kind       OpKind `json:"kind"`
	BeforeText string `json:"beforeText"`
	AfterText  string `json:"afterText"`
	Patch      string `json:"patch,omitempty"`
}

// Checkpoint is a durable, reversible record of accepted file operations
// anchored to a chat message. Checkpoints are appended in message order and
// form a single linear history per session.
type Checkpoint struct {
	ID              string      `json:"id"`
	CreatedAt       time.Time   `json:"createdAt"`
	AnchorMessageID string      `json:"anchorMessageId"`
	Description     string      `json:"description"`
	Operations      []Operation `json:"operations"`
}

// State is the persisted per-session checkpoint record, schema version 1.
// HeadCheckpointID "" places the head before all checkpoints. HeadMessageID
// is the exclusive upper bound on visible messages, nil when viewing the
// live tail.
type State struct {
	V                int          `json:"v"`
	ProjectID        string       `json:"projectId"`
	SessionID        string       `json:"sessionId"`
	Checkpoints      []Checkpoint `json:"checkpoints"`
	HeadCheckpointID string       `json:"headCheckpointId"`
	HeadMessageID    *int         `json:"headMessageId"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// indexOf resolves a checkpoint id to its position; -1 for "" or unknown.
func (s *State) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.Checkpoints {
		if s.Checkpoints[i].ID == id {
			return i
		}
	}
	return -1
}

// headIndex resolves the head pointer to a position. A non-empty head id
// that no longer resolves means the record was edited by hand; the live
// tail is the safest assumption then.
func (s *State) headIndex() int {
	if s.HeadCheckpointID == "" {
		return -1
	}
	if i := s.indexOf(s.HeadCheckpointID); i >= 0 {
		return i
	}
	return len(s.Checkpoints) - 1
}
