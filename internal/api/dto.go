// internal/api/dto.go
package api

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"driftpad/internal/changeset"
	"driftpad/internal/checkpoint"
	"driftpad/internal/files"
	"driftpad/internal/prompt"
	"driftpad/internal/review"
)

// nodeResponse is the wire shape of one tree node.
type nodeResponse struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	ParentID  *string   `json:"parentId"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func toNodeResponse(n files.Node) nodeResponse {
	return nodeResponse{
		ID:        n.ID,
		ProjectID: n.ProjectID,
		ParentID:  n.ParentID,
		Type:      string(n.Type),
		Name:      n.Name,
		CreatedAt: n.CreatedAt,
	}
}

func toNodeResponses(nodes []files.Node) []nodeResponse {
	out := make([]nodeResponse, len(nodes))
	for i, n := range nodes {
		out[i] = toNodeResponse(n)
	}
	return out
}

// treeResponse bundles the tree with the per-project editor view state.
type treeResponse struct {
	Nodes     []nodeResponse `json:"nodes"`
	Tabs      []string       `json:"tabs"`
	ActiveTab string         `json:"activeTab"`
	CanUndo   bool           `json:"canUndo"`
	CanRedo   bool           `json:"canRedo"`
}

// changeResponse is the wire shape of one pending review change. Line
// decisions are keyed by diff line index.
type changeResponse struct {
	ID            string                     `json:"id"`
	FilePath      string                     `json:"filePath"`
	Action        string                     `json:"action"`
	OldContent    string                     `json:"oldContent"`
	NewContent    string                     `json:"newContent"`
	Status        string                     `json:"status"`
	LineDecisions map[int]changeset.Decision `json:"lineDecisions"`
}

func toChangeResponse(c changeset.PendingChange) changeResponse {
	return changeResponse{
		ID:            c.ID,
		FilePath:      c.FilePath,
		Action:        string(c.Action),
		OldContent:    c.OldContent,
		NewContent:    c.NewContent,
		Status:        string(c.Status),
		LineDecisions: c.LineDecisions,
	}
}

// reviewStateResponse is the full review session state for one chat session.
type reviewStateResponse struct {
	Phase   string           `json:"phase"`
	Outcome string           `json:"outcome"`
	Focused string           `json:"focused"`
	Issues  []review.Issue   `json:"issues"`
	Changes []changeResponse `json:"changes"`
}

// checkpointsResponse is the session's checkpoint timeline plus head
// position. HeadCheckpointID "" means the head sits before all checkpoints.
type checkpointsResponse struct {
	Checkpoints      []checkpoint.Checkpoint `json:"checkpoints"`
	HeadCheckpointID string                  `json:"headCheckpointId"`
	HeadMessageID    *int                    `json:"headMessageId"`
	CanRedo          bool                    `json:"canRedo"`
}

type createFileRequest struct {
	ParentID *string `json:"parentId"`
	Path     string  `json:"path"`
	Content  string  `json:"content"`
}

func (r createFileRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required),
	)
}

type createFolderRequest struct {
	ParentID *string `json:"parentId"`
	Path     string  `json:"path"`
}

func (r createFolderRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required),
	)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (r renameRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required),
	)
}

type moveRequest struct {
	IDs         []string `json:"ids"`
	NewParentID *string  `json:"newParentId"`
}

func (r moveRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.IDs, validation.Required),
	)
}

// contentRequest carries a full file body. An empty body is a valid save.
type contentRequest struct {
	Content string `json:"content"`
}

// importItem is one file in a bulk import. Content is UTF-8 text unless
// Encoding is "base64".
type importItem struct {
	Path     string  `json:"path"`
	Content  string  `json:"content"`
	Encoding string  `json:"encoding,omitempty"`
	ParentID *string `json:"parentId,omitempty"`
}

func (i importItem) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.Path, validation.Required),
		validation.Field(&i.Encoding, validation.In("", "base64")),
	)
}

type importRequest struct {
	Items []importItem `json:"items"`
}

func (r importRequest) Validate() error {
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.Items, validation.Required),
	); err != nil {
		return err
	}
	for _, item := range r.Items {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// importError reports one failed item of a bulk import.
type importError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type importResponse struct {
	Imported int           `json:"imported"`
	Errors   []importError `json:"errors"`
}

// restoreRequest targets either a checkpoint id or a message index,
// never both.
type restoreRequest struct {
	CheckpointID string `json:"checkpointId"`
	MessageIndex *int   `json:"messageIndex"`
}

func (r restoreRequest) Validate() error {
	if (r.CheckpointID == "") == (r.MessageIndex == nil) {
		return validation.Errors{
			"checkpointId": validation.NewError("validation_restore_target", "exactly one of checkpointId or messageIndex is required"),
		}
	}
	return nil
}

type exportRequest struct {
	Dir         string `json:"dir"`
	AuthorName  string `json:"authorName,omitempty"`
	AuthorEmail string `json:"authorEmail,omitempty"`
}

func (r exportRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Dir, validation.Required),
	)
}

type createSessionRequest struct {
	Title string `json:"title"`
}

type sendMessageRequest struct {
	Content         string          `json:"content"`
	Mode            string          `json:"mode,omitempty"`
	ReviewMode      *bool           `json:"reviewMode,omitempty"`
	CurrentFileText string          `json:"currentFileText,omitempty"`
	Segments        prompt.Segments `json:"segments,omitempty"`
}

func (r sendMessageRequest) Validate() error {
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.Mode, validation.In("", "agent", "plan", "ask")),
	); err != nil {
		return err
	}
	if r.Content == "" && len(r.Segments) == 0 {
		return validation.Errors{
			"content": validation.NewError("validation_required", "content or segments is required"),
		}
	}
	return r.Segments.Validate()
}

type renameSessionRequest struct {
	Title string `json:"title"`
}

func (r renameSessionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required),
	)
}

// issuesRequest replaces the staged review's scan results, typically from
// a linter pass over the proposed changes.
type issuesRequest struct {
	Issues []review.Issue `json:"issues"`
}

type focusRequest struct {
	ChangeID string `json:"changeId"`
}

func (r focusRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ChangeID, validation.Required),
	)
}

type prefsRequest struct {
	AutoReview        bool   `json:"autoReview"`
	DefaultChatMode   string `json:"defaultChatMode"`
	SkipDeleteConfirm bool   `json:"skipDeleteConfirm"`
	PoolWidth         int    `json:"poolWidth"`
	UndoDepth         int    `json:"undoDepth"`
}
