// internal/chat/chat.go
package chat

import (
	"context"
	"encoding/json"
	"time"

	"driftpad/internal/changeset"
)

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session's conversation. Pending marks the
// in-memory assistant placeholder; pending messages are never persisted.
// Segments holds the serialized prompt composition the content was rendered
// from, empty for plain sends and assistant replies.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Segments  string    `json:"segments,omitempty"`
	Pending   bool      `json:"pending,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is a chat conversation scoped to a project.
type Session struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists sessions and their ordered message history.
type Store interface {
	CreateSession(ctx context.Context, projectID, title string) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, projectID string) ([]Session, error)
	RenameSession(ctx context.Context, id, title string) error
	DeleteSession(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, sessionID string, role Role, content, segments string) (*Message, error)
	Messages(ctx context.Context, sessionID string) ([]Message, error)
	TruncateMessages(ctx context.Context, sessionID string, fromIndex int) error
}

// CompletionMode selects how the assistant treats a request.
type CompletionMode string

const (
	ModeAgent CompletionMode = "agent"
	ModePlan  CompletionMode = "plan"
	ModeAsk   CompletionMode = "ask"
)

// CompletionRequest carries the conversation an assistant reply should
// continue, plus the editor context the request was made from.
type CompletionRequest struct {
	ProjectID       string
	SessionID       string
	Mode            CompletionMode
	ReviewMode      bool
	CurrentFileText string
	Messages        []Message
}

// ToolCall is an opaque tool invocation reported by the assistant. The
// service records that they happened; executing them is the completion
// backend's business.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CompletionResponse is the assistant's reply. ProposedChanges, when
// present, is the change set handed to review staging.
type CompletionResponse struct {
	Content         string
	ProposedChanges []changeset.Proposed
	ToolCalls       []ToolCall
}

// Completer produces assistant replies. Implementations must honor context
// cancellation promptly; an aborted completion returns the context error.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Stager receives a completion's proposed change set for review.
type Stager interface {
	Stage(ctx context.Context, projectID, sessionID, origin string, proposed []changeset.Proposed) error
}
