package eventhub

import (
	"sync"
)

// Broadcaster delivers events to connected clients.
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// EventHub is the process-wide dispatch point. Engine components emit typed
// events; registered broadcasters (WebSocket server, Redis bridge) fan them
// out to browsers and sibling instances.
type EventHub struct {
	mu           sync.RWMutex
	broadcasters []Broadcaster
}

// New creates an empty EventHub.
func New() *EventHub {
	return &EventHub{}
}

// AddBroadcaster registers an additional event sink.
func (h *EventHub) AddBroadcaster(b Broadcaster) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcasters = append(h.broadcasters, b)
}

func (h *EventHub) emitTo(eventName string, payload interface{}, skip Broadcaster) {
	h.mu.RLock()
	targets := make([]Broadcaster, len(h.broadcasters))
	copy(targets, h.broadcasters)
	h.mu.RUnlock()

	for _, b := range targets {
		if b != skip {
			b.BroadcastEvent(eventName, payload)
		}
	}
}

// Emit sends a raw event to every broadcaster.
func (h *EventHub) Emit(eventName string, payload interface{}) {
	h.emitTo(eventName, payload, nil)
}

// EmitFrom sends an event to every broadcaster except its source. The Redis
// bridge uses this to deliver remote events locally without republishing.
func (h *EventHub) EmitFrom(src Broadcaster, eventName string, payload interface{}) {
	h.emitTo(eventName, payload, src)
}

// Tree events

type TreeChangedEvent struct {
	ProjectID string `json:"projectId"`
}

func (h *EventHub) EmitTreeChanged(projectID string) {
	h.Emit("tree:changed", TreeChangedEvent{ProjectID: projectID})
}

// Checkpoint events

type CheckpointRecordedEvent struct {
	SessionID    string `json:"sessionId"`
	CheckpointID string `json:"checkpointId"`
	Description  string `json:"description"`
	Operations   int    `json:"operations"`
}

func (h *EventHub) EmitCheckpointRecorded(event CheckpointRecordedEvent) {
	h.Emit("checkpoint:recorded", event)
}

type CheckpointRestoredEvent struct {
	SessionID        string `json:"sessionId"`
	HeadCheckpointID string `json:"headCheckpointId"`
	MessageHead      *int   `json:"messageHead"`
}

func (h *EventHub) EmitCheckpointRestored(event CheckpointRestoredEvent) {
	h.Emit("checkpoint:restored", event)
}

// EmitReplayAlert signals a failed restore/redo. The browser shows this as a
// blocking alert because file state may be inconsistent until acknowledged.
func (h *EventHub) EmitReplayAlert(sessionID string, errMsg string) {
	h.Emit("checkpoint:alert", map[string]interface{}{
		"sessionId": sessionID,
		"error":     errMsg,
	})
}

// EmitStateReloaded signals that another instance changed a session's
// persisted checkpoint state on disk.
func (h *EventHub) EmitStateReloaded(sessionID string) {
	h.Emit("checkpoint:reloaded", map[string]interface{}{
		"sessionId": sessionID,
	})
}

// Review events

type ReviewStagedEvent struct {
	SessionID string `json:"sessionId"`
	Changes   int    `json:"changes"`
	Origin    string `json:"origin,omitempty"`
}

func (h *EventHub) EmitReviewStaged(event ReviewStagedEvent) {
	h.Emit("review:staged", event)
}

type ReviewResolvedEvent struct {
	SessionID string `json:"sessionId"`
	Accepted  int    `json:"accepted"`
	Rejected  int    `json:"rejected"`
}

func (h *EventHub) EmitReviewResolved(event ReviewResolvedEvent) {
	h.Emit("review:resolved", event)
}

// Chat events

type ChatMessageEvent struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
}

func (h *EventHub) EmitChatMessage(event ChatMessageEvent) {
	h.Emit("chat:message", event)
}

// EmitChatPending tracks the assistant placeholder while a completion is in
// flight; Active false means the placeholder was resolved or aborted.
func (h *EventHub) EmitChatPending(sessionID, placeholderID string, active bool) {
	h.Emit("chat:pending", map[string]interface{}{
		"sessionId":     sessionID,
		"placeholderId": placeholderID,
		"active":        active,
	})
}
