// internal/chat/service.go
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"driftpad/internal/apperr"
	"driftpad/internal/eventhub"
	"driftpad/internal/prompt"
)

// Service coordinates message persistence with assistant completions. At
// most one completion runs per session; its placeholder lives in memory
// only and disappears on abort.
type Service struct {
	store     Store
	completer Completer
	reviewer  Stager
	hub       *eventhub.EventHub
	log       *slog.Logger

	mu       sync.Mutex
	inflight map[string]*pendingReply
}

type pendingReply struct {
	placeholder Message
	cancel      context.CancelFunc
}

// NewService creates a chat service over the given store and completer.
// The reviewer is optional; without one, proposed change sets are dropped.
func NewService(store Store, completer Completer, reviewer Stager, hub *eventhub.EventHub, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:     store,
		completer: completer,
		reviewer:  reviewer,
		hub:       hub,
		log:       log,
		inflight:  make(map[string]*pendingReply),
	}
}

// SendOptions carries the editor context attached to a send. Segments, when
// present, is the structured composition the user built; it is persisted
// with the message, and rendered into the content when content is empty.
type SendOptions struct {
	Mode            CompletionMode
	ReviewMode      bool
	CurrentFileText string
	Segments        prompt.Segments
}

// Send persists the user message, runs the completion, and persists the
// assistant reply. It blocks until the reply lands or the completion is
// aborted; Messages exposes the pending placeholder meanwhile. A reply
// carrying proposed changes is staged for review, anchored to the reply's
// message id.
func (s *Service) Send(ctx context.Context, projectID, sessionID, content string, opts SendOptions) (*Message, error) {
	serialized, err := prompt.Marshal(opts.Segments)
	if err != nil {
		return nil, fmt.Errorf("encode prompt segments: %w", err)
	}
	if content == "" && len(opts.Segments) > 0 {
		content = opts.Segments.Render()
	}

	runCtx, placeholderID, err := s.begin(sessionID)
	if err != nil {
		return nil, err
	}

	userMsg, err := s.store.AppendMessage(ctx, sessionID, RoleUser, content, serialized)
	if err != nil {
		s.clear(sessionID)
		return nil, fmt.Errorf("append user message: %w", err)
	}
	s.emitMessage(userMsg)
	s.emitPending(sessionID, placeholderID, true)

	history, err := s.store.Messages(ctx, sessionID)
	if err != nil {
		s.clear(sessionID)
		s.emitPending(sessionID, placeholderID, false)
		return nil, fmt.Errorf("load history: %w", err)
	}

	mode := opts.Mode
	if mode == "" {
		mode = ModeAgent
	}
	resp, err := s.completer.Complete(runCtx, CompletionRequest{
		ProjectID:       projectID,
		SessionID:       sessionID,
		Mode:            mode,
		ReviewMode:      opts.ReviewMode,
		CurrentFileText: opts.CurrentFileText,
		Messages:        history,
	})
	s.clear(sessionID)
	s.emitPending(sessionID, placeholderID, false)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.log.Info("completion aborted", "session_id", sessionID)
			return nil, fmt.Errorf("completion aborted: %w", err)
		}
		return nil, fmt.Errorf("completion: %w", err)
	}

	reply, err := s.store.AppendMessage(ctx, sessionID, RoleAssistant, resp.Content, "")
	if err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}
	s.emitMessage(reply)
	if len(resp.ToolCalls) > 0 {
		s.log.Debug("completion reported tool calls", "session_id", sessionID, "count", len(resp.ToolCalls))
	}

	if s.reviewer != nil && len(resp.ProposedChanges) > 0 {
		if err := s.reviewer.Stage(ctx, projectID, sessionID, reply.ID, resp.ProposedChanges); err != nil {
			s.log.Error("stage review", "session_id", sessionID, "error", err)
		}
	}

	return reply, nil
}

// Abort cancels the in-flight completion for a session. Nothing is
// persisted; the placeholder vanishes.
func (s *Service) Abort(sessionID string) error {
	s.mu.Lock()
	p, ok := s.inflight[sessionID]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s has no completion in flight: %w", sessionID, apperr.ErrNotFound)
	}
	p.cancel()
	return nil
}

// Busy reports whether a completion is in flight for the session.
func (s *Service) Busy(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[sessionID]
	return ok
}

// begin reserves the session's completion slot and builds the placeholder.
// The run context is detached from the caller so only Abort cancels it.
func (s *Service) begin(sessionID string) (context.Context, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inflight[sessionID]; ok {
		return nil, "", fmt.Errorf("session %s already has a completion in flight: %w", sessionID, apperr.ErrConflict)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	placeholder := Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      RoleAssistant,
		Pending:   true,
		CreatedAt: time.Now(),
	}
	s.inflight[sessionID] = &pendingReply{placeholder: placeholder, cancel: cancel}
	return runCtx, placeholder.ID, nil
}

func (s *Service) clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.inflight[sessionID]; ok {
		p.cancel()
		delete(s.inflight, sessionID)
	}
}

// Messages returns the persisted history plus the in-flight placeholder.
func (s *Service) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	msgs, err := s.store.Messages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	s.mu.Lock()
	if p, ok := s.inflight[sessionID]; ok {
		msgs = append(msgs, p.placeholder)
	}
	s.mu.Unlock()

	return msgs, nil
}

// MessageIDs returns the persisted message ids in conversation order.
// Checkpoint navigation works entirely off this list.
func (s *Service) MessageIDs(ctx context.Context, sessionID string) ([]string, error) {
	msgs, err := s.store.Messages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids, nil
}

// TruncateFrom deletes persisted messages at positions >= fromIndex. Used
// when a new message is sent from a restored position.
func (s *Service) TruncateFrom(ctx context.Context, sessionID string, fromIndex int) error {
	if err := s.store.TruncateMessages(ctx, sessionID, fromIndex); err != nil {
		return fmt.Errorf("truncate messages: %w", err)
	}
	return nil
}

func (s *Service) CreateSession(ctx context.Context, projectID, title string) (*Session, error) {
	session, err := s.store.CreateSession(ctx, projectID, title)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (s *Service) GetSession(ctx context.Context, id string) (*Session, error) {
	return s.store.GetSession(ctx, id)
}

func (s *Service) Sessions(ctx context.Context, projectID string) ([]Session, error) {
	return s.store.ListSessions(ctx, projectID)
}

func (s *Service) RenameSession(ctx context.Context, id, title string) error {
	return s.store.RenameSession(ctx, id, title)
}

// DeleteSession aborts any in-flight completion, then removes the session
// and its messages.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	s.clear(id)
	if err := s.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Service) emitMessage(m *Message) {
	if s.hub == nil {
		return
	}
	s.hub.EmitChatMessage(eventhub.ChatMessageEvent{
		SessionID: m.SessionID,
		MessageID: m.ID,
		Role:      string(m.Role),
	})
}

func (s *Service) emitPending(sessionID, placeholderID string, active bool) {
	if s.hub == nil {
		return
	}
	s.hub.EmitChatPending(sessionID, placeholderID, active)
}
