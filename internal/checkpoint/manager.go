// internal/checkpoint/manager.go
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"driftpad/internal/apperr"
	"driftpad/internal/eventhub"
	"driftpad/internal/files"
	"driftpad/internal/patch"
)

// ErrNoRedo is returned by Redo when no restore position is pending.
var ErrNoRedo = errors.New("no redo position")

// Manager owns every session's checkpoint log: recording, persistence, and
// time-travel navigation against the file store.
type Manager struct {
	storage *Storage
	store   files.Store
	hub     *eventhub.EventHub
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState pairs a loaded state record with its navigation
// bookkeeping. The per-session mutex serializes recording and navigation;
// the redo snapshot lives in memory only and holds at most one level.
type sessionState struct {
	mu    sync.Mutex
	state *State
	redo  *redoSnapshot
}

type redoSnapshot struct {
	headCheckpointID string
	headMessageID    *int
}

// NewManager creates a checkpoint manager backed by the given state store
// and file store.
func NewManager(storage *Storage, store files.Store, hub *eventhub.EventHub, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		storage:  storage,
		store:    store,
		hub:      hub,
		log:      log,
		sessions: make(map[string]*sessionState),
	}
}

func (m *Manager) get(sessionID string) *sessionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok {
		return s
	}
	s := &sessionState{state: m.storage.Load(sessionID)}
	m.sessions[sessionID] = s
	return s
}

// NewOperation builds an operation and derives its unified-diff patch from
// the two snapshots.
func NewOperation(path string, kind OpKind, beforeText, afterText string) Operation {
	return Operation{
		Path:       path,
		Kind:       kind,
		BeforeText: beforeText,
		AfterText:  afterText,
		Patch:      patch.Format(patch.Diff(path, beforeText, afterText)),
	}
}

// Record appends a checkpoint at the head, discarding any checkpoints after
// it first. Recording clears the redo snapshot and lifts the message cut.
// Empty operation lists and blank anchors are silent no-ops so callers
// never produce empty checkpoints.
func (m *Manager) Record(projectID, sessionID, anchorMessageID, description string, ops []Operation) (*Checkpoint, error) {
	if len(ops) == 0 || anchorMessageID == "" {
		return nil, nil
	}

	s := m.get(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	st.ProjectID = projectID

	if head := st.headIndex(); head < len(st.Checkpoints)-1 {
		st.Checkpoints = st.Checkpoints[:head+1]
	}

	cp := Checkpoint{
		ID:              GenerateID(),
		CreatedAt:       time.Now(),
		AnchorMessageID: anchorMessageID,
		Description:     description,
		Operations:      ops,
	}
	st.Checkpoints = append(st.Checkpoints, cp)
	st.HeadCheckpointID = cp.ID
	st.HeadMessageID = nil
	s.redo = nil

	if err := m.storage.Save(st); err != nil {
		return nil, fmt.Errorf("persist checkpoint: %w", err)
	}

	if m.hub != nil {
		m.hub.EmitCheckpointRecorded(eventhub.CheckpointRecordedEvent{
			SessionID:    sessionID,
			CheckpointID: cp.ID,
			Description:  cp.Description,
			Operations:   len(cp.Operations),
		})
	}

	m.log.Info("checkpoint recorded",
		"session_id", sessionID,
		"checkpoint_id", cp.ID,
		"operations", len(cp.Operations))

	return &cp, nil
}

// RestoreToMessage rewinds or replays the session so that messages at
// positions >= messageIndex are hidden and the files match the latest
// checkpoint anchored strictly before that position. messageIDs is the
// session's full message id list in order.
func (m *Manager) RestoreToMessage(ctx context.Context, projectID, sessionID string, messageIDs []string, messageIndex int) error {
	s := m.get(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	if st.ProjectID == "" {
		st.ProjectID = projectID
	}

	bound := messageIndex
	if bound < 0 {
		bound = 0
	}
	if bound > len(messageIDs) {
		bound = len(messageIDs)
	}

	target := latestAnchoredBefore(st.Checkpoints, messageIDs, bound)
	return m.moveHead(ctx, s, projectID, sessionID, target, boundPointer(bound, len(messageIDs)))
}

// RestoreToCheckpoint moves the head directly to a checkpoint id ("" for
// the position before all checkpoints), aligning the message view with the
// target's anchor.
func (m *Manager) RestoreToCheckpoint(ctx context.Context, projectID, sessionID, checkpointID string, messageIDs []string) error {
	s := m.get(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	if st.ProjectID == "" {
		st.ProjectID = projectID
	}

	target := st.indexOf(checkpointID)
	if target < 0 && checkpointID != "" {
		return fmt.Errorf("checkpoint %s: %w", checkpointID, apperr.ErrNotFound)
	}

	var headMessage *int
	switch {
	case target >= 0:
		// Keep the target's anchor visible, hide everything after it.
		if p, ok := messagePosition(messageIDs, st.Checkpoints[target].AnchorMessageID); ok {
			headMessage = boundPointer(p+1, len(messageIDs))
		}
	case len(st.Checkpoints) > 0:
		// Before all checkpoints: cut at the first resolvable anchor.
		if p, ok := messagePosition(messageIDs, st.Checkpoints[0].AnchorMessageID); ok {
			headMessage = boundPointer(p, len(messageIDs))
		}
	}

	return m.moveHead(ctx, s, projectID, sessionID, target, headMessage)
}

// Redo replays forward or backward to the position captured by the last
// restore. One level only; recording or another restore replaces it.
func (m *Manager) Redo(ctx context.Context, projectID, sessionID string) error {
	s := m.get(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.redo == nil {
		return fmt.Errorf("session %s: %w", sessionID, ErrNoRedo)
	}

	snap := *s.redo
	st := s.state
	target := st.indexOf(snap.headCheckpointID)
	return m.moveHead(ctx, s, projectID, sessionID, target, snap.headMessageID)
}

// CommitAtHead makes the current head the tail: checkpoints beyond it are
// discarded and the message cut is lifted. Called before a new message is
// sent while viewing the past.
func (m *Manager) CommitAtHead(projectID, sessionID string) error {
	s := m.get(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	changed := false
	if head := st.headIndex(); head < len(st.Checkpoints)-1 {
		st.Checkpoints = st.Checkpoints[:head+1]
		changed = true
	}
	if st.HeadMessageID != nil {
		st.HeadMessageID = nil
		changed = true
	}
	s.redo = nil

	if !changed {
		return nil
	}
	if st.ProjectID == "" {
		st.ProjectID = projectID
	}
	if err := m.storage.Save(st); err != nil {
		return fmt.Errorf("persist checkpoint state: %w", err)
	}
	return nil
}

// moveHead applies the file delta between the current head and target, then
// commits the new pointers. Pointers stay untouched when the delta fails,
// so the session can be retried or repaired. Callers hold s.mu.
func (m *Manager) moveHead(ctx context.Context, s *sessionState, projectID, sessionID string, target int, headMessage *int) error {
	st := s.state
	cur := st.headIndex()

	prev := redoSnapshot{
		headCheckpointID: st.HeadCheckpointID,
		headMessageID:    st.HeadMessageID,
	}

	if err := m.applyDelta(ctx, projectID, st, cur, target); err != nil {
		m.log.Error("checkpoint replay failed",
			"session_id", sessionID,
			"from", cur,
			"to", target,
			"error", err)
		if m.hub != nil {
			m.hub.EmitReplayAlert(sessionID, err.Error())
		}
		return err
	}

	s.redo = &prev
	if target >= 0 {
		st.HeadCheckpointID = st.Checkpoints[target].ID
	} else {
		st.HeadCheckpointID = ""
	}
	st.HeadMessageID = headMessage

	if err := m.storage.Save(st); err != nil {
		return fmt.Errorf("persist checkpoint state: %w", err)
	}

	if m.hub != nil {
		m.hub.EmitCheckpointRestored(eventhub.CheckpointRestoredEvent{
			SessionID:        sessionID,
			HeadCheckpointID: st.HeadCheckpointID,
			MessageHead:      st.HeadMessageID,
		})
		if cur != target {
			m.hub.EmitTreeChanged(projectID)
		}
	}

	m.log.Info("checkpoint head moved",
		"session_id", sessionID,
		"from", cur,
		"to", target)

	return nil
}

// latestAnchoredBefore finds the highest checkpoint index whose anchor
// resolves to a message position strictly below bound. Anchors that no
// longer resolve are skipped. Anchors are appended in message order, so the
// scan stops at the first anchor at or past the bound.
func latestAnchoredBefore(cps []Checkpoint, messageIDs []string, bound int) int {
	pos := make(map[string]int, len(messageIDs))
	for i, id := range messageIDs {
		pos[id] = i
	}

	target := -1
	for i := range cps {
		p, ok := pos[cps[i].AnchorMessageID]
		if !ok {
			continue
		}
		if p >= bound {
			break
		}
		target = i
	}
	return target
}

func messagePosition(messageIDs []string, id string) (int, bool) {
	for i, mid := range messageIDs {
		if mid == id {
			return i, true
		}
	}
	return 0, false
}

// boundPointer converts an exclusive message bound to a head pointer; a
// bound at or past the tail means nothing is hidden.
func boundPointer(bound, total int) *int {
	if bound >= total {
		return nil
	}
	return &bound
}

// applyDelta walks the checkpoint range between two head positions and
// mutates the file store. Forward ranges apply operations as recorded;
// backward ranges run checkpoints and their operations in reverse with
// each operation inverted. Operations run sequentially: later ones may
// depend on paths the same delta just created.
func (m *Manager) applyDelta(ctx context.Context, projectID string, st *State, from, to int) error {
	if from == to {
		return nil
	}

	nodes, err := m.store.ListNodes(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}
	wm := newWorkingMap(nodes)

	if to > from {
		for i := from + 1; i <= to; i++ {
			cp := &st.Checkpoints[i]
			for j := range cp.Operations {
				if err := m.applyForward(ctx, projectID, wm, &cp.Operations[j]); err != nil {
					return fmt.Errorf("checkpoint %s op %d (%s): %w", cp.ID, j, cp.Operations[j].Path, err)
				}
			}
		}
		return nil
	}

	for i := from; i > to; i-- {
		cp := &st.Checkpoints[i]
		for j := len(cp.Operations) - 1; j >= 0; j-- {
			if err := m.applyBackward(ctx, projectID, wm, &cp.Operations[j]); err != nil {
				return fmt.Errorf("checkpoint %s op %d (%s): %w", cp.ID, j, cp.Operations[j].Path, err)
			}
		}
	}
	return nil
}

func (m *Manager) applyForward(ctx context.Context, projectID string, wm *workingMap, op *Operation) error {
	switch op.Kind {
	case OpCreate:
		return m.ensureFile(ctx, projectID, wm, op.Path, op.AfterText)
	case OpDelete:
		return m.removeFile(ctx, wm, op.Path)
	case OpUpdate:
		return m.patchFile(ctx, projectID, wm, op, false)
	}
	return fmt.Errorf("unknown operation kind %q", op.Kind)
}

func (m *Manager) applyBackward(ctx context.Context, projectID string, wm *workingMap, op *Operation) error {
	switch op.Kind {
	case OpCreate:
		return m.removeFile(ctx, wm, op.Path)
	case OpDelete:
		return m.ensureFile(ctx, projectID, wm, op.Path, op.BeforeText)
	case OpUpdate:
		return m.patchFile(ctx, projectID, wm, op, true)
	}
	return fmt.Errorf("unknown operation kind %q", op.Kind)
}

// ensureFile writes content at path, creating the file and any missing
// folders when the path is not present. Targets deleted outside the
// checkpoint system are recreated rather than failed on.
func (m *Manager) ensureFile(ctx context.Context, projectID string, wm *workingMap, path, content string) error {
	if id, ok := wm.ids[path]; ok {
		err := m.store.UpsertFileContent(ctx, id, content)
		if err == nil {
			return nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		// Stale mapping, fall through to create.
		delete(wm.ids, path)
	}

	id, err := m.store.CreateFile(ctx, projectID, nil, path, content, files.CreateOptions{})
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			// Raced with another writer; reconcile through the live id.
			nodes, lerr := m.store.ListNodes(ctx, projectID)
			if lerr != nil {
				return fmt.Errorf("reconcile %s: %w", path, lerr)
			}
			wm.ids = newWorkingMap(nodes).ids
			if id, ok := wm.ids[path]; ok {
				return m.store.UpsertFileContent(ctx, id, content)
			}
		}
		return err
	}

	wm.ids[path] = id
	return nil
}

// removeFile deletes the node at path; a target already gone is fine.
func (m *Manager) removeFile(ctx context.Context, wm *workingMap, path string) error {
	id, ok := wm.ids[path]
	if !ok {
		return nil
	}
	delete(wm.ids, path)

	if err := m.store.DeleteNode(ctx, id); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return nil
}

// patchFile applies the operation's diff to the live content, falling back
// to the recorded snapshot when the patch no longer fits. inverse selects
// the backward direction: inverted patch, before-text fallback.
func (m *Manager) patchFile(ctx context.Context, projectID string, wm *workingMap, op *Operation, inverse bool) error {
	fallback := op.AfterText
	if inverse {
		fallback = op.BeforeText
	}

	id, ok := wm.ids[op.Path]
	if !ok {
		// Target missing: recreate it with the recorded result.
		return m.ensureFile(ctx, projectID, wm, op.Path, fallback)
	}

	current, err := m.store.GetFileContent(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			delete(wm.ids, op.Path)
			return m.ensureFile(ctx, projectID, wm, op.Path, fallback)
		}
		return err
	}

	next, perr := applyPatchText(op.Patch, current, inverse)
	if perr != nil {
		m.log.Warn("patch drift, using recorded text",
			"path", op.Path,
			"error", perr)
		next = fallback
	}

	return m.store.UpsertFileContent(ctx, id, next)
}

// applyPatchText parses the stored diff and applies it, inverted when
// walking backward.
func applyPatchText(text, base string, inverse bool) (string, error) {
	p, err := patch.Parse(text)
	if err != nil {
		return "", err
	}
	if inverse {
		p = patch.Invert(p)
	}
	return patch.Apply(base, p)
}

// workingMap tracks path to node id while a delta is in flight so later
// operations resolve against the in-progress state.
type workingMap struct {
	ids map[string]string
}

func newWorkingMap(nodes []files.Node) *workingMap {
	paths := files.BuildPaths(nodes)
	ids := make(map[string]string)
	for _, n := range nodes {
		if n.Type != files.TypeFile {
			continue
		}
		if p := paths[n.ID]; p != "" {
			ids[p] = n.ID
		}
	}
	return &workingMap{ids: ids}
}

// Checkpoints returns a copy of the session's checkpoint list in order.
func (m *Manager) Checkpoints(sessionID string) []Checkpoint {
	s := m.get(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Checkpoint, len(s.state.Checkpoints))
	copy(out, s.state.Checkpoints)
	return out
}

// Head reports the session's current head pointers.
func (m *Manager) Head(sessionID string) (string, *int) {
	s := m.get(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var headMessage *int
	if s.state.HeadMessageID != nil {
		v := *s.state.HeadMessageID
		headMessage = &v
	}
	return s.state.HeadCheckpointID, headMessage
}

// CanRedo reports whether a redo position is pending for the session.
func (m *Manager) CanRedo(sessionID string) bool {
	s := m.get(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redo != nil
}

// SessionState returns a copy of the session's full state record.
func (m *Manager) SessionState(sessionID string) *State {
	s := m.get(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := *s.state
	st.Checkpoints = append([]Checkpoint(nil), s.state.Checkpoints...)
	if s.state.HeadMessageID != nil {
		v := *s.state.HeadMessageID
		st.HeadMessageID = &v
	}
	return &st
}

// Invalidate drops the in-memory cache so the next access reloads from
// disk. Used when another instance rewrote the state file.
func (m *Manager) Invalidate(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// DeleteSession removes both cached and persisted state for a session.
func (m *Manager) DeleteSession(sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	return m.storage.Delete(sessionID)
}
