// internal/review/review.go
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"driftpad/internal/apperr"
	"driftpad/internal/changeset"
	"driftpad/internal/checkpoint"
	"driftpad/internal/eventhub"
	"driftpad/internal/files"
	"driftpad/internal/patch"
)

// Phase is the review session state.
type Phase string

const (
	PhaseIdle   Phase = "idle"
	PhaseStaged Phase = "staged"
)

// Outcome summarizes how the last staged review ended.
type Outcome string

const (
	OutcomeAccepted          Outcome = "accepted"
	OutcomeRejected          Outcome = "rejected"
	OutcomePartiallyResolved Outcome = "partially_resolved"
)

// Issue is one finding from a change-set scan. Issues live only while a
// review is staged; restaging clears them.
type Issue struct {
	FilePath string `json:"filePath"`
	Line     int    `json:"line"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Controller walks one AI change set at a time from staged to resolved
// for a single chat session. Accepted content lands in the file store
// through ensure-at-path semantics; the applied operations become one
// checkpoint when the session closes.
type Controller struct {
	sessionID string
	store     files.Store
	ckpts     *checkpoint.Manager
	hub       *eventhub.EventHub
	log       *slog.Logger

	mu        sync.Mutex
	phase     Phase
	projectID string
	origin    string
	changes   []*changeset.PendingChange
	focused   string
	issues    []Issue
	applied   []checkpoint.Operation
	outcome   Outcome
}

// NewController creates an idle controller for one chat session.
func NewController(sessionID string, store files.Store, ckpts *checkpoint.Manager, hub *eventhub.EventHub, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		sessionID: sessionID,
		store:     store,
		ckpts:     ckpts,
		hub:       hub,
		log:       log,
		phase:     PhaseIdle,
	}
}

// Stage opens a review over a proposed change set, focuses the first
// pending change and clears any prior issue-scan results. Staging over an
// open review replaces it; the previous set's undecided changes are
// discarded.
func (c *Controller) Stage(ctx context.Context, projectID, origin string, proposed []changeset.Proposed) error {
	if len(proposed) == 0 {
		return fmt.Errorf("empty change set: %w", apperr.ErrInvalid)
	}

	c.mu.Lock()
	if c.phase == PhaseStaged {
		c.log.Info("replacing staged review", "session_id", c.sessionID)
	}
	c.projectID = projectID
	c.origin = origin
	c.changes = make([]*changeset.PendingChange, 0, len(proposed))
	for _, p := range proposed {
		c.changes = append(c.changes, changeset.New(p.FilePath, p.Action, p.OldContent, p.NewContent))
	}
	c.focused = c.changes[0].ID
	c.issues = nil
	c.applied = nil
	c.outcome = ""
	c.phase = PhaseStaged
	count := len(c.changes)
	c.mu.Unlock()

	if c.hub != nil {
		c.hub.EmitReviewStaged(eventhub.ReviewStagedEvent{
			SessionID: c.sessionID,
			Changes:   count,
			Origin:    origin,
		})
	}
	c.log.Info("review staged", "session_id", c.sessionID, "changes", count)
	return nil
}

// Phase returns the current session state.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Outcome returns how the last review ended, "" if none has closed yet.
func (c *Controller) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Changes returns a copy of the staged changes in order.
func (c *Controller) Changes() []changeset.PendingChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]changeset.PendingChange, len(c.changes))
	for i, ch := range c.changes {
		cp := *ch
		cp.LineDecisions = make(map[int]changeset.Decision, len(ch.LineDecisions))
		for k, v := range ch.LineDecisions {
			cp.LineDecisions[k] = v
		}
		out[i] = cp
	}
	return out
}

// Focused returns the focused change id, "" when idle.
func (c *Controller) Focused() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focused
}

// SetFocused moves focus to the given staged change.
func (c *Controller) SetFocused(changeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseStaged {
		return fmt.Errorf("no staged review: %w", apperr.ErrConflict)
	}
	if c.findLocked(changeID) == nil {
		return fmt.Errorf("change %s: %w", changeID, apperr.ErrNotFound)
	}
	c.focused = changeID
	return nil
}

// SetIssues replaces the staged review's scan results.
func (c *Controller) SetIssues(issues []Issue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issues = append([]Issue(nil), issues...)
}

// Issues returns the current scan results.
func (c *Controller) Issues() []Issue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Issue(nil), c.issues...)
}

// AcceptAll resolves every undecided change in accept mode. Failures do
// not stop the batch; the first one is returned after the session closes.
func (c *Controller) AcceptAll(ctx context.Context) error {
	return c.resolveAll(ctx, changeset.ModeAccept)
}

// RejectAll resolves every undecided change in reject mode.
func (c *Controller) RejectAll(ctx context.Context) error {
	return c.resolveAll(ctx, changeset.ModeReject)
}

func (c *Controller) resolveAll(ctx context.Context, mode changeset.Mode) error {
	c.mu.Lock()
	if c.phase != PhaseStaged {
		c.mu.Unlock()
		return fmt.Errorf("no staged review: %w", apperr.ErrConflict)
	}
	var open []*changeset.PendingChange
	for _, ch := range c.changes {
		if !ch.Terminal() {
			open = append(open, ch)
		}
	}
	c.mu.Unlock()

	var firstErr error
	for _, ch := range open {
		if err := c.applyResolution(ctx, ch, mode); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// AcceptFile materializes one change with its recorded line decisions and
// applies it. When the last staged change reaches a terminal status the
// session closes on its own.
func (c *Controller) AcceptFile(ctx context.Context, changeID string) error {
	return c.resolveFile(ctx, changeID, changeset.ModeAccept)
}

// RejectFile resolves one change in reject mode. Lines the user accepted
// individually still land.
func (c *Controller) RejectFile(ctx context.Context, changeID string) error {
	return c.resolveFile(ctx, changeID, changeset.ModeReject)
}

func (c *Controller) resolveFile(ctx context.Context, changeID string, mode changeset.Mode) error {
	c.mu.Lock()
	if c.phase != PhaseStaged {
		c.mu.Unlock()
		return fmt.Errorf("no staged review: %w", apperr.ErrConflict)
	}
	ch := c.findLocked(changeID)
	if ch == nil {
		c.mu.Unlock()
		return fmt.Errorf("change %s: %w", changeID, apperr.ErrNotFound)
	}
	c.mu.Unlock()

	if err := c.applyResolution(ctx, ch, mode); err != nil {
		if cerr := c.maybeClose(ctx); cerr != nil {
			c.log.Error("close review", "session_id", c.sessionID, "error", cerr)
		}
		return err
	}
	return c.maybeClose(ctx)
}

// AcceptLine records an accept decision for one diff line. Once every
// changed line of the diff carries a decision the file resolves itself,
// which can in turn close the session.
func (c *Controller) AcceptLine(ctx context.Context, changeID string, lineIndex int) error {
	return c.decideLine(ctx, changeID, lineIndex, changeset.DecisionAccepted)
}

// RejectLine records a reject decision for one diff line.
func (c *Controller) RejectLine(ctx context.Context, changeID string, lineIndex int) error {
	return c.decideLine(ctx, changeID, lineIndex, changeset.DecisionRejected)
}

func (c *Controller) decideLine(ctx context.Context, changeID string, lineIndex int, d changeset.Decision) error {
	c.mu.Lock()
	if c.phase != PhaseStaged {
		c.mu.Unlock()
		return fmt.Errorf("no staged review: %w", apperr.ErrConflict)
	}
	ch := c.findLocked(changeID)
	if ch == nil {
		c.mu.Unlock()
		return fmt.Errorf("change %s: %w", changeID, apperr.ErrNotFound)
	}
	if ch.Terminal() {
		c.mu.Unlock()
		return fmt.Errorf("change %s already resolved: %w", changeID, apperr.ErrConflict)
	}
	if ch.Action == changeset.ActionDelete {
		c.mu.Unlock()
		return fmt.Errorf("delete is all-or-nothing: %w", apperr.ErrInvalid)
	}

	lines := changeset.LineDecisionIndex(ch.OldContent, ch.NewContent)
	if lineIndex < 0 || lineIndex >= len(lines) {
		c.mu.Unlock()
		return fmt.Errorf("line %d: %w", lineIndex, apperr.ErrInvalid)
	}
	if lines[lineIndex].Kind == patch.Context {
		c.mu.Unlock()
		return fmt.Errorf("line %d is unchanged: %w", lineIndex, apperr.ErrInvalid)
	}
	ch.Decide(lineIndex, d)

	done := true
	for _, ln := range lines {
		if ln.Kind == patch.Context {
			continue
		}
		if _, ok := ch.LineDecisions[ln.Index]; !ok {
			done = false
			break
		}
	}
	mode := changeset.ModeReject
	for _, dec := range ch.LineDecisions {
		if dec == changeset.DecisionAccepted {
			mode = changeset.ModeAccept
			break
		}
	}
	c.mu.Unlock()

	if !done {
		return nil
	}
	if err := c.applyResolution(ctx, ch, mode); err != nil {
		if cerr := c.maybeClose(ctx); cerr != nil {
			c.log.Error("close review", "session_id", c.sessionID, "error", cerr)
		}
		return err
	}
	return c.maybeClose(ctx)
}

func (c *Controller) findLocked(changeID string) *changeset.PendingChange {
	for _, ch := range c.changes {
		if ch.ID == changeID {
			return ch
		}
	}
	return nil
}

// applyResolution claims the change, writes the materialized text through
// the file store and collects the applied operation for the session's
// checkpoint. The claim happens before the store call so a concurrent
// resolution of the same change cannot apply twice.
func (c *Controller) applyResolution(ctx context.Context, ch *changeset.PendingChange, mode changeset.Mode) error {
	c.mu.Lock()
	if ch.Terminal() {
		c.mu.Unlock()
		return nil
	}
	if mode == changeset.ModeAccept {
		ch.Status = changeset.StatusAccepted
	} else {
		ch.Status = changeset.StatusRejected
	}
	c.advanceFocusLocked()
	projectID := c.projectID
	c.mu.Unlock()

	op, err := c.applyToStore(ctx, projectID, ch, mode)
	if err != nil {
		c.log.Error("apply review change", "path", ch.FilePath, "error", err)
		return fmt.Errorf("apply %s: %w", ch.FilePath, err)
	}
	if op != nil {
		c.mu.Lock()
		c.applied = append(c.applied, *op)
		c.mu.Unlock()
	}
	return nil
}

// applyToStore materializes the change and performs its file operation.
// Operations that leave the file as it was return no checkpoint entry.
func (c *Controller) applyToStore(ctx context.Context, projectID string, ch *changeset.PendingChange, mode changeset.Mode) (*checkpoint.Operation, error) {
	text := changeset.Materialize(ch, mode)

	switch ch.Action {
	case changeset.ActionDelete:
		if mode == changeset.ModeReject {
			return nil, nil
		}
		id, err := c.nodeAt(ctx, projectID, ch.FilePath)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if err := c.store.DeleteNode(ctx, id); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		op := checkpoint.NewOperation(ch.FilePath, checkpoint.OpDelete, ch.OldContent, "")
		return &op, nil

	case changeset.ActionCreate:
		if mode == changeset.ModeReject && text == "" {
			return nil, nil
		}
		if _, err := c.ensureAt(ctx, projectID, ch.FilePath, text); err != nil {
			return nil, err
		}
		op := checkpoint.NewOperation(ch.FilePath, checkpoint.OpCreate, "", text)
		return &op, nil

	case changeset.ActionUpdate:
		if text == ch.OldContent {
			return nil, nil
		}
		if _, err := c.ensureAt(ctx, projectID, ch.FilePath, text); err != nil {
			return nil, err
		}
		op := checkpoint.NewOperation(ch.FilePath, checkpoint.OpUpdate, ch.OldContent, text)
		return &op, nil
	}
	return nil, fmt.Errorf("action %s: %w", ch.Action, apperr.ErrInvalid)
}

// nodeAt resolves a file path to its node id.
func (c *Controller) nodeAt(ctx context.Context, projectID, path string) (string, error) {
	nodes, err := c.store.ListNodes(ctx, projectID)
	if err != nil {
		return "", err
	}
	paths := files.BuildPaths(nodes)
	for _, n := range nodes {
		if n.Type == files.TypeFile && paths[n.ID] == path {
			return n.ID, nil
		}
	}
	return "", fmt.Errorf("path %s: %w", path, apperr.ErrNotFound)
}

// ensureAt writes text at path, creating the file if it is not there.
func (c *Controller) ensureAt(ctx context.Context, projectID, path, text string) (string, error) {
	id, err := c.nodeAt(ctx, projectID, path)
	if err == nil {
		return id, c.store.UpsertFileContent(ctx, id, text)
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return "", err
	}

	id, err = c.store.CreateFile(ctx, projectID, nil, path, text, files.CreateOptions{})
	if err != nil {
		if !errors.Is(err, apperr.ErrAlreadyExists) {
			return "", err
		}
		// Raced with another writer; land on whatever holds the path now.
		id, err = c.nodeAt(ctx, projectID, path)
		if err != nil {
			return "", err
		}
		return id, c.store.UpsertFileContent(ctx, id, text)
	}
	return id, nil
}

func (c *Controller) advanceFocusLocked() {
	if cur := c.findLocked(c.focused); cur != nil && !cur.Terminal() {
		return
	}
	for _, ch := range c.changes {
		if !ch.Terminal() {
			c.focused = ch.ID
			return
		}
	}
	c.focused = ""
}

// maybeClose closes the session once every change is terminal.
func (c *Controller) maybeClose(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseStaged {
		c.mu.Unlock()
		return nil
	}
	for _, ch := range c.changes {
		if !ch.Terminal() {
			c.mu.Unlock()
			return nil
		}
	}
	c.mu.Unlock()
	return c.close(ctx)
}

// close records the applied operations as one checkpoint and returns the
// controller to idle. With no applied operations, or no anchor to hang
// them on, the review dissolves without a checkpoint.
func (c *Controller) close(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseStaged {
		c.mu.Unlock()
		return nil
	}
	accepted, rejected := 0, 0
	for _, ch := range c.changes {
		switch ch.Status {
		case changeset.StatusAccepted:
			accepted++
		case changeset.StatusRejected:
			rejected++
		}
	}
	outcome := OutcomePartiallyResolved
	switch {
	case accepted == 0:
		outcome = OutcomeRejected
	case rejected == 0:
		outcome = OutcomeAccepted
	}
	desc := describeChanges(c.changes)
	ops := c.applied
	origin := c.origin
	projectID := c.projectID

	c.changes = nil
	c.focused = ""
	c.issues = nil
	c.applied = nil
	c.origin = ""
	c.outcome = outcome
	c.phase = PhaseIdle
	c.mu.Unlock()

	var recordErr error
	if len(ops) > 0 && origin != "" {
		if _, err := c.ckpts.Record(projectID, c.sessionID, origin, desc, ops); err != nil {
			recordErr = fmt.Errorf("record review checkpoint: %w", err)
			c.log.Error("record review checkpoint", "session_id", c.sessionID, "error", err)
		}
	}

	if c.hub != nil {
		c.hub.EmitReviewResolved(eventhub.ReviewResolvedEvent{
			SessionID: c.sessionID,
			Accepted:  accepted,
			Rejected:  rejected,
		})
	}
	c.log.Info("review resolved",
		"session_id", c.sessionID,
		"accepted", accepted,
		"rejected", rejected,
		"outcome", string(outcome))
	return recordErr
}

func describeChanges(changes []*changeset.PendingChange) string {
	if len(changes) == 0 {
		return ""
	}
	if len(changes) == 1 {
		return fmt.Sprintf("Edited %s", changes[0].FilePath)
	}
	return fmt.Sprintf("Edited %s and %d more", changes[0].FilePath, len(changes)-1)
}
