// internal/changeset/changeset.go
package changeset

import (
	"github.com/google/uuid"

	"driftpad/internal/patch"
)

// Action labels what a proposed change does to its file.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Status is the file-level review status of a change.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Decision is a per-line review decision.
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
)

// Proposed is one file edit as the AI collaborator returns it.
type Proposed struct {
	FilePath   string `json:"filePath"`
	Action     Action `json:"action"`
	OldContent string `json:"oldContent"`
	NewContent string `json:"newContent"`
}

// PendingChange is one file's proposed edit within an in-flight review.
// It lives only for the duration of the review session and is never
// persisted. LineDecisions is keyed by the index assigned in
// LineDecisionIndex, which addresses the diff rather than either file.
type PendingChange struct {
	ID            string
	FilePath      string
	Action        Action
	OldContent    string
	NewContent    string
	Status        Status
	LineDecisions map[int]Decision
}

// New builds a pending change in its initial pending state.
func New(filePath string, action Action, oldContent, newContent string) *PendingChange {
	return &PendingChange{
		ID:            uuid.New().String(),
		FilePath:      filePath,
		Action:        action,
		OldContent:    oldContent,
		NewContent:    newContent,
		Status:        StatusPending,
		LineDecisions: make(map[int]Decision),
	}
}

// Decide records a per-line decision without touching file-level status.
func (c *PendingChange) Decide(lineIndex int, d Decision) {
	if c.LineDecisions == nil {
		c.LineDecisions = make(map[int]Decision)
	}
	c.LineDecisions[lineIndex] = d
}

// Terminal reports whether the change reached a terminal review status.
func (c *PendingChange) Terminal() bool {
	return c.Status == StatusAccepted || c.Status == StatusRejected
}

// IndexedLine pairs one diff line with its global index.
type IndexedLine struct {
	Index int
	Kind  patch.LineKind
	Text  string
}

// LineDecisionIndex walks the diff between the two contents and assigns
// every line a monotonically increasing index. Recomputing over the same
// contents reproduces identical indexing, so recorded decisions stay valid
// for the lifetime of the change.
func LineDecisionIndex(oldContent, newContent string) []IndexedLine {
	lines := patch.DiffLines(oldContent, newContent)
	out := make([]IndexedLine, len(lines))
	for i, ln := range lines {
		out[i] = IndexedLine{Index: i, Kind: ln.Kind, Text: ln.Text}
	}
	return out
}

// Mode selects how Materialize resolves lines without an explicit decision.
type Mode string

const (
	// ModeAccept keeps the proposed edit except where lines were rejected.
	ModeAccept Mode = "accept"
	// ModeReject drops the proposed edit except where lines were accepted.
	ModeReject Mode = "reject"
)

// pairIndex maps each diff line to its replacement counterpart: within a
// modification block (a run of removals followed directly by additions),
// removal j pairs with addition j. Unpaired lines map to -1.
func pairIndex(lines []patch.Line) []int {
	pairs := make([]int, len(lines))
	for i := range pairs {
		pairs[i] = -1
	}
	i := 0
	for i < len(lines) {
		if lines[i].Kind != patch.Removed {
			i++
			continue
		}
		start := i
		for i < len(lines) && lines[i].Kind == patch.Removed {
			i++
		}
		addStart := i
		for i < len(lines) && lines[i].Kind == patch.Added {
			i++
		}
		n := min(addStart-start, i-addStart)
		for j := 0; j < n; j++ {
			pairs[start+j] = addStart + j
			pairs[addStart+j] = start + j
		}
	}
	return pairs
}

// Materialize resolves the change plus its line decisions into final text.
//
// Context lines are always kept. In accept mode an added line survives
// unless it was rejected, and a removed line is restored when its removal
// was rejected. A removed line with no decision of its own falls back to
// its replacement pair: rejecting the added line that replaced it restores
// the old line. Reject mode mirrors all of that. With no decisions
// recorded this degrades to whole-file accept or reject.
//
// Delete actions are all-or-nothing: line decisions do not apply, a
// rejected delete leaves the old content untouched.
func Materialize(c *PendingChange, mode Mode) string {
	if c.Action == ActionDelete {
		if mode == ModeAccept {
			return ""
		}
		return c.OldContent
	}

	lines := patch.DiffLines(c.OldContent, c.NewContent)
	pairs := pairIndex(lines)

	var out []byte
	for i, ln := range lines {
		d := c.LineDecisions[i]
		var paired Decision
		if pairs[i] >= 0 {
			paired = c.LineDecisions[pairs[i]]
		}
		keep := false
		switch ln.Kind {
		case patch.Context:
			keep = true
		case patch.Added:
			if mode == ModeAccept {
				keep = d != DecisionRejected
			} else {
				keep = d == DecisionAccepted
			}
		case patch.Removed:
			if mode == ModeAccept {
				if d != "" {
					keep = d == DecisionRejected
				} else {
					keep = paired == DecisionRejected
				}
			} else {
				if d != "" {
					keep = d != DecisionAccepted
				} else {
					keep = paired != DecisionAccepted
				}
			}
		}
		if keep {
			out = append(out, ln.Text...)
		}
	}
	return string(out)
}
