// internal/patch/codec.go
package patch

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineKind classifies one line of a diff.
type LineKind int8

const (
	Context LineKind = iota
	Added
	Removed
)

// Line is a single diffed line. Text keeps its trailing newline; only the
// final line of a file may lack one.
type Line struct {
	Kind LineKind
	Text string
}

// Hunk is a contiguous group of changed lines plus surrounding context.
// OldStart/NewStart are 1-based application positions; a pure insertion
// before line N has OldStart == N and OldLines == 0.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Patch is a structured unified diff for one file.
type Patch struct {
	Path  string
	Hunks []Hunk
}

// Empty reports whether the patch changes nothing.
func (p *Patch) Empty() bool {
	return p == nil || len(p.Hunks) == 0
}

// ApplyError reports the first hunk whose context no longer matches the base
// text. Callers decide whether to fall back to recorded content.
type ApplyError struct {
	Path string
	Hunk int
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("patch %s: hunk %d does not apply", e.Path, e.Hunk+1)
}

const contextLines = 3

// DiffLines computes the full line-level diff between two texts. The result
// walks the whole file in order: unchanged lines as Context, then Added and
// Removed lines where the texts diverge. Output is deterministic for
// identical inputs, and a trailing newline never produces a phantom line.
func DiffLines(before, after string) []Line {
	if before == after {
		raw := splitLines(before)
		out := make([]Line, len(raw))
		for i, t := range raw {
			out[i] = Line{Kind: Context, Text: t}
		}
		return out
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0 // deadline-free keeps output deterministic

	c1, c2, arr := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(c1, c2, false), arr)

	var out []Line
	for _, d := range diffs {
		var kind LineKind
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			kind = Context
		case diffmatchpatch.DiffInsert:
			kind = Added
		case diffmatchpatch.DiffDelete:
			kind = Removed
		}
		for _, t := range splitLines(d.Text) {
			out = append(out, Line{Kind: kind, Text: t})
		}
	}
	return out
}

// Diff builds a hunked patch from two text snapshots. The path is carried
// into the patch headers so persisted diffs stay readable on their own.
func Diff(path, before, after string) *Patch {
	lines := DiffLines(before, after)

	oldNo, newNo := 1, 1
	oldAt := make([]int, len(lines))
	newAt := make([]int, len(lines))
	for i, ln := range lines {
		oldAt[i], newAt[i] = oldNo, newNo
		switch ln.Kind {
		case Context:
			oldNo++
			newNo++
		case Removed:
			oldNo++
		case Added:
			newNo++
		}
	}

	p := &Patch{Path: path}
	i := 0
	for i < len(lines) {
		if lines[i].Kind == Context {
			i++
			continue
		}
		// Extend the group while the context gap to the next change is
		// small enough to share one hunk.
		end := i
		for j := i + 1; j < len(lines); j++ {
			if lines[j].Kind == Context {
				continue
			}
			if contextRun(lines, end, j) > 2*contextLines {
				break
			}
			end = j
		}
		start := i - contextLines
		if start < 0 {
			start = 0
		}
		stop := end + contextLines
		if stop > len(lines)-1 {
			stop = len(lines) - 1
		}

		h := Hunk{OldStart: oldAt[start], NewStart: newAt[start]}
		for k := start; k <= stop; k++ {
			h.Lines = append(h.Lines, lines[k])
			switch lines[k].Kind {
			case Context:
				h.OldLines++
				h.NewLines++
			case Removed:
				h.OldLines++
			case Added:
				h.NewLines++
			}
		}
		p.Hunks = append(p.Hunks, h)
		i = stop + 1
	}
	return p
}

// contextRun counts the context lines strictly between two change positions.
func contextRun(lines []Line, a, b int) int {
	n := 0
	for k := a + 1; k < b; k++ {
		if lines[k].Kind == Context {
			n++
		}
	}
	return n
}

// Invert swaps the patch's direction: applying the inverted patch to the
// "after" text reproduces the "before" text.
func Invert(p *Patch) *Patch {
	if p == nil {
		return nil
	}
	inv := &Patch{Path: p.Path, Hunks: make([]Hunk, len(p.Hunks))}
	for i, h := range p.Hunks {
		ih := Hunk{
			OldStart: h.NewStart,
			OldLines: h.NewLines,
			NewStart: h.OldStart,
			NewLines: h.OldLines,
			Lines:    make([]Line, len(h.Lines)),
		}
		for j, ln := range h.Lines {
			switch ln.Kind {
			case Added:
				ln.Kind = Removed
			case Removed:
				ln.Kind = Added
			}
			ih.Lines[j] = ln
		}
		inv.Hunks[i] = ih
	}
	return inv
}

// Apply patches the base text. Each hunk is located by matching its old-side
// lines at the expected position first, then at increasing offsets in both
// directions. A hunk that matches nowhere returns *ApplyError with the base
// left untouched; partial application is never returned.
func Apply(base string, p *Patch) (string, error) {
	if p.Empty() {
		return base, nil
	}
	lines := splitLines(base)
	delta := 0
	for hi := range p.Hunks {
		h := &p.Hunks[hi]
		oldSide := hunkSide(h, Added)
		want := h.OldStart - 1 + delta
		pos, ok := locate(lines, oldSide, want)
		if !ok {
			return "", &ApplyError{Path: p.Path, Hunk: hi}
		}
		newSide := hunkSide(h, Removed)
		merged := make([]string, 0, len(lines)-len(oldSide)+len(newSide))
		merged = append(merged, lines[:pos]...)
		merged = append(merged, newSide...)
		merged = append(merged, lines[pos+len(oldSide):]...)
		lines = merged
		// Later hunks shift by this hunk's growth plus whatever offset the
		// fuzzy search had to absorb.
		delta += (pos - want) + len(newSide) - len(oldSide)
	}
	var b strings.Builder
	for _, ln := range lines {
		b.WriteString(ln)
	}
	return b.String(), nil
}

// hunkSide extracts the lines of one side of a hunk: everything except the
// excluded kind, in recorded order.
func hunkSide(h *Hunk, exclude LineKind) []string {
	out := make([]string, 0, len(h.Lines))
	for _, ln := range h.Lines {
		if ln.Kind != exclude {
			out = append(out, ln.Text)
		}
	}
	return out
}

// locate finds where a hunk's old side matches, preferring the expected
// position and widening the search one line at a time in both directions.
func locate(lines, old []string, want int) (int, bool) {
	max := len(lines) - len(old)
	if max < 0 {
		return 0, false
	}
	if want < 0 {
		want = 0
	}
	if want > max {
		want = max
	}
	for r := 0; ; r++ {
		lo, hi := want-r, want+r
		if lo < 0 && hi > max {
			return 0, false
		}
		if lo >= 0 && matchAt(lines, old, lo) {
			return lo, true
		}
		if r > 0 && hi <= max && matchAt(lines, old, hi) {
			return hi, true
		}
	}
}

func matchAt(lines, old []string, pos int) bool {
	for i, want := range old {
		if lines[pos+i] != want {
			return false
		}
	}
	return true
}

// splitLines splits text into lines that keep their trailing newline. The
// final line may lack one; a trailing newline does not add an empty line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
