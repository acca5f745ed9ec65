// internal/patch/format.go
package patch

import (
	"fmt"
	"strconv"
	"strings"
)

const noNewlineMarker = `\ No newline at end of file`

// Format renders the patch as standard unified-diff text: header pair,
// @@ hunk ranges, one prefixed line per diff line, and the usual marker
// after a final line without a trailing newline.
func Format(p *Patch) string {
	if p.Empty() {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n", p.Path)
	fmt.Fprintf(&b, "+++ b/%s\n", p.Path)
	for _, h := range p.Hunks {
		fmt.Fprintf(&b, "@@ -%s +%s @@\n",
			headerRange(h.OldStart, h.OldLines),
			headerRange(h.NewStart, h.NewLines))
		for _, ln := range h.Lines {
			switch ln.Kind {
			case Added:
				b.WriteByte('+')
			case Removed:
				b.WriteByte('-')
			default:
				b.WriteByte(' ')
			}
			b.WriteString(ln.Text)
			if !strings.HasSuffix(ln.Text, "\n") {
				b.WriteByte('\n')
				b.WriteString(noNewlineMarker)
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}

// headerRange prints one side of a hunk header. A count of one is elided;
// a count of zero records the line before the change, per the format.
func headerRange(start, count int) string {
	switch count {
	case 0:
		return strconv.Itoa(start-1) + ",0"
	case 1:
		return strconv.Itoa(start)
	default:
		return strconv.Itoa(start) + "," + strconv.Itoa(count)
	}
}

// Parse reads unified-diff text back into a Patch. It accepts the layout
// Format produces (and the common tool output it mirrors); anything else is
// an error so corrupt persisted patches surface instead of half-applying.
func Parse(text string) (*Patch, error) {
	p := &Patch{}
	if strings.TrimSpace(text) == "" {
		return p, nil
	}
	lines := strings.Split(text, "\n")
	var cur *Hunk
	for i, raw := range lines {
		switch {
		case raw == "" && i == len(lines)-1:
			// trailing newline of the patch text itself
		case strings.HasPrefix(raw, "--- "):
			// path is taken from the +++ side
		case strings.HasPrefix(raw, "+++ "):
			p.Path = strings.TrimPrefix(strings.TrimPrefix(raw, "+++ "), "b/")
		case strings.HasPrefix(raw, "@@ "):
			h, err := parseHunkHeader(raw)
			if err != nil {
				return nil, err
			}
			p.Hunks = append(p.Hunks, h)
			cur = &p.Hunks[len(p.Hunks)-1]
		case strings.HasPrefix(raw, `\`):
			if cur == nil || len(cur.Lines) == 0 {
				return nil, fmt.Errorf("parse patch: stray no-newline marker at line %d", i+1)
			}
			last := &cur.Lines[len(cur.Lines)-1]
			last.Text = strings.TrimSuffix(last.Text, "\n")
		default:
			if cur == nil {
				return nil, fmt.Errorf("parse patch: content before hunk header at line %d", i+1)
			}
			if raw == "" {
				return nil, fmt.Errorf("parse patch: unprefixed empty line at line %d", i+1)
			}
			var kind LineKind
			switch raw[0] {
			case ' ':
				kind = Context
			case '+':
				kind = Added
			case '-':
				kind = Removed
			default:
				return nil, fmt.Errorf("parse patch: bad line prefix %q at line %d", raw[0], i+1)
			}
			cur.Lines = append(cur.Lines, Line{Kind: kind, Text: raw[1:] + "\n"})
		}
	}
	for i := range p.Hunks {
		h := &p.Hunks[i]
		oc, nc := 0, 0
		for _, ln := range h.Lines {
			if ln.Kind != Added {
				oc++
			}
			if ln.Kind != Removed {
				nc++
			}
		}
		if oc != h.OldLines || nc != h.NewLines {
			return nil, fmt.Errorf("parse patch: hunk %d line counts do not match header", i+1)
		}
	}
	return p, nil
}

func parseHunkHeader(s string) (Hunk, error) {
	var h Hunk
	body, ok := strings.CutPrefix(s, "@@ ")
	if !ok {
		return h, fmt.Errorf("parse patch: malformed hunk header %q", s)
	}
	end := strings.Index(body, " @@")
	if end < 0 {
		return h, fmt.Errorf("parse patch: malformed hunk header %q", s)
	}
	parts := strings.Fields(body[:end])
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "-") || !strings.HasPrefix(parts[1], "+") {
		return h, fmt.Errorf("parse patch: malformed hunk header %q", s)
	}
	var err error
	if h.OldStart, h.OldLines, err = parseRange(parts[0][1:]); err != nil {
		return h, fmt.Errorf("parse patch: hunk header %q: %w", s, err)
	}
	if h.NewStart, h.NewLines, err = parseRange(parts[1][1:]); err != nil {
		return h, fmt.Errorf("parse patch: hunk header %q: %w", s, err)
	}
	return h, nil
}

func parseRange(s string) (start, count int, err error) {
	if c := strings.IndexByte(s, ','); c >= 0 {
		if start, err = strconv.Atoi(s[:c]); err != nil {
			return 0, 0, err
		}
		if count, err = strconv.Atoi(s[c+1:]); err != nil {
			return 0, 0, err
		}
	} else {
		if start, err = strconv.Atoi(s); err != nil {
			return 0, 0, err
		}
		count = 1
	}
	if count == 0 {
		start++ // header records the line before a pure insert or delete
	}
	return start, count, nil
}
