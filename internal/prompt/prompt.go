// internal/prompt/prompt.go
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"driftpad/internal/apperr"
)

// Kind discriminates prompt segment variants.
type Kind string

const (
	KindText    Kind = "text"
	KindFileRef Kind = "file_ref"
	KindCodeRef Kind = "code_ref"
)

// Segment is one element of a composed prompt. Kind decides which fields
// are meaningful: Text for text segments; Path and NodeID for file
// references; Path, NodeID, StartLine, EndLine and Snippet for code
// references. Lines are 1-based and inclusive.
type Segment struct {
	Kind      Kind   `json:"kind"`
	Text      string `json:"text,omitempty"`
	Path      string `json:"path,omitempty"`
	NodeID    string `json:"nodeId,omitempty"`
	StartLine int    `json:"startLine,omitempty"`
	EndLine   int    `json:"endLine,omitempty"`
	Snippet   string `json:"snippet,omitempty"`
}

// Text builds a plain text segment.
func Text(text string) Segment {
	return Segment{Kind: KindText, Text: text}
}

// FileRef builds a reference to a workspace file.
func FileRef(path, nodeID string) Segment {
	return Segment{Kind: KindFileRef, Path: path, NodeID: nodeID}
}

// CodeRef builds a reference to a line range within a workspace file.
func CodeRef(path, nodeID string, startLine, endLine int, snippet string) Segment {
	return Segment{
		Kind:      KindCodeRef,
		Path:      path,
		NodeID:    nodeID,
		StartLine: startLine,
		EndLine:   endLine,
		Snippet:   snippet,
	}
}

// Segments is an ordered prompt composition.
type Segments []Segment

// Validate checks every segment against its kind's required fields.
func (s Segments) Validate() error {
	for i, seg := range s {
		switch seg.Kind {
		case KindText:
			if seg.Text == "" {
				return fmt.Errorf("segment %d: empty text: %w", i, apperr.ErrInvalid)
			}
		case KindFileRef:
			if seg.Path == "" {
				return fmt.Errorf("segment %d: file reference without path: %w", i, apperr.ErrInvalid)
			}
		case KindCodeRef:
			if seg.Path == "" {
				return fmt.Errorf("segment %d: code reference without path: %w", i, apperr.ErrInvalid)
			}
			if seg.StartLine < 1 || seg.EndLine < seg.StartLine {
				return fmt.Errorf("segment %d: bad line range %d-%d: %w", i, seg.StartLine, seg.EndLine, apperr.ErrInvalid)
			}
		default:
			return fmt.Errorf("segment %d: unknown kind %q: %w", i, seg.Kind, apperr.ErrInvalid)
		}
	}
	return nil
}

// Marshal serializes the composition to its stored JSON form. An empty
// composition serializes to the empty string.
func Marshal(s Segments) (string, error) {
	if len(s) == 0 {
		return "", nil
	}
	if err := s.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode segments: %w", err)
	}
	return string(raw), nil
}

// Unmarshal parses the stored JSON form back into a validated composition.
// The empty string parses to nil, so Marshal and Unmarshal round-trip.
func Unmarshal(raw string) (Segments, error) {
	if raw == "" {
		return nil, nil
	}
	var s Segments
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode segments: %v: %w", err, apperr.ErrInvalid)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Render flattens the composition into the plain prompt text the assistant
// receives. References render as @-mentions; a code reference with a
// snippet carries the quoted lines in a fenced block.
func (s Segments) Render() string {
	var b strings.Builder
	for _, seg := range s {
		switch seg.Kind {
		case KindText:
			b.WriteString(seg.Text)
		case KindFileRef:
			b.WriteString("@" + seg.Path)
		case KindCodeRef:
			fmt.Fprintf(&b, "@%s:L%d-L%d", seg.Path, seg.StartLine, seg.EndLine)
			if seg.Snippet != "" {
				b.WriteString("\n```\n")
				b.WriteString(seg.Snippet)
				if !strings.HasSuffix(seg.Snippet, "\n") {
					b.WriteString("\n")
				}
				b.WriteString("```\n")
			}
		}
	}
	return b.String()
}
