// Package linediff computes line-oriented diffs between two terminal
// snapshots. The encoding is deliberately simple: a common prefix, a
// removed/added middle, and a common suffix. Scroll-back updates are almost
// always appends, so this covers the hot path with three ops at most.
package linediff

import "strings"

type OpType string

const (
	OpKeep   OpType = "keep"
	OpAdd    OpType = "add"
	OpRemove OpType = "remove"
)

type Op struct {
	Type  OpType   `json:"type"`
	Count int      `json:"count,omitempty"`
	Lines []string `json:"lines,omitempty"`
}

type Diff struct {
	Ops []Op
	// EstimatedSize approximates the serialized byte cost so callers can
	// fall back to sending the full snapshot when a diff would not pay off.
	EstimatedSize int
}

const opOverheadBytes = 26 // {"type":"keep","count":N} and friends

func Generate(oldText, newText string) Diff {
	if oldText == newText {
		return Diff{Ops: []Op{}}
	}

	oldLines := splitLines(oldText)
	newLines := splitLines(newText)

	prefix := commonPrefix(oldLines, newLines)
	suffix := commonSuffix(oldLines[prefix:], newLines[prefix:])

	var ops []Op
	if prefix > 0 {
		ops = append(ops, Op{Type: OpKeep, Count: prefix})
	}
	if removed := len(oldLines) - prefix - suffix; removed > 0 {
		ops = append(ops, Op{Type: OpRemove, Count: removed})
	}
	if middle := newLines[prefix : len(newLines)-suffix]; len(middle) > 0 {
		added := make([]string, len(middle))
		copy(added, middle)
		ops = append(ops, Op{Type: OpAdd, Lines: added})
	}
	if suffix > 0 {
		ops = append(ops, Op{Type: OpKeep, Count: suffix})
	}
	if ops == nil {
		ops = []Op{}
	}
	return Diff{Ops: ops, EstimatedSize: estimateSize(ops)}
}

// Apply reconstructs the new text from the old text and a diff. It is the
// inverse of Generate: Apply(old, Generate(old, new).Ops) == new for any
// pair of strings.
func Apply(oldText string, ops []Op) string {
	if len(ops) == 0 {
		return oldText
	}
	oldLines := splitLines(oldText)
	out := make([]string, 0, len(oldLines))
	cursor := 0
	for _, op := range ops {
		switch op.Type {
		case OpKeep:
			end := cursor + op.Count
			if end > len(oldLines) {
				end = len(oldLines)
			}
			out = append(out, oldLines[cursor:end]...)
			cursor = end
		case OpAdd:
			out = append(out, op.Lines...)
		case OpRemove:
			cursor += op.Count
			if cursor > len(oldLines) {
				cursor = len(oldLines)
			}
		}
	}
	return strings.Join(out, "\n")
}

func estimateSize(ops []Op) int {
	size := 0
	for _, op := range ops {
		switch op.Type {
		case OpAdd:
			size += opOverheadBytes
			for _, line := range op.Lines {
				size += len(line) + 3
			}
		default:
			size += opOverheadBytes
		}
	}
	return size
}

func commonPrefix(a, b []string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// commonSuffix is computed over the tails remaining after the prefix so the
// prefix and suffix can never overlap.
func commonSuffix(a, b []string) int {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}

func splitLines(text string) []string {
	return strings.Split(text, "\n")
}
