package linediff

import (
	"strings"
	"testing"
)

func TestGenerate_SpinnerUpdate(t *testing.T) {
	old := "Output line 1\nOutput line 2\n⠋ Working..."
	curr := "Output line 1\nOutput line 2\n⠙ Working..."

	d := Generate(old, curr)
	want := []Op{
		{Type: OpKeep, Count: 2},
		{Type: OpRemove, Count: 1},
		{Type: OpAdd, Lines: []string{"⠙ Working..."}},
	}
	assertOps(t, d.Ops, want)
	if got := Apply(old, d.Ops); got != curr {
		t.Fatalf("apply mismatch: %q", got)
	}
}

func TestGenerate_AppendWithSurvivingPrompt(t *testing.T) {
	old := "line1\nline2\nline3\n> prompt"
	curr := "line1\nline2\nline3\nline4\nline5\n> prompt"

	d := Generate(old, curr)
	want := []Op{
		{Type: OpKeep, Count: 3},
		{Type: OpAdd, Lines: []string{"line4", "line5"}},
		{Type: OpKeep, Count: 1},
	}
	assertOps(t, d.Ops, want)
	if got := Apply(old, d.Ops); got != curr {
		t.Fatalf("apply mismatch: %q", got)
	}
}

func TestGenerate_IdenticalInputsYieldEmptyOps(t *testing.T) {
	d := Generate("same\ntext", "same\ntext")
	if len(d.Ops) != 0 {
		t.Fatalf("expected empty ops, got %+v", d.Ops)
	}
	if d.EstimatedSize != 0 {
		t.Fatalf("expected zero size, got %d", d.EstimatedSize)
	}
}

func TestGenerate_CompleteRewrite(t *testing.T) {
	old := "a\nb\nc"
	curr := "x\ny"
	d := Generate(old, curr)
	want := []Op{
		{Type: OpRemove, Count: 3},
		{Type: OpAdd, Lines: []string{"x", "y"}},
	}
	assertOps(t, d.Ops, want)
	if got := Apply(old, d.Ops); got != curr {
		t.Fatalf("apply mismatch: %q", got)
	}
}

func TestRoundTrip_Identity(t *testing.T) {
	cases := []struct{ name, old, curr string }{
		{"empty to non-empty", "", "hello\nworld"},
		{"non-empty to empty", "hello\nworld", ""},
		{"identical", "a\nb\nc", "a\nb\nc"},
		{"append suffix", "a\nb", "a\nb\nc\nd"},
		{"prepend prefix", "c\nd", "a\nb\nc\nd"},
		{"interior change", "a\nb\nc\nd", "a\nX\nY\nd"},
		{"complete rewrite", "a\nb\nc", "x\ny\nz\nw"},
		{"trailing newline added", "a\nb", "a\nb\n"},
		{"trailing newline removed", "a\nb\n", "a\nb"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Generate(tc.old, tc.curr)
			if got := Apply(tc.old, d.Ops); got != tc.curr {
				t.Fatalf("apply(%q, ops) = %q, want %q", tc.old, got, tc.curr)
			}
		})
	}
}

func TestGenerate_CanonicalForm(t *testing.T) {
	cases := [][2]string{
		{"", "x"},
		{"a\nb\nc", "a\nq\nc"},
		{"a\nb", "a\nb\nc"},
		{"1\n2\n3\n4", "9\n2\n3\n8"},
	}
	for _, tc := range cases {
		d := Generate(tc[0], tc[1])
		for i, op := range d.Ops {
			if op.Type != OpAdd && op.Count <= 0 {
				t.Fatalf("zero-magnitude op %+v in %+v", op, d.Ops)
			}
			if op.Type == OpAdd && len(op.Lines) == 0 {
				t.Fatalf("empty add op in %+v", d.Ops)
			}
			if i > 0 && d.Ops[i-1].Type == op.Type {
				t.Fatalf("adjacent ops of same kind: %+v", d.Ops)
			}
		}
	}
}

func TestGenerate_LineCountInvariants(t *testing.T) {
	old := "a\nb\nc\nd\ne"
	curr := "a\nQ\nR\nS\nd\ne"
	d := Generate(old, curr)

	keeps, removes, adds := 0, 0, 0
	for _, op := range d.Ops {
		switch op.Type {
		case OpKeep:
			keeps += op.Count
		case OpRemove:
			removes += op.Count
		case OpAdd:
			adds += len(op.Lines)
		}
	}
	if keeps+removes != len(strings.Split(old, "\n")) {
		t.Fatalf("keep+remove=%d, old lines=%d", keeps+removes, len(strings.Split(old, "\n")))
	}
	if keeps+adds != len(strings.Split(curr, "\n")) {
		t.Fatalf("keep+add=%d, new lines=%d", keeps+adds, len(strings.Split(curr, "\n")))
	}
}

func TestGenerate_EstimatedSizeReflectsAddedBytes(t *testing.T) {
	d := Generate("a", "a\n"+strings.Repeat("x", 100))
	if d.EstimatedSize < 100 {
		t.Fatalf("estimated size %d should cover the added line", d.EstimatedSize)
	}
	small := Generate("a\nb\nc", "a\nb\nc\nd")
	if small.EstimatedSize > 3*opOverheadBytes+10 {
		t.Fatalf("small append estimate too large: %d", small.EstimatedSize)
	}
}

func assertOps(t *testing.T, got, want []Op) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("ops = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i].Type != want[i].Type || got[i].Count != want[i].Count {
			t.Fatalf("op %d = %+v, want %+v", i, got[i], want[i])
		}
		if len(got[i].Lines) != len(want[i].Lines) {
			t.Fatalf("op %d lines = %v, want %v", i, got[i].Lines, want[i].Lines)
		}
		for j := range want[i].Lines {
			if got[i].Lines[j] != want[i].Lines[j] {
				t.Fatalf("op %d line %d = %q, want %q", i, j, got[i].Lines[j], want[i].Lines[j])
			}
		}
	}
}
