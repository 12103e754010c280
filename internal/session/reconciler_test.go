package session

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/whoabuddy/claude-rpg/internal/hooks"
	"github.com/whoabuddy/claude-rpg/internal/patterns"
	"github.com/whoabuddy/claude-rpg/internal/protocol"
	"github.com/whoabuddy/claude-rpg/internal/termparse"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (p *fakePublisher) Broadcast(msg protocol.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *fakePublisher) byType(t protocol.Type) []protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []protocol.Message
	for _, m := range p.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type recordedEvent struct {
	PaneID    string
	EventType string
	Payload   map[string]any
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
	stats  map[string]int64
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{stats: map[string]int64{}}
}

func (r *fakeRecorder) RecordEvent(paneID, sessionID, eventType string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{PaneID: paneID, EventType: eventType, Payload: payload})
}

func (r *fakeRecorder) IncrStat(entityType, entityID, statPath string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats[statPath] += delta
}

func (r *fakeRecorder) eventsOfType(eventType string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestReconciler(t *testing.T) (*Reconciler, *fakePublisher, *fakeRecorder, *testClock, *[]Transition) {
	t.Helper()
	pub := &fakePublisher{}
	rec := newFakeRecorder()
	clock := &testClock{now: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)}
	r := NewReconciler(termparse.NewParser(patterns.Default), pub, rec, nil)
	r.nowFunc = clock.Now
	var transitions []Transition
	r.SetTransitionHook(func(tr Transition) { transitions = append(transitions, tr) })
	return r, pub, rec, clock, &transitions
}

const permissionPromptContent = "● Bash(rm -rf build)\n\nDo you want to proceed?\n❯ 1. Yes\n  2. Yes, and don't ask again\n  3. No, and tell Claude what to do differently"

func TestHookPreToolUse_SetsWorking(t *testing.T) {
	r, pub, _, _, transitions := newTestReconciler(t)
	r.EnsureSession("%1", "main:0.0")

	r.HandleHookEvent(hooks.Event{Type: hooks.TypePreToolUse, SessionID: "hook-1", PaneID: "%1", ToolName: "Bash"})

	s, ok := r.Session("%1")
	if !ok {
		t.Fatal("session missing")
	}
	if s.Status != StatusWorking || s.Source != SourceHook {
		t.Fatalf("status = %s/%s, want working/hook", s.Status, s.Source)
	}
	if len(*transitions) != 1 {
		t.Fatalf("transitions = %d, want 1", len(*transitions))
	}
	updates := pub.byType(protocol.TypeSessionUpdate)
	if len(updates) != 1 || updates[0].Status != "working" {
		t.Fatalf("session_update messages = %+v", updates)
	}
}

func TestPromptAppearsWhileHookWorking(t *testing.T) {
	r, pub, _, clock, transitions := newTestReconciler(t)
	r.EnsureSession("%1", "main:0.0")
	r.HandleHookEvent(hooks.Event{Type: hooks.TypePreToolUse, SessionID: "hook-1", PaneID: "%1"})
	clock.Advance(time.Second)

	r.HandleTerminalContent("%1", "main:0.0", permissionPromptContent, 1)

	s, _ := r.Session("%1")
	if s.Status != StatusWaiting || s.Source != SourceTerminal {
		t.Fatalf("status = %s/%s, want waiting/terminal", s.Status, s.Source)
	}
	if s.Prompt == nil || s.Prompt.Kind != patterns.KindPermission {
		t.Fatalf("prompt = %+v, want permission kind", s.Prompt)
	}
	last := (*transitions)[len(*transitions)-1]
	if last.Old != StatusWorking || last.New != StatusWaiting {
		t.Fatalf("transition = %s -> %s, want working -> waiting", last.Old, last.New)
	}

	updates := pub.byType(protocol.TypeSessionUpdate)
	final := updates[len(updates)-1]
	if final.Status != "waiting" {
		t.Fatalf("final update status = %q", final.Status)
	}
	prompt, ok := final.Payload["prompt"].(*termparse.Prompt)
	if !ok || prompt.Kind != patterns.KindPermission {
		t.Fatalf("waiting update should carry the prompt, payload = %+v", final.Payload)
	}
}

func TestMissedStopRecoveredByTimeout(t *testing.T) {
	r, _, _, clock, transitions := newTestReconciler(t)
	r.EnsureSession("%1", "main:0.0")
	r.HandleHookEvent(hooks.Event{Type: hooks.TypePreToolUse, SessionID: "hook-1", PaneID: "%1"})

	// A shell prompt alone classifies idle at moderate confidence, which is
	// not enough to override the hook immediately.
	r.HandleTerminalContent("%1", "main:0.0", "make build\nok\n$ ", 1)
	s, _ := r.Session("%1")
	if s.Status != StatusWorking {
		t.Fatalf("status = %s, want working while the idle window has not elapsed", s.Status)
	}

	clock.Advance(12 * time.Second)
	before := len(*transitions)
	r.Sweep()
	r.Sweep()

	s, _ = r.Session("%1")
	if s.Status != StatusIdle || s.Source != SourceTimeout {
		t.Fatalf("status = %s/%s, want idle/reconciler-timeout", s.Status, s.Source)
	}
	got := (*transitions)[before:]
	if len(got) != 1 {
		t.Fatalf("sweeps produced %d transitions, want exactly 1", len(got))
	}
	if got[0].Old != StatusWorking || got[0].New != StatusIdle {
		t.Fatalf("transition = %s -> %s", got[0].Old, got[0].New)
	}
	if !strings.Contains(got[0].Reason, "idle for 12s") {
		t.Fatalf("reason = %q, want the idle duration", got[0].Reason)
	}
}

func TestSubagentsVetoTimeoutDowngrade(t *testing.T) {
	r, _, _, clock, _ := newTestReconciler(t)
	r.EnsureSession("%1", "main:0.0")
	r.HandleHookEvent(hooks.Event{Type: hooks.TypePreToolUse, SessionID: "hook-1", PaneID: "%1"})
	r.HandleHookEvent(hooks.Event{Type: hooks.TypeSubagentStart, SessionID: "hook-1", PaneID: "%1"})
	r.HandleTerminalContent("%1", "main:0.0", "make build\nok\n$ ", 1)

	clock.Advance(30 * time.Second)
	r.Sweep()
	s, _ := r.Session("%1")
	if s.Status != StatusWorking {
		t.Fatalf("status = %s, want working while a subagent is active", s.Status)
	}
	if s.ActiveSubagents != 1 {
		t.Fatalf("active subagents = %d, want 1", s.ActiveSubagents)
	}

	r.HandleHookEvent(hooks.Event{Type: hooks.TypeSubagentStop, SessionID: "hook-1", PaneID: "%1"})
	clock.Advance(6 * time.Second)
	r.Sweep()
	s, _ = r.Session("%1")
	if s.Status != StatusIdle {
		t.Fatalf("status = %s, want idle once subagents are done", s.Status)
	}
}

func TestSameHookStateTwice_SingleTransition(t *testing.T) {
	r, pub, _, _, _ := newTestReconciler(t)
	r.EnsureSession("%1", "main:0.0")
	evt := hooks.Event{Type: hooks.TypePreToolUse, SessionID: "hook-1", PaneID: "%1"}
	r.HandleHookEvent(evt)
	r.HandleHookEvent(evt)

	if got := len(pub.byType(protocol.TypeSessionUpdate)); got != 1 {
		t.Fatalf("session_update messages = %d, want 1", got)
	}
}

func TestPromptAnsweredOutOfBand(t *testing.T) {
	r, _, _, _, _ := newTestReconciler(t)
	r.EnsureSession("%1", "main:0.0")
	r.HandleHookEvent(hooks.Event{Type: hooks.TypeNotification, SessionID: "hook-1", PaneID: "%1"})
	r.HandleTerminalContent("%1", "main:0.0", permissionPromptContent, 1)

	s, _ := r.Session("%1")
	if s.Status != StatusWaiting || s.Prompt == nil {
		t.Fatalf("setup failed: status = %s, prompt = %+v", s.Status, s.Prompt)
	}

	// The operator answered directly in the pane; a spinner replaces the
	// prompt.
	r.HandleTerminalContent("%1", "main:0.0", "⠙ Working...", 2)
	s, _ = r.Session("%1")
	if s.Status != StatusWorking || s.Source != SourceTerminal {
		t.Fatalf("status = %s/%s, want working/terminal", s.Status, s.Source)
	}
	if s.Prompt != nil {
		t.Fatalf("prompt should be cleared, got %+v", s.Prompt)
	}
}

func TestStrongErrorEvidenceWins(t *testing.T) {
	r, pub, rec, _, _ := newTestReconciler(t)
	r.EnsureSession("%1", "main:0.0")
	r.HandleHookEvent(hooks.Event{Type: hooks.TypePreToolUse, SessionID: "hook-1", PaneID: "%1"})

	r.HandleTerminalContent("%1", "main:0.0", "Error: request failed\nAPI Error: 500 overloaded_error", 1)

	s, _ := r.Session("%1")
	if s.Status != StatusError || s.Source != SourceTerminal {
		t.Fatalf("status = %s/%s, want error/terminal", s.Status, s.Source)
	}
	if s.LastError != "API Error: 500 overloaded_error" {
		t.Fatalf("last error = %q", s.LastError)
	}

	updates := pub.byType(protocol.TypeSessionUpdate)
	final := updates[len(updates)-1]
	if final.Payload["error"] != "API Error: 500 overloaded_error" {
		t.Fatalf("error update payload = %+v", final.Payload)
	}
	rec.mu.Lock()
	errCount := rec.stats["errors_detected"]
	rec.mu.Unlock()
	if errCount != 1 {
		t.Fatalf("errors_detected = %d, want 1", errCount)
	}
}

func TestWeakTerminalEvidenceKeepsHookState(t *testing.T) {
	r, _, _, _, transitions := newTestReconciler(t)
	r.EnsureSession("%1", "main:0.0")
	r.HandleHookEvent(hooks.Event{Type: hooks.TypePreToolUse, SessionID: "hook-1", PaneID: "%1"})
	before := len(*transitions)

	// A bare "Error:" line is a single weak signal and stays below every
	// class threshold.
	r.HandleTerminalContent("%1", "main:0.0", "some output\nError: something happened", 1)

	s, _ := r.Session("%1")
	if s.Status != StatusWorking || s.Source != SourceHook {
		t.Fatalf("status = %s/%s, want working/hook", s.Status, s.Source)
	}
	if len(*transitions) != before {
		t.Fatal("weak terminal evidence must not produce a transition")
	}
}

func TestHookErrorRecoversAfterTerminalIdle(t *testing.T) {
	r, _, _, clock, _ := newTestReconciler(t)
	r.EnsureSession("%1", "main:0.0")
	r.HandleHookEvent(hooks.Event{Type: hooks.TypePostToolUse, SessionID: "hook-1", PaneID: "%1", Success: false})

	s, _ := r.Session("%1")
	if s.Status != StatusError {
		t.Fatalf("status = %s, want error after failed tool call", s.Status)
	}

	r.HandleTerminalContent("%1", "main:0.0", "make build\nok\n$ ", 1)
	clock.Advance(11 * time.Second)
	r.Sweep()

	s, _ = r.Session("%1")
	if s.Status != StatusIdle || s.Source != SourceTimeout {
		t.Fatalf("status = %s/%s, want idle/reconciler-timeout", s.Status, s.Source)
	}
}

func TestTerminalContent_FullThenDiff(t *testing.T) {
	r, pub, _, _, _ := newTestReconciler(t)
	r.EnsureSession("%1", "main:0.0")

	lines := make([]string, 0, 21)
	for i := 0; i < 20; i++ {
		lines = append(lines, "build output line with some detail")
	}
	base := strings.Join(append(lines, "⠙ Working..."), "\n")
	next := strings.Join(append(lines, "⠹ Working..."), "\n")

	r.HandleTerminalContent("%1", "main:0.0", base, 1)
	if got := len(pub.byType(protocol.TypeTerminalOutput)); got != 1 {
		t.Fatalf("terminal_output messages = %d, want 1 (first capture is always full)", got)
	}

	r.HandleTerminalContent("%1", "main:0.0", next, 2)
	diffs := pub.byType(protocol.TypeTerminalDiff)
	if len(diffs) != 1 {
		t.Fatalf("terminal_diff messages = %d, want 1", len(diffs))
	}
	if diffs[0].Payload["seq"] != uint64(2) {
		t.Fatalf("diff seq = %v, want 2", diffs[0].Payload["seq"])
	}

	// Unchanged content produces no message at all.
	before := len(pub.byType(protocol.TypeTerminalDiff)) + len(pub.byType(protocol.TypeTerminalOutput))
	r.HandleTerminalContent("%1", "main:0.0", next, 3)
	after := len(pub.byType(protocol.TypeTerminalDiff)) + len(pub.byType(protocol.TypeTerminalOutput))
	if before != after {
		t.Fatal("unchanged content must not be re-published")
	}
}

func TestSessionEndHook_DestroysByHookID(t *testing.T) {
	r, _, rec, _, _ := newTestReconciler(t)
	r.EnsureSession("%1", "main:0.0")
	r.HandleHookEvent(hooks.Event{Type: hooks.TypeSessionStart, SessionID: "hook-1", PaneID: "%1"})

	// session_end arrives without a pane id; the hook session binding
	// resolves it.
	r.HandleHookEvent(hooks.Event{Type: hooks.TypeSessionEnd, SessionID: "hook-1"})

	if _, ok := r.Session("%1"); ok {
		t.Fatal("session should be destroyed")
	}
	if got := rec.eventsOfType("session_ended"); len(got) != 1 {
		t.Fatalf("session_ended events = %d, want 1", len(got))
	}
}

func TestHandlePaneRemoved(t *testing.T) {
	r, _, rec, _, _ := newTestReconciler(t)
	r.EnsureSession("%1", "main:0.0")
	r.HandleTerminalContent("%1", "main:0.0", "hello\n$ ", 1)

	r.HandlePaneRemoved("%1")
	if _, ok := r.Session("%1"); ok {
		t.Fatal("session should be destroyed")
	}
	if got := rec.eventsOfType("session_ended"); len(got) != 1 {
		t.Fatalf("session_ended events = %d, want 1", len(got))
	}
	// Removing the same pane again is a no-op.
	r.HandlePaneRemoved("%1")
	if got := rec.eventsOfType("session_ended"); len(got) != 1 {
		t.Fatalf("session_ended events after repeat = %d, want 1", len(got))
	}
}

func TestUnroutableHookEventDropped(t *testing.T) {
	r, pub, _, _, _ := newTestReconciler(t)
	r.HandleHookEvent(hooks.Event{Type: hooks.TypePreToolUse, SessionID: "nobody-home"})
	if len(pub.msgs) != 0 {
		t.Fatalf("unroutable event published %d messages", len(pub.msgs))
	}
	if len(r.Sessions()) != 0 {
		t.Fatal("unroutable event must not create a session")
	}
}

func TestEnsureSession_Idempotent(t *testing.T) {
	r, _, rec, _, _ := newTestReconciler(t)
	a := r.EnsureSession("%1", "main:0.0")
	b := r.EnsureSession("%1", "main:0.1")
	if a.ID != b.ID {
		t.Fatalf("session recreated: %s vs %s", a.ID, b.ID)
	}
	if b.Target != "main:0.1" {
		t.Fatalf("target not refreshed: %q", b.Target)
	}
	if got := rec.eventsOfType("session_started"); len(got) != 1 {
		t.Fatalf("session_started events = %d, want 1", len(got))
	}
}
