package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whoabuddy/claude-rpg/internal/hooks"
	"github.com/whoabuddy/claude-rpg/internal/linediff"
	"github.com/whoabuddy/claude-rpg/internal/protocol"
	"github.com/whoabuddy/claude-rpg/internal/termparse"
)

// Publisher is the broadcaster-facing side of the reconciler.
type Publisher interface {
	Broadcast(msg protocol.Message)
}

// Recorder is the event-store-facing side. Implementations must not block
// reconciliation on I/O failures; the in-memory state is the source of truth.
type Recorder interface {
	RecordEvent(paneID, sessionID, eventType string, payload map[string]any)
	IncrStat(entityType, entityID, statPath string, delta int64)
}

const (
	// A hook event this recent vetoes timeout-based downgrades.
	hookPrecedenceWindow = 5 * time.Second
	terminalIdleWindow   = 10 * time.Second
	hookStaleWindow      = 15 * time.Second
	// Diffs are only worth sending when meaningfully smaller than the
	// full snapshot.
	diffSizeRatio = 0.8
)

type Reconciler struct {
	parser    *termparse.Parser
	publisher Publisher
	recorder  Recorder
	logger    *slog.Logger
	nowFunc   func() time.Time

	mu           sync.Mutex
	sessions     map[string]*Session // by pane id
	byHookID     map[string]string   // hook session id -> pane id
	lastSent     map[string]string   // last terminal content pushed to clients
	onTransition func(Transition)
}

// SetTransitionHook registers an observer for status changes. Must be called
// before the reconciler starts receiving inputs.
func (r *Reconciler) SetTransitionHook(fn func(Transition)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTransition = fn
}

func NewReconciler(parser *termparse.Parser, publisher Publisher, recorder Recorder, logger *slog.Logger) *Reconciler {
	if parser == nil {
		parser = termparse.NewParser(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		parser:    parser,
		publisher: publisher,
		recorder:  recorder,
		logger:    logger,
		nowFunc:   time.Now,
		sessions:  map[string]*Session{},
		byHookID:  map[string]string{},
		lastSent:  map[string]string{},
	}
}

// EnsureSession creates a session for a pane the poller classified as an
// interactive AI tool. Idempotent.
func (r *Reconciler) EnsureSession(paneID, target string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLocked(paneID, target)
}

func (r *Reconciler) ensureLocked(paneID, target string) *Session {
	if s, ok := r.sessions[paneID]; ok {
		if target != "" {
			s.Target = target
		}
		return s
	}
	now := r.nowFunc()
	s := &Session{
		ID:              uuid.NewString(),
		PaneID:          paneID,
		Target:          target,
		Status:          StatusUnknown,
		HookStatus:      StatusUnknown,
		TerminalStatus:  StatusUnknown,
		StatusChangedAt: now,
	}
	r.sessions[paneID] = s
	r.record(s, "session_started", map[string]any{"target": target})
	r.incr("session", s.ID, "sessions_started", 1)
	return s
}

func (r *Reconciler) Session(paneID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[paneID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (r *Reconciler) Sessions() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}

// HandleHookEvent applies one typed hook event. Unroutable events (no pane
// binding yet and none in the report) are dropped with a debug log.
func (r *Reconciler) HandleHookEvent(evt hooks.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	paneID := evt.PaneID
	if paneID == "" {
		paneID = r.byHookID[evt.SessionID]
	}
	if paneID == "" {
		r.logger.Debug("hook event without pane binding", "session", evt.SessionID, "hook", evt.Type)
		return
	}

	if evt.Type == hooks.TypeSessionEnd {
		r.destroyLocked(paneID, "session_end hook")
		return
	}

	s := r.ensureLocked(paneID, "")
	s.HookSessionID = evt.SessionID
	r.byHookID[evt.SessionID] = paneID
	now := r.nowFunc()
	s.LastHookAt = now

	switch evt.Type {
	case hooks.TypeSubagentStart:
		s.ActiveSubagents++
		return
	case hooks.TypeSubagentStop:
		if s.ActiveSubagents > 0 {
			s.ActiveSubagents--
		}
		return
	}

	implied := impliedStatus(evt)
	if implied != s.HookStatus {
		s.HookStatus = implied
		s.HookChangedAt = now
	}
	if evt.Type == hooks.TypeStop {
		// Claude finished a turn; any pending prompt is moot.
		s.ActiveSubagents = 0
		s.Prompt = nil
	}

	r.reconcileLocked(s, fmt.Sprintf("hook %s", evt.Type))
}

func impliedStatus(evt hooks.Event) Status {
	switch evt.Type {
	case hooks.TypePreToolUse, hooks.TypeUserPrompt:
		return StatusWorking
	case hooks.TypePostToolUse:
		if evt.Success {
			return StatusWorking
		}
		return StatusError
	case hooks.TypeStop:
		return StatusIdle
	case hooks.TypeSessionStart:
		return StatusIdle
	case hooks.TypeNotification:
		// Notifications fire when the tool needs the operator (permission
		// requests, long-idle nudges).
		return StatusWaiting
	default:
		return StatusUnknown
	}
}

// HandleTerminalContent applies one captured scroll-back change for a
// session pane: it refreshes the terminal evidence, reconciles, and pushes
// either a diff or the full content to clients.
func (r *Reconciler) HandleTerminalContent(paneID, target, content string, seq uint64) {
	det := r.parser.Detect(content)

	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.ensureLocked(paneID, target)
	now := r.nowFunc()
	s.LastTerminalChangeAt = now
	s.TerminalStatus = statusFromDetection(det.Status)
	s.TerminalConfidence = det.Confidence
	if det.Prompt != nil {
		if s.Prompt == nil || s.Prompt.Hash != det.Prompt.Hash {
			s.Prompt = det.Prompt
			r.incr("session", s.ID, "prompts_detected", 1)
		}
	}
	if det.ErrorText != "" {
		s.LastError = det.ErrorText
	}

	r.reconcileLocked(s, fmt.Sprintf("terminal %s (%.2f)", det.Status, det.Confidence))
	r.publishContentLocked(s, content, seq)
}

// Sweep re-evaluates every session. The timeout rules depend on wall-clock
// durations, so they must fire even when no new evidence arrives.
func (r *Reconciler) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		r.reconcileLocked(s, "periodic sweep")
	}
}

// reconcileLocked runs the decision rules and applies any status change.
func (r *Reconciler) reconcileLocked(s *Session, trigger string) {
	status, source, reason := r.decide(s)
	if status == s.Status {
		return
	}
	old := s.Status
	now := r.nowFunc()
	s.Status = status
	s.Source = source
	s.StatusChangedAt = now

	r.logger.Info("session status change",
		"pane", s.PaneID, "old", old, "new", status, "source", source, "reason", reason, "trigger", trigger)

	payload := map[string]any{
		"paneId":    s.PaneID,
		"sessionId": s.ID,
		"target":    s.Target,
		"oldStatus": string(old),
		"source":    string(source),
		"reason":    reason,
	}
	if s.Prompt != nil && status == StatusWaiting {
		payload["prompt"] = s.Prompt
	}
	if s.LastError != "" && status == StatusError {
		payload["error"] = s.LastError
	}
	r.publish(protocol.NewSessionUpdate(string(status), payload))
	r.record(s, "status_change", map[string]any{
		"old": string(old), "new": string(status), "source": string(source), "reason": reason,
	})
	r.incr("session", s.ID, "transitions."+string(status), 1)
	if status == StatusError {
		r.incr("session", s.ID, "errors_detected", 1)
	}
	if r.onTransition != nil {
		r.onTransition(Transition{
			PaneID:    s.PaneID,
			SessionID: s.ID,
			Target:    s.Target,
			Old:       old,
			New:       status,
			Source:    source,
			Reason:    reason,
			At:        now,
		})
	}
}

// decide implements the ordered decision rules. The first rule whose guard
// holds wins.
func (r *Reconciler) decide(s *Session) (Status, Source, string) {
	now := r.nowFunc()
	hook := s.HookStatus
	term := s.TerminalStatus
	conf := s.TerminalConfidence
	sinceTerm := now.Sub(s.LastTerminalChangeAt)
	sinceHook := now.Sub(s.LastHookAt)
	sinceHookChange := now.Sub(s.HookChangedAt)

	// The terminal sees a prompt the hooks cannot know about.
	if hook == StatusWorking && term == StatusWaiting && conf > 0.7 {
		return StatusWaiting, SourceTerminal, "terminal shows prompt while hook reports working"
	}
	// The prompt was answered out-of-band.
	if hook == StatusWaiting && term != StatusWaiting && conf > 0.6 {
		next := term
		if next == StatusUnknown {
			next = StatusWorking
		}
		s.Prompt = nil
		return next, SourceTerminal, "terminal no longer shows prompt"
	}
	// Strong error evidence wins outright.
	if term == StatusError && conf > 0.75 {
		return StatusError, SourceTerminal, "terminal shows error"
	}
	// Hook said error but the terminal recovered.
	if hook == StatusError && (term == StatusWorking || term == StatusIdle) &&
		conf > 0.6 && sinceTerm >= terminalIdleWindow {
		return term, SourceTimeout, fmt.Sprintf("terminal %s for %ds after hook error", term, int(sinceTerm.Seconds()))
	}
	// The Stop hook was likely missed.
	if hook == StatusWorking && term == StatusIdle && conf > 0.6 &&
		sinceTerm > terminalIdleWindow && sinceHook > hookPrecedenceWindow && s.ActiveSubagents == 0 {
		return StatusIdle, SourceTimeout, fmt.Sprintf("terminal idle for %ds with no hook activity", int(sinceTerm.Seconds()))
	}
	// Hook stuck on working with no terminal signal at all.
	if hook == StatusWorking && term == StatusUnknown &&
		sinceHookChange > hookStaleWindow && sinceHook > hookPrecedenceWindow && s.ActiveSubagents == 0 {
		return StatusIdle, SourceTimeout, fmt.Sprintf("hook working for %ds with no terminal evidence", int(sinceHookChange.Seconds()))
	}
	// Terminal evidence too weak to override hooks.
	if conf < 0.5 {
		return hook, SourceHook, "terminal confidence too low"
	}
	// Terminal evidence strong enough to override hooks.
	if conf > 0.8 && term != StatusUnknown {
		return term, SourceTerminal, "high-confidence terminal detection"
	}
	// Default to the hooks.
	return hook, SourceHook, "hook state"
}

// publishContentLocked pushes the terminal change as a diff when that is
// cheaper than resending the whole snapshot.
func (r *Reconciler) publishContentLocked(s *Session, content string, seq uint64) {
	prev := r.lastSent[s.PaneID]
	diff := linediff.Generate(prev, content)
	if len(diff.Ops) == 0 {
		return
	}
	r.lastSent[s.PaneID] = content

	if prev != "" && float64(diff.EstimatedSize) < diffSizeRatio*float64(len(content)) {
		r.publish(protocol.New(protocol.TypeTerminalDiff, map[string]any{
			"paneId": s.PaneID,
			"target": s.Target,
			"ops":    diff.Ops,
			"seq":    seq,
		}))
		return
	}
	r.publish(protocol.New(protocol.TypeTerminalOutput, map[string]any{
		"paneId":  s.PaneID,
		"target":  s.Target,
		"content": content,
		"seq":     seq,
	}))
}

// ClearPrompt dismisses a pending prompt, e.g. after the operator answered
// it through the control API.
func (r *Reconciler) ClearPrompt(paneID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[paneID]; ok {
		s.Prompt = nil
	}
}

// HandlePaneRemoved destroys the session bound to a vanished pane.
func (r *Reconciler) HandlePaneRemoved(paneID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyLocked(paneID, "pane removed")
}

func (r *Reconciler) destroyLocked(paneID, reason string) {
	s, ok := r.sessions[paneID]
	if !ok {
		return
	}
	delete(r.sessions, paneID)
	delete(r.lastSent, paneID)
	if s.HookSessionID != "" {
		delete(r.byHookID, s.HookSessionID)
	}
	r.record(s, "session_ended", map[string]any{"reason": reason})
	r.incr("session", s.ID, "sessions_ended", 1)
	r.logger.Info("session destroyed", "pane", paneID, "reason", reason)
}

func (r *Reconciler) publish(msg protocol.Message) {
	if r.publisher != nil {
		r.publisher.Broadcast(msg)
	}
}

func (r *Reconciler) record(s *Session, eventType string, payload map[string]any) {
	if r.recorder != nil {
		r.recorder.RecordEvent(s.PaneID, s.ID, eventType, payload)
	}
}

func (r *Reconciler) incr(entityType, entityID, statPath string, delta int64) {
	if r.recorder != nil {
		r.recorder.IncrStat(entityType, entityID, statPath, delta)
	}
}
