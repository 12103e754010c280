// Package session owns the per-pane session records and the reconciler that
// fuses hook-reported state with terminal-pattern evidence into one
// authoritative status.
package session

import (
	"time"

	"github.com/whoabuddy/claude-rpg/internal/termparse"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusWaiting Status = "waiting"
	StatusError   Status = "error"
	StatusUnknown Status = "unknown"
)

// Source names which evidence produced the current status.
type Source string

const (
	SourceHook     Source = "hook"
	SourceTerminal Source = "terminal"
	SourceTimeout  Source = "reconciler-timeout"
)

type Session struct {
	ID     string
	PaneID string
	Target string

	Status          Status
	Source          Source
	StatusChangedAt time.Time

	// Hook evidence.
	HookStatus    Status
	HookSessionID string
	LastHookAt    time.Time
	// HookChangedAt tracks when the hook-implied status last changed, as
	// opposed to when the last hook event of any kind arrived.
	HookChangedAt time.Time

	// Terminal evidence.
	TerminalStatus       Status
	TerminalConfidence   float64
	LastTerminalChangeAt time.Time

	Prompt          *termparse.Prompt
	LastError       string
	ActiveSubagents int
}

// Transition is emitted on every authoritative status change.
type Transition struct {
	PaneID    string
	SessionID string
	Target    string
	Old       Status
	New       Status
	Source    Source
	Reason    string
	At        time.Time
}

func statusFromDetection(s termparse.Status) Status {
	switch s {
	case termparse.StatusIdle:
		return StatusIdle
	case termparse.StatusWorking:
		return StatusWorking
	case termparse.StatusWaiting:
		return StatusWaiting
	case termparse.StatusError:
		return StatusError
	default:
		return StatusUnknown
	}
}
