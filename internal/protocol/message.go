// Package protocol defines the wire-level messages pushed to connected
// viewers. Every message is a flat JSON object discriminated by "type".
package protocol

import "encoding/json"

type Type string

const (
	TypeConnected           Type = "connected"
	TypeWindows             Type = "windows"
	TypePaneUpdate          Type = "pane_update"
	TypePaneRemoved         Type = "pane_removed"
	TypeTerminalOutput      Type = "terminal_output"
	TypeTerminalDiff        Type = "terminal_diff"
	TypeSessionUpdate       Type = "session_update"
	TypeEvent               Type = "event"
	TypeCompanionUpdate     Type = "companion_update"
	TypeXPGain              Type = "xp_gain"
	TypeAchievementUnlocked Type = "achievement_unlocked"
	TypePing                Type = "ping"
	TypePong                Type = "pong"
	TypeDebug               Type = "debug"
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

type Message struct {
	Type Type
	// Status carries the session status for session_update messages; it is
	// what makes waiting/error transitions high priority.
	Status  string
	Payload map[string]any
}

func New(t Type, payload map[string]any) Message {
	return Message{Type: t, Payload: payload}
}

func NewSessionUpdate(status string, payload map[string]any) Message {
	return Message{Type: TypeSessionUpdate, Status: status, Payload: payload}
}

// Priority is derived from the type tag, never stored. A slow consumer keeps
// receiving high-priority messages while paused; normal and low are dropped.
func (m Message) Priority() Priority {
	switch m.Type {
	case TypeConnected, TypePing, TypePong:
		return PriorityHigh
	case TypeSessionUpdate:
		if m.Status == "waiting" || m.Status == "error" {
			return PriorityHigh
		}
		return PriorityNormal
	case TypeDebug, TypeEvent:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Encode serializes to the canonical wire form: the payload fields plus the
// "type" discriminator at the top level.
func (m Message) Encode() ([]byte, error) {
	out := make(map[string]any, len(m.Payload)+2)
	for k, v := range m.Payload {
		out[k] = v
	}
	out["type"] = string(m.Type)
	if m.Type == TypeSessionUpdate && m.Status != "" {
		out["status"] = m.Status
	}
	return json.Marshal(out)
}
