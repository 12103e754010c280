// Package hooks accepts structured reports from the shell wrapper around the
// AI tool and turns them into typed domain events. Reports arrive over an
// out-of-band path and are best-effort: field naming varies between hook
// script versions, and retries can deliver the same report twice.
package hooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type Type string

const (
	TypePreToolUse    Type = "pre_tool_use"
	TypePostToolUse   Type = "post_tool_use"
	TypeStop          Type = "stop"
	TypeUserPrompt    Type = "user_prompt_submit"
	TypeNotification  Type = "notification"
	TypeSessionStart  Type = "session_start"
	TypeSessionEnd    Type = "session_end"
	TypeSubagentStart Type = "subagent_start"
	TypeSubagentStop  Type = "subagent_stop"
)

var knownTypes = map[string]Type{
	"pretooluse":       TypePreToolUse,
	"posttooluse":      TypePostToolUse,
	"stop":             TypeStop,
	"userpromptsubmit": TypeUserPrompt,
	"userprompt":       TypeUserPrompt,
	"notification":     TypeNotification,
	"sessionstart":     TypeSessionStart,
	"sessionend":       TypeSessionEnd,
	"subagentstart":    TypeSubagentStart,
	"subagentstop":     TypeSubagentStop,
}

type Event struct {
	Type      Type
	SessionID string
	PaneID    string
	Timestamp time.Time
	ToolName  string
	// Success is meaningful for post_tool_use only; a failed tool call
	// implies an error state downstream.
	Success bool
	Payload map[string]any
}

var ErrDuplicate = errors.New("duplicate hook report")

const dedupCacheSize = 512

type Ingest struct {
	dedup  *lru.Cache[string, struct{}]
	sink   func(Event)
	logger *slog.Logger
}

func NewIngest(sink func(Event), logger *slog.Logger) (*Ingest, error) {
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	cache, err := lru.New[string, struct{}](dedupCacheSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingest{dedup: cache, sink: sink, logger: logger}, nil
}

// HandleRaw parses and ingests one JSON report.
func (i *Ingest) HandleRaw(raw []byte) (Event, error) {
	var report map[string]any
	if err := json.Unmarshal(raw, &report); err != nil {
		return Event{}, fmt.Errorf("malformed hook report: %w", err)
	}
	return i.Handle(report)
}

// Handle normalizes a report, drops duplicates, and forwards the typed event
// to the sink. The dedup key is (session, timestamp, type); the cache is
// bounded so a long-lived process cannot grow it without limit.
func (i *Ingest) Handle(report map[string]any) (Event, error) {
	rawType := pickString(report, "hook_event_name", "hookEventName", "hook_type", "hookType", "type")
	hookType, ok := normalizeType(rawType)
	if !ok {
		return Event{}, fmt.Errorf("unknown hook type %q", rawType)
	}

	evt := Event{
		Type:      hookType,
		SessionID: pickString(report, "session_id", "sessionId"),
		PaneID:    pickString(report, "pane_id", "paneId", "tmux_pane", "tmuxPane"),
		ToolName:  pickString(report, "tool_name", "toolName"),
		Timestamp: pickTimestamp(report),
		Payload:   report,
	}
	if evt.SessionID == "" {
		return Event{}, errors.New("hook report missing session id")
	}
	evt.Success = pickSuccess(report)

	key := fmt.Sprintf("%s|%d|%s", evt.SessionID, evt.Timestamp.UnixMilli(), evt.Type)
	if found, _ := i.dedup.ContainsOrAdd(key, struct{}{}); found {
		i.logger.Debug("duplicate hook report dropped", "session", evt.SessionID, "hook", evt.Type)
		return evt, ErrDuplicate
	}

	i.sink(evt)
	return evt, nil
}

func normalizeType(raw string) (Type, bool) {
	key := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.TrimSpace(raw)))
	t, ok := knownTypes[key]
	return t, ok
}

func pickString(report map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := report[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func pickTimestamp(report map[string]any) time.Time {
	for _, key := range []string{"timestamp", "ts", "time"} {
		v, ok := report[key]
		if !ok {
			continue
		}
		switch ts := v.(type) {
		case string:
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				return parsed
			}
		case float64:
			// Heuristic: values past the year 2286 in seconds are millis.
			if ts > 1e12 {
				return time.UnixMilli(int64(ts)).UTC()
			}
			return time.Unix(int64(ts), 0).UTC()
		}
	}
	return time.Now().UTC()
}

func pickSuccess(report map[string]any) bool {
	for _, key := range []string{"success", "tool_success", "toolSuccess"} {
		if v, ok := report[key]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
	}
	// Absent success flag means the tool call did not report failure.
	return true
}
