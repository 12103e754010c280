package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/whoabuddy/claude-rpg/internal/config"
	"github.com/whoabuddy/claude-rpg/internal/hooks"
)

const maxHookBodyBytes = 1 << 20

// handleHookEvent ingests one report from the hook scripts. Duplicates are
// acknowledged without re-processing so retrying scripts stay simple.
func (s *Server) handleHookEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxHookBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "PROCESSING_ERROR", err.Error())
		return
	}
	evt, err := s.deps.Hooks.HandleRaw(body)
	if errors.Is(err, hooks.ErrDuplicate) {
		respondOK(w, map[string]any{"duplicate": true})
		return
	}
	if err != nil {
		s.logger.Warn("hook report rejected", "error", err)
		respondError(w, http.StatusBadRequest, "PROCESSING_ERROR", err.Error())
		return
	}
	respondOK(w, map[string]any{"hook": string(evt.Type), "sessionId": evt.SessionID})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := s.deps.Events.RecentEvents(r.URL.Query().Get("pane"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "EVENTS_LOAD_FAILED", err.Error())
		return
	}
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"id":        e.ID,
			"paneId":    e.PaneID,
			"sessionId": e.SessionID,
			"type":      e.EventType,
			"payload":   e.PayloadJSON,
			"createdAt": e.CreatedAt,
		})
	}
	respondOK(w, out)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	sessions := s.deps.Sessions.Sessions()
	out := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		entry := map[string]any{
			"sessionId":       sess.ID,
			"paneId":          sess.PaneID,
			"target":          sess.Target,
			"status":          string(sess.Status),
			"source":          string(sess.Source),
			"statusChangedAt": sess.StatusChangedAt,
			"activeSubagents": sess.ActiveSubagents,
		}
		if sess.Prompt != nil {
			entry["prompt"] = sess.Prompt
		}
		if sess.LastError != "" {
			entry["lastError"] = sess.LastError
		}
		out = append(out, entry)
	}
	respondOK(w, out)
}

func (s *Server) handleSessionActions(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "stats" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
		return
	}
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	sessionID := parts[0]
	stats, err := s.deps.Events.StatsFor("session", sessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STATS_LOAD_FAILED", err.Error())
		return
	}
	respondOK(w, map[string]any{"sessionId": sessionID, "stats": stats})
}

// handleConfig reports the effective configuration. Reads go through the
// cached accessor, so edits to config.toml show up here within its TTL.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	cfg := config.GetConfig()
	respondOK(w, map[string]any{
		"port":                cfg.Port,
		"dataDir":             cfg.DataDir,
		"logLevel":            cfg.LogLevel,
		"tmuxSocket":          cfg.TmuxSocket,
		"pollIntervalMs":      int64(cfg.PollInterval / time.Millisecond),
		"heartbeatIntervalMs": int64(cfg.HeartbeatInterval / time.Millisecond),
		"backpressureHigh":    cfg.BackpressureHigh,
		"backpressureLow":     cfg.BackpressureLow,
		"eventsRetentionDays": cfg.EventsRetentionDays,
		"scrollbackLines":     cfg.ScrollbackLines,
		"patternVersion":      cfg.PatternVersion,
		"controlMode":         cfg.ControlMode,
	})
}
