// Package server exposes the local HTTP and websocket surface: hook ingest,
// pane control, and the streaming feed.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/whoabuddy/claude-rpg/internal/broadcast"
	"github.com/whoabuddy/claude-rpg/internal/eventstore"
	"github.com/whoabuddy/claude-rpg/internal/hooks"
	"github.com/whoabuddy/claude-rpg/internal/protocol"
	"github.com/whoabuddy/claude-rpg/internal/session"
	"github.com/whoabuddy/claude-rpg/internal/tmux"
)

// PaneController is the tmux-facing side of the control API.
type PaneController interface {
	SendText(target, text string, pressEnter bool) error
	SendKeys(target, keys string, pressEnter bool) error
	ClosePane(target string) error
	CloseWindow(windowID string) error
	CreatePane(target, cwd string) (string, error)
	CreateWindow(name, cwd, command string) (string, error)
	RenameWindow(windowID, name string) error
}

// WindowSource hands out the poller's last snapshot. Reads never exec tmux;
// the poll loop is the only writer of layout state.
type WindowSource interface {
	Windows() []tmux.Window
}

type SessionReader interface {
	Session(paneID string) (session.Session, bool)
	Sessions() []session.Session
	ClearPrompt(paneID string)
}

type HookIngest interface {
	HandleRaw(raw []byte) (hooks.Event, error)
}

type EventsReader interface {
	RecentEvents(paneID string, limit int) ([]eventstore.Event, error)
	StatsFor(entityType, entityID string) (map[string]int64, error)
}

type Clients interface {
	Add(t broadcast.Transport) string
	Remove(id, reason string)
	SendTo(id string, msg protocol.Message) bool
	MarkPong(id string)
}

type Deps struct {
	Panes    PaneController
	Windows  WindowSource
	Sessions SessionReader
	Hooks    HookIngest
	Events   EventsReader
	Clients  Clients
}

type Server struct {
	deps    Deps
	mux     *http.ServeMux
	logger  *slog.Logger
	started time.Time
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{deps: deps, mux: http.NewServeMux(), logger: logger, started: time.Now()}
	s.mux.HandleFunc("/event", s.handleHookEvent)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/windows", s.handleWindows)
	s.mux.HandleFunc("/api/windows/", s.handleWindowActions)
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/sessions/", s.handleSessionActions)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/config", s.handleConfig)
	s.mux.HandleFunc("/api/panes/", s.handlePaneActions)
	s.mux.HandleFunc("/ws", s.handleWS)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func respondError(w http.ResponseWriter, code int, errCode string, msg string) {
	writeJSON(w, code, map[string]any{
		"success": false,
		"error":   map[string]any{"code": errCode, "message": msg},
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// resolveTarget maps a pane id (%4) to its tmux target address. Targets are
// passed through untouched so callers can address panes either way.
func (s *Server) resolveTarget(param string) (string, bool) {
	if !strings.HasPrefix(param, "%") {
		return param, true
	}
	if sess, ok := s.deps.Sessions.Session(param); ok && sess.Target != "" {
		return sess.Target, true
	}
	for _, win := range s.deps.Windows.Windows() {
		for _, pane := range win.Panes {
			if pane.ID == param {
				return pane.Target, true
			}
		}
	}
	return "", false
}
