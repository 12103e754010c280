package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

// signalKeys maps the POSIX signal names the UI offers to the tmux key
// sequences that raise them in the pane's foreground process.
var signalKeys = map[string]string{
	"SIGINT":  "C-c",
	"SIGQUIT": "C-\\",
	"SIGTSTP": "C-z",
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	windows := s.deps.Windows.Windows()
	out := make([]map[string]any, 0, len(windows))
	for _, win := range windows {
		panes := make([]map[string]any, 0, len(win.Panes))
		for _, pane := range win.Panes {
			entry := map[string]any{
				"id":      pane.ID,
				"target":  pane.Target,
				"kind":    string(pane.Kind),
				"command": pane.Command,
				"cwd":     pane.CWD,
			}
			if sess, ok := s.deps.Sessions.Session(pane.ID); ok {
				entry["sessionId"] = sess.ID
				entry["status"] = string(sess.Status)
				if sess.Prompt != nil {
					entry["prompt"] = sess.Prompt
				}
			}
			panes = append(panes, entry)
		}
		out = append(out, map[string]any{
			"id":     win.ID,
			"name":   win.Name,
			"active": win.Active,
			"panes":  panes,
		})
	}
	respondOK(w, out)
}

func (s *Server) handlePaneActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/panes/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
		return
	}
	paneID, action := parts[0], parts[1]
	target, ok := s.resolveTarget(paneID)
	if !ok {
		respondError(w, http.StatusNotFound, "PANE_NOT_FOUND", "pane "+paneID+" not found")
		return
	}

	switch action {
	case "prompt":
		s.handlePanePrompt(w, r, target)
	case "signal":
		s.handlePaneSignal(w, r, target)
	case "refresh":
		// Ctrl-L forces the program to repaint, which also resyncs our
		// next capture.
		if err := s.deps.Panes.SendKeys(target, "C-l", false); err != nil {
			respondError(w, http.StatusInternalServerError, "SEND_FAILED", err.Error())
			return
		}
		respondOK(w, map[string]any{"target": target})
	case "dismiss":
		// Dismiss only hides the prompt in our state; the pane itself is
		// left alone so the tool keeps waiting for a real answer.
		s.deps.Sessions.ClearPrompt(paneID)
		respondOK(w, map[string]any{"target": target})
	case "close":
		if err := s.deps.Panes.ClosePane(target); err != nil {
			respondError(w, http.StatusInternalServerError, "CLOSE_FAILED", err.Error())
			return
		}
		respondOK(w, map[string]any{"target": target})
	default:
		respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown pane action "+action)
	}
}

func (s *Server) handlePanePrompt(w http.ResponseWriter, r *http.Request, target string) {
	var req struct {
		Text       string `json:"text"`
		PressEnter *bool  `json:"pressEnter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "INVALID_TEXT", "text is required")
		return
	}
	pressEnter := true
	if req.PressEnter != nil {
		pressEnter = *req.PressEnter
	}
	if err := s.deps.Panes.SendText(target, req.Text, pressEnter); err != nil {
		respondError(w, http.StatusInternalServerError, "SEND_FAILED", err.Error())
		return
	}
	respondOK(w, map[string]any{"target": target})
}

func (s *Server) handlePaneSignal(w http.ResponseWriter, r *http.Request, target string) {
	var req struct {
		Signal string `json:"signal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	keys, ok := signalKeys[strings.ToUpper(strings.TrimSpace(req.Signal))]
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_SIGNAL", "signal must be one of SIGINT, SIGQUIT, SIGTSTP")
		return
	}
	if err := s.deps.Panes.SendKeys(target, keys, false); err != nil {
		respondError(w, http.StatusInternalServerError, "SEND_FAILED", err.Error())
		return
	}
	respondOK(w, map[string]any{"target": target, "keys": keys})
}

func (s *Server) handleWindowActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/windows/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
		return
	}
	windowID, action := parts[0], parts[1]

	switch action {
	case "new-pane":
		s.handleWindowNewPane(w, r, windowID, "")
	case "new-claude":
		s.handleWindowNewPane(w, r, windowID, "claude")
	case "rename":
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
			return
		}
		if err := s.deps.Panes.RenameWindow(windowID, strings.TrimSpace(req.Name)); err != nil {
			respondError(w, http.StatusBadRequest, "RENAME_FAILED", err.Error())
			return
		}
		respondOK(w, map[string]any{"windowId": windowID, "name": req.Name})
	case "close":
		if err := s.deps.Panes.CloseWindow(windowID); err != nil {
			respondError(w, http.StatusInternalServerError, "CLOSE_FAILED", err.Error())
			return
		}
		respondOK(w, map[string]any{"windowId": windowID})
	default:
		respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown window action "+action)
	}
}

func (s *Server) handleWindowNewPane(w http.ResponseWriter, r *http.Request, windowID, command string) {
	var req struct {
		CWD string `json:"cwd"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
			return
		}
	}
	target, err := s.deps.Panes.CreatePane(windowID, req.CWD)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "PANE_CREATE_FAILED", err.Error())
		return
	}
	if command != "" {
		if err := s.deps.Panes.SendText(target, command, true); err != nil {
			respondError(w, http.StatusInternalServerError, "COMMAND_START_FAILED", err.Error())
			return
		}
	}
	respondOK(w, map[string]any{"target": target})
}
