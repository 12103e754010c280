// Package tmux wraps the tmux binary behind a narrow adapter: structured
// window/pane snapshots, scroll-back capture, and key forwarding. Nothing
// above this package shells out to tmux directly.
package tmux

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type ProcessKind string

const (
	KindInteractiveAI ProcessKind = "interactive-ai"
	KindShell         ProcessKind = "shell"
	KindOther         ProcessKind = "other-process"
	KindIdle          ProcessKind = "idle"
)

type Pane struct {
	ID      string      `json:"id"`
	Target  string      `json:"target"`
	Kind    ProcessKind `json:"kind"`
	Command string      `json:"command"`
	CWD     string      `json:"cwd"`
	PID     int         `json:"pid"`
}

type Window struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
	Panes  []Pane `json:"panes"`
}

type Adapter struct {
	exec       Exec
	tmuxSocket string
}

func NewAdapter(e Exec) *Adapter {
	return &Adapter{exec: e}
}

func NewAdapterWithSocket(e Exec, socket string) *Adapter {
	return &Adapter{exec: e, tmuxSocket: socket}
}

const snapshotFormat = "#{window_id}\t#{window_name}\t#{window_active}\t#{pane_id}\t#{session_name}:#{window_index}.#{pane_index}\t#{pane_current_command}\t#{pane_current_path}\t#{pane_pid}\t#{pane_dead}"

// Snapshot enumerates every window and pane on the server in one tmux call,
// then classifies each pane's foreground process from a single ps listing.
func (a *Adapter) Snapshot() ([]Window, error) {
	out, err := a.exec.Output("tmux", a.withSocket("list-panes", "-a", "-F", snapshotFormat)...)
	if err != nil {
		return nil, err
	}
	windows, panePIDs := parseSnapshot(string(out))
	if len(panePIDs) > 0 {
		table := a.processTable()
		for wi := range windows {
			for pi := range windows[wi].Panes {
				pane := &windows[wi].Panes[pi]
				if pane.Kind == KindIdle {
					continue
				}
				pane.Kind, pane.Command = classifyPane(pane.PID, pane.Command, table)
			}
		}
	}
	return windows, nil
}

func parseSnapshot(raw string) ([]Window, []int) {
	var windows []Window
	index := map[string]int{}
	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 9 {
			continue
		}
		pid, _ := strconv.Atoi(fields[7])
		pane := Pane{
			ID:      fields[3],
			Target:  fields[4],
			Command: fields[5],
			CWD:     fields[6],
			PID:     pid,
		}
		if fields[8] == "1" || strings.TrimSpace(pane.Command) == "" {
			pane.Kind = KindIdle
		} else {
			pane.Kind = KindOther
		}
		if pid > 0 {
			pids = append(pids, pid)
		}
		wi, ok := index[fields[0]]
		if !ok {
			windows = append(windows, Window{ID: fields[0], Name: fields[1], Active: fields[2] == "1"})
			wi = len(windows) - 1
			index[fields[0]] = wi
		}
		windows[wi].Panes = append(windows[wi].Panes, pane)
	}
	return windows, pids
}

// Capture returns the trailing lines of a pane's scroll-back. Failures come
// back as errors; the caller decides whether to skip the cycle.
func (a *Adapter) Capture(target string, lines int) (string, error) {
	if lines <= 0 {
		lines = 30
	}
	start := fmt.Sprintf("-%d", lines)
	out, err := a.exec.Output("tmux", a.withSocket("capture-pane", "-p", "-t", target, "-S", start, "-E", "-")...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// SendKeys forwards an opaque key sequence (tmux key names such as C-c or
// Enter) to a pane.
func (a *Adapter) SendKeys(target, keys string, pressEnter bool) error {
	args := a.withSocket("send-keys", "-t", target, keys)
	if err := a.exec.Run("tmux", args...); err != nil {
		return err
	}
	if pressEnter {
		return a.exec.Run("tmux", a.withSocket("send-keys", "-t", target, "Enter")...)
	}
	return nil
}

const literalSendMaxLen = 100

// SendText delivers free text to a pane. Short ASCII-safe strings go through
// the literal send path; anything else is staged in a temp file and pasted
// via a tmux buffer so multi-line and unicode input survive intact.
func (a *Adapter) SendText(target, text string, pressEnter bool) error {
	if isSimpleText(text) {
		if err := a.exec.Run("tmux", a.withSocket("send-keys", "-l", "-t", target, text)...); err != nil {
			return err
		}
	} else if err := a.pasteViaBuffer(target, text); err != nil {
		return err
	}
	if pressEnter {
		return a.exec.Run("tmux", a.withSocket("send-keys", "-t", target, "Enter")...)
	}
	return nil
}

func (a *Adapter) pasteViaBuffer(target, text string) error {
	tmp, err := os.CreateTemp("", "claude-rpg-paste-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	buffer := "claude-rpg-input"
	if err := a.exec.Run("tmux", a.withSocket("load-buffer", "-b", buffer, tmp.Name())...); err != nil {
		return err
	}
	if err := a.exec.Run("tmux", a.withSocket("paste-buffer", "-d", "-b", buffer, "-t", target)...); err != nil {
		return err
	}
	return nil
}

func isSimpleText(text string) bool {
	if len(text) >= literalSendMaxLen {
		return false
	}
	for _, r := range text {
		if r > 126 || r < 32 {
			return false
		}
		switch r {
		case ';', '"', '\'', '\\', '$', '`':
			return false
		}
	}
	return true
}

func (a *Adapter) ClosePane(target string) error {
	return a.exec.Run("tmux", a.withSocket("kill-pane", "-t", target)...)
}

func (a *Adapter) CloseWindow(windowID string) error {
	return a.exec.Run("tmux", a.withSocket("kill-window", "-t", windowID)...)
}

const paneTargetFormat = "#{session_name}:#{window_index}.#{pane_index}"

// CreatePane splits the target pane horizontally and returns the new pane's
// target address.
func (a *Adapter) CreatePane(target, cwd string) (string, error) {
	args := []string{"split-window", "-h", "-t", target}
	if strings.TrimSpace(cwd) != "" {
		args = append(args, "-c", cwd)
	}
	args = append(args, "-P", "-F", paneTargetFormat)
	out, err := a.exec.Output("tmux", a.withSocket(args...)...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// CreateWindow opens a new window, optionally running a command in it.
func (a *Adapter) CreateWindow(name, cwd, command string) (string, error) {
	args := []string{"new-window", "-P", "-F", paneTargetFormat}
	if strings.TrimSpace(name) != "" {
		args = append(args, "-n", name)
	}
	if strings.TrimSpace(cwd) != "" {
		args = append(args, "-c", cwd)
	}
	if strings.TrimSpace(command) != "" {
		args = append(args, command)
	}
	out, err := a.exec.Output("tmux", a.withSocket(args...)...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (a *Adapter) RenameWindow(windowID, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("window name is required")
	}
	return a.exec.Run("tmux", a.withSocket("rename-window", "-t", windowID, name)...)
}

func (a *Adapter) SocketName() string {
	if a == nil {
		return ""
	}
	return strings.TrimSpace(a.tmuxSocket)
}

func (a *Adapter) withSocket(args ...string) []string {
	if a.tmuxSocket == "" {
		return args
	}
	return append([]string{"-L", a.tmuxSocket}, args...)
}
