package tmux

import (
	"path/filepath"
	"strconv"
	"strings"
)

type processInfo struct {
	pid  int
	ppid int
	comm string
	args string
}

type processTable struct {
	byPID    map[int]processInfo
	children map[int][]int
}

// interactive AI coding tools we recognise in a pane's process tree. Checked
// against both the command name and the script argument, since claude and
// codex usually show up as a node process.
var aiToolNames = map[string]struct{}{
	"claude":   {},
	"codex":    {},
	"aider":    {},
	"goose":    {},
	"gemini":   {},
	"amp":      {},
	"opencode": {},
	"cursor":   {},
}

func (a *Adapter) processTable() processTable {
	table := processTable{byPID: map[int]processInfo{}, children: map[int][]int{}}
	out, err := a.exec.Output("ps", "-axo", "pid=,ppid=,comm=,args=")
	if err != nil {
		return table
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		pid, err1 := strconv.Atoi(fields[0])
		ppid, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			continue
		}
		info := processInfo{pid: pid, ppid: ppid, comm: normalizeProcName(fields[2])}
		if len(fields) > 3 {
			info.args = strings.Join(fields[3:], " ")
		}
		table.byPID[pid] = info
		table.children[ppid] = append(table.children[ppid], pid)
	}
	return table
}

// classifyPane walks the pane's process tree to the deepest foreground
// process and decides what kind of thing is running there.
func classifyPane(panePID int, currentCommand string, table processTable) (ProcessKind, string) {
	fg, ok := foregroundProcess(panePID, table)
	if !ok {
		// No ps data; fall back to tmux's current command alone.
		return kindForProcess(currentCommand, ""), currentCommand
	}
	name := displayName(fg)
	return kindForProcess(fg.comm, fg.args), name
}

// foregroundProcess returns the deepest descendant of the pane's root shell,
// preferring the most recently spawned leaf (highest pid).
func foregroundProcess(panePID int, table processTable) (processInfo, bool) {
	root, ok := table.byPID[panePID]
	if !ok {
		return processInfo{}, false
	}
	best := root
	var visit func(pid int)
	visit = func(pid int) {
		for _, child := range table.children[pid] {
			info := table.byPID[child]
			if info.pid > best.pid || best.pid == root.pid {
				best = info
			}
			visit(child)
		}
	}
	visit(panePID)
	return best, true
}

func kindForProcess(comm, args string) ProcessKind {
	comm = normalizeProcName(comm)
	if comm == "" {
		return KindIdle
	}
	if isAITool(comm, args) {
		return KindInteractiveAI
	}
	if isShellProcess(comm) {
		return KindShell
	}
	return KindOther
}

func isAITool(comm, args string) bool {
	return aiToolName(comm, args) != ""
}

// aiToolName finds a recognised tool name in the command or any path segment
// of its arguments; claude installs as .../claude/cli.js run by node.
func aiToolName(comm, args string) string {
	if _, ok := aiToolNames[strings.ToLower(comm)]; ok {
		return strings.ToLower(comm)
	}
	for _, token := range strings.Fields(strings.ToLower(args)) {
		for _, segment := range strings.Split(token, "/") {
			segment = strings.TrimSuffix(segment, filepath.Ext(segment))
			if _, ok := aiToolNames[segment]; ok {
				return segment
			}
		}
	}
	return ""
}

func isShellProcess(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sh", "bash", "zsh", "fish", "dash", "ksh", "tcsh", "csh", "login":
		return true
	default:
		return false
	}
}

// displayName prefers the recognised tool name over a generic runtime like
// node or python.
func displayName(p processInfo) string {
	if name := aiToolName(p.comm, p.args); name != "" {
		return name
	}
	return p.comm
}

func normalizeProcName(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	base := filepath.Base(raw)
	if base == "." || base == "/" {
		return raw
	}
	return base
}
