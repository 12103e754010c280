// Package poller drives the capture pipeline: it periodically snapshots the
// tmux server, tracks pane lifecycle, and feeds changed scroll-back content
// to the session reconciler.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/whoabuddy/claude-rpg/internal/protocol"
	"github.com/whoabuddy/claude-rpg/internal/tmux"
)

// Snapshotter is the tmux-facing side of the poller.
type Snapshotter interface {
	Snapshot() ([]tmux.Window, error)
	Capture(target string, lines int) (string, error)
}

// Sessions receives pane content and lifecycle signals.
type Sessions interface {
	HandleTerminalContent(paneID, target, content string, seq uint64)
	HandlePaneRemoved(paneID string)
	Sweep()
}

type Publisher interface {
	Broadcast(msg protocol.Message)
}

// A pane must be absent from this many consecutive snapshots before it is
// declared removed; a single miss can be a transient tmux race.
const removalMisses = 2

type paneState struct {
	target      string
	kind        tmux.ProcessKind
	command     string
	misses      int
	contentHash uint64
	seq         uint64
}

type Poller struct {
	adapter   Snapshotter
	sessions  Sessions
	publisher Publisher
	logger    *slog.Logger

	interval   time.Duration
	scrollback int

	// Cycle can be driven by both the ticker and control-mode nudges.
	mu          sync.Mutex
	known       map[string]*paneState
	lastWindows []tmux.Window
}

type Options struct {
	Interval        time.Duration
	ScrollbackLines int
}

func New(adapter Snapshotter, sessions Sessions, publisher Publisher, logger *slog.Logger, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 250 * time.Millisecond
	}
	if opts.ScrollbackLines <= 0 {
		opts.ScrollbackLines = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		adapter:    adapter,
		sessions:   sessions,
		publisher:  publisher,
		logger:     logger,
		interval:   opts.Interval,
		scrollback: opts.ScrollbackLines,
		known:      map[string]*paneState{},
	}
}

// Run polls until the context is canceled. Overrunning cycles are coalesced:
// the ticker drops missed ticks, so a slow tmux server degrades the poll rate
// instead of queueing work.
func (p *Poller) Run(ctx context.Context) error {
	// Prime the snapshot cache so readers have data before the first tick.
	p.Cycle()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			p.Cycle()
			if elapsed := time.Since(start); elapsed > p.interval {
				p.logger.Debug("poll cycle overran interval", "elapsed", elapsed, "interval", p.interval)
			}
		}
	}
}

// Cycle runs one poll iteration. Exported so tests (and the control-mode
// fallback path) can drive the poller without a ticker.
func (p *Poller) Cycle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	windows, err := p.adapter.Snapshot()
	if err != nil {
		// Keep existing state; a failed snapshot says nothing about the
		// panes, so absence counters must not advance.
		p.logger.Warn("tmux snapshot failed", "error", err)
		return
	}

	p.lastWindows = windows
	p.publish(protocol.New(protocol.TypeWindows, map[string]any{"windows": windows}))

	seen := map[string]bool{}
	for _, w := range windows {
		for _, pane := range w.Panes {
			seen[pane.ID] = true
			p.observePane(pane)
		}
	}

	for id, st := range p.known {
		if seen[id] {
			continue
		}
		st.misses++
		if st.misses < removalMisses {
			continue
		}
		delete(p.known, id)
		p.logger.Info("pane removed", "pane", id, "target", st.target)
		p.publish(protocol.New(protocol.TypePaneRemoved, map[string]any{
			"paneId": id,
			"target": st.target,
		}))
		p.sessions.HandlePaneRemoved(id)
	}

	p.sessions.Sweep()
}

func (p *Poller) observePane(pane tmux.Pane) {
	st, ok := p.known[pane.ID]
	if !ok {
		st = &paneState{}
		p.known[pane.ID] = st
	}
	st.misses = 0

	if !ok || st.kind != pane.Kind || st.command != pane.Command || st.target != pane.Target {
		st.kind = pane.Kind
		st.command = pane.Command
		st.target = pane.Target
		p.publish(protocol.New(protocol.TypePaneUpdate, map[string]any{
			"paneId":  pane.ID,
			"target":  pane.Target,
			"kind":    string(pane.Kind),
			"command": pane.Command,
			"cwd":     pane.CWD,
		}))
	}

	if pane.Kind != tmux.KindInteractiveAI {
		return
	}

	content, err := p.adapter.Capture(pane.Target, p.scrollback)
	if err != nil {
		p.logger.Debug("capture failed", "pane", pane.ID, "error", err)
		return
	}
	hash := xxhash.Sum64String(content)
	if hash == st.contentHash {
		return
	}
	st.contentHash = hash
	st.seq++
	p.sessions.HandleTerminalContent(pane.ID, pane.Target, content, st.seq)
}

// Windows returns the layout from the most recent successful snapshot. HTTP
// reads are served from here so a request never execs tmux itself.
func (p *Poller) Windows() []tmux.Window {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tmux.Window, len(p.lastWindows))
	copy(out, p.lastWindows)
	return out
}

func (p *Poller) publish(msg protocol.Message) {
	if p.publisher != nil {
		p.publisher.Broadcast(msg)
	}
}
