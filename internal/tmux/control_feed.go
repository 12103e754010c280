package tmux

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

// lineStreamer starts a command and exposes its stdout as a reader. Tests
// substitute an in-memory stream.
type lineStreamer func(ctx context.Context, socket string) (io.ReadCloser, func() error, error)

// ControlFeed attaches to the tmux server in control mode and reports which
// panes produced output. It is a latency optimization on top of the poll
// loop: a nudge triggers an early capture cycle instead of waiting for the
// next tick, and the poll loop remains the source of truth when the control
// connection is down.
type ControlFeed struct {
	socket   string
	logger   *slog.Logger
	onOutput func(paneID string)
	stream   lineStreamer

	retryDelay time.Duration
}

func NewControlFeed(socket string, logger *slog.Logger, onOutput func(paneID string)) *ControlFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlFeed{
		socket:     socket,
		logger:     logger,
		onOutput:   onOutput,
		stream:     attachControlMode,
		retryDelay: 2 * time.Second,
	}
}

func attachControlMode(ctx context.Context, socket string) (io.ReadCloser, func() error, error) {
	args := []string{"-C", "attach"}
	if socket != "" {
		args = append([]string{"-L", socket}, args...)
	}
	cmd := exec.CommandContext(ctx, "tmux", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return stdout, cmd.Wait, nil
}

func (f *ControlFeed) Run(ctx context.Context) error {
	for {
		if err := f.attachOnce(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn("control mode connection lost, retrying", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.retryDelay):
		}
	}
}

func (f *ControlFeed) attachOnce(ctx context.Context) error {
	stdout, wait, err := f.stream(ctx, f.socket)
	if err != nil {
		return err
	}
	defer stdout.Close()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		evt, ok := ParseControlOutputLine(scanner.Text())
		if !ok {
			continue
		}
		if f.onOutput != nil {
			f.onOutput(evt.PaneID)
		}
	}
	if wait != nil {
		if werr := wait(); werr != nil {
			return werr
		}
	}
	return scanner.Err()
}
