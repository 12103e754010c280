package tmux

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Exec abstracts external command invocation so the adapter can be tested
// against a fake. Every call is bounded by the exec timeout; a wedged tmux
// server must never stall a poll cycle.
type Exec interface {
	Output(name string, args ...string) ([]byte, error)
	Run(name string, args ...string) error
}

const defaultExecTimeout = 1 * time.Second

type RealExec struct {
	Timeout time.Duration
}

func (r *RealExec) Output(name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout())
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return out, fmt.Errorf("%s timed out after %s", name, r.timeout())
		}
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

func (r *RealExec) Run(name string, args ...string) error {
	_, err := r.Output(name, args...)
	return err
}

func (r *RealExec) timeout() time.Duration {
	if r == nil || r.Timeout <= 0 {
		return defaultExecTimeout
	}
	return r.Timeout
}
