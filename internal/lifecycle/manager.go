package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrShutdownTimeout marks a shutdown handler that exceeded its budget.
// main treats it as a fatal condition and exits non-zero.
var ErrShutdownTimeout = errors.New("shutdown handler timed out")

const shutdownHandlerBudget = 10 * time.Second

type runJob struct {
	name string
	run  func(context.Context) error
}

type shutdownJob struct {
	name     string
	priority int
	run      func(context.Context) error
}

type Manager struct {
	mu           sync.Mutex
	runJobs      []runJob
	shutdownJobs []shutdownJob
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runJobs = append(m.runJobs, runJob{name: name, run: fn})
	m.mu.Unlock()
}

// AddShutdown registers a teardown handler. Handlers run in ascending
// priority order; lower numbers stop first (streaming before the poller,
// the event store last).
func (m *Manager) AddShutdown(name string, priority int, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdownJobs = append(m.shutdownJobs, shutdownJob{name: name, priority: priority, run: fn})
	m.mu.Unlock()
}

// AddComponent registers a run loop whose stop must be ordered among the
// shutdown handlers. The loop gets its own context that stays alive until its
// shutdown priority is reached; the shared run context only controls when the
// manager stops waiting on it.
func (m *Manager) AddComponent(name string, priority int, run func(context.Context) error) {
	if run == nil {
		return
	}
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var reported atomic.Bool

	m.AddRun(name, func(runCtx context.Context) error {
		go func() { done <- run(ctx) }()
		select {
		case <-runCtx.Done():
			return nil
		case err := <-done:
			// The loop ended on its own. Surface the error here and keep it
			// buffered so the shutdown handler does not block.
			stop()
			reported.Store(true)
			done <- err
			return err
		}
	})
	m.AddShutdown(name, priority, func(shutdownCtx context.Context) error {
		stop()
		select {
		case err := <-done:
			done <- err
			if reported.Load() || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case <-shutdownCtx.Done():
			return ErrShutdownTimeout
		}
	})
}

func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	stopSignal := func() {}
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		stopSignal = stop
	}
	defer stopSignal()

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	runJobs := m.snapshotRunJobs()
	shutdownJobs := m.snapshotShutdownJobs()

	errCh := make(chan error, len(runJobs))
	var wg sync.WaitGroup
	for _, job := range runJobs {
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := job.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", job.name, err)
				cancelRuns()
			}
		}()
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		cancelRuns()
	case err := <-errCh:
		runErr = err
		cancelRuns()
	case <-doneCh:
	}

	<-doneCh

	return errors.Join(runErr, m.runShutdown(shutdownJobs))
}

func (m *Manager) runShutdown(jobs []shutdownJob) error {
	var shutdownErr error
	for _, job := range jobs {
		err := runWithBudget(job, shutdownHandlerBudget)
		if err != nil && !errors.Is(err, context.Canceled) {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("%s: %w", job.name, err))
		}
	}
	return shutdownErr
}

func runWithBudget(job shutdownJob, budget time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- job.run(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ErrShutdownTimeout
	}
}

func (m *Manager) snapshotRunJobs() []runJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]runJob, len(m.runJobs))
	copy(out, m.runJobs)
	return out
}

func (m *Manager) snapshotShutdownJobs() []shutdownJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]shutdownJob, len(m.shutdownJobs))
	copy(out, m.shutdownJobs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].priority < out[j].priority })
	return out
}
