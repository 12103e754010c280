package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/whoabuddy/claude-rpg/internal/broadcast"
	"github.com/whoabuddy/claude-rpg/internal/command"
	"github.com/whoabuddy/claude-rpg/internal/config"
	"github.com/whoabuddy/claude-rpg/internal/eventstore"
	"github.com/whoabuddy/claude-rpg/internal/hooks"
	"github.com/whoabuddy/claude-rpg/internal/lifecycle"
	"github.com/whoabuddy/claude-rpg/internal/logging"
	"github.com/whoabuddy/claude-rpg/internal/patterns"
	"github.com/whoabuddy/claude-rpg/internal/poller"
	"github.com/whoabuddy/claude-rpg/internal/server"
	"github.com/whoabuddy/claude-rpg/internal/session"
	"github.com/whoabuddy/claude-rpg/internal/termparse"
	"github.com/whoabuddy/claude-rpg/internal/tmux"
)

var version = "dev"

func main() {
	app := command.BuildApp(command.Deps{
		RunServe:      runServe,
		RunMigrateUp:  runMigrateUp,
		RunConfigInit: runConfigInit,
	})
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dbPath(cfg config.Config) string {
	return filepath.Join(cfg.DataDir, "claude-rpg.db")
}

func runMigrateUp(_ context.Context, cfg config.Config) error {
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "claude-rpg"})
	gdb, err := eventstore.OpenSQLite(dbPath(cfg))
	if err != nil {
		return err
	}
	store, err := eventstore.NewStore(gdb)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("database schema up to date", "path", dbPath(cfg))
	return nil
}

// runConfigInit snapshots the effective settings into DATA_DIR/config.toml so
// the operator has a file to edit. Existing files are left alone.
func runConfigInit(_ context.Context, cfg config.Config) error {
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "claude-rpg"})
	path := config.OverridesPath(cfg.DataDir)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}
	err := config.SaveOverrides(cfg.DataDir, config.Overrides{
		Port:                cfg.Port,
		LogLevel:            cfg.LogLevel,
		TmuxSocket:          cfg.TmuxSocket,
		PollIntervalMs:      int(cfg.PollInterval / time.Millisecond),
		HeartbeatIntervalMs: int(cfg.HeartbeatInterval / time.Millisecond),
		BackpressureHigh:    cfg.BackpressureHigh,
		BackpressureLow:     cfg.BackpressureLow,
		EventsRetentionDays: cfg.EventsRetentionDays,
		ScrollbackLines:     cfg.ScrollbackLines,
		PatternVersion:      cfg.PatternVersion,
	})
	if err != nil {
		return err
	}
	logger.Info("wrote starter config", "path", path)
	return nil
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "claude-rpg"})
	adapter := tmux.NewAdapterWithSocket(&tmux.RealExec{}, cfg.TmuxSocket)
	logger.Info("starting",
		"version", version, "port", cfg.Port, "dataDir", cfg.DataDir,
		"tmuxSocket", adapter.SocketName())

	if cfg.PatternVersion != "" {
		if err := patterns.Default.Use(cfg.PatternVersion); err != nil {
			return fmt.Errorf("pattern version: %w", err)
		}
	}

	gdb, err := eventstore.OpenSQLite(dbPath(cfg))
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	store, err := eventstore.NewStore(gdb)
	if err != nil {
		return err
	}
	recorder := eventstore.NewRecorder(store, logging.ForSubsystem(logger, "eventstore"))
	cleanup := eventstore.NewCleanup(store, cfg.EventsRetentionDays, logging.ForSubsystem(logger, "eventstore"))

	bc := broadcast.NewBroadcaster(logging.ForSubsystem(logger, "broadcast"), broadcast.Options{
		HighWatermark: cfg.BackpressureHigh,
		LowWatermark:  cfg.BackpressureLow,
	})
	heartbeat := broadcast.NewHeartbeat(bc, cfg.HeartbeatInterval, logging.ForSubsystem(logger, "broadcast"))

	parser := termparse.NewParser(patterns.Default)
	reconciler := session.NewReconciler(parser, bc, recorder, logging.ForSubsystem(logger, "reconciler"))

	ingest, err := hooks.NewIngest(reconciler.HandleHookEvent, logging.ForSubsystem(logger, "hooks"))
	if err != nil {
		return err
	}

	paneWatcher := poller.New(adapter, reconciler, bc, logging.ForSubsystem(logger, "poller"), poller.Options{
		Interval:        cfg.PollInterval,
		ScrollbackLines: cfg.ScrollbackLines,
	})

	srv := server.NewServer(server.Deps{
		Panes:    adapter,
		Windows:  paneWatcher,
		Sessions: reconciler,
		Hooks:    ingest,
		Events:   store,
		Clients:  bc,
	}, logging.ForSubsystem(logger, "http"))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	m := lifecycle.NewManager()
	m.AddRun("http server", func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- httpSrv.ListenAndServe() }()
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	})
	// Teardown order: stop the streaming side first, then the producers,
	// then drain and close storage.
	m.AddComponent("heartbeat", 55, heartbeat.Run)
	m.AddComponent("poller", 60, paneWatcher.Run)
	m.AddComponent("event recorder", 90, recorder.Run)
	m.AddComponent("event cleanup", 95, cleanup.Run)
	if cfg.ControlMode {
		feed := tmux.NewControlFeed(cfg.TmuxSocket, logging.ForSubsystem(logger, "control-mode"), func(string) {
			paneWatcher.Cycle()
		})
		m.AddRun("control feed", feed.Run)
	}

	m.AddShutdown("http listener", 40, httpSrv.Shutdown)
	m.AddShutdown("streaming clients", 50, bc.Shutdown)
	m.AddShutdown("event store", 100, func(context.Context) error { return store.Close() })

	err = m.StartAndWait(ctx, os.Interrupt, syscall.SIGTERM)
	if err != nil {
		logger.Error("shutdown finished with errors", "error", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
