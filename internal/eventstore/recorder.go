package eventstore

import (
	"context"
	"log/slog"
	"time"
)

// Recorder decouples the reconciler from sqlite: writes are queued and
// flushed by a worker so a slow disk never blocks status decisions. A full
// queue drops the write with a warning; the in-memory session state is the
// source of truth and the log is best-effort.
type Recorder struct {
	store  *Store
	logger *slog.Logger
	jobs   chan func() error
}

const recorderQueueSize = 256

func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  store,
		logger: logger,
		jobs:   make(chan func() error, recorderQueueSize),
	}
}

func (r *Recorder) RecordEvent(paneID, sessionID, eventType string, payload map[string]any) {
	r.submit("record event", func() error {
		return r.store.RecordEvent(paneID, sessionID, eventType, payload)
	})
}

func (r *Recorder) IncrStat(entityType, entityID, statPath string, delta int64) {
	r.submit("incr stat", func() error {
		return r.store.IncrStat(entityType, entityID, statPath, delta)
	})
}

func (r *Recorder) submit(op string, job func() error) {
	select {
	case r.jobs <- job:
	default:
		r.logger.Warn("event store queue full, dropping write", "op", op)
	}
}

// Run flushes queued writes until the context is canceled, then drains
// whatever is left so shutdown does not lose the tail of the log.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return ctx.Err()
		case job := <-r.jobs:
			if err := job(); err != nil {
				r.logger.Error("event store write failed", "error", err)
			}
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case job := <-r.jobs:
			if err := job(); err != nil {
				r.logger.Error("event store write failed during drain", "error", err)
			}
		default:
			return
		}
	}
}

// Cleanup deletes events past the retention window once a day.
type Cleanup struct {
	store     *Store
	retention time.Duration
	logger    *slog.Logger
}

const cleanupInterval = 24 * time.Hour

func NewCleanup(store *Store, retentionDays int, logger *slog.Logger) *Cleanup {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleanup{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger,
	}
}

func (c *Cleanup) Run(ctx context.Context) error {
	c.sweep()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cleanup) sweep() {
	cutoff := time.Now().Add(-c.retention)
	removed, err := c.store.DeleteEventsBefore(cutoff)
	if err != nil {
		c.logger.Error("event retention sweep failed", "error", err)
		return
	}
	if removed > 0 {
		c.logger.Info("expired events removed", "count", removed, "cutoff", cutoff)
	}
}
