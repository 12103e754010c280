package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/whoabuddy/claude-rpg/internal/protocol"
)

const DefaultHeartbeatInterval = 30 * time.Second

// Heartbeat pings connected clients and evicts the ones that stopped
// answering. A client is stale once it has missed two full intervals.
type Heartbeat struct {
	bc       *Broadcaster
	interval time.Duration
	logger   *slog.Logger
	nowFunc  func() time.Time
}

func NewHeartbeat(bc *Broadcaster, interval time.Duration, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{bc: bc, interval: interval, logger: logger, nowFunc: time.Now}
}

func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.tick()
		}
	}
}

// tick evicts stale clients first, then pings the survivors. A stale client
// gets no farewell ping; its connection is simply closed.
func (h *Heartbeat) tick() {
	now := h.nowFunc()
	maxAge := 2 * h.interval
	for _, c := range h.bc.snapshot() {
		c.mu.Lock()
		last := c.lastPong
		c.mu.Unlock()

		if now.Sub(last) > maxAge {
			h.logger.Warn("client missed heartbeats, evicting",
				"client", c.id, "lastPong", last, "maxAge", maxAge)
			h.bc.Remove(c.id, "heartbeat timeout")
			continue
		}
		if !c.enqueue(mustEncode(protocol.New(protocol.TypePing, nil)), protocol.PriorityHigh, h.bc.high) {
			// Enqueue only fails on a closed client; the write loop owns
			// the cleanup.
			h.logger.Warn("ping not delivered", "client", c.id)
		}
	}
}

func mustEncode(msg protocol.Message) []byte {
	data, err := msg.Encode()
	if err != nil {
		panic(err)
	}
	return data
}
