// Package broadcast fans messages out to connected viewers. Every client has
// its own outbound queue and write loop, so one slow consumer can never stall
// the capture pipeline or the other clients.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whoabuddy/claude-rpg/internal/protocol"
)

// Transport is one client connection. The websocket layer implements it; the
// tests use in-memory fakes.
type Transport interface {
	Write(ctx context.Context, data []byte) error
	Close() error
}

const (
	// Queue watermarks in bytes. A client whose queue grows past the high
	// watermark is paused: it keeps receiving high-priority messages only,
	// until the queue drains below the low watermark.
	DefaultHighWatermark = 64 * 1024
	DefaultLowWatermark  = 16 * 1024

	writeTimeout = 10 * time.Second
)

type frame struct {
	data     []byte
	priority protocol.Priority
}

type client struct {
	id        string
	transport Transport
	logger    *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []frame
	buffered int
	paused   bool
	closed   bool
	dropped  map[protocol.Priority]int64
	lastPong time.Time
}

// enqueue appends a frame unless the client is paused and the frame is
// droppable. Returns false when the frame was dropped or the client closed.
func (c *client) enqueue(data []byte, priority protocol.Priority, high int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.paused && priority != protocol.PriorityHigh {
		c.dropped[priority]++
		return false
	}
	c.queue = append(c.queue, frame{data: data, priority: priority})
	c.buffered += len(data)
	if !c.paused && c.buffered > high {
		c.paused = true
		c.logger.Warn("client paused, dropping non-critical messages",
			"client", c.id, "buffered", c.buffered)
	}
	c.cond.Signal()
	return true
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
	_ = c.transport.Close()
}

type Broadcaster struct {
	logger *slog.Logger
	high   int
	low    int

	mu      sync.Mutex
	clients map[string]*client
}

type Options struct {
	HighWatermark int
	LowWatermark  int
}

func NewBroadcaster(logger *slog.Logger, opts Options) *Broadcaster {
	if opts.HighWatermark <= 0 {
		opts.HighWatermark = DefaultHighWatermark
	}
	if opts.LowWatermark <= 0 {
		opts.LowWatermark = DefaultLowWatermark
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		logger:  logger,
		high:    opts.HighWatermark,
		low:     opts.LowWatermark,
		clients: map[string]*client{},
	}
}

// Add registers a connection and starts its write loop. The returned id is
// the client's session identity for pong tracking and eviction.
func (b *Broadcaster) Add(t Transport) string {
	c := &client{
		id:        uuid.NewString(),
		transport: t,
		logger:    b.logger,
		dropped:   map[protocol.Priority]int64{},
		lastPong:  time.Now(),
	}
	c.cond = sync.NewCond(&c.mu)

	b.mu.Lock()
	b.clients[c.id] = c
	count := len(b.clients)
	b.mu.Unlock()

	b.logger.Info("client connected", "client", c.id, "clients", count)
	go b.writeLoop(c)
	return c.id
}

// Remove closes and forgets a client. Safe to call for unknown ids.
func (b *Broadcaster) Remove(id, reason string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	count := len(b.clients)
	b.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	b.logger.Info("client disconnected", "client", id, "reason", reason, "clients", count)
}

// Broadcast serializes the message once and enqueues it for every client.
func (b *Broadcaster) Broadcast(msg protocol.Message) {
	data, err := msg.Encode()
	if err != nil {
		b.logger.Error("message encode failed", "type", msg.Type, "error", err)
		return
	}
	priority := msg.Priority()
	for _, c := range b.snapshot() {
		c.enqueue(data, priority, b.high)
	}
}

// SendTo enqueues a message for a single client. Returns false when the
// client is gone.
func (b *Broadcaster) SendTo(id string, msg protocol.Message) bool {
	b.mu.Lock()
	c, ok := b.clients[id]
	b.mu.Unlock()
	if !ok {
		return false
	}
	data, err := msg.Encode()
	if err != nil {
		b.logger.Error("message encode failed", "type", msg.Type, "error", err)
		return false
	}
	return c.enqueue(data, msg.Priority(), b.high)
}

// MarkPong records a heartbeat reply.
func (b *Broadcaster) MarkPong(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	b.mu.Unlock()
	if !ok {
		return
	}
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Shutdown closes every client. New connections can still be added; the
// server stops accepting upgrades before calling this.
func (b *Broadcaster) Shutdown(ctx context.Context) error {
	for _, c := range b.snapshot() {
		b.Remove(c.id, "server shutting down")
	}
	return ctx.Err()
}

func (b *Broadcaster) snapshot() []*client {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		out = append(out, c)
	}
	return out
}

// writeLoop drains one client's queue. A failed write removes the client;
// removal happens outside any broadcast iteration, so a dying connection
// observed mid-broadcast is cleaned up here rather than in the caller.
func (b *Broadcaster) writeLoop(c *client) {
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		f := c.queue[0]
		c.queue = c.queue[1:]
		c.buffered -= len(f.data)
		if c.paused && c.buffered < b.low {
			c.paused = false
			drops := c.dropped[protocol.PriorityNormal] + c.dropped[protocol.PriorityLow]
			c.logger.Info("client resumed", "client", c.id, "dropped", drops)
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.transport.Write(ctx, f.data)
		cancel()
		if err != nil {
			b.Remove(c.id, "write failed: "+err.Error())
			return
		}
	}
}
