package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/obsidianstack/microclimate/server/internal/metrics"
)

const (
	// DefaultSendTimeout bounds one delivery attempt to one subscriber.
	DefaultSendTimeout = 2 * time.Second

	// DefaultBufferSize is the per-connection outgoing queue depth.
	DefaultBufferSize = 16
)

// Subscriber is a live connection registered with the Hub.
type Subscriber interface {
	// Send delivers msg or fails; it must honour ctx cancellation.
	Send(ctx context.Context, msg []byte) error
	// Close releases the underlying connection. Called at most once by the Hub
	// after a failed delivery, but implementations should tolerate repeats.
	Close() error
}

// Options configures a Hub.
type Options struct {
	SendTimeout time.Duration
	BufferSize  int
}

// Hub manages subscriber membership and broadcasts messages to all of them.
type Hub struct {
	opts Options

	mu   sync.RWMutex
	subs map[Subscriber]struct{}
}

// New creates an empty Hub.
func New(opts Options) *Hub {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	return &Hub{
		opts: opts,
		subs: make(map[Subscriber]struct{}),
	}
}

// Join registers sub. Safe to call concurrently with Publish and Leave.
func (h *Hub) Join(sub Subscriber) {
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	metrics.SetSubscribers(n)
}

// Leave removes sub. Removing an absent subscriber is a no-op.
// It reports whether sub was a member.
func (h *Hub) Leave(sub Subscriber) bool {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()
	if ok {
		metrics.SetSubscribers(n)
	}
	return ok
}

// Count returns the number of currently joined subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers msg to every current subscriber and returns the number of
// successful deliveries. Subscribers that fail are removed and closed.
func (h *Hub) Publish(ctx context.Context, msg any) int {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws: message not serialisable, dropping", "err", err)
		return 0
	}

	targets := h.snapshot()
	if len(targets) == 0 {
		return 0
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for _, sub := range targets {
		wg.Add(1)
		go func(sub Subscriber) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, h.opts.SendTimeout)
			err := sub.Send(sendCtx, data)
			cancel()

			metrics.RecordDelivery(err == nil)
			if err != nil {
				h.drop(sub, err)
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}(sub)
	}
	wg.Wait()
	return delivered
}

// Shutdown closes and removes every subscriber.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[Subscriber]struct{})
	h.mu.Unlock()

	for sub := range subs {
		sub.Close() //nolint:errcheck
	}
	metrics.SetSubscribers(0)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) snapshot() []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Subscriber, 0, len(h.subs))
	for s := range h.subs {
		out = append(out, s)
	}
	return out
}

// drop removes a subscriber after a failed delivery and closes it.
func (h *Hub) drop(sub Subscriber, cause error) {
	if !h.Leave(sub) {
		return
	}
	slog.Debug("ws: subscriber dropped after failed delivery", "err", cause)
	if err := sub.Close(); err != nil {
		slog.Debug("ws: close after failed delivery", "err", err)
	}
}

// ServeHTTP upgrades the request to a WebSocket and serves the client until
// it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := upgrade(w, r, h.opts.BufferSize)
	if err != nil {
		// upgrader has already written the error response.
		return
	}
	h.Join(c)
	slog.Debug("ws: client connected", "client", c.id, "remote", r.RemoteAddr)

	go func() {
		c.writePump()
		h.Leave(c)
	}()
	c.readPump() // blocks until the connection closes

	h.Leave(c)
	c.Close() //nolint:errcheck
	slog.Debug("ws: client disconnected", "client", c.id)
}
