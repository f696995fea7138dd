package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client is one SSE connection
type Client struct {
	ID       string
	UserID   string
	channels map[string]bool
	outbound chan Event
	done     chan struct{}
	once     sync.Once
}

// Hub tracks channel subscriptions of connected clients
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]map[*Client]bool
	heartbeat     time.Duration
	buffer        int

	dropped int64
}

// NewHub creates a hub. heartbeat is the idle ping interval and buffer the
// per-client outbound queue length.
func NewHub(heartbeat time.Duration, buffer int) *Hub {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subscriptions: make(map[string]map[*Client]bool),
		heartbeat:     heartbeat,
		buffer:        buffer,
	}
}

// NewClient registers a client subscribed to its user channel
func (h *Hub) NewClient(userID string) *Client {
	client := &Client{
		ID:       uuid.New().String(),
		UserID:   userID,
		channels: make(map[string]bool),
		outbound: make(chan Event, h.buffer),
		done:     make(chan struct{}),
	}
	if userID != "" {
		h.AddChannel(client, UserChannel(userID))
	}
	return client
}

// AddChannel subscribes client to channel
func (h *Hub) AddChannel(client *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	client.channels[channel] = true
	clients, ok := h.subscriptions[channel]
	if !ok {
		clients = make(map[*Client]bool)
		h.subscriptions[channel] = clients
	}
	clients[client] = true
}

// RemoveChannel unsubscribes client from channel
func (h *Hub) RemoveChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client, strings.TrimSpace(channel))
}

func (h *Hub) removeLocked(client *Client, channel string) {
	delete(client.channels, channel)
	if clients, ok := h.subscriptions[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.subscriptions, channel)
		}
	}
}

// Broadcast delivers ev to subscribers of its channel and of its table
// channel. It never blocks: a full client queue drops the event. It returns
// how many clients missed the event.
func (h *Hub) Broadcast(ev Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	delivered := make(map[*Client]bool)
	for _, channel := range []string{ev.Channel, TableChannel(ev.Table)} {
		for c := range h.subscriptions[channel] {
			if delivered[c] {
				continue
			}
			delivered[c] = true
			select {
			case c.outbound <- ev:
			default:
				h.dropped++
				dropped++
				slog.Warn("Dropping feed event; outbound buffer full", "client_id", c.ID, "table", ev.Table)
			}
		}
	}
	return dropped
}

// CloseClient unsubscribes client and ends its stream
func (h *Hub) CloseClient(client *Client) {
	client.once.Do(func() {
		close(client.done)
		h.mu.Lock()
		for channel := range client.channels {
			h.removeLocked(client, channel)
		}
		h.mu.Unlock()
	})
}

// Stats reports subscription counts
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make(map[*Client]bool)
	for _, subs := range h.subscriptions {
		for c := range subs {
			clients[c] = true
		}
	}
	return map[string]interface{}{
		"channels": len(h.subscriptions),
		"clients":  len(clients),
		"dropped":  h.dropped,
	}
}

// ServeHTTP streams client's events until the request ends or the client is
// closed
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *Client) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, ": connected %s\n\n", client.ID)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-client.outbound:
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("Failed to marshal feed event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Table, data)
			flusher.Flush()
		}
	}
}
