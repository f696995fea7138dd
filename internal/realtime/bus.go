package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Bus carries events between instances. Start forwards received events to
// onEvent until ctx ends.
type Bus interface {
	Publisher
	Start(ctx context.Context, onEvent func(Event)) error
	Close() error
}

// MemoryBus delivers events within the process
type MemoryBus struct {
	mu       sync.RWMutex
	handlers []func(Event)
}

// NewMemoryBus creates an in-process bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Publish hands ev to every started forwarder
func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(ev)
	}
	return nil
}

// Start registers onEvent until ctx is done
func (b *MemoryBus) Start(ctx context.Context, onEvent func(Event)) error {
	b.mu.Lock()
	b.handlers = append(b.handlers, onEvent)
	idx := len(b.handlers) - 1
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		b.handlers[idx] = func(Event) {}
		b.mu.Unlock()
	}()
	return nil
}

// Close implements Bus
func (b *MemoryBus) Close() error {
	return nil
}

// RedisBus publishes events on one Redis pub/sub channel
type RedisBus struct {
	rdb     *redis.Client
	channel string
}

// NewRedisBus creates a bus over rdb. The caller owns rdb unless Close is
// called.
func NewRedisBus(rdb *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = "ideaforge:feed"
	}
	return &RedisBus{rdb: rdb, channel: channel}
}

// Publish encodes ev as JSON and publishes it
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Start subscribes and forwards events until ctx ends
func (b *RedisBus) Start(ctx context.Context, onEvent func(Event)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)

	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					slog.Warn("Bad feed payload on redis", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}

// Close closes the Redis client
func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
