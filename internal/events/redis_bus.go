// Redis-backed bus for cross-pod event distribution.
//
// In a multi-pod deployment the in-process Bus only delivers events within a
// single process, so a stream opened on pod 1 would miss tool-call events
// from a command dispatched on pod 2. RedisBus publishes every event to a
// Redis Pub/Sub channel and feeds received events back into the local Bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBus distributes assistant events across pods using Redis Pub/Sub.
// Locally published events are also fanned out to the in-process bus for
// zero-latency delivery to co-located subscribers.
type RedisBus struct {
	rdb     *redis.Client
	local   *Bus
	channel string
	origin  string
	cancel  context.CancelFunc
}

// NewRedisBus connects to Redis and starts the receive loop. Returns the
// bus and any connection error; the caller decides whether to fall back to
// the in-process bus alone.
func NewRedisBus(addr, password string, db int, local *Bus) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	rb := &RedisBus{
		rdb:     rdb,
		local:   local,
		channel: "taskdeck:assistant:events",
		origin:  uuid.NewString(),
		cancel:  loopCancel,
	}
	go rb.receive(loopCtx)

	slog.Info("Redis event bus connected", "addr", addr, "channel", rb.channel)
	return rb, nil
}

// Emit publishes the event to Redis and to the local bus.
func (rb *RedisBus) Emit(eventType, workspaceID, turnID string, data map[string]interface{}) {
	event := NewEvent(eventType, workspaceID, turnID, data)
	event.Origin = rb.origin
	rb.local.Publish(event)

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("event marshal failed", "type", eventType, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rb.rdb.Publish(ctx, rb.channel, payload).Err(); err != nil {
		slog.Warn("event publish failed", "type", eventType, "error", err)
	}
}

// receive feeds remotely published events into the local bus. Events that
// originated on this pod were already delivered locally and are dropped by
// origin to avoid double delivery.
func (rb *RedisBus) receive(ctx context.Context) {
	sub := rb.rdb.Subscribe(ctx, rb.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.Warn("event decode failed", "error", err)
				continue
			}
			if event.Origin == rb.origin {
				continue
			}
			rb.local.Publish(&event)
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the receive loop and shuts down the Redis client.
func (rb *RedisBus) Close() error {
	rb.cancel()
	return rb.rdb.Close()
}
