package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Emitter is the interface for publishing assistant events. Both the
// in-memory Bus and the RedisBus satisfy it.
type Emitter interface {
	Emit(eventType, workspaceID, turnID string, data map[string]interface{})
}

// Event is the envelope for assistant progress events. The streaming
// endpoint serializes these as Server-Sent Events; the Redis bus carries
// the same envelope between pods.
type Event struct {
	Type        string                 `json:"type"` // progress, tool_call, error, done
	WorkspaceID string                 `json:"workspaceId,omitempty"`
	TurnID      string                 `json:"turnId,omitempty"`
	Origin      string                 `json:"origin,omitempty"` // emitting pod, used to drop pub/sub echoes
	Time        time.Time              `json:"time"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// NewEvent creates an assistant event stamped with the current time.
func NewEvent(eventType, workspaceID, turnID string, data map[string]interface{}) *Event {
	return &Event{
		Type:        eventType,
		WorkspaceID: workspaceID,
		TurnID:      turnID,
		Time:        time.Now(),
		Data:        data,
	}
}

// SSEFormat returns the event as a Server-Sent Events frame:
// "data: <json>\n\n".
func (e *Event) SSEFormat() ([]byte, error) {
	payload := map[string]interface{}{"type": e.Type}
	if content, ok := e.Data["content"]; ok {
		payload["content"] = content
	} else if len(e.Data) > 0 {
		payload["content"] = e.Data
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("data: %s\n\n", data)), nil
}

// Bus is an in-process pub/sub event bus. Subscribers receive events for a
// single turn in real time.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *Event // turnID -> channels
	bufferSize  int
}

// NewBus creates a new in-process event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan *Event),
		bufferSize:  100,
	}
}

// Subscribe creates a channel that receives events for one turn.
func (b *Bus) Subscribe(turnID string) chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, b.bufferSize)
	b.subscribers[turnID] = append(b.subscribers[turnID], ch)
	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (b *Bus) Unsubscribe(turnID string, ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[turnID]
	filtered := make([]chan *Event, 0, len(subs))
	for _, s := range subs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		delete(b.subscribers, turnID)
	} else {
		b.subscribers[turnID] = filtered
	}
	close(ch)
}

// Publish delivers an event to all subscribers of its turn. Slow consumers
// are skipped rather than blocking the publisher.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.TurnID] {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}

// Emit creates and publishes an event.
func (b *Bus) Emit(eventType, workspaceID, turnID string, data map[string]interface{}) {
	b.Publish(NewEvent(eventType, workspaceID, turnID, data))
}

// SubscriberCount returns the total number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscribers {
		count += len(subs)
	}
	return count
}
