package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversByTurn(t *testing.T) {
	bus := NewBus()
	ch1 := bus.Subscribe("turn-1")
	ch2 := bus.Subscribe("turn-2")
	defer bus.Unsubscribe("turn-2", ch2)

	bus.Emit("progress", "ws-1", "turn-1", map[string]interface{}{"content": "Thinking..."})

	event := <-ch1
	assert.Equal(t, "progress", event.Type)
	assert.Equal(t, "turn-1", event.TurnID)
	assert.Empty(t, ch2, "other turns see nothing")

	bus.Unsubscribe("turn-1", ch1)
	assert.Equal(t, 1, bus.SubscriberCount())
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus()
	bus.bufferSize = 1
	ch := bus.Subscribe("turn-1")
	defer bus.Unsubscribe("turn-1", ch)

	bus.Emit("progress", "", "turn-1", nil)
	bus.Emit("progress", "", "turn-1", nil) // dropped, publisher must not block

	assert.Len(t, ch, 1)
}

func TestSSEFormat(t *testing.T) {
	event := NewEvent("progress", "ws-1", "turn-1", map[string]interface{}{"content": "Thinking..."})

	frame, err := event.SSEFormat()
	require.NoError(t, err)

	s := string(frame)
	assert.True(t, len(s) > 0)
	assert.Equal(t, "data: ", s[:6])
	assert.Equal(t, "\n\n", s[len(s)-2:])

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(frame[6:len(frame)-2], &payload))
	assert.Equal(t, "progress", payload["type"])
	assert.Equal(t, "Thinking...", payload["content"])
}

func TestSSEFormatDoneHasNoContent(t *testing.T) {
	frame, err := NewEvent("done", "", "turn-1", nil).SSEFormat()
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(frame[6:len(frame)-2], &payload))
	assert.Equal(t, "done", payload["type"])
	_, hasContent := payload["content"]
	assert.False(t, hasContent)
}
