// Package notification delivers advisory events to connected clients. The
// booking flow depends only on Notifier; transports live behind it.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Room every queue event is published to.
const QueueRoom = "queues"

// Notifier publishes a named event with a JSON-encodable payload.
type Notifier interface {
	Publish(ctx context.Context, event string, payload interface{}) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, interface{}) error { return nil }

// Emitter is the local fan-out a notifier writes to; *websocket.Hub
// satisfies it.
type Emitter interface {
	Emit(ctx context.Context, room, name string, payload interface{}) error
}

// HubNotifier publishes straight into the in-process websocket hub.
type HubNotifier struct {
	emitter Emitter
	room    string
}

func NewHubNotifier(emitter Emitter, room string) *HubNotifier {
	return &HubNotifier{emitter: emitter, room: room}
}

func (n *HubNotifier) Publish(ctx context.Context, event string, payload interface{}) error {
	return n.emitter.Emit(ctx, n.room, event, payload)
}

// Message is the wire form relayed between instances over Redis.
type Message struct {
	Origin      string          `json:"origin"`
	Room        string          `json:"room"`
	Event       string          `json:"event"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"publishedAt"`
}

func encodeMessage(origin, room, event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Message{
		Origin:      origin,
		Room:        room,
		Event:       event,
		Payload:     raw,
		PublishedAt: time.Now().UTC(),
	})
}

func decodeMessage(data string) (*Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("decode relayed message: %w", err)
	}
	if m.Room == "" || m.Event == "" {
		return nil, fmt.Errorf("decode relayed message: room and event are required")
	}
	return &m, nil
}
