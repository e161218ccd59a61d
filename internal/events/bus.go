// Package events is the publish/subscribe surface over the store's change
// feed. Subscriptions have an explicit lifecycle: Subscribe returns the
// channel and a cancel func, and nothing listens globally.
package events

import (
	"context"
	"encoding/json"
	"sync"
)

// Event is one published message. Payload is the JSON encoding of the
// domain event struct for the topic.
type Event struct {
	Topic   string
	Payload []byte
}

func (e Event) Decode(v any) error { return json.Unmarshal(e.Payload, v) }

type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	// Subscribe delivers events whose topic matches exactly. cancel
	// detaches the subscriber and closes the channel.
	Subscribe(topic string) (ch <-chan Event, cancel func(), err error)
}

// MemoryBus delivers in-process. Tests and the demo mode run on it; the
// delivery guarantees (per-subscriber buffered channel, drop-on-full)
// match the broker-backed bus closely enough for correctness tests, which
// must not depend on delivery anyway.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string][]chan Event
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan Event)}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- Event{Topic: topic, Payload: body}:
		default: // slow subscriber, drop
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(topic string) (<-chan Event, func(), error) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			subs := b.subs[topic]
			for i, c := range subs {
				if c == ch {
					b.subs[topic] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}
