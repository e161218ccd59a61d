package events

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"comanda/internal/common/mq"
	"comanda/internal/domain"
)

// RabbitBus publishes over the broker topology declared by mq.DeclareAll.
// Advisories go through the fanout exchange, everything else through the
// topic exchange keyed by topic.
type RabbitBus struct {
	client *mq.Client
	name   string // consumer tag prefix
}

func NewRabbitBus(client *mq.Client, name string) *RabbitBus {
	return &RabbitBus{client: client, name: name}
}

func exchangeFor(topic string) string {
	if strings.HasPrefix(topic, domain.TopicAdvisory) {
		return mq.AdvisoriesExchange
	}
	return mq.EventsExchange
}

func (b *RabbitBus) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, exchangeFor(topic), topic, body)
}

func (b *RabbitBus) Subscribe(topic string) (<-chan Event, func(), error) {
	deliveries, err := b.client.SubscribeTopic(topic, b.name+"."+topic)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan Event, 64)
	done := make(chan struct{})
	go func() {
		defer close(ch)
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case ch <- Event{Topic: d.RoutingKey, Payload: d.Body}:
				default: // slow subscriber, drop
				}
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }
	return ch, cancel, nil
}
