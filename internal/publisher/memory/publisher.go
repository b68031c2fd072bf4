// Package memory keeps published messages in process. The app uses it for
// the publish target when no Pub/Sub project is configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
)

// PublishedMessage is one recorded publish.
type PublishedMessage struct {
	ID         string
	Topic      string
	Data       []byte
	Attributes map[string]string
}

// Publisher records messages per topic in publish order.
type Publisher struct {
	mu   sync.RWMutex
	log  []PublishedMessage
	next int
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish JSON-encodes payload like the Pub/Sub publisher and records it.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any, attrs map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	id := fmt.Sprintf("%s-%d", topic, p.next)
	p.log = append(p.log, PublishedMessage{
		ID:         id,
		Topic:      topic,
		Data:       data,
		Attributes: maps.Clone(attrs),
	})
	return id, nil
}

// Messages returns every recorded publish.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]PublishedMessage(nil), p.log...)
}

// Topic returns the messages published to topic.
func (p *Publisher) Topic(topic string) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []PublishedMessage
	for _, m := range p.log {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
