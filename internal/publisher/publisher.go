// Package publisher declares the message publishing contract shared by the
// memory and Pub/Sub implementations.
package publisher

import "context"

// Publisher pushes a JSON-encodable payload to a topic and returns the
// server-assigned message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, attrs map[string]string) (string, error)
}
