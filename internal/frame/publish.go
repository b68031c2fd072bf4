package frame

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/progressive-loader/internal/loader"
	"github.com/JakeFAU/progressive-loader/internal/publisher"
)

// PublishOptions configures a PublishTarget.
type PublishOptions struct {
	// Origin identifies the topic, e.g. "pubsub://project/topic".
	Origin string
	Topic  string
}

// PublishTarget publishes each payload as a JSON message whose payload key is
// the message field, carrying the bytes base64 encoded.
type PublishTarget struct {
	pub    publisher.Publisher
	origin string
	topic  string
	logger *zap.Logger
}

// NewPublishTarget validates opts and returns a PublishTarget.
func NewPublishTarget(pub publisher.Publisher, opts PublishOptions, logger *zap.Logger) (*PublishTarget, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if strings.TrimSpace(opts.Topic) == "" {
		return nil, errors.New("publish target topic is required")
	}
	if strings.TrimSpace(opts.Origin) == "" {
		return nil, errors.New("publish target origin is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishTarget{pub: pub, origin: opts.Origin, topic: opts.Topic, logger: logger}, nil
}

// Origin implements loader.ContentTarget.
func (t *PublishTarget) Origin() string {
	return t.origin
}

// Deliver publishes msg and returns once the broker accepted it.
func (t *PublishTarget) Deliver(ctx context.Context, msg loader.Message) error {
	field := msg.Field
	if field == "" {
		field = loader.DefaultMessageField
	}
	// []byte values are base64 encoded by encoding/json.
	body := map[string]any{
		"load_id": msg.LoadID.String(),
		"url":     msg.URL,
		"sha256":  msg.Digest,
		field:     msg.Payload,
	}
	attrs := map[string]string{
		"load_id":       msg.LoadID.String(),
		"field":         field,
		"target_origin": msg.TargetOrigin,
	}
	if msg.ContentType != "" {
		attrs["content_type"] = msg.ContentType
	}
	id, err := t.pub.Publish(ctx, t.topic, body, attrs)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", t.topic, err)
	}
	t.logger.Info("payload published",
		zap.String("load_id", msg.LoadID.String()),
		zap.String("topic", t.topic),
		zap.String("message_id", id),
	)
	return nil
}
