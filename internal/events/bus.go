// Package events carries state-change snapshots from the controllers to
// whatever renders them. Publishing never fails a controller.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ragctl/internal/logging"
)

// Topics published by the controllers.
const (
	TopicSession = "session.changed"
	TopicUpload  = "upload.changed"
	TopicChat    = "chat.changed"
	TopicView    = "view.changed"
)

// Publisher is what controllers depend on.
type Publisher interface {
	Publish(topic string, payload any)
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(string, any) {}

// Bus is an in-process pub/sub backed by watermill's go channel transport.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *zap.Logger
}

// NewBus constructs a Bus.
func NewBus(logger *zap.Logger) *Bus {
	logger = logging.OrNop(logger).Named("events")
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			// Blocking until ack keeps snapshots in publish order per subscriber.
			// Without it each message is delivered from its own goroutine and a
			// renderer can see Success before the last progress update.
			gochannel.Config{OutputChannelBuffer: 64, BlockPublishUntilSubscriberAck: true},
			zapAdapter{logger: logger},
		),
		logger: logger,
	}
}

// Publish encodes payload as JSON and fans it out to current subscribers.
// It returns once every subscriber has acked; with no subscribers it
// returns immediately. Callers must not hold locks while publishing.
func (b *Bus) Publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("encode event", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := b.pubsub.Publish(topic, message.NewMessage(watermill.NewUUID(), data)); err != nil {
		b.logger.Warn("publish event", zap.String("topic", topic), zap.Error(err))
	}
}

// Subscribe returns messages for topic until ctx is cancelled. Each message
// must be acked before the next one is delivered.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Close stops delivery to all subscribers.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Decode unmarshals a message payload published by Bus.
func Decode[T any](msg *message.Message) (T, error) {
	var out T
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		return out, fmt.Errorf("decode event %s: %w", msg.UUID, err)
	}
	return out, nil
}

type zapAdapter struct {
	logger *zap.Logger
}

func (a zapAdapter) fields(f watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (a zapAdapter) Error(msg string, err error, f watermill.LogFields) {
	a.logger.Error(msg, append(a.fields(f), zap.Error(err))...)
}

func (a zapAdapter) Info(msg string, f watermill.LogFields) {
	a.logger.Info(msg, a.fields(f)...)
}

func (a zapAdapter) Debug(msg string, f watermill.LogFields) {
	a.logger.Debug(msg, a.fields(f)...)
}

func (a zapAdapter) Trace(msg string, f watermill.LogFields) {
	a.logger.Debug(msg, a.fields(f)...)
}

func (a zapAdapter) With(f watermill.LogFields) watermill.LoggerAdapter {
	return zapAdapter{logger: a.logger.With(a.fields(f)...)}
}
