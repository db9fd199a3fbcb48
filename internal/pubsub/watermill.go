package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.opentelemetry.io/otel/trace"
)

// WatermillBridge implements Publisher and Subscriber on top of watermill's
// in-memory GoChannel.
type WatermillBridge struct {
	pub    message.Publisher
	sub    message.Subscriber
	tracer trace.Tracer
	logger *slog.Logger
}

const (
	// Metadata keys used to carry Message fields through watermill.
	metaKeyConnID = "conn_id"
	metaKeyTopic  = "topic"
)

// BridgeOption configures a WatermillBridge.
type BridgeOption func(*bridgeConfig)

type bridgeConfig struct {
	tracer       trace.Tracer
	bufferSize   int64
	blockPublish bool
}

// WithTracer wraps publishing and handling in OpenTelemetry spans.
func WithTracer(tracer trace.Tracer) BridgeOption {
	return func(c *bridgeConfig) { c.tracer = tracer }
}

// WithBufferSize sets the per-subscriber output buffer.
func WithBufferSize(n int64) BridgeOption {
	return func(c *bridgeConfig) { c.bufferSize = n }
}

// WithBlockingPublish makes Publish wait until every subscriber has
// acknowledged the message.
func WithBlockingPublish() BridgeOption {
	return func(c *bridgeConfig) { c.blockPublish = true }
}

// NewWatermillBridge creates an in-memory bus.
func NewWatermillBridge(opts ...BridgeOption) *WatermillBridge {
	cfg := bridgeConfig{bufferSize: 256}
	for _, opt := range opts {
		opt(&cfg)
	}

	// Create a GoChannel pub/sub
	logger := watermill.NewStdLogger(false, false)
	goChannel := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            cfg.bufferSize,
			BlockPublishUntilSubscriberAck: cfg.blockPublish,
		},
		logger,
	)

	b := &WatermillBridge{
		pub:    goChannel,
		sub:    goChannel,
		tracer: cfg.tracer,
		logger: slog.Default().With("component", "pubsub"),
	}
	// Wrap the publisher with tracing if a tracer is provided
	if cfg.tracer != nil {
		b.pub = NewPublisherTracingMiddleware(goChannel, cfg.tracer)
	}
	return b
}

// NewWatermillBridgeWithTracer creates an in-memory bus with tracing.
func NewWatermillBridgeWithTracer(tracer trace.Tracer) *WatermillBridge {
	return NewWatermillBridge(WithTracer(tracer))
}

func mapToWatermillMessage(ctx context.Context, msg Message) *message.Message {
	wmMsg := message.NewMessage(watermill.NewUUID(), msg.Payload)
	wmMsg.SetContext(ctx)

	// Carry the envelope fields as metadata
	wmMsg.Metadata.Set(metaKeyConnID, msg.ConnID)
	wmMsg.Metadata.Set(metaKeyTopic, msg.Topic)
	for k, v := range msg.Metadata {
		wmMsg.Metadata.Set(k, v)
	}
	return wmMsg
}

func mapToPubSubMessage(wmMsg *message.Message) Message {
	// Strip the envelope keys back out of the metadata
	metadata := make(map[string]string)
	for k, v := range wmMsg.Metadata {
		if k != metaKeyConnID && k != metaKeyTopic {
			metadata[k] = v
		}
	}

	return Message{
		Topic:    wmMsg.Metadata.Get(metaKeyTopic),
		ConnID:   wmMsg.Metadata.Get(metaKeyConnID),
		Payload:  wmMsg.Payload,
		Metadata: metadata,
	}
}

// Publish implements Publisher.
func (wb *WatermillBridge) Publish(ctx context.Context, msg Message) error {
	return wb.pub.Publish(msg.Topic, mapToWatermillMessage(ctx, msg))
}

// Subscribe implements Subscriber.
func (wb *WatermillBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := wb.sub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	// Build the handler chain
	process := func(wmMsg *message.Message) ([]*message.Message, error) {
		return nil, handler(wmMsg.Context(), mapToPubSubMessage(wmMsg))
	}
	if wb.tracer != nil {
		process = TracingMiddleware(wb.tracer)(process)
	}

	// Process messages until the bus closes or ctx is done
	go func() {
		for wmMsg := range messages {
			if _, err := process(wmMsg); err != nil {
				// GoChannel redelivers nacked messages forever.
				wb.logger.Error("Failed to handle message", "topic", topic, "msg_id", wmMsg.UUID, "error", err)
			}
			wmMsg.Ack()
		}
		wb.logger.Debug("Subscription message loop ended", "topic", topic)
	}()

	return nil
}

// Close shuts the bus down and ends every subscription.
func (wb *WatermillBridge) Close() error {
	return wb.sub.Close()
}
