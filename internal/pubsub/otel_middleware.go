package pubsub

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nfrund/relay/internal/protocol"
)

const (
	previewRunes = 100

	// Every room activity topic shares this prefix, e.g. "room.user.joined".
	roomTopicPrefix = "room."
)

// TracingMiddleware wraps every delivered room activity event in a span named
// after its topic, carrying the originating connection and the event kind.
func TracingMiddleware(tracer trace.Tracer) func(message.HandlerFunc) message.HandlerFunc {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx := msg.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			// Topic travels in metadata; the router hands us the raw message
			topic := msg.Metadata.Get(metaKeyTopic)

			spanCtx, span := tracer.Start(ctx, "relay.activity.handle "+topic,
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(eventAttributes("process", topic, msg)...),
			)
			defer span.End()

			// Handlers see the span through msg.Context()
			msg.SetContext(spanCtx)

			produced, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}

			span.SetAttributes(attribute.Int("messaging.messages_produced", len(produced)))
			return produced, nil
		}
	}
}

// PublisherTracingMiddleware starts a producer span for every published
// activity event and ends it once the underlying publisher returns.
type PublisherTracingMiddleware struct {
	publisher message.Publisher
	tracer    trace.Tracer
}

// NewPublisherTracingMiddleware wraps publisher.
func NewPublisherTracingMiddleware(publisher message.Publisher, tracer trace.Tracer) *PublisherTracingMiddleware {
	return &PublisherTracingMiddleware{
		publisher: publisher,
		tracer:    tracer,
	}
}

// Publish implements message.Publisher.
func (p *PublisherTracingMiddleware) Publish(topic string, messages ...*message.Message) error {
	spans := make([]trace.Span, 0, len(messages))
	for _, msg := range messages {
		ctx := msg.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		spanCtx, span := p.tracer.Start(ctx, "relay.activity.publish "+topic,
			trace.WithSpanKind(trace.SpanKindProducer),
			trace.WithAttributes(eventAttributes("publish", topic, msg)...),
		)

		// Subscribers continue the trace from here
		msg.SetContext(spanCtx)
		spans = append(spans, span)
	}

	err := p.publisher.Publish(topic, messages...)

	// GoChannel delivers synchronously enough that one outcome covers the batch
	for _, span := range spans {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
	return err
}

// Close closes the underlying publisher.
func (p *PublisherTracingMiddleware) Close() error {
	return p.publisher.Close()
}

func eventAttributes(operation, topic string, msg *message.Message) []attribute.KeyValue {
	subject, kind := activityKind(topic)
	attrs := []attribute.KeyValue{
		attribute.String("messaging.system", "watermill"),
		attribute.String("messaging.operation", operation),
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.message_id", msg.UUID),
		attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
		attribute.String("messaging.message_payload_preview", payloadPreview(msg.Payload)),
		attribute.String("relay.activity.subject", subject),
		attribute.String("relay.activity.kind", kind),
	}
	if connID := msg.Metadata.Get(metaKeyConnID); connID != "" {
		attrs = append(attrs, attribute.String("relay.conn_id", connID))
	}
	return attrs
}

// activityKind splits "room.user.joined" into ("user", "user.joined").
// Topics outside the room namespace are reported as-is with no subject.
func activityKind(topic string) (subject, kind string) {
	kind, ok := strings.CutPrefix(topic, roomTopicPrefix)
	if !ok {
		return "", topic
	}
	subject, _, _ = strings.Cut(kind, ".")
	return subject, kind
}

// payloadPreview keeps the first previewRunes runes of payload. Invalid UTF-8
// is replaced so the attribute is always a valid string.
func payloadPreview(payload []byte) string {
	s := strings.ToValidUTF8(string(payload), string(utf8.RuneError))
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return protocol.Truncate(s, previewRunes) + "..."
}
