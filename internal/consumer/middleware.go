package consumer

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/tripflow/internal/runtime/ids"
	"github.com/drblury/tripflow/internal/runtime/logging"
	"github.com/drblury/tripflow/internal/runtime/metadata"
)

// chain wraps h so that the first middleware is the outermost one, the same
// order a Watermill router applies them in.
func chain(h message.HandlerFunc, mws ...message.HandlerMiddleware) message.HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// middlewares is the default handler chain.
func (c *Consumer) middlewares() []message.HandlerMiddleware {
	return []message.HandlerMiddleware{
		correlationIDMiddleware,
		c.logMessagesMiddleware(),
		c.tracerMiddleware(),
		c.metrics.HandlerMiddleware("consumer"),
		middleware.Recoverer,
	}
}

// correlationIDMiddleware stamps a correlation id on messages that lack one.
func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if middleware.MessageCorrelationID(msg) == "" {
			middleware.SetCorrelationID(ids.CreateULID(), msg)
		}
		return h(msg)
	}
}

func (c *Consumer) logMessagesMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			c.logger.Trace("Processing message", logging.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

// tracerMiddleware wraps message handling with an OpenTelemetry span.
func (c *Consumer) tracerMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx, span := c.tracer.Start(msg.Context(), "ConsumeBookingEvent", trace.WithSpanKind(trace.SpanKindConsumer))
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("message.uuid", msg.UUID),
				attribute.String("messaging.source.name", c.topic),
				attribute.String("booking.id", msg.Metadata.Get(metadata.KeyPartition)),
				attribute.String("booking.event_type", msg.Metadata.Get(metadata.HeaderEventType)),
				attribute.String("correlation_id", middleware.MessageCorrelationID(msg)),
			)
			produced, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "handler failed")
			}
			return produced, err
		}
	}
}
