// Package producer publishes booking lifecycle events for booking-service.
//
// Publishing is best effort: the relational store is authoritative, so a
// publish that still fails after the retry budget is logged and reported as
// false instead of being returned as an error.
package producer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/tripflow/internal/events"
	errspkg "github.com/drblury/tripflow/internal/runtime/errors"
	"github.com/drblury/tripflow/internal/runtime/ids"
	"github.com/drblury/tripflow/internal/runtime/logging"
	"github.com/drblury/tripflow/internal/runtime/metrics"
	"github.com/drblury/tripflow/internal/runtime/retry"
)

const tracerName = "tripflow/producer"

// Dialer opens a publisher. It is called lazily and again after every failed
// publish, so it must be safe to call repeatedly.
type Dialer func(ctx context.Context) (message.Publisher, error)

// Options configures a Producer. Zero values fall back to defaults.
type Options struct {
	Source  string
	Retry   retry.Policy
	Logger  logging.ServiceLogger
	Metrics *metrics.Pipeline
	// Now stamps envelopes; defaults to time.Now.
	Now func() time.Time
}

// Producer owns one lazily opened publisher. It is safe for concurrent use.
type Producer struct {
	dial    Dialer
	source  string
	policy  retry.Policy
	logger  logging.ServiceLogger
	metrics *metrics.Pipeline
	now     func() time.Time
	tracer  trace.Tracer

	mu  sync.Mutex
	pub message.Publisher
}

// New returns a disconnected Producer.
func New(dial Dialer, opts Options) (*Producer, error) {
	if dial == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if opts.Source == "" {
		return nil, errspkg.ConfigValidationError{Err: fmt.Errorf("producer: event source is required")}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Producer{
		dial:    dial,
		source:  opts.Source,
		policy:  opts.Retry,
		logger:  opts.Logger.With(logging.LogFields{"component": "producer", "source": opts.Source}),
		metrics: opts.Metrics,
		now:     opts.Now,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Connected reports whether a publisher is currently open.
func (p *Producer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pub != nil
}

// Connect opens the publisher, retrying with the configured policy. It is a
// no-op when already connected; concurrent callers wait for the same attempt.
func (p *Producer) Connect(ctx context.Context) error {
	return retry.Do(ctx, p.policy, func() error {
		_, err := p.publisher(ctx)
		return err
	}, func(attempt int, err error, wait time.Duration) {
		p.logger.Info("Producer connect failed, retrying", logging.LogFields{
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   err.Error(),
		})
	})
}

// publisher returns the open publisher or dials once.
func (p *Producer) publisher(ctx context.Context) (message.Publisher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pub != nil {
		return p.pub, nil
	}
	pub, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	if decorated, derr := p.metrics.DecoratePublisher(pub, "producer"); derr == nil {
		pub = decorated
	} else {
		p.logger.Error("Could not attach publisher metrics", derr, nil)
	}
	p.pub = pub
	p.logger.Debug("Producer connected", nil)
	return pub, nil
}

// drop forgets pub so the next attempt redials. A publisher replaced in the
// meantime is left alone.
func (p *Producer) drop(pub message.Publisher) {
	p.mu.Lock()
	if p.pub != pub {
		p.mu.Unlock()
		return
	}
	p.pub = nil
	p.mu.Unlock()

	if err := pub.Close(); err != nil {
		p.logger.Debug("Closing failed publisher", logging.LogFields{"error": err.Error()})
	}
}

// PublishBookingCreated emits a booking-created event on the booking's
// listing topic, keyed by booking id.
func (p *Producer) PublishBookingCreated(ctx context.Context, b events.Booking) bool {
	return p.publish(ctx, events.NewCreated(b, p.source, p.now()))
}

// PublishBookingStatusUpdate emits a booking-status-updated event on the same
// topic and key as the booking's creation event.
func (p *Producer) PublishBookingStatusUpdate(ctx context.Context, bookingID string, status events.Status, listing events.ListingType) bool {
	return p.publish(ctx, events.NewStatusUpdated(bookingID, status, listing, p.source, p.now()))
}

func (p *Producer) publish(ctx context.Context, env events.Envelope) bool {
	log := p.logger.With(logging.LogFields{
		"booking_id":   env.BookingID,
		"event_type":   string(env.EventType),
		"listing_type": string(env.ListingType),
	})

	topic, err := events.TopicFor(env.ListingType)
	if err != nil {
		log.Error("Cannot route booking event", err, nil)
		p.metrics.RecordPublish("", string(env.EventType), false, 0)
		return false
	}

	ctx, span := p.tracer.Start(ctx, "PublishBookingEvent", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination.name", topic),
		attribute.String("booking.id", env.BookingID),
		attribute.String("booking.event_type", string(env.EventType)),
	)

	msg, err := events.Marshal(env)
	if err != nil {
		log.Error("Invalid booking event", err, nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid event")
		p.metrics.RecordPublish(topic, string(env.EventType), false, 0)
		return false
	}
	middleware.SetCorrelationID(ids.CreateULID(), msg)
	msg.SetContext(ctx)

	attempts := 0
	err = retry.Do(ctx, p.policy, func() error {
		attempts++
		pub, err := p.publisher(ctx)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		if err := pub.Publish(topic, msg); err != nil {
			p.drop(pub)
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		log.Info("Publish failed, retrying", logging.LogFields{
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   err.Error(),
		})
	})

	p.metrics.RecordPublish(topic, string(env.EventType), err == nil, attempts)
	if err != nil {
		log.Error("Booking event not propagated", err, logging.LogFields{"attempts": attempts})
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return false
	}

	log.Debug("Booking event published", logging.LogFields{
		"topic":          topic,
		"message_uuid":   msg.UUID,
		"correlation_id": middleware.MessageCorrelationID(msg),
	})
	return true
}

// Close releases the publisher. It is idempotent; a later publish reconnects.
func (p *Producer) Close() error {
	p.mu.Lock()
	pub := p.pub
	p.pub = nil
	p.mu.Unlock()

	if pub == nil {
		return nil
	}
	if err := pub.Close(); err != nil {
		return fmt.Errorf("close producer: %w", err)
	}
	p.logger.Debug("Producer disconnected", nil)
	return nil
}
