// Package consumer runs the per-service subscription loop: it follows one
// booking topic, routes each message to the projection by its event-type
// header and acknowledges every message after a single handling attempt.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/tripflow/internal/events"
	errspkg "github.com/drblury/tripflow/internal/runtime/errors"
	"github.com/drblury/tripflow/internal/runtime/ids"
	"github.com/drblury/tripflow/internal/runtime/logging"
	"github.com/drblury/tripflow/internal/runtime/metadata"
	"github.com/drblury/tripflow/internal/runtime/metrics"
	"github.com/drblury/tripflow/internal/runtime/retry"
	"github.com/drblury/tripflow/transport"
)

const (
	tracerName             = "tripflow/consumer"
	defaultShutdownTimeout = 10 * time.Second
)

// Handler applies decoded booking events.
type Handler interface {
	HandleCreated(ctx context.Context, env events.Envelope) error
	HandleStatusUpdated(ctx context.Context, env events.Envelope) error
}

// Dialer opens a transport. It is called on every connection attempt.
type Dialer func(ctx context.Context) (transport.Transport, error)

// Options configures a Consumer.
type Options struct {
	// Topic is the single topic the consumer follows.
	Topic string
	Retry retry.Policy
	// ShutdownTimeout bounds how long Disconnect waits for the in-flight message.
	ShutdownTimeout time.Duration
	// DeadLetterTopic receives copies of messages whose handler failed.
	// Empty disables forwarding.
	DeadLetterTopic string
	Logger          logging.ServiceLogger
	Metrics         *metrics.Pipeline
}

// Consumer is one subscription to one topic. Connect, StartConsuming and
// Disconnect may be called from different goroutines.
type Consumer struct {
	dial            Dialer
	handler         Handler
	topic           string
	policy          retry.Policy
	shutdownTimeout time.Duration
	deadLetterTopic string
	logger          logging.ServiceLogger
	metrics         *metrics.Pipeline
	tracer          trace.Tracer
	process         message.HandlerFunc

	state atomic.Int32

	// lifecycle serialises Connect and Disconnect.
	lifecycle sync.Mutex
	tr        transport.Transport
	messages  <-chan *message.Message
	cancelSub context.CancelFunc
	stop      chan struct{}
	done      chan struct{}
	stopping  atomic.Bool
}

// New returns a disconnected Consumer.
func New(dial Dialer, handler Handler, opts Options) (*Consumer, error) {
	if dial == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	if handler == nil {
		return nil, errors.New("tripflow: consumer handler is required")
	}
	if opts.Topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	c := &Consumer{
		dial:            dial,
		handler:         handler,
		topic:           opts.Topic,
		policy:          opts.Retry,
		shutdownTimeout: opts.ShutdownTimeout,
		deadLetterTopic: opts.DeadLetterTopic,
		logger:          opts.Logger.With(logging.LogFields{"component": "consumer", "topic": opts.Topic}),
		metrics:         opts.Metrics,
		tracer:          otel.Tracer(tracerName),
	}
	c.process = chain(c.dispatch, c.middlewares()...)
	return c, nil
}

// Topic is the topic this consumer follows.
func (c *Consumer) Topic() string { return c.topic }

// State reports the current lifecycle state.
func (c *Consumer) State() State { return State(c.state.Load()) }

func (c *Consumer) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.Debug("Consumer state changed", logging.LogFields{"from": prev.String(), "to": s.String()})
	}
}

// Connect opens the transport and subscribes, retrying with the configured
// policy. It is a no-op once subscribed.
func (c *Consumer) Connect(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if s := c.State(); s == StateSubscribed || s == StateRunning {
		return nil
	}
	// A subscription that ended on its own still holds its transport.
	if c.cancelSub != nil {
		c.cancelSub()
		c.cancelSub = nil
		if err := c.tr.Close(); err != nil {
			c.logger.Debug("Closing stale transport", logging.LogFields{"error": err.Error()})
		}
	}
	c.setState(StateConnecting)

	err := retry.Do(ctx, c.policy, func() error {
		return c.subscribe(ctx)
	}, func(attempt int, err error, wait time.Duration) {
		c.logger.Info("Consumer connect failed, retrying", logging.LogFields{
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   err.Error(),
		})
	})
	if err != nil {
		c.setState(StateDisconnected)
		c.logger.Error("Consumer could not subscribe", err, nil)
		return fmt.Errorf("subscribe to %s: %w", c.topic, err)
	}

	c.stop = make(chan struct{})
	c.stopping.Store(false)
	c.setState(StateSubscribed)
	c.logger.Info("Consumer subscribed", nil)
	return nil
}

// subscribe is one connection attempt. The subscription context outlives ctx
// and is cancelled by Disconnect.
func (c *Consumer) subscribe(ctx context.Context) error {
	tr, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	if tr.Subscriber == nil {
		_ = tr.Close()
		return retry.Permanent(errspkg.ErrSubscriberRequired)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	messages, err := tr.Subscriber.Subscribe(subCtx, c.topic)
	if err != nil {
		cancel()
		if cerr := tr.Close(); cerr != nil {
			c.logger.Debug("Closing transport after failed subscribe", logging.LogFields{"error": cerr.Error()})
		}
		return err
	}

	c.tr = tr
	c.messages = messages
	c.cancelSub = cancel
	return nil
}

// StartConsuming runs the dispatch loop until ctx is done, Disconnect is
// called or the subscription ends. Messages are handled one at a time. When
// ctx ends the loop, the subscription is kept and the consumer is back in
// StateSubscribed, so StartConsuming may be called again.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	c.lifecycle.Lock()
	switch c.State() {
	case StateRunning:
		c.lifecycle.Unlock()
		return errspkg.ErrConsumerRunning
	case StateSubscribed:
	default:
		c.lifecycle.Unlock()
		return errspkg.ErrConsumerNotConnected
	}
	c.done = make(chan struct{})
	messages, stop, done := c.messages, c.stop, c.done
	c.setState(StateRunning)
	c.lifecycle.Unlock()

	defer close(done)
	defer c.leaveRunning()
	c.logger.Info("Consumer running", nil)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		case msg, ok := <-messages:
			if !ok {
				if c.stopping.Load() {
					return nil
				}
				c.setState(StateDisconnected)
				return fmt.Errorf("%w: subscription to %s ended", errspkg.ErrConsumerClosed, c.topic)
			}
			c.handle(msg)
		}
	}
}

// leaveRunning hands the subscription back after the loop returned without
// Disconnect. Disconnect and a closed subscription set their own state.
func (c *Consumer) leaveRunning() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.stopping.Load() || c.State() != StateRunning {
		return
	}
	c.setState(StateSubscribed)
	c.logger.Info("Consumer loop stopped, subscription kept", nil)
}

// handle gives msg exactly one attempt and always acknowledges it.
func (c *Consumer) handle(msg *message.Message) {
	defer msg.Ack()

	if created, ok := ids.Time(msg.UUID); ok {
		c.metrics.ObserveLag(c.topic, time.Since(created))
	}
	eventType := msg.Metadata.Get(metadata.HeaderEventType)

	_, err := c.process(msg)
	switch {
	case errors.Is(err, errIgnored):
		c.metrics.RecordConsumed(c.topic, "unknown", metrics.OutcomeIgnored)
	case err != nil:
		c.metrics.RecordConsumed(c.topic, eventType, metrics.OutcomeFailed)
		c.logger.Error("Booking event handling failed", err, logging.LogFields{
			"message_uuid": msg.UUID,
			"event_type":   eventType,
			"booking_id":   msg.Metadata.Get(metadata.KeyPartition),
		})
		c.deadLetter(msg, err)
	default:
		c.metrics.RecordConsumed(c.topic, eventType, metrics.OutcomeApplied)
	}
}

var errIgnored = errors.New("message ignored")

// dispatch routes on the event-type header before the body is decoded.
func (c *Consumer) dispatch(msg *message.Message) ([]*message.Message, error) {
	eventType, err := events.EventTypeFromHeaders(msg.Metadata)
	if err != nil {
		c.logger.Info("Dropping message with unrecognised event type", logging.LogFields{
			"message_uuid": msg.UUID,
			"event_type":   msg.Metadata.Get(metadata.HeaderEventType),
		})
		return nil, errIgnored
	}

	env, err := events.Unmarshal(msg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}

	switch eventType {
	case events.EventBookingCreated:
		err = c.handler.HandleCreated(msg.Context(), env)
	case events.EventBookingStatusUpdated:
		err = c.handler.HandleStatusUpdated(msg.Context(), env)
	}
	return nil, err
}

// deadLetter forwards a copy of a failed message when a dead-letter topic is
// configured. Failures here are logged; the original is acked regardless.
func (c *Consumer) deadLetter(msg *message.Message, cause error) {
	if c.deadLetterTopic == "" {
		return
	}
	c.lifecycle.Lock()
	pub := c.tr.Publisher
	c.lifecycle.Unlock()
	if pub == nil {
		c.logger.Error("Dead-letter topic configured without a publisher", errspkg.ErrPublisherRequired, nil)
		return
	}

	copied := message.NewMessage(msg.UUID, msg.Payload)
	copied.Metadata = metadata.ForDeadLetter(msg.Metadata, c.topic, cause.Error())
	if err := pub.Publish(c.deadLetterTopic, copied); err != nil {
		c.logger.Error("Dead-letter publish failed", err, logging.LogFields{"message_uuid": msg.UUID})
		return
	}
	c.metrics.RecordDeadLetter(c.topic)
}

// Disconnect stops the loop, waits up to the shutdown timeout (or ctx) for
// the in-flight message, then closes the transport. It is idempotent.
func (c *Consumer) Disconnect(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	state := c.State()
	if state == StateDisconnected && c.cancelSub == nil {
		return nil
	}

	c.stopping.Store(true)
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	if state == StateRunning {
		done := c.done
		c.lifecycle.Unlock()
		c.waitForLoop(ctx, done)
		c.lifecycle.Lock()
	}
	if c.cancelSub != nil {
		c.cancelSub()
		c.cancelSub = nil
	}

	err := c.tr.Close()
	c.tr = transport.Transport{}
	c.messages = nil
	c.setState(StateDisconnected)
	c.logger.Info("Consumer disconnected", nil)
	if err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

func (c *Consumer) waitForLoop(ctx context.Context, done <-chan struct{}) {
	timer := time.NewTimer(c.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		c.logger.Info("Shutdown timeout reached with a message in flight", logging.LogFields{"timeout": c.shutdownTimeout.String()})
	case <-ctx.Done():
	}
}
