package producer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/tripflow/internal/events"
	errspkg "github.com/drblury/tripflow/internal/runtime/errors"
	"github.com/drblury/tripflow/internal/runtime/logging"
	"github.com/drblury/tripflow/internal/runtime/metadata"
	"github.com/drblury/tripflow/internal/runtime/metrics"
	"github.com/drblury/tripflow/internal/runtime/retry"
)

type published struct {
	topic string
	msg   *message.Message
}

type fakePublisher struct {
	mu       sync.Mutex
	failures int
	sent     []published
	closed   int
}

func (f *fakePublisher) Publish(topic string, msgs ...*message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	for _, m := range msgs {
		f.sent = append(f.sent, published{topic: topic, msg: m})
	}
	return nil
}

func (f *fakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakePublisher) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.sent...)
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 5, InitialInterval: time.Millisecond, MaxInterval: 4 * time.Millisecond}
}

var clock = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }

func newProducer(t *testing.T, dial Dialer, opts Options) *Producer {
	t.Helper()
	if opts.Source == "" {
		opts.Source = "booking-service"
	}
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = fastPolicy()
	}
	if opts.Now == nil {
		opts.Now = clock
	}
	p, err := New(dial, opts)
	require.NoError(t, err)
	return p
}

func staticDialer(pub message.Publisher, dials *atomic.Int32) Dialer {
	return func(ctx context.Context) (message.Publisher, error) {
		if dials != nil {
			dials.Add(1)
		}
		return pub, nil
	}
}

func hotelBooking() events.Booking {
	return events.Booking{
		BookingID:   "BK1",
		ListingType: events.ListingHotel,
		Status:      events.StatusPending,
		Payload: events.HotelPayload(events.HotelBooking{
			HotelID:    7,
			HotelName:  "Alfama Inn",
			City:       "Lisbon",
			CheckIn:    "2026-04-01",
			CheckOut:   "2026-04-03",
			Guests:     2,
			Nights:     2,
			TotalPrice: 500,
		}),
	}
}

func TestNewValidatesInputs(t *testing.T) {
	_, err := New(nil, Options{Source: "booking-service"})
	assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)

	_, err = New(staticDialer(&fakePublisher{}, nil), Options{})
	var cfgErr errspkg.ConfigValidationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestPublishBookingCreated(t *testing.T) {
	pub := &fakePublisher{}
	p := newProducer(t, staticDialer(pub, nil), Options{})

	require.True(t, p.PublishBookingCreated(context.Background(), hotelBooking()))

	sent := pub.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, events.TopicHotelBookings, sent[0].topic)

	msg := sent[0].msg
	assert.Equal(t, "booking-created", msg.Metadata.Get(metadata.HeaderEventType))
	assert.Equal(t, "7", msg.Metadata.Get(metadata.HeaderHotelID))
	assert.Equal(t, "BK1", msg.Metadata.Get(metadata.KeyPartition))
	assert.NotEmpty(t, msg.Metadata.Get(metadata.KeyCorrelationID))

	env, err := events.Unmarshal(msg)
	require.NoError(t, err)
	assert.Equal(t, "booking-service", env.Source)
	assert.Equal(t, clock(), env.Timestamp)
	assert.Equal(t, 500.0, env.Payload.TotalPrice())
}

func TestStatusUpdateUsesSameTopicAndKey(t *testing.T) {
	pub := &fakePublisher{}
	p := newProducer(t, staticDialer(pub, nil), Options{})

	require.True(t, p.PublishBookingCreated(context.Background(), hotelBooking()))
	require.True(t, p.PublishBookingStatusUpdate(context.Background(), "BK1", events.StatusConfirmed, events.ListingHotel))

	sent := pub.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0].topic, sent[1].topic)
	assert.Equal(t, sent[0].msg.Metadata.Get(metadata.KeyPartition), sent[1].msg.Metadata.Get(metadata.KeyPartition))
	assert.Equal(t, "booking-status-updated", sent[1].msg.Metadata.Get(metadata.HeaderEventType))
}

func TestLazyConnectDialsOnce(t *testing.T) {
	var dials atomic.Int32
	pub := &fakePublisher{}
	p := newProducer(t, staticDialer(pub, &dials), Options{})
	assert.False(t, p.Connected())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Connect(context.Background()))
		}()
	}
	wg.Wait()

	assert.True(t, p.Connected())
	assert.Equal(t, int32(1), dials.Load())

	p.PublishBookingStatusUpdate(context.Background(), "BK1", events.StatusConfirmed, events.ListingHotel)
	assert.Equal(t, int32(1), dials.Load())
}

func TestConnectRetriesThenFails(t *testing.T) {
	var dials atomic.Int32
	p := newProducer(t, func(ctx context.Context) (message.Publisher, error) {
		dials.Add(1)
		return nil, errors.New("no brokers")
	}, Options{})

	err := p.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(5), dials.Load())
	assert.False(t, p.Connected())
}

func TestPublishReconnectsAfterFailure(t *testing.T) {
	var dials atomic.Int32
	pub := &fakePublisher{failures: 2}
	p := newProducer(t, staticDialer(pub, &dials), Options{})

	require.True(t, p.PublishBookingCreated(context.Background(), hotelBooking()))

	assert.Len(t, pub.messages(), 1)
	assert.Equal(t, int32(3), dials.Load(), "every failed publish drops the connection")
	assert.Equal(t, 2, pub.closed)
}

func TestPublishReportsFalseAfterRetryBudget(t *testing.T) {
	var logs bytes.Buffer
	logger, err := logging.New(logging.BackendSlog, "debug", &logs)
	require.NoError(t, err)

	pub := &fakePublisher{failures: 100}
	p := newProducer(t, staticDialer(pub, nil), Options{Logger: logger})

	ok := p.PublishBookingCreated(context.Background(), hotelBooking())
	assert.False(t, ok)
	assert.Empty(t, pub.messages())
	assert.Equal(t, 95, pub.failures, "five attempts are made")
	assert.Contains(t, logs.String(), "Booking event not propagated")
	assert.Contains(t, logs.String(), `"booking_id":"BK1"`)
}

func TestPublishRejectsInvalidEvents(t *testing.T) {
	var dials atomic.Int32
	pub := &fakePublisher{}
	p := newProducer(t, staticDialer(pub, &dials), Options{})

	assert.False(t, p.PublishBookingStatusUpdate(context.Background(), "BK1", events.StatusConfirmed, "car"))
	assert.False(t, p.PublishBookingStatusUpdate(context.Background(), "", events.StatusConfirmed, events.ListingHotel))
	assert.False(t, p.PublishBookingCreated(context.Background(), events.Booking{BookingID: "BK2", ListingType: events.ListingFlight, Status: events.StatusPending}))

	assert.Empty(t, pub.messages())
	assert.Zero(t, dials.Load(), "invalid events never reach the broker")
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	pub := &fakePublisher{failures: 100}
	p := newProducer(t, staticDialer(pub, nil), Options{Retry: retry.Policy{MaxAttempts: 5, InitialInterval: time.Hour}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan bool, 1)
	go func() { done <- p.PublishBookingCreated(ctx, hotelBooking()) }()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("publish did not stop on a cancelled context")
	}
}

func TestCloseIsIdempotentAndAllowsReconnect(t *testing.T) {
	var dials atomic.Int32
	pub := &fakePublisher{}
	p := newProducer(t, staticDialer(pub, &dials), Options{})

	require.NoError(t, p.Close())
	require.NoError(t, p.Connect(context.Background()))
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, pub.closed)
	assert.False(t, p.Connected())

	require.True(t, p.PublishBookingCreated(context.Background(), hotelBooking()))
	assert.Equal(t, int32(2), dials.Load())
}

func TestPublishMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	require.NoError(t, m.Register())

	pub := &fakePublisher{}
	p := newProducer(t, staticDialer(pub, nil), Options{Metrics: m})

	require.True(t, p.PublishBookingCreated(context.Background(), hotelBooking()))
	require.False(t, p.PublishBookingCreated(context.Background(), events.Booking{BookingID: "BK2", ListingType: events.ListingHotel, Status: events.StatusPending}))

	expected := `
# HELP tripflow_producer_published_total Booking events handed to the broker, by result
# TYPE tripflow_producer_published_total counter
tripflow_producer_published_total{event_type="booking-created",result="failed",topic="hotel-bookings"} 1
tripflow_producer_published_total{event_type="booking-created",result="ok",topic="hotel-bookings"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "tripflow_producer_published_total"))
	assert.Len(t, pub.messages(), 1, "the metrics decorator forwards to the real publisher")
}
