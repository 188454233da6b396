package tripflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/drblury/tripflow/transport/channel"
)

func TestConstructorsRequireConfig(t *testing.T) {
	if _, err := NewProducer(nil, nil, nil); !errors.Is(err, ErrConfigRequired) {
		t.Fatalf("expected config required error, got %v", err)
	}
	if _, err := NewConsumer(nil, nil, nil, nil); !errors.Is(err, ErrConfigRequired) {
		t.Fatalf("expected config required error, got %v", err)
	}
}

func TestNewConsumerFollowsListingTopic(t *testing.T) {
	store, err := NewStore(ListingHotel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := &Config{PubSubSystem: "channel", ListingType: "hotel"}
	c, err := NewConsumer(cfg, NewProjectorHandler(store, nil, nil), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Topic() != TopicHotelBookings {
		t.Fatalf("expected %s, got %s", TopicHotelBookings, c.Topic())
	}

	cfg.ListingType = "car"
	if _, err := NewConsumer(cfg, NewProjectorHandler(store, nil, nil), nil, nil); !errors.Is(err, ErrUnknownListingType) {
		t.Fatalf("expected unknown listing type, got %v", err)
	}
}

func TestProducerToStoreOverChannel(t *testing.T) {
	t.Cleanup(func() { _ = channel.Shutdown() })
	ctx := context.Background()

	cfg := &Config{
		PubSubSystem:         "channel",
		ListingType:          "flight",
		Source:               "booking-service",
		RetryMaxAttempts:     2,
		RetryInitialInterval: time.Millisecond,
	}

	store, err := NewStore(ListingFlight)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err := NewConsumer(cfg, NewProjectorHandler(store, nil, nil), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- c.StartConsuming(ctx) }()
	deadline := time.Now().Add(2 * time.Second)
	for c.State() != ConsumerRunning {
		if time.Now().After(deadline) {
			t.Fatal("consumer did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	p, err := NewProducer(cfg, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	ok := p.PublishBookingCreated(ctx, Booking{
		BookingID:   "FL-1",
		ListingType: ListingFlight,
		Status:      StatusPending,
		Payload: FlightPayload(FlightBooking{
			OutboundFlight: FlightLeg{Airline: "KLM", Origin: "AMS", Destination: "LIS"},
			Passengers:     2,
			TotalPrice:     310,
		}),
	})
	if !ok {
		t.Fatal("expected publish to succeed")
	}
	if !p.PublishBookingStatusUpdate(ctx, "FL-1", StatusCompleted, ListingFlight) {
		t.Fatal("expected status update to succeed")
	}

	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("consume loop: %v", err)
	}

	st := store.Stats(ByAirline("klm"))
	if st.Count != 1 || st.ByStatus[StatusCompleted] != 1 || st.TotalRevenue != 310 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	if got := RetryPolicyFromConfig(nil); got != DefaultRetryPolicy() {
		t.Fatalf("expected default policy, got %+v", got)
	}
	got := RetryPolicyFromConfig(&Config{RetryMaxAttempts: 7, RetryInitialInterval: time.Second, RetryMaxInterval: time.Minute})
	if got.MaxAttempts != 7 || got.InitialInterval != time.Second || got.MaxInterval != time.Minute {
		t.Fatalf("unexpected policy %+v", got)
	}
}

func TestLoggerExports(t *testing.T) {
	logger := NewEntryServiceLogger(&stubEntry{})
	logger.Info("boot", LogFields{"component": "test"})
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if _, err := MarshalIndent(payload, "", "  "); err != nil {
		t.Fatalf("marshal indent alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestMetadataExport(t *testing.T) {
	md := NewMetadata("key", "value")
	if md["key"] != "value" {
		t.Fatalf("expected metadata to contain key, got %#v", md)
	}
}

type stubEntry struct {
	fields LogFields
	err    error
}

func (s *stubEntry) Error(args ...any) {}
func (s *stubEntry) Info(args ...any)  {}
func (s *stubEntry) Debug(args ...any) {}
func (s *stubEntry) Trace(args ...any) {}

func (s *stubEntry) WithError(err error) *stubEntry {
	clone := *s
	clone.err = err
	return &clone
}

func (s *stubEntry) WithField(key string, value any) *stubEntry {
	clone := *s
	if clone.fields == nil {
		clone.fields = make(LogFields)
	}
	clone.fields[key] = value
	return &clone
}
