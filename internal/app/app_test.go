package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/tripflow/internal/consumer"
	"github.com/drblury/tripflow/internal/events"
	"github.com/drblury/tripflow/internal/producer"
	"github.com/drblury/tripflow/internal/projection"
	"github.com/drblury/tripflow/internal/projection/redismirror"
	"github.com/drblury/tripflow/internal/runtime/config"
	errspkg "github.com/drblury/tripflow/internal/runtime/errors"
	"github.com/drblury/tripflow/internal/runtime/logging"
	"github.com/drblury/tripflow/transport"
	"github.com/drblury/tripflow/transport/channel"
)

func channelConfig(role config.Role) *config.Config {
	c := &config.Config{
		Role:                 role,
		PubSubSystem:         "channel",
		Source:               "booking-service",
		RetryMaxAttempts:     3,
		RetryInitialInterval: 10 * time.Millisecond,
		RetryMaxInterval:     50 * time.Millisecond,
		ShutdownTimeout:      time.Second,
		HTTPAddr:             "127.0.0.1:0",
		MetricsEnabled:       true,
		RedisKeyPrefix:       "tripflow",
	}
	c.ApplyRoleDefaults()
	return c
}

// start runs a in the background and returns a stop function that cancels
// it and returns what Run returned.
func start(t *testing.T, a *App) func() error {
	t.Helper()
	t.Cleanup(func() { _ = channel.Shutdown() })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return a.Consumer().State() == consumer.StateRunning
	}, 2*time.Second, 5*time.Millisecond)

	return func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			return errors.New("app did not stop")
		}
	}
}

func newProducer(t *testing.T) *producer.Producer {
	t.Helper()
	p, err := producer.New(producer.TransportDialer(channelConfig(config.RoleBooking), nil), producer.Options{Source: "booking-service"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func hotelBooking(id string, price float64) events.Booking {
	return events.Booking{
		BookingID:   id,
		ListingType: events.ListingHotel,
		Status:      events.StatusPending,
		Payload: events.HotelPayload(events.HotelBooking{
			HotelID:    42,
			HotelName:  "Grand Canal",
			City:       "Venice",
			CheckIn:    "2026-07-01",
			CheckOut:   "2026-07-03",
			Guests:     2,
			Nights:     2,
			GuestInfo:  events.Contact{Name: "Ada", Email: "ada@example.com"},
			TotalPrice: price,
		}),
	}
}

func TestCreatedThenConfirmedEndToEnd(t *testing.T) {
	a, err := New(channelConfig(config.RoleOwner), Dependencies{Logger: logging.Nop()})
	require.NoError(t, err)
	stop := start(t, a)

	p := newProducer(t)
	ctx := context.Background()
	require.True(t, p.PublishBookingCreated(ctx, hotelBooking("BK1", 500.00)))
	require.True(t, p.PublishBookingStatusUpdate(ctx, "BK1", events.StatusConfirmed, events.ListingHotel))

	require.Eventually(t, func() bool {
		b, ok := a.Store().Get("BK1")
		return ok && b.Status == events.StatusConfirmed
	}, 2*time.Second, 5*time.Millisecond)

	st := a.Store().Stats()
	assert.Equal(t, 1, st.Count)
	assert.Equal(t, map[events.Status]int{events.StatusConfirmed: 1}, st.ByStatus)
	assert.InDelta(t, 500.00, st.TotalRevenue, 1e-9)

	rec := httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, stop())
	assert.Equal(t, consumer.StateDisconnected, a.Consumer().State())
}

func TestAdminOnlySeesFlights(t *testing.T) {
	a, err := New(channelConfig(config.RoleAdmin), Dependencies{Logger: logging.Nop()})
	require.NoError(t, err)
	stop := start(t, a)

	p := newProducer(t)
	ctx := context.Background()
	require.True(t, p.PublishBookingCreated(ctx, hotelBooking("BK-H", 120)))
	require.True(t, p.PublishBookingCreated(ctx, events.Booking{
		BookingID:   "BK-F",
		ListingType: events.ListingFlight,
		Status:      events.StatusPending,
		Payload: events.FlightPayload(events.FlightBooking{
			OutboundFlight: events.FlightLeg{Airline: "TAP", FlightNumber: "TP1234", Origin: "LIS", Destination: "JFK"},
			Passengers:     1,
			PassengerInfo:  events.Contact{Name: "Grace", Email: "grace@example.com"},
			TotalPrice:     640,
		}),
	}))

	require.Eventually(t, func() bool { return a.Store().Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	_, ok := a.Store().Get("BK-F")
	assert.True(t, ok)
	_, ok = a.Store().Get("BK-H")
	assert.False(t, ok)

	require.NoError(t, stop())
}

func TestRestoresFromRedisMirror(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	seed, err := projection.NewStore(events.ListingHotel)
	require.NoError(t, err)
	require.NoError(t, seed.ApplyCreated(events.NewCreated(hotelBooking("BK-OLD", 300), "booking-service", time.Now())))
	old, ok := seed.Get("BK-OLD")
	require.True(t, ok)

	m, err := redismirror.New(redismirror.NewClient(mr.Addr(), "", 0), "tripflow", events.ListingHotel)
	require.NoError(t, err)
	require.NoError(t, m.Save(context.Background(), old))
	require.NoError(t, m.Close())

	cfg := channelConfig(config.RoleOwner)
	cfg.RedisAddr = mr.Addr()
	a, err := New(cfg, Dependencies{Logger: logging.Nop()})
	require.NoError(t, err)
	stop := start(t, a)

	_, ok = a.Store().Get("BK-OLD")
	assert.True(t, ok)

	p := newProducer(t)
	require.True(t, p.PublishBookingStatusUpdate(context.Background(), "BK-OLD", events.StatusCancelled, events.ListingHotel))
	require.Eventually(t, func() bool {
		b, ok := a.Store().Get("BK-OLD")
		return ok && b.Status == events.StatusCancelled
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, stop())
	assert.Contains(t, mr.HGet("tripflow:hotel:bookings", "BK-OLD"), `"status":"cancelled"`)
}

func TestRunFailsWhenTransportNeverComesUp(t *testing.T) {
	dialErr := errors.New("broker unreachable")
	a, err := New(channelConfig(config.RoleOwner), Dependencies{
		Logger: logging.Nop(),
		Dialer: func(context.Context) (transport.Transport, error) { return transport.Transport{}, dialErr },
	})
	require.NoError(t, err)

	err = a.Run(context.Background())
	assert.ErrorIs(t, err, dialErr)
	assert.Equal(t, consumer.StateDisconnected, a.Consumer().State())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(channelConfig(config.RoleBooking), Dependencies{Logger: logging.Nop()})
	var cfgErr errspkg.ConfigValidationError
	assert.ErrorAs(t, err, &cfgErr)

	bad := channelConfig(config.RoleOwner)
	bad.RetryMaxAttempts = 0
	_, err = New(bad, Dependencies{Logger: logging.Nop()})
	assert.ErrorAs(t, err, &cfgErr)

	_, err = New(nil, Dependencies{Logger: logging.Nop()})
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNewRejectsUnorderedTransport(t *testing.T) {
	transport.RegisterCapabilities(channel.TransportName, transport.Capabilities{})
	t.Cleanup(func() { transport.RegisterCapabilities(channel.TransportName, transport.ChannelCapabilities) })

	_, err := New(channelConfig(config.RoleOwner), Dependencies{Logger: logging.Nop()})
	var cfgErr errspkg.ConfigValidationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "per-booking order")
}

func TestRunRequiresConfig(t *testing.T) {
	assert.ErrorIs(t, Run(context.Background(), nil, config.RoleOwner), errspkg.ErrConfigRequired)
}
