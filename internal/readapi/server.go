// Package readapi serves the projection of one consuming service over HTTP.
package readapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/tripflow/internal/consumer"
	"github.com/drblury/tripflow/internal/events"
	"github.com/drblury/tripflow/internal/projection"
	"github.com/drblury/tripflow/internal/runtime/logging"
)

// StateFunc reports the state of the consumer feeding the projection.
type StateFunc func() consumer.State

type Server struct {
	e *echo.Echo

	store  *projection.Store
	state  StateFunc
	logger logging.ServiceLogger
}

// NewServer registers the routes. A nil gatherer leaves /metrics out.
func NewServer(store *projection.Store, state StateFunc, gatherer prometheus.Gatherer, logger logging.ServiceLogger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = serializer{}

	srv := &Server{
		e:      e,
		store:  store,
		state:  state,
		logger: logger.With(logging.LogFields{"component": "readapi"}),
	}

	e.Use(srv.logRequests)

	e.GET("/bookings", srv.ListBookingsHandler)
	e.GET("/bookings/stats", srv.StatsHandler)
	e.GET("/bookings/:id", srv.GetBookingHandler)
	e.GET("/healthz", srv.HealthHandler)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return srv
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) ListBookingsHandler(c echo.Context) error {
	filters, err := parseFilters(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	bookings := []projection.Booking{}
	for b := range s.store.All(filters...) {
		bookings = append(bookings, b)
	}
	return c.JSON(http.StatusOK, bookings)
}

func (s *Server) StatsHandler(c echo.Context) error {
	filters, err := parseFilters(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, s.store.Stats(filters...))
}

func (s *Server) GetBookingHandler(c echo.Context) error {
	b, ok := s.store.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "booking not found")
	}
	return c.JSON(http.StatusOK, b)
}

type healthResponse struct {
	Status      string `json:"status"`
	Consumer    string `json:"consumer"`
	ListingType string `json:"listingType"`
	Bookings    int    `json:"bookings"`
}

// HealthHandler answers 200 only while the consumer loop is running.
func (s *Server) HealthHandler(c echo.Context) error {
	state := consumer.StateDisconnected
	if s.state != nil {
		state = s.state()
	}

	resp := healthResponse{
		Status:      "ok",
		Consumer:    state.String(),
		ListingType: string(s.store.ListingType()),
		Bookings:    s.store.Len(),
	}
	if state != consumer.StateRunning {
		resp.Status = "unavailable"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.logger.Trace("Handling a request", logging.LogFields{"path": c.Request().URL.Path})

		err := next(c)
		if err != nil {
			var httpErr *echo.HTTPError
			if !errors.As(err, &httpErr) || httpErr.Code >= http.StatusInternalServerError {
				s.logger.Error("Request handling error", err, logging.LogFields{"path": c.Request().URL.Path})
			}
		}
		return err
	}
}

func parseFilters(c echo.Context) ([]projection.Filter, error) {
	var filters []projection.Filter

	if raw := c.QueryParam("hotelId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid hotelId %q", raw)
		}
		filters = append(filters, projection.ByHotelID(id))
	}
	if airline := c.QueryParam("airline"); airline != "" {
		filters = append(filters, projection.ByAirline(airline))
	}
	if raw := c.QueryParam("status"); raw != "" {
		status, err := events.ParseStatus(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid status %q", raw)
		}
		filters = append(filters, projection.ByStatus(status))
	}

	return filters, nil
}

// Start blocks until the server stops. A graceful Stop is not an error.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting read API", logging.LogFields{"addr": addr})
	err := s.e.Start(addr)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
