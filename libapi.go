package tripflow

import (
	"context"

	"github.com/drblury/tripflow/internal/app"
	consumerpkg "github.com/drblury/tripflow/internal/consumer"
	eventspkg "github.com/drblury/tripflow/internal/events"
	producerpkg "github.com/drblury/tripflow/internal/producer"
	projectionpkg "github.com/drblury/tripflow/internal/projection"
	configpkg "github.com/drblury/tripflow/internal/runtime/config"
	errspkg "github.com/drblury/tripflow/internal/runtime/errors"
	idspkg "github.com/drblury/tripflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/tripflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/tripflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/tripflow/internal/runtime/metadata"
	metricspkg "github.com/drblury/tripflow/internal/runtime/metrics"
	"github.com/drblury/tripflow/internal/runtime/retry"
	newtransport "github.com/drblury/tripflow/transport"

	// Built-in transports.
	_ "github.com/drblury/tripflow/transport/channel"
	_ "github.com/drblury/tripflow/transport/kafka"
)

type (
	Config = configpkg.Config
	Role   = configpkg.Role

	ListingType   = eventspkg.ListingType
	EventType     = eventspkg.EventType
	Status        = eventspkg.Status
	Envelope      = eventspkg.Envelope
	Booking       = eventspkg.Booking
	Payload       = eventspkg.Payload
	FlightBooking = eventspkg.FlightBooking
	FlightLeg     = eventspkg.FlightLeg
	HotelBooking  = eventspkg.HotelBooking
	Contact       = eventspkg.Contact

	Producer        = producerpkg.Producer
	ProducerOptions = producerpkg.Options

	Consumer        = consumerpkg.Consumer
	ConsumerOptions = consumerpkg.Options
	ConsumerState   = consumerpkg.State
	Handler         = consumerpkg.Handler

	Store            = projectionpkg.Store
	StoreOption      = projectionpkg.Option
	ProjectedBooking = projectionpkg.Booking
	Filter           = projectionpkg.Filter
	Stats            = projectionpkg.Stats

	RetryPolicy = retry.Policy
	Metrics     = metricspkg.Pipeline
	Metadata    = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	Transport        = newtransport.Transport
	TransportBuilder = newtransport.Builder
	TransportConfig  = newtransport.Config

	ConfigValidationError = errspkg.ConfigValidationError
)

const (
	RoleAdmin   = configpkg.RoleAdmin
	RoleOwner   = configpkg.RoleOwner
	RoleBooking = configpkg.RoleBooking

	ListingFlight = eventspkg.ListingFlight
	ListingHotel  = eventspkg.ListingHotel

	EventBookingCreated       = eventspkg.EventBookingCreated
	EventBookingStatusUpdated = eventspkg.EventBookingStatusUpdated

	StatusPending   = eventspkg.StatusPending
	StatusConfirmed = eventspkg.StatusConfirmed
	StatusCancelled = eventspkg.StatusCancelled
	StatusCompleted = eventspkg.StatusCompleted

	TopicFlightBookings = eventspkg.TopicFlightBookings
	TopicHotelBookings  = eventspkg.TopicHotelBookings

	ConsumerDisconnected = consumerpkg.StateDisconnected
	ConsumerConnecting   = consumerpkg.StateConnecting
	ConsumerSubscribed   = consumerpkg.StateSubscribed
	ConsumerRunning      = consumerpkg.StateRunning
)

var (
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	TopicFor      = eventspkg.TopicFor
	PartitionFor  = eventspkg.PartitionFor
	MarshalEvent  = eventspkg.Marshal
	ParseEvent    = eventspkg.Unmarshal
	FlightPayload = eventspkg.FlightPayload
	HotelPayload  = eventspkg.HotelPayload

	NewStore            = projectionpkg.NewStore
	WithStoreLogger     = projectionpkg.WithLogger
	WithStoreMetrics    = projectionpkg.WithMetrics
	WithOrphanBuffering = projectionpkg.WithOrphanBuffering
	NewProjectorHandler = projectionpkg.NewHandler
	ByHotelID           = projectionpkg.ByHotelID
	ByAirline           = projectionpkg.ByAirline
	ByStatus            = projectionpkg.ByStatus

	NewMetrics         = metricspkg.New
	DefaultRetryPolicy = retry.DefaultPolicy

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrSubscriberRequired   = errspkg.ErrSubscriberRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrBookingIDRequired    = errspkg.ErrBookingIDRequired
	ErrUnknownListingType   = errspkg.ErrUnknownListingType
	ErrUnknownEventType     = errspkg.ErrUnknownEventType
	ErrUnknownStatus        = errspkg.ErrUnknownStatus
	ErrPayloadRequired      = errspkg.ErrPayloadRequired
	ErrPayloadMismatch      = errspkg.ErrPayloadMismatch
	ErrListingTypeMismatch  = errspkg.ErrListingTypeMismatch
	ErrConsumerNotConnected = errspkg.ErrConsumerNotConnected
	ErrConsumerRunning      = errspkg.ErrConsumerRunning
	ErrConsumerClosed       = errspkg.ErrConsumerClosed

	NewLogger            = loggingpkg.New
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID

	RegisterTransport = newtransport.Register
	BuildTransport    = newtransport.Build
)

// RetryPolicyFromConfig maps the RETRY_* settings onto a retry policy.
func RetryPolicyFromConfig(cfg *Config) RetryPolicy {
	if cfg == nil {
		return retry.DefaultPolicy()
	}
	return retry.Policy{
		MaxAttempts:     cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
	}
}

// NewProducer builds a Producer that dials the transport selected by cfg.
// m may be nil.
func NewProducer(cfg *Config, logger ServiceLogger, m *Metrics) (*Producer, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	return producerpkg.New(producerpkg.TransportDialer(cfg, logger), producerpkg.Options{
		Source:  cfg.Source,
		Retry:   RetryPolicyFromConfig(cfg),
		Logger:  logger,
		Metrics: m,
	})
}

// NewConsumer builds a Consumer for the topic of cfg's listing type that
// dials the transport selected by cfg.
func NewConsumer(cfg *Config, handler Handler, logger ServiceLogger, m *Metrics) (*Consumer, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	listing, err := eventspkg.ParseListingType(cfg.ListingType)
	if err != nil {
		return nil, err
	}
	topic, err := eventspkg.TopicFor(listing)
	if err != nil {
		return nil, err
	}
	return consumerpkg.New(consumerpkg.TransportDialer(cfg, logger), handler, consumerpkg.Options{
		Topic:           topic,
		Retry:           RetryPolicyFromConfig(cfg),
		ShutdownTimeout: cfg.ShutdownTimeout,
		DeadLetterTopic: cfg.DeadLetterTopic,
		Logger:          logger,
		Metrics:         m,
	})
}

// RunService runs a consuming service for role until ctx is cancelled or the
// process receives SIGINT or SIGTERM.
func RunService(ctx context.Context, cfg *Config, role Role) error {
	return app.Run(ctx, cfg, role)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
