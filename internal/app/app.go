// Package app wires a consuming service (admin or owner): transport,
// consumer runtime, projection, optional Redis mirror and the read API.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/drblury/tripflow/internal/consumer"
	"github.com/drblury/tripflow/internal/events"
	"github.com/drblury/tripflow/internal/projection"
	"github.com/drblury/tripflow/internal/projection/redismirror"
	"github.com/drblury/tripflow/internal/readapi"
	"github.com/drblury/tripflow/internal/runtime/config"
	errspkg "github.com/drblury/tripflow/internal/runtime/errors"
	"github.com/drblury/tripflow/internal/runtime/logging"
	"github.com/drblury/tripflow/internal/runtime/metrics"
	"github.com/drblury/tripflow/internal/runtime/retry"
	"github.com/drblury/tripflow/transport"

	// Registers the transports selectable through PUBSUB_SYSTEM.
	_ "github.com/drblury/tripflow/transport/channel"
	_ "github.com/drblury/tripflow/transport/kafka"
)

// Dependencies lets callers replace collaborators. Zero values are built
// from the configuration.
type Dependencies struct {
	Logger   logging.ServiceLogger
	Registry *prometheus.Registry
	Dialer   consumer.Dialer
}

type App struct {
	cfg    *config.Config
	logger logging.ServiceLogger

	registry *prometheus.Registry
	metrics  *metrics.Pipeline
	store    *projection.Store
	mirror   *redismirror.Mirror
	consumer *consumer.Consumer
	srv      *readapi.Server
}

// New validates cfg and builds a disconnected App.
func New(cfg *config.Config, deps Dependencies) (*App, error) {
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, errspkg.ConfigValidationError{Err: err}
	}
	if cfg.Role != config.RoleAdmin && cfg.Role != config.RoleOwner {
		return nil, errspkg.ConfigValidationError{Err: fmt.Errorf("role %q does not consume", cfg.Role)}
	}
	caps := transport.GetCapabilities(cfg.PubSubSystem)
	if !caps.PreservesKeyOrder {
		return nil, errspkg.ConfigValidationError{
			Err: fmt.Errorf("transport %q is not registered or does not preserve per-booking order", cfg.PubSubSystem),
		}
	}

	logger := deps.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.LogBackend, cfg.LogLevel, os.Stdout)
		if err != nil {
			return nil, errspkg.ConfigValidationError{Err: err}
		}
	}
	logger = logger.With(logging.LogFields{"service": cfg.KafkaClientID})
	logger.Info("Creating consuming service", logging.LogFields{
		"role":          string(cfg.Role),
		"pubsub_system": cfg.PubSubSystem,
		"cross_process": caps.CrossProcess,
		"dlq_emulated":  caps.RequiresDLQEmulation(),
		"config":        cfg,
	})

	a := &App{cfg: cfg, logger: logger}

	if cfg.MetricsEnabled {
		a.registry = deps.Registry
		if a.registry == nil {
			a.registry = prometheus.NewRegistry()
			a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		}
		a.metrics = metrics.New(a.registry)
		if err := a.metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	listing, err := events.ParseListingType(cfg.ListingType)
	if err != nil {
		return nil, errspkg.ConfigValidationError{Err: err}
	}
	topic, err := events.TopicFor(listing)
	if err != nil {
		return nil, errspkg.ConfigValidationError{Err: err}
	}

	a.store, err = projection.NewStore(listing,
		projection.WithLogger(logger),
		projection.WithMetrics(a.metrics),
		projection.WithOrphanBuffering(cfg.OrphanBuffering),
	)
	if err != nil {
		return nil, err
	}

	var sink projection.Sink
	if cfg.RedisAddr != "" {
		a.mirror, err = redismirror.New(redismirror.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), cfg.RedisKeyPrefix, listing)
		if err != nil {
			return nil, err
		}
		sink = a.mirror
	}

	dial := deps.Dialer
	if dial == nil {
		dial = consumer.TransportDialer(cfg, logger)
	}
	a.consumer, err = consumer.New(dial, projection.NewHandler(a.store, sink, logger), consumer.Options{
		Topic: topic,
		Retry: retry.Policy{
			MaxAttempts:     cfg.RetryMaxAttempts,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     cfg.RetryMaxInterval,
		},
		ShutdownTimeout: cfg.ShutdownTimeout,
		DeadLetterTopic: cfg.DeadLetterTopic,
		Logger:          logger,
		Metrics:         a.metrics,
	})
	if err != nil {
		return nil, err
	}

	var gatherer prometheus.Gatherer
	if a.registry != nil {
		gatherer = a.registry
	}
	a.srv = readapi.NewServer(a.store, a.consumer.State, gatherer, logger)

	return a, nil
}

// Store is the projection maintained by the service.
func (a *App) Store() *projection.Store { return a.store }

// Consumer is the runtime feeding the projection.
func (a *App) Consumer() *consumer.Consumer { return a.consumer }

// Run restores the mirror, connects the consumer and serves the read API
// until ctx is cancelled or either of them fails. The consumer is always
// disconnected before Run returns.
func (a *App) Run(ctx context.Context) error {
	a.restore(ctx)

	if err := a.consumer.Connect(ctx); err != nil {
		a.closeMirror()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.consumer.StartConsuming(gctx)
		if errors.Is(err, errspkg.ErrConsumerNotConnected) && gctx.Err() != nil {
			// Shutdown won the race against the loop start.
			return nil
		}
		return err
	})

	g.Go(func() error {
		return a.srv.Start(a.cfg.HTTPAddr)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down", nil)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.ShutdownTimeout+time.Second)
		defer cancel()

		err := a.consumer.Disconnect(shutdownCtx)
		if err != nil {
			a.logger.Error("Error disconnecting consumer", err, nil)
		}
		if stopErr := a.srv.Stop(shutdownCtx); stopErr != nil {
			a.logger.Error("Error stopping read API", stopErr, nil)
			err = errors.Join(err, stopErr)
		}
		a.closeMirror()
		return err
	})

	return g.Wait()
}

func (a *App) restore(ctx context.Context) {
	if a.mirror == nil {
		return
	}
	if err := a.mirror.Ping(ctx); err != nil {
		a.logger.Error("Redis mirror unreachable, starting with an empty projection", err, nil)
		return
	}
	records, err := a.mirror.Restore(ctx)
	if err != nil {
		a.logger.Error("Some mirrored bookings could not be restored", err, nil)
	}
	n := a.store.Seed(records...)
	a.logger.Info("Projection restored from Redis", logging.LogFields{"bookings": n})
}

func (a *App) closeMirror() {
	if a.mirror == nil {
		return
	}
	if err := a.mirror.Close(); err != nil {
		a.logger.Error("Error closing Redis mirror", err, nil)
	}
}

// Run is the service entrypoint: cfg is bound to role, and SIGINT or SIGTERM
// trigger a graceful shutdown.
func Run(ctx context.Context, cfg *config.Config, role config.Role) error {
	if cfg == nil {
		return errspkg.ErrConfigRequired
	}
	cfg.Role = role
	cfg.ApplyRoleDefaults()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := New(cfg, Dependencies{})
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
