// Package metrics holds the Prometheus collectors of the booking pipeline.
// A nil *Pipeline is valid and records nothing, so collaborators can treat
// metrics as optional.
package metrics

import (
	"errors"
	"sync"
	"time"

	wmetrics "github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tripflow"

// Publish results and consume outcomes used as label values.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"

	OutcomeApplied = "applied"
	OutcomeIgnored = "ignored"
	OutcomeFailed  = "failed"
)

// Pipeline tracks publish, consume, dead-letter and projection statistics.
type Pipeline struct {
	mu sync.Mutex

	publishedTotal    *prometheus.CounterVec
	publishAttempts   *prometheus.HistogramVec
	consumedTotal     *prometheus.CounterVec
	deadLetteredTotal *prometheus.CounterVec
	projectionSize    *prometheus.GaugeVec
	deliveryLag       *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(subsystem, name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// New creates the collectors. A nil registerer means the default one.
func New(registerer prometheus.Registerer) *Pipeline {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Pipeline{
		registerer:        registerer,
		publishedTotal:    newCounterVec("producer", "published_total", "Booking events handed to the broker, by result", []string{"topic", "event_type", "result"}),
		publishAttempts:   newHistogramVec("producer", "publish_attempts", "Attempts needed per publish call", []float64{1, 2, 3, 4, 5}, []string{"topic"}),
		consumedTotal:     newCounterVec("consumer", "consumed_total", "Booking events processed by a consumer, by outcome", []string{"topic", "event_type", "outcome"}),
		deadLetteredTotal: newCounterVec("consumer", "dead_lettered_total", "Messages forwarded to the dead-letter topic", []string{"topic"}),
		projectionSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "projection",
			Name:      "bookings",
			Help:      "Bookings currently tracked by the projection",
		}, []string{"listing_type"}),
		deliveryLag: newHistogramVec("consumer", "delivery_lag_seconds", "Time between message creation and processing", []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60, 300}, []string{"topic"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (p *Pipeline) Register() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		p.publishedTotal,
		p.publishAttempts,
		p.consumedTotal,
		p.deadLetteredTotal,
		p.projectionSize,
		p.deliveryLag,
	}
	for _, c := range collectors {
		if err := p.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	p.registered = true
	return nil
}

// RecordPublish counts one publish call and the attempts it took.
func (p *Pipeline) RecordPublish(topic, eventType string, ok bool, attempts int) {
	if p == nil {
		return
	}
	result := ResultOK
	if !ok {
		result = ResultFailed
	}
	p.publishedTotal.WithLabelValues(topic, eventType, result).Inc()
	if attempts > 0 {
		p.publishAttempts.WithLabelValues(topic).Observe(float64(attempts))
	}
}

// RecordConsumed counts one processed message.
func (p *Pipeline) RecordConsumed(topic, eventType, outcome string) {
	if p == nil {
		return
	}
	p.consumedTotal.WithLabelValues(topic, eventType, outcome).Inc()
}

// RecordDeadLetter counts a message forwarded to the dead-letter topic.
func (p *Pipeline) RecordDeadLetter(topic string) {
	if p == nil {
		return
	}
	p.deadLetteredTotal.WithLabelValues(topic).Inc()
}

// SetProjectionSize reports how many bookings a projection tracks.
func (p *Pipeline) SetProjectionSize(listingType string, n int) {
	if p == nil {
		return
	}
	p.projectionSize.WithLabelValues(listingType).Set(float64(n))
}

// ObserveLag records the delivery lag of one message.
func (p *Pipeline) ObserveLag(topic string, lag time.Duration) {
	if p == nil || lag < 0 {
		return
	}
	p.deliveryLag.WithLabelValues(topic).Observe(lag.Seconds())
}

// HandlerMiddleware returns Watermill's handler execution metrics for
// subsystem, registered on the same registerer.
func (p *Pipeline) HandlerMiddleware(subsystem string) message.HandlerMiddleware {
	if p == nil {
		return func(h message.HandlerFunc) message.HandlerFunc { return h }
	}
	builder := wmetrics.NewPrometheusMetricsBuilder(p.registerer, namespace, subsystem)
	return builder.NewRouterMiddleware().Middleware
}

// DecoratePublisher wraps pub with Watermill's publish timing metrics.
func (p *Pipeline) DecoratePublisher(pub message.Publisher, subsystem string) (message.Publisher, error) {
	if p == nil {
		return pub, nil
	}
	builder := wmetrics.NewPrometheusMetricsBuilder(p.registerer, namespace, subsystem)
	return builder.DecoratePublisher(pub)
}

// Reset clears every series (useful for testing).
func (p *Pipeline) Reset() {
	if p == nil {
		return
	}
	p.publishedTotal.Reset()
	p.publishAttempts.Reset()
	p.consumedTotal.Reset()
	p.deadLetteredTotal.Reset()
	p.projectionSize.Reset()
	p.deliveryLag.Reset()
}
