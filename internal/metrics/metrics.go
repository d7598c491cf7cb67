package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector owns the bot's Prometheus series. A nil *Collector records nothing.
type Collector struct {
	Registry        *prometheus.Registry
	Readings        *prometheus.CounterVec
	OracleRequests  *prometheus.CounterVec
	OracleLatency   *prometheus.HistogramVec
	Payments        *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		Registry: reg,
		Readings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moonpath_readings_generated_total",
				Help: "Readings generated, by variant",
			},
			[]string{"reading_type"},
		),
		OracleRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moonpath_oracle_requests_total",
				Help: "Calls to the content-generation service, by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		OracleLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moonpath_oracle_duration_seconds",
				Help:    "Content-generation call duration in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"endpoint"},
		),
		Payments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moonpath_payment_attempts_total",
				Help: "Simulated payment attempts, by outcome",
			},
			[]string{"outcome"},
		),
		PersistFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moonpath_persist_failures_total",
				Help: "Failed writes to the key/value store, by operation",
			},
			[]string{"operation"},
		),
	}
}

func (c *Collector) ReadingGenerated(readingType string) {
	if c == nil {
		return
	}
	c.Readings.WithLabelValues(readingType).Inc()
}

func (c *Collector) ObserveOracle(endpoint string, ok bool, elapsed time.Duration) {
	if c == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	c.OracleRequests.WithLabelValues(endpoint, outcome).Inc()
	c.OracleLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (c *Collector) PaymentAttempt(outcome string) {
	if c == nil {
		return
	}
	c.Payments.WithLabelValues(outcome).Inc()
}

func (c *Collector) PersistFailed(operation string) {
	if c == nil {
		return
	}
	c.PersistFailures.WithLabelValues(operation).Inc()
}
