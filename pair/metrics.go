package pair

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	operations   *prometheus.CounterVec
	swapDuration *prometheus.HistogramVec
	ticksCrossed prometheus.Histogram
	tickIndex    *prometheus.GaugeVec
}

// NewMetrics creates and registers the engine metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clpool_operations_total",
				Help: "Pool operations by kind and outcome",
			},
			[]string{"operation", "status"},
		),
		swapDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clpool_swap_duration_seconds",
				Help:    "Time spent walking ticks for a swap",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{},
		),
		ticksCrossed: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clpool_swap_ticks",
				Help:    "Number of tick steps taken by a committed swap",
				Buckets: []float64{1, 2, 4, 8, 16, 64, 256, 1024},
			},
		),
		tickIndex: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "clpool_tick_index",
				Help: "Tick index holding the current sqrt price of a pool",
			},
			[]string{"pool"},
		),
	}
}

func (m *Metrics) observe(op string, err error) {
	status := statusOK
	if err != nil {
		status = statusError
	}
	m.operations.WithLabelValues(op, status).Inc()
}
