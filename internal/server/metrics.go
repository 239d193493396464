package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors for machine operations. A nil *Metrics
// records nothing.
type Metrics struct {
	operations      *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	hardwareCalls   *prometheus.CounterVec
	hardwareLatency prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "laundromat_operations_total",
			Help: "Machine operations by operation and result code.",
		}, []string{"operation", "code"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "laundromat_cache_lookups_total",
			Help: "Cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		hardwareCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "laundromat_hardware_calls_total",
			Help: "Start-cycle calls to the hardware client by result.",
		}, []string{"result"}),
		hardwareLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "laundromat_hardware_call_seconds",
			Help:    "Latency of start-cycle calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observeOperation(op, code string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, code).Inc()
}

func (m *Metrics) observeCache(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) observeHardware(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.hardwareCalls.WithLabelValues(result).Inc()
	m.hardwareLatency.Observe(d.Seconds())
}
