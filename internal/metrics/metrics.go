package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "theravillage"

// HTTPMetrics counts and times API requests by route pattern.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total API requests",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

func (m *HTTPMetrics) Observe(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(seconds)
}

// SchedulingMetrics counts backend scheduling operations by outcome.
type SchedulingMetrics struct {
	operations *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "operations_total",
			Help:      "Scheduling operations by name and outcome",
		}, []string{"operation", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operations)
	return m
}

func (m *SchedulingMetrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// CalendarMetrics tracks drag batches committed by the calendar controller.
type CalendarMetrics struct {
	batches   *prometheus.CounterVec
	batchSize *prometheus.HistogramVec
	stale     prometheus.Counter
}

func NewCalendarMetrics(reg prometheus.Registerer) *CalendarMetrics {
	m := &CalendarMetrics{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calendar",
			Name:      "batches_total",
			Help:      "Drag batches by mode and outcome",
		}, []string{"mode", "outcome"}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "calendar",
			Name:      "batch_cells",
			Help:      "Number of slot operations per drag batch",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}, []string{"mode"}),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calendar",
			Name:      "stale_results_total",
			Help:      "Load or batch results discarded because the visible week changed",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.batches, m.batchSize, m.stale)
	return m
}

func (m *CalendarMetrics) ObserveBatch(mode string, ops, failed int) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case failed == ops && ops > 0:
		outcome = "failed"
	case failed > 0:
		outcome = "partial"
	}
	m.batches.WithLabelValues(mode, outcome).Inc()
	m.batchSize.WithLabelValues(mode).Observe(float64(ops))
}

func (m *CalendarMetrics) ObserveStale() {
	if m == nil {
		return
	}
	m.stale.Inc()
}
