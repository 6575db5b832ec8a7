package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce               sync.Once
	proctorRequestsTotal       *prometheus.CounterVec
	proctorLatencySeconds      *prometheus.HistogramVec
	proctorErrorsTotal         *prometheus.CounterVec
	violationWritesTotal       *prometheus.CounterVec
	leaseHeartbeatsTotal       *prometheus.CounterVec
	leaseContestedTotal        prometheus.Counter
	reconciliationRowsTotal    *prometheus.CounterVec
	rollupRefreshSecondsMetric prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors for the consistency core.
func RegisterMetrics() {
	registerOnce.Do(func() {
		proctorRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_requests_total",
			Help: "Total number of proctoring API requests served.",
		}, []string{"method", "route", "status"})

		proctorLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proctor_latency_seconds",
			Help:    "Latency distribution for proctoring API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		proctorErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_errors_total",
			Help: "Total number of error responses returned by proctoring endpoints.",
		}, []string{"method", "route", "status"})

		violationWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "violation_writes_total",
			Help: "Violation write attempts by linkage outcome.",
		}, []string{"outcome"})

		leaseHeartbeatsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lease_heartbeats_total",
			Help: "Session lease heartbeats by result.",
		}, []string{"result"})

		leaseContestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lease_contested_total",
			Help: "Number of contested-lease conditions detected.",
		})

		reconciliationRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciliation_rows_total",
			Help: "Violation rows processed by the reconciliation job.",
		}, []string{"result"})

		rollupRefreshSecondsMetric = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rollup_refresh_seconds",
			Help:    "Duration of full aggregation view rebuilds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		})

		prometheus.MustRegister(
			proctorRequestsTotal,
			proctorLatencySeconds,
			proctorErrorsTotal,
			violationWritesTotal,
			leaseHeartbeatsTotal,
			leaseContestedTotal,
			reconciliationRowsTotal,
			rollupRefreshSecondsMetric,
		)
	})
}

// ProctorRequests exposes the counter for proctoring requests.
func ProctorRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return proctorRequestsTotal
}

// ProctorLatency exposes the latency histogram for proctoring requests.
func ProctorLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return proctorLatencySeconds
}

// ProctorErrors exposes the counter for proctoring error responses.
func ProctorErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return proctorErrorsTotal
}

// ViolationWrites exposes the counter for violation write outcomes.
func ViolationWrites() *prometheus.CounterVec {
	RegisterMetrics()
	return violationWritesTotal
}

// LeaseHeartbeats exposes the counter for lease heartbeat results.
func LeaseHeartbeats() *prometheus.CounterVec {
	RegisterMetrics()
	return leaseHeartbeatsTotal
}

// LeaseContested exposes the contested-lease counter.
func LeaseContested() prometheus.Counter {
	RegisterMetrics()
	return leaseContestedTotal
}

// ReconciliationRows exposes the counter for reconciliation row results.
func ReconciliationRows() *prometheus.CounterVec {
	RegisterMetrics()
	return reconciliationRowsTotal
}

// RollupRefreshSeconds exposes the rollup rebuild duration histogram.
func RollupRefreshSeconds() prometheus.Histogram {
	RegisterMetrics()
	return rollupRefreshSecondsMetric
}
