package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the issuance core.
type Metrics struct {
	// Issuance
	IDsIssuedTotal      *prometheus.CounterVec
	GenerateDuration    *prometheus.HistogramVec
	GenerateErrors      *prometheus.CounterVec

	// Refill
	SyncRefillsTotal  *prometheus.CounterVec
	AsyncRefillsTotal *prometheus.CounterVec
	RefillDuration    *prometheus.HistogramVec
	SegmentRaces      *prometheus.CounterVec
	RefreshTimeouts   *prometheus.CounterVec

	// Failover
	FailoverTransitions *prometheus.CounterVec
	ProxyBufferCount    prometheus.Gauge
	OwnBufferCount      prometheus.Gauge

	// Heartbeat
	HeartbeatFailures prometheus.Counter
}

// NewMetrics creates and registers Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		IDsIssuedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequenced_ids_issued_total",
				Help: "Total number of IDs issued",
			},
			[]string{"business_type", "role"},
		),

		GenerateDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sequenced_generate_duration_seconds",
				Help:    "Duration of Generate requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"business_type"},
		),

		GenerateErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequenced_generate_errors_total",
				Help: "Total number of Generate request errors",
			},
			[]string{"error_kind"},
		),

		SyncRefillsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequenced_sync_refills_total",
				Help: "Total number of synchronous (blocking) refills",
			},
			[]string{"business_type", "role"},
		),

		AsyncRefillsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequenced_async_refills_total",
				Help: "Total number of asynchronous prefetch refills",
			},
			[]string{"business_type", "role"},
		),

		RefillDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sequenced_refill_duration_seconds",
				Help:    "Duration of refill operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),

		SegmentRaces: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequenced_segment_races_total",
				Help: "Total number of refills that lost a concurrent update race",
			},
			[]string{"business_type"},
		),

		RefreshTimeouts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequenced_refresh_timeouts_total",
				Help: "Total number of stuck refresh flags force-reset by timeout",
			},
			[]string{"business_type"},
		),

		FailoverTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequenced_failover_transitions_total",
				Help: "Total number of take-over/abandon transitions",
			},
			[]string{"transition"},
		),

		ProxyBufferCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sequenced_proxy_buffer_count",
				Help: "Current number of proxy buffers held for the peer role",
			},
		),

		OwnBufferCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sequenced_own_buffer_count",
				Help: "Current number of buffers held for this node's own role",
			},
		),

		HeartbeatFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sequenced_heartbeat_failures_total",
				Help: "Total number of failed heartbeat attempts",
			},
		),
	}
}

// RecordIssued records IDs handed out by one Generate call.
func (m *Metrics) RecordIssued(businessType, role string, count int) {
	m.IDsIssuedTotal.WithLabelValues(businessType, role).Add(float64(count))
}

// RecordGenerate records the duration of a Generate call.
func (m *Metrics) RecordGenerate(businessType string, seconds float64) {
	m.GenerateDuration.WithLabelValues(businessType).Observe(seconds)
}

// RecordGenerateError records a Generate request error by kind.
func (m *Metrics) RecordGenerateError(kind string) {
	m.GenerateErrors.WithLabelValues(kind).Inc()
}

// RecordSyncRefill records a synchronous refill.
func (m *Metrics) RecordSyncRefill(businessType, role string, seconds float64) {
	m.SyncRefillsTotal.WithLabelValues(businessType, role).Inc()
	m.RefillDuration.WithLabelValues("sync").Observe(seconds)
}

// RecordAsyncRefill records an asynchronous prefetch refill.
func (m *Metrics) RecordAsyncRefill(businessType, role string, seconds float64) {
	m.AsyncRefillsTotal.WithLabelValues(businessType, role).Inc()
	m.RefillDuration.WithLabelValues("async").Observe(seconds)
}

// RecordSegmentRace records a refill that lost a concurrent update race.
func (m *Metrics) RecordSegmentRace(businessType string) {
	m.SegmentRaces.WithLabelValues(businessType).Inc()
}

// RecordRefreshTimeout records a stuck refresh flag force-reset.
func (m *Metrics) RecordRefreshTimeout(businessType string) {
	m.RefreshTimeouts.WithLabelValues(businessType).Inc()
}

// RecordFailoverTransition records a take-over or abandon transition.
func (m *Metrics) RecordFailoverTransition(transition string) {
	m.FailoverTransitions.WithLabelValues(transition).Inc()
}

// UpdateProxyBufferCount sets the current proxy buffer gauge.
func (m *Metrics) UpdateProxyBufferCount(count int) {
	m.ProxyBufferCount.Set(float64(count))
}

// UpdateOwnBufferCount sets the current own-buffer gauge.
func (m *Metrics) UpdateOwnBufferCount(count int) {
	m.OwnBufferCount.Set(float64(count))
}

// RecordHeartbeatFailure records a failed heartbeat attempt.
func (m *Metrics) RecordHeartbeatFailure() {
	m.HeartbeatFailures.Inc()
}
