// Package metrics declares the prometheus instrumentation for the
// health-check core: per-peer up/down state, probe latency and
// outcome, ownership contention, and the status endpoint's own
// traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every prometheus collector registered by a worker,
// against its own private registry rather than the global
// DefaultRegisterer, so more than one Worker can exist in the same
// process (as in tests) without colliding on collector names.
type Metrics struct {
	registry *prometheus.Registry

	ProbeLatency  *prometheus.HistogramVec
	ProbeOutcomes *prometheus.CounterVec // labels: peer, kind, result=success|failure

	PeerUp        *prometheus.GaugeVec // 1 = up, 0 = down; labels: peer
	RiseCount     *prometheus.GaugeVec // labels: peer
	FallCount     *prometheus.GaugeVec // labels: peer
	BusinessGauge *prometheus.GaugeVec // labels: peer

	OwnershipTakeovers *prometheus.CounterVec // labels: reason=fresh|stale_reclaim
	OwnershipContended prometheus.Counter      // elections lost to another worker

	StatusRequestsTotal *prometheus.CounterVec // labels: code
	Errors              *prometheus.CounterVec // labels: type
}

// Registry returns the private registry every collector above is
// registered against, for mounting with promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// NewMetrics creates and registers every collector under namespace,
// against a fresh private registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ProbeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_latency_seconds",
			Help:      "Latency of one probe cycle (connect through verdict) by peer and kind",
			Buckets:   prometheus.DefBuckets,
		}, []string{"peer", "kind"}),

		ProbeOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_outcomes_total",
			Help:      "Total probe verdicts by peer, kind, and result",
		}, []string{"peer", "kind", "result"}),

		PeerUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_up",
			Help:      "Whether a peer is currently considered up (1) or down (0)",
		}, []string{"peer"}),

		RiseCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_rise_count",
			Help:      "Current consecutive-success streak for a peer",
		}, []string{"peer"}),

		FallCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_fall_count",
			Help:      "Current consecutive-failure streak for a peer",
		}, []string{"peer"}),

		BusinessGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_business",
			Help:      "Approximate in-flight request count currently routed to a peer",
		}, []string{"peer"}),

		OwnershipTakeovers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ownership_takeovers_total",
			Help:      "Total successful ownership elections by reason",
		}, []string{"reason"}),

		OwnershipContended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ownership_contended_total",
			Help:      "Total ownership elections lost to another worker",
		}),

		StatusRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_requests_total",
			Help:      "Total requests served by the status endpoint by response code",
		}, []string{"code"}),

		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors by type",
		}, []string{"type"}),
	}
}

// RecordVerdict updates the per-peer outcome counter and gauges that
// mirror a SharedPeerState snapshot taken right after RecordVerdict.
func (m *Metrics) RecordVerdict(peer, kind string, success bool, down bool, rise, fall uint32) {
	result := "failure"
	if success {
		result = "success"
	}
	m.ProbeOutcomes.WithLabelValues(peer, kind, result).Inc()

	up := 0.0
	if !down {
		up = 1.0
	}
	m.PeerUp.WithLabelValues(peer).Set(up)
	m.RiseCount.WithLabelValues(peer).Set(float64(rise))
	m.FallCount.WithLabelValues(peer).Set(float64(fall))
}
