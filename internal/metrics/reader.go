package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// MetricsReader provides read access to live prometheus values without
// going through the /metrics HTTP encoder, for the status page and
// internal diagnostics.
type MetricsReader struct {
	metrics *Metrics
}

// HistogramStats is extracted statistics from a histogram observer.
type HistogramStats struct {
	Count uint64
	Sum   float64
	Avg   float64
	P95   float64
}

func NewMetricsReader(m *Metrics) *MetricsReader {
	return &MetricsReader{metrics: m}
}

func (r *MetricsReader) GetCounterValue(counter prometheus.Counter) (float64, error) {
	var metricDto dto.Metric
	if err := counter.(prometheus.Metric).Write(&metricDto); err != nil {
		return 0, err
	}
	return metricDto.GetCounter().GetValue(), nil
}

func (r *MetricsReader) GetGaugeValue(gauge prometheus.Gauge) (float64, error) {
	var metricDto dto.Metric
	if err := gauge.(prometheus.Metric).Write(&metricDto); err != nil {
		return 0, err
	}
	return metricDto.GetGauge().GetValue(), nil
}

func (r *MetricsReader) GetHistogramStats(hist prometheus.Observer) (*HistogramStats, error) {
	var metricDto dto.Metric
	if err := hist.(prometheus.Metric).Write(&metricDto); err != nil {
		return nil, err
	}

	h := metricDto.GetHistogram()
	stats := &HistogramStats{
		Count: h.GetSampleCount(),
		Sum:   h.GetSampleSum(),
	}
	if stats.Count > 0 {
		stats.Avg = stats.Sum / float64(stats.Count)
	}
	stats.P95 = r.estimatePercentile(h, 0.95)
	return stats, nil
}

func (r *MetricsReader) estimatePercentile(hist *dto.Histogram, percentile float64) float64 {
	totalCount := hist.GetSampleCount()
	if totalCount == 0 {
		return 0
	}

	target := float64(totalCount) * percentile
	for _, bucket := range hist.GetBucket() {
		if float64(bucket.GetCumulativeCount()) >= target {
			return bucket.GetUpperBound()
		}
	}
	return 0
}

// GetPeerLatencyStats returns probe latency statistics for one peer
// and probe kind.
func (r *MetricsReader) GetPeerLatencyStats(peer, kind string) (*HistogramStats, error) {
	observer, err := r.metrics.ProbeLatency.GetMetricWithLabelValues(peer, kind)
	if err != nil {
		return nil, fmt.Errorf("metrics: latency stats for peer %s: %w", peer, err)
	}
	return r.GetHistogramStats(observer)
}

// GetPeerUp reports the current PeerUp gauge value for peer (1 or 0).
func (r *MetricsReader) GetPeerUp(peer string) (float64, error) {
	gauge, err := r.metrics.PeerUp.GetMetricWithLabelValues(peer)
	if err != nil {
		return 0, fmt.Errorf("metrics: peer_up for peer %s: %w", peer, err)
	}
	return r.GetGaugeValue(gauge)
}

// GetSuccessRate computes the success ratio for peer/kind from the
// ProbeOutcomes counter pair, defaulting to 1.0 when there is no data
// yet (a fresh peer is assumed healthy until proven otherwise).
func (r *MetricsReader) GetSuccessRate(peer, kind string) float64 {
	success, err := r.metrics.ProbeOutcomes.GetMetricWithLabelValues(peer, kind, "success")
	if err != nil {
		return 1.0
	}
	failure, err := r.metrics.ProbeOutcomes.GetMetricWithLabelValues(peer, kind, "failure")
	if err != nil {
		return 1.0
	}

	sVal, _ := r.GetCounterValue(success)
	fVal, _ := r.GetCounterValue(failure)
	total := sVal + fVal
	if total == 0 {
		return 1.0
	}
	return sVal / total
}
