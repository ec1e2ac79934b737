package supervisor

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by
	// this package.
	MetricsSubsystem = "sync"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Height of the validated header chain tip.
	TipHeight metrics.Gauge
	// Number of currently connected peers.
	Peers metrics.Gauge
	// Total number of headers accepted.
	AcceptedHeaders metrics.Counter
	// Total number of header batches rejected by validation.
	RejectedBatches metrics.Counter
	// Total number of peer-group rotations triggered by stalls.
	Rotations metrics.Counter
	// Whether the header chain is caught up. 1 if yes, 0 if no.
	Synced metrics.Gauge
}

// PrometheusMetrics returns Metrics built using Prometheus client
// library. Optionally, labels can be provided along with their values
// ("foo", "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		TipHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "tip_height",
			Help:      "Height of the validated header chain tip.",
		}, labels).With(labelsAndValues...),
		Peers: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "peers",
			Help:      "Number of currently connected peers.",
		}, labels).With(labelsAndValues...),
		AcceptedHeaders: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "accepted_headers_total",
			Help:      "Total number of headers accepted.",
		}, labels).With(labelsAndValues...),
		RejectedBatches: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rejected_batches_total",
			Help:      "Total number of header batches rejected by validation.",
		}, labels).With(labelsAndValues...),
		Rotations: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "peer_group_rotations_total",
			Help:      "Total number of peer-group rotations triggered by stalls.",
		}, labels).With(labelsAndValues...),
		Synced: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "synced",
			Help:      "Whether the header chain is caught up. 1 if yes, 0 if no.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		TipHeight:       discard.NewGauge(),
		Peers:           discard.NewGauge(),
		AcceptedHeaders: discard.NewCounter(),
		RejectedBatches: discard.NewCounter(),
		Rotations:       discard.NewCounter(),
		Synced:          discard.NewGauge(),
	}
}
