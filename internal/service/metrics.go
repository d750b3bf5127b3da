package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	ActionsTotal    *prometheus.CounterVec
	TierVerdicts    *prometheus.CounterVec
	ConditionsOpen  prometheus.Gauge
	ResolveDuration prometheus.Histogram
	ContainersTotal *prometheus.CounterVec
}

// NewMetrics registers the engine collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agora",
			Name:      "actions_total",
			Help:      "Actions by final status of the latest resolution pass.",
		}, []string{"status"}),
		TierVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agora",
			Name:      "tier_verdicts_total",
			Help:      "Authority tier verdicts by tier and verdict.",
		}, []string{"tier", "verdict"}),
		ConditionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agora",
			Name:      "conditions_open",
			Help:      "Condition instances currently gating suspended actions.",
		}),
		ResolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agora",
			Name:      "resolve_duration_seconds",
			Help:      "Latency of authority resolution passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		ContainersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agora",
			Name:      "containers_total",
			Help:      "Action containers by settled status.",
		}, []string{"status"}),
	}
}
