package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeOK labels ticks that completed within their hop budget.
	OutcomeOK = "ok"
	// OutcomeOverrun labels ticks whose processing exceeded the overrun threshold.
	OutcomeOverrun = "overrun"
)

var (
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alertcorr",
			Name:      "ticks_total",
			Help:      "Total number of pipeline ticks run, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	tickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "alertcorr",
			Name:      "tick_duration_seconds",
			Help:      "Pipeline tick processing latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	alertsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "alertcorr",
			Name:      "alerts_ingested_total",
			Help:      "Total number of alerts accepted into the ingress queue.",
		},
	)

	rawEventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "alertcorr",
			Name:      "raw_events_dropped_total",
			Help:      "Total number of raw events dropped for failing to convert cleanly.",
		},
	)

	dedupDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alertcorr",
			Name:      "dedup_dropped_total",
			Help:      "Total number of alerts dropped by the deduplicator, partitioned by reason.",
		},
		[]string{"reason"},
	)

	episodesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "alertcorr",
			Name:      "episodes_active",
			Help:      "Current number of open episodes.",
		},
	)

	situationsPublished = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "alertcorr",
			Name:      "situations_published",
			Help:      "Number of situations published on the most recent tick.",
		},
	)
)

// Register attaches the correlation pipeline's collectors to the supplied
// Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		ticksTotal,
		tickDurationSeconds,
		alertsIngestedTotal,
		rawEventsDroppedTotal,
		dedupDroppedTotal,
		episodesActive,
		situationsPublished,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTick records a tick's processing duration and overrun outcome.
func ObserveTick(duration time.Duration, overran bool) {
	outcome := OutcomeOK
	if overran {
		outcome = OutcomeOverrun
	}
	ticksTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	tickDurationSeconds.Observe(duration.Seconds())
}

// IncAlertsIngested records n alerts taken into a tick.
func IncAlertsIngested(n int) {
	alertsIngestedTotal.Add(float64(n))
}

// IncRawEventsDropped records n malformed raw events dropped pre-ingestion.
func IncRawEventsDropped(n int) {
	rawEventsDroppedTotal.Add(float64(n))
}

// IncDedupDropped records alerts dropped by the deduplicator for the given
// reason: "suppressed", "flap" or "rate_limited".
func IncDedupDropped(reason string, n int) {
	dedupDroppedTotal.WithLabelValues(reason).Add(float64(n))
}

// SetEpisodesActive records the current open-episode count.
func SetEpisodesActive(n int) {
	episodesActive.Set(float64(n))
}

// SetSituationsPublished records the situation count published on the most
// recent tick.
func SetSituationsPublished(n int) {
	situationsPublished.Set(float64(n))
}
