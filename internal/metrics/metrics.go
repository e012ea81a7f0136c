// Package metrics exposes Prometheus collectors for crawl runs.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stateTransitionsTotal     *prometheus.CounterVec
	issuesUpsertedTotal       *prometheus.CounterVec
	noticesUpsertedTotal      *prometheus.CounterVec
	obstructionsResolvedTotal *prometheus.CounterVec
	captureFailuresTotal      prometheus.Counter
	throttleDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		stateTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazette_state_transitions_total",
				Help: "Total number of state machine transitions, labeled by source and destination state.",
			},
			[]string{"source", "state"},
		)

		issuesUpsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazette_issues_upserted_total",
				Help: "Total number of issue upserts, labeled by source.",
			},
			[]string{"source"},
		)

		noticesUpsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazette_notices_upserted_total",
				Help: "Total number of notice upserts, labeled by source.",
			},
			[]string{"source"},
		)

		obstructionsResolvedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazette_obstructions_resolved_total",
				Help: "Total number of page obstructions dismissed, labeled by source.",
			},
			[]string{"source"},
		)

		captureFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gazette_capture_failures_total",
				Help: "Total number of artifact captures that could not be written.",
			},
		)

		throttleDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gazette_throttle_delay_seconds",
				Help:    "Time navigations spent waiting on the per-host rate limiter.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"host"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTransition increments the transition counter for a run's source.
func ObserveTransition(source, state string) {
	if stateTransitionsTotal == nil {
		return
	}
	stateTransitionsTotal.WithLabelValues(source, state).Inc()
}

// ObserveIssueUpsert increments the issue upsert counter.
func ObserveIssueUpsert(source string) {
	if issuesUpsertedTotal == nil {
		return
	}
	issuesUpsertedTotal.WithLabelValues(source).Inc()
}

// ObserveNoticeUpsert increments the notice upsert counter.
func ObserveNoticeUpsert(source string) {
	if noticesUpsertedTotal == nil {
		return
	}
	noticesUpsertedTotal.WithLabelValues(source).Inc()
}

// ObserveObstructionResolved increments the obstruction counter.
func ObserveObstructionResolved(source string) {
	if obstructionsResolvedTotal == nil {
		return
	}
	obstructionsResolvedTotal.WithLabelValues(source).Inc()
}

// ObserveCaptureFailure increments the capture failure counter.
func ObserveCaptureFailure() {
	if captureFailuresTotal == nil {
		return
	}
	captureFailuresTotal.Inc()
}

// ObserveThrottleDelay records time spent blocked on the per-host limiter.
func ObserveThrottleDelay(host string, d time.Duration) {
	if throttleDelaySeconds == nil {
		return
	}
	throttleDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}
