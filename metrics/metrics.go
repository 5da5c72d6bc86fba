// Package metrics exposes Prometheus observability for rwmux, adapted
// using promauto-based registration, the same
// sync.Once-guarded registration idiom and enabled/disabled gating, with
// the goroutine/manager counters re-themed to lock-queue counters.
package metrics

import (
	"sync"

	"github.com/neeraj-labs/rwmux/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once        sync.Once
	initialized bool
	initMu      sync.RWMutex
)

// Collectors, one exported var per metric.
var (
	QueueDepth        *prometheus.GaugeVec
	ActiveReaders     *prometheus.GaugeVec
	AcquireDuration    *prometheus.HistogramVec
	EscalationsTotal   *prometheus.CounterVec
	CancellationsTotal *prometheus.CounterVec
)

// Init registers all collectors. Safe to call multiple times; only the
// first call does any work.
func Init() {
	once.Do(func() {
		QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rwmux",
			Name:      "queue_depth",
			Help:      "Number of distinct items currently queued.",
		}, []string{"mux", "key"})

		ActiveReaders = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rwmux",
			Name:      "active_readers",
			Help:      "Live member count of the head reader cohort.",
		}, []string{"mux", "key"})

		AcquireDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rwmux",
			Name:      "acquire_duration_seconds",
			Help:      "Time from arrival to running for an acquire call.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"mux", "kind"})

		EscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rwmux",
			Name:      "escalations_total",
			Help:      "Number of rejected shared-to-exclusive escalation attempts.",
		}, []string{"mux"})

		CancellationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rwmux",
			Name:      "cancellations_total",
			Help:      "Number of acquire calls that were canceled while waiting.",
		}, []string{"mux", "kind"})

		initMu.Lock()
		initialized = true
		initMu.Unlock()
	})
}

// IsInitialized reports whether Init has already run.
func IsInitialized() bool {
	initMu.RLock()
	defer initMu.RUnlock()
	return initialized
}

// IsEnabled reports whether recording should happen at all, per
// config.Default().MetricsEnabled. Callers still need to call Init once
// at process start if they want metrics exported.
func IsEnabled() bool {
	return config.Default().MetricsEnabled()
}

// ObserveQueueDepth records the current depth of a queue.
func ObserveQueueDepth(mux, key string, depth int) {
	if !IsEnabled() || !IsInitialized() {
		return
	}
	QueueDepth.WithLabelValues(mux, key).Set(float64(depth))
}

// ObserveActiveReaders records the current live reader-cohort size.
func ObserveActiveReaders(mux, key string, count int) {
	if !IsEnabled() || !IsInitialized() {
		return
	}
	ActiveReaders.WithLabelValues(mux, key).Set(float64(count))
}

// RecordAcquireDuration records the wait time for one acquire call.
func RecordAcquireDuration(mux, kind string, seconds float64) {
	if !IsEnabled() || !IsInitialized() {
		return
	}
	AcquireDuration.WithLabelValues(mux, kind).Observe(seconds)
}

// RecordEscalation records one rejected escalation attempt.
func RecordEscalation(mux string) {
	if !IsEnabled() || !IsInitialized() {
		return
	}
	EscalationsTotal.WithLabelValues(mux).Inc()
}

// RecordCancellation records one canceled waiter.
func RecordCancellation(mux, kind string) {
	if !IsEnabled() || !IsInitialized() {
		return
	}
	CancellationsTotal.WithLabelValues(mux, kind).Inc()
}
