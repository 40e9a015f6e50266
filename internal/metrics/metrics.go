// Package metrics registers and exposes the Prometheus instruments used
// across the service. All Metrics methods are safe on a nil receiver so
// callers can run uninstrumented.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	sessionsStarted   *prometheus.CounterVec
	sessionsCompleted prometheus.Counter
	reviews           *prometheus.CounterVec
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	questionsSynced   prometheus.Counter
}

// New registers all collectors with the given registerer. Pass
// prometheus.DefaultRegisterer for normal operation or a fresh registry in
// tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "learnwise_sessions_started_total",
			Help: "Practice sessions started, by session type.",
		}, []string{"type"}),
		sessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "learnwise_sessions_completed_total",
			Help: "Practice sessions whose queue was fully answered.",
		}),
		reviews: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "learnwise_reviews_total",
			Help: "Card reviews recorded, by derived rating.",
		}, []string{"rating"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "learnwise_question_cache_hits_total",
			Help: "Question lookups served from cache.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "learnwise_question_cache_misses_total",
			Help: "Question lookups that fell through to the database.",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "learnwise_http_requests_total",
			Help: "HTTP requests served, by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "learnwise_http_request_duration_seconds",
			Help:    "HTTP request latency, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		questionsSynced: factory.NewCounter(prometheus.CounterOpts{
			Name: "learnwise_questions_synced_total",
			Help: "Questions upserted by content sync runs.",
		}),
	}
}

func (m *Metrics) SessionStarted(sessionType string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(sessionType).Inc()
}

func (m *Metrics) SessionCompleted() {
	if m == nil {
		return
	}
	m.sessionsCompleted.Inc()
}

func (m *Metrics) ReviewRecorded(rating string) {
	if m == nil {
		return
	}
	m.reviews.WithLabelValues(rating).Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *Metrics) HTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, code).Inc()
}

func (m *Metrics) ObserveHTTPDuration(route string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(route).Observe(seconds)
}

func (m *Metrics) QuestionsSynced(n int) {
	if m == nil {
		return
	}
	m.questionsSynced.Add(float64(n))
}
