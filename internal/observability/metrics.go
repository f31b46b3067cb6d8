package observability

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce           sync.Once
	httpRequestsTotal      *prometheus.CounterVec
	httpLatencySeconds     *prometheus.HistogramVec
	httpErrorsTotal        *prometheus.CounterVec
	evaluationsTotal       *prometheus.CounterVec
	evaluationFallbacks    *prometheus.CounterVec
	evaluationDuration     *prometheus.HistogramVec
	evaluationRetriesTotal prometheus.Counter
	queueMessagesTotal     *prometheus.CounterVec
	judgedEventsTotal      *prometheus.CounterVec
	leaderboardCacheTotal  *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the judge API and worker.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_http_requests_total",
			Help: "Total number of judge API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "judge_http_latency_seconds",
			Help:    "Latency distribution for judge API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_http_errors_total",
			Help: "Total number of error responses returned by judge endpoints.",
		}, []string{"method", "route", "status"})

		evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_evaluations_total",
			Help: "Finished evaluations grouped by terminal status and error kind.",
		}, []string{"status", "kind"})

		evaluationFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_evaluation_fallbacks_total",
			Help: "Evaluations routed to the local sandbox grouped by reason.",
		}, []string{"reason"})

		evaluationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "judge_evaluation_duration_seconds",
			Help:    "Wall clock duration of a single evaluation attempt.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
		}, []string{"path"})

		evaluationRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "judge_evaluation_retries_total",
			Help: "Evaluation attempts scheduled after a transient failure.",
		})

		queueMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_queue_messages_total",
			Help: "Evaluation queue messages grouped by direction and outcome.",
		}, []string{"direction", "outcome"})

		judgedEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_judged_events_total",
			Help: "Submission judged events published to the message bus.",
		}, []string{"outcome"})

		leaderboardCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_leaderboard_cache_total",
			Help: "Leaderboard cache lookups grouped by result.",
		}, []string{"result"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			evaluationsTotal,
			evaluationFallbacks,
			evaluationDuration,
			evaluationRetriesTotal,
			queueMessagesTotal,
			judgedEventsTotal,
			leaderboardCacheTotal,
		)
	})
}

// MetricsHandler serves the judge collectors in the Prometheus text and OpenMetrics formats.
func MetricsHandler() fiber.Handler {
	RegisterMetrics()
	return adaptor.HTTPHandler(promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// Evaluations exposes the terminal evaluation counter.
func Evaluations() *prometheus.CounterVec {
	RegisterMetrics()
	return evaluationsTotal
}

// EvaluationFallbacks exposes the local fallback counter.
func EvaluationFallbacks() *prometheus.CounterVec {
	RegisterMetrics()
	return evaluationFallbacks
}

// EvaluationDuration exposes the evaluation duration histogram.
func EvaluationDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return evaluationDuration
}

// EvaluationRetries exposes the retry counter.
func EvaluationRetries() prometheus.Counter {
	RegisterMetrics()
	return evaluationRetriesTotal
}

// QueueMessages exposes the queue traffic counter.
func QueueMessages() *prometheus.CounterVec {
	RegisterMetrics()
	return queueMessagesTotal
}

// JudgedEvents exposes the judged event publication counter.
func JudgedEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return judgedEventsTotal
}

// LeaderboardCache exposes the leaderboard cache hit/miss counter.
func LeaderboardCache() *prometheus.CounterVec {
	RegisterMetrics()
	return leaderboardCacheTotal
}
