package metrics

import (
	"net/http"

	"github.com/ErlanBelekov/script-runner/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine metrics

	AttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runner",
		Name:      "attempts_total",
		Help:      "Script executions, by outcome.",
	}, []string{"outcome"})

	AttemptDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "runner",
		Name:      "attempt_duration_seconds",
		Help:      "Wall-clock duration of one script execution.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"outcome"})

	CollaboratorCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runner",
		Name:      "collaborator_calls_total",
		Help:      "Diagnoser and repairer calls, by outcome.",
	}, []string{"collaborator", "outcome"})

	CollaboratorDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "runner",
		Name:      "collaborator_duration_seconds",
		Help:      "Latency of diagnoser and repairer calls.",
		Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"collaborator"})

	HeartbeatsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "runner",
		Name:      "heartbeats_total",
		Help:      "Liveness events emitted while a collaborator call was in flight.",
	})

	RunsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runner",
		Name:      "runs_in_flight",
		Help:      "Number of jobs currently driven by the engine.",
	})

	RunsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runner",
		Name:      "runs_completed_total",
		Help:      "Jobs that reached a terminal state, by outcome.",
	}, []string{"outcome"})

	// Sweeper metrics

	SweeperRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "runner",
		Name:      "sweeper_removed_total",
		Help:      "Orphaned script files removed by the sweeper.",
	})

	SweeperCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "runner",
		Name:      "sweeper_cycle_duration_seconds",
		Help:      "Time taken for one sweeper cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "runner",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency. Streaming requests span the whole run.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 30, 120, 600},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runner",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runner",
		Name:      "http_requests_in_flight",
		Help:      "HTTP requests currently being served, open run streams included.",
	})
)

func Register() {
	prometheus.MustRegister(
		AttemptsTotal,
		AttemptDuration,
		CollaboratorCallsTotal,
		CollaboratorDuration,
		HeartbeatsTotal,
		RunsInFlight,
		RunsCompletedTotal,
		SweeperRemovedTotal,
		SweeperCycleDuration,
		HTTPRequestDuration,
		HTTPRequestsTotal,
		HTTPInFlight,
	)
}

// NewServer serves /metrics plus liveness and readiness probes.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		health.WriteJSON(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		health.WriteJSON(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}
