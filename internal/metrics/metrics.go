package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptq_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "promptq_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})

	// LedgerOperations counts ledger mutations by kind (credit|debit) and outcome.
	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptq_ledger_operations_total",
		Help: "Ledger debits and credits by outcome",
	}, []string{"kind", "result"})

	// JobsSubmitted counts admissions by outcome (accepted, insufficient_funds, invalid, broker_unavailable, error).
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptq_jobs_submitted_total",
		Help: "Job submissions by admission outcome",
	}, []string{"result"})

	JobsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptq_jobs_settled_total",
		Help: "Jobs moved to a terminal status",
	}, []string{"status"})

	// Redeliveries counts queue messages for jobs that were already terminal.
	Redeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptq_queue_redeliveries_total",
		Help: "Messages acknowledged without recompute because the job was already settled",
	})

	ComputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "promptq_compute_duration_seconds",
		Help:    "Time spent in the compute step",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	StaleJobsReconciled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptq_stale_jobs_reconciled_total",
		Help: "Pending jobs failed and refunded by the staleness sweep",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency per route template.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		HTTPLatency.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		HTTPRequests.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
