package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/uni-request-api/internal/models"
	"github.com/noah-isme/uni-request-api/pkg/scheduler"
)

// Assignment outcomes recorded by ObserveAssignment.
const (
	AssignmentAssigned    = "assigned"
	AssignmentNoCandidate = "no_candidate"
	AssignmentConflict    = "conflict"
	AssignmentError       = "error"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic,
// the recipient cache and the request workflow.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	requestsCreated *prometheus.CounterVec
	assignments     *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	escalations     prometheus.Counter
	notifications   *prometheus.CounterVec
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
}

// NewMetricsService registers the Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	requestsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "student_requests_created_total",
		Help: "Student requests created by type and category",
	}, []string{"type", "category"})

	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "student_request_assignments_total",
		Help: "Routing outcomes by target role",
	}, []string{"role", "result"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "student_request_transitions_total",
		Help: "Accepted status transitions",
	}, []string{"from", "to"})

	escalations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "student_request_escalations_total",
		Help: "Overdue requests escalated to administrators",
	})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Notifications produced by priority and outcome",
	}, []string{"priority", "result"})

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_job_runs_total",
		Help: "Scheduled job executions by outcome",
	}, []string{"job", "result"})

	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_job_duration_seconds",
		Help:    "Duration of scheduled job executions",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHits, cacheMisses,
		requestsCreated, assignments, transitions, escalations, notifications, jobRuns, jobDuration, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		requestsCreated: requestsCreated,
		assignments:     assignments,
		transitions:     transitions,
		escalations:     escalations,
		notifications:   notifications,
		jobRuns:         jobRuns,
		jobDuration:     jobDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveRequestCreated counts a newly created request.
func (m *MetricsService) ObserveRequestCreated(reqType models.RequestType, category models.RequestCategory) {
	if m == nil {
		return
	}
	m.requestsCreated.WithLabelValues(string(reqType), string(category)).Inc()
}

// ObserveAssignment counts a routing outcome.
func (m *MetricsService) ObserveAssignment(role models.UserRole, result string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(string(role), result).Inc()
}

// ObserveTransition counts an accepted status change.
func (m *MetricsService) ObserveTransition(from, to models.RequestStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveEscalations adds escalated overdue requests.
func (m *MetricsService) ObserveEscalations(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.escalations.Add(float64(count))
}

// ObserveNotification counts a produced notification.
func (m *MetricsService) ObserveNotification(priority models.NotificationPriority, ok bool) {
	if m == nil {
		return
	}
	result := "stored"
	if !ok {
		result = "failed"
	}
	m.notifications.WithLabelValues(string(priority), result).Inc()
}

// ObserveJob records a scheduled job execution. It satisfies scheduler.Observer.
func (m *MetricsService) ObserveJob(job string, result scheduler.Result, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, string(result)).Inc()
	if result != scheduler.ResultSkipped {
		m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	}
}
