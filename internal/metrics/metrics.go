package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the Huddle server.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Ranking metrics.
	CacheLookupsTotal     *prometheus.CounterVec
	CacheWriteErrorsTotal *prometheus.CounterVec
	MatchDuration         prometheus.Histogram
	MatchCandidates       prometheus.Histogram

	// Admission metrics.
	AdmissionsTotal       *prometheus.CounterVec
	LockAcquisitionsTotal *prometheus.CounterVec

	// Rate limiting.
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Activity collector metrics.
	ActivityFlushesTotal *prometheus.CounterVec
	ActivityEventsTotal  prometheus.Counter

	// Auth metrics.
	AuthFailuresTotal  *prometheus.CounterVec
	AuthSuccessesTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"kind", "method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "huddle_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "method", "path_pattern"}),

		HTTPResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "huddle_http_response_size_bytes",
			Help:    "HTTP response size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"kind", "method", "path_pattern"}),

		CacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_cache_lookups_total",
			Help: "Total number of ranking cache lookups by result.",
		}, []string{"cache", "result"}),

		CacheWriteErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_cache_write_errors_total",
			Help: "Total number of failed ranking cache writes.",
		}, []string{"cache"}),

		MatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "huddle_match_duration_seconds",
			Help:    "Duration of a full candidate scan in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		MatchCandidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "huddle_match_candidates",
			Help:    "Number of candidates scored per match computation.",
			Buckets: prometheus.ExponentialBuckets(10, 10, 6),
		}),

		AdmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_team_admissions_total",
			Help: "Total number of team admission decisions by operation and outcome.",
		}, []string{"op", "outcome"}),

		LockAcquisitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_lock_acquisitions_total",
			Help: "Total number of lock acquisition attempts by outcome.",
		}, []string{"outcome"}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}, []string{"scope"}),

		ActivityFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_activity_flushes_total",
			Help: "Total number of activity collector flushes.",
		}, []string{"status"}),

		ActivityEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "huddle_activity_events_total",
			Help: "Total number of activity events written.",
		}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"auth_type"}),

		AuthSuccessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_auth_successes_total",
			Help: "Total number of successful authentications.",
		}, []string{"auth_type"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.CacheLookupsTotal,
		m.CacheWriteErrorsTotal,
		m.MatchDuration,
		m.MatchCandidates,
		m.AdmissionsTotal,
		m.LockAcquisitionsTotal,
		m.RateLimitRejectionsTotal,
		m.ActivityFlushesTotal,
		m.ActivityEventsTotal,
		m.AuthFailuresTotal,
		m.AuthSuccessesTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(kind, method, pattern string, status, bytes int, seconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(kind, method, pattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(kind, method, pattern).Observe(seconds)
	m.HTTPResponseSize.WithLabelValues(kind, method, pattern).Observe(float64(bytes))
}

// IncCacheLookup counts a cache read. result is hit, miss or error.
func (m *Metrics) IncCacheLookup(cache, result string) {
	m.CacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// IncCacheWriteError counts a failed cache write.
func (m *Metrics) IncCacheWriteError(cache string) {
	m.CacheWriteErrorsTotal.WithLabelValues(cache).Inc()
}

// ObserveMatchDuration records one candidate scan.
func (m *Metrics) ObserveMatchDuration(seconds float64, candidates int) {
	m.MatchDuration.Observe(seconds)
	m.MatchCandidates.Observe(float64(candidates))
}

// IncAdmission counts a team admission decision.
func (m *Metrics) IncAdmission(op, outcome string) {
	m.AdmissionsTotal.WithLabelValues(op, outcome).Inc()
}

// IncLockAcquisition counts a lock acquisition attempt.
func (m *Metrics) IncLockAcquisition(outcome string) {
	m.LockAcquisitionsTotal.WithLabelValues(outcome).Inc()
}

// IncRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection(scope string) {
	m.RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}

// ObserveActivityFlush records the outcome of one activity flush.
func (m *Metrics) ObserveActivityFlush(events int, ok bool) {
	if !ok {
		m.ActivityFlushesTotal.WithLabelValues("error").Inc()
		return
	}
	m.ActivityFlushesTotal.WithLabelValues("success").Inc()
	m.ActivityEventsTotal.Add(float64(events))
}

// IncAuthFailure increments the auth failure counter for the given auth type.
func (m *Metrics) IncAuthFailure(authType string) {
	m.AuthFailuresTotal.WithLabelValues(authType).Inc()
}

// IncAuthSuccess increments the auth success counter for the given auth type.
func (m *Metrics) IncAuthSuccess(authType string) {
	m.AuthSuccessesTotal.WithLabelValues(authType).Inc()
}
