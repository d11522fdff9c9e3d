package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/diary/internal/version"
)

// Outcome label values shared by the dependency counters
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeFallback = "fallback"
	OutcomeSkipped  = "skipped"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge

	ratelimitDenied      *prometheus.CounterVec
	ratelimitStoreErrors *prometheus.CounterVec

	authEvents    *prometheus.CounterVec
	llmRequests   *prometheus.CounterVec
	llmDuration   *prometheus.HistogramVec
	weatherLookup *prometheus.CounterVec
	calendarCalls *prometheus.CounterVec
	mailSent      *prometheus.CounterVec
	uploads       *prometheus.CounterVec
	uploadBytes   prometheus.Histogram
	jobRuns       *prometheus.CounterVec
	jobLastRun    *prometheus.GaugeVec
}

// New returns a fresh registry + standard collectors + HTTP and dependency metrics.
// labels are bounded sets (method, route pattern, policy, outcome), never ids or raw paths
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		ratelimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by the rate limiter, by policy",
		}, []string{"policy"}),
		ratelimitStoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Rate limit store failures (request was allowed), by policy",
		}, []string{"policy"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Authentication events by kind and outcome",
		}, []string{"event", "outcome"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "LLM calls by purpose and outcome",
		}, []string{"purpose", "outcome"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM call latency by purpose",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"purpose"}),
		weatherLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_lookups_total",
			Help: "Weather lookups by outcome",
		}, []string{"outcome"}),
		calendarCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calendar_requests_total",
			Help: "Google Calendar calls by outcome",
		}, []string{"outcome"}),
		mailSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_sent_total",
			Help: "Outgoing mail by transport (smtp|log) and outcome",
		}, []string{"transport", "outcome"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_uploads_total",
			Help: "Accepted uploads by kind (image|video|profile)",
		}, []string{"kind"}),
		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "media_upload_size_bytes",
			Help:    "Size of accepted uploads",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 7),
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Scheduled job runs by job and outcome",
		}, []string{"job", "outcome"}),
		jobLastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "job_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful run of a scheduled job",
		}, []string{"job"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.ratelimitDenied,
		m.ratelimitStoreErrors,
		m.authEvents,
		m.llmRequests,
		m.llmDuration,
		m.weatherLookup,
		m.calendarCalls,
		m.mailSent,
		m.uploads,
		m.uploadBytes,
		m.jobRuns,
		m.jobLastRun,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// Registry exposes the registry so tests and extra collectors can use it
func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.reg
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":        app,
		"component":  component,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"build_date": vi.BuildDate,
		"go_version": vi.GoVersion,
		"vcs_dirty":  dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolGauge(active))
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitDenied(policy string) {
	m.ratelimitDenied.WithLabelValues(policy).Inc()
}

func (m *ServerMetrics) IncRateLimitStoreError(policy string) {
	m.ratelimitStoreErrors.WithLabelValues(policy).Inc()
}

func (m *ServerMetrics) IncAuthEvent(event, outcome string) {
	m.authEvents.WithLabelValues(event, outcome).Inc()
}

func (m *ServerMetrics) ObserveLLM(purpose, outcome string, d time.Duration) {
	m.llmRequests.WithLabelValues(purpose, outcome).Inc()
	if outcome != OutcomeSkipped {
		m.llmDuration.WithLabelValues(purpose).Observe(d.Seconds())
	}
}

func (m *ServerMetrics) IncWeatherLookup(outcome string) {
	m.weatherLookup.WithLabelValues(outcome).Inc()
}

func (m *ServerMetrics) IncCalendarCall(outcome string) {
	m.calendarCalls.WithLabelValues(outcome).Inc()
}

func (m *ServerMetrics) IncMailSent(transport, outcome string) {
	m.mailSent.WithLabelValues(transport, outcome).Inc()
}

func (m *ServerMetrics) ObserveUpload(kind string, size int64) {
	m.uploads.WithLabelValues(kind).Inc()
	m.uploadBytes.Observe(float64(size))
}

func (m *ServerMetrics) ObserveJobRun(job string, err error, at time.Time) {
	if err != nil {
		m.jobRuns.WithLabelValues(job, OutcomeError).Inc()
		return
	}
	m.jobRuns.WithLabelValues(job, OutcomeOK).Inc()
	m.jobLastRun.WithLabelValues(job).Set(float64(at.Unix()))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
