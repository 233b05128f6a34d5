package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/tradesignals-web/internal/version"
)

// Decision label values for ratelimit_decisions_total.
const (
	DecisionAllowed = "allowed"
	DecisionDenied  = "denied"
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

	// rate limiter metrics, labelled by limiter name (login, signup)
	ratelimitDecisions        *prometheus.CounterVec
	ratelimitThrottledClients *prometheus.CounterVec
	ratelimitEvictions        *prometheus.CounterVec
	ratelimitLimit            *prometheus.GaugeVec
	ratelimitWindow           *prometheus.GaugeVec

	authRequests *prometheus.CounterVec

	limitsPolls *prometheus.CounterVec
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions.
// Client keys never become label values.
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
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{64, 128, 256, 512, 1024, 4096, 16384},
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
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		ratelimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Rate limiter decisions by limiter and outcome",
		}, []string{"limiter", "decision"}),
		ratelimitThrottledClients: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_throttled_clients_total",
			Help: "Clients throttled, counted once per client per window",
		}, []string{"limiter"}),
		ratelimitEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_evictions_total",
			Help: "Client entries dropped for capacity or a closed window",
		}, []string{"limiter"}),
		ratelimitLimit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ratelimit_policy_limit",
			Help: "Requests allowed per client per window",
		}, []string{"limiter"}),
		ratelimitWindow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ratelimit_policy_window_seconds",
			Help: "Length of the rate limit window",
		}, []string{"limiter"}),
		authRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_requests_total",
			Help: "Auth API requests by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		limitsPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "limits_watcher_polls_total",
			Help: "Limit override polls by result",
		}, []string{"result"}),
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
		m.ratelimitDecisions,
		m.ratelimitThrottledClients,
		m.ratelimitEvictions,
		m.ratelimitLimit,
		m.ratelimitWindow,
		m.authRequests,
		m.limitsPolls,
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

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// ObserveRateLimit counts one limiter decision.
func (m *ServerMetrics) ObserveRateLimit(limiter string, allowed bool) {
	decision := DecisionDenied
	if allowed {
		decision = DecisionAllowed
	}
	m.ratelimitDecisions.WithLabelValues(limiter, decision).Inc()
}

func (m *ServerMetrics) IncRateLimitThrottledClient(limiter string) {
	m.ratelimitThrottledClients.WithLabelValues(limiter).Inc()
}

func (m *ServerMetrics) IncRateLimitEviction(limiter string) {
	m.ratelimitEvictions.WithLabelValues(limiter).Inc()
}

func (m *ServerMetrics) SetRateLimitPolicy(limiter string, limit int, window time.Duration) {
	m.ratelimitLimit.WithLabelValues(limiter).Set(float64(limit))
	m.ratelimitWindow.WithLabelValues(limiter).Set(window.Seconds())
}

// TrackLimiterSize exports the number of clients a limiter currently tracks.
// size is called on every scrape.
func (m *ServerMetrics) TrackLimiterSize(limiter string, size func() int) error {
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "ratelimit_tracked_clients",
		Help:        "Client entries currently held by the limiter",
		ConstLabels: prometheus.Labels{"limiter": limiter},
	}, func() float64 { return float64(size()) }))
}

// IncAuthRequest counts an auth API outcome (success, not_found, exists, invalid, error).
func (m *ServerMetrics) IncAuthRequest(endpoint, outcome string) {
	m.authRequests.WithLabelValues(endpoint, outcome).Inc()
}

func (m *ServerMetrics) IncLimitsPoll(result string) {
	m.limitsPolls.WithLabelValues(result).Inc()
}
