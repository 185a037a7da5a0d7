// Package system provides health reporting and metrics for the gateway.
package system

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/utils"
	"norelock.dev/listenify/bragi/pkg/limitedhttp"
)

const namespace = "bragi"

// MetricsService owns the Prometheus registry. It observes the outbound
// limited clients and the manager's fan-out branches.
type MetricsService struct {
	logger   *utils.Logger
	registry *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	httpRequestsInProgress *prometheus.GaugeVec

	// WebSocket metrics
	wsConnectionsTotal   prometheus.Counter
	wsConnectionsActive  prometheus.Gauge
	wsMessagesTotal      *prometheus.CounterVec
	wsConnectionDuration prometheus.Histogram

	// Upstream metrics, labeled by limited client name
	upstreamQueuedTotal   *prometheus.CounterVec
	upstreamQueueWait     *prometheus.HistogramVec
	upstreamInFlight      *prometheus.GaugeVec
	upstreamRequestsTotal *prometheus.CounterVec
	upstreamDuration      *prometheus.HistogramVec

	// Fan-out metrics
	branchesTotal  *prometheus.CounterVec
	branchDuration *prometheus.HistogramVec
}

// NewMetricsService creates the registry with Go runtime and process
// collectors plus the gateway metrics.
func NewMetricsService(logger *utils.Logger) *MetricsService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &MetricsService{
		logger:   logger.Named("metrics_service"),
		registry: reg,
	}
	factory := promauto.With(reg)
	m.initHTTPMetrics(factory)
	m.initWebSocketMetrics(factory)
	m.initUpstreamMetrics(factory)
	m.initFanoutMetrics(factory)
	return m
}

// Handler exposes the registry.
func (m *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry { return m.registry }

func (m *MetricsService) initHTTPMetrics(f promauto.Factory) {
	m.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.httpRequestsInProgress = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_progress",
			Help:      "Number of HTTP requests currently in progress",
		},
		[]string{"method", "path"},
	)
}

func (m *MetricsService) initWebSocketMetrics(f promauto.Factory) {
	m.wsConnectionsTotal = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_connections_total",
		Help:      "Total number of RPC WebSocket connections",
	})

	m.wsConnectionsActive = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections_active",
		Help:      "Number of open RPC WebSocket connections",
	})

	m.wsMessagesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Total number of RPC messages",
		},
		[]string{"direction", "method"},
	)

	m.wsConnectionDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ws_connection_duration_seconds",
		Help:      "Lifetime of RPC WebSocket connections in seconds",
		Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
	})
}

func (m *MetricsService) initUpstreamMetrics(f promauto.Factory) {
	m.upstreamQueuedTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_queued_total",
			Help:      "Requests accepted into a limited client's queue",
		},
		[]string{"client"},
	)

	m.upstreamQueueWait = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_queue_wait_seconds",
			Help:      "Time from enqueue until both gates admitted the request",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"client"},
	)

	m.upstreamInFlight = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_in_flight",
			Help:      "Requests currently executing against a provider",
		},
		[]string{"client"},
	)

	m.upstreamRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Completed provider requests by outcome",
		},
		[]string{"client", "result"},
	)

	m.upstreamDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Transport time of provider requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"client"},
	)
}

func (m *MetricsService) initFanoutMetrics(f promauto.Factory) {
	m.branchesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_branches_total",
			Help:      "Per-provider fan-out branches by outcome",
		},
		[]string{"op", "provider", "result"},
	)

	m.branchDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fanout_branch_duration_seconds",
			Help:      "Duration of per-provider fan-out branches",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op", "provider"},
	)
}

// ObserveHTTPRequest records metrics for an HTTP request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncHTTPRequestsInProgress increments the in-progress HTTP requests gauge.
func (m *MetricsService) IncHTTPRequestsInProgress(method, path string) {
	m.httpRequestsInProgress.WithLabelValues(method, path).Inc()
}

// DecHTTPRequestsInProgress decrements the in-progress HTTP requests gauge.
func (m *MetricsService) DecHTTPRequestsInProgress(method, path string) {
	m.httpRequestsInProgress.WithLabelValues(method, path).Dec()
}

// ObserveWSConnection records a closed WebSocket connection.
func (m *MetricsService) ObserveWSConnection(duration time.Duration) {
	m.wsConnectionsTotal.Inc()
	m.wsConnectionDuration.Observe(duration.Seconds())
}

// IncWSConnectionsActive increments the open connections gauge.
func (m *MetricsService) IncWSConnectionsActive() {
	m.wsConnectionsActive.Inc()
}

// DecWSConnectionsActive decrements the open connections gauge.
func (m *MetricsService) DecWSConnectionsActive() {
	m.wsConnectionsActive.Dec()
}

// ObserveWSMessage counts an RPC message.
func (m *MetricsService) ObserveWSMessage(direction, method string) {
	m.wsMessagesTotal.WithLabelValues(direction, method).Inc()
}

// Queued implements limitedhttp.Observer.
func (m *MetricsService) Queued(name string) {
	m.upstreamQueuedTotal.WithLabelValues(name).Inc()
}

// Started implements limitedhttp.Observer.
func (m *MetricsService) Started(name string, waited time.Duration) {
	m.upstreamQueueWait.WithLabelValues(name).Observe(waited.Seconds())
	m.upstreamInFlight.WithLabelValues(name).Inc()
}

// Finished implements limitedhttp.Observer.
func (m *MetricsService) Finished(name string, took time.Duration, err error) {
	m.upstreamInFlight.WithLabelValues(name).Dec()
	m.upstreamDuration.WithLabelValues(name).Observe(took.Seconds())
	m.upstreamRequestsTotal.WithLabelValues(name, resultLabel(err)).Inc()
}

// ObserveBranch implements media.BranchObserver.
func (m *MetricsService) ObserveBranch(op string, provider models.Provider, took time.Duration, err error) {
	m.branchesTotal.WithLabelValues(op, provider.String(), resultLabel(err)).Inc()
	m.branchDuration.WithLabelValues(op, provider.String()).Observe(took.Seconds())
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrProviderNotEnabled):
		return "not_enabled"
	case errors.Is(err, models.ErrUnsupportedOperation):
		return "unsupported"
	case errors.Is(err, models.ErrMalformedResponse):
		return "malformed"
	default:
		return "error"
	}
}

var _ limitedhttp.Observer = (*MetricsService)(nil)
