package monitoring

import (
	"time"

	"paintwithchat/internal/relay"
	"paintwithchat/pkg/circuitbreaker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "paintwithchat"

// PrometheusCollector implements relay.Metrics.
type PrometheusCollector struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	roomsActive       prometheus.Gauge

	strokesTotal  *prometheus.CounterVec
	rejectedTotal *prometheus.CounterVec
	framesDropped prometheus.Counter
	flushDuration prometheus.Histogram
	flushStrokes  prometheus.Histogram
	flushFailures prometheus.Counter
	breakerState  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// NewPrometheusCollector registers every metric with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open realtime connections",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of realtime connections accepted",
		}),

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Number of sessions with at least one attached connection",
		}),

		strokesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strokes_completed_total",
			Help:      "Total number of finalized strokes",
		}, []string{"mode"}),

		rejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_rejected_total",
			Help:      "Inbound events that were refused",
		}, []string{"event", "reason"}),

		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_connections_closed_total",
			Help:      "Connections closed because their send queue was full",
		}),

		flushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Duration of stroke cache flushes to the durable store",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		flushStrokes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_strokes",
			Help:      "Strokes written per flush",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),

		flushFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_failures_total",
			Help:      "Stroke cache flushes that failed",
		}),

		breakerState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_breaker_state",
			Help:      "Storage circuit breaker state (0 closed, 1 open, 2 half-open)",
		}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

var _ relay.Metrics = (*PrometheusCollector)(nil)

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) ConnectionClosed() { p.connectionsActive.Dec() }
func (p *PrometheusCollector) RoomOpened()       { p.roomsActive.Inc() }
func (p *PrometheusCollector) RoomClosed()       { p.roomsActive.Dec() }
func (p *PrometheusCollector) FrameDropped()     { p.framesDropped.Inc() }

func (p *PrometheusCollector) StrokeCompleted(mode relay.DrawMode) {
	p.strokesTotal.WithLabelValues(string(mode)).Inc()
}

func (p *PrometheusCollector) ActionRejected(event, reason string) {
	p.rejectedTotal.WithLabelValues(event, reason).Inc()
}

func (p *PrometheusCollector) FlushCompleted(duration time.Duration, strokes int, err error) {
	if err != nil {
		p.flushFailures.Inc()
		return
	}
	p.flushDuration.Observe(duration.Seconds())
	p.flushStrokes.Observe(float64(strokes))
}

func (p *PrometheusCollector) BreakerStateChanged(state circuitbreaker.State) {
	p.breakerState.Set(float64(state))
}

func (p *PrometheusCollector) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
