package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Exporter はPrometheus形式でメトリクスを公開する
type Exporter struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeSessions  prometheus.Gauge
	abortedSessions prometheus.Counter
}

// NewExporter は専用のprometheus.Registryを持つExporterを作成する
func NewExporter() *Exporter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Exporter{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bankload_requests_total",
				Help: "Total number of scenario requests by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bankload_request_duration_seconds",
				Help:    "Request duration in seconds by action",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bankload_sessions_active",
				Help: "Number of simulated sessions currently running",
			},
		),
		abortedSessions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bankload_sessions_aborted_total",
				Help: "Sessions discarded because registration or login failed",
			},
		),
	}
}

// ObserveRequest はリクエスト結果を記録する
func (e *Exporter) ObserveRequest(action string, success bool, latency time.Duration) {
	outcome := OutcomeFailure
	if success {
		outcome = OutcomeSuccess
	}
	e.requestsTotal.WithLabelValues(action, outcome).Inc()
	e.requestDuration.WithLabelValues(action).Observe(latency.Seconds())
}

// SessionStarted はアクティブセッション数を増やす
func (e *Exporter) SessionStarted() {
	e.activeSessions.Inc()
}

// SessionEnded はアクティブセッション数を減らす
func (e *Exporter) SessionEnded() {
	e.activeSessions.Dec()
}

// SessionAborted はセットアップ失敗で破棄されたセッションを数える
func (e *Exporter) SessionAborted() {
	e.abortedSessions.Inc()
}

// Handler は/metrics用のHTTPハンドラを返す
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
