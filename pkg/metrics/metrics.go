// Package metrics はPrometheusメトリクスの登録と公開を提供する。
//
// 各サービスは独自のレジストリを持ち、/metrics で公開する。
// 認証・信頼検証の結果は outcome ラベルで集計する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証・認可の判定結果ラベル。
const (
	OutcomeAllowed        = "allowed"
	OutcomeAnonymous      = "anonymous"
	OutcomeInvalidToken   = "invalid_token"
	OutcomeRevoked        = "revoked"
	OutcomeLedgerError    = "ledger_error"
	OutcomeTrustViolation = "trust_violation"
	OutcomeMalformed      = "malformed"
	OutcomeForbidden      = "forbidden"
	OutcomeSkipped        = "skipped"
)

// Metrics はサービスが公開するメトリクス一式。
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	edgeDecisions       *prometheus.CounterVec
	trustDecisions      *prometheus.CounterVec
	ledgerOperations    *prometheus.CounterVec
}

// New はサービス専用のレジストリにメトリクスを登録する。
func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: reg,
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "http_in_flight_requests",
			Help:        "In-flight HTTP requests.",
			ConstLabels: labels,
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests.",
			ConstLabels: labels,
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latencies in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"method", "route", "status"}),
		edgeDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "edge_auth_decisions_total",
			Help:        "Access token decisions made at the gateway.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		trustDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "trust_decisions_total",
			Help:        "Gateway trust assertion and policy decisions made by internal services.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		ledgerOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "token_ledger_operations_total",
			Help:        "Token ledger operations by kind and result.",
			ConstLabels: labels,
		}, []string{"operation", "result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.edgeDecisions,
		m.trustDecisions,
		m.ledgerOperations,
	)
	return m
}

// Registry は内部のレジストリを返す。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler は /metrics 用のハンドラーを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// EdgeDecision はGatewayでの判定結果を記録する。nilでも安全に呼べる。
func (m *Metrics) EdgeDecision(outcome string) {
	if m == nil {
		return
	}
	m.edgeDecisions.WithLabelValues(outcome).Inc()
}

// TrustDecision は内部サービスでの判定結果を記録する。nilでも安全に呼べる。
func (m *Metrics) TrustDecision(outcome string) {
	if m == nil {
		return
	}
	m.trustDecisions.WithLabelValues(outcome).Inc()
}

// LedgerOperation は台帳操作の結果を記録する。nilでも安全に呼べる。
func (m *Metrics) LedgerOperation(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ledgerOperations.WithLabelValues(operation, result).Inc()
}

// Instrument はリクエスト数・レイテンシ・処理中リクエスト数を計測するGinミドルウェアを返す。
// ルートラベルには登録済みのルートパターンを使い、未登録のパスは "unmatched" とする。
func (m *Metrics) Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.httpInFlight.Inc()
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.httpRequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpInFlight.Dec()
	}
}
