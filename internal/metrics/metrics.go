// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// コールバック結果のラベル値
const (
	OutcomeSuccess       = "success"
	OutcomeInvalidState  = "invalid_state"
	OutcomeProviderError = "provider_error"
	OutcomeNoEmail       = "no_email"
	OutcomeError         = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスやクリーンアップワーカーから利用する。
type MetricsCollector interface {
	RecordLoginStarted(provider string)
	RecordCallback(provider, outcome string)
	RecordSessionIssued()
	RecordCleanupDeleted(kind string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginStarted   *prometheus.CounterVec
	callbacks      *prometheus.CounterVec
	sessionsIssued prometheus.Counter
	cleanupDeleted *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialauth_login_started_total",
			Help: "開始されたソーシャルログインの合計数",
		}, []string{"provider"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialauth_callback_total",
			Help: "OAuthコールバックの結果別合計数",
		}, []string{"provider", "outcome"}),
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socialauth_sessions_issued_total",
			Help: "発行されたセッションの合計数",
		}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialauth_cleanup_deleted_total",
			Help: "クリーンアップで削除された期限切れレコード数",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialauth_http_requests_total",
			Help: "HTTPリクエストのステータスコード・メソッド別合計数",
		}, []string{"code", "method"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "socialauth_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"code", "method"}),
	}

	reg.MustRegister(
		c.loginStarted,
		c.callbacks,
		c.sessionsIssued,
		c.cleanupDeleted,
		c.httpRequests,
		c.httpDuration,
	)

	return c
}

// RecordLoginStarted はソーシャルログイン開始を記録する。
func (c *Collector) RecordLoginStarted(provider string) {
	c.loginStarted.WithLabelValues(provider).Inc()
}

// RecordCallback はOAuthコールバックの結果を記録する。
func (c *Collector) RecordCallback(provider, outcome string) {
	c.callbacks.WithLabelValues(provider, outcome).Inc()
}

// RecordSessionIssued はセッション発行を記録する。
func (c *Collector) RecordSessionIssued() {
	c.sessionsIssued.Inc()
}

// RecordCleanupDeleted はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordCleanupDeleted(kind string, count int64) {
	c.cleanupDeleted.WithLabelValues(kind).Add(float64(count))
}

// InstrumentHandler はHTTPリクエスト数と処理時間を記録するミドルウェア。
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(c.httpRequests,
		promhttp.InstrumentHandlerDuration(c.httpDuration, next),
	)
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordLoginStarted(string)          {}
func (NopCollector) RecordCallback(string, string)      {}
func (NopCollector) RecordSessionIssued()               {}
func (NopCollector) RecordCleanupDeleted(string, int64) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
