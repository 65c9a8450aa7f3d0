// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordBookmarkCreated()
	RecordBookmarkDeleted()
	RecordValidationFailure(reason string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordSessionCacheLookup(hit bool)
	RecordRealtimeEvent(eventType string)
	RecordRealtimeDropped()
	SetRealtimeSubscribers(n int)
	RecordPreviewFetch(result string, duration time.Duration)
	RecordHatebuUpdated(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	bookmarksCreated   prometheus.Counter
	bookmarksDeleted   prometheus.Counter
	validationFail     *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
	requestLatency     prometheus.Histogram
	sessionCache       *prometheus.CounterVec
	realtimeEvents     *prometheus.CounterVec
	realtimeDropped    prometheus.Counter
	realtimeSubscriber prometheus.Gauge
	previewFetch       *prometheus.CounterVec
	previewLatency     prometheus.Histogram
	hatebuUpdated      prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		bookmarksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartmark_bookmarks_created_total",
			Help: "作成されたブックマークの合計数",
		}),
		bookmarksDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartmark_bookmarks_deleted_total",
			Help: "削除されたブックマークの合計数",
		}),
		validationFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartmark_bookmark_validation_fail_total",
			Help: "入力検証で拒否されたブックマーク作成の数",
		}, []string{"reason"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartmark_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "smartmark_http_request_duration_seconds",
			Help:    "HTTPリクエスト処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartmark_session_cache_lookups_total",
			Help: "セッションキャッシュの参照数",
		}, []string{"result"}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartmark_realtime_events_total",
			Help: "変更フィードから受信したイベント数",
		}, []string{"type"}),
		realtimeDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartmark_realtime_dropped_total",
			Help: "購読者のバッファ溢れで破棄されたイベント数",
		}),
		realtimeSubscriber: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartmark_realtime_subscribers",
			Help: "現在の変更フィード購読者数",
		}),
		previewFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartmark_preview_fetch_total",
			Help: "URLプレビュー取得の結果別件数",
		}, []string{"result"}),
		previewLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "smartmark_preview_latency_seconds",
			Help:    "URLプレビュー取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		hatebuUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartmark_hatebu_updated_total",
			Help: "はてなブックマーク数を更新したURLの合計数",
		}),
	}

	reg.MustRegister(
		c.bookmarksCreated,
		c.bookmarksDeleted,
		c.validationFail,
		c.httpStatus,
		c.requestLatency,
		c.sessionCache,
		c.realtimeEvents,
		c.realtimeDropped,
		c.realtimeSubscriber,
		c.previewFetch,
		c.previewLatency,
		c.hatebuUpdated,
	)

	return c
}

// RecordBookmarkCreated はブックマーク作成を記録する。
func (c *Collector) RecordBookmarkCreated() {
	c.bookmarksCreated.Inc()
}

// RecordBookmarkDeleted はブックマーク削除を記録する。
func (c *Collector) RecordBookmarkDeleted() {
	c.bookmarksDeleted.Inc()
}

// RecordValidationFailure は入力検証エラーを理由別に記録する。
func (c *Collector) RecordValidationFailure(reason string) {
	c.validationFail.WithLabelValues(reason).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

func (c *Collector) RecordSessionCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.sessionCache.WithLabelValues(result).Inc()
}

func (c *Collector) RecordRealtimeEvent(eventType string) {
	c.realtimeEvents.WithLabelValues(eventType).Inc()
}

func (c *Collector) RecordRealtimeDropped() {
	c.realtimeDropped.Inc()
}

func (c *Collector) SetRealtimeSubscribers(n int) {
	c.realtimeSubscriber.Set(float64(n))
}

// RecordPreviewFetch はプレビュー取得の結果とレイテンシを記録する。
func (c *Collector) RecordPreviewFetch(result string, duration time.Duration) {
	c.previewFetch.WithLabelValues(result).Inc()
	c.previewLatency.Observe(duration.Seconds())
}

// RecordHatebuUpdated ははてなブックマーク数を更新したURL数を記録する。
func (c *Collector) RecordHatebuUpdated(count int) {
	c.hatebuUpdated.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var _ MetricsCollector = (*Collector)(nil)
