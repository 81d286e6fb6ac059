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
// トリガーエンジン、通知ディスパッチャ、Spotifyセッションから利用する。
type MetricsCollector interface {
	RecordFire(kind string)
	RecordDispatch(tier string)
	RecordCue(outcome string)
	RecordTokenRefresh(success bool)
	RecordPlayerStatus(statusCode int)
	RecordTickLatency(duration time.Duration)
	SetAlarmCount(n int)
	SetPendingSnoozes(n int)
}

// 発火種別のラベル値
const (
	FireKindScheduled = "scheduled"
	FireKindSnooze    = "snooze"
	FireKindManual    = "manual"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fires          *prometheus.CounterVec
	dispatches     *prometheus.CounterVec
	cues           *prometheus.CounterVec
	tokenRefreshes *prometheus.CounterVec
	playerStatus   *prometheus.CounterVec
	tickLatency    prometheus.Histogram
	alarms         prometheus.Gauge
	pendingSnoozes prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beatwake_alarm_fires_total",
			Help: "アラーム発火の合計数（種別ごと）",
		}, []string{"kind"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beatwake_dispatch_total",
			Help: "通知ディスパッチ結果の合計数（到達した段階ごと）",
		}, []string{"tier"}),
		cues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beatwake_cue_total",
			Help: "通知音の結果の合計数",
		}, []string{"outcome"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beatwake_token_refresh_total",
			Help: "アクセストークン更新の合計数",
		}, []string{"result"}),
		playerStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beatwake_player_status_total",
			Help: "Spotify Player APIのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beatwake_tick_duration_seconds",
			Help:    "トリガー判定1回あたりの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		alarms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "beatwake_alarms",
			Help: "登録されているアラーム数",
		}),
		pendingSnoozes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "beatwake_snoozes_pending",
			Help: "未発火のスヌーズ数",
		}),
	}

	reg.MustRegister(
		c.fires,
		c.dispatches,
		c.cues,
		c.tokenRefreshes,
		c.playerStatus,
		c.tickLatency,
		c.alarms,
		c.pendingSnoozes,
	)

	return c
}

// RecordFire はアラーム発火を記録する。
func (c *Collector) RecordFire(kind string) {
	c.fires.WithLabelValues(kind).Inc()
}

// RecordDispatch はディスパッチ結果の段階を記録する。
func (c *Collector) RecordDispatch(tier string) {
	c.dispatches.WithLabelValues(tier).Inc()
}

// RecordCue は通知音の結果を記録する。
func (c *Collector) RecordCue(outcome string) {
	c.cues.WithLabelValues(outcome).Inc()
}

// RecordTokenRefresh はトークン更新の成否を記録する。
func (c *Collector) RecordTokenRefresh(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.tokenRefreshes.WithLabelValues(result).Inc()
}

// RecordPlayerStatus はPlayer APIのHTTPステータスコードを記録する。
func (c *Collector) RecordPlayerStatus(statusCode int) {
	c.playerStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordTickLatency はトリガー判定の所要時間を記録する。
func (c *Collector) RecordTickLatency(duration time.Duration) {
	c.tickLatency.Observe(duration.Seconds())
}

// SetAlarmCount はアラーム数を設定する。
func (c *Collector) SetAlarmCount(n int) {
	c.alarms.Set(float64(n))
}

// SetPendingSnoozes は未発火のスヌーズ数を設定する。
func (c *Collector) SetPendingSnoozes(n int) {
	c.pendingSnoozes.Set(float64(n))
}

// Nop は何も記録しないMetricsCollector。メトリクスを使わないCLIコマンドで使う。
type Nop struct{}

func (Nop) RecordFire(string)                {}
func (Nop) RecordDispatch(string)            {}
func (Nop) RecordCue(string)                 {}
func (Nop) RecordTokenRefresh(bool)          {}
func (Nop) RecordPlayerStatus(int)           {}
func (Nop) RecordTickLatency(time.Duration) {}
func (Nop) SetAlarmCount(int)                {}
func (Nop) SetPendingSnoozes(int)            {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
