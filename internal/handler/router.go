// Package handler はデーモンの制御APIを提供する。
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/samueltatapudi-dev/BeatWake/internal/metrics"
	"github.com/samueltatapudi-dev/BeatWake/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Alarms  AlarmService
	Snoozer Snoozer
	Logger  *slog.Logger

	// Gatherer が設定されている場合は /metrics を公開する
	Gatherer prometheus.Gatherer

	// Clock は次回発火時刻の計算に使う。nilの場合はtime.Now
	Clock func() time.Time

	// SnoozeMinutes はスヌーズ分数が省略された場合のデフォルト値
	SnoozeMinutes int

	// MutationRate は状態変更リクエストの上限（req/sec）。0の場合は2
	MutationRate float64
}

// NewRouter は制御APIのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → (/api のみ) CSRF → RateLimit
func NewRouter(deps *RouterDeps) http.Handler {
	rate := deps.MutationRate
	if rate <= 0 {
		rate = 2
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.Get("/health", Health)

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	alarmHandler := NewAlarmHandler(deps.Alarms, deps.Snoozer, deps.Logger, deps.Clock, deps.SnoozeMinutes)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.Logger))
		r.Use(middleware.NewRateLimitMiddleware(rate, 5, deps.Logger))

		r.Route("/alarms", func(r chi.Router) {
			r.Get("/", alarmHandler.ListAlarms)
			r.Post("/{id}/toggle", alarmHandler.ToggleAlarm)
			r.Post("/{id}/snooze", alarmHandler.SnoozeAlarm)
		})
		r.Get("/snoozes", alarmHandler.ListSnoozes)
	})

	return r
}

// Health はデーモンの稼働確認に応答する。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
