// Package trigger はアラームのポーリングと発火を行うバックグラウンドエンジンを提供する。
package trigger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samueltatapudi-dev/BeatWake/internal/metrics"
	"github.com/samueltatapudi-dev/BeatWake/internal/model"
	"github.com/samueltatapudi-dev/BeatWake/internal/notify"
	"github.com/samueltatapudi-dev/BeatWake/internal/schedule"
	"github.com/samueltatapudi-dev/BeatWake/internal/snooze"
)

// DefaultInterval はデーモンのポーリング間隔のデフォルト値。
const DefaultInterval = 30 * time.Second

// AlarmStore はエンジンが利用するアラーム一覧の操作。
type AlarmStore interface {
	List() []model.Alarm
	Get(id string) (model.Alarm, bool)
	MarkFired(id, key string) bool
	Remove(id string) (model.Alarm, bool)
	SaveAll() error
	ReloadIfChanged() (bool, error)
}

// Dispatcher はアラームの通知を行う。
type Dispatcher interface {
	Fire(ctx context.Context, a model.Alarm, source notify.Source) notify.Result
}

// Summary は1回の評価結果。
type Summary struct {
	Fired   []string // 発火したアラームID
	Snoozed []string // 発火したスヌーズのエントリID
	Removed []string // 発火後に削除したOnceアラームID
}

// Engine はアラームとスヌーズを時刻に照らして評価し、発火させる。
// 同じアラームは同じ分に2回以上発火しない。
type Engine struct {
	store      AlarmStore
	queue      *snooze.Queue
	dispatcher Dispatcher
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	clock      func() time.Time

	wg sync.WaitGroup
}

// Option はEngineの任意設定。
type Option func(*Engine)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// NewEngine はEngineを生成する。mcがnilの場合はメトリクスを記録しない。
func NewEngine(
	store AlarmStore,
	queue *snooze.Queue,
	dispatcher Dispatcher,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	if mc == nil {
		mc = metrics.Nop{}
	}
	e := &Engine{
		store:      store,
		queue:      queue,
		dispatcher: dispatcher,
		metrics:    mc,
		logger:     logger,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start はinterval間隔のティッカーでエンジンを起動する。
// コンテキストがキャンセルされるまで実行を継続し、終了時は実行中の通知を待つ。
func (e *Engine) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("アラームエンジンを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := e.RunOnce(ctx); err != nil {
		e.logger.Warn("アラームの評価中に警告が発生しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			e.Wait()
			e.logger.Info("アラームエンジンを停止しました")
			return
		case <-ticker.C:
			if err := e.RunOnce(ctx); err != nil {
				e.logger.Warn("アラームの評価中に警告が発生しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はアラームファイルの変更を取り込み、現在時刻で1回評価する。
// 返すエラーは永続化の警告のみで、評価自体は常に行う。
func (e *Engine) RunOnce(ctx context.Context) error {
	start := time.Now()

	var warn error
	if reloaded, err := e.store.ReloadIfChanged(); err != nil {
		warn = err
	} else if reloaded {
		e.logger.Info("アラームファイルを再読み込みしました")
	}

	sum, err := e.evaluate(ctx, e.clock())
	e.metrics.RecordTickLatency(time.Since(start))

	if len(sum.Fired) > 0 || len(sum.Snoozed) > 0 {
		e.logger.Info("アラームの評価が完了しました",
			slog.Int("fired_count", len(sum.Fired)),
			slog.Int("snooze_count", len(sum.Snoozed)),
			slog.Int("removed_count", len(sum.Removed)),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}
	return errors.Join(warn, err)
}

// Evaluate はnowの時点で発火すべきアラームと期限の来たスヌーズをすべて発火させる。
// 通知は非同期で行われる。完了を待つにはWaitを呼び出す。
func (e *Engine) Evaluate(ctx context.Context, now time.Time) Summary {
	sum, err := e.evaluate(ctx, now)
	if err != nil {
		e.logger.Warn("アラームの保存に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	return sum
}

func (e *Engine) evaluate(ctx context.Context, now time.Time) (Summary, error) {
	var sum Summary
	var saveErr error

	key := schedule.DedupKey(now)
	alarms := e.store.List()
	for _, a := range alarms {
		if !schedule.ShouldFire(a, now) {
			continue
		}
		// 判定と記録を1つのロック内で行い、同じ分の二重発火を防ぐ
		if !e.store.MarkFired(a.ID, key) {
			continue
		}

		if a.Repeat.IsOnce() {
			if _, ok := e.store.Remove(a.ID); ok {
				sum.Removed = append(sum.Removed, a.ID)
				if err := e.store.SaveAll(); err != nil {
					saveErr = err
				}
			}
		}

		sum.Fired = append(sum.Fired, a.ID)
		e.metrics.RecordFire(metrics.FireKindScheduled)
		e.dispatch(ctx, a, notify.SourceSchedule)
	}

	for _, entry := range e.queue.Due(now) {
		sum.Snoozed = append(sum.Snoozed, entry.ID)
		e.metrics.RecordFire(metrics.FireKindSnooze)
		e.dispatch(ctx, entry.Alarm, notify.SourceSnooze)
	}

	e.metrics.SetAlarmCount(len(alarms) - len(sum.Removed))
	e.metrics.SetPendingSnoozes(e.queue.Len())
	return sum, saveErr
}

// dispatch は通知をゴルーチンで実行する。ポーリングは通知の完了を待たない。
func (e *Engine) dispatch(ctx context.Context, a model.Alarm, source notify.Source) {
	e.logger.Info("アラームを発火します",
		slog.String("alarm_id", a.ID),
		slog.String("label", a.DisplayName()),
		slog.String("source", string(source)),
	)
	// 停止要求と同時に発火したアラームも最後まで通知する
	dctx := context.WithoutCancel(ctx)
	e.wg.Go(func() {
		e.dispatcher.Fire(dctx, a, source)
	})
}

// Fire はアラームをスケジュールと無関係に直ちに発火させ、結果を返す。
func (e *Engine) Fire(ctx context.Context, id string) (notify.Result, error) {
	a, ok := e.store.Get(id)
	if !ok {
		return notify.Result{}, model.NewAlarmNotFoundError(id)
	}
	e.metrics.RecordFire(metrics.FireKindManual)
	return e.dispatcher.Fire(ctx, a, notify.SourceManual), nil
}

// Snooze はIDで指定したアラームをminutes分後に1回だけ再発火するよう登録する。
// スヌーズはアラームのコピーを保持するため、その後アラームが削除・無効化されても発火する。
func (e *Engine) Snooze(id string, minutes int) (snooze.Entry, error) {
	a, ok := e.store.Get(id)
	if !ok {
		return snooze.Entry{}, model.NewAlarmNotFoundError(id)
	}
	entry, err := e.queue.Snooze(a, minutes, e.clock())
	if err != nil {
		return snooze.Entry{}, err
	}
	e.metrics.SetPendingSnoozes(e.queue.Len())
	e.logger.Info("スヌーズを登録しました",
		slog.String("alarm_id", a.ID),
		slog.String("label", a.DisplayName()),
		slog.Time("at", entry.At),
	)
	return entry, nil
}

// Snoozes は未発火のスヌーズを発火予定時刻順で返す。
func (e *Engine) Snoozes() []snooze.Entry {
	return e.queue.Pending()
}

// Wait は実行中の通知がすべて完了するまで待つ。
func (e *Engine) Wait() {
	e.wg.Wait()
}
