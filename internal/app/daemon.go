package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/samueltatapudi-dev/BeatWake/internal/handler"
	"github.com/samueltatapudi-dev/BeatWake/internal/metrics"
	"github.com/samueltatapudi-dev/BeatWake/internal/middleware"
	"github.com/samueltatapudi-dev/BeatWake/internal/model"
	"github.com/samueltatapudi-dev/BeatWake/internal/notify"
	"github.com/samueltatapudi-dev/BeatWake/internal/snooze"
	"github.com/samueltatapudi-dev/BeatWake/internal/worker/trigger"
)

// Daemon はアラームエンジンと制御APIを起動し、ctxが終了するまでブロックする。
// 制御APIの待ち受けに失敗した場合は起動しない。
func (a *App) Daemon(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.ControlListen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.ControlListen, err)
	}

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	mc := metrics.NewCollector(reg)

	// 2. アラームとスヌーズ
	st := a.openStore()
	queue := snooze.NewQueue()

	// 3. 通知
	dispatcher := a.newDispatcher(mc, notify.ObserverFunc(a.logResult))

	// 4. エンジン
	engine := trigger.NewEngine(st, queue, dispatcher, mc, a.logger, trigger.WithClock(a.clock))

	// 5. 制御API
	router := handler.NewRouter(&handler.RouterDeps{
		Alarms:        st,
		Snoozer:       engine,
		Logger:        a.logger,
		Gatherer:      reg,
		Clock:         a.clock,
		SnoozeMinutes: a.cfg.SnoozeMinutes,
	})
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		a.logger.Info("制御APIを開始しました",
			slog.String("addr", ln.Addr().String()),
		)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("control server error", slog.String("error", err.Error()))
		}
	}()

	fmt.Fprintf(a.out, "BeatWake デーモンを開始しました (%d件のアラーム)。Ctrl+C で終了します。\n", st.Len())

	// エンジンをメインgoroutineで実行（ブロッキング）
	engine.Start(ctx, a.cfg.PollInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control server shutdown failed: %w", err)
	}

	a.logger.Info("デーモンを停止しました")
	fmt.Fprintln(a.out, "BeatWake デーモンを停止しました。")
	return nil
}

// snoozeReply は制御APIのスヌーズ登録レスポンス。
type snoozeReply struct {
	ID      string    `json:"id"`
	AlarmID string    `json:"alarm_id"`
	Label   string    `json:"label"`
	At      time.Time `json:"at"`
}

// Snooze は番号で指定したアラームのスヌーズを実行中のデーモンに依頼する。
// スヌーズはデーモンのメモリ上にのみ保持される。
func (a *App) Snooze(ctx context.Context) error {
	st := a.openStore()
	al, _, ok, err := a.selectAlarm(st, "スヌーズするアラームの番号: ")
	if err != nil || !ok {
		return err
	}

	input, err := a.ask(fmt.Sprintf("スヌーズ時間（分、省略時 %d）: ", a.cfg.SnoozeMinutes))
	if err != nil {
		return err
	}
	minutes := a.cfg.SnoozeMinutes
	if input != "" {
		n, err := strconv.Atoi(input)
		if err != nil || n <= 0 {
			return model.NewInvalidSnoozeMinutesError(n)
		}
		minutes = n
	}

	reply, err := a.requestSnooze(ctx, al.ID, minutes)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s を %s にスヌーズしました\n", reply.Label, reply.At.Local().Format("15:04"))
	return nil
}

func (a *App) requestSnooze(ctx context.Context, id string, minutes int) (snoozeReply, error) {
	body, err := json.Marshal(map[string]int{"minutes": minutes})
	if err != nil {
		return snoozeReply{}, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := (&url.URL{
		Scheme: "http",
		Host:   a.cfg.ControlListen,
		Path:   "/api/alarms/" + url.PathEscape(id) + "/snooze",
	}).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return snoozeReply{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return snoozeReply{}, fmt.Errorf("daemon is not reachable at %s (is `beatwake daemon` running?): %w", a.cfg.ControlListen, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var body middleware.ErrorResponseBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Code == "" {
			return snoozeReply{}, fmt.Errorf("daemon returned status %d", resp.StatusCode)
		}
		return snoozeReply{}, &model.APIError{
			Code:     body.Code,
			Message:  body.Message,
			Category: body.Category,
			Action:   body.Action,
		}
	}

	var reply snoozeReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return snoozeReply{}, fmt.Errorf("failed to decode daemon response: %w", err)
	}
	return reply, nil
}
