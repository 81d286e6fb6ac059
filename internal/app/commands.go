package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/samueltatapudi-dev/BeatWake/internal/autostart"
	"github.com/samueltatapudi-dev/BeatWake/internal/calendar"
	"github.com/samueltatapudi-dev/BeatWake/internal/launcher"
	"github.com/samueltatapudi-dev/BeatWake/internal/metrics"
	"github.com/samueltatapudi-dev/BeatWake/internal/model"
	"github.com/samueltatapudi-dev/BeatWake/internal/schedule"
	"github.com/samueltatapudi-dev/BeatWake/internal/snooze"
	"github.com/samueltatapudi-dev/BeatWake/internal/store"
	"github.com/samueltatapudi-dev/BeatWake/internal/worker/trigger"
)

// ErrInputClosed は入力待ちの途中で入力が終了した場合のエラー。
var ErrInputClosed = errors.New("input closed")

// ask はlabelを表示して1行読み込み、前後の空白を除いて返す。
func (a *App) ask(label string) (string, error) {
	fmt.Fprint(a.out, label)
	line, err := a.in.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		if line == "" {
			return "", ErrInputClosed
		}
	}
	return strings.TrimSpace(line), nil
}

// List はアラーム一覧を表示する。
func (a *App) List() error {
	a.printAlarms(a.openStore().List())
	return nil
}

func (a *App) printAlarms(alarms []model.Alarm) {
	if len(alarms) == 0 {
		fmt.Fprintln(a.out, "アラームは登録されていません。")
		return
	}

	now := a.clock()
	for i, al := range alarms {
		mark := "✗"
		next := "無効"
		if al.Enabled {
			mark = "✓"
			if t, err := schedule.NextTrigger(al, now); err == nil {
				next = t.Format("2006-01-02 (Mon) 15:04")
			}
		}
		label := al.Label
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(a.out, "%2d. %s %s | %s | %s\n", i+1, mark, al.Time, label, al.Repeat)
		fmt.Fprintf(a.out, "    URL: %s\n", al.Target)
		fmt.Fprintf(a.out, "    次回: %s\n", next)
	}
}

// Add は対話形式でアラームを追加して保存する。
func (a *App) Add() error {
	timeStr, err := a.ask("時刻 (HH:MM): ")
	if err != nil {
		return err
	}
	tod, err := model.ParseTimeOfDay(timeStr)
	if err != nil {
		return err
	}

	label, err := a.ask("ラベル (省略可): ")
	if err != nil {
		return err
	}
	target, err := a.ask("URL: ")
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, "繰り返す曜日をカンマ区切りで入力してください: Mon,Tue,Wed,Thu,Fri,Sat,Sun")
	daysInput, err := a.ask("1回だけの場合は Once: ")
	if err != nil {
		return err
	}
	repeat, err := model.ParseRepeatInput(daysInput)
	if err != nil {
		return err
	}

	alarm, err := model.NewAlarm(tod, target, repeat, label)
	if err != nil {
		return err
	}

	st := a.openStore()
	alarm, err = st.Add(alarm)
	if err != nil {
		return err
	}
	a.save(st)

	a.logger.Info("アラームを追加しました",
		slog.String("alarm_id", alarm.ID),
		slog.String("time", alarm.Time.String()),
	)
	fmt.Fprintf(a.out, "アラームを追加しました: %s\n", alarm.DisplayName())
	return nil
}

// selectAlarm は一覧を表示して番号の入力を受け付け、0始まりのインデックスを返す。
// アラームが1件もない場合は ok=false を返す。
func (a *App) selectAlarm(st *store.AlarmStore, prompt string) (model.Alarm, int, bool, error) {
	alarms := st.List()
	if len(alarms) == 0 {
		fmt.Fprintln(a.out, "アラームは登録されていません。")
		return model.Alarm{}, 0, false, nil
	}
	a.printAlarms(alarms)

	input, err := a.ask(prompt)
	if err != nil {
		return model.Alarm{}, 0, false, err
	}
	n, err := strconv.Atoi(input)
	if err != nil {
		return model.Alarm{}, 0, false, model.NewInvalidIndexError(input)
	}
	al, err := st.At(n - 1)
	if err != nil {
		return model.Alarm{}, 0, false, err
	}
	return al, n - 1, true, nil
}

// Delete は番号で指定したアラームを削除して保存する。
func (a *App) Delete() error {
	st := a.openStore()
	_, idx, ok, err := a.selectAlarm(st, "削除するアラームの番号: ")
	if err != nil || !ok {
		return err
	}

	deleted, err := st.RemoveAt(idx)
	if err != nil {
		return err
	}
	a.save(st)

	a.logger.Info("アラームを削除しました", slog.String("alarm_id", deleted.ID))
	fmt.Fprintf(a.out, "アラームを削除しました: %s\n", deleted.DisplayName())
	return nil
}

// Toggle は番号で指定したアラームの有効・無効を切り替えて保存する。
func (a *App) Toggle() error {
	st := a.openStore()
	_, idx, ok, err := a.selectAlarm(st, "切り替えるアラームの番号: ")
	if err != nil || !ok {
		return err
	}

	toggled, err := st.ToggleEnabled(idx)
	if err != nil {
		return err
	}
	a.save(st)

	state := "無効"
	if toggled.Enabled {
		state = "有効"
	}
	a.logger.Info("アラームの有効状態を変更しました",
		slog.String("alarm_id", toggled.ID),
		slog.Bool("enabled", toggled.Enabled),
	)
	fmt.Fprintf(a.out, "%s を%sにしました\n", toggled.DisplayName(), state)
	return nil
}

// Test は番号で指定したアラームを直ちに発火させ、通知結果を表示する。
func (a *App) Test(ctx context.Context) error {
	st := a.openStore()
	al, _, ok, err := a.selectAlarm(st, "テストするアラームの番号: ")
	if err != nil || !ok {
		return err
	}

	engine := trigger.NewEngine(st, snooze.NewQueue(), a.newDispatcher(metrics.Nop{}, nil), nil, a.logger)
	res, err := engine.Fire(ctx, al.ID)
	if err != nil {
		return err
	}

	if !res.Delivered() {
		return fmt.Errorf("failed to deliver alarm %s: %w", res.Label, res.Err)
	}
	fmt.Fprintf(a.out, "%s を通知しました (%s)\n", res.Label, res.Tier)
	if res.Err != nil {
		fmt.Fprintf(a.out, "警告: %v\n", res.Err)
	}
	return nil
}

// Export は有効なアラームをiCalendar形式で書き出す。
// 引数でファイルを指定しない場合、または "-" の場合は標準出力に書き出す。
func (a *App) Export(args []string) error {
	alarms := a.openStore().List()

	if len(args) == 0 || args[0] == "-" {
		_, err := calendar.Export(a.out, alarms, a.clock())
		return err
	}

	path := args[0]
	var buf bytes.Buffer
	n, err := calendar.Export(&buf, alarms, a.clock())
	if err != nil {
		return err
	}
	if err := store.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(a.out, "%d件のアラームを書き出しました: %s\n", n, path)
	return nil
}

// Autostart はログイン時の自動起動を切り替える。引数がない場合は現在の状態を表示する。
func (a *App) Autostart(args []string) error {
	m := a.autostart
	if m == nil {
		mgr, err := autostart.NewManager(a.logger)
		if err != nil {
			return err
		}
		m = mgr
	}

	if len(args) == 0 {
		state := "無効"
		if m.Enabled() {
			state = "有効"
		}
		fmt.Fprintf(a.out, "自動起動: %s\n", state)
		return nil
	}

	switch strings.ToLower(args[0]) {
	case "on":
		if err := m.Set(true); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "ログイン時に beatwake daemon を起動します")
	case "off":
		if err := m.Set(false); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "自動起動を解除しました")
	default:
		return fmt.Errorf("autostart: expected on or off, got %q", args[0])
	}
	return nil
}

// Auth はSpotifyのクライアント認証情報を設定し、認可フローの完了を待つ。
func (a *App) Auth(ctx context.Context) error {
	opener := launcher.NewOpener(a.cfg.Browser)
	session := a.newSession(opener, metrics.Nop{})

	if !session.IsConfigured() {
		clientID, err := a.ask("Spotify Client ID: ")
		if err != nil {
			return err
		}
		clientSecret, err := a.ask("Spotify Client Secret: ")
		if err != nil {
			return err
		}
		if err := session.SetCredentials(clientID, clientSecret); err != nil {
			return err
		}
	}

	done := make(chan bool, 1)
	if err := session.BeginAuthorization(ctx, func(ok bool) { done <- ok }); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "ブラウザで認可ページを開きました。%s で応答を待っています...\n", a.cfg.Spotify.RedirectURL)

	if ok := <-done; !ok {
		return errors.New("spotify authorization did not complete")
	}
	fmt.Fprintln(a.out, "Spotifyに接続しました")
	return nil
}
