// Package app はBeatWakeのCLIサブコマンドと依存関係のワイヤリングを提供する。
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/samueltatapudi-dev/BeatWake/internal/config"
	"github.com/samueltatapudi-dev/BeatWake/internal/launcher"
	"github.com/samueltatapudi-dev/BeatWake/internal/logger"
	"github.com/samueltatapudi-dev/BeatWake/internal/metrics"
	"github.com/samueltatapudi-dev/BeatWake/internal/notify"
	"github.com/samueltatapudi-dev/BeatWake/internal/spotify"
	"github.com/samueltatapudi-dev/BeatWake/internal/store"
	"github.com/samueltatapudi-dev/BeatWake/internal/worker/trigger"
)

// Streams はCLIの入出力先。
// Outは利用者向けの表示、LogはJSON構造化ログの出力先。
type Streams struct {
	In  io.Reader
	Out io.Writer
	Log io.Writer
}

// StdStreams は標準入出力を使うStreamsを返す。
func StdStreams() Streams {
	return Streams{In: os.Stdin, Out: os.Stdout, Log: os.Stderr}
}

// Init はアプリケーションの初期化を行う。
// 設定を読み込み、設定されたレベルでJSON構造化ログをセットアップする。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, logger.SetupDefault(w, level), nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応する処理を実行する。
// argsにはos.Args[1:]を渡す。コマンドが未指定または不明な場合は使い方を表示してエラーを返す。
func Run(ctx context.Context, s Streams, args []string) error {
	cmd, rest, err := ParseCommand(args)
	if err != nil {
		PrintUsage(s.Out)
		return err
	}

	cfg, log, err := Init(s.Log)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Debug("starting command",
		slog.String("command", string(cmd)),
		slog.String("alarms_path", cfg.AlarmsPath),
	)

	return New(cfg, log, s).Execute(ctx, cmd, rest)
}

// App はサブコマンドの実行に必要な依存関係を保持する。
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
	in     *bufio.Reader
	clock  func() time.Time
	client *http.Client

	// テスト用に差し替え可能な依存
	dispatcher trigger.Dispatcher
	autostart  AutostartManager
}

// AutostartManager は自動起動の登録状態を操作する。
type AutostartManager interface {
	Enabled() bool
	Set(enable bool) error
}

// Option はAppの任意設定。
type Option func(*App)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(clock func() time.Time) Option {
	return func(a *App) { a.clock = clock }
}

// WithDispatcher は通知の実行を差し替える。
func WithDispatcher(d trigger.Dispatcher) Option {
	return func(a *App) { a.dispatcher = d }
}

// WithAutostart は自動起動の管理を差し替える。
func WithAutostart(m AutostartManager) Option {
	return func(a *App) { a.autostart = m }
}

// WithHTTPClient はデーモンの制御APIを呼び出すHTTPクライアントを差し替える。
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.client = c }
}

// New はAppを生成する。
func New(cfg *config.Config, log *slog.Logger, s Streams, opts ...Option) *App {
	in := s.In
	if in == nil {
		in = os.Stdin
	}
	out := s.Out
	if out == nil {
		out = os.Stdout
	}
	a := &App{
		cfg:    cfg,
		logger: log,
		out:    out,
		in:     bufio.NewReader(in),
		clock:  time.Now,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Execute はサブコマンドを実行する。
func (a *App) Execute(ctx context.Context, cmd Command, args []string) error {
	switch cmd {
	case CommandList:
		return a.List()
	case CommandAdd:
		return a.Add()
	case CommandDelete:
		return a.Delete()
	case CommandToggle:
		return a.Toggle()
	case CommandDaemon:
		return a.Daemon(ctx)
	case CommandSnooze:
		return a.Snooze(ctx)
	case CommandTest:
		return a.Test(ctx)
	case CommandAuth:
		return a.Auth(ctx)
	case CommandExport:
		return a.Export(args)
	case CommandAutostart:
		return a.Autostart(args)
	}
	return &UsageError{Command: string(cmd)}
}

// openStore はアラームファイルを読み込む。
// 読み込みに失敗した場合は警告ログを出して空の一覧から開始する。
func (a *App) openStore() *store.AlarmStore {
	st := store.NewAlarmStore(a.cfg.AlarmsPath)
	if _, err := st.LoadAll(); err != nil {
		a.logger.Warn("アラームファイルの読み込みに失敗しました",
			slog.String("path", a.cfg.AlarmsPath),
			slog.String("error", err.Error()),
		)
	}
	return st
}

// save はアラームを保存する。保存の失敗は警告として表示し、コマンド自体は成功とする。
func (a *App) save(st *store.AlarmStore) {
	if err := st.SaveAll(); err != nil {
		var perr *store.PersistenceError
		if errors.As(err, &perr) {
			fmt.Fprintf(a.out, "警告: アラームを保存できませんでした (%s)\n", perr.Path)
		}
		a.logger.Warn("アラームの保存に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// newSession はSpotifyセッションを生成する。リンクのオープンにはopenerを使う。
func (a *App) newSession(opener *launcher.Opener, mc metrics.MetricsCollector) *spotify.Session {
	sc := a.cfg.Spotify
	return spotify.NewSession(spotify.Config{
		RedirectURL:       sc.RedirectURL,
		Scopes:            sc.Scopes,
		DeviceID:          sc.DeviceID,
		AuthTimeout:       sc.AuthTimeout,
		RequestsPerSecond: sc.RequestsPerSecond,
		AuthURL:           sc.AuthURL,
		TokenURL:          sc.TokenURL,
		APIBaseURL:        sc.APIBaseURL,
	},
		spotify.NewCredentialStore(a.cfg.AuthPath),
		a.logger,
		spotify.WithBrowser(opener.Open),
		spotify.WithMetrics(mc),
	)
}

// newDispatcher は通知音・Spotify再生・ブラウザの段階的な通知を構成する。
// WithDispatcherで差し替えられている場合はそれを返す。
func (a *App) newDispatcher(mc metrics.MetricsCollector, observer notify.Observer) trigger.Dispatcher {
	if a.dispatcher != nil {
		return a.dispatcher
	}
	opener := launcher.NewOpener(a.cfg.Browser)
	return notify.NewDispatcher(
		launcher.NewSoundCue(a.cfg.SoundCommand, a.cfg.SoundTimeout),
		launcher.NewBell(os.Stderr),
		a.newSession(opener, mc),
		opener,
		observer,
		mc,
		a.logger,
		notify.Config{Volume: a.cfg.Spotify.Volume},
	)
}

// logResult は通知結果をログに記録するObserver。
func (a *App) logResult(r notify.Result) {
	attrs := []any{
		slog.String("alarm_id", r.AlarmID),
		slog.String("label", r.Label),
		slog.String("source", string(r.Source)),
		slog.String("cue", string(r.Cue)),
		slog.String("tier", string(r.Tier)),
	}
	if r.Err != nil {
		attrs = append(attrs, slog.String("error", r.Err.Error()))
	}
	switch {
	case !r.Delivered():
		a.logger.Error("アラームを通知できませんでした", attrs...)
	case r.Err != nil:
		a.logger.Warn("代替手段でアラームを通知しました", attrs...)
	default:
		a.logger.Info("アラームを通知しました", attrs...)
	}
}
