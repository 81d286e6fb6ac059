// Package notify はアラーム発火時の通知（通知音・再生・リンクのオープン）を提供する。
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samueltatapudi-dev/BeatWake/internal/metrics"
	"github.com/samueltatapudi-dev/BeatWake/internal/model"
	"github.com/samueltatapudi-dev/BeatWake/internal/spotify"
)

// Tier は通知が到達した段階。
type Tier string

const (
	// TierPlayback はSpotify Player APIで再生できたことを示す。
	TierPlayback Tier = "playback"
	// TierBrowser はリンクをブラウザで開いたことを示す。
	TierBrowser Tier = "browser"
	// TierNone はすべての段階が失敗したことを示す。
	TierNone Tier = "none"
)

// Cue は通知音の結果。
type Cue string

const (
	CueSound Cue = "sound"
	CueBell  Cue = "bell"
)

// Source は発火のきっかけ。
type Source string

const (
	SourceSchedule Source = "scheduled"
	SourceSnooze   Source = "snooze"
	SourceManual   Source = "manual"
)

// Result は1回の発火の通知結果。
// Tierがplaybackかbrowserなら通知は届いている。Errには途中の段階の失敗も含む。
type Result struct {
	AlarmID string
	Label   string
	Source  Source
	Cue     Cue
	Tier    Tier
	Err     error
}

// Delivered はいずれかの段階で通知が届いたかを返す。
func (r Result) Delivered() bool {
	return r.Tier == TierPlayback || r.Tier == TierBrowser
}

// SoundPlayer は短い通知音を鳴らす。
type SoundPlayer interface {
	Play(ctx context.Context) error
}

// Bell は端末ベルを鳴らす。失敗しない。
type Bell interface {
	Ring()
}

// Player はSpotifyリソースを再生する。
type Player interface {
	IsAuthenticated() bool
	Play(ctx context.Context, res spotify.Resource) error
	SetVolume(ctx context.Context, percent int) error
}

// Opener はリンクを開く。
type Opener interface {
	Open(ctx context.Context, target string) error
}

// Observer は通知結果を受け取る。
type Observer interface {
	Observe(Result)
}

// ObserverFunc は関数をObserverとして使うためのアダプタ。
type ObserverFunc func(Result)

// Observe はf(r)を呼び出す。
func (f ObserverFunc) Observe(r Result) { f(r) }

// Config はDispatcherの設定。
type Config struct {
	// Volume が1〜100の場合、再生前に音量を設定する。
	Volume int
}

// Dispatcher はアラーム発火時に段階的な通知を行う。
type Dispatcher struct {
	sound    SoundPlayer
	bell     Bell
	player   Player
	opener   Opener
	observer Observer
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	cfg      Config
}

// NewDispatcher はDispatcherを生成する。playerとobserverはnilでもよい。
func NewDispatcher(
	sound SoundPlayer,
	bell Bell,
	player Player,
	opener Opener,
	observer Observer,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Dispatcher {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Dispatcher{
		sound:    sound,
		bell:     bell,
		player:   player,
		opener:   opener,
		observer: observer,
		metrics:  mc,
		logger:   logger,
		cfg:      cfg,
	}
}

// Fire はアラームの通知を行う。
//  1. 通知音を鳴らす（失敗時は端末ベル）
//  2. Spotifyリソースで認証済みならPlayer APIで再生する
//  3. 2が使えないか失敗した場合はリンクをブラウザで開く
func (d *Dispatcher) Fire(ctx context.Context, a model.Alarm, source Source) Result {
	res := Result{
		AlarmID: a.ID,
		Label:   a.DisplayName(),
		Source:  source,
	}

	res.Cue = d.cue(ctx)

	var errs []error
	if r, ok := spotify.ParseResource(a.Target); ok && d.player != nil && d.player.IsAuthenticated() {
		if err := d.play(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("playback: %w", err))
			d.logger.Warn("Spotifyでの再生に失敗しました。ブラウザで開きます",
				slog.String("alarm_id", a.ID),
				slog.String("uri", r.URI()),
				slog.String("error", err.Error()),
			)
		} else {
			res.Tier = TierPlayback
		}
	}

	if res.Tier == "" {
		if err := d.open(ctx, a.Target); err != nil {
			errs = append(errs, fmt.Errorf("browser: %w", err))
			res.Tier = TierNone
		} else {
			res.Tier = TierBrowser
		}
	}

	res.Err = errors.Join(errs...)

	d.metrics.RecordCue(string(res.Cue))
	d.metrics.RecordDispatch(string(res.Tier))
	if d.observer != nil {
		d.observer.Observe(res)
	}
	return res
}

func (d *Dispatcher) cue(ctx context.Context) Cue {
	if d.sound != nil {
		if err := d.sound.Play(ctx); err == nil {
			return CueSound
		} else {
			d.logger.Debug("通知音の再生に失敗しました。端末ベルを鳴らします",
				slog.String("error", err.Error()),
			)
		}
	}
	if d.bell != nil {
		d.bell.Ring()
	}
	return CueBell
}

func (d *Dispatcher) play(ctx context.Context, r spotify.Resource) error {
	if d.cfg.Volume > 0 && d.cfg.Volume <= 100 {
		if err := d.player.SetVolume(ctx, d.cfg.Volume); err != nil {
			d.logger.Warn("音量の設定に失敗しました",
				slog.Int("volume", d.cfg.Volume),
				slog.String("error", err.Error()),
			)
		}
	}
	return d.player.Play(ctx, r)
}

func (d *Dispatcher) open(ctx context.Context, target string) error {
	if d.opener == nil {
		return errors.New("no link opener configured")
	}
	return d.opener.Open(ctx, target)
}
