// Package launcher は外部コマンドによるリンクのオープンと通知音の再生を提供する。
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// MaxSoundDuration は通知音1回あたりの上限時間。
// ポーリングループをこれ以上ブロックしない。
const MaxSoundDuration = time.Second

// ErrNoCommand はコマンドが設定されていないことを示す。
var ErrNoCommand = errors.New("no command configured")

// runner は外部プロセスの起動を抽象化する。テストで差し替える。
type runner func(ctx context.Context, name string, args ...string) *exec.Cmd

// Opener はリンクをブラウザ（またはOS既定のハンドラ）で開く。
type Opener struct {
	command []string
	run     runner
}

// NewOpener はOpenerを生成する。
// browserが空でない場合はそのコマンドを使い（$BROWSER相当）、
// 空の場合はOSごとの既定コマンドを使う。
func NewOpener(browser string) *Opener {
	cmd := strings.Fields(browser)
	if len(cmd) == 0 {
		cmd = defaultOpenCommand()
	}
	return &Opener{command: cmd, run: exec.CommandContext}
}

func defaultOpenCommand() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"open"}
	case "windows":
		return []string{"rundll32", "url.dll,FileProtocolHandler"}
	default:
		return []string{"xdg-open"}
	}
}

// Open はtargetを開くプロセスを起動する。プロセスの終了は待たない。
// コマンドが見つからないなど起動に失敗した場合はエラーを返す。
func (o *Opener) Open(ctx context.Context, target string) error {
	if len(o.command) == 0 {
		return ErrNoCommand
	}
	args := append(append([]string{}, o.command[1:]...), target)
	// ブラウザはアラームの処理より長く生存するため、ctxには紐付けない
	cmd := o.run(context.WithoutCancel(ctx), o.command[0], args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", o.command[0], err)
	}
	go cmd.Wait()
	return nil
}

// SoundCue は外部コマンドで短い通知音を鳴らす。
type SoundCue struct {
	command []string
	timeout time.Duration
	run     runner
}

// NewSoundCue はSoundCueを生成する。
// commandが空の場合はOSごとの既定コマンドを使う。
// timeoutはMaxSoundDurationを上限に切り詰める。
func NewSoundCue(command string, timeout time.Duration) *SoundCue {
	cmd := strings.Fields(command)
	if len(cmd) == 0 {
		cmd = defaultSoundCommand()
	}
	if timeout <= 0 || timeout > MaxSoundDuration {
		timeout = MaxSoundDuration
	}
	return &SoundCue{command: cmd, timeout: timeout, run: exec.CommandContext}
}

func defaultSoundCommand() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"afplay", "/System/Library/Sounds/Glass.aiff"}
	case "linux":
		return []string{"paplay", "/usr/share/sounds/freedesktop/stereo/alarm-clock-elapsed.oga"}
	default:
		return nil
	}
}

// Play は通知音コマンドを実行し、終了するかタイムアウトまで待つ。
// タイムアウトした場合はプロセスを終了させてエラーを返す。
func (s *SoundCue) Play(ctx context.Context) error {
	if len(s.command) == 0 {
		return ErrNoCommand
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := s.run(ctx, s.command[0], s.command[1:]...)
	cmd.WaitDelay = 100 * time.Millisecond
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("sound command timed out after %s: %w", s.timeout, ctx.Err())
		}
		return fmt.Errorf("sound command failed: %w", err)
	}
	return nil
}

// Bell は端末ベル（BEL文字）を書き込む。通知音の最終フォールバック。
type Bell struct {
	w io.Writer
}

// NewBell はwに書き込むBellを生成する。
func NewBell(w io.Writer) *Bell {
	return &Bell{w: w}
}

// Ring はBEL文字を書き込む。
func (b *Bell) Ring() {
	if b.w == nil {
		return
	}
	fmt.Fprint(b.w, "\a")
}
