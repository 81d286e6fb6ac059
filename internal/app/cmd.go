package app

import (
	"fmt"
	"io"
)

// Command はCLIのサブコマンドを表す。
type Command string

const (
	// CommandList はアラーム一覧を表示する。
	CommandList Command = "list"
	// CommandAdd は対話形式でアラームを追加する。
	CommandAdd Command = "add"
	// CommandDelete は番号を指定してアラームを削除する。
	CommandDelete Command = "delete"
	// CommandToggle は番号を指定してアラームの有効・無効を切り替える。
	CommandToggle Command = "toggle"
	// CommandDaemon はアラームエンジンと制御APIを起動する。
	CommandDaemon Command = "daemon"
	// CommandSnooze は実行中のデーモンにスヌーズを依頼する。
	CommandSnooze Command = "snooze"
	// CommandTest はアラームを直ちに発火させる。
	CommandTest Command = "test"
	// CommandAuth はSpotifyアカウントを接続する。
	CommandAuth Command = "auth"
	// CommandExport はアラームをiCalendar形式で書き出す。
	CommandExport Command = "export"
	// CommandAutostart はログイン時の自動起動を切り替える。
	CommandAutostart Command = "autostart"
)

var commands = []Command{
	CommandList, CommandAdd, CommandDelete, CommandToggle, CommandDaemon,
	CommandSnooze, CommandTest, CommandAuth, CommandExport, CommandAutostart,
}

// UsageError はサブコマンドが未指定または不明な場合のエラー。
type UsageError struct {
	Command string
}

func (e *UsageError) Error() string {
	if e.Command == "" {
		return "no command given"
	}
	return fmt.Sprintf("unknown command %q", e.Command)
}

// ParseCommand はコマンドライン引数からサブコマンドと残りの引数を解析する。
// argsにはos.Args[1:]を渡す。
func ParseCommand(args []string) (Command, []string, error) {
	if len(args) == 0 {
		return "", nil, &UsageError{}
	}
	for _, c := range commands {
		if args[0] == string(c) {
			return c, args[1:], nil
		}
	}
	return "", nil, &UsageError{Command: args[0]}
}

const usageText = `使い方: beatwake <command>

コマンド:
  list              アラーム一覧を表示する
  add               アラームを追加する
  delete            アラームを削除する
  toggle            アラームの有効・無効を切り替える
  daemon            アラームを監視して発火させる（Ctrl+Cで終了）
  snooze            実行中のデーモンにスヌーズを依頼する
  test              アラームを今すぐ発火させる
  auth              Spotifyアカウントを接続する
  export [file]     アラームをiCalendar形式で書き出す
  autostart on|off  ログイン時に daemon を起動する

環境変数 BEATWAKE_CONFIG で設定ファイルを指定できます。
`

// PrintUsage は使い方をwに書き込む。
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}
