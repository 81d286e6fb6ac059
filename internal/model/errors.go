// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// CLIおよび制御APIで表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, alarm, auth, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidTime          = "INVALID_TIME"
	ErrCodeInvalidTarget        = "INVALID_TARGET"
	ErrCodeInvalidRepeat        = "INVALID_REPEAT"
	ErrCodeEmptyRepeat          = "EMPTY_REPEAT"
	ErrCodeAlarmNotFound        = "ALARM_NOT_FOUND"
	ErrCodeInvalidIndex         = "INVALID_INDEX"
	ErrCodeInvalidSnoozeMinutes = "INVALID_SNOOZE_MINUTES"
	ErrCodeNotAuthenticated     = "NOT_AUTHENTICATED"
)

// NewInvalidTimeError は時刻形式エラーを生成する。
func NewInvalidTimeError(input string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTime,
		Message:  fmt.Sprintf("無効な時刻です: %q", input),
		Category: "validation",
		Action:   "時刻は24時間表記の HH:MM 形式（例: 07:30）で入力してください。",
	}
}

// NewInvalidTargetError はリンク形式エラーを生成する。
func NewInvalidTargetError(input string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTarget,
		Message:  fmt.Sprintf("無効なリンクです: %s", input),
		Category: "validation",
		Action:   "https://open.spotify.com/track/... のようなURL、または spotify: URI を入力してください。",
	}
}

// NewInvalidRepeatError は未知の曜日指定エラーを生成する。
func NewInvalidRepeatError(token string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRepeat,
		Message:  fmt.Sprintf("無効な曜日指定です: %q", token),
		Category: "validation",
		Action:   "mon, tue, wed, thu, fri, sat, sun のいずれか、または once を指定してください。",
	}
}

// NewEmptyRepeatError は繰り返し指定が空の場合のエラーを生成する。
func NewEmptyRepeatError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyRepeat,
		Message:  "繰り返し曜日が指定されていません。",
		Category: "validation",
		Action:   "曜日を1つ以上選ぶか、once を指定してください。",
	}
}

// NewAlarmNotFoundError はアラーム未検出エラーを生成する。
func NewAlarmNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeAlarmNotFound,
		Message:  fmt.Sprintf("指定されたアラームが見つかりません: %s", id),
		Category: "alarm",
		Action:   "list コマンドでアラーム一覧を確認してください。",
	}
}

// NewInvalidIndexError はアラーム番号が範囲外の場合のエラーを生成する。
func NewInvalidIndexError(input string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidIndex,
		Message:  fmt.Sprintf("無効なアラーム番号です: %s", input),
		Category: "validation",
		Action:   "list コマンドで表示される番号を入力してください。",
	}
}

// NewInvalidSnoozeMinutesError はスヌーズ分数が不正な場合のエラーを生成する。
func NewInvalidSnoozeMinutesError(minutes int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSnoozeMinutes,
		Message:  fmt.Sprintf("無効なスヌーズ時間です: %d分", minutes),
		Category: "validation",
		Action:   "1分以上を指定してください。",
	}
}

// NewNotAuthenticatedError はSpotify未認証エラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "Spotifyに接続されていません。",
		Category: "auth",
		Action:   "auth コマンドでSpotifyアカウントを接続してください。",
	}
}
