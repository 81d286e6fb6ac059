package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeOfDay はローカル時刻の時・分を表す（24時間表記）。
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay は "HH:MM" 形式の文字列をTimeOfDayに変換する。
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, NewInvalidTimeError(s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// String は "HH:MM" 形式で返す。
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Matches はnowの時・分が一致するかを返す。秒以下は無視する。
func (t TimeOfDay) Matches(now time.Time) bool {
	return now.Hour() == t.Hour && now.Minute() == t.Minute
}

// On はdayと同じ日付・ロケーションでこの時刻を指すtime.Timeを返す。
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, day.Location())
}

func (t TimeOfDay) valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

// Alarm はアラーム1件を表す。
// LastFiredKey は同一分内の重複発火を防ぐためのキーで、永続化しない。
type Alarm struct {
	ID           string
	Time         TimeOfDay
	Target       string
	Repeat       RepeatSet
	Enabled      bool
	Label        string
	LastFiredKey string
}

// NewAlarm は入力値を検証し、新しいIDを採番した有効状態のAlarmを生成する。
func NewAlarm(t TimeOfDay, target string, repeat RepeatSet, label string) (Alarm, error) {
	a := Alarm{
		ID:      uuid.New().String(),
		Time:    t,
		Target:  strings.TrimSpace(target),
		Repeat:  repeat,
		Enabled: true,
		Label:   strings.TrimSpace(label),
	}
	if err := a.Validate(); err != nil {
		return Alarm{}, err
	}
	return a, nil
}

// Validate はAlarmの不変条件を検証する。
func (a Alarm) Validate() error {
	if !a.Time.valid() {
		return NewInvalidTimeError(a.Time.String())
	}
	if a.Repeat.IsEmpty() {
		return NewEmptyRepeatError()
	}
	return ValidateTarget(a.Target)
}

// DisplayName は通知に使う識別テキスト。ラベルが空なら時刻を返す。
func (a Alarm) DisplayName() string {
	if a.Label != "" {
		return a.Label
	}
	return a.Time.String()
}

// ValidateTarget はアラームの対象リンクを検証する。
// http/httpsの絶対URL、または spotify: URI を受け付ける。
func ValidateTarget(target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return NewInvalidTargetError("リンクが空です")
	}

	if strings.HasPrefix(strings.ToLower(target), "spotify:") {
		if len(target) == len("spotify:") {
			return NewInvalidTargetError(target)
		}
		return nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return NewInvalidTargetError(target)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewInvalidTargetError(target)
	}
	return nil
}
