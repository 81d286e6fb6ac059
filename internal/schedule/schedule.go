// Package schedule はアラームの発火判定と次回発火時刻の計算を提供する。
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/samueltatapudi-dev/BeatWake/internal/model"
)

// dedupLayout は重複防止キーの書式（ローカル時刻の分単位）。
const dedupLayout = "2006-01-02 15:04"

// ShouldFire はnowの時点でアラームを発火すべきかを返す。
// 無効なアラームは常にfalse。
func ShouldFire(a model.Alarm, now time.Time) bool {
	if !a.Enabled {
		return false
	}
	if !a.Time.Matches(now) {
		return false
	}
	return a.Repeat.IsOnce() || a.Repeat.Includes(now.Weekday())
}

// DedupKey はnowが属する分を表す重複防止キーを返す。
func DedupKey(now time.Time) string {
	return now.Format(dedupLayout)
}

// NextTrigger は表示用に次回の発火予定時刻を返す。
// 繰り返しアラームはnowより後で最も早い該当曜日の時刻、
// Onceは今日の時刻がまだ来ていなければ今日、過ぎていれば明日の時刻を返す。
// 有効状態は考慮しない。
func NextTrigger(a model.Alarm, now time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(cronSpec(a))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to build schedule for alarm %s: %w", a.ID, err)
	}
	next := sched.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("no upcoming trigger for alarm %s", a.ID)
	}
	return next, nil
}

// cronSpec はアラームを5フィールドのcron式に変換する。
// Onceは毎日の式とし、Nextが今日または明日の時刻を返すようにする。
func cronSpec(a model.Alarm) string {
	dow := "*"
	if !a.Repeat.IsOnce() {
		days := a.Repeat.Weekdays()
		parts := make([]string, 0, len(days))
		for _, d := range days {
			parts = append(parts, strconv.Itoa(int(d)))
		}
		dow = strings.Join(parts, ",")
	}
	return fmt.Sprintf("%d %d * * %s", a.Time.Minute, a.Time.Hour, dow)
}
