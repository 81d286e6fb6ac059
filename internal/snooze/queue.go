// Package snooze はスヌーズされたアラームの一時的な待ち行列を提供する。
// 待ち行列はメモリ上にのみ保持し、永続化しない。
package snooze

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samueltatapudi-dev/BeatWake/internal/model"
)

// Entry はスヌーズ1件を表す。
// Alarm はスヌーズ時点のコピーで、元のアラームの削除や無効化の影響を受けない。
type Entry struct {
	ID    string
	At    time.Time
	Alarm model.Alarm
}

// Queue は発火予定時刻順に並んだスヌーズの待ち行列。
type Queue struct {
	mu      sync.Mutex
	entries []Entry
}

// NewQueue は空のQueueを生成する。
func NewQueue() *Queue {
	return &Queue{}
}

// Snooze はnowからminutes分後に発火するエントリを追加する。
// minutesが1未満の場合はエラーを返す。
func (q *Queue) Snooze(a model.Alarm, minutes int, now time.Time) (Entry, error) {
	if minutes < 1 {
		return Entry{}, model.NewInvalidSnoozeMinutesError(minutes)
	}

	e := Entry{
		ID:    uuid.New().String(),
		At:    now.Add(time.Duration(minutes) * time.Minute),
		Alarm: a,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	i := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].At.After(e.At)
	})
	q.entries = append(q.entries, Entry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
	return e, nil
}

// Due は発火時刻がnow以前のエントリをすべて取り出して返す。
// 取り出したエントリは待ち行列から削除されるため、各エントリは1回だけ返る。
func (q *Queue) Due(now time.Time) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for n < len(q.entries) && !q.entries[n].At.After(now) {
		n++
	}
	if n == 0 {
		return nil
	}

	due := make([]Entry, n)
	copy(due, q.entries[:n])
	q.entries = append(q.entries[:0], q.entries[n:]...)
	return due
}

// Cancel はIDで指定したエントリを取り消す。存在しない場合はfalseを返す。
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.entries {
		if q.entries[i].ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Pending は未発火のエントリのコピーを発火時刻順で返す。
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len は未発火のエントリ数を返す。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
