package snooze

import (
	"testing"
	"time"

	"github.com/samueltatapudi-dev/BeatWake/internal/model"
)

func testAlarm(id string) model.Alarm {
	return model.Alarm{
		ID:      id,
		Time:    model.TimeOfDay{Hour: 7, Minute: 0},
		Target:  "https://open.spotify.com/track/x",
		Repeat:  model.Once(),
		Enabled: true,
	}
}

func TestSnooze_RejectsNonPositiveMinutes(t *testing.T) {
	q := NewQueue()
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.Local)

	for _, m := range []int{0, -5} {
		if _, err := q.Snooze(testAlarm("a"), m, now); err == nil {
			t.Errorf("Snooze(%d) should fail", m)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestDue_ReturnsEachEntryExactlyOnce(t *testing.T) {
	q := NewQueue()
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.Local)

	e, err := q.Snooze(testAlarm("a"), 5, now)
	if err != nil {
		t.Fatalf("Snooze: %v", err)
	}
	if !e.At.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("At = %s, want now+5m", e.At)
	}

	if due := q.Due(now.Add(4*time.Minute + 59*time.Second)); len(due) != 0 {
		t.Fatalf("発火時刻前に取り出されてはならない: %v", due)
	}

	due := q.Due(now.Add(5 * time.Minute))
	if len(due) != 1 || due[0].ID != e.ID {
		t.Fatalf("Due = %+v, want [%s]", due, e.ID)
	}

	if again := q.Due(now.Add(time.Hour)); len(again) != 0 {
		t.Errorf("同じエントリが2回返ってはならない: %v", again)
	}
}

func TestDue_OrderedByFireTime(t *testing.T) {
	q := NewQueue()
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.Local)

	q.Snooze(testAlarm("late"), 10, now)
	q.Snooze(testAlarm("early"), 1, now)
	q.Snooze(testAlarm("mid"), 5, now)

	pending := q.Pending()
	want := []string{"early", "mid", "late"}
	for i, id := range want {
		if pending[i].Alarm.ID != id {
			t.Errorf("Pending()[%d] = %s, want %s", i, pending[i].Alarm.ID, id)
		}
	}

	due := q.Due(now.Add(5 * time.Minute))
	if len(due) != 2 || due[0].Alarm.ID != "early" || due[1].Alarm.ID != "mid" {
		t.Errorf("Due = %+v", due)
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
}

func TestSnooze_KeepsAlarmSnapshot(t *testing.T) {
	q := NewQueue()
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.Local)

	a := testAlarm("a")
	a.Label = "before"
	q.Snooze(a, 1, now)
	a.Label = "after"

	due := q.Due(now.Add(time.Minute))
	if len(due) != 1 || due[0].Alarm.Label != "before" {
		t.Errorf("スヌーズ時点のコピーを保持するべき: %+v", due)
	}
}

func TestCancel(t *testing.T) {
	q := NewQueue()
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.Local)
	e, _ := q.Snooze(testAlarm("a"), 1, now)

	if !q.Cancel(e.ID) {
		t.Fatal("Cancel should return true")
	}
	if q.Cancel(e.ID) {
		t.Error("2回目のCancelはfalseを返すべき")
	}
	if due := q.Due(now.Add(time.Hour)); len(due) != 0 {
		t.Errorf("取り消したエントリが発火してはならない: %v", due)
	}
}
