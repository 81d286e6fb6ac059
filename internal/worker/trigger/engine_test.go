package trigger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/samueltatapudi-dev/BeatWake/internal/model"
	"github.com/samueltatapudi-dev/BeatWake/internal/notify"
	"github.com/samueltatapudi-dev/BeatWake/internal/snooze"
	"github.com/samueltatapudi-dev/BeatWake/internal/store"
)

// --- モック定義 ---

type fired struct {
	alarmID string
	source  notify.Source
}

// mockDispatcher は発火を記録するDispatcherのテスト用モック。
type mockDispatcher struct {
	mu    sync.Mutex
	fires []fired
}

func (m *mockDispatcher) Fire(ctx context.Context, a model.Alarm, source notify.Source) notify.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fires = append(m.fires, fired{alarmID: a.ID, source: source})
	return notify.Result{AlarmID: a.ID, Source: source, Tier: notify.TierBrowser}
}

func (m *mockDispatcher) count(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.fires {
		if f.alarmID == id {
			n++
		}
	}
	return n
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// 2024-01-01 は月曜日
var monday0700 = time.Date(2024, 1, 1, 7, 0, 0, 0, time.Local)

func newTestEngine(t *testing.T, alarms ...model.Alarm) (*Engine, *store.AlarmStore, *mockDispatcher, *snooze.Queue) {
	t.Helper()
	st := store.NewAlarmStore(filepath.Join(t.TempDir(), "alarms.json"))
	for _, a := range alarms {
		if _, err := st.Add(a); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := st.SaveAll(); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if _, err := st.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	var buf bytes.Buffer
	d := &mockDispatcher{}
	q := snooze.NewQueue()
	e := NewEngine(st, q, d, nil, newTestLogger(&buf))
	return e, st, d, q
}

func weekly(t *testing.T, id string, hour, minute int, days ...time.Weekday) model.Alarm {
	t.Helper()
	r, err := model.Weekly(days...)
	if err != nil {
		t.Fatal(err)
	}
	return model.Alarm{
		ID:      id,
		Time:    model.TimeOfDay{Hour: hour, Minute: minute},
		Target:  "https://open.spotify.com/track/abc",
		Repeat:  r,
		Enabled: true,
	}
}

func once(id string, hour, minute int) model.Alarm {
	return model.Alarm{
		ID:      id,
		Time:    model.TimeOfDay{Hour: hour, Minute: minute},
		Target:  "https://example.com/wake",
		Repeat:  model.Once(),
		Enabled: true,
	}
}

func TestEvaluate_MondayAlarmFiresOnlyOnMonday(t *testing.T) {
	e, _, d, _ := newTestEngine(t, weekly(t, "mon", 7, 0, time.Monday))

	sum := e.Evaluate(context.Background(), monday0700)
	e.Wait()
	if len(sum.Fired) != 1 || d.count("mon") != 1 {
		t.Fatalf("月曜7:00に発火するべき: %+v", sum)
	}

	tuesday := monday0700.AddDate(0, 0, 1)
	sum = e.Evaluate(context.Background(), tuesday)
	e.Wait()
	if len(sum.Fired) != 0 || d.count("mon") != 1 {
		t.Errorf("火曜7:00には発火しないべき: %+v", sum)
	}
}

func TestEvaluate_AtMostOncePerMinute(t *testing.T) {
	e, _, d, _ := newTestEngine(t, weekly(t, "mon", 7, 0, time.Monday))

	for _, offset := range []time.Duration{0, time.Second, 30 * time.Second, 59 * time.Second} {
		e.Evaluate(context.Background(), monday0700.Add(offset))
	}
	e.Wait()
	if got := d.count("mon"); got != 1 {
		t.Errorf("同じ分の発火回数 = %d, want 1", got)
	}

	// 翌週の同じ分には再度発火する
	e.Evaluate(context.Background(), monday0700.AddDate(0, 0, 7))
	e.Wait()
	if got := d.count("mon"); got != 2 {
		t.Errorf("翌週の発火回数 = %d, want 2", got)
	}
}

func TestEvaluate_ConcurrentEvaluationsFireOnce(t *testing.T) {
	e, _, d, _ := newTestEngine(t, weekly(t, "mon", 7, 0, time.Monday))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Go(func() {
			e.Evaluate(context.Background(), monday0700)
		})
	}
	wg.Wait()
	e.Wait()
	if got := d.count("mon"); got != 1 {
		t.Errorf("並行評価での発火回数 = %d, want 1", got)
	}
}

func TestEvaluate_OnceAlarmRemovedAfterFire(t *testing.T) {
	e, st, d, _ := newTestEngine(t, once("one", 7, 0), weekly(t, "keep", 8, 0, time.Monday))

	sum := e.Evaluate(context.Background(), monday0700)
	e.Wait()
	if len(sum.Removed) != 1 || sum.Removed[0] != "one" {
		t.Fatalf("Removed = %v, want [one]", sum.Removed)
	}
	if _, ok := st.Get("one"); ok {
		t.Error("Onceアラームは発火後に削除されるべき")
	}

	// 永続化も反映されている
	reloaded := store.NewAlarmStore(st.Path())
	alarms, err := reloaded.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(alarms) != 1 || alarms[0].ID != "keep" {
		t.Errorf("保存後の一覧 = %+v", alarms)
	}

	// 同じ分・翌日の同じ時刻でも再発火しない
	e.Evaluate(context.Background(), monday0700.Add(10*time.Second))
	e.Evaluate(context.Background(), monday0700.AddDate(0, 0, 1))
	e.Wait()
	if got := d.count("one"); got != 1 {
		t.Errorf("Onceアラームの発火回数 = %d, want 1", got)
	}
}

func TestEvaluate_DisabledAlarmSuppressed(t *testing.T) {
	e, st, d, _ := newTestEngine(t, weekly(t, "mon", 7, 0, time.Monday))

	if _, err := st.ToggleByID("mon"); err != nil {
		t.Fatalf("ToggleByID: %v", err)
	}
	e.Evaluate(context.Background(), monday0700)
	e.Wait()
	if got := d.count("mon"); got != 0 {
		t.Errorf("無効なアラームは発火しないべき: %d", got)
	}
}

func TestSnooze_FiresExactlyOnceAfterMinutes(t *testing.T) {
	// 月曜のみのアラームを火曜にスヌーズしても発火する
	tuesday := monday0700.AddDate(0, 0, 1).Add(3 * time.Hour)
	e, _, d, q := newTestEngine(t, weekly(t, "mon", 7, 0, time.Monday))
	e.clock = func() time.Time { return tuesday }

	entry, err := e.Snooze("mon", 5)
	if err != nil {
		t.Fatalf("Snooze: %v", err)
	}
	if !entry.At.Equal(tuesday.Add(5 * time.Minute)) {
		t.Errorf("At = %v, want %v", entry.At, tuesday.Add(5*time.Minute))
	}

	e.Evaluate(context.Background(), tuesday.Add(4*time.Minute))
	e.Wait()
	if got := d.count("mon"); got != 0 {
		t.Fatalf("期限前に発火してはならない: %d", got)
	}

	sum := e.Evaluate(context.Background(), tuesday.Add(5*time.Minute+10*time.Second))
	e.Evaluate(context.Background(), tuesday.Add(6*time.Minute))
	e.Wait()
	if len(sum.Snoozed) != 1 || d.count("mon") != 1 {
		t.Errorf("スヌーズは1回だけ発火するべき: snoozed=%v count=%d", sum.Snoozed, d.count("mon"))
	}
	if q.Len() != 0 {
		t.Errorf("発火後のスヌーズ件数 = %d, want 0", q.Len())
	}
	if d.fires[0].source != notify.SourceSnooze {
		t.Errorf("source = %s, want snooze", d.fires[0].source)
	}
}

func TestSnooze_Errors(t *testing.T) {
	e, _, _, _ := newTestEngine(t, weekly(t, "mon", 7, 0, time.Monday))

	var apiErr *model.APIError
	if _, err := e.Snooze("missing", 5); !errors.As(err, &apiErr) || apiErr.Code != "ALARM_NOT_FOUND" {
		t.Errorf("存在しないアラームは ALARM_NOT_FOUND: %v", err)
	}
	if _, err := e.Snooze("mon", 0); !errors.As(err, &apiErr) || apiErr.Code != "INVALID_SNOOZE_MINUTES" {
		t.Errorf("0分は INVALID_SNOOZE_MINUTES: %v", err)
	}
}

func TestFire_Manual(t *testing.T) {
	e, _, d, _ := newTestEngine(t, weekly(t, "mon", 7, 0, time.Monday))

	res, err := e.Fire(context.Background(), "mon")
	if err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if res.Source != notify.SourceManual || d.count("mon") != 1 {
		t.Errorf("res = %+v", res)
	}
	if _, err := e.Fire(context.Background(), "missing"); err == nil {
		t.Error("存在しないアラームはエラーになるべき")
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	e, _, d, _ := newTestEngine(t, weekly(t, "mon", 7, 0, time.Monday))
	e.clock = func() time.Time { return monday0700 }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start はキャンセル後に終了するべき")
	}
	if got := d.count("mon"); got != 1 {
		t.Errorf("複数回のティックでも発火は1回: %d", got)
	}
}
