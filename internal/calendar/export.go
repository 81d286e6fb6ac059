// Package calendar はアラーム一覧をiCalendar形式で書き出す。
package calendar

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/samueltatapudi-dev/BeatWake/internal/model"
	"github.com/samueltatapudi-dev/BeatWake/internal/schedule"
)

const productID = "-//BeatWake//Alarm Export//EN"

// 時刻は浮動時刻（ローカルの壁時計）として書き出す
const floatingLayout = "20060102T150405"

var weekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// Build は有効なアラームをVEVENTとして含むカレンダーを生成する。
// 繰り返しアラームはRRULE付きの週次イベント、Onceは次回発火時刻の単発イベントになる。
// 各イベントには発火時刻に表示するVALARMを付ける。
func Build(alarms []model.Alarm, now time.Time) (*ical.Calendar, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, a := range alarms {
		if !a.Enabled {
			continue
		}
		event, err := newEvent(a, now)
		if err != nil {
			return nil, err
		}
		cal.Children = append(cal.Children, event.Component)
	}
	return cal, nil
}

// Export はアラーム一覧をiCalendar形式でwに書き出し、書き出したイベント数を返す。
func Export(w io.Writer, alarms []model.Alarm, now time.Time) (int, error) {
	cal, err := Build(alarms, now)
	if err != nil {
		return 0, err
	}
	// エンコーダは子コンポーネントのないVCALENDARを受け付けない
	if len(cal.Children) == 0 {
		if err := writeEmpty(w); err != nil {
			return 0, fmt.Errorf("failed to encode calendar: %w", err)
		}
		return 0, nil
	}
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return 0, fmt.Errorf("failed to encode calendar: %w", err)
	}
	return len(cal.Children), nil
}

// writeEmpty はイベントを含まないカレンダーを書き出す。
func writeEmpty(w io.Writer) error {
	_, err := io.WriteString(w, "BEGIN:VCALENDAR\r\n"+
		ical.PropVersion+":2.0\r\n"+
		ical.PropProductID+":"+productID+"\r\n"+
		"END:VCALENDAR\r\n")
	return err
}

func newEvent(a model.Alarm, now time.Time) (*ical.Event, error) {
	start, err := schedule.NextTrigger(a, now)
	if err != nil {
		return nil, err
	}

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, a.ID+"@beatwake")
	event.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	event.Props.Set(floatingProp(ical.PropDateTimeStart, start))
	event.Props.Set(floatingProp(ical.PropDateTimeEnd, start.Add(time.Minute)))
	event.Props.SetText(ical.PropSummary, a.DisplayName())
	event.Props.SetText(ical.PropDescription, a.Target)

	link := ical.NewProp(ical.PropURL)
	link.Value = a.Target
	event.Props.Set(link)

	if !a.Repeat.IsOnce() {
		rule := &rrule.ROption{Freq: rrule.WEEKLY}
		for _, d := range a.Repeat.Weekdays() {
			rule.Byweekday = append(rule.Byweekday, weekdays[d])
		}
		event.Props.SetRecurrenceRule(rule)
	}

	event.Children = append(event.Children, newDisplayAlarm(a))
	return event, nil
}

func newDisplayAlarm(a model.Alarm) *ical.Component {
	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	alarm.Props.SetText(ical.PropDescription, a.DisplayName())

	trigger := ical.NewProp(ical.PropTrigger)
	trigger.SetValueType(ical.ValueDuration)
	trigger.Value = "PT0S"
	alarm.Props.Set(trigger)
	return alarm
}

func floatingProp(name string, t time.Time) *ical.Prop {
	p := ical.NewProp(name)
	p.SetValueType(ical.ValueDateTime)
	p.Value = t.Format(floatingLayout)
	return p
}
