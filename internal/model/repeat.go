package model

import (
	"encoding/json"
	"strings"
	"time"
)

// RepeatOnce は一回限りのアラームを示す繰り返し指定。
const RepeatOnce = "Once"

// weekdayOrder は表示・永続化の曜日順（月曜始まり）。
var weekdayOrder = []time.Weekday{
	time.Monday,
	time.Tuesday,
	time.Wednesday,
	time.Thursday,
	time.Friday,
	time.Saturday,
	time.Sunday,
}

// RepeatSet はアラームの繰り返し指定。
// Onceか、1つ以上の曜日の集合のどちらか一方を保持する。
// ゼロ値は空集合で、アラームとしては無効。
type RepeatSet struct {
	once bool
	days [7]bool
}

// Once は一回限りの繰り返し指定を返す。
func Once() RepeatSet {
	return RepeatSet{once: true}
}

// Weekly は指定曜日の繰り返し指定を返す。曜日が空の場合はエラー。
func Weekly(days ...time.Weekday) (RepeatSet, error) {
	var r RepeatSet
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			continue
		}
		r.days[d] = true
	}
	if r.IsEmpty() {
		return RepeatSet{}, NewEmptyRepeatError()
	}
	return r, nil
}

// ParseRepeat は曜日名（フルネーム・3文字略称、大小文字を区別しない）または
// "Once" のリストを繰り返し指定に変換する。
// Onceが含まれる場合は他の曜日を無視してOnceとして扱う。
func ParseRepeat(tokens []string) (RepeatSet, error) {
	var r RepeatSet
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if strings.EqualFold(tok, RepeatOnce) {
			r.once = true
			continue
		}
		d, ok := parseWeekday(tok)
		if !ok {
			return RepeatSet{}, NewInvalidRepeatError(tok)
		}
		r.days[d] = true
	}
	if r.once {
		return Once(), nil
	}
	if r.IsEmpty() {
		return RepeatSet{}, NewEmptyRepeatError()
	}
	return r, nil
}

// ParseRepeatInput はカンマまたは空白区切りの入力（例: "mon,wed fri", "once"）を解析する。
func ParseRepeatInput(input string) (RepeatSet, error) {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	return ParseRepeat(fields)
}

func parseWeekday(tok string) (time.Weekday, bool) {
	lower := strings.ToLower(tok)
	for _, d := range weekdayOrder {
		name := strings.ToLower(d.String())
		if lower == name || lower == name[:3] {
			return d, true
		}
	}
	return 0, false
}

// IsOnce は一回限りのアラームかを返す。
func (r RepeatSet) IsOnce() bool {
	return r.once
}

// IsEmpty は繰り返し指定が空（無効）かを返す。
func (r RepeatSet) IsEmpty() bool {
	if r.once {
		return false
	}
	for _, on := range r.days {
		if on {
			return false
		}
	}
	return true
}

// Includes は指定曜日が集合に含まれるかを返す。Onceの場合は常にfalse。
func (r RepeatSet) Includes(d time.Weekday) bool {
	if r.once || d < time.Sunday || d > time.Saturday {
		return false
	}
	return r.days[d]
}

// Weekdays は含まれる曜日を月曜始まりの順で返す。
func (r RepeatSet) Weekdays() []time.Weekday {
	var days []time.Weekday
	for _, d := range weekdayOrder {
		if r.days[d] {
			days = append(days, d)
		}
	}
	return days
}

// Strings は永続化形式（"Once" または曜日のフルネーム）で返す。
func (r RepeatSet) Strings() []string {
	if r.once {
		return []string{RepeatOnce}
	}
	days := r.Weekdays()
	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, d.String())
	}
	return out
}

func (r RepeatSet) String() string {
	return strings.Join(r.Strings(), ", ")
}

// MarshalJSON は文字列配列としてエンコードする。
func (r RepeatSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Strings())
}

// UnmarshalJSON は文字列配列からデコードする。
func (r *RepeatSet) UnmarshalJSON(data []byte) error {
	var tokens []string
	if err := json.Unmarshal(data, &tokens); err != nil {
		return err
	}
	parsed, err := ParseRepeat(tokens)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
