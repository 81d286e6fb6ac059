// Package store はアラーム一覧のファイル永続化とプロセス内の共有状態を提供する。
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samueltatapudi-dev/BeatWake/internal/model"
)

// PersistenceError はファイルの読み書き失敗を表す。
// 呼び出し側は警告として扱い、処理を継続する。
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("alarm store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// alarmRecord はアラームファイル1件分のJSON表現。
// enabled と label は省略可能で、省略時はそれぞれ true と "" になる。
type alarmRecord struct {
	ID         string   `json:"id,omitempty"`
	TimeStr    string   `json:"time_str"`
	URL        string   `json:"url"`
	RepeatDays []string `json:"repeat_days"`
	Enabled    *bool    `json:"enabled,omitempty"`
	Label      string   `json:"label"`
}

// AlarmStore はアラーム一覧を表示順で保持し、JSONファイルに永続化する。
// すべての操作はミューテックスで直列化される。
type AlarmStore struct {
	mu      sync.RWMutex
	path    string
	alarms  []model.Alarm
	modTime time.Time

	// removed はRemoveで削除したID。古い一覧を持つ別プロセスの保存で復活しても再読み込み時に除く
	removed map[string]struct{}
}

// NewAlarmStore はpathのファイルを永続化先とするAlarmStoreを生成する。
// ファイルは読み込まないため、LoadAllを呼び出すこと。
func NewAlarmStore(path string) *AlarmStore {
	return &AlarmStore{path: path}
}

// Path は永続化先のファイルパスを返す。
func (s *AlarmStore) Path() string {
	return s.path
}

// LoadAll はファイルからアラーム一覧を読み込み、メモリ上の一覧を置き換える。
// ファイルが存在しない場合は空の一覧を返す。
// 読み込み・解析に失敗した場合も空の一覧を返し、警告として *PersistenceError を返す。
// 不正なレコードはスキップし、同様に警告を返す。
func (s *AlarmStore) LoadAll() ([]model.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alarms, modTime, warn := s.read()
	s.alarms = alarms
	s.modTime = modTime
	return cloneAll(s.alarms), warn
}

// ReloadIfChanged はファイルの更新時刻が前回読み込み時から変わっていれば再読み込みする。
// 再読み込み時は同じIDのアラームの重複防止キーを引き継ぐ。
// Removeで削除済みのIDがファイルに残っていれば一覧から除き、ファイルにも反映する。
func (s *AlarmStore) ReloadIfChanged() (bool, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &PersistenceError{Op: "stat", Path: s.path, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if info.ModTime().Equal(s.modTime) {
		return false, nil
	}

	alarms, modTime, warn := s.read()
	if warn != nil && len(alarms) == 0 {
		// 書き込み途中などで壊れて見える場合は現在の一覧を維持する
		return false, warn
	}

	fired := make(map[string]string, len(s.alarms))
	for _, a := range s.alarms {
		fired[a.ID] = a.LastFiredKey
	}
	kept := alarms[:0]
	for _, a := range alarms {
		if _, gone := s.removed[a.ID]; gone {
			continue
		}
		a.LastFiredKey = fired[a.ID]
		kept = append(kept, a)
	}

	s.alarms = kept
	s.modTime = modTime
	if len(kept) < len(alarms) {
		if err := s.save(); err != nil {
			return true, errors.Join(warn, err)
		}
	}
	return true, warn
}

func (s *AlarmStore) read() ([]model.Alarm, time.Time, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []model.Alarm{}, time.Time{}, nil
		}
		return []model.Alarm{}, time.Time{}, &PersistenceError{Op: "read", Path: s.path, Err: err}
	}

	var modTime time.Time
	if info, err := os.Stat(s.path); err == nil {
		modTime = info.ModTime()
	}

	var records []alarmRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return []model.Alarm{}, modTime, &PersistenceError{Op: "decode", Path: s.path, Err: err}
	}

	alarms := make([]model.Alarm, 0, len(records))
	var errs []error
	for i, rec := range records {
		a, err := rec.toAlarm()
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		alarms = append(alarms, a)
	}

	if len(errs) > 0 {
		return alarms, modTime, &PersistenceError{Op: "decode", Path: s.path, Err: errors.Join(errs...)}
	}
	return alarms, modTime, nil
}

func (r alarmRecord) toAlarm() (model.Alarm, error) {
	tod, err := model.ParseTimeOfDay(r.TimeStr)
	if err != nil {
		return model.Alarm{}, err
	}
	repeat, err := model.ParseRepeat(r.RepeatDays)
	if err != nil {
		return model.Alarm{}, err
	}

	id := r.ID
	if id == "" {
		id = uuid.New().String()
	}
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}

	return model.Alarm{
		ID:      id,
		Time:    tod,
		Target:  r.URL,
		Repeat:  repeat,
		Enabled: enabled,
		Label:   r.Label,
	}, nil
}

func fromAlarm(a model.Alarm) alarmRecord {
	enabled := a.Enabled
	return alarmRecord{
		ID:         a.ID,
		TimeStr:    a.Time.String(),
		URL:        a.Target,
		RepeatDays: a.Repeat.Strings(),
		Enabled:    &enabled,
		Label:      a.Label,
	}
}

// SaveAll はメモリ上のアラーム一覧をファイルに書き込む。
// 一時ファイルに書き込んでからリネームすることで、途中状態のファイルを残さない。
func (s *AlarmStore) SaveAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

func (s *AlarmStore) save() error {
	records := make([]alarmRecord, 0, len(s.alarms))
	for _, a := range s.alarms {
		records = append(records, fromAlarm(a))
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "encode", Path: s.path, Err: err}
	}

	if err := WriteFileAtomic(s.path, data); err != nil {
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}

	if info, err := os.Stat(s.path); err == nil {
		s.modTime = info.ModTime()
	}
	return nil
}

// WriteFileAtomic は同じディレクトリの一時ファイルに書き込んでからリネームし、
// パーミッション0600でpathを置き換える。
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".beatwake-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Add はアラームを検証して一覧の末尾に追加し、追加後のアラームを返す。
// IDが空の場合は新しく採番する。永続化はSaveAllで行う。
func (s *AlarmStore) Add(a model.Alarm) (model.Alarm, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if err := a.Validate(); err != nil {
		return model.Alarm{}, err
	}
	a.LastFiredKey = ""

	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms = append(s.alarms, a)
	return a, nil
}

// RemoveAt は表示順のインデックス（0始まり）で指定したアラームを削除する。
func (s *AlarmStore) RemoveAt(index int) (model.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.alarms) {
		return model.Alarm{}, model.NewInvalidIndexError(strconv.Itoa(index + 1))
	}
	removed := s.alarms[index]
	s.alarms = append(s.alarms[:index], s.alarms[index+1:]...)
	s.forget(removed.ID)
	return removed, nil
}

// forget は削除済みIDとして記録する。ロックを保持して呼ぶこと。
func (s *AlarmStore) forget(id string) {
	if s.removed == nil {
		s.removed = make(map[string]struct{})
	}
	s.removed[id] = struct{}{}
}

// Remove はIDで指定したアラームを削除する。存在しない場合はfalseを返す。
func (s *AlarmStore) Remove(id string) (model.Alarm, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return model.Alarm{}, false
	}
	removed := s.alarms[i]
	s.alarms = append(s.alarms[:i], s.alarms[i+1:]...)
	s.forget(id)
	return removed, true
}

// ToggleEnabled は表示順のインデックス（0始まり）で指定したアラームの有効状態を反転する。
func (s *AlarmStore) ToggleEnabled(index int) (model.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.alarms) {
		return model.Alarm{}, model.NewInvalidIndexError(strconv.Itoa(index + 1))
	}
	s.alarms[index].Enabled = !s.alarms[index].Enabled
	return s.alarms[index], nil
}

// ToggleByID はIDで指定したアラームの有効状態を反転する。
func (s *AlarmStore) ToggleByID(id string) (model.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return model.Alarm{}, model.NewAlarmNotFoundError(id)
	}
	s.alarms[i].Enabled = !s.alarms[i].Enabled
	return s.alarms[i], nil
}

// List はアラーム一覧のコピーを表示順で返す。
func (s *AlarmStore) List() []model.Alarm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.alarms)
}

// Get はIDで指定したアラームのコピーを返す。
func (s *AlarmStore) Get(id string) (model.Alarm, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return model.Alarm{}, false
	}
	return s.alarms[i], true
}

// At は表示順のインデックス（0始まり）で指定したアラームのコピーを返す。
func (s *AlarmStore) At(index int) (model.Alarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 0 || index >= len(s.alarms) {
		return model.Alarm{}, model.NewInvalidIndexError(strconv.Itoa(index + 1))
	}
	return s.alarms[index], nil
}

// Len はアラーム件数を返す。
func (s *AlarmStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alarms)
}

// MarkFired はアラームの重複防止キーをkeyに設定する。
// 既に同じキーが設定されている、またはアラームが存在しない場合はfalseを返す。
// 判定と設定は1つのロック内で行うため、同じ分に2回trueを返すことはない。
func (s *AlarmStore) MarkFired(id, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 || s.alarms[i].LastFiredKey == key {
		return false
	}
	s.alarms[i].LastFiredKey = key
	return true
}

func (s *AlarmStore) indexOf(id string) int {
	for i := range s.alarms {
		if s.alarms[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneAll(alarms []model.Alarm) []model.Alarm {
	out := make([]model.Alarm, len(alarms))
	copy(out, alarms)
	return out
}
