package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/samueltatapudi-dev/BeatWake/internal/middleware"
	"github.com/samueltatapudi-dev/BeatWake/internal/model"
	"github.com/samueltatapudi-dev/BeatWake/internal/schedule"
	"github.com/samueltatapudi-dev/BeatWake/internal/snooze"
)

// AlarmService はアラームハンドラーが必要とするアラーム一覧の操作。
type AlarmService interface {
	List() []model.Alarm
	ToggleByID(id string) (model.Alarm, error)
	SaveAll() error
}

// Snoozer はスヌーズの登録と一覧を提供する。
type Snoozer interface {
	Snooze(id string, minutes int) (snooze.Entry, error)
	Snoozes() []snooze.Entry
}

// AlarmHandler はアラームとスヌーズの制御APIハンドラー。
type AlarmHandler struct {
	alarms        AlarmService
	snoozer       Snoozer
	logger        *slog.Logger
	clock         func() time.Time
	snoozeMinutes int
}

// NewAlarmHandler はAlarmHandlerを生成する。
// snoozeMinutes はリクエストで分数が省略された場合に使う。
func NewAlarmHandler(alarms AlarmService, snoozer Snoozer, logger *slog.Logger, clock func() time.Time, snoozeMinutes int) *AlarmHandler {
	if clock == nil {
		clock = time.Now
	}
	return &AlarmHandler{
		alarms:        alarms,
		snoozer:       snoozer,
		logger:        logger,
		clock:         clock,
		snoozeMinutes: snoozeMinutes,
	}
}

// alarmResponse はアラーム情報のAPIレスポンス。
type alarmResponse struct {
	ID          string     `json:"id"`
	Time        string     `json:"time"`
	Target      string     `json:"target"`
	Repeat      []string   `json:"repeat"`
	Enabled     bool       `json:"enabled"`
	Label       string     `json:"label"`
	NextTrigger *time.Time `json:"next_trigger,omitempty"`
}

// snoozeResponse はスヌーズ情報のAPIレスポンス。
type snoozeResponse struct {
	ID      string    `json:"id"`
	AlarmID string    `json:"alarm_id"`
	Label   string    `json:"label"`
	At      time.Time `json:"at"`
}

// snoozeRequest はスヌーズ登録リクエストのボディ。
type snoozeRequest struct {
	Minutes *int `json:"minutes"`
}

func (h *AlarmHandler) toResponse(a model.Alarm, now time.Time) alarmResponse {
	resp := alarmResponse{
		ID:      a.ID,
		Time:    a.Time.String(),
		Target:  a.Target,
		Repeat:  a.Repeat.Strings(),
		Enabled: a.Enabled,
		Label:   a.Label,
	}
	if a.Enabled {
		if next, err := schedule.NextTrigger(a, now); err == nil {
			resp.NextTrigger = &next
		}
	}
	return resp
}

func toSnoozeResponse(e snooze.Entry) snoozeResponse {
	return snoozeResponse{
		ID:      e.ID,
		AlarmID: e.Alarm.ID,
		Label:   e.Alarm.DisplayName(),
		At:      e.At,
	}
}

// ListAlarms はアラーム一覧を表示順で返す。
// GET /api/alarms
func (h *AlarmHandler) ListAlarms(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	alarms := h.alarms.List()

	resp := make([]alarmResponse, 0, len(alarms))
	for _, a := range alarms {
		resp = append(resp, h.toResponse(a, now))
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// ToggleAlarm はアラームの有効状態を反転して保存する。
// POST /api/alarms/{id}/toggle
func (h *AlarmHandler) ToggleAlarm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := h.alarms.ToggleByID(id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	// 保存に失敗してもメモリ上の状態は変更済み
	if err := h.alarms.SaveAll(); err != nil {
		h.logger.Warn("アラームの保存に失敗しました",
			slog.String("alarm_id", id),
			slog.String("error", err.Error()),
		)
	}

	h.logger.Info("アラームの有効状態を変更しました",
		slog.String("alarm_id", a.ID),
		slog.Bool("enabled", a.Enabled),
	)
	middleware.WriteJSON(w, http.StatusOK, h.toResponse(a, h.clock()))
}

// SnoozeAlarm はアラームのスヌーズを登録する。
// POST /api/alarms/{id}/snooze
func (h *AlarmHandler) SnoozeAlarm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req snoozeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   `{"minutes": 5} の形式でリクエストしてください。`,
		})
		return
	}

	minutes := h.snoozeMinutes
	if req.Minutes != nil {
		minutes = *req.Minutes
	}

	entry, err := h.snoozer.Snooze(id, minutes)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, toSnoozeResponse(entry))
}

// ListSnoozes は未発火のスヌーズを発火予定時刻順で返す。
// GET /api/snoozes
func (h *AlarmHandler) ListSnoozes(w http.ResponseWriter, r *http.Request) {
	entries := h.snoozer.Snoozes()

	resp := make([]snoozeResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toSnoozeResponse(e))
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// handleServiceError はエラーを適切なHTTPステータスコードに変換する。
func (h *AlarmHandler) handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	h.logger.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAlarmNotFound:
		return http.StatusNotFound
	case model.ErrCodeNotAuthenticated:
		return http.StatusUnauthorized
	}
	if apiErr.Category == "validation" {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
