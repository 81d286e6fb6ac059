package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// PlayResult はPlayer APIのHTTPステータスコードに基づく結果の分類。
type PlayResult int

const (
	// PlayResultOK は再生成功（200/202/204）。
	PlayResultOK PlayResult = iota
	// PlayResultUnauthorized はトークン期限切れ（401）。
	PlayResultUnauthorized
	// PlayResultNoDevice はアクティブなデバイスがない（404）。
	PlayResultNoDevice
	// PlayResultForbidden はアカウント種別などで操作が許可されない（403）。
	PlayResultForbidden
	// PlayResultRateLimited はレート制限（429）。
	PlayResultRateLimited
	// PlayResultFailed はその他の失敗。
	PlayResultFailed
)

func (r PlayResult) String() string {
	switch r {
	case PlayResultOK:
		return "ok"
	case PlayResultUnauthorized:
		return "unauthorized"
	case PlayResultNoDevice:
		return "no_device"
	case PlayResultForbidden:
		return "forbidden"
	case PlayResultRateLimited:
		return "rate_limited"
	default:
		return "failed"
	}
}

// ClassifyPlayStatus はHTTPステータスコードを再生結果に分類する。
func ClassifyPlayStatus(statusCode int) PlayResult {
	switch {
	case statusCode == 200 || statusCode == 202 || statusCode == 204:
		return PlayResultOK
	case statusCode == 401:
		return PlayResultUnauthorized
	case statusCode == 403:
		return PlayResultForbidden
	case statusCode == 404:
		return PlayResultNoDevice
	case statusCode == 429:
		return PlayResultRateLimited
	default:
		return PlayResultFailed
	}
}

// PlaybackError はPlayer APIが成功以外のステータスを返したことを示す。
type PlaybackError struct {
	StatusCode int
	Result     PlayResult
	Body       string
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("spotify player returned status %d (%s): %s", e.StatusCode, e.Result, e.Body)
}

// playRequest は /me/player/play のリクエストボディ。
type playRequest struct {
	URIs       []string `json:"uris,omitempty"`
	ContextURI string   `json:"context_uri,omitempty"`
}

// Play はリソースの再生を開始する。
// 401の場合はトークンを1回だけ更新して1回だけ再試行する。
func (s *Session) Play(ctx context.Context, res Resource) error {
	body := playRequest{}
	if res.IsContext() {
		body.ContextURI = res.URI()
	} else {
		body.URIs = []string{res.URI()}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode play request: %w", err)
	}

	return s.callPlayer(ctx, "/me/player/play", nil, payload)
}

// SetVolume は再生音量（0〜100）を設定する。
func (s *Session) SetVolume(ctx context.Context, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("volume must be between 0 and 100: %d", percent)
	}
	query := url.Values{"volume_percent": {strconv.Itoa(percent)}}
	return s.callPlayer(ctx, "/me/player/volume", query, nil)
}

func (s *Session) callPlayer(ctx context.Context, path string, query url.Values, payload []byte) error {
	s.reload()

	token := s.accessToken()
	if token == "" {
		return ErrNotAuthenticated
	}

	status, respBody, err := s.put(ctx, path, query, payload, token)
	if err != nil {
		return err
	}

	if ClassifyPlayStatus(status) == PlayResultUnauthorized {
		if err := s.refreshAfter(ctx, token); err != nil {
			return fmt.Errorf("failed to refresh token after 401: %w", err)
		}
		status, respBody, err = s.put(ctx, path, query, payload, s.accessToken())
		if err != nil {
			return err
		}
	}

	if result := ClassifyPlayStatus(status); result != PlayResultOK {
		return &PlaybackError{StatusCode: status, Result: result, Body: respBody}
	}
	return nil
}

func (s *Session) put(ctx context.Context, path string, query url.Values, payload []byte, token string) (int, string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	if query == nil {
		query = url.Values{}
	} else {
		query = cloneValues(query)
	}
	if s.cfg.DeviceID != "" {
		query.Set("device_id", s.cfg.DeviceID)
	}
	endpoint := s.cfg.APIBaseURL + path
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, body)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create player request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("player request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	s.metrics.RecordPlayerStatus(resp.StatusCode)
	return resp.StatusCode, string(respBody), nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
