package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	return body
}

// TestRecoveryMiddleware_ReturnsUnifiedError はpanicを500の統一エラーに変換することを検証する。
func TestRecoveryMiddleware_ReturnsUnifiedError(t *testing.T) {
	var buf bytes.Buffer
	handler := NewRecoveryMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/alarms", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if body := decodeError(t, w); body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("panicがログに記録されるべき: %s", buf.String())
	}
}

// TestCSRFMiddleware はフォーム送信や他サイトからの状態変更を拒否することを検証する。
func TestCSRFMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		contentType string
		origin      string
		want        int
	}{
		{"GETは検証しない", http.MethodGet, "", "https://evil.example", http.StatusOK},
		{"JSONのPOSTは許可", http.MethodPost, "application/json", "", http.StatusOK},
		{"charset付きJSON", http.MethodPost, "application/json; charset=utf-8", "", http.StatusOK},
		{"ループバックOrigin", http.MethodPost, "application/json", "http://127.0.0.1:8889", http.StatusOK},
		{"localhost Origin", http.MethodPost, "application/json", "http://localhost:3000", http.StatusOK},
		{"フォーム送信は拒否", http.MethodPost, "application/x-www-form-urlencoded", "", http.StatusForbidden},
		{"Content-Typeなしは拒否", http.MethodPost, "", "", http.StatusForbidden},
		{"他サイトOriginは拒否", http.MethodPost, "application/json", "https://evil.example", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			handler := NewCSRFMiddleware(newTestLogger(&buf))(okHandler)

			req := httptest.NewRequest(tt.method, "/api/alarms/x/toggle", strings.NewReader("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusForbidden {
				if body := decodeError(t, w); body.Code != "FORBIDDEN" {
					t.Errorf("code = %q, want FORBIDDEN", body.Code)
				}
			}
		})
	}
}

// TestRateLimitMiddleware_LimitsMutations は状態変更リクエストのみ制限されることを検証する。
func TestRateLimitMiddleware_LimitsMutations(t *testing.T) {
	var buf bytes.Buffer
	handler := NewRateLimitMiddleware(1, 2, newTestLogger(&buf))(okHandler)

	post := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/alarms/x/snooze", nil))
		return w
	}

	if post().Code != http.StatusOK || post().Code != http.StatusOK {
		t.Fatal("バースト内のリクエストは許可されるべき")
	}
	w := post()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", w.Header().Get("Retry-After"))
	}
	if body := decodeError(t, w); body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q", body.Code)
	}

	// GETは制限されない
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/alarms", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET status = %d, want 200", rec.Code)
		}
	}
}

// TestSecurityHeadersMiddleware は応答ヘッダーの付与を検証する。
func TestSecurityHeadersMiddleware(t *testing.T) {
	w := httptest.NewRecorder()
	NewSecurityHeadersMiddleware()(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}
