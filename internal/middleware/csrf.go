package middleware

import (
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"

	"github.com/samueltatapudi-dev/BeatWake/internal/model"
)

// NewCSRFMiddleware はブラウザ上の他サイトから制御APIを操作されないよう、
// 状態変更リクエストを検証するミドルウェアを返す。
//   - Content-Type は application/json であること（フォーム送信では設定できない）
//   - Origin ヘッダーがある場合はループバックアドレスであること
func NewCSRFMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if origin := r.Header.Get("Origin"); origin != "" && !isLoopbackOrigin(origin) {
				logger.Warn("CSRF validation failed: foreign origin",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("origin", origin),
				)
				writeForbidden(w)
				return
			}

			mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mediaType != "application/json" {
				logger.Warn("CSRF validation failed: content type",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				writeForbidden(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeForbidden(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
		Code:     "FORBIDDEN",
		Message:  "このリクエストは許可されていません。",
		Category: "system",
		Action:   "Content-Type: application/json を指定し、ローカルから送信してください。",
	})
}
