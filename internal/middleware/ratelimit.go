package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/samueltatapudi-dev/BeatWake/internal/model"
)

// NewRateLimitMiddleware は状態を変更するリクエストを全体でrps件/秒（バーストburst）に制限するミドルウェアを返す。
// 安全なメソッドは制限しない。
func NewRateLimitMiddleware(rps float64, burst int, logger *slog.Logger) func(next http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) || limiter.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("rate limit exceeded",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			writeRateLimitResponse(w, limiter.Limit())
		})
	}
}

// writeRateLimitResponse は429レスポンスをRetry-Afterヘッダー付きで書き込む。
func writeRateLimitResponse(w http.ResponseWriter, limit rate.Limit) {
	retryAfter := 1
	if limit > 0 {
		retryAfter = int(math.Ceil(1 / float64(limit)))
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	WriteErrorResponse(w, http.StatusTooManyRequests, &model.APIError{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   strconv.Itoa(retryAfter) + "秒後に再度お試しください。",
	})
}
