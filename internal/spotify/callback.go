package spotify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const successPage = `<!DOCTYPE html>
<html>
<head><title>BeatWake</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4em;">
<h1>Spotify connected</h1>
<p>You can close this window and return to BeatWake.</p>
</body>
</html>
`

const failurePage = `<!DOCTYPE html>
<html>
<head><title>BeatWake</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4em;">
<h1>Authorization failed</h1>
<p>Please return to BeatWake and try again.</p>
</body>
</html>
`

// BeginAuthorization は認可フローを開始してすぐに戻る。
// リダイレクトURIのループバックアドレスで1回限りのコールバックを待ち受け、
// ブラウザで認可ページを開く。
// コールバックの受信、ctxのキャンセル、AuthTimeoutの経過のいずれかで待ち受けを終了し、
// onCompleteを成否とともに1回だけ呼び出す。
func (s *Session) BeginAuthorization(ctx context.Context, onComplete func(ok bool)) error {
	state := uuid.New().String()
	authURL, ok := s.authorizationURL(state)
	if !ok {
		return ErrNotConfigured
	}

	s.mu.Lock()
	if s.authorizing {
		s.mu.Unlock()
		return ErrAuthorizationInProgress
	}
	s.authorizing = true
	s.mu.Unlock()

	addr, path, err := callbackAddress(s.cfg.RedirectURL)
	if err != nil {
		s.setAuthorizing(false)
		return err
	}
	ln, err := s.listen("tcp", addr)
	if err != nil {
		s.setAuthorizing(false)
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.AuthTimeout)

	results := make(chan bool, 1)
	var once sync.Once
	finish := func(ok bool) {
		once.Do(func() { results <- ok })
	}

	srv := &http.Server{
		Handler:           s.callbackRouter(path, state, finish),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("callback listener error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		var ok bool
		select {
		case ok = <-results:
		case <-ctx.Done():
			s.logger.Warn("Spotify認可の待ち受けを終了しました",
				slog.String("reason", ctx.Err().Error()),
			)
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		srv.Shutdown(shutdownCtx)
		shutdownCancel()

		s.setAuthorizing(false)
		if onComplete != nil {
			onComplete(ok)
		}
	}()

	s.logger.Info("Spotify認可を開始しました",
		slog.String("callback_addr", ln.Addr().String()),
	)

	if s.openBrowser != nil {
		if err := s.openBrowser(ctx, authURL); err != nil {
			s.logger.Warn("ブラウザで認可ページを開けませんでした",
				slog.String("url", authURL),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// callbackRouter はコールバックを処理するルーターを返す。
// code または error を含む最初のリクエストで認可の成否を確定する。
func (s *Session) callbackRouter(path, state string, finish func(bool)) http.Handler {
	var concluded atomic.Bool

	r := chi.NewRouter()
	r.Get(path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		code := q.Get("code")
		authErr := q.Get("error")
		if code == "" && authErr == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		if !concluded.CompareAndSwap(false, true) {
			http.Error(w, "authorization already completed", http.StatusGone)
			return
		}

		switch {
		case authErr != "":
			s.logger.Warn("Spotify認可が拒否されました", slog.String("error", authErr))
			writePage(w, http.StatusBadRequest, failurePage)
			finish(false)
		case q.Get("state") != state:
			s.logger.Warn("Spotify認可のstateが一致しません")
			writePage(w, http.StatusBadRequest, failurePage)
			finish(false)
		default:
			if err := s.ExchangeCode(r.Context(), code); err != nil {
				s.logger.Error("認可コードの交換に失敗しました", slog.String("error", err.Error()))
				writePage(w, http.StatusBadGateway, failurePage)
				finish(false)
				return
			}
			s.logger.Info("Spotifyアカウントを接続しました")
			writePage(w, http.StatusOK, successPage)
			finish(true)
		}
	})
	return r
}

func writePage(w http.ResponseWriter, status int, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(page))
}

// callbackAddress はリダイレクトURIから待ち受けアドレスとパスを取り出す。
func callbackAddress(redirectURL string) (string, string, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid redirect url %q: %w", redirectURL, err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("invalid redirect url %q: missing host", redirectURL)
	}
	addr := u.Host
	if u.Port() == "" {
		addr += ":80"
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return addr, path, nil
}
