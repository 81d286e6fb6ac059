// Package spotify はSpotifyアカウントのOAuth認可とPlayer APIによる再生を提供する。
package spotify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/samueltatapudi-dev/BeatWake/internal/metrics"
)

const (
	defaultAuthURL     = "https://accounts.spotify.com/authorize"
	defaultTokenURL    = "https://accounts.spotify.com/api/token"
	defaultAPIBaseURL  = "https://api.spotify.com/v1"
	defaultRedirectURL = "http://localhost:8888/callback"

	defaultAuthTimeout       = 5 * time.Minute
	defaultRequestsPerSecond = 5
	defaultHTTPTimeout       = 10 * time.Second
)

// DefaultScopes は再生操作に必要なスコープ。
var DefaultScopes = []string{"user-modify-playback-state", "user-read-playback-state"}

var (
	// ErrNotConfigured はクライアントIDまたはシークレットが未設定であることを示す。
	ErrNotConfigured = errors.New("spotify client credentials are not configured")
	// ErrNotAuthenticated はアクセストークンがないことを示す。
	ErrNotAuthenticated = errors.New("spotify session is not authenticated")
	// ErrNoRefreshToken はリフレッシュトークンがないことを示す。
	ErrNoRefreshToken = errors.New("no refresh token available")
	// ErrAuthorizationInProgress は認可フローが既に進行中であることを示す。
	ErrAuthorizationInProgress = errors.New("authorization already in progress")
)

// State はセッションの状態。
type State int

const (
	StateUnconfigured State = iota
	StateConfigured
	StateAuthorizing
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateAuthorizing:
		return "authorizing"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Config はSpotifyセッションの設定。
type Config struct {
	RedirectURL       string
	Scopes            []string
	DeviceID          string
	AuthTimeout       time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client

	// テスト用にオーバーライド可能なURL
	AuthURL    string
	TokenURL   string
	APIBaseURL string
}

// Session はSpotifyの認証状態を保持し、Player APIを呼び出す。
// 認証情報の読み書きはmuで、トークン更新の通信はrefreshMuで直列化する。
type Session struct {
	cfg     Config
	store   *CredentialStore
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	limiter *rate.Limiter

	openBrowser func(ctx context.Context, url string) error
	listen      func(network, address string) (net.Listener, error)

	mu          sync.Mutex
	creds       Credentials
	authorizing bool

	refreshMu sync.Mutex
}

// Option はSessionの生成オプション。
type Option func(*Session)

// WithBrowser は認可URLを開く関数を設定する。
func WithBrowser(open func(ctx context.Context, url string) error) Option {
	return func(s *Session) { s.openBrowser = open }
}

// WithListener はコールバック受信用のリスナー生成関数を設定する。
func WithListener(listen func(network, address string) (net.Listener, error)) Option {
	return func(s *Session) { s.listen = listen }
}

// WithMetrics はメトリクスコレクタを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Session) { s.metrics = m }
}

// NewSession はSessionを生成し、永続化された認証情報を読み込む。
// 読み込みに失敗した場合は警告ログを出して空の状態から開始する。
func NewSession(cfg Config, store *CredentialStore, logger *slog.Logger, opts ...Option) *Session {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = defaultRedirectURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	s := &Session{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		metrics: metrics.Nop{},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
		listen:  net.Listen,
	}
	for _, opt := range opts {
		opt(s)
	}

	if store != nil {
		creds, err := store.Load()
		if err != nil {
			logger.Warn("Spotify認証情報の読み込みに失敗しました",
				slog.String("error", err.Error()),
			)
		}
		s.creds = creds
	}
	return s
}

// State は現在のセッション状態を返す。
func (s *Session) State() State {
	s.reload()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.authorizing:
		return StateAuthorizing
	case s.creds.AccessToken != "":
		return StateAuthenticated
	case s.creds.configured():
		return StateConfigured
	default:
		return StateUnconfigured
	}
}

// IsAuthenticated はアクセストークンを保持しているかを返す。
func (s *Session) IsAuthenticated() bool {
	s.reload()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds.AccessToken != ""
}

// IsConfigured はクライアントIDとシークレットが設定されているかを返す。
func (s *Session) IsConfigured() bool {
	s.reload()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds.configured()
}

// SetCredentials はクライアントIDとシークレットを設定して永続化する。
// 既存のトークンは保持する。
func (s *Session) SetCredentials(clientID, clientSecret string) error {
	if clientID == "" || clientSecret == "" {
		return ErrNotConfigured
	}

	s.mu.Lock()
	s.creds.ClientID = clientID
	s.creds.ClientSecret = clientSecret
	snapshot := s.creds
	s.mu.Unlock()

	return s.persist(snapshot)
}

// AuthorizationURL は認可ページのURLを返す。
// クライアント認証情報が未設定の場合は ("", false) を返す。
func (s *Session) AuthorizationURL() (string, bool) {
	return s.authorizationURL("")
}

func (s *Session) authorizationURL(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.creds.configured() {
		return "", false
	}
	return s.oauthConfig().AuthCodeURL(state), true
}

// ExchangeCode は認可コードをアクセストークン・リフレッシュトークンに交換して保存する。
// 失敗した場合は状態を変更しない。
func (s *Session) ExchangeCode(ctx context.Context, code string) error {
	s.mu.Lock()
	if !s.creds.configured() {
		s.mu.Unlock()
		return ErrNotConfigured
	}
	oc := s.oauthConfig()
	s.mu.Unlock()

	tok, err := oc.Exchange(s.httpContext(ctx), code)
	if err != nil {
		return fmt.Errorf("failed to exchange token: %w", err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("empty access token in response")
	}

	s.mu.Lock()
	s.creds.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		s.creds.RefreshToken = tok.RefreshToken
	}
	snapshot := s.creds
	s.mu.Unlock()

	if err := s.persist(snapshot); err != nil {
		s.logger.Warn("Spotify認証情報の保存に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Refresh はリフレッシュトークンでアクセストークンを更新する。
// 失敗した場合は既存のトークンをそのまま保持する。
func (s *Session) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.refreshLocked(ctx)
}

// refreshAfter は staleToken で401を受けた後のトークン更新。
// 待っている間に別の呼び出しが既に更新済みであれば通信しない。
func (s *Session) refreshAfter(ctx context.Context, staleToken string) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.reload()
	if current := s.accessToken(); current != "" && current != staleToken {
		return nil
	}
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) error {
	// 別プロセスが書き込んだ新しいリフレッシュトークンを古いスナップショットで上書きしない
	s.reload()

	s.mu.Lock()
	creds := s.creds
	oc := s.oauthConfig()
	s.mu.Unlock()

	if !creds.configured() {
		return ErrNotConfigured
	}
	if creds.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	// アクセストークンを空にして渡すことで必ずトークンエンドポイントに問い合わせる
	ts := oc.TokenSource(s.httpContext(ctx), &oauth2.Token{RefreshToken: creds.RefreshToken})
	tok, err := ts.Token()
	if err != nil {
		s.metrics.RecordTokenRefresh(false)
		return fmt.Errorf("failed to refresh token: %w", err)
	}
	s.metrics.RecordTokenRefresh(true)

	s.mu.Lock()
	s.creds.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		s.creds.RefreshToken = tok.RefreshToken
	}
	snapshot := s.creds
	s.mu.Unlock()

	s.logger.Info("Spotifyアクセストークンを更新しました")

	if err := s.persist(snapshot); err != nil {
		s.logger.Warn("Spotify認証情報の保存に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// reload は認証情報ファイルが別プロセスで更新されていれば取り込む。
// muを保持した状態で呼び出さないこと。
func (s *Session) reload() {
	if s.store == nil {
		return
	}
	creds, changed, err := s.store.ReloadIfChanged()
	if err != nil {
		s.logger.Warn("Spotify認証情報の再読み込みに失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}
	if !changed {
		return
	}

	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
	s.logger.Info("Spotify認証情報を再読み込みしました")
}

func (s *Session) accessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds.AccessToken
}

func (s *Session) setAuthorizing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorizing = v
}

// oauthConfig はmuを保持した状態で呼び出すこと。
func (s *Session) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.creds.ClientID,
		ClientSecret: s.creds.ClientSecret,
		RedirectURL:  s.cfg.RedirectURL,
		Scopes:       s.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   s.cfg.AuthURL,
			TokenURL:  s.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

func (s *Session) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.cfg.HTTPClient)
}

func (s *Session) persist(c Credentials) error {
	if s.store == nil {
		return nil
	}
	return s.store.Save(c)
}
