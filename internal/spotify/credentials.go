package spotify

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/samueltatapudi-dev/BeatWake/internal/store"
)

// Credentials はクライアント認証情報とトークン。いずれも空でありうる。
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (c Credentials) configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// CredentialStore は認証情報をJSONファイルに永続化する。
// 別プロセス（beatwake auth など）による書き換えは更新時刻で検出する。
type CredentialStore struct {
	path string

	mu      sync.Mutex
	modTime time.Time
}

// NewCredentialStore はpathを永続化先とするCredentialStoreを生成する。
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Load はファイルから認証情報を読み込む。
// ファイルが存在しない場合は空の認証情報を返す。
// 読み込みに失敗した場合も空の認証情報とエラーを返す。
func (s *CredentialStore) Load() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// ReloadIfChanged はファイルの更新時刻が前回の読み込みまたは保存から変わっていれば
// 再読み込みし、読み込んだ認証情報とtrueを返す。
// ファイルが存在しない場合は変更なしとして扱う。
func (s *CredentialStore) ReloadIfChanged() (Credentials, bool, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, false, nil
		}
		return Credentials{}, false, fmt.Errorf("failed to stat credentials %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if info.ModTime().Equal(s.modTime) {
		return Credentials{}, false, nil
	}
	c, err := s.load()
	if err != nil {
		return Credentials{}, false, err
	}
	return c, true, nil
}

// load はmuを保持した状態で呼び出すこと。
// 解析に失敗した場合も更新時刻を記録し、同じ内容を繰り返し読まない。
func (s *CredentialStore) load() (Credentials, error) {
	if info, err := os.Stat(s.path); err == nil {
		s.modTime = info.ModTime()
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, nil
		}
		return Credentials{}, fmt.Errorf("failed to read credentials %s: %w", s.path, err)
	}

	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("failed to parse credentials %s: %w", s.path, err)
	}
	return c, nil
}

// Save は認証情報をファイルに書き込む。
func (s *CredentialStore) Save(c Credentials) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("failed to write credentials %s: %w", s.path, err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.modTime = info.ModTime()
	}
	return nil
}
