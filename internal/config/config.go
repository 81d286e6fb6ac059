// Package config はBeatWakeの設定の読み込みを提供する。
// デフォルト値、YAML設定ファイル、環境変数の順に上書きする。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 通知音の再生時間の上限。ポーリングを止めないようにこれ以上は許可しない。
const maxSoundTimeout = time.Second

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	DataDir    string `yaml:"data_dir"`
	AlarmsPath string `yaml:"alarms_path"`
	AuthPath   string `yaml:"auth_path"`

	// Engine
	PollInterval  time.Duration `yaml:"poll_interval"`
	SnoozeMinutes int           `yaml:"snooze_minutes"`

	// Notification
	SoundCommand string        `yaml:"sound_command"`
	SoundTimeout time.Duration `yaml:"sound_timeout"`
	Browser      string        `yaml:"browser"`

	// Control API
	ControlListen string `yaml:"control_listen"`

	// Logging
	LogLevel string `yaml:"log_level"`

	Spotify SpotifyConfig `yaml:"spotify"`
}

// SpotifyConfig はSpotify連携の設定。
type SpotifyConfig struct {
	RedirectURL       string        `yaml:"redirect_url"`
	Scopes            []string      `yaml:"scopes"`
	DeviceID          string        `yaml:"device_id"`
	Volume            int           `yaml:"volume"`
	AuthTimeout       time.Duration `yaml:"auth_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`

	// テスト用にオーバーライド可能なURL
	AuthURL    string `yaml:"auth_url"`
	TokenURL   string `yaml:"token_url"`
	APIBaseURL string `yaml:"api_base_url"`
}

// Default はデフォルト設定を返す。
// データディレクトリはユーザー設定ディレクトリ配下の beatwake。
func Default() *Config {
	dir := "."
	if base, err := os.UserConfigDir(); err == nil {
		dir = filepath.Join(base, "beatwake")
	}
	return &Config{
		DataDir:       dir,
		PollInterval:  30 * time.Second,
		SnoozeMinutes: 5,
		SoundTimeout:  maxSoundTimeout,
		ControlListen: "127.0.0.1:8889",
		LogLevel:      "info",
		Spotify: SpotifyConfig{
			RedirectURL:       "http://localhost:8888/callback",
			AuthTimeout:       5 * time.Minute,
			RequestsPerSecond: 5,
		},
	}
}

// Load は設定を読み込む。
// pathが空の場合は BEATWAKE_CONFIG、それも空ならデータディレクトリの config.yaml を読む。
// 設定ファイルが存在しない場合はデフォルト値と環境変数のみを使う。
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.DataDir = getEnvString("BEATWAKE_DATA_DIR", cfg.DataDir)

	explicit := path != ""
	if !explicit {
		path = os.Getenv("BEATWAKE_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = filepath.Join(cfg.DataDir, "config.yaml")
	}

	if err := cfg.loadFile(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || explicit {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnvString("BEATWAKE_DATA_DIR", c.DataDir)
	c.AlarmsPath = getEnvString("BEATWAKE_ALARMS_PATH", c.AlarmsPath)
	c.AuthPath = getEnvString("BEATWAKE_AUTH_PATH", c.AuthPath)
	c.PollInterval = getEnvDuration("BEATWAKE_POLL_INTERVAL", c.PollInterval)
	c.SnoozeMinutes = getEnvInt("BEATWAKE_SNOOZE_MINUTES", c.SnoozeMinutes)
	c.SoundCommand = getEnvString("BEATWAKE_SOUND_COMMAND", c.SoundCommand)
	c.SoundTimeout = getEnvDuration("BEATWAKE_SOUND_TIMEOUT", c.SoundTimeout)
	c.Browser = getEnvString("BROWSER", c.Browser)
	c.ControlListen = getEnvString("BEATWAKE_CONTROL_LISTEN", c.ControlListen)
	c.LogLevel = getEnvString("BEATWAKE_LOG_LEVEL", c.LogLevel)

	c.Spotify.RedirectURL = getEnvString("SPOTIFY_REDIRECT_URL", c.Spotify.RedirectURL)
	c.Spotify.DeviceID = getEnvString("SPOTIFY_DEVICE_ID", c.Spotify.DeviceID)
	c.Spotify.Volume = getEnvInt("SPOTIFY_VOLUME", c.Spotify.Volume)
	c.Spotify.AuthTimeout = getEnvDuration("BEATWAKE_AUTH_TIMEOUT", c.Spotify.AuthTimeout)
	c.Spotify.RequestsPerSecond = getEnvFloat("BEATWAKE_API_RATE", c.Spotify.RequestsPerSecond)
	c.Spotify.AuthURL = getEnvString("SPOTIFY_AUTH_URL", c.Spotify.AuthURL)
	c.Spotify.TokenURL = getEnvString("SPOTIFY_TOKEN_URL", c.Spotify.TokenURL)
	c.Spotify.APIBaseURL = getEnvString("SPOTIFY_API_BASE_URL", c.Spotify.APIBaseURL)
	if v := os.Getenv("SPOTIFY_SCOPES"); v != "" {
		c.Spotify.Scopes = strings.Fields(v)
	}
}

// normalize は未設定の値を補完する。
func (c *Config) normalize() {
	if c.AlarmsPath == "" {
		c.AlarmsPath = filepath.Join(c.DataDir, "alarms.json")
	}
	if c.AuthPath == "" {
		c.AuthPath = filepath.Join(c.DataDir, "spotify_config.json")
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.SoundTimeout <= 0 || c.SoundTimeout > maxSoundTimeout {
		c.SoundTimeout = maxSoundTimeout
	}
}

func (c *Config) validate() error {
	var problems []string
	if c.PollInterval < time.Second {
		problems = append(problems, fmt.Sprintf("poll_interval must be at least 1s, got %s", c.PollInterval))
	}
	if c.PollInterval > time.Minute {
		problems = append(problems, fmt.Sprintf("poll_interval must not exceed 1m, got %s", c.PollInterval))
	}
	if c.SnoozeMinutes < 1 {
		problems = append(problems, fmt.Sprintf("snooze_minutes must be positive, got %d", c.SnoozeMinutes))
	}
	if c.Spotify.Volume < 0 || c.Spotify.Volume > 100 {
		problems = append(problems, fmt.Sprintf("spotify.volume must be between 0 and 100, got %d", c.Spotify.Volume))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
