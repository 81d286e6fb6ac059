package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"BEATWAKE_CONFIG", "BEATWAKE_DATA_DIR", "BEATWAKE_ALARMS_PATH", "BEATWAKE_AUTH_PATH",
	"BEATWAKE_POLL_INTERVAL", "BEATWAKE_SNOOZE_MINUTES", "BEATWAKE_SOUND_COMMAND",
	"BEATWAKE_SOUND_TIMEOUT", "BROWSER", "BEATWAKE_CONTROL_LISTEN", "BEATWAKE_LOG_LEVEL",
	"SPOTIFY_REDIRECT_URL", "SPOTIFY_DEVICE_ID", "SPOTIFY_VOLUME", "BEATWAKE_AUTH_TIMEOUT",
	"BEATWAKE_API_RATE", "SPOTIFY_AUTH_URL", "SPOTIFY_TOKEN_URL", "SPOTIFY_API_BASE_URL",
	"SPOTIFY_SCOPES",
}

// isolateEnv は環境変数を空にし、データディレクトリを一時ディレクトリに向ける。
func isolateEnv(t *testing.T) string {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	t.Setenv("BEATWAKE_DATA_DIR", dir)
	return dir
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_DefaultValues(t *testing.T) {
	dir := isolateEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.AlarmsPath != filepath.Join(dir, "alarms.json") {
		t.Errorf("AlarmsPath = %q", cfg.AlarmsPath)
	}
	if cfg.AuthPath != filepath.Join(dir, "spotify_config.json") {
		t.Errorf("AuthPath = %q", cfg.AuthPath)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, 30*time.Second)
	}
	if cfg.SnoozeMinutes != 5 {
		t.Errorf("SnoozeMinutes = %d, want %d", cfg.SnoozeMinutes, 5)
	}
	if cfg.SoundTimeout != time.Second {
		t.Errorf("SoundTimeout = %v, want %v", cfg.SoundTimeout, time.Second)
	}
	if cfg.ControlListen != "127.0.0.1:8889" {
		t.Errorf("ControlListen = %q, want %q", cfg.ControlListen, "127.0.0.1:8889")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.Spotify.RedirectURL != "http://localhost:8888/callback" {
		t.Errorf("RedirectURL = %q", cfg.Spotify.RedirectURL)
	}
	if cfg.Spotify.AuthTimeout != 5*time.Minute {
		t.Errorf("AuthTimeout = %v, want %v", cfg.Spotify.AuthTimeout, 5*time.Minute)
	}
	if cfg.Spotify.RequestsPerSecond != 5 {
		t.Errorf("RequestsPerSecond = %v, want 5", cfg.Spotify.RequestsPerSecond)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := isolateEnv(t)
	writeConfig(t, dir, `
poll_interval: 1s
snooze_minutes: 10
sound_command: "aplay /tmp/beep.wav"
control_listen: "127.0.0.1:9999"
spotify:
  device_id: kitchen
  volume: 40
  scopes: [user-modify-playback-state]
`)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want 1s", cfg.PollInterval)
	}
	if cfg.SnoozeMinutes != 10 {
		t.Errorf("SnoozeMinutes = %d, want 10", cfg.SnoozeMinutes)
	}
	if cfg.SoundCommand != "aplay /tmp/beep.wav" {
		t.Errorf("SoundCommand = %q", cfg.SoundCommand)
	}
	if cfg.ControlListen != "127.0.0.1:9999" {
		t.Errorf("ControlListen = %q", cfg.ControlListen)
	}
	if cfg.Spotify.DeviceID != "kitchen" || cfg.Spotify.Volume != 40 {
		t.Errorf("Spotify = %+v", cfg.Spotify)
	}
	if len(cfg.Spotify.Scopes) != 1 || cfg.Spotify.Scopes[0] != "user-modify-playback-state" {
		t.Errorf("Scopes = %v", cfg.Spotify.Scopes)
	}
	// ファイルで指定されなかった値はデフォルトのまま
	if cfg.Spotify.RedirectURL != "http://localhost:8888/callback" {
		t.Errorf("RedirectURL = %q", cfg.Spotify.RedirectURL)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := isolateEnv(t)
	path := writeConfig(t, dir, "snooze_minutes: 10\nlog_level: debug\n")
	t.Setenv("BEATWAKE_CONFIG", path)
	t.Setenv("BEATWAKE_SNOOZE_MINUTES", "3")
	t.Setenv("BEATWAKE_POLL_INTERVAL", "5s")
	t.Setenv("SPOTIFY_SCOPES", "a b")
	t.Setenv("BEATWAKE_API_RATE", "2.5")
	t.Setenv("BEATWAKE_ALARMS_PATH", "/tmp/custom.json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.SnoozeMinutes != 3 {
		t.Errorf("SnoozeMinutes = %d, want 3", cfg.SnoozeMinutes)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if len(cfg.Spotify.Scopes) != 2 {
		t.Errorf("Scopes = %v", cfg.Spotify.Scopes)
	}
	if cfg.Spotify.RequestsPerSecond != 2.5 {
		t.Errorf("RequestsPerSecond = %v, want 2.5", cfg.Spotify.RequestsPerSecond)
	}
	if cfg.AlarmsPath != "/tmp/custom.json" {
		t.Errorf("AlarmsPath = %q", cfg.AlarmsPath)
	}
}

func TestLoad_InvalidEnvFallsBackToDefault(t *testing.T) {
	isolateEnv(t)
	t.Setenv("BEATWAKE_SNOOZE_MINUTES", "many")
	t.Setenv("BEATWAKE_POLL_INTERVAL", "soon")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.SnoozeMinutes != 5 || cfg.PollInterval != 30*time.Second {
		t.Errorf("不正な値はデフォルトを使うべき: %d %v", cfg.SnoozeMinutes, cfg.PollInterval)
	}
}

func TestLoad_SoundTimeoutClamped(t *testing.T) {
	isolateEnv(t)
	t.Setenv("BEATWAKE_SOUND_TIMEOUT", "5s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.SoundTimeout != time.Second {
		t.Errorf("SoundTimeout = %v, want 1s", cfg.SoundTimeout)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"poll too short", "BEATWAKE_POLL_INTERVAL", "100ms", "poll_interval"},
		{"poll too long", "BEATWAKE_POLL_INTERVAL", "2m", "poll_interval"},
		{"snooze zero", "BEATWAKE_SNOOZE_MINUTES", "0", "snooze_minutes"},
		{"volume", "SPOTIFY_VOLUME", "150", "spotify.volume"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load("")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoad_ExplicitMissingFileIsError(t *testing.T) {
	dir := isolateEnv(t)

	if _, err := Load(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Fatal("明示された設定ファイルが存在しない場合はエラーになるべき")
	}
}

func TestLoad_MalformedYAMLIsError(t *testing.T) {
	dir := isolateEnv(t)
	writeConfig(t, dir, "poll_interval: [1, 2\n")

	if _, err := Load(""); err == nil {
		t.Fatal("不正なYAMLはエラーになるべき")
	}
}
