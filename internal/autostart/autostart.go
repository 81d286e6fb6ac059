// Package autostart はログイン時に `beatwake daemon` を起動する登録を管理する。
package autostart

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/emersion/go-autostart"
)

// Entry はOSの自動起動エントリの操作。
type Entry interface {
	IsEnabled() bool
	Enable() error
	Disable() error
}

// Manager は自動起動エントリの登録と解除を行う。
type Manager struct {
	entry  Entry
	logger *slog.Logger
}

// NewManager は実行ファイルのパスから自動起動エントリを構成する。
// シンボリックリンクは解決する。
func NewManager(logger *slog.Logger) (*Manager, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}
	return NewManagerWithEntry(DaemonEntry(execPath), logger), nil
}

// NewManagerWithEntry は任意のEntryでManagerを生成する。
func NewManagerWithEntry(entry Entry, logger *slog.Logger) *Manager {
	return &Manager{entry: entry, logger: logger}
}

// DaemonEntry はexecPathのデーモンを起動する自動起動エントリを返す。
func DaemonEntry(execPath string) *autostart.App {
	return &autostart.App{
		Name:        "beatwake",
		DisplayName: "BeatWake",
		Exec:        []string{execPath, "daemon"},
	}
}

// Enabled は自動起動が登録済みかを返す。
func (m *Manager) Enabled() bool {
	return m.entry.IsEnabled()
}

// Set は自動起動の登録状態をenableに合わせる。既に一致していれば何もしない。
func (m *Manager) Set(enable bool) error {
	if m.entry.IsEnabled() == enable {
		return nil
	}

	if enable {
		if err := m.entry.Enable(); err != nil {
			return fmt.Errorf("failed to enable autostart: %w", err)
		}
		m.logger.Info("自動起動を有効にしました")
		return nil
	}

	if err := m.entry.Disable(); err != nil {
		return fmt.Errorf("failed to disable autostart: %w", err)
	}
	m.logger.Info("自動起動を無効にしました")
	return nil
}
