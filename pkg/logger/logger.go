package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	globalLogger *slog.Logger
	mu           sync.RWMutex
)

// Options はロガーの初期化オプション
type Options struct {
	Level  string    // debug, info, warn, error
	Format string    // text または json（空文字列は text）
	Writer io.Writer // 出力先（nil は標準エラー出力）
}

// ParseLevel ログレベル文字列をslog.Levelに変換
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// InitLogger ログレベルに応じてslogを初期化（テキスト形式、標準エラー出力）
func InitLogger(level string) error {
	return InitLoggerWithOptions(Options{Level: level})
}

// InitLoggerWithOptions オプションに応じてslogを初期化
// 標準出力はREPLと実行結果に使うため、ログは標準エラー出力に書く
func InitLoggerWithOptions(opts Options) error {
	slogLevel, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: slogLevel}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		return fmt.Errorf("invalid log format: %s", opts.Format)
	}

	l := slog.New(handler)

	mu.Lock()
	globalLogger = l
	mu.Unlock()

	slog.SetDefault(l)
	return nil
}

// GetLogger グローバルロガーを取得
func GetLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger == nil {
		// 未初期化の場合はデフォルトロガーを返す
		return slog.Default()
	}
	return globalLogger
}

// Discard 何も出力しないロガーを返す（テスト用）
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
