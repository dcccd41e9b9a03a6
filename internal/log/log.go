package log

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool
)

// Setup installs a JSON slog handler writing to a rotated logFile as the
// default logger. Records are also sent to every console handler. Only the
// first call has any effect.
func Setup(logFile string, debug bool, console ...slog.Handler) {
	initOnce.Do(func() {
		logRotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // Max size in MB
			MaxBackups: 0,
			MaxAge:     30, // Days
			Compress:   false,
		}

		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}

		var handler slog.Handler = slog.NewJSONHandler(logRotator, &slog.HandlerOptions{
			Level:     level,
			AddSource: true,
		})
		if len(console) > 0 {
			handler = newTeeHandler(append([]slog.Handler{handler}, console...)...)
		}

		slog.SetDefault(slog.New(handler))
		initialized.Store(true)
	})
}

func Initialized() bool {
	return initialized.Load()
}

// MaskAPIKey masks an API key by showing only the first and last 5 characters.
// For keys shorter than 10 characters, it shows first 2 and last 2 characters.
// Returns "***EMPTY***" for empty strings.
func MaskAPIKey(apiKey string) string {
	if apiKey == "" {
		return "***EMPTY***"
	}

	key := strings.TrimPrefix(apiKey, "Bearer ")
	key = strings.TrimPrefix(key, "sk-")

	keyLen := len(key)
	switch {
	case keyLen <= 4:
		return strings.Repeat("*", keyLen)
	case keyLen <= 10:
		return key[:2] + strings.Repeat("*", keyLen-4) + key[keyLen-2:]
	default:
		return key[:5] + strings.Repeat("*", keyLen-10) + key[keyLen-5:]
	}
}

// RecoverPanic is deferred at the top of long-lived goroutines. It logs the
// panic, writes the stack to a file in dir and runs cleanup.
func RecoverPanic(dir, name string, cleanup func()) {
	r := recover()
	if r == nil {
		return
	}
	slog.Error("Recovered from panic", "goroutine", name, "panic", r)

	timestamp := time.Now().Format("20060102-150405")
	filename := filepath.Join(dir, fmt.Sprintf("sandchat-panic-%s-%s.log", name, timestamp))
	if file, err := os.Create(filename); err == nil {
		fmt.Fprintf(file, "Panic in %s: %v\n\n", name, r)
		fmt.Fprintf(file, "Time: %s\n\n", time.Now().Format(time.RFC3339))
		fmt.Fprintf(file, "Stack Trace:\n%s\n", debug.Stack())
		file.Close()
	}

	if cleanup != nil {
		cleanup()
	}
}
