package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const redacted = "[REDACTED]"

var (
	logger     *charmlog.Logger
	loggerOnce sync.Once
	minLevel   = LevelInfo
	levelMu    sync.RWMutex
)

// initLogger initializes the global logger to write to stderr with timestamps.
func initLogger() {
	loggerOnce.Do(func() {
		logger = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339Nano,
			Level:           charmlog.InfoLevel,
		})
	})
}

// ParseLevel maps LOG_LEVEL style strings onto a Level. Unknown values
// fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(l Level) {
	initLogger()
	levelMu.Lock()
	minLevel = l
	levelMu.Unlock()
	logger.SetLevel(toCharm(l))
}

// CurrentLevel returns the active minimum level.
func CurrentLevel() Level {
	levelMu.RLock()
	defer levelMu.RUnlock()
	return minLevel
}

// SetJSON switches the output format to one JSON object per line.
func SetJSON(on bool) {
	initLogger()
	if on {
		logger.SetFormatter(charmlog.JSONFormatter)
		return
	}
	logger.SetFormatter(charmlog.TextFormatter)
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(w io.Writer) {
	initLogger()
	logger.SetOutput(w)
}

func Debug(msg string, kv ...any) {
	initLogger()
	logger.Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	initLogger()
	logger.Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	initLogger()
	logger.Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	initLogger()
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logger.Error(msg, extended...)
}

// Redact hides user-provided text unless debug logging is enabled.
// Above DEBUG it returns a fixed placeholder.
func Redact(text string) string {
	if CurrentLevel() == LevelDebug {
		return text
	}
	return redacted
}

func toCharm(l Level) charmlog.Level {
	switch l {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}
