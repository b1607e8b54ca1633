package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps slog.Logger. All methods accept a nil *Logger: debug and
// info messages are then dropped while warnings and errors still go to
// the default slog logger.
type Logger struct {
	*slog.Logger
	LogFile string
	Start   time.Time
}

// New creates a logger at the given level. When dir is non-empty, records
// are written as JSON to a rotating file in dir; otherwise text records go
// to stderr.
func New(level string, dir string) *Logger {
	lvl := ParseLevel(level)

	var h slog.Handler
	l := &Logger{Start: time.Now()}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "%s: unable to create log directory: %v\n", dir, err)
		}
		w := &lumberjack.Logger{
			Filename:   filepath.Join(dir, "goflex.slog"),
			MaxSize:    32, // MB
			MaxBackups: 1,
		}
		if lvl == slog.LevelDebug {
			w.MaxSize = 256
		}
		l.LogFile = w.Filename
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	} else {
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	l.Logger = slog.New(h)

	l.Info("Hello logging", slog.Time("start", l.Start),
		slog.String("GOOS", runtime.GOOS), slog.String("GOARCH", runtime.GOARCH))
	return l
}

// NewWriter returns a logger writing text records to w. Tests use it to
// capture output.
func NewWriter(w io.Writer, level string) *Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return &Logger{Logger: slog.New(h), Start: time.Now()}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWriter(io.Discard, "error")
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "", "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "%s: invalid log level\n", level)
		return slog.LevelInfo
	}
}

func (l *Logger) Debug(msg string, args ...any) {
	if l != nil && l.Logger.Enabled(context.Background(), slog.LevelDebug) {
		l.Logger.Debug(msg, append([]any{slog.String("caller", caller())}, args...)...)
	}
}

func (l *Logger) Debugf(msg string, args ...any) {
	if l != nil && l.Logger.Enabled(context.Background(), slog.LevelDebug) {
		l.Logger.Debug(fmt.Sprintf(msg, args...), slog.String("caller", caller()))
	}
}

func (l *Logger) Info(msg string, args ...any) {
	if l != nil && l.Logger.Enabled(context.Background(), slog.LevelInfo) {
		l.Logger.Info(msg, args...)
	}
}

func (l *Logger) Infof(msg string, args ...any) {
	if l != nil && l.Logger.Enabled(context.Background(), slog.LevelInfo) {
		l.Logger.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *Logger) Warn(msg string, args ...any) {
	args = append([]any{slog.String("caller", caller())}, args...)
	if l == nil {
		slog.Warn(msg, args...)
	} else {
		l.Logger.Warn(msg, args...)
	}
}

func (l *Logger) Warnf(msg string, args ...any) {
	if l == nil {
		slog.Warn(fmt.Sprintf(msg, args...), slog.String("caller", caller()))
	} else {
		l.Logger.Warn(fmt.Sprintf(msg, args...), slog.String("caller", caller()))
	}
}

func (l *Logger) Error(msg string, args ...any) {
	args = append([]any{slog.String("caller", caller())}, args...)
	if l == nil {
		slog.Error(msg, args...)
	} else {
		l.Logger.Error(msg, args...)
	}
}

func (l *Logger) Errorf(msg string, args ...any) {
	if l == nil {
		slog.Error(fmt.Sprintf(msg, args...), slog.String("caller", caller()))
	} else {
		l.Logger.Error(fmt.Sprintf(msg, args...), slog.String("caller", caller()))
	}
}

// With returns a logger that adds args to every record. A nil logger
// stays nil.
func (l *Logger) With(args ...any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		Logger:  l.Logger.With(args...),
		LogFile: l.LogFile,
		Start:   l.Start,
	}
}

// caller reports file:line of the function that called the logging method.
func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "?"
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
