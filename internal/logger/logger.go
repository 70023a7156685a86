// Package logger provides leveled, printf-style logging for vengine.
//
// The package keeps a process-wide default logger for code that does not
// carry its own handle, and a *Logger type that components (reactor, worker
// pool, adapters) receive explicitly so tests can capture their output.
//
// Levels, from least to most severe: DEBUG, INFO, WARN, ERROR, CRITICAL.
// The minimum level is process-wide and applies to every Logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// zerologLevel maps a Level onto the zerolog scale. CRITICAL is emitted at
// zerolog's fatal level through WithLevel, which never exits the process.
func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelCritical:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel converts a case-insensitive level name into a Level.
// The second return value is false for unknown names.
func ParseLevel(level string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "CRITICAL":
		return LevelCritical, true
	default:
		return LevelInfo, false
	}
}

// Logger is a leveled logger handle. The zero value is not usable; obtain
// one from New, Default or Named.
type Logger struct {
	zl zerolog.Logger
}

var std atomic.Pointer[Logger]

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	std.Store(New(os.Stdout, "text"))
}

// New creates a Logger writing to w. Format is "json" for one JSON object
// per line, anything else selects human-readable console output.
func New(w io.Writer, format string) *Logger {
	if strings.EqualFold(format, "json") {
		return &Logger{zl: zerolog.New(w).With().Timestamp().Logger()}
	}

	console := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.DateTime,
		NoColor:    true,
	}
	return &Logger{zl: zerolog.New(console).With().Timestamp().Logger()}
}

// Default returns the process-wide logger.
func Default() *Logger {
	return std.Load()
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	if l != nil {
		std.Store(l)
	}
}

// Named returns a child of l that tags every entry with component=name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", name).Logger()}
}

// SetLevel sets the process-wide minimum level. Unknown names are ignored.
func SetLevel(level string) {
	if lvl, ok := ParseLevel(level); ok {
		zerolog.SetGlobalLevel(lvl.zerologLevel())
	}
}

// GetLevel returns the process-wide minimum level.
func GetLevel() Level {
	switch zerolog.GlobalLevel() {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return LevelDebug
	case zerolog.InfoLevel:
		return LevelInfo
	case zerolog.WarnLevel:
		return LevelWarn
	case zerolog.ErrorLevel:
		return LevelError
	default:
		return LevelCritical
	}
}

// Enabled reports whether entries at level are currently emitted.
func Enabled(level Level) bool {
	return level >= GetLevel()
}

// Configure sets up the default logger from configuration values.
//
// Output is "stdout", "stderr" or a file path opened in append mode.
func Configure(level, format, output string) error {
	if _, ok := ParseLevel(level); !ok && level != "" {
		return fmt.Errorf("unknown log level %q", level)
	}

	var w io.Writer
	switch strings.ToLower(output) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log output %q: %w", output, err)
		}
		w = f
	}

	SetLevel(level)
	SetDefault(New(w, format))
	return nil
}

func (l *Logger) log(level Level, format string, v ...any) {
	if !Enabled(level) {
		return
	}
	l.zl.WithLevel(level.zerologLevel()).Msg(fmt.Sprintf(format, v...))
}

func (l *Logger) Debug(format string, v ...any) {
	l.log(LevelDebug, format, v...)
}

func (l *Logger) Info(format string, v ...any) {
	l.log(LevelInfo, format, v...)
}

func (l *Logger) Warn(format string, v ...any) {
	l.log(LevelWarn, format, v...)
}

func (l *Logger) Error(format string, v ...any) {
	l.log(LevelError, format, v...)
}

// Critical logs a failure that compromises the whole process. It does not exit.
func (l *Logger) Critical(format string, v ...any) {
	l.log(LevelCritical, format, v...)
}

func Debug(format string, v ...any) {
	Default().log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	Default().log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	Default().log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	Default().log(LevelError, format, v...)
}

func Critical(format string, v ...any) {
	Default().log(LevelCritical, format, v...)
}
