// Package log provides the leveled logger used across lingodoc. Entries go
// to stderr, keeping stdout free for command output.
package log

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

const timeLayout = "2006-01-02 15:04:05"

// String returns the upper-case level name.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel maps a level name ("debug", "INFO", ...) to a LogLevel.
// Unknown or empty names fall back to LevelInfo.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Logger writes one line per entry with a timestamp, level and caller
// location. Entries below the configured level are dropped.
type Logger struct {
	level  LogLevel
	logger *log.Logger
}

func NewLogger(level LogLevel) *Logger {
	return &Logger{
		level:  level,
		logger: log.New(os.Stderr, "", 0),
	}
}

// SetLevel changes the minimum level that gets emitted.
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.output(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.output(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.output(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.output(LevelError, format, args...)
}

// Fatal logs the message and exits the process.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.output(LevelFatal, format, args...)
	os.Exit(1)
}

// output expects exactly one wrapper frame between the caller and itself,
// so both Logger methods and the package-level functions must invoke it
// directly for the reported location to land on user code.
func (l *Logger) output(level LogLevel, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	caller := "unknown"
	if _, file, line, ok := runtime.Caller(2); ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	l.logger.Printf("[%s] [%s] [%s] %s",
		time.Now().Format(timeLayout), level, caller, fmt.Sprintf(format, args...))
}

// Global logger instance
var globalLogger *Logger

// InitLogger replaces the global logger with one at the given level.
func InitLogger(level LogLevel) {
	globalLogger = NewLogger(level)
}

// GetLogger returns the global logger, creating an info-level one on first use.
func GetLogger() *Logger {
	if globalLogger == nil {
		globalLogger = NewLogger(LevelInfo)
	}
	return globalLogger
}

// Convenience functions
func Debug(format string, args ...interface{}) {
	GetLogger().output(LevelDebug, format, args...)
}

func Info(format string, args ...interface{}) {
	GetLogger().output(LevelInfo, format, args...)
}

func Warn(format string, args ...interface{}) {
	GetLogger().output(LevelWarn, format, args...)
}

func Error(format string, args ...interface{}) {
	GetLogger().output(LevelError, format, args...)
}

func Fatal(format string, args ...interface{}) {
	GetLogger().output(LevelFatal, format, args...)
	os.Exit(1)
}
