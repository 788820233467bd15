// SPDX-License-Identifier: MIT
/*
Package log is the leveled global logger used off the audio thread.

The level is held atomically so any goroutine may check it cheaply. Nothing on
the real-time path may call into this package; audio-thread problems are
counted and reported later by the control side.
*/
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel defines the severity of a log message.
type LogLevel uint32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

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
		return "UNKNOWN"
	}
}

// ParseLevel converts a string (case-insensitive) to a LogLevel.
// Returns LevelInfo and false if the string is not recognized.
func ParseLevel(levelStr string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

var (
	currentLevel atomic.Uint32
	logger       atomic.Pointer[stdlog.Logger]
)

func init() {
	SetOutput(os.Stderr)
	SetLevel(LevelInfo)
}

// SetOutput redirects all log output to w.
func SetOutput(w io.Writer) {
	logger.Store(stdlog.New(w, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds))
}

// SetLevel sets the global logging level.
func SetLevel(level LogLevel) {
	currentLevel.Store(uint32(level))
}

// GetLevel returns the global logging level.
func GetLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

// Configure applies the configured level. debug forces LevelDebug. An
// unrecognized level string leaves Info in place and is reported.
func Configure(levelStr string, debug bool) {
	if debug {
		SetLevel(LevelDebug)
		return
	}
	level, ok := ParseLevel(levelStr)
	SetLevel(level)
	if !ok && levelStr != "" {
		Warnf("log: Unknown level %q, using %s", levelStr, level)
	}
}

func enabled(level LogLevel) bool {
	return level >= GetLevel()
}

func output(level LogLevel, msg string) {
	// Pad the short level names so messages line up.
	pad := ""
	if len(level.String()) == 4 {
		pad = " "
	}
	logger.Load().Printf("[%s]%s %s", level, pad, msg)
}

// Debugf logs a formatted debug message if the level is appropriate.
func Debugf(format string, v ...any) {
	if enabled(LevelDebug) {
		output(LevelDebug, fmt.Sprintf(format, v...))
	}
}

// Infof logs a formatted info message if the level is appropriate.
func Infof(format string, v ...any) {
	if enabled(LevelInfo) {
		output(LevelInfo, fmt.Sprintf(format, v...))
	}
}

// Warnf logs a formatted warning message if the level is appropriate.
func Warnf(format string, v ...any) {
	if enabled(LevelWarn) {
		output(LevelWarn, fmt.Sprintf(format, v...))
	}
}

// Errorf logs a formatted error message if the level is appropriate.
func Errorf(format string, v ...any) {
	if enabled(LevelError) {
		output(LevelError, fmt.Sprintf(format, v...))
	}
}

// Fatalf logs a formatted fatal message and exits the application.
// Fatal messages are always logged regardless of the current level.
func Fatalf(format string, v ...any) {
	output(LevelFatal, fmt.Sprintf(format, v...))
	os.Exit(1)
}

func Info(v ...any) {
	if enabled(LevelInfo) {
		output(LevelInfo, fmt.Sprint(v...))
	}
}

func Error(v ...any) {
	if enabled(LevelError) {
		output(LevelError, fmt.Sprint(v...))
	}
}
