// SPDX-License-Identifier: MIT
//
// Package log is the process-wide leveled logger. Messages are written through
// a single stdlib logger with microsecond timestamps; the active level is held
// atomically so the capture goroutine can log without taking a lock.
//
// Callers prefix messages with their component, "Capture: ...".
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
	LevelFatal // Only used to silence everything below it
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l LogLevel) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "UNKNOWN"
}

// ParseLevel converts a case-insensitive level name to a LogLevel. An empty
// name is Info. Unknown names return LevelInfo and false.
func ParseLevel(levelStr string) (LogLevel, bool) {
	name := strings.ToUpper(strings.TrimSpace(levelStr))
	switch name {
	case "":
		return LevelInfo, true
	case "WARNING":
		return LevelWarn, true
	}
	for i, n := range levelNames {
		if n == name {
			return LogLevel(i), true
		}
	}
	return LevelInfo, false
}

var (
	currentLevel atomic.Uint32 // Zero value is LevelDebug; init raises it
	logger       = stdlog.New(os.Stderr, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds)
)

func init() {
	SetLevel(LevelInfo)
}

// SetLevel sets the global logging level.
func SetLevel(level LogLevel) {
	currentLevel.Store(uint32(level))
}

// SetLevelString parses levelStr and applies it. Unknown names leave the
// level at Info and report false.
func SetLevelString(levelStr string) bool {
	level, ok := ParseLevel(levelStr)
	SetLevel(level)
	return ok
}

// GetLevel returns the global logging level.
func GetLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

// SetOutput redirects log output. w must not be nil.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

func logf(level LogLevel, format string, v []any) {
	if level < GetLevel() {
		return
	}
	// "[INFO] " and "[WARN] " are padded to the width of "[ERROR]".
	tag := "[" + level.String() + "]"
	logger.Printf("%-7s %s", tag, fmt.Sprintf(format, v...))
}

// Debugf logs at Debug level.
func Debugf(format string, v ...any) { logf(LevelDebug, format, v) }

// Infof logs at Info level.
func Infof(format string, v ...any) { logf(LevelInfo, format, v) }

// Warnf logs at Warn level.
func Warnf(format string, v ...any) { logf(LevelWarn, format, v) }

// Errorf logs at Error level.
func Errorf(format string, v ...any) { logf(LevelError, format, v) }
