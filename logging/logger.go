// Package logging provides the console implementation of workflow.Logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// String returns the lower-case level name
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel maps a configuration string to a level. The empty string is info.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	}
	return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
}

// ConsoleLogger writes timestamped lines to an output stream
type ConsoleLogger struct {
	level LogLevel
	mu    sync.Mutex
	out   io.Writer
	now   func() time.Time
}

// NewConsoleLogger creates a console logger writing to stdout
func NewConsoleLogger(level LogLevel) *ConsoleLogger {
	return NewWriterLogger(level, os.Stdout)
}

// NewWriterLogger creates a console logger writing to w
func NewWriterLogger(level LogLevel, w io.Writer) *ConsoleLogger {
	return &ConsoleLogger{level: level, out: w, now: time.Now}
}

// Debug implements Logger.Debug
func (l *ConsoleLogger) Debug(format string, args ...interface{}) {
	if l.level <= LogLevelDebug {
		l.log("DEBUG", format, args...)
	}
}

// Info implements Logger.Info
func (l *ConsoleLogger) Info(format string, args ...interface{}) {
	if l.level <= LogLevelInfo {
		l.log("INFO", format, args...)
	}
}

// Warn implements Logger.Warn
func (l *ConsoleLogger) Warn(format string, args ...interface{}) {
	if l.level <= LogLevelWarn {
		l.log("WARN", format, args...)
	}
}

// Error implements Logger.Error
func (l *ConsoleLogger) Error(format string, args ...interface{}) {
	if l.level <= LogLevelError {
		l.log("ERROR", format, args...)
	}
}

func (l *ConsoleLogger) log(level string, format string, args ...interface{}) {
	timestamp := l.now().Format("15:04:05.000")
	message := fmt.Sprintf(format, args...)

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s [%-5s] %s\n", timestamp, level, message)
}
