package core

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level filters which messages a Logger emits
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger provides leveled logging
// This abstraction allows swapping logging implementations
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})

	// WithFields returns a logger that appends fields to every message
	WithFields(fields map[string]interface{}) Logger
}

// sinks holds the per-level loggers shared by a logger and its WithFields children
type sinks struct {
	errorLogger *log.Logger
	warnLogger  *log.Logger
	infoLogger  *log.Logger
	debugLogger *log.Logger
	level       Level
}

// defaultLogger implements Logger using Go's standard log package
type defaultLogger struct {
	sinks  *sinks
	fields string // pre-rendered " map[k:v ...]" suffix
}

// NewDefaultLogger creates a logger writing errors and warnings to stderr and
// everything else to stdout, at LevelInfo
func NewDefaultLogger() Logger {
	return NewLogger(os.Stdout, os.Stderr, LevelInfo)
}

// NewLogger creates a logger writing Info/Debug to out and Warn/Error to errOut
func NewLogger(out, errOut io.Writer, level Level) Logger {
	flags := log.LstdFlags | log.Lmicroseconds
	return &defaultLogger{
		sinks: &sinks{
			errorLogger: log.New(errOut, "[ERROR] ", flags),
			warnLogger:  log.New(errOut, "[WARN] ", flags),
			infoLogger:  log.New(out, "[INFO] ", flags),
			debugLogger: log.New(out, "[DEBUG] ", flags),
			level:       level,
		},
	}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() Logger {
	return NewLogger(io.Discard, io.Discard, LevelError+1)
}

func (l *defaultLogger) emit(level Level, lg *log.Logger, msg string) {
	if level < l.sinks.level {
		return
	}
	lg.Output(3, msg+l.fields)
}

// Error logs an error message
func (l *defaultLogger) Error(args ...interface{}) {
	l.emit(LevelError, l.sinks.errorLogger, fmt.Sprint(args...))
}

// Errorf logs a formatted error message
func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	l.emit(LevelError, l.sinks.errorLogger, fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func (l *defaultLogger) Warn(args ...interface{}) {
	l.emit(LevelWarn, l.sinks.warnLogger, fmt.Sprint(args...))
}

// Warnf logs a formatted warning message
func (l *defaultLogger) Warnf(format string, args ...interface{}) {
	l.emit(LevelWarn, l.sinks.warnLogger, fmt.Sprintf(format, args...))
}

// Info logs an informational message
func (l *defaultLogger) Info(args ...interface{}) {
	l.emit(LevelInfo, l.sinks.infoLogger, fmt.Sprint(args...))
}

// Infof logs a formatted informational message
func (l *defaultLogger) Infof(format string, args ...interface{}) {
	l.emit(LevelInfo, l.sinks.infoLogger, fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *defaultLogger) Debug(args ...interface{}) {
	l.emit(LevelDebug, l.sinks.debugLogger, fmt.Sprint(args...))
}

// Debugf logs a formatted debug message
func (l *defaultLogger) Debugf(format string, args ...interface{}) {
	l.emit(LevelDebug, l.sinks.debugLogger, fmt.Sprintf(format, args...))
}

// WithFields implements Logger
func (l *defaultLogger) WithFields(fields map[string]interface{}) Logger {
	if len(fields) == 0 {
		return l
	}
	// fmt prints maps with sorted keys, which keeps the suffix stable
	return &defaultLogger{
		sinks:  l.sinks,
		fields: fmt.Sprintf(" %v", fields),
	}
}

// SyncWriter serializes writes to an io.Writer; useful when several loggers
// share one buffer in tests
type SyncWriter struct {
	mu sync.Mutex
	W  io.Writer
}

func (w *SyncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.W.Write(p)
}
