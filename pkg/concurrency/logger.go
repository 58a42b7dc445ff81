package concurrency

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level is the minimum severity a Logger emits.
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

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a Level.
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
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger is what the pool reports through.
// Swap it for an adapter over another logging library if needed.
type Logger interface {
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
}

// defaultLogger implements Logger using the standard log package
type defaultLogger struct {
	min         Level
	errorLogger *log.Logger
	warnLogger  *log.Logger
	infoLogger  *log.Logger
	debugLogger *log.Logger
}

// NewDefaultLogger logs info and above: errors and warnings to stderr, the
// rest to stdout.
func NewDefaultLogger() Logger {
	return NewLeveledLogger(LevelInfo, os.Stderr, os.Stdout)
}

// NewLeveledLogger creates a logger that drops messages below min.
func NewLeveledLogger(min Level, errOut, out io.Writer) Logger {
	flags := log.LstdFlags | log.Lmicroseconds
	return &defaultLogger{
		min:         min,
		errorLogger: log.New(errOut, "[ERROR] ", flags),
		warnLogger:  log.New(errOut, "[WARN] ", flags),
		infoLogger:  log.New(out, "[INFO] ", flags),
		debugLogger: log.New(out, "[DEBUG] ", flags),
	}
}

func (l *defaultLogger) output(level Level, lg *log.Logger, msg string) {
	if level < l.min {
		return
	}
	_ = lg.Output(3, msg)
}

func (l *defaultLogger) Error(args ...interface{}) {
	l.output(LevelError, l.errorLogger, fmt.Sprint(args...))
}

func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	l.output(LevelError, l.errorLogger, fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Warn(args ...interface{}) {
	l.output(LevelWarn, l.warnLogger, fmt.Sprint(args...))
}

func (l *defaultLogger) Warnf(format string, args ...interface{}) {
	l.output(LevelWarn, l.warnLogger, fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Info(args ...interface{}) {
	l.output(LevelInfo, l.infoLogger, fmt.Sprint(args...))
}

func (l *defaultLogger) Infof(format string, args ...interface{}) {
	l.output(LevelInfo, l.infoLogger, fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Debug(args ...interface{}) {
	l.output(LevelDebug, l.debugLogger, fmt.Sprint(args...))
}

func (l *defaultLogger) Debugf(format string, args ...interface{}) {
	l.output(LevelDebug, l.debugLogger, fmt.Sprintf(format, args...))
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Error(...interface{})          {}
func (NopLogger) Errorf(string, ...interface{}) {}
func (NopLogger) Warn(...interface{})           {}
func (NopLogger) Warnf(string, ...interface{})  {}
func (NopLogger) Info(...interface{})           {}
func (NopLogger) Infof(string, ...interface{})  {}
func (NopLogger) Debug(...interface{})          {}
func (NopLogger) Debugf(string, ...interface{}) {}
