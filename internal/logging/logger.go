package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// Logger defines a minimal, printf-style logging contract shared by every
// component so packages can depend on it without pulling in the concrete
// implementation.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

var (
	defaultMu    sync.Mutex
	defaultLevel = INFO
	defaultOut   = log.New(os.Stderr, "", 0)
)

// SetLevel sets the minimum level for component loggers created by this
// package.
func SetLevel(level LogLevel) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLevel = level
}

// ParseLevel maps a config string to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch s {
	case "debug":
		return DEBUG
	case "warn":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

type componentLogger struct {
	component string
}

// NewComponentLogger creates a logger scoped to a specific component.
func NewComponentLogger(component string) Logger {
	return &componentLogger{component: component}
}

func (l *componentLogger) log(level LogLevel, name, format string, args ...any) {
	defaultMu.Lock()
	min := defaultLevel
	defaultMu.Unlock()
	if level < min {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	caller := "???"
	if ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	msg := fmt.Sprintf(format, args...)
	defaultOut.Printf("%s [%s] [%s] %s %s",
		time.Now().Format("2006-01-02 15:04:05.000"), name, l.component, caller, msg)
}

func (l *componentLogger) Debug(format string, args ...any) {
	l.log(DEBUG, "DEBUG", format, args...)
}

func (l *componentLogger) Info(format string, args ...any) {
	l.log(INFO, "INFO", format, args...)
}

func (l *componentLogger) Warn(format string, args ...any) {
	l.log(WARN, "WARN", format, args...)
}

func (l *componentLogger) Error(format string, args ...any) {
	l.log(ERROR, "ERROR", format, args...)
}
