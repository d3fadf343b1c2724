package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Logger defines a minimal, printf-style logging contract.
//
// It intentionally stays small so every component can depend on it without
// pulling in the concrete file logger.
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

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

var (
	sharedFile *os.File
	sharedOnce sync.Once
)

// fileLogger writes component-tagged lines to deskmate-debug.log in the
// user's home directory. All component loggers share one file handle.
type fileLogger struct {
	mu        sync.Mutex
	out       *log.Logger
	level     Level
	component string
}

func sharedLogFile() *os.File {
	sharedOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		path := filepath.Join(home, "deskmate-debug.log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		sharedFile = f
	})
	return sharedFile
}

// NewComponentLogger creates a logger scoped to a component name.
func NewComponentLogger(component string) Logger {
	f := sharedLogFile()
	if f == nil {
		return &fileLogger{out: log.New(os.Stderr, "", log.LstdFlags), level: LevelInfo, component: component}
	}
	return &fileLogger{out: log.New(f, "", log.LstdFlags), level: LevelDebug, component: component}
}

func (l *fileLogger) logf(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	l.out.Printf("[%s] [%s] %s", levelNames[level], l.component, msg)
}

func (l *fileLogger) Debug(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *fileLogger) Info(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *fileLogger) Warn(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *fileLogger) Error(format string, args ...any) { l.logf(LevelError, format, args...) }
