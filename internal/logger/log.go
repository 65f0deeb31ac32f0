package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// ParseLevel maps a level name to a Level. Unknown names fall back to INFO.
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// sink is shared by a logger and every child created with Named.
type sink struct {
	mu       sync.Mutex
	level    Level
	debugLog *log.Logger
	infoLog  *log.Logger
	warnLog  *log.Logger
	errorLog *log.Logger
}

type Logger struct {
	out       *sink
	component string
}

func New(level string) *Logger {
	return NewWithOutput(level, os.Stderr)
}

func NewWithOutput(level string, w io.Writer) *Logger {
	flags := log.LstdFlags | log.Lshortfile | log.Lmicroseconds

	return &Logger{
		out: &sink{
			level:    ParseLevel(level),
			debugLog: log.New(w, "[DEBUG] ", flags),
			infoLog:  log.New(w, "[INFO] ", flags),
			warnLog:  log.New(w, "[WARN] ", flags),
			errorLog: log.New(w, "[ERROR] ", flags),
		},
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return NewWithOutput("ERROR", io.Discard)
}

// Named returns a child logger whose lines are tagged with component.
// The child shares level and output with its parent.
func (l *Logger) Named(component string) *Logger {
	name := component
	if l.component != "" {
		name = l.component + "." + component
	}
	return &Logger{out: l.out, component: name}
}

// SetOutput redirects every level, including children created with Named.
func (l *Logger) SetOutput(w io.Writer) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.debugLog.SetOutput(w)
	l.out.infoLog.SetOutput(w)
	l.out.warnLog.SetOutput(w)
	l.out.errorLog.SetOutput(w)
}

// Enabled reports whether lines at level are written. Callers use it to skip
// building expensive debug arguments.
func (l *Logger) Enabled(level Level) bool {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	return l.out.level <= level
}

func (l *Logger) logf(level Level, target *log.Logger, format string, args ...interface{}) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if l.out.level > level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.component != "" {
		msg = l.component + ": " + msg
	}
	target.Output(3, msg)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.logf(DEBUG, l.out.debugLog, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.logf(INFO, l.out.infoLog, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.logf(WARN, l.out.warnLog, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.logf(ERROR, l.out.errorLog, format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logf(DEBUG, l.out.debugLog, format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.logf(INFO, l.out.infoLog, format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logf(WARN, l.out.warnLog, format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logf(ERROR, l.out.errorLog, format, args...)
}

// Writer exposes the logger as an io.Writer at DEBUG level, one entry per
// line. Third-party libraries that want a log sink (raft, memberlist) get this.
func (l *Logger) Writer() io.Writer {
	return lineWriter{l: l}
}

type lineWriter struct {
	l *Logger
}

func (w lineWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		w.l.logf(DEBUG, w.l.out.debugLog, "%s", line)
	}
	return len(p), nil
}
