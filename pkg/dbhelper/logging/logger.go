// Package logging provides the leveled logger used across dbhelper.
//
// Entries are written as JSON lines. When stdout is a terminal they are pretty printed instead, and messages that
// implement PrettyPrint render themselves.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/term"
)

const traceIDKey = "__trace_id__"

// PrettyPrint is implemented by messages that know how to render themselves on a terminal.
type PrettyPrint interface {
	PrettyPrint(writer io.Writer)
}

// Logger is the leveled logger interface.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Log(args ...any)
	Logf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Notice(args ...any)
	Noticef(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	ChangeLevel(level Level)
}

type logEntry struct {
	Level   Level     `json:"level"`
	Time    time.Time `json:"time"`
	Message any       `json:"message"`
	TraceID string    `json:"trace_id,omitempty"`
	Caller  string    `json:"caller,omitempty"`
}

type logger struct {
	mu         sync.Mutex
	level      Level
	normalOut  io.Writer
	errorOut   io.Writer
	isTerminal bool
	exit       func(code int)
}

// NewLogger creates a logger writing to stdout, and to stderr for ERROR and above.
func NewLogger(level Level) Logger {
	return newLogger(level, os.Stdout, os.Stderr, checkIfTerminal(os.Stdout))
}

func newLogger(level Level, out, errOut io.Writer, isTerminal bool) *logger {
	return &logger{
		level:      level,
		normalOut:  out,
		errorOut:   errOut,
		isTerminal: isTerminal,
		exit:       os.Exit,
	}
}

func checkIfTerminal(w io.Writer) bool {
	switch v := w.(type) {
	case *os.File:
		return term.IsTerminal(int(v.Fd()))
	default:
		return false
	}
}

// logfWithSkip writes one entry. skip is passed to runtime.Caller to find the call site.
func (l *logger) logfWithSkip(skip int, level Level, format string, args ...any) {
	l.mu.Lock()
	minLevel := l.level
	l.mu.Unlock()

	if level < minLevel {
		return
	}

	entry := logEntry{
		Level: level,
		Time:  time.Now(),
	}

	args, entry.TraceID = extractTraceID(args)

	switch {
	case format != "":
		entry.Message = fmt.Sprintf(format, args...)
	case len(args) == 1:
		entry.Message = args[0]
	default:
		entry.Message = fmt.Sprint(args...)
	}

	if _, file, line, ok := runtime.Caller(skip); ok {
		entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	out := l.normalOut
	if level >= ERROR {
		out = l.errorOut
	}

	l.mu.Lock()

	if l.isTerminal {
		l.prettyPrint(out, &entry)
	} else {
		_ = json.NewEncoder(out).Encode(entry)
	}

	l.mu.Unlock()

	if level == FATAL {
		l.exit(1)
	}
}

func (l *logger) prettyPrint(out io.Writer, e *logEntry) {
	fmt.Fprintf(out, "\u001B[38;5;%dm%s\u001B[0m [%s] ", e.Level.color(), e.Level.String()[0:4], e.Time.Format(time.TimeOnly))

	if e.TraceID != "" {
		fmt.Fprintf(out, "\u001B[38;5;8m%s\u001B[0m ", e.TraceID)
	}

	if p, ok := e.Message.(PrettyPrint); ok {
		p.PrettyPrint(out)
		return
	}

	fmt.Fprintf(out, "%v\n", e.Message)
}

func extractTraceID(args []any) ([]any, string) {
	if len(args) == 0 {
		return args, ""
	}

	m, ok := args[len(args)-1].(map[string]any)
	if !ok {
		return args, ""
	}

	id, ok := m[traceIDKey].(string)
	if !ok {
		return args, ""
	}

	return args[:len(args)-1], id
}

const directCallerSkip = 2

func (l *logger) Debug(args ...any)             { l.logfWithSkip(directCallerSkip, DEBUG, "", args...) }
func (l *logger) Debugf(f string, args ...any)  { l.logfWithSkip(directCallerSkip, DEBUG, f, args...) }
func (l *logger) Log(args ...any)               { l.logfWithSkip(directCallerSkip, INFO, "", args...) }
func (l *logger) Logf(f string, args ...any)    { l.logfWithSkip(directCallerSkip, INFO, f, args...) }
func (l *logger) Info(args ...any)              { l.logfWithSkip(directCallerSkip, INFO, "", args...) }
func (l *logger) Infof(f string, args ...any)   { l.logfWithSkip(directCallerSkip, INFO, f, args...) }
func (l *logger) Notice(args ...any)            { l.logfWithSkip(directCallerSkip, NOTICE, "", args...) }
func (l *logger) Noticef(f string, args ...any) { l.logfWithSkip(directCallerSkip, NOTICE, f, args...) }
func (l *logger) Warn(args ...any)              { l.logfWithSkip(directCallerSkip, WARN, "", args...) }
func (l *logger) Warnf(f string, args ...any)   { l.logfWithSkip(directCallerSkip, WARN, f, args...) }
func (l *logger) Error(args ...any)             { l.logfWithSkip(directCallerSkip, ERROR, "", args...) }
func (l *logger) Errorf(f string, args ...any)  { l.logfWithSkip(directCallerSkip, ERROR, f, args...) }
func (l *logger) Fatal(args ...any)             { l.logfWithSkip(directCallerSkip, FATAL, "", args...) }
func (l *logger) Fatalf(f string, args ...any)  { l.logfWithSkip(directCallerSkip, FATAL, f, args...) }

func (l *logger) ChangeLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}
