// Package logger provides the process-wide audit log.
//
// A single Logger is constructed by the CLI and passed to every component.
// Each message is timestamped, appended to an in-memory entry list, printed
// to the console in a level-specific color (fatih/color) and, when a log
// file has been opened, appended to it without color codes.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// TimeFormat is the layout used for the timestamp prefix of every line.
const TimeFormat = "2006-01-02 15:04:05"

// Level is the severity of an entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the tag printed in front of the message.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// palette maps levels to console colors.
// Info is green, Warn bright magenta, Error red and Debug cyan.
var palette = map[Level]*color.Color{
	LevelDebug: color.New(color.FgCyan),
	LevelInfo:  color.New(color.FgGreen),
	LevelWarn:  color.New(color.FgHiMagenta),
	LevelError: color.New(color.FgRed),
}

// Entry is one audit log record. Entries are never modified once appended.
type Entry struct {
	Time    time.Time
	Level   Level
	Step    string // empty when the message is not tied to a step
	Message string
}

// Line renders the entry the way it is written to the log file.
func (e Entry) Line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] ", e.Time.Format(TimeFormat), e.Level)
	if e.Step != "" {
		fmt.Fprintf(&b, "[%s] ", e.Step)
	}
	b.WriteString(e.Message)
	return b.String()
}

// sink is shared by a Logger and all of its step-scoped children.
type sink struct {
	mu       sync.Mutex
	console  io.Writer
	file     io.WriteCloser
	filePath string
	debug    bool
	now      func() time.Time
	step     string
	entries  []Entry
}

// Logger writes audit entries. The zero value is not usable; call New.
type Logger struct {
	sink *sink
	step string
}

// Option configures a Logger.
type Option func(*sink)

// WithConsole sets the console writer. Defaults to os.Stdout.
func WithConsole(w io.Writer) Option {
	return func(s *sink) { s.console = w }
}

// WithDebug enables debug entries on the console and in the file.
func WithDebug(enabled bool) Option {
	return func(s *sink) { s.debug = enabled }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *sink) { s.now = now }
}

// New returns a Logger writing to the console only.
func New(opts ...Option) *Logger {
	s := &sink{
		console: os.Stdout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return &Logger{sink: s}
}

// Discard returns a Logger with no console output. Entries are still kept.
func Discard() *Logger {
	return New(WithConsole(io.Discard))
}

// OpenFile creates dir if needed and starts appending every entry to a
// timestamped file inside it. It returns the path of the file. Opening a
// second file replaces the first.
func (l *Logger) OpenFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("setup_%s.log", s.now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = f
	s.filePath = path
	return path, nil
}

// FilePath returns the path of the open log file, or "" when there is none.
func (l *Logger) FilePath() string {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.filePath
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// ForStep returns a Logger sharing the same sink whose entries carry step.
func (l *Logger) ForStep(step string) *Logger {
	return &Logger{sink: l.sink, step: step}
}

// Step returns the step this logger is scoped to.
func (l *Logger) Step() string {
	return l.step
}

// SetStep marks the step currently running. Entries from loggers that are
// not scoped with ForStep carry it until it is changed or cleared with "".
func (l *Logger) SetStep(step string) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.step = step
}

func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

// Entries returns a copy of everything logged so far.
func (l *Logger) Entries() []Entry {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Contains reports whether any entry message contains substr.
func (l *Logger) Contains(substr string) bool {
	for _, e := range l.Entries() {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func (l *Logger) log(level Level, format string, args ...any) {
	s := l.sink
	if level == LevelDebug && !s.debug {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	step := l.step
	if step == "" {
		step = s.step
	}
	entry := Entry{
		Time:    s.now(),
		Level:   level,
		Step:    step,
		Message: strings.TrimRight(fmt.Sprintf(format, args...), "\n"),
	}
	s.entries = append(s.entries, entry)

	line := entry.Line()
	if s.console != nil {
		stamp := "[" + entry.Time.Format(TimeFormat) + "] "
		_, _ = io.WriteString(s.console, stamp)
		_, _ = palette[level].Fprintln(s.console, strings.TrimPrefix(line, stamp))
	}
	if s.file != nil {
		_, _ = io.WriteString(s.file, line+"\n")
	}
}
