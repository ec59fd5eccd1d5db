// Package logging is the process-wide log sink: every line goes to the console,
// and to an append-only log file for as long as that file stays healthy.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
)

var (
	ErrNotInitialized = errors.New("logging has not been initialized")
	ErrOutOfOrder     = errors.New("out of order logging initialization")
	ErrEmptyMessage   = errors.New("empty log message")
	ErrStreamBroken   = errors.New("log file stream broken")
	ErrNotOpen        = errors.New("log file stream is not open")
)

// MaxLineLength bounds a formatted message, trailing newline included.
const MaxLineLength = 256

const timeLayout = "02/01/2006 15:04:05"

var tagColors = map[string]*color.Color{
	"TRACE": color.New(color.FgHiBlack),
	"DEBUG": color.New(color.FgCyan),
	"INFO":  color.New(color.FgGreen),
	"WARN":  color.New(color.FgYellow),
	"ERROR": color.New(color.FgRed),
	"FATAL": color.New(color.FgHiRed, color.Bold),
}

type Sink struct {
	path    string
	min     slog.Level
	console io.Writer
	colored bool
	now     func() time.Time

	mu     sync.Mutex
	status Status
	file   *os.File
	closed bool
}

type Option func(*Sink)

// WithConsole replaces stderr as the console destination and disables colors.
func WithConsole(w io.Writer) Option {
	return func(s *Sink) {
		s.console = w
		s.colored = false
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		s.now = now
	}
}

func New(path string, min slog.Level, opts ...Option) *Sink {
	s := &Sink{
		path:    path,
		min:     min,
		console: os.Stderr,
		colored: !color.NoColor,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sink) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Sink) MinLevel() slog.Level {
	return s.min
}

// Startup opens the log file in append mode. A failure leaves logging usable
// on the console only.
func (s *Sink) Startup() error {
	s.mu.Lock()
	if s.status != StatusUninitialized {
		s.mu.Unlock()
		s.output(LevelError, "out of order logging initialization, start up before use")
		return ErrOutOfOrder
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		s.status = StatusFailure
		s.mu.Unlock()
		s.output(LevelError, "error encountered during logging startup: "+err.Error())
		s.output(LevelInfo, "logging to file is now disabled")
		return fmt.Errorf("open log file %s: %w", s.path, err)
	}
	s.file = f
	s.status = StatusSuccessful
	s.mu.Unlock()
	return s.Log(LevelInfo, "log file stream opened: %s", s.path)
}

// Shutdown closes the log file. Later lines still reach the console.
func (s *Sink) Shutdown() error {
	s.mu.Lock()
	open := s.file != nil
	s.mu.Unlock()
	if !open {
		s.output(LevelWarn, "closing log file failed: file stream is not open")
		return ErrNotOpen
	}
	_ = s.Log(LevelInfo, "closing log file stream")
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.file
	s.file = nil
	s.closed = true
	if f == nil {
		return ErrNotOpen
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

// Log formats and writes one line at the given level.
func (s *Sink) Log(level slog.Level, format string, args ...any) error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return s.emit(level, msg)
}

func (s *Sink) emit(level slog.Level, msg string) error {
	s.mu.Lock()
	if s.status == StatusUninitialized {
		s.status = StatusNonInitFailure
		s.mu.Unlock()
		s.output(LevelError, "logging has not been initialized properly, this message will only be displayed once")
		if level >= s.min && !isEmpty(msg) {
			s.output(level, msg)
		}
		return ErrNotInitialized
	}
	s.mu.Unlock()
	if level < s.min {
		return nil
	}
	if isEmpty(msg) {
		s.output(LevelInfo, "empty log message")
		return ErrEmptyMessage
	}
	return s.output(level, msg)
}

func isEmpty(msg string) bool {
	return msg == "" || msg[0] == '\n'
}

// output writes a line without level filtering.
func (s *Sink) output(level slog.Level, msg string) error {
	ts := s.now().Format(timeLayout)
	name := LevelName(level)
	body := formatMessage(msg)

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.console, "%s %s %s", ts, s.tag(name), body)
	if !s.status.fileEnabled() || s.closed {
		return nil
	}
	if s.file == nil {
		s.status = StatusStreamBroken
		fmt.Fprintf(s.console, "%s %s %s", ts, s.tag("ERROR"),
			"log file stream broken, logging to file is now disabled\n")
		return ErrStreamBroken
	}
	if _, err := io.WriteString(s.file, ts+" ["+name+"] "+body); err != nil {
		s.status = StatusStreamBroken
		fmt.Fprintf(s.console, "%s %s %s", ts, s.tag("ERROR"),
			"log file stream broken, logging to file is now disabled\n")
		return fmt.Errorf("%w: %v", ErrStreamBroken, err)
	}
	return nil
}

func (s *Sink) tag(name string) string {
	tag := "[" + name + "]"
	if c, ok := tagColors[name]; ok && s.colored {
		return c.Sprint(tag)
	}
	return tag
}

// formatMessage keeps the text up to the first newline, bounds it to
// MaxLineLength and terminates it with exactly one newline.
func formatMessage(msg string) string {
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if len(msg) > MaxLineLength-1 {
		cut := MaxLineLength - 1
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg + "\n"
}
