package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Levels in slog terms. TRACE and FATAL sit one step outside the builtin range.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelFatal = slog.Level(12)
)

// ordered from most to least verbose; the index is the numeric level of the CLI
var levels = []struct {
	level slog.Level
	name  string
}{
	{LevelTrace, "TRACE"},
	{LevelDebug, "DEBUG"},
	{LevelInfo, "INFO"},
	{LevelWarn, "WARN"},
	{LevelError, "ERROR"},
	{LevelFatal, "FATAL"},
}

// LevelName returns the tag for the highest known level not above l.
func LevelName(l slog.Level) string {
	name := levels[0].name
	for _, v := range levels {
		if l < v.level {
			break
		}
		name = v.name
	}
	return name
}

// ParseLevel accepts a level name (case-insensitive, WARNING is an alias of
// WARN) or its number in [0, 5], 0 being TRACE.
func ParseLevel(s string) (slog.Level, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n >= len(levels) {
			return 0, fmt.Errorf("log level %d out of range [0, %d]", n, len(levels)-1)
		}
		return levels[n].level, nil
	}
	name := strings.ToUpper(s)
	if name == "WARNING" {
		name = "WARN"
	}
	for _, v := range levels {
		if v.name == name {
			return v.level, nil
		}
	}
	return 0, fmt.Errorf("unknown log level %q (TRACE, DEBUG, INFO, WARN, ERROR, FATAL)", s)
}
