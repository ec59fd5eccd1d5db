package logging

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
)

type handler struct {
	sink   *Sink
	prefix string
	group  string
}

// Handler adapts the sink to log/slog. Attributes are appended to the message
// as key=value pairs.
func (s *Sink) Handler() slog.Handler {
	return &handler{sink: s}
}

func (s *Sink) Logger() *slog.Logger {
	return slog.New(s.Handler())
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.sink.MinLevel()
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	if isEmpty(r.Message) {
		return h.sink.emit(r.Level, r.Message)
	}
	var b strings.Builder
	b.WriteString(r.Message)
	b.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.group, a)
		return true
	})
	return h.sink.emit(r.Level, b.String())
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		appendAttr(&b, h.group, a)
	}
	return &handler{sink: h.sink, prefix: b.String(), group: h.group}
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &handler{sink: h.sink, prefix: h.prefix, group: group}
}

func appendAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		if key == "" {
			key = group
		} else {
			key = group + "." + key
		}
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			appendAttr(b, key, ga)
		}
		return
	}
	val := a.Value.String()
	if val == "" || strings.ContainsAny(val, " \t\r\n\"=") {
		val = strconv.Quote(val)
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(val)
}
