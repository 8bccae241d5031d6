// Package logging builds the slog loggers used across gatekeep. By default
// everything is discarded; with --verbose a Ring keeps the most recent records
// so the terminal can show them in its debug panel.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Ring is a slog.Handler that keeps the last N formatted records in memory.
type Ring struct {
	state *ringState
	attrs []slog.Attr
	group string
	level slog.Level
}

type ringState struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewRing returns a handler retaining up to size records at or above level.
func NewRing(size int, level slog.Level) *Ring {
	if size <= 0 {
		size = 1
	}
	return &Ring{
		state: &ringState{lines: make([]string, size)},
		level: level,
	}
}

func (r *Ring) Enabled(_ context.Context, level slog.Level) bool {
	return level >= r.level
}

func (r *Ring) Handle(_ context.Context, rec slog.Record) error {
	var b strings.Builder
	b.WriteString(rec.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(rec.Level.String())
	b.WriteByte(' ')
	b.WriteString(rec.Message)
	for _, a := range r.attrs {
		writeAttr(&b, "", a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, r.group, a)
		return true
	})

	s := r.state
	s.mu.Lock()
	s.lines[s.next] = b.String()
	s.next = (s.next + 1) % len(s.lines)
	if s.next == 0 {
		s.full = true
	}
	s.mu.Unlock()
	return nil
}

func (r *Ring) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *r
	clone.attrs = append([]slog.Attr(nil), r.attrs...)
	for _, a := range attrs {
		if r.group != "" {
			a.Key = r.group + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (r *Ring) WithGroup(name string) slog.Handler {
	clone := *r
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

// Lines returns the retained records, oldest first.
func (r *Ring) Lines() []string {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.full {
		return append([]string(nil), s.lines[:s.next]...)
	}
	out := make([]string, 0, len(s.lines))
	out = append(out, s.lines[s.next:]...)
	out = append(out, s.lines[:s.next]...)
	return out
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	val := a.Value.Resolve()
	var s string
	switch val.Kind() {
	case slog.KindDuration:
		s = val.Duration().Round(time.Millisecond).String()
	default:
		s = val.String()
	}
	if len(s) > 80 {
		cut := 77
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	fmt.Fprintf(b, " %s=%q", key, s)
}

// Debug returns a logger and its ring when verbose is set, or a discarding
// logger and nil otherwise.
func Debug(verbose bool, lines int) (*slog.Logger, *Ring) {
	if !verbose {
		return Nop(), nil
	}
	ring := NewRing(lines, slog.LevelDebug)
	return slog.New(ring), ring
}
