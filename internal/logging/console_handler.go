package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProcessName is printed in front of every console line.
const ProcessName = "audiolink"

// ConsoleHandler writes one human-readable line per record:
//
//	<RFC3339 time> audiolink[pid]: [level] component: message key=value
type ConsoleHandler struct {
	opts      slog.HandlerOptions
	mu        *sync.Mutex
	out       io.Writer
	prefix    string
	component string
	attrs     []slog.Attr
}

// NewConsoleHandler creates a ConsoleHandler writing to out.
func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ConsoleHandler{
		opts:   *opts,
		mu:     &sync.Mutex{},
		out:    out,
		prefix: ProcessName + "[" + strconv.Itoa(os.Getpid()) + "]: ",
	}
}

// Enabled reports whether the handler is enabled for this level.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	floor := slog.LevelInfo
	if h.opts.Level != nil {
		floor = h.opts.Level.Level()
	}
	return level >= floor
}

// Handle formats and writes the record.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	component := h.component
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == componentKey {
			component = strings.ToLower(a.Value.String())
			return false
		}
		return true
	})

	buf := make([]byte, 0, 256)
	buf = t.AppendFormat(buf, time.RFC3339)
	buf = append(buf, ' ')
	buf = append(buf, h.prefix...)
	buf = append(buf, '[')
	buf = append(buf, LevelName(r.Level)...)
	buf = append(buf, "] "...)
	if component != "" {
		buf = append(buf, component...)
		buf = append(buf, ": "...)
	}
	buf = append(buf, r.Message...)

	for _, a := range h.attrs {
		buf = appendAttr(buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != componentKey {
			buf = appendAttr(buf, a)
		}
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf)
	return err
}

// appendAttr writes " key=value", quoting values that contain whitespace.
// Node descriptions such as "Built-in Audio Analog Stereo" hit this often.
func appendAttr(buf []byte, a slog.Attr) []byte {
	buf = append(buf, ' ')
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	val := a.Value.Resolve().String()
	if strings.ContainsAny(val, " \t\n\"") {
		return strconv.AppendQuote(buf, val)
	}
	return append(buf, val...)
}

// WithAttrs returns a handler that also prints attrs; a component attribute
// moves into the line header.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if a.Key == componentKey {
			next.component = strings.ToLower(a.Value.String())
			continue
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

// WithGroup returns h; console output is flat.
func (h *ConsoleHandler) WithGroup(string) slog.Handler {
	return h
}
