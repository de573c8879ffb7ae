package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// componentKey is the attribute WithComponent binds.
const componentKey = "component"

// RecentCapacity is the size of the process-wide recent-records buffer.
const RecentCapacity = 2000

// AppLogEntry is one log record kept for the control API.
type AppLogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level"`
	Component string            `json:"component,omitempty"`
	Message   string            `json:"message"`
	Attrs     map[string]string `json:"attrs,omitempty"`

	level slog.Level
}

// LogQuery selects entries from a RingBuffer. Zero values match everything;
// Limit keeps the newest matches. MinLevel takes the names ParseLevel
// accepts; an unknown name is treated as info.
type LogQuery struct {
	Component string
	MinLevel  string
	Limit     int
}

// RingBuffer keeps the most recent log entries, overwriting the oldest.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []AppLogEntry
	next    int
	full    bool
}

// NewRingBuffer creates a buffer holding up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{entries: make([]AppLogEntry, size)}
}

// Add stores an entry.
func (rb *RingBuffer) Add(e AppLogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.entries[rb.next] = e
	rb.next = (rb.next + 1) % len(rb.entries)
	if rb.next == 0 {
		rb.full = true
	}
}

// Len returns the number of stored entries.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return len(rb.entries)
	}
	return rb.next
}

// Query returns matching entries oldest first.
func (rb *RingBuffer) Query(q LogQuery) []AppLogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	floor := slog.Level(-1 << 10)
	if q.MinLevel != "" {
		floor, _ = ParseLevel(q.MinLevel)
	}

	result := []AppLogEntry{}
	n := len(rb.entries)
	count := rb.next
	if rb.full {
		count = n
	}
	// Walk newest to oldest so Limit keeps the latest entries.
	for i := 0; i < count; i++ {
		e := rb.entries[(rb.next-1-i+n)%n]
		if q.Component != "" && e.Component != q.Component {
			continue
		}
		if e.level < floor {
			continue
		}
		result = append(result, e)
		if q.Limit > 0 && len(result) == q.Limit {
			break
		}
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

var (
	recentOnce sync.Once
	recent     *RingBuffer
)

// RecentLogs returns the process-wide recent-records buffer.
func RecentLogs() *RingBuffer {
	recentOnce.Do(func() { recent = NewRingBuffer(RecentCapacity) })
	return recent
}

// LevelName returns the lower-case name used in entries and queries.
func LevelName(level slog.Level) string {
	switch {
	case level < LevelInfo:
		return "debug"
	case level < LevelWarn:
		return "info"
	case level < LevelError:
		return "warn"
	default:
		return "error"
	}
}

// recordingHandler copies every record it passes on into a RingBuffer.
type recordingHandler struct {
	next   slog.Handler
	recent *RingBuffer
	attrs  []slog.Attr
}

func (h *recordingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.next.Handle(ctx, r)

	e := AppLogEntry{
		Timestamp: r.Time,
		Level:     LevelName(r.Level),
		Message:   r.Message,
		level:     r.Level,
	}
	collect := func(a slog.Attr) bool {
		if a.Key == componentKey {
			e.Component = strings.ToLower(a.Value.String())
			return true
		}
		if e.Attrs == nil {
			e.Attrs = make(map[string]string)
		}
		e.Attrs[a.Key] = a.Value.Resolve().String()
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)
	h.recent.Add(e)
	return err
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &recordingHandler{next: h.next.WithAttrs(attrs), recent: h.recent, attrs: merged}
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	return &recordingHandler{next: h.next.WithGroup(name), recent: h.recent, attrs: h.attrs}
}
