package events

import (
	"sync"
	"sync/atomic"

	"grimm.is/audiolink/internal/clock"
)

// stateTypes are the events that describe current state rather than a
// one-off occurrence. The hub keeps the latest of each so a subscriber that
// joins mid-session can catch up.
var stateTypes = map[EventType]bool{
	EventSnapshot:  true,
	EventSelection: true,
	EventMode:      true,
	EventStreaming: true,
	EventHubUp:     true,
	EventHubDown:   true,
	EventGain:      true,
}

// retainKey names the slot an event replaces. Hub up and down share one;
// per-role state keeps one slot per role.
func retainKey(e Event) string {
	switch d := e.Data.(type) {
	case SelectionData:
		return string(e.Type) + ":" + d.Role
	case ModeData:
		return string(e.Type) + ":" + d.Role
	}
	if e.Type == EventHubDown {
		return string(EventHubUp)
	}
	return string(e.Type)
}

type subscriber struct {
	ch    chan Event
	types map[EventType]bool // nil: everything
}

func (s *subscriber) wants(t EventType) bool {
	return s.types == nil || s.types[t]
}

// Hub fans events out to subscribers without ever blocking the publisher.
// A subscriber whose buffer is full misses the event.
type Hub struct {
	mu       sync.RWMutex
	subs     []*subscriber
	retained map[string]Event

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{retained: make(map[string]Event)}
}

// Publish stamps the event if needed and delivers it to every interested
// subscriber.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = clock.Now()
	}
	h.published.Add(1)

	h.mu.Lock()
	if stateTypes[e.Type] {
		h.retained[retainKey(e)] = e
	}
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Emit publishes an event built from its parts.
func (h *Hub) Emit(t EventType, source string, data any) {
	h.Publish(Event{Type: t, Source: source, Data: data})
}

// Subscribe returns a channel receiving events of the given types, or of
// every type when none are given. bufSize <= 0 selects 256. Drain the
// channel promptly; slow readers lose events.
func (h *Hub) Subscribe(bufSize int, types ...EventType) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}
	s := &subscriber{ch: make(chan Event, bufSize)}
	if len(types) > 0 {
		s.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}

	h.mu.Lock()
	h.subs = append(h.subs, s)
	h.mu.Unlock()
	return s.ch
}

// Unsubscribe stops delivery to ch. The channel is not closed.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.subs[:0]
	for _, s := range h.subs {
		if s.ch != ch {
			kept = append(kept, s)
		}
	}
	h.subs = kept
}

// State returns the latest retained state events, oldest first.
func (h *Hub) State() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, 0, len(h.retained))
	for _, e := range h.retained {
		out = append(out, e)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Timestamp.Before(out[j-1].Timestamp); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Stats returns publish and drop counts.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}
