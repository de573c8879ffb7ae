// Package events is the in-process pub/sub bus for audiolink. Engine state
// changes and routing actions flow through it to the control API's
// websocket clients.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// Topology
	EventSnapshot EventType = "graph.snapshot"

	// Routing actions
	EventLinked     EventType = "route.linked"
	EventUnlinked   EventType = "route.unlinked"
	EventLinkFailed EventType = "route.failed"

	// Routing state
	EventSelection EventType = "state.selection"
	EventMode      EventType = "state.mode"
	EventStreaming EventType = "state.streaming"

	// Routing hub and gain
	EventHubUp   EventType = "hub.up"
	EventHubDown EventType = "hub.down"
	EventGain    EventType = "hub.gain"

	// Poll or apply failure not tied to one action
	EventError EventType = "engine.error"
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"` // emitting component: "engine", "api", ...
	Data      interface{} `json:"data"`
}

// SnapshotData summarizes one poll.
type SnapshotData struct {
	Nodes   int    `json:"nodes"`
	Links   int    `json:"links"`
	Sources int    `json:"sources"`
	Targets int    `json:"targets"`
	Actions int    `json:"actions"`
	Status  string `json:"status"`
}

// RouteData is the payload for link, unlink and failed-action events.
type RouteData struct {
	Op     string `json:"op"`
	Source string `json:"source"`
	Target string `json:"target"`
	Error  string `json:"error,omitempty"`
}

// SelectionData is the payload for EventSelection.
type SelectionData struct {
	Role string   `json:"role"`
	Keys []string `json:"keys"`
}

// ModeData is the payload for EventMode.
type ModeData struct {
	Role string `json:"role"`
	Auto bool   `json:"auto"`
}

// StreamingData is the payload for EventStreaming.
type StreamingData struct {
	Active bool `json:"active"`
}

// HubData is the payload for hub lifecycle events.
type HubData struct {
	Sink         string `json:"sink"`
	Source       string `json:"source"`
	SinkModule   int    `json:"sink_module,omitempty"`
	SourceModule int    `json:"source_module,omitempty"`
}

// GainData is the payload for EventGain.
type GainData struct {
	DB float64 `json:"db"`
}

// ErrorData is the payload for EventError.
type ErrorData struct {
	Stage   string `json:"stage"` // "poll", "apply", "hub", ...
	Message string `json:"message"`
}
