package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/audiolink/internal/events"
	"grimm.is/audiolink/internal/logging"
)

const (
	// Messages queued per client; beyond this the client misses events.
	clientQueue = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	maxControlMessage = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     allowedOrigin,
}

// allowedOrigin accepts non-browser clients, loopback pages and pages served
// from the API's own host.
func allowedOrigin(r *http.Request) bool {
	raw := r.Header.Get("Origin")
	if raw == "" {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return u.Host == r.Host
}

// StreamMessage is one frame sent to a client. Topic is the event type.
type StreamMessage struct {
	Topic string       `json:"topic"`
	Event events.Event `json:"event"`
}

// controlMessage is what clients send to narrow their feed. Patterns are
// event types, or a prefix ending in ".*" such as "route.*".
type controlMessage struct {
	Subscribe   []string `json:"subscribe,omitempty"`
	Unsubscribe []string `json:"unsubscribe,omitempty"`
}

type streamClient struct {
	conn  *websocket.Conn
	queue chan []byte

	mu       sync.Mutex
	patterns map[string]bool // empty: every topic
}

func (c *streamClient) wants(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.patterns) == 0 || c.patterns[topic] {
		return true
	}
	for p := range c.patterns {
		if prefix, ok := strings.CutSuffix(p, "*"); ok && strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

func (c *streamClient) apply(msg controlMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range msg.Subscribe {
		c.patterns[p] = true
	}
	for _, p := range msg.Unsubscribe {
		delete(c.patterns, p)
	}
}

// EventStream forwards bus events to websocket clients.
type EventStream struct {
	bus    *events.Hub
	feed   <-chan events.Event
	logger *logging.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
	stop    chan struct{}
}

// NewEventStream subscribes to bus and starts forwarding.
func NewEventStream(bus *events.Hub, logger *logging.Logger) *EventStream {
	es := &EventStream{
		bus:     bus,
		feed:    bus.Subscribe(256),
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
		stop:    make(chan struct{}),
	}
	go es.forward()
	return es
}

func (es *EventStream) forward() {
	for {
		select {
		case <-es.stop:
			return
		case evt := <-es.feed:
			es.broadcast(evt)
		}
	}
}

func encodeEvent(evt events.Event) ([]byte, error) {
	return json.Marshal(StreamMessage{Topic: string(evt.Type), Event: evt})
}

func (es *EventStream) broadcast(evt events.Event) {
	frame, err := encodeEvent(evt)
	if err != nil {
		es.logger.Warn("event not encodable", "type", evt.Type, "error", err)
		return
	}
	topic := string(evt.Type)

	es.mu.Lock()
	defer es.mu.Unlock()
	for c := range es.clients {
		if !c.wants(topic) {
			continue
		}
		select {
		case c.queue <- frame:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (es *EventStream) Clients() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return len(es.clients)
}

// Close stops forwarding and disconnects every client. It is safe to call
// more than once.
func (es *EventStream) Close() {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.closed {
		return
	}
	es.closed = true
	close(es.stop)
	es.bus.Unsubscribe(es.feed)
	for c := range es.clients {
		delete(es.clients, c)
		close(c.queue)
	}
}

// attach adds c and queues the bus's retained state so a client that
// connects mid-session starts from the current picture.
func (es *EventStream) attach(c *streamClient) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.closed {
		return false
	}
	for _, evt := range es.bus.State() {
		frame, err := encodeEvent(evt)
		if err != nil {
			continue
		}
		select {
		case c.queue <- frame:
		default:
		}
	}
	es.clients[c] = struct{}{}
	return true
}

func (es *EventStream) detach(c *streamClient) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if _, ok := es.clients[c]; ok {
		delete(es.clients, c)
		close(c.queue)
	}
}

// readLoop applies control messages until the connection fails.
func (es *EventStream) readLoop(c *streamClient) {
	defer es.detach(c)

	c.conn.SetReadLimit(maxControlMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMessage
		if json.Unmarshal(raw, &msg) == nil {
			c.apply(msg)
		}
	}
}

// writeLoop drains the queue and keeps the connection alive with pings.
func (es *EventStream) writeLoop(c *streamClient) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.queue:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleEventsWS upgrades the connection and streams engine events.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		WriteError(w, http.StatusServiceUnavailable, "event stream not enabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &streamClient{
		conn:     conn,
		queue:    make(chan []byte, clientQueue),
		patterns: make(map[string]bool),
	}
	if !s.stream.attach(c) {
		conn.Close()
		return
	}
	go s.stream.writeLoop(c)
	go s.stream.readLoop(c)
}
