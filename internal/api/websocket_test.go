package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/audiolink/internal/events"
	"grimm.is/audiolink/internal/logging"
)

func newWSServer(t *testing.T, bus *events.Hub) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := NewServer(ServerOptions{
		Controller: &mockController{},
		Events:     bus,
		Logger:     logging.New(logging.DefaultConfig()),
	})
	require.NoError(t, err)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		srv.stream.Close()
	})
	return srv, hs
}

func dialWS(t *testing.T, hs *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEventsWS_DeliversPublishedEvents(t *testing.T) {
	bus := events.NewHub()
	srv, hs := newWSServer(t, bus)
	conn := dialWS(t, hs)

	require.Eventually(t, func() bool { return srv.stream.Clients() == 1 }, time.Second, 10*time.Millisecond)

	bus.Emit(events.EventLinked, "engine", events.RouteData{Op: "link", Source: "Firefox", Target: "speakers"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg StreamMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, string(events.EventLinked), msg.Topic)
	assert.Equal(t, "engine", msg.Event.Source)
}

func TestEventsWS_ReplaysStateOnConnect(t *testing.T) {
	bus := events.NewHub()
	bus.Emit(events.EventLinked, "engine", events.RouteData{Op: "link"})
	bus.Emit(events.EventStreaming, "api", events.StreamingData{Active: true})

	_, hs := newWSServer(t, bus)
	conn := dialWS(t, hs)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Topic string `json:"topic"`
		Event struct {
			Data events.StreamingData `json:"data"`
		} `json:"event"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, string(events.EventStreaming), msg.Topic, "one-off events are not replayed")
	assert.True(t, msg.Event.Data.Active)
}

func TestEventsWS_DisabledWithoutBus(t *testing.T) {
	srv, err := NewServer(ServerOptions{Controller: &mockController{}})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestEventsWS_CloseDisconnectsClients(t *testing.T) {
	bus := events.NewHub()
	srv, hs := newWSServer(t, bus)
	conn := dialWS(t, hs)

	require.Eventually(t, func() bool { return srv.stream.Clients() == 1 }, time.Second, 10*time.Millisecond)
	srv.stream.Close()
	assert.Equal(t, 0, srv.stream.Clients())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestEventsWS_SubscribeFilters(t *testing.T) {
	bus := events.NewHub()
	srv, hs := newWSServer(t, bus)
	conn := dialWS(t, hs)
	require.Eventually(t, func() bool { return srv.stream.Clients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(controlMessage{Subscribe: []string{"hub.*"}}))
	require.Eventually(t, func() bool {
		srv.stream.mu.Lock()
		defer srv.stream.mu.Unlock()
		for c := range srv.stream.clients {
			return !c.wants("route.linked")
		}
		return false
	}, time.Second, 10*time.Millisecond)

	bus.Emit(events.EventLinked, "engine", events.RouteData{Op: "link"})
	bus.Emit(events.EventGain, "api", events.GainData{DB: 3})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(events.EventGain), msg.Topic)
}

func TestStreamClient_Patterns(t *testing.T) {
	c := &streamClient{patterns: make(map[string]bool)}
	assert.True(t, c.wants("route.linked"), "no patterns receives everything")

	c.apply(controlMessage{Subscribe: []string{"hub.gain", "route.*"}})
	assert.True(t, c.wants("hub.gain"))
	assert.True(t, c.wants("route.failed"))
	assert.False(t, c.wants("hub.up"))

	c.apply(controlMessage{Unsubscribe: []string{"route.*"}})
	assert.False(t, c.wants("route.failed"))
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "127.0.0.1:7531", true},
		{"http://127.0.0.1:3000", "127.0.0.1:7531", true},
		{"http://localhost:5173", "127.0.0.1:7531", true},
		{"http://[::1]:8080", "127.0.0.1:7531", true},
		{"http://box.lan:7531", "box.lan:7531", true},
		{"https://evil.example", "127.0.0.1:7531", false},
		{"http://localhost.evil.example:80", "127.0.0.1:7531", false},
		{"file://", "127.0.0.1:7531", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
		r.Host = tt.host
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, allowedOrigin(r), tt.origin)
	}
}
