package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railwars.gg/internal/logging"
	"railwars.gg/internal/protocol"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, v))
}

func subscribe(t *testing.T, conn *websocket.Conn, prefixes ...string) protocol.WelcomeMsg {
	t.Helper()
	require.NoError(t, conn.WriteJSON(protocol.SubscribeMsg{
		Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, Prefixes: prefixes,
	}))
	var w protocol.WelcomeMsg
	readJSON(t, conn, &w)
	require.Equal(t, protocol.TypeWelcome, w.Type)
	return w
}

func TestSubscribeFiltersByPrefix(t *testing.T) {
	hub := NewHub(logging.Discard())
	srv := httptest.NewServer(NewServer(hub, logging.Discard()).Handler())
	defer srv.Close()

	conn := dial(t, srv)
	w := subscribe(t, conn, "RAIL_POSITION_CHANGED_G1")
	assert.NotEmpty(t, w.SessionID)
	assert.Equal(t, 1, hub.Clients())

	assert.Equal(t, 0, hub.Broadcast(protocol.MapPositionsUpdated("G1", "RED")))
	assert.Equal(t, 1, hub.Broadcast(protocol.RailPositionChanged("G1", "RED", 2, 3, "UP")))

	var ev protocol.EventMsg
	readJSON(t, conn, &ev)
	assert.Equal(t, protocol.TypeEvent, ev.Type)
	assert.Equal(t, "RAIL_POSITION_CHANGED_G1_RED", ev.Event)
	assert.Equal(t, float64(2), ev.Args["x"])
}

func TestEmptyPrefixesReceiveEverything(t *testing.T) {
	hub := NewHub(logging.Discard())
	srv := httptest.NewServer(NewServer(hub, logging.Discard()).Handler())
	defer srv.Close()

	conn := dial(t, srv)
	subscribe(t, conn)

	hub.Broadcast(protocol.MapPositionsUpdated("G2", "BLUE"))
	var ev protocol.EventMsg
	readJSON(t, conn, &ev)
	assert.Equal(t, "MAP_POSITIONS_UPDATED_G2_BLUE", ev.Event)
}

func TestBadHandshakeGetsError(t *testing.T) {
	hub := NewHub(logging.Discard())
	srv := httptest.NewServer(NewServer(hub, logging.Discard()).Handler())
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "HELLO", "protocol_version": protocol.Version}))

	var e protocol.ErrorMsg
	readJSON(t, conn, &e)
	assert.Equal(t, protocol.TypeError, e.Type)
	assert.Equal(t, protocol.ErrProtoBadRequest, e.Code)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	assert.Equal(t, 0, hub.Clients())
}

func TestSlowSessionDropsMessages(t *testing.T) {
	hub := NewHub(logging.Discard())
	c := hub.register("S1", nil, 1)

	assert.Equal(t, 1, hub.Broadcast(protocol.MapPositionsUpdated("G1", "RED")))
	assert.Equal(t, 0, hub.Broadcast(protocol.MapPositionsUpdated("G1", "RED")))
	assert.Equal(t, 0, hub.Broadcast(protocol.MapPositionsUpdated("G1", "RED")))

	sent, dropped := hub.Stats()
	assert.Equal(t, uint64(1), sent)
	assert.Equal(t, uint64(2), dropped)
	assert.Len(t, c.out, 1)

	hub.unregister("S1")
	assert.Equal(t, 0, hub.Clients())
}

func TestIdleSessionIsKeptAliveByPings(t *testing.T) {
	hub := NewHub(logging.Discard())
	srv := httptest.NewServer(NewServer(hub, logging.Discard(), WithPongWait(150*time.Millisecond)).Handler())
	defer srv.Close()

	conn := dial(t, srv)
	subscribe(t, conn)

	// Reading lets the client answer pings; it never sends anything itself.
	events := make(chan protocol.EventMsg, 1)
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev protocol.EventMsg
			if json.Unmarshal(b, &ev) == nil {
				events <- ev
			}
		}
	}()

	time.Sleep(600 * time.Millisecond)
	require.Equal(t, 1, hub.Clients(), "session outlived several pong waits")
	assert.Equal(t, 1, hub.Broadcast(protocol.MapPositionsUpdated("G1", "RED")))
	select {
	case ev := <-events:
		assert.Equal(t, "MAP_POSITIONS_UPDATED_G1_RED", ev.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSilentPeerIsDisconnected(t *testing.T) {
	hub := NewHub(logging.Discard())
	srv := httptest.NewServer(NewServer(hub, logging.Discard(), WithPongWait(100*time.Millisecond)).Handler())
	defer srv.Close()

	conn := dial(t, srv)
	subscribe(t, conn)
	require.Equal(t, 1, hub.Clients())

	// Without a read loop the client never answers pings.
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
