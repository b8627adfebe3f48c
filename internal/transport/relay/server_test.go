package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railwars.gg/internal/bridge"
	"railwars.gg/internal/logging"
	"railwars.gg/internal/protocol"
)

type captured struct {
	mu  sync.Mutex
	got []protocol.Notification
}

func (c *captured) Broadcast(n protocol.Notification) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	return 1
}

func (c *captured) Record(n protocol.Notification) error { return nil }

func post(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/v1/relay", strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestRelayAcceptsValidNotification(t *testing.T) {
	hub := &captured{}
	srv := httptest.NewServer(NewServer(Config{Token: "s3cret", Hub: hub, Recorder: hub, Logger: logging.Discard()}).Router())
	defer srv.Close()

	resp := post(t, srv.URL, "s3cret", `{"event":"MAP_POSITIONS_UPDATED_G1_RED","args":{"gameId":"G1","color":"RED"}}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, hub.got, 1)
	assert.Equal(t, "MAP_POSITIONS_UPDATED_G1_RED", hub.got[0].Name)
	assert.Equal(t, "RED", hub.got[0].Args["color"])
}

func TestRelayRejects(t *testing.T) {
	hub := &captured{}
	s := NewServer(Config{Token: "s3cret", Hub: hub, Logger: logging.Discard()})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	cases := []struct {
		name   string
		token  string
		body   string
		status int
		code   string
	}{
		{"no token", "", `{"event":"X","args":{}}`, http.StatusUnauthorized, protocol.ErrUnauthorized},
		{"wrong token", "nope", `{"event":"X","args":{}}`, http.StatusUnauthorized, protocol.ErrUnauthorized},
		{"not json", "s3cret", `{`, http.StatusBadRequest, protocol.ErrProtoBadRequest},
		{"missing args", "s3cret", `{"event":"X"}`, http.StatusBadRequest, protocol.ErrProtoBadRequest},
		{"extra field", "s3cret", `{"event":"X","args":{},"to":"0x1"}`, http.StatusBadRequest, protocol.ErrProtoBadRequest},
		{"lowercase event", "s3cret", `{"event":"map","args":{}}`, http.StatusBadRequest, protocol.ErrProtoBadRequest},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			resp := post(t, srv.URL, c.token, c.body)
			assert.Equal(t, c.status, resp.StatusCode)
			var e protocol.ErrorMsg
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
			assert.Equal(t, c.code, e.Code)
		})
	}
	assert.Empty(t, hub.got)
	_, rejected := s.Stats()
	assert.Equal(t, uint64(len(cases)), rejected)
}

func TestHTTPRelayRoundTrip(t *testing.T) {
	hub := &captured{}
	srv := httptest.NewServer(NewServer(Config{Token: "t", Hub: hub, Logger: logging.Discard()}).Router())
	defer srv.Close()

	r, err := bridge.NewHTTPRelay(bridge.HTTPRelayConfig{URL: srv.URL + "/v1/relay", Token: "t", Timeout: time.Second, Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, r.Notify(context.Background(), protocol.RailPositionChanged("G1", "RED", 4, 5, "DOWN")))
	require.Len(t, hub.got, 1)
	assert.Equal(t, "RAIL_POSITION_CHANGED_G1_RED", hub.got[0].Name)
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(NewServer(Config{Logger: logging.Discard()}).Router())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
