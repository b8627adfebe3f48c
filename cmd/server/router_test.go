package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railwars.gg/internal/board"
	"railwars.gg/internal/jobs"
	"railwars.gg/internal/logging"
	"railwars.gg/internal/protocol"
	"railwars.gg/internal/watcher"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeBoards struct {
	calls []string
	err   error
}

func (b *fakeBoards) Board(_ context.Context, gameID, color string) ([]board.Position, error) {
	b.calls = append(b.calls, gameID+"/"+color)
	if b.err != nil {
		return nil, b.err
	}
	return []board.Position{{GameID: gameID, Color: color, X: 1, Y: 2, PrePlaced: "RAIL_1"}}, nil
}

type fakeStats struct{}

func (fakeStats) Stats() watcher.Stats { return watcher.Stats{Subscriptions: 2} }

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	jobs.NewMetrics(reg)
	boards := &fakeBoards{}
	srv := httptest.NewServer(newRouter(routerDeps{
		store: fakePinger{}, engine: boards, watcher: fakeStats{}, metrics: reg, log: logging.Discard(),
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/boards/G1/RED")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Positions []board.Position `json:"positions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Positions, 1)
	assert.Equal(t, "RAIL_1", body.Positions[0].PrePlaced)
	assert.Equal(t, []string{"G1/RED"}, boards.calls)

	for _, path := range []string{"/healthz", "/metrics", "/v1/status"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err = http.Get(srv.URL + "/v1/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no hub when a relay is configured")
}

func TestHealthzReportsStoreFailure(t *testing.T) {
	srv := httptest.NewServer(newRouter(routerDeps{store: fakePinger{err: errors.New("locked")}, engine: &fakeBoards{}, log: logging.Discard()}))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestBoardErrorsCarryCodes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"conflict", &board.CellConflictError{Cell: board.CellKey{GameID: "G1", Color: "RED", X: 1, Y: 1}}, http.StatusConflict, protocol.ErrCellConflict},
		{"bounds", fmt.Errorf("cell: %w", board.ErrOutOfBounds), http.StatusBadRequest, protocol.ErrOutOfBounds},
		{"missing", fmt.Errorf("%w: e1", board.ErrEnemyNotFound), http.StatusNotFound, protocol.ErrNotFound},
		{"store", errors.New("database is locked"), http.StatusInternalServerError, protocol.ErrInternal},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(newRouter(routerDeps{store: fakePinger{}, engine: &fakeBoards{err: c.err}, log: logging.Discard()}))
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/v1/boards/G1/RED")
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, c.status, resp.StatusCode)
			var msg protocol.ErrorMsg
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
			assert.Equal(t, protocol.TypeError, msg.Type)
			assert.Equal(t, c.code, msg.Code)
			assert.NotContains(t, msg.Message, "database is locked")
		})
	}
}
