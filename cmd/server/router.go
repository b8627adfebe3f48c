package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"railwars.gg/internal/board"
	"railwars.gg/internal/protocol"
	"railwars.gg/internal/transport/ws"
	"railwars.gg/internal/watcher"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type boardReader interface {
	Board(ctx context.Context, gameID, color string) ([]board.Position, error)
}

type watchStats interface {
	Stats() watcher.Stats
}

type routerDeps struct {
	store   pinger
	engine  boardReader
	watcher watchStats
	hub     *ws.Hub
	metrics *prometheus.Registry
	log     logrus.FieldLogger
}

func newRouter(d routerDeps) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(rw http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := d.store.Ping(ctx); err != nil {
			http.Error(rw, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = rw.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	if d.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.metrics, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// Board reads are served from the cache and may lag writes by the TTL.
	r.HandleFunc("/v1/boards/{game}/{color}", func(rw http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)
		ps, err := d.engine.Board(req.Context(), vars["game"], vars["color"])
		if err != nil {
			d.log.WithError(err).Warn("read board")
			writeError(rw, err)
			return
		}
		if ps == nil {
			ps = []board.Position{}
		}
		writeJSON(rw, http.StatusOK, map[string]any{"gameId": vars["game"], "color": vars["color"], "positions": ps})
	}).Methods(http.MethodGet)

	if d.watcher != nil {
		r.HandleFunc("/v1/status", func(rw http.ResponseWriter, _ *http.Request) {
			writeJSON(rw, http.StatusOK, map[string]any{"watcher": d.watcher.Stats()})
		}).Methods(http.MethodGet)
	}

	if d.hub != nil {
		r.Handle("/v1/ws", ws.NewServer(d.hub, d.log).Handler()).Methods(http.MethodGet)
	}
	return r
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

// writeError answers with the error's code. Internal failures keep their
// detail in the log.
func writeError(rw http.ResponseWriter, err error) {
	code := protocol.CodeOf(err)
	msg := err.Error()
	if code == protocol.ErrInternal {
		msg = "internal error"
	}
	writeJSON(rw, statusFor(code), protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         msg,
	})
}

func statusFor(code string) int {
	switch code {
	case protocol.ErrProtoBadRequest, protocol.ErrOutOfBounds:
		return http.StatusBadRequest
	case protocol.ErrUnauthorized:
		return http.StatusUnauthorized
	case protocol.ErrNotFound:
		return http.StatusNotFound
	case protocol.ErrCellConflict:
		return http.StatusConflict
	case protocol.ErrInvalidExpansion, protocol.ErrUnmatchedToken:
		return http.StatusUnprocessableEntity
	case protocol.ErrChainRead, protocol.ErrRelayUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
