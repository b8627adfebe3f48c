// Package relay is the HTTP side of the realtime process: engine instances
// POST notifications here and websocket sessions receive them.
package relay

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"railwars.gg/internal/protocol"
)

const maxBody = 64 * 1024

type Broadcaster interface {
	Broadcast(n protocol.Notification) int
}

// Recorder journals accepted notifications.
type Recorder interface {
	Record(n protocol.Notification) error
}

type Config struct {
	// Token, when set, must arrive as "Authorization: Bearer <token>".
	Token    string
	Hub      Broadcaster
	WS       http.Handler
	Recorder Recorder
	Logger   logrus.FieldLogger
}

type Server struct {
	cfg Config
	log logrus.FieldLogger

	accepted atomic.Uint64
	rejected atomic.Uint64
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Server{cfg: cfg, log: cfg.Logger}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/v1/relay", s.relay).Methods(http.MethodPost)
	if s.cfg.WS != nil {
		r.Handle("/v1/ws", s.cfg.WS).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) healthz(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = rw.Write([]byte("ok\n"))
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) == 1
}

func (s *Server) relay(rw http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.reject(rw, http.StatusUnauthorized, protocol.ErrUnauthorized, "missing or bad token")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxBody))
	if err != nil {
		s.reject(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, "read body: "+err.Error())
		return
	}
	if err := protocol.ValidateRelay(body); err != nil {
		s.reject(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	var req protocol.RelayRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.reject(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	n := protocol.Notification{Name: req.Event, Args: req.Args}

	if s.cfg.Recorder != nil {
		if err := s.cfg.Recorder.Record(n); err != nil {
			s.log.WithError(err).WithField("event", n.Name).Warn("journal notification")
		}
	}
	delivered := 0
	if s.cfg.Hub != nil {
		delivered = s.cfg.Hub.Broadcast(n)
	}
	s.accepted.Add(1)
	s.log.WithFields(logrus.Fields{"event": n.Name, "delivered": delivered}).Debug("notification relayed")

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(rw).Encode(map[string]int{"delivered": delivered})
}

func (s *Server) reject(rw http.ResponseWriter, status int, code, msg string) {
	s.rejected.Add(1)
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         msg,
	})
}

// Stats returns (notifications accepted, requests rejected).
func (s *Server) Stats() (accepted, rejected uint64) {
	return s.accepted.Load(), s.rejected.Load()
}
