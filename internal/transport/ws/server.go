package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"railwars.gg/internal/protocol"
)

const (
	defaultQueue = 64
	maxQueue     = 1024

	defaultPongWait = 60 * time.Second
	writeWait       = 5 * time.Second
)

type Server struct {
	hub *Hub
	log logrus.FieldLogger

	// A session that sends nothing, not even a pong, for pongWait is closed.
	// Pings go out every pingPeriod.
	pongWait   time.Duration
	pingPeriod time.Duration

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

type Option func(*Server)

// WithPongWait sets how long a silent session survives. Pings are sent at
// 9/10 of it.
func WithPongWait(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pongWait = d
		}
	}
}

func NewServer(hub *Hub, logger logrus.FieldLogger, opts ...Option) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		hub:      hub,
		log:      logger,
		pongWait: defaultPongWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.pingPeriod = s.pongWait * 9 / 10
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := s.handshake(conn)
		if c == nil {
			return
		}
		defer s.hub.unregister(c.id)
		log := s.log.WithField("session_id", c.id)
		log.Debug("websocket session started")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine. It owns every write after the handshake, pings
		// included.
		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			ping := time.NewTicker(s.pingPeriod)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				case <-ping.C:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.pongWait))
		})

		// Reader loop: a later SUBSCRIBE replaces the prefixes.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, err := decodeSubscribe(msg)
			if err != nil {
				continue
			}
			c.setPrefixes(sub.Prefixes)
		}

		cancel()
		select {
		case <-writeDone:
		case <-time.After(500 * time.Millisecond):
		}
		log.Debug("websocket session ended")
	}
}

func decodeSubscribe(msg []byte) (protocol.SubscribeMsg, error) {
	var sub protocol.SubscribeMsg
	if err := protocol.ValidateSubscribe(msg); err != nil {
		return sub, err
	}
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, err
	}
	if sub.ProtocolVersion != protocol.Version {
		return sub, fmt.Errorf("bad protocol_version %q", sub.ProtocolVersion)
	}
	ps := sub.Prefixes[:0]
	for _, p := range sub.Prefixes {
		if p = strings.TrimSpace(p); p != "" {
			ps = append(ps, p)
		}
	}
	sub.Prefixes = ps
	return sub, nil
}

func (s *Server) handshake(conn *websocket.Conn) *client {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	sub, err := decodeSubscribe(msg)
	if err != nil {
		_ = writeJSON(conn, protocol.ErrorMsg{
			Type:            protocol.TypeError,
			ProtocolVersion: protocol.Version,
			Code:            protocol.ErrProtoBadRequest,
			Message:         err.Error(),
		})
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
		return nil
	}

	q := sub.MaxQueue
	if q <= 0 {
		q = defaultQueue
	}
	if q > maxQueue {
		q = maxQueue
	}
	id := fmt.Sprintf("S%d", s.nextID.Add(1))
	c := s.hub.register(id, sub.Prefixes, q)

	if err := writeJSON(conn, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       id,
	}); err != nil {
		s.hub.unregister(id)
		return nil
	}
	return c
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
