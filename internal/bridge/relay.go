package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"railwars.gg/internal/protocol"
)

// RelayUnavailableError reports a relay call that did not answer 201.
type RelayUnavailableError struct {
	Event  string
	Status int
	Err    error
}

func (e *RelayUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("relay %s: %v", e.Event, e.Err)
	}
	return fmt.Sprintf("relay %s: status %d", e.Event, e.Status)
}

func (e *RelayUnavailableError) Unwrap() error { return e.Err }

func (e *RelayUnavailableError) ErrorCode() string { return protocol.ErrRelayUnavailable }

type HTTPRelayConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
	Logger  logrus.FieldLogger
	Client  *http.Client
}

// HTTPRelay posts notifications to the realtime process.
type HTTPRelay struct {
	url    string
	token  string
	client *http.Client
	log    logrus.FieldLogger

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewHTTPRelay(cfg HTTPRelayConfig) (*HTTPRelay, error) {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, fmt.Errorf("empty relay url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HTTPRelay{url: u, token: strings.TrimSpace(cfg.Token), client: client, log: log}, nil
}

func (r *HTTPRelay) Notify(ctx context.Context, n protocol.Notification) error {
	err := r.post(ctx, n)
	if err != nil {
		r.dropped.Add(1)
		return err
	}
	r.sent.Add(1)
	r.log.WithField("event", n.Name).Debug("notification relayed")
	return nil
}

func (r *HTTPRelay) post(ctx context.Context, n protocol.Notification) error {
	args := n.Args
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(protocol.RelayRequest{Event: n.Name, Args: args})
	if err != nil {
		return &RelayUnavailableError{Event: n.Name, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return &RelayUnavailableError{Event: n.Name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return &RelayUnavailableError{Event: n.Name, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode != http.StatusCreated {
		return &RelayUnavailableError{Event: n.Name, Status: resp.StatusCode}
	}
	return nil
}

// Stats returns (sent, dropped) counts.
func (r *HTTPRelay) Stats() (sent, dropped uint64) {
	return r.sent.Load(), r.dropped.Load()
}
