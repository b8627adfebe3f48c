// Package prefs stores game-wide preferences and announces changes.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"railwars.gg/internal/bridge"
	"railwars.gg/internal/cache"
	"railwars.gg/internal/protocol"
)

// Preference holds exactly one typed value.
type Preference struct {
	Key       string   `json:"key"`
	BoolValue *bool    `json:"boolValue,omitempty"`
	NumValue  *float64 `json:"numValue,omitempty"`
	StrValue  *string  `json:"strValue,omitempty"`
}

func (p Preference) Validate() error {
	if strings.TrimSpace(p.Key) == "" {
		return fmt.Errorf("preference key is required")
	}
	n := 0
	if p.BoolValue != nil {
		n++
	}
	if p.NumValue != nil {
		n++
	}
	if p.StrValue != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("preference %s: exactly one value must be set (got %d)", p.Key, n)
	}
	return nil
}

var ErrNotFound = errors.New("preference not found")

type Store interface {
	Preference(ctx context.Context, key string) (Preference, bool, error)
	SavePreference(ctx context.Context, p Preference, at time.Time) error
}

type Service struct {
	store    Store
	notifier bridge.Notifier
	cache    *cache.Cache
	ttl      time.Duration
	log      logrus.FieldLogger
}

// New builds a Service; c may be nil to read through to the store.
func New(store Store, notifier bridge.Notifier, c *cache.Cache, ttl time.Duration, log logrus.FieldLogger) *Service {
	if notifier == nil {
		notifier = bridge.Nop{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{store: store, notifier: notifier, cache: c, ttl: ttl, log: log}
}

func cacheKey(key string) string { return "pref:" + key }

func (s *Service) Set(ctx context.Context, p Preference) error {
	p.Key = strings.TrimSpace(p.Key)
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.store.SavePreference(ctx, p, time.Now().UTC()); err != nil {
		return fmt.Errorf("save preference %s: %w", p.Key, err)
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, cacheKey(p.Key))
	}
	bridge.Send(ctx, s.notifier, s.log, protocol.GamePreferenceUpdated(p.Key, p.BoolValue, p.NumValue, p.StrValue))
	return nil
}

// Get returns key's preference; ErrNotFound when unset.
func (s *Service) Get(ctx context.Context, key string) (Preference, error) {
	key = strings.TrimSpace(key)
	load := func(ctx context.Context) (Preference, error) {
		p, ok, err := s.store.Preference(ctx, key)
		if err != nil {
			return Preference{}, err
		}
		if !ok {
			return Preference{}, ErrNotFound
		}
		return p, nil
	}
	if s.cache == nil {
		return load(ctx)
	}
	return cache.GetOrCompute(ctx, s.cache, cacheKey(key), s.ttl, load)
}
