// Package cache is a read-through cache with stale-while-revalidate
// semantics. Values are JSON encoded so any Store can hold them.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Entry is one stored value. Age is measured from StoredAt; ExpiresAt lets a
// shared store purge old rows on its own.
type Entry struct {
	Value     []byte
	StoredAt  time.Time
	ExpiresAt time.Time
}

type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
}

// LoaderError wraps a loader failure on a synchronous miss.
type LoaderError struct {
	Key string
	Err error
}

func (e *LoaderError) Error() string { return fmt.Sprintf("cache load %q: %v", e.Key, e.Err) }
func (e *LoaderError) Unwrap() error { return e.Err }

type Cache struct {
	store          Store
	now            func() time.Time
	log            logrus.FieldLogger
	refreshTimeout time.Duration

	group singleflight.Group

	mu         sync.Mutex
	refreshing map[string]bool
	// versions counts invalidations per key. A load that began under an
	// older version must not write its result back.
	versions map[string]uint64
	wg       sync.WaitGroup
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Cache) { c.log = l }
}

// WithRefreshTimeout bounds a background refresh (default 30s).
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Cache) { c.refreshTimeout = d }
}

func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:          store,
		now:            time.Now,
		log:            logrus.StandardLogger(),
		refreshTimeout: 30 * time.Second,
		refreshing:     map[string]bool{},
		versions:       map[string]uint64{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GetOrCompute returns the cached value for key, loading it on a miss or once
// it is older than ttl. Between ttl/2 and ttl the cached value is returned as
// is and a single background refresh is started.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var zero T
	now := c.now()

	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache read failed; loading")
		ok = false
	}
	if ok {
		var v T
		age := now.Sub(e.StoredAt)
		if uerr := json.Unmarshal(e.Value, &v); uerr != nil {
			c.log.WithError(uerr).WithField("key", key).Warn("cache entry unreadable; loading")
		} else if age < ttl {
			if age >= ttl/2 {
				c.refresh(ctx, key, ttl, func(ctx context.Context) (any, error) { return load(ctx) })
			}
			return v, nil
		}
	}

	// Callers arriving after an Invalidate start their own load instead of
	// joining one that may predate it.
	ver := c.version(key)
	res, err, _ := c.group.Do(fmt.Sprintf("%s#%d", key, ver), func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.put(ctx, key, ttl, v, ver)
		return v, nil
	})
	if err != nil {
		return zero, &LoaderError{Key: key, Err: err}
	}
	return res.(T), nil
}

func (c *Cache) refresh(ctx context.Context, key string, ttl time.Duration, load func(context.Context) (any, error)) {
	c.mu.Lock()
	if c.refreshing[key] {
		c.mu.Unlock()
		return
	}
	c.refreshing[key] = true
	ver := c.versions[key]
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, key)
			c.mu.Unlock()
		}()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()
		v, err := load(rctx)
		if err != nil {
			c.log.WithError(err).WithField("key", key).Warn("background refresh failed; keeping stale value")
			return
		}
		c.put(rctx, key, ttl, v, ver)
	}()
}

func (c *Cache) version(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[key]
}

// put stores v unless key was invalidated after the load that produced v
// started.
func (c *Cache) put(ctx context.Context, key string, ttl time.Duration, v any, ver uint64) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache encode failed")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[key] != ver {
		c.log.WithField("key", key).Debug("cache value invalidated while loading; not stored")
		return
	}
	now := c.now()
	if err := c.store.Set(ctx, key, Entry{Value: raw, StoredAt: now, ExpiresAt: now.Add(ttl)}); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache write failed")
	}
}

// Invalidate drops key so the next read loads synchronously. Loads of key
// already in progress still return to their callers but are not stored.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[key]++
	if err := c.store.Delete(ctx, key); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache invalidate failed")
	}
}

// Wait blocks until background refreshes started so far have finished.
func (c *Cache) Wait() { c.wg.Wait() }
