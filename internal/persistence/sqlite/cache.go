package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"railwars.gg/internal/cache"
)

// CacheStore shares cache entries between every process using the database.
type CacheStore struct {
	db *sql.DB
}

func (s *Store) CacheStore() *CacheStore { return &CacheStore{db: s.db} }

func (c *CacheStore) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	var (
		e                 cache.Entry
		stored, expiresAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT value, stored_at, expires_at FROM cache_entries WHERE key = ?`, key).Scan(&e.Value, &stored, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("get cache entry %s: %w", key, err)
	}
	e.StoredAt = fromNanos(stored)
	e.ExpiresAt = fromNanos(expiresAt)
	return e, true, nil
}

func (c *CacheStore) Set(ctx context.Context, key string, e cache.Entry) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, stored_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, stored_at = excluded.stored_at, expires_at = excluded.expires_at`,
		key, e.Value, toNanos(e.StoredAt), toNanos(e.ExpiresAt))
	return err
}

func (c *CacheStore) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

// Purge removes entries that expired before now.
func (c *CacheStore) Purge(ctx context.Context, now time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at < ?`, toNanos(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
