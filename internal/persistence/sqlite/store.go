// Package sqlite is the durable store of railwars: tracked contracts, NFT
// records, boards, preferences, the job journal and the shared cache.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store serializes every statement over a single connection, so conditional
// writes behave as atomic claims.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tracked_contracts (
			chain_id INTEGER NOT NULL,
			contract_address TEXT NOT NULL,
			game_id TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (chain_id, contract_address)
		);`,
		`CREATE TABLE IF NOT EXISTS nft_records (
			game_id TEXT NOT NULL,
			token_id TEXT NOT NULL,
			owner TEXT NOT NULL,
			attributes TEXT NOT NULL DEFAULT '{}',
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (game_id, token_id)
		);`,
		`CREATE TABLE IF NOT EXISTS map_positions (
			game_id TEXT NOT NULL,
			color TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			map_item TEXT,
			map_item_variant TEXT,
			pre_placed TEXT,
			enemy_id TEXT,
			nft_token_id TEXT,
			is_revealed INTEGER NOT NULL DEFAULT 0,
			bridge_constructed_on INTEGER,
			rail_constructed_on INTEGER,
			checkpoint_passed INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (game_id, color, x, y)
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_map_positions_nft
			ON map_positions(game_id, color, nft_token_id) WHERE nft_token_id IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_map_positions_enemy ON map_positions(enemy_id) WHERE enemy_id IS NOT NULL;`,
		`CREATE TABLE IF NOT EXISTS enemies (
			id TEXT PRIMARY KEY,
			game_id TEXT NOT NULL,
			color TEXT NOT NULL,
			name TEXT NOT NULL,
			strength INTEGER NOT NULL,
			current_strength INTEGER NOT NULL,
			seed_x INTEGER NOT NULL,
			seed_y INTEGER NOT NULL,
			slots TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_enemies_board ON enemies(game_id, color);`,
		`CREATE TABLE IF NOT EXISTS rail_cursors (
			game_id TEXT NOT NULL,
			color TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			direction TEXT NOT NULL,
			last_advanced_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (game_id, color)
		);`,
		`CREATE TABLE IF NOT EXISTS game_preferences (
			key TEXT PRIMARY KEY,
			bool_value INTEGER,
			num_value REAL,
			str_value TEXT,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			stored_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at);`,
		`CREATE TABLE IF NOT EXISTS job_journal (
			id TEXT PRIMARY KEY,
			queue TEXT NOT NULL,
			key TEXT NOT NULL DEFAULT '',
			payload BLOB NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			enqueued_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_job_journal_queue ON job_journal(queue, enqueued_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Times are stored as unix nanoseconds; zero means unset.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

func nullNanos(v sql.NullInt64) *time.Time {
	if !v.Valid || v.Int64 == 0 {
		return nil
	}
	t := fromNanos(v.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
