package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"railwars.gg/internal/prefs"
)

func (s *Store) Preference(ctx context.Context, key string) (prefs.Preference, bool, error) {
	var (
		b   sql.NullInt64
		n   sql.NullFloat64
		str sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT bool_value, num_value, str_value FROM game_preferences WHERE key = ?`, key).Scan(&b, &n, &str)
	if errors.Is(err, sql.ErrNoRows) {
		return prefs.Preference{}, false, nil
	}
	if err != nil {
		return prefs.Preference{}, false, fmt.Errorf("get preference %s: %w", key, err)
	}
	p := prefs.Preference{Key: key}
	if b.Valid {
		v := b.Int64 != 0
		p.BoolValue = &v
	}
	if n.Valid {
		v := n.Float64
		p.NumValue = &v
	}
	if str.Valid {
		v := str.String
		p.StrValue = &v
	}
	return p, true, nil
}

func (s *Store) SavePreference(ctx context.Context, p prefs.Preference, at time.Time) error {
	var (
		b   sql.NullInt64
		n   sql.NullFloat64
		str sql.NullString
	)
	if p.BoolValue != nil {
		b.Valid = true
		if *p.BoolValue {
			b.Int64 = 1
		}
	}
	if p.NumValue != nil {
		n = sql.NullFloat64{Float64: *p.NumValue, Valid: true}
	}
	if p.StrValue != nil {
		str = sql.NullString{String: *p.StrValue, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO game_preferences (key, bool_value, num_value, str_value, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET
		   bool_value = excluded.bool_value,
		   num_value = excluded.num_value,
		   str_value = excluded.str_value,
		   updated_at = excluded.updated_at`,
		p.Key, b, n, str, toNanos(at))
	if err != nil {
		return fmt.Errorf("save preference %s: %w", p.Key, err)
	}
	return nil
}
