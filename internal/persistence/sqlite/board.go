package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"railwars.gg/internal/board"
)

const positionColumns = `game_id, color, x, y, map_item, map_item_variant, pre_placed, enemy_id,
	nft_token_id, is_revealed, bridge_constructed_on, rail_constructed_on, checkpoint_passed`

// claimWhere guards a conditional claim on an existing row.
const claimWhere = `COALESCE(map_positions.map_item, '') = ''
	AND COALESCE(map_positions.pre_placed, '') = ''
	AND map_positions.nft_token_id IS NULL
	AND map_positions.enemy_id IS NULL`

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(r scanner) (board.Position, error) {
	var (
		p                              board.Position
		item, variant, pre, enemy, tok sql.NullString
		revealed, passed               int
		bridgeOn, railOn               sql.NullInt64
	)
	if err := r.Scan(&p.GameID, &p.Color, &p.X, &p.Y, &item, &variant, &pre, &enemy, &tok,
		&revealed, &bridgeOn, &railOn, &passed); err != nil {
		return board.Position{}, err
	}
	p.MapItem = item.String
	p.MapItemVariant = variant.String
	p.PrePlaced = pre.String
	p.EnemyID = enemy.String
	p.NFTTokenID = tok.String
	p.IsRevealed = revealed != 0
	p.BridgeConstructedOn = nullNanos(bridgeOn)
	p.RailConstructedOn = nullNanos(railOn)
	p.CheckPointPassed = passed != 0
	return p, nil
}

func (s *Store) Positions(ctx context.Context, gameID, color string) ([]board.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM map_positions WHERE game_id = ? AND color = ? ORDER BY y, x`,
		gameID, color)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()
	var out []board.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) Position(ctx context.Context, k board.CellKey) (board.Position, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM map_positions WHERE game_id = ? AND color = ? AND x = ? AND y = ?`,
		k.GameID, k.Color, k.X, k.Y)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return board.Position{}, false, nil
	}
	if err != nil {
		return board.Position{}, false, fmt.Errorf("get position %s: %w", k, err)
	}
	return p, true, nil
}

// AssignContent overwrites map item and pre-placed together so the cell never
// holds both. A cell held by an enemy yields board.ErrCellOccupied.
func (s *Store) AssignContent(ctx context.Context, k board.CellKey, c board.Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO map_positions (game_id, color, x, y, map_item, map_item_variant, pre_placed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (game_id, color, x, y) DO UPDATE SET
		   map_item = excluded.map_item,
		   map_item_variant = excluded.map_item_variant,
		   pre_placed = excluded.pre_placed
		 WHERE map_positions.enemy_id IS NULL`,
		k.GameID, k.Color, k.X, k.Y, nullString(c.MapItem), nullString(c.MapItemVariant), nullString(c.PrePlaced))
	if err != nil {
		return err
	}
	return claimed(res)
}

func claimed(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return board.ErrCellOccupied
	}
	return nil
}

func (s *Store) PlaceNFT(ctx context.Context, k board.CellKey, tokenID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var enemy, tok sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT enemy_id, nft_token_id FROM map_positions WHERE game_id = ? AND color = ? AND x = ? AND y = ?`,
			k.GameID, k.Color, k.X, k.Y).Scan(&enemy, &tok)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		case enemy.Valid, tok.Valid && tok.String != tokenID:
			return board.ErrCellOccupied
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE map_positions SET nft_token_id = NULL
			  WHERE game_id = ? AND color = ? AND nft_token_id = ? AND NOT (x = ? AND y = ?)`,
			k.GameID, k.Color, tokenID, k.X, k.Y); err != nil {
			return fmt.Errorf("clear previous placement: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO map_positions (game_id, color, x, y, nft_token_id) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (game_id, color, x, y) DO UPDATE SET nft_token_id = excluded.nft_token_id`,
			k.GameID, k.Color, k.X, k.Y, tokenID)
		return err
	})
}

func (s *Store) MarkConstructed(ctx context.Context, k board.CellKey, what board.Construction, at time.Time) error {
	col := ""
	switch what {
	case board.ConstructRail:
		col = "rail_constructed_on"
	case board.ConstructBridge:
		col = "bridge_constructed_on"
	default:
		return fmt.Errorf("unknown construction %s", what)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO map_positions (game_id, color, x, y, `+col+`) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (game_id, color, x, y) DO UPDATE SET `+col+` = excluded.`+col,
		k.GameID, k.Color, k.X, k.Y, toNanos(at))
	return err
}

func claimCell(ctx context.Context, tx *sql.Tx, gameID, color string, x, y int, enemyID string) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO map_positions (game_id, color, x, y, enemy_id) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (game_id, color, x, y) DO UPDATE SET enemy_id = excluded.enemy_id
		 WHERE `+claimWhere,
		gameID, color, x, y, enemyID)
	if err != nil {
		return err
	}
	return claimed(res)
}

func encodeSlots(slots []board.Slot) string {
	parts := make([]string, len(slots))
	for i, s := range slots {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

func decodeSlots(raw string) []board.Slot {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]board.Slot, len(parts))
	for i, p := range parts {
		out[i] = board.Slot(p)
	}
	return out
}

func (s *Store) CreateEnemy(ctx context.Context, e board.Enemy) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := claimCell(ctx, tx, e.GameID, e.Color, e.SeedX, e.SeedY, e.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO enemies (id, game_id, color, name, strength, current_strength, seed_x, seed_y, slots)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.GameID, e.Color, e.Name, e.Strength, e.CurrentStrength, e.SeedX, e.SeedY, encodeSlots(e.Slots))
		return err
	})
}

const enemyColumns = `id, game_id, color, name, strength, current_strength, seed_x, seed_y, slots`

func scanEnemy(r scanner) (board.Enemy, error) {
	var (
		e     board.Enemy
		slots string
	)
	if err := r.Scan(&e.ID, &e.GameID, &e.Color, &e.Name, &e.Strength, &e.CurrentStrength, &e.SeedX, &e.SeedY, &slots); err != nil {
		return board.Enemy{}, err
	}
	e.Slots = decodeSlots(slots)
	return e, nil
}

func (s *Store) Enemy(ctx context.Context, id string) (board.Enemy, bool, error) {
	e, err := scanEnemy(s.db.QueryRowContext(ctx, `SELECT `+enemyColumns+` FROM enemies WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return board.Enemy{}, false, nil
	}
	if err != nil {
		return board.Enemy{}, false, fmt.Errorf("get enemy %s: %w", id, err)
	}
	return e, true, nil
}

func (s *Store) Enemies(ctx context.Context, gameID, color string) ([]board.Enemy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+enemyColumns+` FROM enemies WHERE game_id = ? AND color = ? ORDER BY id`, gameID, color)
	if err != nil {
		return nil, fmt.Errorf("list enemies: %w", err)
	}
	defer rows.Close()
	var out []board.Enemy
	for rows.Next() {
		e, err := scanEnemy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ExpandEnemy records slot sl on e. The slot list doubles as a version: if
// another expansion landed first, nothing is written.
func (s *Store) ExpandEnemy(ctx context.Context, e board.Enemy, sl board.Slot) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if x, y := e.Cell(sl); x != e.SeedX || y != e.SeedY {
			if err := claimCell(ctx, tx, e.GameID, e.Color, x, y, e.ID); err != nil {
				return err
			}
		}
		next := append(append([]board.Slot(nil), e.Slots...), sl)
		res, err := tx.ExecContext(ctx,
			`UPDATE enemies SET slots = ? WHERE id = ? AND slots = ?`,
			encodeSlots(next), e.ID, encodeSlots(e.Slots))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("enemy %s changed concurrently", e.ID)
		}
		return nil
	})
}

func (s *Store) SetEnemyStrength(ctx context.Context, id string, current int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE enemies SET current_strength = ? WHERE id = ?`, current, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", board.ErrEnemyNotFound, id)
	}
	return nil
}

func scanCursor(r scanner) (board.RailCursor, error) {
	var (
		c   board.RailCursor
		dir string
		at  int64
	)
	if err := r.Scan(&c.GameID, &c.Color, &c.X, &c.Y, &dir, &at); err != nil {
		return board.RailCursor{}, err
	}
	c.Direction = board.Direction(dir)
	c.LastAdvancedAt = fromNanos(at)
	return c, nil
}

func (s *Store) RailCursor(ctx context.Context, gameID, color string) (board.RailCursor, bool, error) {
	c, err := scanCursor(s.db.QueryRowContext(ctx,
		`SELECT game_id, color, x, y, direction, last_advanced_at FROM rail_cursors WHERE game_id = ? AND color = ?`,
		gameID, color))
	if errors.Is(err, sql.ErrNoRows) {
		return board.RailCursor{}, false, nil
	}
	if err != nil {
		return board.RailCursor{}, false, fmt.Errorf("get rail cursor %s/%s: %w", gameID, color, err)
	}
	return c, true, nil
}

func (s *Store) RailCursors(ctx context.Context) ([]board.RailCursor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT game_id, color, x, y, direction, last_advanced_at FROM rail_cursors ORDER BY game_id, color`)
	if err != nil {
		return nil, fmt.Errorf("list rail cursors: %w", err)
	}
	defer rows.Close()
	var out []board.RailCursor
	for rows.Next() {
		c, err := scanCursor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SaveRailCursor(ctx context.Context, c board.RailCursor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rail_cursors (game_id, color, x, y, direction, last_advanced_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (game_id, color) DO UPDATE SET
		   x = excluded.x, y = excluded.y, direction = excluded.direction, last_advanced_at = excluded.last_advanced_at`,
		c.GameID, c.Color, c.X, c.Y, string(c.Direction), toNanos(c.LastAdvancedAt))
	return err
}

func (s *Store) AdvanceRail(ctx context.Context, from, to board.RailCursor, reveal [][2]int, checkpoint bool) (int, error) {
	revealed := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE rail_cursors SET x = ?, y = ?, direction = ?, last_advanced_at = ?
			  WHERE game_id = ? AND color = ? AND x = ? AND y = ? AND last_advanced_at = ?`,
			to.X, to.Y, string(to.Direction), toNanos(to.LastAdvancedAt),
			from.GameID, from.Color, from.X, from.Y, toNanos(from.LastAdvancedAt))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return board.ErrCursorMoved
		}

		for _, c := range reveal {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO map_positions (game_id, color, x, y, is_revealed) VALUES (?, ?, ?, ?, 1)
				 ON CONFLICT (game_id, color, x, y) DO UPDATE SET is_revealed = 1
				 WHERE map_positions.is_revealed = 0`,
				to.GameID, to.Color, c[0], c[1])
			if err != nil {
				return fmt.Errorf("reveal (%d,%d): %w", c[0], c[1], err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			revealed += int(n)
		}

		if checkpoint {
			if _, err := tx.ExecContext(ctx,
				`UPDATE map_positions SET checkpoint_passed = 1 WHERE game_id = ? AND color = ? AND x = ? AND y = ?`,
				to.GameID, to.Color, to.X, to.Y); err != nil {
				return fmt.Errorf("mark checkpoint: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return revealed, nil
}
