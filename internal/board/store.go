package board

import (
	"context"
	"time"
)

// Store is the durable view of boards the engine needs. Claims are
// conditional writes: a taken cell yields ErrCellOccupied and no change.
type Store interface {
	Positions(ctx context.Context, gameID, color string) ([]Position, error)
	Position(ctx context.Context, key CellKey) (Position, bool, error)

	// AssignContent replaces the cell's map item or pre-placed piece. Cells
	// held by an enemy are not touched.
	AssignContent(ctx context.Context, key CellKey, c Content) error
	// PlaceNFT moves tokenID to key, clearing its previous cell on the same
	// board, in one transaction.
	PlaceNFT(ctx context.Context, key CellKey, tokenID string) error
	MarkConstructed(ctx context.Context, key CellKey, what Construction, at time.Time) error

	// CreateEnemy stores e and claims its seed cell.
	CreateEnemy(ctx context.Context, e Enemy) error
	Enemy(ctx context.Context, id string) (Enemy, bool, error)
	Enemies(ctx context.Context, gameID, color string) ([]Enemy, error)
	// ExpandEnemy claims the cell for slot s and records the slot. A slot
	// mapping onto the seed only records the slot.
	ExpandEnemy(ctx context.Context, e Enemy, s Slot) error
	SetEnemyStrength(ctx context.Context, id string, current int) error

	RailCursor(ctx context.Context, gameID, color string) (RailCursor, bool, error)
	RailCursors(ctx context.Context) ([]RailCursor, error)
	SaveRailCursor(ctx context.Context, c RailCursor) error
	// AdvanceRail moves the cursor from `from` to `to`, reveals cells and
	// marks a checkpoint passed, all at once. It returns how many cells were
	// newly revealed, or ErrCursorMoved when the stored cursor no longer
	// matches from.
	AdvanceRail(ctx context.Context, from, to RailCursor, reveal [][2]int, checkpoint bool) (int, error)
}
