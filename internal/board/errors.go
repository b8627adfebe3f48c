package board

import (
	"errors"
	"fmt"

	"railwars.gg/internal/protocol"
)

// ErrCellOccupied is returned by a Store when a conditional claim finds the
// cell taken. The engine reports it as a CellConflictError.
var ErrCellOccupied = errors.New("cell occupied")

var (
	ErrOutOfBounds   = protocol.NewCodedError(protocol.ErrOutOfBounds, "cell outside the board")
	ErrEnemyNotFound = protocol.NewCodedError(protocol.ErrNotFound, "enemy not found")
	ErrNoRailCursor  = protocol.NewCodedError(protocol.ErrNotFound, "rail cursor not initialized")
	ErrCursorMoved   = errors.New("rail cursor changed concurrently")
)

// InvalidExpansionError rejects an expansion the enemy's current shape does
// not allow. Nothing was written.
type InvalidExpansionError struct {
	EnemyID string
	Slot    Slot
	Cells   int
	Reason  string
}

func (e *InvalidExpansionError) Error() string {
	return fmt.Sprintf("enemy %s (%d cells) cannot expand %s: %s", e.EnemyID, e.Cells, e.Slot, e.Reason)
}

// CellConflictError rejects a write to a cell already holding something
// incompatible.
type CellConflictError struct {
	Cell   CellKey
	Reason string
}

func (e *CellConflictError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("cell %s is occupied", e.Cell)
	}
	return fmt.Sprintf("cell %s is occupied: %s", e.Cell, e.Reason)
}

func (e *CellConflictError) Unwrap() error { return ErrCellOccupied }

func (e *InvalidExpansionError) ErrorCode() string { return protocol.ErrInvalidExpansion }
func (e *CellConflictError) ErrorCode() string     { return protocol.ErrCellConflict }

func IsInvalidExpansion(err error) bool {
	var ie *InvalidExpansionError
	return errors.As(err, &ie)
}

func IsCellConflict(err error) bool {
	var ce *CellConflictError
	return errors.As(err, &ce)
}
