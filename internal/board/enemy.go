package board

import (
	"fmt"
	"strings"
)

// Slot is one expansion direction of an enemy footprint.
//
// The footprint is a 2x2 core anchored at the seed (the seed is the TopLeft
// slot) plus one lateral cell on each flank:
//
//	Left TopLeft    TopRight    Right
//	     BottomLeft BottomRight
type Slot string

const (
	TopLeft     Slot = "TOP_LEFT"
	TopRight    Slot = "TOP_RIGHT"
	BottomLeft  Slot = "BOTTOM_LEFT"
	BottomRight Slot = "BOTTOM_RIGHT"
	SlotLeft    Slot = "LEFT"
	SlotRight   Slot = "RIGHT"
)

// MaxEnemyCells bounds an enemy footprint.
const MaxEnemyCells = 6

var diagonals = []Slot{TopLeft, TopRight, BottomLeft, BottomRight}

func ParseSlot(s string) (Slot, error) {
	v := Slot(strings.ToUpper(strings.TrimSpace(s)))
	switch v {
	case TopLeft, TopRight, BottomLeft, BottomRight, SlotLeft, SlotRight:
		return v, nil
	}
	return "", fmt.Errorf("unknown expansion direction %q", s)
}

func (s Slot) offset() (dx, dy int) {
	switch s {
	case TopRight:
		return 1, 0
	case BottomLeft:
		return 0, 1
	case BottomRight:
		return 1, 1
	case SlotLeft:
		return -1, 0
	case SlotRight:
		return 2, 0
	}
	return 0, 0
}

func (e Enemy) has(s Slot) bool {
	for _, v := range e.Slots {
		if v == s {
			return true
		}
	}
	return false
}

// Cell returns the board coordinates slot s maps to for this enemy.
func (e Enemy) Cell(s Slot) (x, y int) {
	dx, dy := s.offset()
	return e.SeedX + dx, e.SeedY + dy
}

// Cells lists every occupied cell, seed first.
func (e Enemy) Cells() [][2]int {
	out := [][2]int{{e.SeedX, e.SeedY}}
	for _, s := range e.Slots {
		if s == TopLeft {
			continue
		}
		x, y := e.Cell(s)
		out = append(out, [2]int{x, y})
	}
	return out
}

// CellCount is the number of occupied cells (1..6).
func (e Enemy) CellCount() int { return len(e.Cells()) }

// crossComplete reports whether all four diagonal slots are present.
func (e Enemy) crossComplete() bool {
	for _, d := range diagonals {
		if !e.has(d) {
			return false
		}
	}
	return true
}

// CheckExpansion validates s against the current footprint only; it does not
// look at the board.
func (e Enemy) CheckExpansion(s Slot) error {
	reject := func(reason string) error {
		return &InvalidExpansionError{EnemyID: e.ID, Slot: s, Cells: e.CellCount(), Reason: reason}
	}
	if e.CellCount() >= MaxEnemyCells {
		return reject("enemy is fully grown")
	}
	if e.has(s) {
		return reject("slot already expanded")
	}
	switch s {
	case TopLeft, TopRight, BottomLeft, BottomRight:
		return nil
	case SlotLeft:
		if !e.crossComplete() {
			return reject("left flank needs the full cross")
		}
		return nil
	case SlotRight:
		if !e.crossComplete() {
			return reject("right flank needs the full cross")
		}
		return nil
	}
	return reject("unknown direction")
}
