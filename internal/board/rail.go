package board

import "time"

type grid map[[2]int]Position

func newGrid(ps []Position) grid {
	g := make(grid, len(ps))
	for _, p := range ps {
		g[[2]int{p.X, p.Y}] = p
	}
	return g
}

// railPath evaluates cursor movement over one board snapshot. blocking lists
// enemies that still stop the train.
type railPath struct {
	cells    grid
	blocking map[string]bool
}

func (r railPath) open(x, y int) bool {
	if !InBounds(x, y) {
		return false
	}
	p, ok := r.cells[[2]int{x, y}]
	if !ok || !p.IsRail() {
		return false
	}
	if p.EnemyID != "" && r.blocking[p.EnemyID] {
		return false
	}
	if p.MapItem == ItemRiver && p.BridgeConstructedOn == nil {
		return false
	}
	return true
}

// next returns where the cursor goes from c. Straight ahead wins; at the end
// of a straight run the cursor turns only when exactly one side is open.
func (r railPath) next(c RailCursor) (x, y int, dir Direction, ok bool) {
	dx, dy := c.Direction.delta()
	if r.open(c.X+dx, c.Y+dy) {
		return c.X + dx, c.Y + dy, c.Direction, true
	}
	var (
		found bool
		fx    int
		fy    int
		fd    Direction
	)
	for _, t := range c.Direction.turns() {
		tx, ty := t.delta()
		if !r.open(c.X+tx, c.Y+ty) {
			continue
		}
		if found {
			return c.X, c.Y, c.Direction, false
		}
		found, fx, fy, fd = true, c.X+tx, c.Y+ty, t
	}
	if !found {
		return c.X, c.Y, c.Direction, false
	}
	return fx, fy, fd, true
}

// due reports whether enough time passed since the cursor last moved. A cursor
// that never moved is always due.
func due(c RailCursor, now time.Time, interval time.Duration) bool {
	if c.LastAdvancedAt.IsZero() {
		return true
	}
	return now.Sub(c.LastAdvancedAt) >= interval
}

// revealArea is every in-bounds cell within one step (Chebyshev) of (x, y).
func revealArea(x, y int) [][2]int {
	out := make([][2]int, 0, 9)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if InBounds(x+dx, y+dy) {
				out = append(out, [2]int{x + dx, y + dy})
			}
		}
	}
	return out
}
