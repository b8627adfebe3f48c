// Package board owns every mutation of a game's 15x15 grid: content
// assignment, NFT placement, enemy growth and rail cursor movement.
package board

import (
	"fmt"
	"strings"
	"time"
)

// Size is the board edge; coordinates are in [0, Size-1].
const Size = 15

// Map items the rail logic looks at.
const (
	ItemRiver      = "RIVER"
	ItemCheckpoint = "CHECKPOINT"

	railPrefix = "RAIL"
)

type CellKey struct {
	GameID string
	Color  string
	X, Y   int
}

func (k CellKey) String() string {
	return fmt.Sprintf("%s/%s(%d,%d)", k.GameID, k.Color, k.X, k.Y)
}

func InBounds(x, y int) bool {
	return x >= 0 && x < Size && y >= 0 && y < Size
}

// Position is the stored state of one cell. It is the owning record: EnemyID
// and NFTTokenID are references looked up elsewhere.
type Position struct {
	GameID         string `json:"gameId"`
	Color          string `json:"color"`
	X              int    `json:"x"`
	Y              int    `json:"y"`
	MapItem        string `json:"mapItem,omitempty"`
	MapItemVariant string `json:"mapItemVariant,omitempty"`
	PrePlaced      string `json:"prePlaced,omitempty"`
	EnemyID        string `json:"enemyId,omitempty"`
	NFTTokenID     string `json:"nftTokenId,omitempty"`
	IsRevealed     bool   `json:"isRevealed"`

	BridgeConstructedOn *time.Time `json:"bridgeConstructedOn,omitempty"`
	RailConstructedOn   *time.Time `json:"railConstructedOn,omitempty"`
	CheckPointPassed    bool       `json:"checkPointPassed"`
}

func (p Position) Key() CellKey {
	return CellKey{GameID: p.GameID, Color: p.Color, X: p.X, Y: p.Y}
}

// IsRail reports whether the rail cursor may run over this cell.
func (p Position) IsRail() bool {
	return p.RailConstructedOn != nil || strings.HasPrefix(p.PrePlaced, railPrefix)
}

// Occupied reports whether the cell holds anything an enemy cannot take.
func (p Position) Occupied() bool {
	return p.MapItem != "" || p.PrePlaced != "" || p.NFTTokenID != "" || p.EnemyID != ""
}

// Content is an assignment: exactly one of MapItem or PrePlaced is set.
type Content struct {
	MapItem        string
	MapItemVariant string
	PrePlaced      string
}

func (c Content) Validate() error {
	item := strings.TrimSpace(c.MapItem)
	pre := strings.TrimSpace(c.PrePlaced)
	switch {
	case item == "" && pre == "":
		return fmt.Errorf("content needs a map item or a pre-placed piece")
	case item != "" && pre != "":
		return fmt.Errorf("content cannot hold both map item %q and pre-placed %q", item, pre)
	case pre != "" && c.MapItemVariant != "":
		return fmt.Errorf("map item variant without a map item")
	}
	return nil
}

// Construction is something built on a cell after assignment.
type Construction int

const (
	ConstructRail Construction = iota + 1
	ConstructBridge
)

func (c Construction) String() string {
	switch c {
	case ConstructRail:
		return "rail"
	case ConstructBridge:
		return "bridge"
	default:
		return fmt.Sprintf("construction(%d)", int(c))
	}
}

type Direction string

const (
	Up    Direction = "UP"
	Down  Direction = "DOWN"
	Left  Direction = "LEFT"
	Right Direction = "RIGHT"
)

func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	switch d {
	case Up, Down, Left, Right:
		return d, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

func (d Direction) delta() (dx, dy int) {
	switch d {
	case Up:
		return 0, -1
	case Down:
		return 0, 1
	case Left:
		return -1, 0
	case Right:
		return 1, 0
	}
	return 0, 0
}

// turns returns the perpendicular directions, left-hand first.
func (d Direction) turns() [2]Direction {
	switch d {
	case Up:
		return [2]Direction{Left, Right}
	case Down:
		return [2]Direction{Right, Left}
	case Left:
		return [2]Direction{Down, Up}
	default:
		return [2]Direction{Up, Down}
	}
}

// RailCursor is the singleton train position of one (game, color) board.
type RailCursor struct {
	GameID         string    `json:"gameId"`
	Color          string    `json:"color"`
	X              int       `json:"x"`
	Y              int       `json:"y"`
	Direction      Direction `json:"direction"`
	LastAdvancedAt time.Time `json:"lastAdvancedAt"`
}

// TickKey is the per-board serialization key for rail ticks.
func TickKey(gameID, color string) string {
	return gameID + ":" + color
}

// Enemy grows from its seed cell through Slots, in expansion order.
type Enemy struct {
	ID              string `json:"id"`
	GameID          string `json:"gameId"`
	Color           string `json:"color"`
	Name            string `json:"name"`
	Strength        int    `json:"strength"`
	CurrentStrength int    `json:"currentStrength"`
	SeedX           int    `json:"seedX"`
	SeedY           int    `json:"seedY"`
	Slots           []Slot `json:"slots,omitempty"`
}

// Defeated enemies stay placed but no longer block the rail.
func (e Enemy) Defeated() bool { return e.CurrentStrength <= 0 }
