package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"railwars.gg/internal/board"
)

// parseCell reads GAME COLOR X Y from the front of args.
func parseCell(args []string) (board.CellKey, error) {
	if len(args) < 4 {
		return board.CellKey{}, fmt.Errorf("want GAME COLOR X Y")
	}
	x, err := strconv.Atoi(args[2])
	if err != nil {
		return board.CellKey{}, fmt.Errorf("x: %w", err)
	}
	y, err := strconv.Atoi(args[3])
	if err != nil {
		return board.CellKey{}, fmt.Errorf("y: %w", err)
	}
	return board.CellKey{GameID: args[0], Color: strings.ToUpper(args[1]), X: x, Y: y}, nil
}

func parseConstruction(s string) (board.Construction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rail":
		return board.ConstructRail, nil
	case "bridge":
		return board.ConstructBridge, nil
	}
	return 0, fmt.Errorf("unknown construction %q (rail|bridge)", s)
}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Read and edit board cells.",
}

var boardShowCmd = &cobra.Command{
	Use:   "show GAME COLOR",
	Short: "Print every stored cell of a board.",
	Args:  cobra.ExactArgs(2),
	RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
		ps, err := e.engine.Board(cmd.Context(), args[0], strings.ToUpper(args[1]))
		if err != nil {
			return err
		}
		if ps == nil {
			ps = []board.Position{}
		}
		return printJSON(cmd.OutOrStdout(), ps)
	}),
}

var boardAssignCmd = &cobra.Command{
	Use:   "assign GAME COLOR X Y",
	Short: "Assign a map item or pre-placed piece to a cell.",
	Args:  cobra.ExactArgs(4),
	RunE: withSharedCache(func(cmd *cobra.Command, e *env, args []string) error {
		key, err := parseCell(args)
		if err != nil {
			return err
		}
		item, _ := cmd.Flags().GetString("item")
		variant, _ := cmd.Flags().GetString("variant")
		pre, _ := cmd.Flags().GetString("pre_placed")
		return e.engine.AssignContent(cmd.Context(), key, board.Content{
			MapItem:        item,
			MapItemVariant: variant,
			PrePlaced:      pre,
		})
	}),
}

var boardPlaceNFTCmd = &cobra.Command{
	Use:   "place-nft GAME COLOR X Y TOKEN_ID",
	Short: "Move TOKEN_ID onto a cell, clearing its previous cell.",
	Args:  cobra.ExactArgs(5),
	RunE: withSharedCache(func(cmd *cobra.Command, e *env, args []string) error {
		key, err := parseCell(args)
		if err != nil {
			return err
		}
		return e.engine.PlaceNFT(cmd.Context(), key, args[4])
	}),
}

var boardConstructCmd = &cobra.Command{
	Use:   "construct GAME COLOR X Y rail|bridge",
	Short: "Mark a rail or bridge as built on a cell.",
	Args:  cobra.ExactArgs(5),
	RunE: withSharedCache(func(cmd *cobra.Command, e *env, args []string) error {
		key, err := parseCell(args)
		if err != nil {
			return err
		}
		what, err := parseConstruction(args[4])
		if err != nil {
			return err
		}
		return e.engine.Construct(cmd.Context(), key, what)
	}),
}

var enemyCmd = &cobra.Command{
	Use:   "enemy",
	Short: "Spawn and grow enemies.",
}

var enemySpawnCmd = &cobra.Command{
	Use:   "spawn GAME COLOR X Y",
	Short: "Spawn a one-cell enemy seeded at X Y.",
	Args:  cobra.ExactArgs(4),
	RunE: withSharedCache(func(cmd *cobra.Command, e *env, args []string) error {
		key, err := parseCell(args)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		strength, _ := cmd.Flags().GetInt("strength")
		en, err := e.engine.SpawnEnemy(cmd.Context(), board.SpawnRequest{
			GameID:   key.GameID,
			Color:    key.Color,
			Name:     name,
			Strength: strength,
			X:        key.X,
			Y:        key.Y,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), en)
	}),
}

var enemyExpandCmd = &cobra.Command{
	Use:   "expand ENEMY_ID SLOT",
	Short: "Grow an enemy by one slot (TOP_RIGHT, BOTTOM_LEFT, BOTTOM_RIGHT, LEFT, RIGHT).",
	Args:  cobra.ExactArgs(2),
	RunE: withSharedCache(func(cmd *cobra.Command, e *env, args []string) error {
		slot, err := board.ParseSlot(args[1])
		if err != nil {
			return err
		}
		en, err := e.engine.ExpandEnemy(cmd.Context(), args[0], slot)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), en)
	}),
}

var enemyStrengthCmd = &cobra.Command{
	Use:   "strength ENEMY_ID CURRENT",
	Short: "Set an enemy's current strength; 0 defeats it.",
	Args:  cobra.ExactArgs(2),
	RunE: withSharedCache(func(cmd *cobra.Command, e *env, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("strength: %w", err)
		}
		return e.engine.SetEnemyStrength(cmd.Context(), args[0], n)
	}),
}

var railCmd = &cobra.Command{
	Use:   "rail",
	Short: "Place and step rail cursors.",
}

var railInitCmd = &cobra.Command{
	Use:   "init GAME COLOR X Y DIRECTION",
	Short: "Place or reset the cursor of a board.",
	Args:  cobra.ExactArgs(5),
	RunE: withSharedCache(func(cmd *cobra.Command, e *env, args []string) error {
		key, err := parseCell(args)
		if err != nil {
			return err
		}
		return e.engine.InitRail(cmd.Context(), board.RailCursor{
			GameID:    key.GameID,
			Color:     key.Color,
			X:         key.X,
			Y:         key.Y,
			Direction: board.Direction(args[4]),
		})
	}),
}

var railTickCmd = &cobra.Command{
	Use:   "tick GAME COLOR",
	Short: "Advance a cursor once if it is due.",
	Args:  cobra.ExactArgs(2),
	RunE: withSharedCache(func(cmd *cobra.Command, e *env, args []string) error {
		moved, err := e.engine.AdvanceRail(cmd.Context(), args[0], strings.ToUpper(args[1]))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "moved=%t\n", moved)
		return nil
	}),
}

func init() {
	boardAssignCmd.Flags().String("item", "", "map item (e.g. MOUNTAIN, RIVER, CHECKPOINT)")
	boardAssignCmd.Flags().String("variant", "", "map item variant")
	boardAssignCmd.Flags().String("pre_placed", "", "pre-placed piece (e.g. RAIL_1)")
	enemySpawnCmd.Flags().String("name", "", "enemy name")
	enemySpawnCmd.Flags().Int("strength", 1, "starting strength")

	boardCmd.AddCommand(boardShowCmd, boardAssignCmd, boardPlaceNFTCmd, boardConstructCmd)
	enemyCmd.AddCommand(enemySpawnCmd, enemyExpandCmd, enemyStrengthCmd)
	railCmd.AddCommand(railInitCmd, railTickCmd)
	rootCmd.AddCommand(boardCmd, enemyCmd, railCmd)
}
