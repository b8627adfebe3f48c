package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"railwars.gg/internal/bridge"
	"railwars.gg/internal/cache"
	"railwars.gg/internal/protocol"
)

// DefaultMoveInterval applies when Options.MoveInterval is not positive.
const DefaultMoveInterval = 30 * time.Second

type Options struct {
	// MoveInterval is the minimum time between two cursor advances.
	MoveInterval time.Duration
	// Cache, when set, serves Board reads for BoardTTL.
	Cache    *cache.Cache
	BoardTTL time.Duration
	Clock    func() time.Time
	Logger   logrus.FieldLogger
}

// Engine applies every board mutation and announces it.
type Engine struct {
	store    Store
	notifier bridge.Notifier
	cache    *cache.Cache
	boardTTL time.Duration
	interval time.Duration
	now      func() time.Time
	newID    func() string
	log      logrus.FieldLogger
}

func NewEngine(store Store, notifier bridge.Notifier, opts Options) *Engine {
	if notifier == nil {
		notifier = bridge.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.BoardTTL <= 0 {
		opts.BoardTTL = 10 * time.Second
	}
	// A zero interval would let every tick at the same instant move the cursor.
	if opts.MoveInterval <= 0 {
		opts.MoveInterval = DefaultMoveInterval
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		cache:    opts.Cache,
		boardTTL: opts.BoardTTL,
		interval: opts.MoveInterval,
		now:      opts.Clock,
		newID:    uuid.NewString,
		log:      opts.Logger,
	}
}

func boardCacheKey(gameID, color string) string {
	return "board:" + gameID + ":" + color
}

func checkKey(k CellKey) error {
	if strings.TrimSpace(k.GameID) == "" || strings.TrimSpace(k.Color) == "" {
		return fmt.Errorf("cell %s: game id and color are required", k)
	}
	if !InBounds(k.X, k.Y) {
		return fmt.Errorf("cell %s: %w", k, ErrOutOfBounds)
	}
	return nil
}

// changed drops the cached board and tells clients to refetch it.
func (e *Engine) changed(ctx context.Context, gameID, color string) {
	if e.cache != nil {
		e.cache.Invalidate(ctx, boardCacheKey(gameID, color))
	}
	bridge.Send(ctx, e.notifier, e.log, protocol.MapPositionsUpdated(gameID, color))
}

// Board returns every stored cell of (gameID, color). Reads may be up to the
// cache TTL stale.
func (e *Engine) Board(ctx context.Context, gameID, color string) ([]Position, error) {
	load := func(ctx context.Context) ([]Position, error) {
		return e.store.Positions(ctx, gameID, color)
	}
	if e.cache == nil {
		return load(ctx)
	}
	return cache.GetOrCompute(ctx, e.cache, boardCacheKey(gameID, color), e.boardTTL, load)
}

// AssignContent sets the cell's map item or pre-placed piece. A newer
// assignment replaces the older one; a cell held by an enemy is rejected.
func (e *Engine) AssignContent(ctx context.Context, key CellKey, c Content) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	c.MapItem = strings.TrimSpace(c.MapItem)
	c.PrePlaced = strings.TrimSpace(c.PrePlaced)
	if err := e.store.AssignContent(ctx, key, c); err != nil {
		if errors.Is(err, ErrCellOccupied) {
			return &CellConflictError{Cell: key, Reason: "held by an enemy"}
		}
		return fmt.Errorf("assign %s: %w", key, err)
	}
	e.log.WithFields(logrus.Fields{"game_id": key.GameID, "color": key.Color, "x": key.X, "y": key.Y}).Debug("content assigned")
	e.changed(ctx, key.GameID, key.Color)
	return nil
}

// PlaceNFT moves tokenID onto key. The NFT's previous cell on the same board
// is cleared first; a target holding an enemy or another NFT is rejected.
func (e *Engine) PlaceNFT(ctx context.Context, key CellKey, tokenID string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return fmt.Errorf("token id is required")
	}
	if err := e.store.PlaceNFT(ctx, key, tokenID); err != nil {
		if errors.Is(err, ErrCellOccupied) {
			return &CellConflictError{Cell: key, Reason: "held by an enemy or another nft"}
		}
		return fmt.Errorf("place nft %s at %s: %w", tokenID, key, err)
	}
	e.changed(ctx, key.GameID, key.Color)
	return nil
}

// Construct records a rail or bridge built on key.
func (e *Engine) Construct(ctx context.Context, key CellKey, what Construction) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if what != ConstructRail && what != ConstructBridge {
		return fmt.Errorf("unknown construction %s", what)
	}
	if err := e.store.MarkConstructed(ctx, key, what, e.now().UTC()); err != nil {
		return fmt.Errorf("construct %s at %s: %w", what, key, err)
	}
	e.changed(ctx, key.GameID, key.Color)
	return nil
}

type SpawnRequest struct {
	GameID   string
	Color    string
	Name     string
	Strength int
	X, Y     int
}

// SpawnEnemy places a one-cell enemy on an empty cell.
func (e *Engine) SpawnEnemy(ctx context.Context, req SpawnRequest) (Enemy, error) {
	key := CellKey{GameID: req.GameID, Color: req.Color, X: req.X, Y: req.Y}
	if err := checkKey(key); err != nil {
		return Enemy{}, err
	}
	if req.Strength <= 0 {
		return Enemy{}, fmt.Errorf("enemy strength must be positive")
	}
	en := Enemy{
		ID:              e.newID(),
		GameID:          req.GameID,
		Color:           req.Color,
		Name:            strings.TrimSpace(req.Name),
		Strength:        req.Strength,
		CurrentStrength: req.Strength,
		SeedX:           req.X,
		SeedY:           req.Y,
	}
	if err := e.store.CreateEnemy(ctx, en); err != nil {
		if errors.Is(err, ErrCellOccupied) {
			return Enemy{}, &CellConflictError{Cell: key, Reason: "seed cell taken"}
		}
		return Enemy{}, fmt.Errorf("spawn enemy at %s: %w", key, err)
	}
	e.log.WithFields(logrus.Fields{"game_id": en.GameID, "color": en.Color, "enemy_id": en.ID}).Info("enemy spawned")
	e.changed(ctx, en.GameID, en.Color)
	return en, nil
}

// ExpandEnemy grows enemyID by one slot. The shape check runs before the board
// is touched, so a rejected expansion leaves no trace.
func (e *Engine) ExpandEnemy(ctx context.Context, enemyID string, s Slot) (Enemy, error) {
	en, ok, err := e.store.Enemy(ctx, enemyID)
	if err != nil {
		return Enemy{}, fmt.Errorf("load enemy %s: %w", enemyID, err)
	}
	if !ok {
		return Enemy{}, fmt.Errorf("%w: %s", ErrEnemyNotFound, enemyID)
	}
	if err := en.CheckExpansion(s); err != nil {
		return Enemy{}, err
	}
	x, y := en.Cell(s)
	if !InBounds(x, y) {
		return Enemy{}, &InvalidExpansionError{EnemyID: en.ID, Slot: s, Cells: en.CellCount(), Reason: "target outside the board"}
	}
	if err := e.store.ExpandEnemy(ctx, en, s); err != nil {
		if errors.Is(err, ErrCellOccupied) {
			return Enemy{}, &CellConflictError{Cell: CellKey{GameID: en.GameID, Color: en.Color, X: x, Y: y}, Reason: "expansion target taken"}
		}
		return Enemy{}, fmt.Errorf("expand enemy %s %s: %w", en.ID, s, err)
	}
	en.Slots = append(en.Slots, s)
	e.log.WithFields(logrus.Fields{"enemy_id": en.ID, "slot": s, "cells": en.CellCount()}).Debug("enemy expanded")
	e.changed(ctx, en.GameID, en.Color)
	return en, nil
}

// SetEnemyStrength applies the outcome of combat resolved elsewhere. An enemy
// at zero is defeated but stays on the board.
func (e *Engine) SetEnemyStrength(ctx context.Context, enemyID string, current int) error {
	if current < 0 {
		current = 0
	}
	en, ok, err := e.store.Enemy(ctx, enemyID)
	if err != nil {
		return fmt.Errorf("load enemy %s: %w", enemyID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrEnemyNotFound, enemyID)
	}
	if current > en.Strength {
		current = en.Strength
	}
	if err := e.store.SetEnemyStrength(ctx, enemyID, current); err != nil {
		return fmt.Errorf("set enemy %s strength: %w", enemyID, err)
	}
	e.changed(ctx, en.GameID, en.Color)
	return nil
}

// InitRail places (or resets) the cursor of a board.
func (e *Engine) InitRail(ctx context.Context, c RailCursor) error {
	if err := checkKey(CellKey{GameID: c.GameID, Color: c.Color, X: c.X, Y: c.Y}); err != nil {
		return err
	}
	d, err := ParseDirection(string(c.Direction))
	if err != nil {
		return err
	}
	c.Direction = d
	c.LastAdvancedAt = time.Time{}
	if err := e.store.SaveRailCursor(ctx, c); err != nil {
		return fmt.Errorf("init rail %s/%s: %w", c.GameID, c.Color, err)
	}
	bridge.Send(ctx, e.notifier, e.log, protocol.RailPositionChanged(c.GameID, c.Color, c.X, c.Y, string(c.Direction)))
	return nil
}

// AdvanceRail moves the cursor of (gameID, color) one cell when it is due and
// the way is open. It reports whether the cursor moved. Calling it again with
// no time elapsed is a no-op.
func (e *Engine) AdvanceRail(ctx context.Context, gameID, color string) (bool, error) {
	cur, ok, err := e.store.RailCursor(ctx, gameID, color)
	if err != nil {
		return false, fmt.Errorf("load rail cursor %s/%s: %w", gameID, color, err)
	}
	if !ok {
		return false, fmt.Errorf("%w: %s/%s", ErrNoRailCursor, gameID, color)
	}
	now := e.now().UTC()
	if !due(cur, now, e.interval) {
		return false, nil
	}

	positions, err := e.store.Positions(ctx, gameID, color)
	if err != nil {
		return false, fmt.Errorf("load board %s/%s: %w", gameID, color, err)
	}
	enemies, err := e.store.Enemies(ctx, gameID, color)
	if err != nil {
		return false, fmt.Errorf("load enemies %s/%s: %w", gameID, color, err)
	}
	path := railPath{cells: newGrid(positions), blocking: map[string]bool{}}
	for _, en := range enemies {
		if !en.Defeated() {
			path.blocking[en.ID] = true
		}
	}

	x, y, dir, ok := path.next(cur)
	if !ok {
		return false, nil
	}
	target := path.cells[[2]int{x, y}]
	checkpoint := target.MapItem == ItemCheckpoint && !target.CheckPointPassed

	moved := RailCursor{GameID: gameID, Color: color, X: x, Y: y, Direction: dir, LastAdvancedAt: now}
	revealed, err := e.store.AdvanceRail(ctx, cur, moved, revealArea(x, y), checkpoint)
	if errors.Is(err, ErrCursorMoved) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("advance rail %s/%s: %w", gameID, color, err)
	}

	e.log.WithFields(logrus.Fields{
		"game_id": gameID, "color": color, "x": x, "y": y, "direction": dir, "revealed": revealed,
	}).Debug("rail advanced")
	bridge.Send(ctx, e.notifier, e.log, protocol.RailPositionChanged(gameID, color, x, y, string(dir)))
	if revealed > 0 || checkpoint {
		e.changed(ctx, gameID, color)
	} else if e.cache != nil {
		e.cache.Invalidate(ctx, boardCacheKey(gameID, color))
	}
	return true, nil
}
