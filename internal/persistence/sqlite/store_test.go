package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railwars.gg/internal/board"
	"railwars.gg/internal/cache"
	"railwars.gg/internal/jobs"
	"railwars.gg/internal/nft"
	"railwars.gg/internal/prefs"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "railwars.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RejectsEmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestTrackedContracts_ReplaceAndRemove(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, replaced, err := s.PutTrackedContract(ctx, nft.TrackedContract{ChainID: 1, ContractAddress: "0xAA", GameID: "G1"})
	require.NoError(t, err)
	assert.False(t, replaced)

	game, ok, err := s.GameForContract(ctx, 1, "0xaa")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "G1", game)

	prev, replaced, err := s.PutTrackedContract(ctx, nft.TrackedContract{ChainID: 1, ContractAddress: "0xBB", GameID: "G1"})
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, "0xaa", prev.ContractAddress)

	_, ok, err = s.GameForContract(ctx, 1, "0xAA")
	require.NoError(t, err)
	assert.False(t, ok, "old contract must no longer resolve")

	removed, ok, err := s.RemoveTrackedContract(ctx, "G1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0xbb", removed.ContractAddress)

	all, err := s.TrackedContracts(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, ok, err = s.RemoveTrackedContract(ctx, "G1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertOwner_ReportsChangesOnly(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	now := time.Unix(100, 0)

	changed, err := s.UpsertOwner(ctx, "G1", "5", "0xCC", now)
	require.NoError(t, err)
	assert.True(t, changed, "first write creates the record")

	changed, err = s.UpsertOwner(ctx, "G1", "5", "0xcc", now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, changed, "same owner is a no-op")

	changed, err = s.UpsertOwner(ctx, "G1", "5", "0xDD", now.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, changed)

	rec, ok, err := s.NFTRecord(ctx, "G1", "5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0xDD", rec.Owner)
	assert.Equal(t, now.Add(2*time.Second).UTC(), rec.UpdatedAt)
}

func TestResyncTokens_OnlyTrackedGames(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	_, _, err := s.PutTrackedContract(ctx, nft.TrackedContract{ChainID: 1, ContractAddress: "0xAA", GameID: "G1"})
	require.NoError(t, err)
	for _, tok := range []string{"10", "2"} {
		require.NoError(t, s.PutNFTRecord(ctx, nft.Record{GameID: "G1", TokenID: tok, Owner: "0x01", Attributes: map[string]string{"tier": "1"}}))
	}
	require.NoError(t, s.PutNFTRecord(ctx, nft.Record{GameID: "G2", TokenID: "7", Owner: "0x01"}))

	refs, err := s.ResyncTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []nft.TokenRef{
		{ChainID: 1, ContractAddress: "0xaa", TokenID: "2"},
		{ChainID: 1, ContractAddress: "0xaa", TokenID: "10"},
	}, refs)

	recs, err := s.NFTRecords(ctx, "G1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "1", recs[0].Attributes["tier"])
}

func TestAssignContent_NewerOverwritesAndEnemyBlocks(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	k := board.CellKey{GameID: "G1", Color: "RED", X: 3, Y: 3}

	require.NoError(t, s.AssignContent(ctx, k, board.Content{MapItem: "MOUNTAIN", MapItemVariant: "2"}))
	require.NoError(t, s.AssignContent(ctx, k, board.Content{PrePlaced: "RAIL_1"}))

	p, ok, err := s.Position(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "RAIL_1", p.PrePlaced)
	assert.Empty(t, p.MapItem)
	assert.Empty(t, p.MapItemVariant)

	e := board.Enemy{ID: "e1", GameID: "G1", Color: "RED", Name: "orc", Strength: 3, CurrentStrength: 3, SeedX: 5, SeedY: 5}
	require.NoError(t, s.CreateEnemy(ctx, e))
	err = s.AssignContent(ctx, board.CellKey{GameID: "G1", Color: "RED", X: 5, Y: 5}, board.Content{MapItem: "TREE"})
	assert.ErrorIs(t, err, board.ErrCellOccupied)
}

func TestPlaceNFT_MovesAndRejectsTakenCells(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	a := board.CellKey{GameID: "G1", Color: "RED", X: 1, Y: 1}
	b := board.CellKey{GameID: "G1", Color: "RED", X: 2, Y: 1}

	require.NoError(t, s.PlaceNFT(ctx, a, "5"))
	require.NoError(t, s.PlaceNFT(ctx, b, "5"))

	pa, _, err := s.Position(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, pa.NFTTokenID)
	pb, _, err := s.Position(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "5", pb.NFTTokenID)

	err = s.PlaceNFT(ctx, b, "6")
	assert.ErrorIs(t, err, board.ErrCellOccupied)

	colors, err := s.PlacedColors(ctx, "G1", "5")
	require.NoError(t, err)
	assert.Equal(t, []string{"RED"}, colors)

	// Same token on another color is a separate board.
	require.NoError(t, s.PlaceNFT(ctx, board.CellKey{GameID: "G1", Color: "BLUE", X: 1, Y: 1}, "5"))
	colors, err = s.PlacedColors(ctx, "G1", "5")
	require.NoError(t, err)
	assert.Equal(t, []string{"BLUE", "RED"}, colors)
}

func TestEnemyClaims(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	require.NoError(t, s.AssignContent(ctx, board.CellKey{GameID: "G1", Color: "RED", X: 6, Y: 5}, board.Content{MapItem: "TREE"}))

	e := board.Enemy{ID: "e1", GameID: "G1", Color: "RED", Name: "orc", Strength: 3, CurrentStrength: 3, SeedX: 5, SeedY: 5}
	require.NoError(t, s.CreateEnemy(ctx, e))

	dup := e
	dup.ID = "e2"
	assert.ErrorIs(t, s.CreateEnemy(ctx, dup), board.ErrCellOccupied)
	_, ok, err := s.Enemy(ctx, "e2")
	require.NoError(t, err)
	assert.False(t, ok, "failed claim must not leave an enemy row")

	require.NoError(t, s.ExpandEnemy(ctx, e, board.TopLeft))
	e.Slots = []board.Slot{board.TopLeft}
	assert.ErrorIs(t, s.ExpandEnemy(ctx, e, board.TopRight), board.ErrCellOccupied)
	require.NoError(t, s.ExpandEnemy(ctx, e, board.BottomLeft))

	got, ok, err := s.Enemy(ctx, "e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []board.Slot{board.TopLeft, board.BottomLeft}, got.Slots)

	p, _, err := s.Position(ctx, board.CellKey{GameID: "G1", Color: "RED", X: 5, Y: 6})
	require.NoError(t, err)
	assert.Equal(t, "e1", p.EnemyID)

	// A stale slot list loses the race.
	err = s.ExpandEnemy(ctx, e, board.BottomRight)
	require.Error(t, err)

	require.NoError(t, s.SetEnemyStrength(ctx, "e1", 0))
	got, _, err = s.Enemy(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, got.Defeated())
}

func TestAdvanceRail_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	start := board.RailCursor{GameID: "G1", Color: "RED", X: 0, Y: 7, Direction: board.Right}
	require.NoError(t, s.SaveRailCursor(ctx, start))
	require.NoError(t, s.AssignContent(ctx, board.CellKey{GameID: "G1", Color: "RED", X: 1, Y: 7}, board.Content{MapItem: board.ItemCheckpoint}))

	to := start
	to.X = 1
	to.LastAdvancedAt = time.Unix(50, 0).UTC()
	n, err := s.AdvanceRail(ctx, start, to, [][2]int{{0, 6}, {1, 6}, {1, 7}}, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = s.AdvanceRail(ctx, start, to, nil, false)
	assert.True(t, errors.Is(err, board.ErrCursorMoved))

	n, err = s.AdvanceRail(ctx, to, to, [][2]int{{1, 7}}, false)
	require.NoError(t, err)
	assert.Zero(t, n, "revealed cells are not counted twice")

	got, ok, err := s.RailCursor(ctx, "G1", "RED")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.X)
	assert.Equal(t, to.LastAdvancedAt, got.LastAdvancedAt)

	cp, _, err := s.Position(ctx, board.CellKey{GameID: "G1", Color: "RED", X: 1, Y: 7})
	require.NoError(t, err)
	assert.True(t, cp.CheckPointPassed)
	assert.True(t, cp.IsRevealed)
}

func TestMarkConstructed(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	k := board.CellKey{GameID: "G1", Color: "RED", X: 4, Y: 4}
	at := time.Unix(77, 0).UTC()
	require.NoError(t, s.MarkConstructed(ctx, k, board.ConstructRail, at))
	require.NoError(t, s.MarkConstructed(ctx, k, board.ConstructBridge, at))

	p, ok, err := s.Position(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, p.RailConstructedOn)
	assert.Equal(t, at, *p.RailConstructedOn)
	assert.NotNil(t, p.BridgeConstructedOn)
	assert.True(t, p.IsRail())
}

func TestJournal_PutPendingDelete(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	j := s.Journal()

	job, err := jobs.NewJob("k", map[string]string{"a": "b"})
	require.NoError(t, err)
	job.Queue = "ownership_sync"
	require.NoError(t, j.Put(ctx, job))

	pending, err := j.Pending(ctx, "ownership_sync")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, job.ID, pending[0].ID)
	assert.Equal(t, "k", pending[0].Key)
	assert.JSONEq(t, `{"a":"b"}`, string(pending[0].Payload))

	counts, err := j.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["ownership_sync"])

	require.NoError(t, j.Delete(ctx, job.ID))
	pending, err = j.Pending(ctx, "ownership_sync")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCacheStore_BacksCache(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	now := time.Unix(1000, 0)
	c := cache.New(s.CacheStore(), cache.WithClock(func() time.Time { return now }))

	calls := 0
	load := func(context.Context) ([]string, error) {
		calls++
		return []string{"a", "b"}, nil
	}
	for i := 0; i < 2; i++ {
		v, err := cache.GetOrCompute(ctx, c, "k", time.Minute, load)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, v)
	}
	assert.Equal(t, 1, calls)

	n, err := s.CacheStore().Purge(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPreferences_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	v := 0.25
	require.NoError(t, s.SavePreference(ctx, prefs.Preference{Key: "spawn_rate", NumValue: &v}, time.Now()))

	p, ok, err := s.Preference(ctx, "spawn_rate")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, p.NumValue)
	assert.Equal(t, 0.25, *p.NumValue)
	assert.Nil(t, p.BoolValue)

	_, ok, err = s.Preference(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
