package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"railwars.gg/internal/nft"
)

// PutTrackedContract links tc's contract to its game, replacing the game's
// previous contract if it had one. The replaced link is returned so callers
// can drop its subscription.
func (s *Store) PutTrackedContract(ctx context.Context, tc nft.TrackedContract) (prev nft.TrackedContract, replaced bool, err error) {
	gameID := strings.TrimSpace(tc.GameID)
	addr := nft.NormalizeAddress(tc.ContractAddress)
	if gameID == "" {
		return prev, false, fmt.Errorf("game id is required")
	}
	if tc.ChainID <= 0 || !nft.IsAddress(addr) {
		return prev, false, fmt.Errorf("invalid contract %d:%s", tc.ChainID, tc.ContractAddress)
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT chain_id, contract_address FROM tracked_contracts WHERE game_id = ?`, gameID)
		switch err := row.Scan(&prev.ChainID, &prev.ContractAddress); {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("read tracked contract: %w", err)
		default:
			prev.GameID = gameID
			replaced = prev.ChainID != tc.ChainID || prev.ContractAddress != addr
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tracked_contracts WHERE game_id = ?`, gameID); err != nil {
			return fmt.Errorf("clear tracked contract: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tracked_contracts (chain_id, contract_address, game_id, created_at) VALUES (?, ?, ?, ?)`,
			tc.ChainID, addr, gameID, toNanos(time.Now()))
		if err != nil {
			return fmt.Errorf("insert tracked contract: %w", err)
		}
		return nil
	})
	if err != nil || !replaced {
		return nft.TrackedContract{}, false, err
	}
	return prev, true, nil
}

// RemoveTrackedContract clears the game's contract and returns what was removed.
func (s *Store) RemoveTrackedContract(ctx context.Context, gameID string) (nft.TrackedContract, bool, error) {
	var tc nft.TrackedContract
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT chain_id, contract_address, game_id FROM tracked_contracts WHERE game_id = ?`, strings.TrimSpace(gameID))
		if err := row.Scan(&tc.ChainID, &tc.ContractAddress, &tc.GameID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM tracked_contracts WHERE game_id = ?`, tc.GameID)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nft.TrackedContract{}, false, nil
	}
	if err != nil {
		return nft.TrackedContract{}, false, fmt.Errorf("remove tracked contract: %w", err)
	}
	return tc, true, nil
}

func (s *Store) TrackedContracts(ctx context.Context) ([]nft.TrackedContract, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chain_id, contract_address, game_id FROM tracked_contracts ORDER BY chain_id, contract_address`)
	if err != nil {
		return nil, fmt.Errorf("list tracked contracts: %w", err)
	}
	defer rows.Close()
	var out []nft.TrackedContract
	for rows.Next() {
		var tc nft.TrackedContract
		if err := rows.Scan(&tc.ChainID, &tc.ContractAddress, &tc.GameID); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// GameForContract resolves the game mirroring (chainID, contract).
func (s *Store) GameForContract(ctx context.Context, chainID int64, contract string) (string, bool, error) {
	var gameID string
	err := s.db.QueryRowContext(ctx,
		`SELECT game_id FROM tracked_contracts WHERE chain_id = ? AND contract_address = ?`,
		chainID, nft.NormalizeAddress(contract)).Scan(&gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve game: %w", err)
	}
	return gameID, true, nil
}

// UpsertOwner writes owner for (gameID, tokenID) and reports whether the
// stored owner changed. Writing the same owner again is a no-op.
func (s *Store) UpsertOwner(ctx context.Context, gameID, tokenID, owner string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO nft_records (game_id, token_id, owner, attributes, updated_at)
		 VALUES (?, ?, ?, '{}', ?)
		 ON CONFLICT (game_id, token_id) DO UPDATE SET
		   owner = excluded.owner,
		   updated_at = excluded.updated_at
		 WHERE lower(nft_records.owner) <> lower(excluded.owner)`,
		gameID, tokenID, owner, toNanos(at))
	if err != nil {
		return false, fmt.Errorf("upsert owner %s/%s: %w", gameID, tokenID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PutNFTRecord stores a record without touching an existing owner.
func (s *Store) PutNFTRecord(ctx context.Context, rec nft.Record) error {
	attrs := rec.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	at := rec.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO nft_records (game_id, token_id, owner, attributes, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (game_id, token_id) DO UPDATE SET attributes = excluded.attributes`,
		rec.GameID, rec.TokenID, rec.Owner, string(raw), toNanos(at))
	if err != nil {
		return fmt.Errorf("put nft record %s/%s: %w", rec.GameID, rec.TokenID, err)
	}
	return nil
}

func (s *Store) NFTRecord(ctx context.Context, gameID, tokenID string) (nft.Record, bool, error) {
	recs, err := s.queryRecords(ctx,
		`SELECT game_id, token_id, owner, attributes, updated_at FROM nft_records WHERE game_id = ? AND token_id = ?`,
		gameID, tokenID)
	if err != nil || len(recs) == 0 {
		return nft.Record{}, false, err
	}
	return recs[0], true, nil
}

func (s *Store) NFTRecords(ctx context.Context, gameID string) ([]nft.Record, error) {
	return s.queryRecords(ctx,
		`SELECT game_id, token_id, owner, attributes, updated_at FROM nft_records WHERE game_id = ?
		 ORDER BY length(token_id), token_id`,
		gameID)
}

func (s *Store) queryRecords(ctx context.Context, q string, args ...any) ([]nft.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query nft records: %w", err)
	}
	defer rows.Close()
	var out []nft.Record
	for rows.Next() {
		var (
			rec   nft.Record
			attrs string
			at    int64
		)
		if err := rows.Scan(&rec.GameID, &rec.TokenID, &rec.Owner, &attrs, &at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("nft %s/%s attributes: %w", rec.GameID, rec.TokenID, err)
		}
		rec.UpdatedAt = fromNanos(at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ResyncTokens lists every stored token of a tracked game with the contract
// it belongs to.
func (s *Store) ResyncTokens(ctx context.Context) ([]nft.TokenRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.chain_id, t.contract_address, r.token_id
		   FROM nft_records r
		   JOIN tracked_contracts t ON t.game_id = r.game_id
		  ORDER BY t.chain_id, t.contract_address, length(r.token_id), r.token_id`)
	if err != nil {
		return nil, fmt.Errorf("list resync tokens: %w", err)
	}
	defer rows.Close()
	var out []nft.TokenRef
	for rows.Next() {
		var ref nft.TokenRef
		if err := rows.Scan(&ref.ChainID, &ref.ContractAddress, &ref.TokenID); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// PlacedColors lists the boards of gameID on which tokenID stands.
func (s *Store) PlacedColors(ctx context.Context, gameID, tokenID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT color FROM map_positions WHERE game_id = ? AND nft_token_id = ? ORDER BY color`,
		gameID, tokenID)
	if err != nil {
		return nil, fmt.Errorf("list nft placements: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
