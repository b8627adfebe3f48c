// Package reconcile makes stored NFT owners match the chain.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"railwars.gg/internal/bridge"
	"railwars.gg/internal/chain"
	"railwars.gg/internal/jobs"
	"railwars.gg/internal/nft"
	"railwars.gg/internal/protocol"
)

//go:generate mockgen -destination mock_reconcile_test.go -package reconcile -write_package_comment=false railwars.gg/internal/reconcile OwnerSource

// OwnerSource reads the current owner of a token from its chain.
type OwnerSource interface {
	OwnerOf(ctx context.Context, chainID int64, contract string, tokenID *big.Int) (string, error)
}

type Store interface {
	GameForContract(ctx context.Context, chainID int64, contract string) (string, bool, error)
	UpsertOwner(ctx context.Context, gameID, tokenID, owner string, at time.Time) (bool, error)
	PlacedColors(ctx context.Context, gameID, tokenID string) ([]string, error)
}

// UnmatchedTokenError means no tracked game uses the job's contract. It is
// terminal: the job is dropped.
type UnmatchedTokenError struct {
	ChainID         int64
	ContractAddress string
	TokenID         string
}

func (e *UnmatchedTokenError) Error() string {
	return fmt.Sprintf("token %s of %d:%s belongs to no tracked game", e.TokenID, e.ChainID, e.ContractAddress)
}

func (e *UnmatchedTokenError) ErrorCode() string { return protocol.ErrUnmatchedToken }

// Config.Designated is false on every instance but the one allowed to write
// owners. Others acknowledge jobs without effect; there is no failover.
type Config struct {
	Designated bool
	Clock      func() time.Time
	Logger     logrus.FieldLogger
}

type Worker struct {
	store    Store
	chain    OwnerSource
	notifier bridge.Notifier
	cfg      Config
	log      logrus.FieldLogger

	applied atomic.Uint64
	skipped atomic.Uint64
}

func NewWorker(store Store, owners OwnerSource, notifier bridge.Notifier, cfg Config) *Worker {
	if notifier == nil {
		notifier = bridge.Nop{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Worker{store: store, chain: owners, notifier: notifier, cfg: cfg, log: cfg.Logger}
}

// Handle is the ownership-sync queue handler.
func (w *Worker) Handle(ctx context.Context, job jobs.Job) error {
	var sj nft.SyncJob
	if err := job.Decode(&sj); err != nil {
		return err
	}
	if err := sj.Validate(); err != nil {
		return jobs.Drop(fmt.Errorf("ownership job %s: %w", job.ID, err))
	}
	if !w.cfg.Designated {
		w.skipped.Add(1)
		return nil
	}
	_, err := w.Sync(ctx, sj)
	var um *UnmatchedTokenError
	if errors.As(err, &um) {
		return jobs.Drop(err)
	}
	return err
}

// Sync reads the token's owner from chain and stores it. The owner named by
// whatever event triggered the job is never used, so duplicates and reordered
// events converge on the chain's answer. It reports whether the owner changed.
func (w *Worker) Sync(ctx context.Context, sj nft.SyncJob) (bool, error) {
	addr := nft.NormalizeAddress(sj.ContractAddress)
	log := w.log.WithFields(logrus.Fields{"chain_id": sj.ChainID, "contract": addr, "token_id": sj.TokenID})

	gameID, ok, err := w.store.GameForContract(ctx, sj.ChainID, addr)
	if err != nil {
		return false, fmt.Errorf("resolve game: %w", err)
	}
	if !ok {
		return false, &UnmatchedTokenError{ChainID: sj.ChainID, ContractAddress: addr, TokenID: sj.TokenID}
	}

	tokenID, err := nft.ParseTokenID(sj.TokenID)
	if err != nil {
		return false, jobs.Drop(err)
	}
	tokenKey := tokenID.String()

	owner, err := w.chain.OwnerOf(ctx, sj.ChainID, addr, tokenID)
	if errors.Is(err, chain.ErrUnknownChain) {
		return false, jobs.Drop(err)
	}
	if err != nil {
		return false, fmt.Errorf("read owner: %w", err)
	}
	owner = strings.TrimSpace(owner)

	changed, err := w.store.UpsertOwner(ctx, gameID, tokenKey, owner, w.cfg.Clock().UTC())
	if err != nil {
		return false, err
	}
	if !changed {
		log.WithField("owner", owner).Debug("owner unchanged")
		return false, nil
	}
	w.applied.Add(1)
	log.WithFields(logrus.Fields{"game_id": gameID, "owner": owner}).Info("owner updated")

	bridge.Send(ctx, w.notifier, log, protocol.NFTOwnerUpdated(gameID, tokenKey, owner))
	colors, err := w.store.PlacedColors(ctx, gameID, tokenKey)
	if err != nil {
		// The owner is stored; a retry would only repeat a notification.
		log.WithError(err).Warn("list placements for notification")
		return true, nil
	}
	for _, color := range colors {
		bridge.Send(ctx, w.notifier, log, protocol.MapPositionsUpdated(gameID, color))
	}
	return true, nil
}

// Stats returns (owners changed, jobs skipped on a non-designated instance).
func (w *Worker) Stats() (applied, skipped uint64) {
	return w.applied.Load(), w.skipped.Load()
}
