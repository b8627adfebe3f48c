// Package chain is the narrow view of EVM chains the rest of railwars uses:
// ERC-721 Transfer subscriptions and ownerOf reads.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"railwars.gg/internal/protocol"
)

// TransferEvent is one decoded ERC-721 Transfer log.
type TransferEvent struct {
	ChainID         int64
	ContractAddress string
	From            string
	To              string
	TokenID         *big.Int
	BlockNumber     uint64
	TxHash          string
	Removed         bool
}

type TransferHandler func(TransferEvent)

// Subscription is a live listener; Unsubscribe is idempotent. Err receives
// the failure that ended the subscription and is closed on Unsubscribe.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

type OwnerReader interface {
	OwnerOf(ctx context.Context, contract string, tokenID *big.Int) (string, error)
}

type Client interface {
	OwnerReader
	SubscribeTransfers(ctx context.Context, contract string, handler TransferHandler) (Subscription, error)
	Close()
}

// TransientReadError marks an RPC failure that a retry may fix.
type TransientReadError struct {
	ChainID int64
	Op      string
	Err     error
}

func (e *TransientReadError) Error() string {
	return fmt.Sprintf("chain %d %s: %v", e.ChainID, e.Op, e.Err)
}

func (e *TransientReadError) Unwrap() error { return e.Err }

func (e *TransientReadError) ErrorCode() string { return protocol.ErrChainRead }

func IsTransient(err error) bool {
	var te *TransientReadError
	return errors.As(err, &te)
}

var ErrUnknownChain = errors.New("chain not configured")

// Registry maps chain ids to clients.
type Registry struct {
	clients map[int64]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: map[int64]Client{}}
}

func (r *Registry) Register(chainID int64, c Client) {
	r.clients[chainID] = c
}

func (r *Registry) Client(chainID int64) (Client, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}
	c, ok := r.clients[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}
	return c, nil
}

// OwnerOf routes an ownerOf read to the client registered for chainID.
func (r *Registry) OwnerOf(ctx context.Context, chainID int64, contract string, tokenID *big.Int) (string, error) {
	c, err := r.Client(chainID)
	if err != nil {
		return "", err
	}
	return c.OwnerOf(ctx, contract, tokenID)
}

func (r *Registry) ChainIDs() []int64 {
	ids := make([]int64, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) Close() {
	for _, c := range r.clients {
		c.Close()
	}
}
