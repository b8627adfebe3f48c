// Package nft holds the ownership-mirror records shared by the watcher,
// the reconciliation worker and the store.
package nft

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// TrackedContract links one on-chain collection to one game.
type TrackedContract struct {
	ChainID         int64
	ContractAddress string
	GameID          string
}

// Record is the off-chain mirror of one token. Owner is only written by the
// reconciliation worker from a fresh chain read.
type Record struct {
	GameID     string
	TokenID    string
	Owner      string
	Attributes map[string]string
	UpdatedAt  time.Time
}

// TokenRef identifies a token across tracked games, as enumerated for resync.
type TokenRef struct {
	ChainID         int64
	ContractAddress string
	TokenID         string
}

// SyncJob re-establishes the owner of one token. It carries everything needed
// to retry; the Transfer event's recipient is intentionally absent.
type SyncJob struct {
	ChainID         int64  `json:"chainId"`
	ContractAddress string `json:"contractAddress"`
	TokenID         string `json:"tokenId"`
}

// Key is the idempotency key (chainId, contractAddress, tokenId).
func (j SyncJob) Key() string {
	return fmt.Sprintf("%d:%s:%s", j.ChainID, NormalizeAddress(j.ContractAddress), j.TokenID)
}

func (j SyncJob) Validate() error {
	if j.ChainID <= 0 {
		return fmt.Errorf("chain id must be positive")
	}
	if !IsAddress(j.ContractAddress) {
		return fmt.Errorf("invalid contract address %q", j.ContractAddress)
	}
	if _, err := ParseTokenID(j.TokenID); err != nil {
		return err
	}
	return nil
}

// NormalizeAddress lower-cases hex addresses for lookups.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func IsAddress(addr string) bool {
	a := strings.TrimSpace(addr)
	if !strings.HasPrefix(a, "0x") && !strings.HasPrefix(a, "0X") {
		return false
	}
	a = a[2:]
	if a == "" {
		return false
	}
	for _, c := range a {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ParseTokenID accepts a decimal token id in the uint256 range.
func ParseTokenID(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid token id %q", s)
	}
	if v.BitLen() > 256 {
		return nil, fmt.Errorf("token id %q exceeds uint256", s)
	}
	return v, nil
}
