package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

const erc721ABI = `[{"constant":true,"inputs":[{"name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"name":"owner","type":"address"}],"stateMutability":"view","type":"function"}]`

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

type ethBackend interface {
	ethereum.ContractCaller
	ethereum.LogFilterer
	Close()
}

// EVMClient talks to one chain over a websocket (or IPC) RPC endpoint.
type EVMClient struct {
	chainID int64
	backend ethBackend
	abi     abi.ABI
	log     logrus.FieldLogger
}

func DialEVM(ctx context.Context, chainID int64, rpcURL string, logger logrus.FieldLogger) (*EVMClient, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain %d: %w", chainID, err)
	}
	return newEVMClient(chainID, c, logger)
}

func newEVMClient(chainID int64, backend ethBackend, logger logrus.FieldLogger) (*EVMClient, error) {
	parsed, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc721 abi: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EVMClient{
		chainID: chainID,
		backend: backend,
		abi:     parsed,
		log:     logger.WithField("chain_id", chainID),
	}, nil
}

func (c *EVMClient) Close() { c.backend.Close() }

func (c *EVMClient) OwnerOf(ctx context.Context, contract string, tokenID *big.Int) (string, error) {
	if !common.IsHexAddress(contract) {
		return "", fmt.Errorf("invalid contract address %q", contract)
	}
	data, err := c.abi.Pack("ownerOf", tokenID)
	if err != nil {
		return "", fmt.Errorf("pack ownerOf: %w", err)
	}
	to := common.HexToAddress(contract)
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return "", &TransientReadError{ChainID: c.chainID, Op: "ownerOf", Err: err}
	}
	vals, err := c.abi.Unpack("ownerOf", out)
	if err != nil {
		return "", &TransientReadError{ChainID: c.chainID, Op: "ownerOf", Err: fmt.Errorf("unpack: %w", err)}
	}
	if len(vals) != 1 {
		return "", &TransientReadError{ChainID: c.chainID, Op: "ownerOf", Err: fmt.Errorf("unexpected outputs: %d", len(vals))}
	}
	owner, ok := vals[0].(common.Address)
	if !ok {
		return "", &TransientReadError{ChainID: c.chainID, Op: "ownerOf", Err: fmt.Errorf("unexpected output type %T", vals[0])}
	}
	return owner.Hex(), nil
}

func (c *EVMClient) SubscribeTransfers(ctx context.Context, contract string, handler TransferHandler) (Subscription, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid contract address %q", contract)
	}
	q := ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(contract)},
		Topics:    [][]common.Hash{{transferTopic}},
	}
	logs := make(chan types.Log, 256)
	sub, err := c.backend.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		return nil, &TransientReadError{ChainID: c.chainID, Op: "subscribe", Err: err}
	}

	s := &evmSubscription{sub: sub, done: make(chan struct{}), errc: make(chan error, 1)}
	go func() {
		defer close(s.done)
		defer close(s.errc)
		for {
			select {
			case lg := <-logs:
				ev, err := DecodeTransfer(c.chainID, lg)
				if err != nil {
					c.log.WithError(err).WithField("tx", lg.TxHash.Hex()).Warn("skip undecodable transfer log")
					continue
				}
				handler(ev)
			case err, ok := <-sub.Err():
				if !ok {
					return
				}
				if err == nil {
					err = errSubscriptionEnded
				}
				s.errc <- &TransientReadError{ChainID: c.chainID, Op: "subscribe", Err: err}
				return
			}
		}
	}()
	return s, nil
}

var errSubscriptionEnded = errors.New("subscription ended by the node")

type evmSubscription struct {
	once sync.Once
	sub  ethereum.Subscription
	done chan struct{}
	errc chan error
}

func (s *evmSubscription) Err() <-chan error { return s.errc }

func (s *evmSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.sub.Unsubscribe()
		<-s.done
	})
}

var errNotTransfer = errors.New("not an ERC-721 transfer log")

// DecodeTransfer reads from/to/tokenId from the indexed topics of a Transfer log.
func DecodeTransfer(chainID int64, lg types.Log) (TransferEvent, error) {
	if len(lg.Topics) != 4 || lg.Topics[0] != transferTopic {
		return TransferEvent{}, errNotTransfer
	}
	return TransferEvent{
		ChainID:         chainID,
		ContractAddress: lg.Address.Hex(),
		From:            common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
		To:              common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
		TokenID:         new(big.Int).SetBytes(lg.Topics[3].Bytes()),
		BlockNumber:     lg.BlockNumber,
		TxHash:          lg.TxHash.Hex(),
		Removed:         lg.Removed,
	}, nil
}
