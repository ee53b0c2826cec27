// Package explorer implements ports.LeaderTxSource over a plain Polygon
// JSON-RPC endpoint.
//
// GetTransactions discovers a leader wallet's CLOB fills by filtering
// OrderFilled events emitted by the allowlisted exchange contracts (maker
// or taker topic matching the wallet), then reading each matching
// transaction's full call data — the leadermonitor decoder needs the
// original calldata, not the event body, to recover order parameters.
//
// Retry/backoff shape re-applied from the teacher's rate-limited HTTP
// client (adapters/polymarket/client.go): exponential backoff with
// jitter on transient RPC failures, no retry past context cancellation.
package explorer

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alexrivas/mirrorbot/internal/ports"
)

const (
	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// orderFilledSig is topic0 for the CTF/NegRisk exchange's
// OrderFilled(bytes32,address,address,uint256,uint256,uint256,uint256,uint256)
// event, shared by Polymarket's normal and NegRisk exchange contracts.
var orderFilledSig = common.HexToHash("0xd0a08e8c493f9c94f29311604c9de1b4e8c8d4c06bd0c789af85a71f2a8f098")

// Client implements ports.LeaderTxSource against a Polygon RPC endpoint.
type Client struct {
	rpc       *ethclient.Client
	contracts []common.Address
}

// New dials rpcURL and scopes event filtering to the given exchange
// contract allowlist — the same addresses leadermonitor's config carries,
// so a wallet's activity on contracts outside the allowlist never surfaces.
func New(rpcURL string, exchangeContracts []string) (*Client, error) {
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("explorer.New: dial rpc: %w", err)
	}
	contracts := make([]common.Address, len(exchangeContracts))
	for i, a := range exchangeContracts {
		contracts[i] = common.HexToAddress(a)
	}
	return &Client{rpc: rpc, contracts: contracts}, nil
}

// GetTransactions returns every transaction in [fromBlock, toBlock] where
// wallet appears as maker or taker in an OrderFilled event on an
// allowlisted exchange contract.
func (c *Client) GetTransactions(ctx context.Context, wallet string, fromBlock, toBlock uint64) ([]ports.Tx, error) {
	addrTopic := common.BytesToHash(common.HexToAddress(wallet).Bytes())

	makerLogs, err := c.filterLogs(ctx, fromBlock, toBlock, [][]common.Hash{{orderFilledSig}, {addrTopic}})
	if err != nil {
		return nil, fmt.Errorf("explorer.GetTransactions: maker filter: %w", err)
	}
	takerLogs, err := c.filterLogs(ctx, fromBlock, toBlock, [][]common.Hash{{orderFilledSig}, nil, {addrTopic}})
	if err != nil {
		return nil, fmt.Errorf("explorer.GetTransactions: taker filter: %w", err)
	}

	blockTimes := make(map[common.Hash]int64)
	seen := make(map[common.Hash]bool)
	var txs []ports.Tx

	for _, log := range append(makerLogs, takerLogs...) {
		if seen[log.TxHash] {
			continue
		}
		seen[log.TxHash] = true

		tx, err := c.transactionByHash(ctx, log.TxHash)
		if err != nil {
			continue // tx vanished (reorg) or node lag; skip, don't abort the scan
		}
		if tx.To() == nil {
			continue
		}

		ts, ok := blockTimes[log.BlockHash]
		if !ok {
			header, err := c.headerByHash(ctx, log.BlockHash)
			if err != nil {
				continue
			}
			ts = int64(header.Time)
			blockTimes[log.BlockHash] = ts
		}

		txs = append(txs, ports.Tx{
			Hash:        log.TxHash.Hex(),
			BlockNumber: log.BlockNumber,
			To:          tx.To().Hex(),
			Input:       tx.Data(),
			Timestamp:   ts,
		})
	}

	return txs, nil
}

// GetChainHead returns the current block height.
func (c *Client) GetChainHead(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.withRetry(ctx, func() error {
		h, err := c.rpc.BlockNumber(ctx)
		if err != nil {
			return err
		}
		head = h
		return nil
	})
	return head, err
}

// HealthCheck reports whether the RPC endpoint is reachable.
func (c *Client) HealthCheck(ctx context.Context) bool {
	_, err := c.rpc.BlockNumber(ctx)
	return err == nil
}

func (c *Client) filterLogs(ctx context.Context, fromBlock, toBlock uint64, topics [][]common.Hash) ([]types.Log, error) {
	var logs []types.Log
	err := c.withRetry(ctx, func() error {
		var err error
		logs, err = c.rpc.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(fromBlock),
			ToBlock:   new(big.Int).SetUint64(toBlock),
			Addresses: c.contracts,
			Topics:    topics,
		})
		return err
	})
	return logs, err
}

func (c *Client) transactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, error) {
	var tx *types.Transaction
	err := c.withRetry(ctx, func() error {
		t, _, err := c.rpc.TransactionByHash(ctx, hash)
		if err != nil {
			return err
		}
		tx = t
		return nil
	})
	return tx, err
}

func (c *Client) headerByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	var header *types.Header
	err := c.withRetry(ctx, func() error {
		h, err := c.rpc.HeaderByHash(ctx, hash)
		if err != nil {
			return err
		}
		header = h
		return nil
	})
	return header, err
}

// withRetry runs fn with exponential backoff and jitter on transient
// failures, mirroring the teacher's HTTP retry discipline for RPC calls.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxRetries {
			return fmt.Errorf("rpc call failed after %d retries: %w", maxRetries, err)
		}
		c.sleep(ctx, attempt)
	}
	return err
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	wait += time.Duration(rand.Int63n(int64(wait) / 2))
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
