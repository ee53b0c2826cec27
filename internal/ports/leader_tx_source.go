package ports

import "context"

// Tx is a raw transaction as returned by the block explorer / indexed RPC,
// before call-data decoding. Decoding and validation happen in
// internal/leadermonitor, not here.
type Tx struct {
	Hash        string
	BlockNumber uint64
	To          string // contract address the tx was sent to
	Input       []byte // raw call data
	Timestamp   int64  // unix seconds
}

// LeaderTxSource is the block-explorer / indexed-RPC transport contract
// for leader wallet monitoring.
type LeaderTxSource interface {
	GetTransactions(ctx context.Context, wallet string, fromBlock, toBlock uint64) ([]Tx, error)
	GetChainHead(ctx context.Context) (uint64, error)
	HealthCheck(ctx context.Context) bool
}
