// Package domain holds the data model shared by every component: Trade,
// Position, CircuitBreakerState, LeaderCursor, and OrderResult. These are
// plain structs with small helpers — the logic that operates on them lives
// in internal/risk, internal/execution, and internal/leadermonitor.
package domain

import (
	"time"

	"github.com/alexrivas/mirrorbot/internal/money"
)

// Side is a trade or position direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Trade is a normalized leader event, produced by the leader monitor (C6)
// and consumed exactly once by the risk gate (C7).
type Trade struct {
	TxHash        string
	BlockNumber   uint64
	TimestampUTC  time.Time
	LeaderAddress string // checksummed hex
	ConditionID   string // 32-byte hex
	TokenID       string
	Side          Side
	Price         money.Money // 0 < p < 1
	Amount        money.Money
}

// DedupKey is the identity used by the leader monitor's recent-tx-hash set:
// (leader_address, tx_hash).
func (t Trade) DedupKey() string {
	return t.LeaderAddress + ":" + t.TxHash
}
