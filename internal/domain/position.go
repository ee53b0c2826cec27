package domain

import (
	"fmt"
	"time"

	"github.com/alexrivas/mirrorbot/internal/money"
)

// PositionState is the lifecycle state of a Position.
type PositionState string

const (
	Opening PositionState = "OPENING"
	Open    PositionState = "OPEN"
	Closing PositionState = "CLOSING"
	Closed  PositionState = "CLOSED"
	Failed  PositionState = "FAILED"
)

// IsTerminal reports whether s is a terminal state (CLOSED or FAILED) —
// the states at which a position's per-key lock entry must be removed.
func (s PositionState) IsTerminal() bool {
	return s == Closed || s == Failed
}

// Source identifies what opened a Position.
type Source string

const (
	SourceCopy    Source = "COPY"
	SourceEndgame Source = "ENDGAME"
)

// CloseReason records why a position was closed, for reporting and for the
// console notifier's recent-activity table.
type CloseReason string

const (
	CloseStopLoss   CloseReason = "STOP_LOSS"
	CloseTakeProfit CloseReason = "TAKE_PROFIT"
	CloseTime       CloseReason = "TIME"
	CloseProbExit   CloseReason = "PROB_EXIT"
	CloseManual     CloseReason = "MANUAL"
)

// PositionKey is the uniqueness key for open exposure: (condition_id,
// token_id, side). At most one non-terminal Position may exist per key.
type PositionKey struct {
	ConditionID string
	TokenID     string
	Side        Side
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ConditionID, k.TokenID, k.Side)
}

// Position is an open (or terminating) follower exposure.
type Position struct {
	Key PositionKey

	EntryPrice  money.Money
	Size        money.Money
	OpenedAtUTC time.Time

	Source       Source
	SourceLeader string // empty for ENDGAME
	Question     string // ENDGAME only — feeds the sweeper's correlation filter

	StopPrice       money.Money
	TakeProfitPrice money.Money
	MaxHoldDuration time.Duration

	State PositionState

	ExchangeOrderID string
	ClosedReason    CloseReason
	ClosedAtUTC     time.Time
	RealizedPnL     money.Money
}

// UnrealizedPnLPct computes the side-correct unrealized PnL percentage
// against currentPrice. BUY positions gain as price rises; SELL positions
// gain as price falls — a single shared formula would be wrong for one
// side or the other (P8).
func (p Position) UnrealizedPnLPct(currentPrice money.Money) money.Money {
	if p.EntryPrice.IsZero() {
		return money.Zero
	}
	switch p.Key.Side {
	case Sell:
		return p.EntryPrice.Sub(currentPrice).SafeDiv(p.EntryPrice, money.Zero)
	default: // Buy
		return currentPrice.Sub(p.EntryPrice).SafeDiv(p.EntryPrice, money.Zero)
	}
}

// Age returns how long the position has been open as of now.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAtUTC)
}
