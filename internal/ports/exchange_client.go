// Package ports holds the narrow interfaces every external collaborator
// implements: ExchangeClient, LeaderTxSource, StateStore, AlertSink. The
// core never imports an adapter package directly — only these interfaces.
package ports

import (
	"context"
	"time"

	"github.com/alexrivas/mirrorbot/internal/domain"
	"github.com/alexrivas/mirrorbot/internal/money"
)

// Balance is the follower wallet's available capital for sizing decisions.
type Balance struct {
	QuoteBalance money.Money
	GasBalance   money.Money
}

// MarketSummary is the lightweight market listing used by the endgame
// sweeper's scan pass.
type MarketSummary struct {
	ConditionID string
	Question    string
	Probability money.Money
	LiquidityUSD money.Money
	ResolvesAt  time.Time
}

// MarketDetail is the full per-market view fetched for a specific
// candidate after the summary pass filters it in.
type MarketDetail struct {
	ConditionID string
	Question    string
	YesTokenID  string
	NoTokenID   string
	Probability money.Money
	LiquidityUSD money.Money
	ResolvesAt  time.Time
}

// ExchangeClient is the CLOB transport contract. Its signing/gas-pricing
// internals are out of scope — only this method contract is specified.
type ExchangeClient interface {
	GetBalance(ctx context.Context) (Balance, error)
	GetMarkets(ctx context.Context) ([]MarketSummary, error)
	GetMarket(ctx context.Context, conditionID string) (MarketDetail, error)
	GetCurrentPrice(ctx context.Context, conditionID, tokenID string, side domain.Side) (money.Money, error)
	PlaceOrder(ctx context.Context, order domain.SizedOrder) (domain.OrderResult, error)
	HealthCheck(ctx context.Context) bool
}
