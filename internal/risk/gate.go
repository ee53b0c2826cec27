package risk

import (
	"context"
	"time"

	"github.com/alexrivas/mirrorbot/internal/domain"
	"github.com/alexrivas/mirrorbot/internal/money"
	"github.com/alexrivas/mirrorbot/internal/validate"
)

// GateConfig holds every threshold the ordered checks and the sizing
// formula reference. Field names mirror the `risk.*` configuration keys.
type GateConfig struct {
	MaxStaleness time.Duration

	MaxConcurrentPositions int

	MinPrice money.Money
	MaxPrice money.Money

	RiskPerTradeFraction money.Money
	MinPriceRiskFraction money.Money // mandatory floor, see sizing note below
	MaxPositionSize      money.Money
	MaxPositionFraction  money.Money
	MinTradeSize         money.Money

	StopLossPct     money.Money
	TakeProfitPct   money.Money
	MaxHoldDuration time.Duration

	MinConfidence money.Money // open-question default 0 (disabled)
}

// OpenPositionsView is the minimal read-only view the gate needs of the
// live positions map, supplied by the executor/orchestrator — the gate
// never holds a reference to the map itself.
type OpenPositionsView interface {
	CountOpen() int
	HasNonTerminal(key domain.PositionKey) bool
}

// Gate evaluates leader trades into sized orders or typed rejections. The
// ordered fail-fast checks below are grounded on the teacher's
// gateCheck/runPlacementPipeline shape.
type Gate struct {
	cfg     GateConfig
	breaker *Breaker
}

// NewGate constructs a Gate wired to the given Breaker for its
// circuit-breaker check.
func NewGate(cfg GateConfig, breaker *Breaker) *Gate {
	return &Gate{cfg: cfg, breaker: breaker}
}

// Evaluate runs the ordered checks (first failure wins) and, if all pass,
// sizes the order. currentPrice is the exchange's live mid-price for the
// same token, used for the price-risk floor. confidence is in [0,1]; pass
// money.FromInt(1) if the caller doesn't track a confidence score.
func (g *Gate) Evaluate(
	ctx context.Context,
	trade domain.Trade,
	balance money.Money,
	currentPrice money.Money,
	confidence money.Money,
	positions OpenPositionsView,
) (domain.SizedOrder, *domain.Rejection) {
	now := time.Now().UTC()

	// 1. Staleness
	if now.Sub(trade.TimestampUTC) > g.cfg.MaxStaleness {
		return domain.SizedOrder{}, &domain.Rejection{Reason: domain.RejectStale}
	}

	// 2. Validity
	if err := validate.Price(trade.Price); err != nil {
		return domain.SizedOrder{}, &domain.Rejection{Reason: domain.RejectInvalid, Detail: err.Error()}
	}
	if err := validate.Amount(trade.Amount); err != nil {
		return domain.SizedOrder{}, &domain.Rejection{Reason: domain.RejectInvalid, Detail: err.Error()}
	}

	// 2.5 Confidence (open question: single uniform threshold, default 0/disabled)
	if g.cfg.MinConfidence.IsPositive() && confidence.LessThan(g.cfg.MinConfidence) {
		return domain.SizedOrder{}, &domain.Rejection{Reason: domain.RejectLowConfidence}
	}

	// 3. Circuit breaker
	if g.breaker != nil {
		decision := g.breaker.CheckAllowed(ctx)
		if !decision.Allowed {
			return domain.SizedOrder{}, &domain.Rejection{Reason: domain.RejectCircuitOpen, Detail: decision.Reason}
		}
	}

	// 4. Concurrency
	if g.cfg.MaxConcurrentPositions > 0 && positions.CountOpen() >= g.cfg.MaxConcurrentPositions {
		return domain.SizedOrder{}, &domain.Rejection{Reason: domain.RejectMaxConcurrent}
	}

	key := domain.PositionKey{ConditionID: trade.ConditionID, TokenID: trade.TokenID, Side: trade.Side}

	// 5. Existing exposure
	if positions.HasNonTerminal(key) {
		return domain.SizedOrder{}, &domain.Rejection{Reason: domain.RejectDuplicate}
	}

	// 6. Price bounds
	if trade.Price.LessThan(g.cfg.MinPrice) || trade.Price.GreaterThan(g.cfg.MaxPrice) {
		return domain.SizedOrder{}, &domain.Rejection{Reason: domain.RejectPriceBand}
	}

	size := g.size(balance, trade.Price, currentPrice)
	if size.LessThan(g.cfg.MinTradeSize) {
		return domain.SizedOrder{}, &domain.Rejection{Reason: domain.RejectBelowMin}
	}

	return domain.SizedOrder{
		Key:               key,
		Side:              trade.Side,
		Size:              size,
		LimitPrice:        currentPrice,
		SlippageTolerance: g.cfg.MinPriceRiskFraction,
		Source:            domain.SourceCopy,
		SourceLeader:      trade.LeaderAddress,
	}, nil
}

// size implements the sizing formula. The MinPriceRiskFraction floor is
// mandatory: without it, a leader trade at market (current_price ==
// trade.price) would make price_risk zero and raw_size diverge (P4).
func (g *Gate) size(balance, tradePrice, currentPrice money.Money) money.Money {
	accountRisk := balance.Mul(g.cfg.RiskPerTradeFraction)

	gap := currentPrice.Sub(tradePrice).Abs()
	floor := currentPrice.Mul(g.cfg.MinPriceRiskFraction)
	priceRisk := gap
	if priceRisk.LessThan(floor) {
		priceRisk = floor
	}

	rawSize := accountRisk.SafeDiv(priceRisk, money.Zero)

	size := rawSize
	if size.GreaterThan(g.cfg.MaxPositionSize) {
		size = g.cfg.MaxPositionSize
	}
	maxByFraction := balance.Mul(g.cfg.MaxPositionFraction)
	if size.GreaterThan(maxByFraction) {
		size = maxByFraction
	}
	return size
}
