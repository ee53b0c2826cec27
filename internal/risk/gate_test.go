package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexrivas/mirrorbot/internal/domain"
	"github.com/alexrivas/mirrorbot/internal/money"
)

type fakePositions struct {
	open int
	dup  bool
}

func (f fakePositions) CountOpen() int                               { return f.open }
func (f fakePositions) HasNonTerminal(domain.PositionKey) bool { return f.dup }

func testGateConfig() GateConfig {
	return GateConfig{
		MaxStaleness:           120 * time.Second,
		MaxConcurrentPositions: 5,
		MinPrice:               money.MustFromString("0.02"),
		MaxPrice:                money.MustFromString("0.98"),
		RiskPerTradeFraction:   money.MustFromString("0.02"),
		MinPriceRiskFraction:   money.MustFromString("0.001"),
		MaxPositionSize:        money.MustFromString("10"),
		MaxPositionFraction:    money.MustFromString("0.5"),
		MinTradeSize:           money.MustFromString("0.01"),
		StopLossPct:            money.MustFromString("0.05"),
		TakeProfitPct:          money.MustFromString("0.07"),
		MaxHoldDuration:        24 * time.Hour,
	}
}

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	b := NewBreaker(context.Background(), testConfig(), newMemStore(), nil)
	return NewGate(testGateConfig(), b)
}

func freshTrade() domain.Trade {
	return domain.Trade{
		TxHash:        "0xabc",
		LeaderAddress: "0xLeader",
		ConditionID:   "0xcond",
		TokenID:       "tok1",
		Side:          domain.Buy,
		Price:         money.MustFromString("0.40"),
		Amount:        money.MustFromString("100"),
		TimestampUTC:  time.Now().UTC(),
	}
}

// TestHappyCopy mirrors seed scenario 1's sizing: risk 0.02*1000 = 20,
// gap |0.41-0.40| = 0.01, size = 20/0.01 = 2000, clamped to
// MaxPositionSize=10.
func TestHappyCopy_Sizing(t *testing.T) {
	g := newTestGate(t)
	trade := freshTrade()
	order, rej := g.Evaluate(context.Background(), trade, money.MustFromString("1000"), money.MustFromString("0.41"), money.FromInt(1), fakePositions{})
	require.Nil(t, rej)
	assert.Equal(t, "10", order.Size.String())
}

// TestSizingFloor_ZeroPriceGap mirrors seed scenario 2: the
// MinPriceRiskFraction floor prevents size from exploding when
// current_price == trade.price.
func TestSizingFloor_ZeroPriceGap(t *testing.T) {
	g := newTestGate(t)
	trade := freshTrade()
	trade.Price = money.MustFromString("0.50")
	order, rej := g.Evaluate(context.Background(), trade, money.MustFromString("1000"), money.MustFromString("0.50"), money.FromInt(1), fakePositions{})
	require.Nil(t, rej)
	// account_risk=20, floor price_risk=0.50*0.001=0.0005, raw=40000,
	// clamped to MaxPositionSize=10.
	assert.Equal(t, "10", order.Size.String())
}

func TestRejectsStale(t *testing.T) {
	g := newTestGate(t)
	trade := freshTrade()
	trade.TimestampUTC = time.Now().UTC().Add(-10 * time.Minute)
	_, rej := g.Evaluate(context.Background(), trade, money.MustFromString("1000"), trade.Price, money.FromInt(1), fakePositions{})
	require.NotNil(t, rej)
	assert.Equal(t, domain.RejectStale, rej.Reason)
}

func TestRejectsInvalidPrice(t *testing.T) {
	g := newTestGate(t)
	trade := freshTrade()
	trade.Price = money.MustFromString("1.5")
	_, rej := g.Evaluate(context.Background(), trade, money.MustFromString("1000"), trade.Price, money.FromInt(1), fakePositions{})
	require.NotNil(t, rej)
	assert.Equal(t, domain.RejectInvalid, rej.Reason)
}

func TestRejectsMaxConcurrent(t *testing.T) {
	g := newTestGate(t)
	trade := freshTrade()
	_, rej := g.Evaluate(context.Background(), trade, money.MustFromString("1000"), trade.Price, money.FromInt(1), fakePositions{open: 5})
	require.NotNil(t, rej)
	assert.Equal(t, domain.RejectMaxConcurrent, rej.Reason)
}

func TestRejectsDuplicate(t *testing.T) {
	g := newTestGate(t)
	trade := freshTrade()
	_, rej := g.Evaluate(context.Background(), trade, money.MustFromString("1000"), trade.Price, money.FromInt(1), fakePositions{dup: true})
	require.NotNil(t, rej)
	assert.Equal(t, domain.RejectDuplicate, rej.Reason)
}

func TestRejectsPriceBand(t *testing.T) {
	g := newTestGate(t)
	trade := freshTrade()
	trade.Price = money.MustFromString("0.01")
	_, rej := g.Evaluate(context.Background(), trade, money.MustFromString("1000"), trade.Price, money.FromInt(1), fakePositions{})
	require.NotNil(t, rej)
	assert.Equal(t, domain.RejectPriceBand, rej.Reason)
}

func TestRejectsBelowMin(t *testing.T) {
	g := newTestGate(t)
	trade := freshTrade()
	_, rej := g.Evaluate(context.Background(), trade, money.MustFromString("0.001"), trade.Price, money.FromInt(1), fakePositions{})
	require.NotNil(t, rej)
	assert.Equal(t, domain.RejectBelowMin, rej.Reason)
}

func TestRejectsWhenCircuitBreakerTripped(t *testing.T) {
	ctx := context.Background()
	b := NewBreaker(ctx, testConfig(), newMemStore(), nil)
	b.Trip(ctx, "MANUAL", time.Hour)
	g := NewGate(testGateConfig(), b)

	trade := freshTrade()
	_, rej := g.Evaluate(ctx, trade, money.MustFromString("1000"), trade.Price, money.FromInt(1), fakePositions{})
	require.NotNil(t, rej)
	assert.Equal(t, domain.RejectCircuitOpen, rej.Reason)
}
