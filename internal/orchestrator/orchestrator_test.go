package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexrivas/mirrorbot/internal/domain"
	"github.com/alexrivas/mirrorbot/internal/endgame"
	"github.com/alexrivas/mirrorbot/internal/execution"
	"github.com/alexrivas/mirrorbot/internal/leadermonitor"
	"github.com/alexrivas/mirrorbot/internal/money"
	"github.com/alexrivas/mirrorbot/internal/ports"
	"github.com/alexrivas/mirrorbot/internal/risk"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[key]
	return d, ok, nil
}

func (m *memStore) Store(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

type noOpAlert struct{}

func (noOpAlert) Notify(context.Context, ports.Severity, string, map[string]string) error { return nil }

type fakeSource struct{}

func (fakeSource) GetTransactions(context.Context, string, uint64, uint64) ([]ports.Tx, error) {
	return nil, nil
}
func (fakeSource) GetChainHead(context.Context) (uint64, error) { return 0, nil }
func (fakeSource) HealthCheck(context.Context) bool             { return true }

// testDecoder is a real Decoder (the unexported decodedCall type behind
// leadermonitor.Decoder means tests outside that package must go through
// its exported constructor rather than implementing the interface
// directly).
func testDecoder() leadermonitor.Decoder {
	return leadermonitor.NewFixedLayoutDecoder([4]byte{0xde, 0xad, 0xbe, 0xef})
}

type fakeExchange struct {
	mu      sync.Mutex
	balance ports.Balance
	price   money.Money
	orders  []domain.SizedOrder
	markets []ports.MarketSummary
}

func (f *fakeExchange) GetBalance(context.Context) (ports.Balance, error) { return f.balance, nil }
func (f *fakeExchange) GetMarkets(context.Context) ([]ports.MarketSummary, error) {
	return f.markets, nil
}
func (f *fakeExchange) GetMarket(context.Context, string) (ports.MarketDetail, error) {
	return ports.MarketDetail{YesTokenID: "yes-tok"}, nil
}
func (f *fakeExchange) GetCurrentPrice(context.Context, string, string, domain.Side) (money.Money, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, nil
}
func (f *fakeExchange) PlaceOrder(_ context.Context, order domain.SizedOrder) (domain.OrderResult, error) {
	f.mu.Lock()
	f.orders = append(f.orders, order)
	f.mu.Unlock()
	return domain.OrderResult{Status: domain.OrderFilled, FilledSize: order.Size, AveragePrice: order.LimitPrice}, nil
}
func (f *fakeExchange) HealthCheck(context.Context) bool { return true }

func testGateConfig() risk.GateConfig {
	return risk.GateConfig{
		MaxStaleness:           time.Hour,
		MaxConcurrentPositions: 10,
		MinPrice:               money.MustFromString("0.01"),
		MaxPrice:               money.MustFromString("0.99"),
		RiskPerTradeFraction:   money.MustFromString("0.02"),
		MinPriceRiskFraction:   money.MustFromString("0.05"),
		MaxPositionSize:        money.FromInt(1000),
		MaxPositionFraction:    money.MustFromString("0.5"),
		MinTradeSize:           money.MustFromString("1"),
		StopLossPct:            money.MustFromString("0.10"),
		TakeProfitPct:          money.MustFromString("0.20"),
		MaxHoldDuration:        time.Hour,
	}
}

func testConfig() Config {
	return Config{
		Gate:        testGateConfig(),
		EndgameGate: testGateConfig(),
		Breaker: risk.BreakerConfig{
			MaxDailyLoss:         money.FromInt(500),
			MaxConsecutiveLosses: 5,
			CooldownDuration:     time.Hour,
		},
		Execution: execution.Config{
			MaxRetries:      1,
			RetryBaseDelay:  time.Millisecond,
			StopLossPct:     money.MustFromString("0.10"),
			TakeProfitPct:   money.MustFromString("0.20"),
			MaxHoldDuration: time.Hour,
			PositionLockTTL: time.Minute,
		},
		Leader: leadermonitor.Config{
			Leaders:           []string{"0xLeader"},
			ExchangeAllowlist: map[string]bool{"0xExchange": true},
			PollInterval:      time.Hour,
			Fanout:            2,
			RateLimitRPS:      100,
			RateLimitBurst:    10,
			ResponseCacheTTL:  time.Minute,
			DedupTTL:          time.Minute,
			DedupMaxEntries:   1000,
		},
		Endgame:             endgame.Config{Enabled: false},
		ManageInterval:      50 * time.Millisecond,
		MaintenanceInterval: time.Hour,
	}
}

func TestHandleTradeOpensPositionOnHappyPath(t *testing.T) {
	ex := &fakeExchange{
		balance: ports.Balance{QuoteBalance: money.FromInt(1000)},
		price:   money.MustFromString("0.42"),
	}
	o := New(context.Background(), testConfig(), ex, fakeSource{}, newMemStore(), noOpAlert{}, testDecoder())

	trade := domain.Trade{
		TxHash:        "0xh1",
		TimestampUTC:  time.Now().UTC(),
		LeaderAddress: "0xLeader",
		ConditionID:   "0xcond",
		TokenID:       "tok1",
		Side:          domain.Buy,
		Price:         money.MustFromString("0.40"),
		Amount:        money.MustFromString("100"),
	}
	o.handleTrade(context.Background(), trade)

	require.Equal(t, 1, o.manager.CountOpen())
	ex.mu.Lock()
	defer ex.mu.Unlock()
	require.Len(t, ex.orders, 1)
}

func TestHandleTradeRejectsWhenCircuitBreakerTripped(t *testing.T) {
	ex := &fakeExchange{
		balance: ports.Balance{QuoteBalance: money.FromInt(1000)},
		price:   money.MustFromString("0.42"),
	}
	o := New(context.Background(), testConfig(), ex, fakeSource{}, newMemStore(), noOpAlert{}, testDecoder())
	o.breaker.Trip(context.Background(), "MANUAL", time.Hour)

	trade := domain.Trade{
		TxHash:        "0xh1",
		TimestampUTC:  time.Now().UTC(),
		LeaderAddress: "0xLeader",
		ConditionID:   "0xcond",
		TokenID:       "tok1",
		Side:          domain.Buy,
		Price:         money.MustFromString("0.40"),
		Amount:        money.MustFromString("100"),
	}
	o.handleTrade(context.Background(), trade)

	assert.Equal(t, 0, o.manager.CountOpen())

	rejections := o.rejections.snapshot()
	require.Len(t, rejections, 1)
	assert.Equal(t, domain.RejectCircuitOpen, rejections[0].Reason)
	assert.Equal(t, trade.TxHash, rejections[0].TxHash)
}

func TestSubmitEndgameCandidateOpensPosition(t *testing.T) {
	ex := &fakeExchange{
		balance: ports.Balance{QuoteBalance: money.FromInt(1000)},
		price:   money.MustFromString("0.97"),
	}
	o := New(context.Background(), testConfig(), ex, fakeSource{}, newMemStore(), noOpAlert{}, testDecoder())

	c := endgame.Candidate{
		Market: ports.MarketSummary{ConditionID: "0xcond2", Question: "Will X happen?"},
		Probability: money.MustFromString("0.97"),
	}
	err := o.submitEndgameCandidate(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 1, o.manager.CountOpen())
}

func TestRunStopsCleanlyOnContextCancel(t *testing.T) {
	ex := &fakeExchange{balance: ports.Balance{QuoteBalance: money.FromInt(1000)}, price: money.MustFromString("0.5")}
	o := New(context.Background(), testConfig(), ex, fakeSource{}, newMemStore(), noOpAlert{}, testDecoder())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop within 1s of context cancellation")
	}
}
