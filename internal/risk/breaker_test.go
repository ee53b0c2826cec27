package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexrivas/mirrorbot/internal/money"
)

// memStore is a trivial in-memory ports.StateStore for tests.
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

func testConfig() BreakerConfig {
	return BreakerConfig{
		MaxDailyLoss:         money.MustFromString("50"),
		MaxConsecutiveLosses: 3,
		CooldownDuration:     time.Hour,
	}
}

func TestCheckAllowed_DefaultsToAllowed(t *testing.T) {
	b := NewBreaker(context.Background(), testConfig(), newMemStore(), nil)
	d := b.CheckAllowed(context.Background())
	assert.True(t, d.Allowed)
}

// TestDailyLossTrip mirrors seed scenario 3: three successive closures with
// PnL -20, -20, -15 trip the breaker with reason DAILY_LOSS.
func TestDailyLossTrip(t *testing.T) {
	ctx := context.Background()
	b := NewBreaker(ctx, testConfig(), newMemStore(), nil)

	b.RecordOutcome(ctx, money.MustFromString("-20"))
	b.RecordOutcome(ctx, money.MustFromString("-20"))
	d := b.CheckAllowed(ctx)
	require.True(t, d.Allowed, "should still be allowed after -40")

	b.RecordOutcome(ctx, money.MustFromString("-15"))
	d = b.CheckAllowed(ctx)
	assert.False(t, d.Allowed)
	assert.Equal(t, "DAILY_LOSS", d.Reason)
}

func TestConsecutiveLossesTrip(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxDailyLoss = money.MustFromString("100000") // unreachable, isolate the consec-loss path
	b := NewBreaker(ctx, cfg, newMemStore(), nil)

	b.RecordOutcome(ctx, money.MustFromString("-1"))
	b.RecordOutcome(ctx, money.MustFromString("-1"))
	assert.True(t, b.CheckAllowed(ctx).Allowed)
	b.RecordOutcome(ctx, money.MustFromString("-1"))

	d := b.CheckAllowed(ctx)
	assert.False(t, d.Allowed)
	assert.Equal(t, "CONSECUTIVE_LOSSES", d.Reason)
}

func TestWinResetsConsecutiveLosses(t *testing.T) {
	ctx := context.Background()
	b := NewBreaker(ctx, testConfig(), newMemStore(), nil)

	b.RecordOutcome(ctx, money.MustFromString("-1"))
	b.RecordOutcome(ctx, money.MustFromString("-1"))
	b.RecordOutcome(ctx, money.MustFromString("5")) // win resets the streak
	b.RecordOutcome(ctx, money.MustFromString("-1"))
	b.RecordOutcome(ctx, money.MustFromString("-1"))

	assert.True(t, b.CheckAllowed(ctx).Allowed)
}

// TestTripIsMonotonic covers P6: once tripped, no sequence of
// RecordOutcome calls (even wins) can clear it before tripped_until_utc.
func TestTripIsMonotonic(t *testing.T) {
	ctx := context.Background()
	b := NewBreaker(ctx, testConfig(), newMemStore(), nil)
	b.Trip(ctx, "MANUAL", time.Hour)

	b.RecordOutcome(ctx, money.MustFromString("1000"))
	d := b.CheckAllowed(ctx)
	assert.False(t, d.Allowed)
}

// TestTripDurationIsAdditive: a new trip during cooldown must not shorten
// tripped_until_utc.
func TestTripDurationIsAdditive(t *testing.T) {
	ctx := context.Background()
	b := NewBreaker(ctx, testConfig(), newMemStore(), nil)

	b.Trip(ctx, "FIRST", 2*time.Hour)
	firstUntil := b.Snapshot().TrippedUntilUTC

	b.Trip(ctx, "SECOND", time.Minute)
	secondUntil := b.Snapshot().TrippedUntilUTC

	assert.True(t, secondUntil.Equal(firstUntil) || secondUntil.After(firstUntil))
}

func TestReset_ClearsTrippedState(t *testing.T) {
	ctx := context.Background()
	b := NewBreaker(ctx, testConfig(), newMemStore(), nil)
	b.Trip(ctx, "MANUAL", time.Hour)
	require.False(t, b.CheckAllowed(ctx).Allowed)

	b.Reset(ctx)
	assert.True(t, b.CheckAllowed(ctx).Allowed)
}

func TestPersistenceAcrossRestart(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	b1 := NewBreaker(ctx, testConfig(), store, nil)
	b1.Trip(ctx, "MANUAL", time.Hour)

	b2 := NewBreaker(ctx, testConfig(), store, nil)
	d := b2.CheckAllowed(ctx)
	assert.False(t, d.Allowed)
	assert.Equal(t, "MANUAL", d.Reason)
}

func TestCorruptStateWarmStarts(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.Store(ctx, "cb", []byte("not json"))

	b := NewBreaker(ctx, testConfig(), store, nil)
	assert.True(t, b.CheckAllowed(ctx).Allowed)
}

// TestDecimalExactness covers P5: a sequence of losses whose rationals sum
// exactly must be reflected exactly in daily_loss_accum.
func TestDecimalExactness(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxDailyLoss = money.MustFromString("1000000") // avoid tripping mid-sequence
	b := NewBreaker(ctx, cfg, newMemStore(), nil)

	b.RecordOutcome(ctx, money.MustFromString("-0.1"))
	b.RecordOutcome(ctx, money.MustFromString("-0.2"))

	snap := b.Snapshot()
	assert.Equal(t, "-0.3", snap.DailyLossAccum.String())
}
