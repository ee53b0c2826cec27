// Package risk implements the circuit breaker (C5) and the risk gate (C7).
// Both are grounded on the teacher's internal/domain.CircuitBreaker
// (consecutive-loss counting, cooldown) and the gateCheck ordered-check
// pipeline in the teacher's engine/live/placement.go, generalized and, for
// the breaker, given durable persistence it did not have in the teacher.
package risk

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alexrivas/mirrorbot/internal/domain"
	"github.com/alexrivas/mirrorbot/internal/metrics"
	"github.com/alexrivas/mirrorbot/internal/money"
	"github.com/alexrivas/mirrorbot/internal/ports"
)

// BreakerConfig configures the circuit breaker's thresholds.
type BreakerConfig struct {
	MaxDailyLoss         money.Money
	MaxConsecutiveLosses int
	CooldownDuration     time.Duration
}

// Allowed/Blocked are the two outcomes of CheckAllowed.
type Decision struct {
	Allowed bool
	Reason  string
	Until   time.Time
}

// Breaker is the single-point authority on whether a new trading action is
// permitted. Every access is serialized under mu, matching the spec's
// "circuit-breaker accesses strictly serialized on its state lock."
type Breaker struct {
	mu    sync.Mutex
	cfg   BreakerConfig
	state domain.CircuitBreakerState
	store ports.StateStore
	alert ports.AlertSink
}

// persistedState is the JSON wire shape written to the StateStore.
type persistedState struct {
	DailyLossAccum    string    `json:"daily_loss_accum"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	LastResetUTC      time.Time `json:"last_reset_utc"`
	Tripped           bool      `json:"tripped"`
	TripReason        string    `json:"trip_reason"`
	TrippedUntilUTC   time.Time `json:"tripped_until_utc"`
}

// NewBreaker constructs a Breaker and attempts to warm its state from
// store. A missing or corrupt state file yields a warm (untripped, zero)
// state — never an error.
func NewBreaker(ctx context.Context, cfg BreakerConfig, store ports.StateStore, alert ports.AlertSink) *Breaker {
	b := &Breaker{
		cfg:   cfg,
		store: store,
		alert: alert,
		state: domain.CircuitBreakerState{LastResetUTC: time.Now().UTC()},
	}
	b.warmStart(ctx)
	return b
}

func (b *Breaker) warmStart(ctx context.Context) {
	data, ok, err := b.store.Load(ctx, ports.StateKeyCircuitBreaker)
	if err != nil || !ok {
		return
	}
	var p persistedState
	if err := json.Unmarshal(data, &p); err != nil {
		slog.Warn("circuit breaker state corrupt, starting warm", "err", err)
		if b.alert != nil {
			b.alert.Notify(ctx, ports.SeverityHigh, "state_corruption", map[string]string{"component": "circuit_breaker"})
		}
		return
	}
	accum, err := money.FromString(p.DailyLossAccum)
	if err != nil {
		slog.Warn("circuit breaker state corrupt (bad decimal), starting warm", "err", err)
		return
	}
	b.state = domain.CircuitBreakerState{
		DailyLossAccum:    accum,
		ConsecutiveLosses: p.ConsecutiveLosses,
		LastResetUTC:      p.LastResetUTC,
		Tripped:           p.Tripped,
		TripReason:        p.TripReason,
		TrippedUntilUTC:   p.TrippedUntilUTC,
	}
}

func (b *Breaker) persist(ctx context.Context) {
	p := persistedState{
		DailyLossAccum:    b.state.DailyLossAccum.String(),
		ConsecutiveLosses: b.state.ConsecutiveLosses,
		LastResetUTC:      b.state.LastResetUTC,
		Tripped:           b.state.Tripped,
		TripReason:        b.state.TripReason,
		TrippedUntilUTC:   b.state.TrippedUntilUTC,
	}
	data, err := json.Marshal(p)
	if err != nil {
		slog.Error("circuit breaker: marshal state", "err", err)
		return
	}
	if err := b.store.Store(ctx, ports.StateKeyCircuitBreaker, data); err != nil {
		slog.Error("circuit breaker: persist state", "err", err)
	}
}

// lazyResetLocked resets daily accumulators if now's UTC date is past
// last_reset's UTC date. Must be called with mu held.
func (b *Breaker) lazyResetLocked(now time.Time) {
	now = now.UTC()
	if now.Year() == b.state.LastResetUTC.Year() && now.YearDay() == b.state.LastResetUTC.YearDay() {
		return
	}
	b.state.DailyLossAccum = money.Zero
	b.state.ConsecutiveLosses = 0
	b.state.LastResetUTC = now
}

// CheckAllowed reports whether new trading actions are currently
// permitted. Synchronous under the state lock.
func (b *Breaker) CheckAllowed(ctx context.Context) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	b.lazyResetLocked(now)

	if b.state.Tripped {
		if now.Before(b.state.TrippedUntilUTC) {
			return Decision{Allowed: false, Reason: b.state.TripReason, Until: b.state.TrippedUntilUTC}
		}
		// Cooldown elapsed: clear the trip. Monotonicity (P6) is about
		// record_outcome never clearing it early — an expired cooldown is
		// the one sanctioned way out.
		b.state.Tripped = false
		b.state.TripReason = ""
		b.persist(ctx)
	}
	return Decision{Allowed: true}
}

// RecordOutcome updates the daily accumulators from a position closure's
// realized PnL and auto-trips the breaker if a threshold is crossed.
func (b *Breaker) RecordOutcome(ctx context.Context, realizedPnL money.Money) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	b.lazyResetLocked(now)

	if realizedPnL.IsNegative() {
		b.state.DailyLossAccum = b.state.DailyLossAccum.Add(realizedPnL)
		b.state.ConsecutiveLosses++
	} else if realizedPnL.IsPositive() {
		b.state.ConsecutiveLosses = 0
	}

	lossExceeded := b.state.DailyLossAccum.Abs().GreaterThanOrEqual(b.cfg.MaxDailyLoss)
	consecExceeded := b.cfg.MaxConsecutiveLosses > 0 && b.state.ConsecutiveLosses >= b.cfg.MaxConsecutiveLosses

	if lossExceeded {
		b.tripLocked(ctx, "DAILY_LOSS", b.cfg.CooldownDuration)
	} else if consecExceeded {
		b.tripLocked(ctx, "CONSECUTIVE_LOSSES", b.cfg.CooldownDuration)
	} else {
		b.persist(ctx)
	}
}

// Trip manually (or automatically, via RecordOutcome) trips the breaker.
// tripped_until_utc is additive: a trip during an active cooldown extends
// it rather than shortening it.
func (b *Breaker) Trip(ctx context.Context, reason string, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tripLocked(ctx, reason, duration)
}

func (b *Breaker) tripLocked(ctx context.Context, reason string, duration time.Duration) {
	now := time.Now().UTC()
	newUntil := now.Add(duration)
	if b.state.Tripped && b.state.TrippedUntilUTC.After(newUntil) {
		newUntil = b.state.TrippedUntilUTC
	}
	b.state.Tripped = true
	b.state.TripReason = reason
	b.state.TrippedUntilUTC = newUntil
	b.persist(ctx)
	metrics.IncCircuitBreakerTrip(reason)
	if b.alert != nil {
		b.alert.Notify(ctx, ports.SeverityHigh, "circuit_breaker_tripped", map[string]string{
			"reason": reason,
			"until":  newUntil.Format(time.RFC3339),
		})
	}
	slog.Warn("circuit breaker tripped", "reason", reason, "until", newUntil)
}

// Reset is an operator action clearing the tripped state and accumulators.
// It always logs an audit event.
func (b *Breaker) Reset(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = domain.CircuitBreakerState{LastResetUTC: time.Now().UTC()}
	b.persist(ctx)
	slog.Info("circuit breaker reset by operator")
}

// Snapshot returns a copy of the current state for diagnostics/console
// display. Never returns a reference callers could mutate.
func (b *Breaker) Snapshot() domain.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
