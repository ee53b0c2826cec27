package domain

import (
	"time"

	"github.com/alexrivas/mirrorbot/internal/money"
)

// CircuitBreakerState is the process-wide, durably persisted kill-switch
// state. Exactly one instance exists, owned by the orchestrator (C10) and
// mutated only through internal/risk.Breaker.
type CircuitBreakerState struct {
	DailyLossAccum    money.Money // negative-only accumulator, reset at UTC midnight
	ConsecutiveLosses int
	LastResetUTC      time.Time

	Tripped         bool
	TripReason      string
	TrippedUntilUTC time.Time
}
