package ports

import "context"

// StateStore persists the circuit-breaker state and leader cursors. Store
// must be atomic (write new state, fsync, rename) so a crash mid-write
// never leaves a torn file. On corruption, Load returns (nil, false, nil)
// — callers warm-start rather than treat it as an error.
type StateStore interface {
	Load(ctx context.Context, key string) (data []byte, ok bool, err error)
	Store(ctx context.Context, key string, data []byte) error
}

// Well-known StateStore keys, per the persisted state layout convention.
const (
	StateKeyCircuitBreaker = "cb"
	leaderKeyPrefix        = "leader/"
)

// LeaderStateKey returns the StateStore key for a given leader address.
func LeaderStateKey(leaderAddress string) string {
	return leaderKeyPrefix + leaderAddress
}
