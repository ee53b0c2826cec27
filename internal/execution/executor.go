// Package execution implements C8: submitting sized orders, opening
// positions, and driving each position through its lifecycle to CLOSED
// with at most one concurrent action per position_key.
//
// Grounded on the teacher's engine/live package (order submit/sync/merge
// shape, spreadMu-style locking idiom) and, for the position/order
// state-machine shape, the other_examples execution-executor.go reference
// file — adapted to our own OPENING/OPEN/CLOSING/CLOSED/FAILED states.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alexrivas/mirrorbot/internal/cache"
	"github.com/alexrivas/mirrorbot/internal/domain"
	"github.com/alexrivas/mirrorbot/internal/metrics"
	"github.com/alexrivas/mirrorbot/internal/money"
	"github.com/alexrivas/mirrorbot/internal/ports"
)

// Config controls executor and manager-tick behavior.
type Config struct {
	MaxRetries       int
	RetryBaseDelay   time.Duration
	ManageInterval   time.Duration
	StopLossPct      money.Money
	TakeProfitPct    money.Money
	MaxHoldDuration  time.Duration
	ProbabilityExit  money.Money // endgame-only, default 0.998

	// PositionLockTTL bounds how long a per-position lock entry may live
	// in the backstop cache before eviction, defending against the
	// documented lock-leak defect even if the explicit removal on
	// CLOSED/FAILED is ever skipped.
	PositionLockTTL time.Duration
}

// OutcomeReporter receives realized PnL on every position closure — wired
// to risk.Breaker.RecordOutcome by the orchestrator.
type OutcomeReporter interface {
	RecordOutcome(ctx context.Context, realizedPnL money.Money)
}

// Manager owns the live positions map and the per-position lock map, and
// implements risk.OpenPositionsView for the gate.
type Manager struct {
	cfg      Config
	exchange ports.ExchangeClient
	alert    ports.AlertSink
	outcomes OutcomeReporter

	mu        sync.RWMutex
	positions map[domain.PositionKey]*domain.Position

	locks *cache.Cache[domain.PositionKey, *sync.Mutex]
}

// NewManager constructs a Manager.
func NewManager(cfg Config, exchange ports.ExchangeClient, alert ports.AlertSink, outcomes OutcomeReporter) *Manager {
	return &Manager{
		cfg:       cfg,
		exchange:  exchange,
		alert:     alert,
		outcomes:  outcomes,
		positions: make(map[domain.PositionKey]*domain.Position),
		locks: cache.New[domain.PositionKey, *sync.Mutex](cache.Config[*sync.Mutex]{
			TTL:        cfg.PositionLockTTL,
			MaxEntries: 10_000,
		}),
	}
}

// CountOpen implements risk.OpenPositionsView.
func (m *Manager) CountOpen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.positions {
		if !p.State.IsTerminal() {
			n++
		}
	}
	return n
}

// HasNonTerminal implements risk.OpenPositionsView.
func (m *Manager) HasNonTerminal(key domain.PositionKey) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[key]
	return ok && !p.State.IsTerminal()
}

// EndgameQuestions implements endgame.OpenEndgamePositions: the question
// text of every currently open (non-terminal) ENDGAME position, used by
// the sweeper's correlation filter.
func (m *Manager) EndgameQuestions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, p := range m.positions {
		if p.Source == domain.SourceEndgame && !p.State.IsTerminal() {
			out = append(out, p.Question)
		}
	}
	return out
}

func (m *Manager) lockFor(key domain.PositionKey) *sync.Mutex {
	if l, ok := m.locks.Get(key); ok {
		return l
	}
	l := &sync.Mutex{}
	m.locks.Put(key, l)
	return l
}

// releaseLockIfTerminal removes the lock entry once a position reaches
// CLOSED or FAILED — the spec's P3 fix for the source's documented leak.
// The TTL-backed cache is only a backstop; this explicit removal is the
// primary mechanism.
func (m *Manager) releaseLockIfTerminal(key domain.PositionKey, state domain.PositionState) {
	if state.IsTerminal() {
		m.locks.Remove(key)
	}
}

// Submit places a single sized order and, on success, opens a Position.
func (m *Manager) Submit(ctx context.Context, order domain.SizedOrder) (domain.OrderResult, error) {
	lock := m.lockFor(order.Key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if existing, ok := m.positions[order.Key]; ok && !existing.State.IsTerminal() {
		m.mu.Unlock()
		return domain.OrderResult{}, fmt.Errorf("execution: duplicate position for %s", order.Key)
	}
	pos := &domain.Position{
		Key:          order.Key,
		Size:         order.Size,
		OpenedAtUTC:  time.Now().UTC(),
		Source:       order.Source,
		SourceLeader: order.SourceLeader,
		Question:     order.Question,
		State:        domain.Opening,
	}
	m.positions[order.Key] = pos
	m.mu.Unlock()

	mid, err := m.exchange.GetCurrentPrice(ctx, order.Key.ConditionID, order.Key.TokenID, order.Side)
	if err != nil {
		m.failPosition(ctx, order.Key)
		return domain.OrderResult{}, fmt.Errorf("execution: get current price: %w", err)
	}

	limit := mid
	one := money.FromInt(1)
	if order.Side == domain.Buy {
		limit = mid.Mul(one.Add(order.SlippageTolerance))
	} else {
		limit = mid.Mul(one.Sub(order.SlippageTolerance))
	}
	order.LimitPrice = limit

	result, err := m.placeWithRetry(ctx, order)
	if err != nil {
		metrics.IncOrderPlaced(string(order.Source), "error")
		m.failPosition(ctx, order.Key)
		return domain.OrderResult{}, fmt.Errorf("execution: place order: %w", err)
	}

	if result.Status == domain.OrderRejected {
		metrics.IncOrderPlaced(string(order.Source), string(domain.OrderRejected))
		m.failPosition(ctx, order.Key)
		return result, fmt.Errorf("execution: order rejected: %s", result.ErrorCode)
	}
	metrics.IncOrderPlaced(string(order.Source), string(result.Status))

	m.mu.Lock()
	pos.State = domain.Open
	pos.EntryPrice = result.AveragePrice
	pos.Size = result.FilledSize
	pos.ExchangeOrderID = result.ExchangeOrderID
	pos.StopPrice, pos.TakeProfitPrice = stopAndTarget(order.Side, result.AveragePrice, m.cfg.StopLossPct, m.cfg.TakeProfitPct)
	pos.MaxHoldDuration = m.cfg.MaxHoldDuration
	m.mu.Unlock()

	return result, nil
}

func (m *Manager) failPosition(ctx context.Context, key domain.PositionKey) {
	m.mu.Lock()
	if pos, ok := m.positions[key]; ok {
		pos.State = domain.Failed
	}
	m.mu.Unlock()
	m.releaseLockIfTerminal(key, domain.Failed)
	if m.alert != nil {
		m.alert.Notify(ctx, ports.SeverityWarning, "order_rejected", map[string]string{"position_key": key.String()})
	}
}

func (m *Manager) placeWithRetry(ctx context.Context, order domain.SizedOrder) (domain.OrderResult, error) {
	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		result, err := m.exchange.PlaceOrder(ctx, order)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == m.cfg.MaxRetries {
			break
		}
		select {
		case <-time.After(backoff(m.cfg.RetryBaseDelay, attempt)):
		case <-ctx.Done():
			return domain.OrderResult{}, ctx.Err()
		}
	}
	return domain.OrderResult{}, lastErr
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

func stopAndTarget(side domain.Side, entry, stopPct, tpPct money.Money) (stop, target money.Money) {
	one := money.FromInt(1)
	if side == domain.Sell {
		return entry.Mul(one.Add(stopPct)), entry.Mul(one.Sub(tpPct))
	}
	return entry.Mul(one.Sub(stopPct)), entry.Mul(one.Add(tpPct))
}

// snapshot copies the live positions map under a short lock, released
// before any I/O — the manager never iterates the live map directly.
func (m *Manager) snapshot() []*domain.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		if p.State == domain.Open {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// ManagePositions is the idempotent tick the orchestrator invokes every
// ManageInterval. It batches price lookups, one per distinct
// (condition_id, token_id, side), evaluates exits, and closes positions in parallel under their
// per-position locks.
func (m *Manager) ManagePositions(ctx context.Context) {
	open := m.snapshot()
	if len(open) == 0 {
		return
	}

	conditionIDs := make(map[string]struct{}, len(open))
	for _, p := range open {
		conditionIDs[p.Key.ConditionID] = struct{}{}
	}
	prices := m.batchFetchPrices(ctx, open, conditionIDs)

	var wg sync.WaitGroup
	for _, p := range open {
		price, ok := prices[priceKey(p.Key)]
		if !ok {
			continue
		}
		reason, shouldClose := evaluateExit(*p, price, m.cfg)
		if !shouldClose {
			continue
		}
		wg.Add(1)
		go func(p *domain.Position, reason domain.CloseReason, exitPrice money.Money) {
			defer wg.Done()
			m.closePosition(ctx, p.Key, reason, exitPrice)
		}(p, reason, price)
	}
	wg.Wait()
}

type priceLookupKey struct {
	conditionID string
	tokenID     string
	side        domain.Side
}

func priceKey(key domain.PositionKey) priceLookupKey {
	return priceLookupKey{conditionID: key.ConditionID, tokenID: key.TokenID, side: key.Side}
}

// batchFetchPrices issues one concurrent batch of current-price requests,
// deduplicated — naive per-position lookups were the hot spot this
// batching exists to avoid.
func (m *Manager) batchFetchPrices(ctx context.Context, open []*domain.Position, _ map[string]struct{}) map[priceLookupKey]money.Money {
	type result struct {
		key   priceLookupKey
		price money.Money
		err   error
	}

	seen := make(map[priceLookupKey]struct{})
	var keys []priceLookupKey
	for _, p := range open {
		k := priceKey(p.Key)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	results := make(chan result, len(keys))
	var wg sync.WaitGroup
	for _, k := range keys {
		k := k
		wg.Add(1)
		go func() {
			defer wg.Done()
			price, err := m.exchange.GetCurrentPrice(ctx, k.conditionID, k.tokenID, k.side)
			results <- result{key: k, price: price, err: err}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[priceLookupKey]money.Money, len(keys))
	for r := range results {
		if r.err != nil {
			slog.Warn("execution: price lookup failed", "condition_id", r.key.conditionID, "err", r.err)
			continue
		}
		out[r.key] = r.price
	}
	return out
}

func evaluateExit(p domain.Position, currentPrice money.Money, cfg Config) (domain.CloseReason, bool) {
	pnlPct := p.UnrealizedPnLPct(currentPrice)

	if pnlPct.LessThanOrEqual(cfg.StopLossPct.Neg()) {
		return domain.CloseStopLoss, true
	}
	if pnlPct.GreaterThanOrEqual(cfg.TakeProfitPct) {
		return domain.CloseTakeProfit, true
	}
	if cfg.MaxHoldDuration > 0 && p.Age(time.Now().UTC()) > cfg.MaxHoldDuration {
		return domain.CloseTime, true
	}
	if p.Source == domain.SourceEndgame && cfg.ProbabilityExit.IsPositive() && currentPrice.GreaterThanOrEqual(cfg.ProbabilityExit) {
		return domain.CloseProbExit, true
	}
	return "", false
}

// closePosition acquires the position's lock, re-checks state (a closure
// that raced with a concurrent state change observes non-OPEN and
// no-ops), submits the close, and reports realized PnL to the breaker.
func (m *Manager) closePosition(ctx context.Context, key domain.PositionKey, reason domain.CloseReason, exitPrice money.Money) {
	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	pos, ok := m.positions[key]
	if !ok || pos.State != domain.Open {
		m.mu.Unlock()
		return // raced with a concurrent state change — no-op
	}
	pos.State = domain.Closing
	m.mu.Unlock()

	closeSide := domain.Buy
	if pos.Key.Side == domain.Buy {
		closeSide = domain.Sell
	}
	closeOrder := domain.SizedOrder{
		Key:        key,
		Side:       closeSide,
		Size:       pos.Size,
		LimitPrice: exitPrice,
		Source:     pos.Source,
	}
	result, err := m.placeWithRetry(ctx, closeOrder)
	if err != nil {
		slog.Error("execution: close order failed", "position_key", key.String(), "err", err)
		m.mu.Lock()
		if pos, ok := m.positions[key]; ok && pos.State == domain.Closing {
			pos.State = domain.Open
		}
		m.mu.Unlock()
		return
	}

	realizedPnL := realizedPnL(*pos, result.AveragePrice)

	m.mu.Lock()
	pos.State = domain.Closed
	pos.ClosedReason = reason
	pos.ClosedAtUTC = time.Now().UTC()
	pos.RealizedPnL = realizedPnL
	delete(m.positions, key)
	m.mu.Unlock()

	m.releaseLockIfTerminal(key, domain.Closed)
	metrics.IncPositionClosed(string(reason))

	if m.outcomes != nil {
		m.outcomes.RecordOutcome(ctx, realizedPnL)
	}
	if m.alert != nil {
		m.alert.Notify(ctx, ports.SeverityInfo, "position_closed", map[string]string{
			"position_key": key.String(),
			"reason":       string(reason),
			"pnl":          realizedPnL.String(),
		})
	}
}

func realizedPnL(p domain.Position, exitPrice money.Money) money.Money {
	diff := exitPrice.Sub(p.EntryPrice)
	if p.Key.Side == domain.Sell {
		diff = diff.Neg()
	}
	return diff.Mul(p.Size)
}
