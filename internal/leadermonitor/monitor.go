// Package leadermonitor implements C6: concurrent per-wallet polling of an
// EVM transaction stream, response caching, rate-limited transport,
// dedup, and call-data decoding into normalized domain.Trade events.
//
// Grounded on the teacher's rate-limited/retrying HTTP client shape
// (adapters/polymarket/client.go) for transport discipline and
// internal/scanner/scanner.go's ticker/cursor polling loop for cadence;
// the wallet-follow concept itself is new (the teacher scans markets, not
// wallets).
package leadermonitor

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alexrivas/mirrorbot/internal/cache"
	"github.com/alexrivas/mirrorbot/internal/domain"
	"github.com/alexrivas/mirrorbot/internal/ports"
	"github.com/alexrivas/mirrorbot/internal/ratelimit"
	"github.com/alexrivas/mirrorbot/internal/validate"
)

// MaxBlockSpan bounds how many blocks a single poll may cover.
const MaxBlockSpan = 100

// Config controls leader-monitor cadence and limits.
type Config struct {
	Leaders               []string
	ExchangeAllowlist     map[string]bool // contract address -> allowed
	PollInterval          time.Duration
	Fanout                int // bounded-concurrency fan-out, default <= 10
	RateLimitRPS          float64
	RateLimitBurst        int
	ResponseCacheTTL      time.Duration
	DedupTTL              time.Duration
	DedupMaxEntries       int
}

type leaderState struct {
	mu      sync.Mutex
	cursor  domain.LeaderCursor
	healthy bool
}

// Monitor polls every configured leader wallet and emits normalized
// Trades on its output channel.
type Monitor struct {
	cfg     Config
	source  ports.LeaderTxSource
	store   ports.StateStore
	decoder Decoder

	limiter *ratelimit.Limiter
	respCache *cache.Cache[string, []ports.Tx]
	dedup     map[string]*cache.Cache[string, struct{}] // leader -> dedup set

	states map[string]*leaderState

	out chan domain.Trade

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Monitor. Each leader gets its own dedup cache instance
// so one leader's churn can't evict another's entries.
func New(cfg Config, source ports.LeaderTxSource, store ports.StateStore, decoder Decoder) *Monitor {
	if cfg.Fanout <= 0 {
		cfg.Fanout = 10
	}
	m := &Monitor{
		cfg:     cfg,
		source:  source,
		store:   store,
		decoder: decoder,
		limiter: ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst),
		respCache: cache.New[string, []ports.Tx](cache.Config[[]ports.Tx]{
			TTL:        cfg.ResponseCacheTTL,
			MaxEntries: 1000,
		}),
		dedup:  make(map[string]*cache.Cache[string, struct{}]),
		states: make(map[string]*leaderState),
		out:    make(chan domain.Trade, 256),
	}
	for _, leader := range cfg.Leaders {
		m.states[leader] = &leaderState{healthy: true}
		m.dedup[leader] = cache.New[string, struct{}](cache.Config[struct{}]{
			TTL:        cfg.DedupTTL,
			MaxEntries: cfg.DedupMaxEntries,
		})
	}
	return m
}

// Subscribe returns the unicast stream of normalized trades.
func (m *Monitor) Subscribe() <-chan domain.Trade {
	return m.out
}

// CacheStats reports the response cache's current Stats, for the
// orchestrator's periodic maintenance/metrics pass.
func (m *Monitor) CacheStats() cache.Stats {
	return m.respCache.Stats()
}

// Start begins background polling. Idempotent: a second call while already
// running is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(runCtx)
	}()
}

// Stop halts polling and waits for in-flight work to flush.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.respCache.Close()
	for _, d := range m.dedup {
		d.Close()
	}
}

func (m *Monitor) run(ctx context.Context) {
	m.loadCursors(ctx)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.pollAll(ctx) // run once immediately, then on cadence
	for {
		select {
		case <-ctx.Done():
			close(m.out)
			return
		case <-ticker.C:
			m.pollAll(ctx)
		}
	}
}

func (m *Monitor) loadCursors(ctx context.Context) {
	for _, leader := range m.cfg.Leaders {
		data, ok, err := m.store.Load(ctx, ports.LeaderStateKey(leader))
		if err != nil || !ok {
			continue
		}
		cursor, err := decodeCursor(leader, data)
		if err != nil {
			slog.Warn("leader cursor state corrupt, starting warm", "leader", validate.MaskAddress(leader), "err", err)
			continue
		}
		m.states[leader].cursor = cursor
	}
}

// pollAll fans leaders out with bounded concurrency. One leader's failure
// never blocks another's cycle.
func (m *Monitor) pollAll(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Fanout)

	for _, leader := range m.cfg.Leaders {
		leader := leader
		g.Go(func() error {
			m.pollOne(gctx, leader)
			return nil // errors are handled/logged inside pollOne; never abort siblings
		})
	}
	_ = g.Wait()
}

func (m *Monitor) pollOne(ctx context.Context, leader string) {
	st := m.states[leader]
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := m.limiter.Wait(ctx); err != nil {
		return
	}
	head, err := m.source.GetChainHead(ctx)
	if err != nil {
		slog.Warn("leader monitor: get chain head failed", "leader", validate.MaskAddress(leader), "err", err)
		st.healthy = false
		return
	}

	from := st.cursor.LastProcessedBlock + 1
	to := min64(head, st.cursor.LastProcessedBlock+MaxBlockSpan)
	if st.cursor.LastProcessedBlock >= head {
		st.healthy = true
		return // nothing new
	}

	txs, err := m.fetchWithCache(ctx, leader, from, to)
	if err != nil {
		slog.Warn("leader monitor: fetch transactions failed", "leader", validate.MaskAddress(leader), "err", err)
		st.healthy = false
		return // do not advance cursor on failure
	}

	dedupSet := m.dedup[leader]
	for _, tx := range txs {
		if _, seen := dedupSet.Get(tx.Hash); seen {
			continue
		}
		dedupSet.Put(tx.Hash, struct{}{}) // mark before parse

		if !m.cfg.ExchangeAllowlist[tx.To] {
			continue
		}
		call, err := m.decoder.Decode(tx.Input)
		if err != nil {
			continue // discard with reason, never halt the leader
		}

		trade := domain.Trade{
			TxHash:        tx.Hash,
			BlockNumber:   tx.BlockNumber,
			TimestampUTC:  time.Unix(tx.Timestamp, 0).UTC(),
			LeaderAddress: leader,
			ConditionID:   call.conditionID,
			TokenID:       call.tokenID,
			Side:          call.side,
			Price:         call.price,
			Amount:        call.amount,
		}
		select {
		case m.out <- trade:
		case <-ctx.Done():
			return
		}
	}

	st.cursor.LastProcessedBlock = to
	st.healthy = true
	m.persistCursor(ctx, leader, st.cursor)
}

func (m *Monitor) fetchWithCache(ctx context.Context, leader string, from, to uint64) ([]ports.Tx, error) {
	key := cacheKey(leader, from, to)
	if cached, ok := m.respCache.Get(key); ok {
		return cached, nil
	}
	txs, err := m.source.GetTransactions(ctx, leader, from, to)
	if err != nil {
		return nil, err
	}
	m.respCache.Put(key, txs)
	return txs, nil
}

func (m *Monitor) persistCursor(ctx context.Context, leader string, cursor domain.LeaderCursor) {
	data := encodeCursor(cursor)
	if err := m.store.Store(ctx, ports.LeaderStateKey(leader), data); err != nil {
		slog.Error("leader monitor: persist cursor failed", "leader", validate.MaskAddress(leader), "err", err)
	}
}

func cacheKey(leader string, from, to uint64) string {
	return leader + ":" + strconv.FormatUint(from, 10) + ":" + strconv.FormatUint(to, 10)
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
