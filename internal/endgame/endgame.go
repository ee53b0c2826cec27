// Package endgame implements C9: an independent scanner that opens
// positions in binary markets nearing resolution with a favorable
// annualized return, on its own cadence, feeding the same C7 -> C5 -> C8
// pipeline as copy trades.
//
// Grounded on the teacher's internal/domain/arbitrage.go EV/category
// scoring shape (ComputeCombinedScore, Categorize) generalized from
// reward-farming EV to annualized-return EV, and internal/scanner's
// ticker loop for cadence.
package endgame

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/alexrivas/mirrorbot/internal/money"
	"github.com/alexrivas/mirrorbot/internal/ports"
)

// Config controls scan cadence and the EV/correlation filters.
type Config struct {
	Enabled               bool
	ScanInterval          time.Duration
	MaxDays               float64
	MinLiquidityUSD       money.Money
	MinProbability        money.Money
	MinAnnualizedReturn   money.Money
	MaxPositionFraction   money.Money
	ProbabilityExit       money.Money
	BlacklistKeywords     []string
	MinOverlapTokens      int
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		ScanInterval:        300 * time.Second,
		MaxDays:             7,
		MinLiquidityUSD:     money.FromInt(10_000),
		MinProbability:      money.MustFromString("0.95"),
		MinAnnualizedReturn: money.MustFromString("0.20"),
		MaxPositionFraction: money.MustFromString("0.03"),
		ProbabilityExit:     money.MustFromString("0.998"),
		MinOverlapTokens:    1,
	}
}

// OpenEndgamePositions is the narrow view the correlation filter needs —
// satisfied by execution.Manager.
type OpenEndgamePositions interface {
	// EndgameQuestions returns the market question text for every currently
	// open (non-terminal) ENDGAME position.
	EndgameQuestions() []string
}

// Candidate is a market that survived the EV filter, paired with the
// token set extracted from its question for the correlation check.
type Candidate struct {
	Market            ports.MarketSummary
	DaysToResolution  float64
	Probability       money.Money
	Edge              money.Money
	AnnualizedReturn  money.Money
	Tokens            map[string]struct{}
}

// Sweeper runs the endgame scan/filter/submit cycle.
type Sweeper struct {
	cfg      Config
	exchange ports.ExchangeClient
	submit   func(ctx context.Context, c Candidate) error
	open     OpenEndgamePositions

	blacklist map[string]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Sweeper. submit is the caller's C7->C5->C8 pipeline
// entry point: given a surviving Candidate it is expected to resolve the
// outcome token, evaluate the risk gate and circuit breaker with
// cfg.MaxPositionFraction in place of the copy path's sizing fraction,
// and place the order — exactly as the copy-trade path does.
func New(cfg Config, exchange ports.ExchangeClient, open OpenEndgamePositions, submit func(context.Context, Candidate) error) *Sweeper {
	bl := make(map[string]struct{}, len(cfg.BlacklistKeywords))
	for _, kw := range cfg.BlacklistKeywords {
		bl[strings.ToLower(kw)] = struct{}{}
	}
	return &Sweeper{cfg: cfg, exchange: exchange, submit: submit, open: open, blacklist: bl}
}

// Start begins the scan loop on its own cadence. Idempotent.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.cfg.Enabled || s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.run(runCtx)
	}()
}

// Stop halts the scan loop and waits for the in-flight cycle to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	s.scanOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

func (s *Sweeper) scanOnce(ctx context.Context) {
	markets, err := s.exchange.GetMarkets(ctx)
	if err != nil {
		slog.Warn("endgame: fetch markets failed", "err", err)
		return
	}

	candidates := s.filterEV(markets)
	candidates = s.filterCorrelation(candidates)

	for _, c := range candidates {
		if err := s.submit(ctx, c); err != nil {
			slog.Debug("endgame: candidate not submitted", "condition_id", c.Market.ConditionID, "err", err)
		}
	}
}

// filterEV applies the keyword blacklist and the days/liquidity/
// probability/annualized-return thresholds from spec §4.4.
func (s *Sweeper) filterEV(markets []ports.MarketSummary) []Candidate {
	out := make([]Candidate, 0, len(markets))
	now := time.Now().UTC()

	for _, m := range markets {
		if s.isBlacklisted(m.Question) {
			continue
		}

		days := m.ResolvesAt.Sub(now).Hours() / 24
		if days <= 0 || days > s.cfg.MaxDays {
			continue
		}
		if m.LiquidityUSD.LessThan(s.cfg.MinLiquidityUSD) {
			continue
		}
		if m.Probability.LessThan(s.cfg.MinProbability) {
			continue
		}

		edge := money.FromInt(1).Sub(m.Probability)
		annualizedReturn := annualizedReturn(edge, days)
		if annualizedReturn.LessThan(s.cfg.MinAnnualizedReturn) {
			continue
		}

		out = append(out, Candidate{
			Market:           m,
			DaysToResolution: days,
			Probability:      m.Probability,
			Edge:             edge,
			AnnualizedReturn: annualizedReturn,
			Tokens:           tokenize(m.Question),
		})
	}
	return out
}

// annualizedReturn computes ((1+edge)^(365/days) - 1). Money has no
// exponentiation; this single formula is the one place endgame drops to
// float64, matching the teacher's own use of math.Pow for scoring-only
// (non-money) arithmetic in arbitrage.go.
func annualizedReturn(edge money.Money, days float64) money.Money {
	e := edge.Float64()
	r := math.Pow(1+e, 365/days) - 1
	return money.MustFromString(strconv.FormatFloat(r, 'f', -1, 64))
}

func (s *Sweeper) isBlacklisted(question string) bool {
	lower := strings.ToLower(question)
	for kw := range s.blacklist {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// filterCorrelation drops candidates whose question token set overlaps
// with any currently open ENDGAME position's question by at least
// MinOverlapTokens words — the spec's guard against opening two
// positions on the same underlying event phrased differently.
func (s *Sweeper) filterCorrelation(candidates []Candidate) []Candidate {
	if s.open == nil {
		return candidates
	}
	openTokenSets := make([]map[string]struct{}, 0)
	for _, q := range s.open.EndgameQuestions() {
		openTokenSets = append(openTokenSets, tokenize(q))
	}

	out := candidates[:0]
	for _, c := range candidates {
		correlated := false
		for _, openTokens := range openTokenSets {
			if overlapCount(c.Tokens, openTokens) >= s.cfg.MinOverlapTokens {
				correlated = true
				break
			}
		}
		if !correlated {
			out = append(out, c)
		}
	}
	return out
}

// tokenize splits a market question into a lowercase word set, stripping
// short stopword-ish tokens so overlap counts reflect meaningful terms.
func tokenize(question string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) <= 2 {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

func overlapCount(a, b map[string]struct{}) int {
	n := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			n++
		}
	}
	return n
}
